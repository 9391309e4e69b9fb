package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env         string `env:"ENV" env-default:"local"`
	DatabaseURL string `env:"DATABASE_URL" env-required:"true"`
	HTTP        HTTPConfig
	LLM         LLMConfig
	Embedding   EmbeddingConfig
	Vision      VisionConfig
	Geocoding   GeocodingConfig
	Grounding   GroundingConfig
	Search      SearchConfig
	Indexing    IndexingConfig
}

type HTTPConfig struct {
	Port    int           `env:"HTTP_PORT" env-default:"8080"`
	Timeout time.Duration `env:"HTTP_TIMEOUT" env-default:"120s"`
}

// LLMConfig — конфигурация для LLM API (OpenAI-совместимый эндпоинт).
// Три уровня моделей: основная для извлечения, поисковая для разбора
// запросов, лёгкая для квантификаторов и проверок совместимости.
type LLMConfig struct {
	Enabled     bool          `env:"LLM_ENABLE" env-default:"true"`
	BaseURL     string        `env:"LLM_BASE_URL" env-default:"https://generativelanguage.googleapis.com/v1beta/openai"`
	APIKey      string        `env:"GOOGLE_API_KEY"`
	Model       string        `env:"GEMINI_MODEL" env-default:"gemini-2.5-pro"`
	SearchModel string        `env:"GEMINI_SEARCH_MODEL" env-default:"gemini-2.5-flash"`
	FlashModel  string        `env:"GEMINI_FLASH_MODEL" env-default:"gemini-2.5-flash-lite"`
	Timeout     time.Duration `env:"LLM_TIMEOUT" env-default:"120s"`
}

// EmbeddingConfig — конфигурация сервиса эмбеддингов.
type EmbeddingConfig struct {
	Enabled    bool          `env:"EMBEDDING_ENABLE" env-default:"true"`
	BaseURL    string        `env:"EMBEDDING_BASE_URL" env-default:"https://generativelanguage.googleapis.com/v1beta/openai"`
	APIKey     string        `env:"GOOGLE_API_KEY"`
	Model      string        `env:"EMBEDDING_MODEL" env-default:"gemini-embedding-001"`
	Dimensions int           `env:"EMBEDDING_DIMENSIONS" env-default:"3072"`
	Timeout    time.Duration `env:"EMBEDDING_TIMEOUT" env-default:"60s"`
}

// VisionConfig — конфигурация анализа фотографий.
type VisionConfig struct {
	Enabled bool          `env:"VISION_ENABLE" env-default:"true"`
	// MaxRPM — скользящее окно запросов к мультимодальной модели
	MaxRPM  int           `env:"VISION_MAX_RPM" env-default:"150"`
	Window  time.Duration `env:"VISION_RATE_WINDOW" env-default:"60s"`
	Timeout time.Duration `env:"VISION_TIMEOUT" env-default:"90s"`
}

// GeocodingConfig — конфигурация геокодера.
type GeocodingConfig struct {
	Enabled  bool          `env:"GEOCODING_ENABLE" env-default:"true"`
	BaseURL  string        `env:"GEOCODING_BASE_URL" env-default:"https://maps.googleapis.com/maps/api/geocode/json"`
	APIKey   string        `env:"GOOGLE_MAPS_API_KEY"`
	CacheTTL time.Duration `env:"GEOCODING_CACHE_TTL" env-default:"2160h"`
	Timeout  time.Duration `env:"GEOCODING_TIMEOUT" env-default:"15s"`
}

// GroundingConfig — конфигурация геопространственной верификации утверждений.
type GroundingConfig struct {
	Enabled             bool   `env:"ENABLE_GROUNDING" env-default:"true"`
	Model               string `env:"GROUNDING_MODEL" env-default:"gemini-2.0-flash-exp"`
	CacheTTLDays        int    `env:"GROUNDING_CACHE_TTL_DAYS" env-default:"30"`
	MaxPerListing       int    `env:"MAX_GROUNDINGS_PER_LISTING" env-default:"3"`
	TransportTTLDays    int    `env:"GROUNDING_TRANSPORT_TTL_DAYS" env-default:"90"`
	NeighborhoodTTLDays int    `env:"GROUNDING_NEIGHBORHOOD_TTL_DAYS" env-default:"14"`
}

// SearchConfig — пороги поиска и ранжирования.
type SearchConfig struct {
	// DedupThreshold — косинусная близость, начиная с которой два
	// утверждения считаются дубликатами при индексации
	DedupThreshold float64 `env:"SEARCH_DEDUP_THRESHOLD" env-default:"0.98"`
	// AntiThreshold — близость анти-утверждения, при которой кандидат отсекается
	AntiThreshold float64 `env:"SEARCH_ANTI_THRESHOLD" env-default:"0.90"`
	// MinScore — минимальный итоговый балл результата
	MinScore float64 `env:"SEARCH_MIN_SCORE" env-default:"0.05"`
	// DefaultTopK — размер выдачи по умолчанию
	DefaultTopK int `env:"SEARCH_DEFAULT_TOP_K" env-default:"10"`
	// ValidationBatchSize — размер батча для LLM-проверки совместимости
	ValidationBatchSize int `env:"SEARCH_VALIDATION_BATCH_SIZE" env-default:"50"`
}

// IndexingConfig — параметры конвейера индексации.
type IndexingConfig struct {
	// ChunkTrigger — длина документа, начиная с которой включается чанкование
	ChunkTrigger int `env:"INDEX_CHUNK_TRIGGER" env-default:"1000"`
	MaxChunkSize int `env:"INDEX_MAX_CHUNK_SIZE" env-default:"800"`
	ChunkOverlap int `env:"INDEX_CHUNK_OVERLAP" env-default:"50"`
	// QuantifierConcurrency — ограничение параллельных LLM-вызовов
	QuantifierConcurrency int `env:"INDEX_QUANTIFIER_CONCURRENCY" env-default:"30"`
	ExpansionConcurrency  int `env:"INDEX_EXPANSION_CONCURRENCY" env-default:"50"`
}

func MustLoad() *Config {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		panic("cannot read config from environment: " + err.Error())
	}
	return &cfg
}

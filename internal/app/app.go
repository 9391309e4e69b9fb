package app

import (
	"context"
	"fmt"
	"net/http"

	"claim_search/internal/config"
	"claim_search/internal/httpapi"
	"claim_search/internal/indexer"
	"claim_search/internal/lib/embeddings"
	"claim_search/internal/lib/geocoding"
	groundinglib "claim_search/internal/lib/grounding"
	"claim_search/internal/lib/llm"
	"claim_search/internal/lib/metrics"
	"claim_search/internal/lib/vision"
	"claim_search/internal/repository/claim_repository"
	"claim_search/internal/search"
	"claim_search/internal/services/chunker"
	"claim_search/internal/services/dedup"
	"claim_search/internal/services/enrichment"
	"claim_search/internal/services/expansion"
	groundingsvc "claim_search/internal/services/grounding"
	"claim_search/internal/services/quantifiers"

	"github.com/jackc/pgx/v5/pgxpool"

	"log/slog"
)

type App struct {
	HTTPServer *http.Server

	// AI-клиенты (экспортированы для внешнего доступа)
	LLMClient       llm.Client
	EmbeddingClient embeddings.Client
	VisionClient    vision.Client
	AIMetrics       *metrics.AIMetrics

	log *slog.Logger
}

func New(log *slog.Logger, pool *pgxpool.Pool, cfg *config.Config) *App {
	claimRepository := claim_repository.NewClaimRepository(pool, log)

	// Создаём AI-клиенты
	llmClient := llm.NewClient(cfg.LLM, log)
	embeddingClient := embeddings.NewClient(cfg.Embedding, log)
	visionClient := vision.NewClient(cfg.Vision, cfg.LLM, log)
	geocodingClient := geocoding.NewClient(cfg.Geocoding, log)
	groundingClient := groundinglib.NewClient(cfg.Grounding, cfg.LLM, log)

	// Создаём AI-метрики
	aiMetrics := metrics.GetAIMetrics(log)

	// Логируем статус AI-сервисов
	log.Info("AI services initialized",
		slog.Bool("llm_enabled", llmClient.IsEnabled()),
		slog.Bool("embedding_enabled", embeddingClient.IsEnabled()),
		slog.Bool("vision_enabled", visionClient.IsEnabled()),
		slog.Bool("geocoding_enabled", geocodingClient.IsEnabled()),
		slog.Bool("grounding_enabled", groundingClient.IsEnabled()),
	)

	// Сервисы конвейера индексации
	textChunker := chunker.New(cfg.Indexing.ChunkTrigger, cfg.Indexing.MaxChunkSize, cfg.Indexing.ChunkOverlap)
	dedupService := dedup.New(log, embeddingClient, cfg.Search.DedupThreshold)
	expansionService := expansion.New(log, llmClient, cfg.Indexing.ExpansionConcurrency)
	quantifierService := quantifiers.New(log, llmClient, cfg.Indexing.QuantifierConcurrency)
	groundingService := groundingsvc.New(log, groundingClient, cfg.Grounding)
	enrichmentService := enrichment.New(log, llmClient, groundingClient, claimRepository)

	indexerPipeline := indexer.New(
		log,
		llmClient,
		embeddingClient,
		visionClient,
		geocodingClient,
		textChunker,
		dedupService,
		expansionService,
		quantifierService,
		groundingService,
		enrichmentService,
		claimRepository,
	)

	searchPipeline := search.New(
		log,
		llmClient,
		embeddingClient,
		quantifierService,
		claimRepository,
		cfg.Search,
	)

	handlers := httpapi.NewHandlers(log, claimRepository, indexerPipeline, searchPipeline, cfg.Embedding.Dimensions)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      httpapi.NewRouter(handlers),
		ReadTimeout:  cfg.HTTP.Timeout,
		WriteTimeout: cfg.HTTP.Timeout,
	}

	return &App{
		HTTPServer:      httpServer,
		LLMClient:       llmClient,
		EmbeddingClient: embeddingClient,
		VisionClient:    visionClient,
		AIMetrics:       aiMetrics,
		log:             log,
	}
}

// Run запускает HTTP-сервер и блокируется до его остановки.
func (a *App) Run() error {
	const op = "app.App.Run"

	a.log.Info("http server started", slog.String("addr", a.HTTPServer.Addr))

	if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Stop останавливает HTTP-сервер, дожидаясь активных запросов.
func (a *App) Stop(ctx context.Context) error {
	const op = "app.App.Stop"

	a.log.Info("stopping http server")

	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"claim_search/internal/config"
	"claim_search/internal/domain"
	"log/slog"
)

// Client — клиент для взаимодействия с LLM API (OpenAI-совместимый эндпоинт).
// Используются три модели: основная для извлечения и расширения утверждений,
// поисковая для разбора запросов, лёгкая для квантификаторов и проверок.
type Client interface {
	// ExtractClaims извлекает типизированные утверждения из текста листинга.
	ExtractClaims(ctx context.Context, text string) ([]domain.Claim, error)
	// ParseSearchQuery разбирает поисковый запрос на утверждения.
	ParseSearchQuery(ctx context.Context, query string) ([]domain.Claim, error)
	// ExtractStructuredProperty извлекает структурированные поля листинга.
	ExtractStructuredProperty(ctx context.Context, text string) (*StructuredProperty, error)
	// ExtractStructuredFilters извлекает жёсткие фильтры из запроса.
	ExtractStructuredFilters(ctx context.Context, query string) (*domain.StructuredFilters, error)
	// ExpandClaim генерирует производные и анти-формулировки утверждения.
	ExpandClaim(ctx context.Context, claim domain.Claim, includeAnti bool) (*Expansion, error)
	// ExtractQuantifiers извлекает числовые ограничения из утверждения.
	ExtractQuantifiers(ctx context.Context, claimText string) ([]domain.Quantifier, error)
	// ValidateCompatibility проверяет совместимость пар утверждений.
	ValidateCompatibility(ctx context.Context, pairs []ClaimPair) ([]CompatibilityResult, error)
	// GenerateEnrichment генерирует заголовок и сводку листинга.
	GenerateEnrichment(ctx context.Context, req EnrichmentRequest) (*EnrichmentResult, error)
	// IsEnabled проверяет, включен ли сервис.
	IsEnabled() bool
}

// StructuredProperty — структурированные поля, извлечённые из листинга.
type StructuredProperty struct {
	RentPrice         *float64 `json:"rent_price,omitempty"`
	AvailabilityFrom  string   `json:"availability_from,omitempty"`
	AvailabilityTo    string   `json:"availability_to,omitempty"`
	Bedrooms          *int     `json:"bedrooms,omitempty"`
	Bathrooms         *int     `json:"bathrooms,omitempty"`
	SquareFeet        *float64 `json:"square_feet,omitempty"`
}

// Expansion — результат расширения одного утверждения.
type Expansion struct {
	Derived []string `json:"derived"`
	Anti    []string `json:"anti,omitempty"`
}

// ClaimPair — пара "поисковое утверждение — утверждение листинга".
type ClaimPair struct {
	SearchClaim  string `json:"search_claim"`
	MatchedClaim string `json:"matched_claim"`
}

// Compatibility — вердикт проверки пары.
type Compatibility string

const (
	Compatible          Compatibility = "compatible"
	PartiallyCompatible Compatibility = "partially_compatible"
	Incompatible        Compatibility = "incompatible"
)

// CompatibilityResult — вердикт по одной паре.
type CompatibilityResult struct {
	Pair    ClaimPair     `json:"-"`
	Verdict Compatibility `json:"verdict"`
	Reason  string        `json:"reason,omitempty"`
}

// EnrichmentRequest — данные для генерации заголовка и сводок.
type EnrichmentRequest struct {
	ApartmentID       string   `json:"apartment_id"`
	Document          string   `json:"document"`
	Title             string   `json:"title,omitempty"`
	ImageDescriptions []string `json:"image_descriptions,omitempty"`
	Address           string   `json:"address,omitempty"`
	LocationSummary   string   `json:"location_summary,omitempty"`
}

// EnrichmentResult — сгенерированный контент листинга.
type EnrichmentResult struct {
	Title           string `json:"title"`
	PropertySummary string `json:"property_summary"`
}

type client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	searchModel string
	flashModel  string
	log         *slog.Logger
}

// NewClient создаёт новый клиент для LLM API.
func NewClient(cfg config.LLMConfig, log *slog.Logger) Client {
	if !cfg.Enabled {
		return &noopClient{log: log}
	}

	return &client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		searchModel: cfg.SearchModel,
		flashModel:  cfg.FlashModel,
		log:         log,
	}
}

// claimWire — JSON-форма утверждения в ответах модели.
type claimWire struct {
	Claim          string  `json:"claim"`
	ClaimType      string  `json:"claim_type"`
	Domain         string  `json:"domain"`
	Weight         float64 `json:"weight"`
	Negation       bool    `json:"negation"`
	IsSpecific     bool    `json:"is_specific"`
	HasQuantifiers bool    `json:"has_quantifiers"`
	RoomType       string  `json:"room_type,omitempty"`
	OrGroup        int     `json:"or_group,omitempty"`
}

func (w claimWire) toDomain() domain.Claim {
	c := domain.NewClaim(w.Claim, domain.ClaimType(w.ClaimType), domain.ClaimDomain(w.Domain))
	if w.Weight > 0 {
		c.Weight = w.Weight
	}
	c.Negation = w.Negation
	c.IsSpecific = w.IsSpecific
	c.HasQuantifiers = w.HasQuantifiers
	c.RoomType = w.RoomType
	c.OrGroup = w.OrGroup
	return c
}

// ExtractClaims извлекает утверждения из текста листинга.
func (c *client) ExtractClaims(ctx context.Context, text string) ([]domain.Claim, error) {
	const op = "llm.Client.ExtractClaims"

	chatReq := ChatCompletionRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{
				Role:    "system",
				Content: claimExtractionSystemPrompt,
			},
			{
				Role:    "user",
				Content: buildClaimExtractionPrompt(text),
			},
		},
		Temperature: 0.2,
		MaxTokens:   4000,
	}

	resp, err := c.sendChatRequest(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	claims, err := parseClaimsResponse(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return claims, nil
}

// ParseSearchQuery разбирает поисковый запрос на утверждения (лёгкая модель).
func (c *client) ParseSearchQuery(ctx context.Context, query string) ([]domain.Claim, error) {
	const op = "llm.Client.ParseSearchQuery"

	chatReq := ChatCompletionRequest{
		Model: c.searchModel,
		Messages: []ChatMessage{
			{
				Role:    "system",
				Content: claimExtractionSystemPrompt,
			},
			{
				Role:    "user",
				Content: buildSearchParsePrompt(query),
			},
		},
		Temperature: 0.1,
		MaxTokens:   2000,
	}

	resp, err := c.sendChatRequest(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	claims, err := parseClaimsResponse(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return claims, nil
}

// ExtractStructuredProperty извлекает структурированные поля листинга.
func (c *client) ExtractStructuredProperty(ctx context.Context, text string) (*StructuredProperty, error) {
	const op = "llm.Client.ExtractStructuredProperty"

	chatReq := ChatCompletionRequest{
		Model: c.searchModel,
		Messages: []ChatMessage{
			{
				Role:    "system",
				Content: "You extract structured rental listing fields. Respond strictly in JSON.",
			},
			{
				Role:    "user",
				Content: buildStructuredPropertyPrompt(text),
			},
		},
		Temperature: 0.0,
		MaxTokens:   500,
	}

	resp, err := c.sendChatRequest(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var result StructuredProperty
	jsonStr := extractJSON(resp.Content)
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("%s: failed to parse response: %w", op, err)
	}

	return &result, nil
}

type filtersWire struct {
	RentPriceMin     *float64 `json:"rent_price_min"`
	RentPriceMax     *float64 `json:"rent_price_max"`
	AvailabilityFrom string   `json:"availability_from"`
	AvailabilityTo   string   `json:"availability_to"`
	RoomTypes        []string `json:"room_types"`
}

// ExtractStructuredFilters извлекает жёсткие фильтры из запроса.
func (c *client) ExtractStructuredFilters(ctx context.Context, query string) (*domain.StructuredFilters, error) {
	const op = "llm.Client.ExtractStructuredFilters"

	chatReq := ChatCompletionRequest{
		Model: c.searchModel,
		Messages: []ChatMessage{
			{
				Role:    "system",
				Content: "You extract hard filters from apartment search queries. Respond strictly in JSON.",
			},
			{
				Role:    "user",
				Content: buildStructuredFiltersPrompt(query),
			},
		},
		Temperature: 0.0,
		MaxTokens:   400,
	}

	resp, err := c.sendChatRequest(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var wire filtersWire
	jsonStr := extractJSON(resp.Content)
	if err := json.Unmarshal([]byte(jsonStr), &wire); err != nil {
		return nil, fmt.Errorf("%s: failed to parse response: %w", op, err)
	}

	filters := &domain.StructuredFilters{
		RentPriceMin: wire.RentPriceMin,
		RentPriceMax: wire.RentPriceMax,
		RoomTypes:    wire.RoomTypes,
	}
	if t, ok := parseDate(wire.AvailabilityFrom); ok {
		filters.AvailabilityFrom = &t
	}
	if t, ok := parseDate(wire.AvailabilityTo); ok {
		filters.AvailabilityTo = &t
	}

	return filters, nil
}

// ExpandClaim генерирует производные и анти-формулировки утверждения.
func (c *client) ExpandClaim(ctx context.Context, claim domain.Claim, includeAnti bool) (*Expansion, error) {
	const op = "llm.Client.ExpandClaim"

	chatReq := ChatCompletionRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{
				Role:    "system",
				Content: "You rephrase rental listing claims to improve semantic recall. Respond strictly in JSON.",
			},
			{
				Role:    "user",
				Content: buildExpansionPrompt(claim, includeAnti),
			},
		},
		Temperature: 0.5,
		MaxTokens:   800,
	}

	resp, err := c.sendChatRequest(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var result Expansion
	jsonStr := extractJSON(resp.Content)
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("%s: failed to parse response: %w", op, err)
	}

	return &result, nil
}

type quantifierWire struct {
	QType string   `json:"qtype"`
	Noun  string   `json:"noun"`
	VMin  *float64 `json:"vmin"`
	VMax  *float64 `json:"vmax"`
	Op    string   `json:"op"`
	Unit  string   `json:"unit"`
}

// ExtractQuantifiers извлекает числовые ограничения (лёгкая модель).
func (c *client) ExtractQuantifiers(ctx context.Context, claimText string) ([]domain.Quantifier, error) {
	const op = "llm.Client.ExtractQuantifiers"

	chatReq := ChatCompletionRequest{
		Model: c.flashModel,
		Messages: []ChatMessage{
			{
				Role:    "system",
				Content: "You extract numeric constraints from rental claims. Respond strictly in JSON.",
			},
			{
				Role:    "user",
				Content: buildQuantifierPrompt(claimText),
			},
		},
		Temperature: 0.0,
		MaxTokens:   500,
	}

	resp, err := c.sendChatRequest(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var wires []quantifierWire
	jsonStr := extractJSONArray(resp.Content)
	if err := json.Unmarshal([]byte(jsonStr), &wires); err != nil {
		return nil, fmt.Errorf("%s: failed to parse response: %w", op, err)
	}

	quantifiers := make([]domain.Quantifier, 0, len(wires))
	for _, w := range wires {
		q := domain.Quantifier{
			Type: domain.QuantifierType(w.QType),
			Noun: strings.ToLower(strings.TrimSpace(w.Noun)),
			Op:   domain.QuantifierOp(strings.ToUpper(w.Op)),
			Unit: w.Unit,
		}
		if w.VMin != nil {
			q.VMin = *w.VMin
		}
		if w.VMax != nil {
			q.VMax = *w.VMax
		} else {
			// Открытый верх
			q.VMax = domain.QuantifierInfinity
		}
		quantifiers = append(quantifiers, q)
	}

	return quantifiers, nil
}

type compatibilityWire struct {
	Index   int    `json:"index"`
	Verdict string `json:"verdict"`
	Reason  string `json:"reason"`
}

// ValidateCompatibility проверяет совместимость пар (лёгкая модель, батч).
func (c *client) ValidateCompatibility(ctx context.Context, pairs []ClaimPair) ([]CompatibilityResult, error) {
	const op = "llm.Client.ValidateCompatibility"

	if len(pairs) == 0 {
		return nil, nil
	}

	chatReq := ChatCompletionRequest{
		Model: c.flashModel,
		Messages: []ChatMessage{
			{
				Role:    "system",
				Content: compatibilitySystemPrompt,
			},
			{
				Role:    "user",
				Content: buildCompatibilityPrompt(pairs),
			},
		},
		Temperature: 0.0,
		MaxTokens:   2000,
	}

	resp, err := c.sendChatRequest(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var wires []compatibilityWire
	jsonStr := extractJSONArray(resp.Content)
	if err := json.Unmarshal([]byte(jsonStr), &wires); err != nil {
		return nil, fmt.Errorf("%s: failed to parse response: %w", op, err)
	}

	results := make([]CompatibilityResult, len(pairs))
	for i, p := range pairs {
		// По умолчанию совместимо: сомнение трактуется в пользу кандидата
		results[i] = CompatibilityResult{Pair: p, Verdict: Compatible}
	}
	for _, w := range wires {
		if w.Index < 0 || w.Index >= len(pairs) {
			continue
		}
		verdict := Compatibility(w.Verdict)
		switch verdict {
		case Compatible, PartiallyCompatible, Incompatible:
			results[w.Index].Verdict = verdict
			results[w.Index].Reason = w.Reason
		}
	}

	return results, nil
}

// GenerateEnrichment генерирует заголовок и сводку листинга.
func (c *client) GenerateEnrichment(ctx context.Context, req EnrichmentRequest) (*EnrichmentResult, error) {
	const op = "llm.Client.GenerateEnrichment"

	chatReq := ChatCompletionRequest{
		Model: c.searchModel,
		Messages: []ChatMessage{
			{
				Role:    "system",
				Content: "You write concise rental listing titles and summaries. Respond strictly in JSON.",
			},
			{
				Role:    "user",
				Content: buildEnrichmentPrompt(req),
			},
		},
		Temperature: 0.7,
		MaxTokens:   600,
	}

	resp, err := c.sendChatRequest(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var result EnrichmentResult
	jsonStr := extractJSON(resp.Content)
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("%s: failed to parse response: %w", op, err)
	}

	return &result, nil
}

func (c *client) IsEnabled() bool {
	return true
}

// ChatCompletionRequest — запрос к Chat Completion API.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatMessage — сообщение в чате.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse — ответ от Chat Completion API.
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

type simplifiedResponse struct {
	Content string
}

func (c *client) sendChatRequest(ctx context.Context, req ChatCompletionRequest) (*simplifiedResponse, error) {
	const op = "llm.Client.sendChatRequest"

	url := fmt.Sprintf("%s/chat/completions", c.baseURL)

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to marshal request: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", op, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to send request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s: unexpected status code %d: %s", op, resp.StatusCode, string(body))
	}

	var chatResp ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("%s: failed to decode response: %w", op, err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("%s: no choices in response", op)
	}

	return &simplifiedResponse{
		Content: chatResp.Choices[0].Message.Content,
	}, nil
}

func parseClaimsResponse(content string) ([]domain.Claim, error) {
	var wires []claimWire
	jsonStr := extractJSONArray(content)
	if err := json.Unmarshal([]byte(jsonStr), &wires); err != nil {
		// Некоторые модели оборачивают массив в объект {"claims": [...]}
		var wrapped struct {
			Claims []claimWire `json:"claims"`
		}
		if err2 := json.Unmarshal([]byte(extractJSON(content)), &wrapped); err2 != nil {
			return nil, fmt.Errorf("failed to parse claims: %w", err)
		}
		wires = wrapped.Claims
	}

	claims := make([]domain.Claim, 0, len(wires))
	for _, w := range wires {
		if strings.TrimSpace(w.Claim) == "" {
			continue
		}
		c := w.toDomain()
		if !c.Type.IsValid() {
			continue
		}
		claims = append(claims, c)
	}
	return claims, nil
}

// extractJSON извлекает JSON-объект из текста ответа LLM.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")

	if start != -1 && end != -1 && end > start {
		return text[start : end+1]
	}
	return text
}

// extractJSONArray извлекает JSON-массив из текста ответа LLM.
func extractJSONArray(text string) string {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")

	if start != -1 && end != -1 && end > start {
		return text[start : end+1]
	}
	return text
}

// noopClient — заглушка для случая, когда LLM отключен.
type noopClient struct {
	log *slog.Logger
}

func (c *noopClient) ExtractClaims(ctx context.Context, text string) ([]domain.Claim, error) {
	c.log.Debug("LLM service is disabled")
	return nil, nil
}

func (c *noopClient) ParseSearchQuery(ctx context.Context, query string) ([]domain.Claim, error) {
	c.log.Debug("LLM service is disabled")
	return nil, nil
}

func (c *noopClient) ExtractStructuredProperty(ctx context.Context, text string) (*StructuredProperty, error) {
	c.log.Debug("LLM service is disabled")
	return &StructuredProperty{}, nil
}

func (c *noopClient) ExtractStructuredFilters(ctx context.Context, query string) (*domain.StructuredFilters, error) {
	c.log.Debug("LLM service is disabled")
	return &domain.StructuredFilters{}, nil
}

func (c *noopClient) ExpandClaim(ctx context.Context, claim domain.Claim, includeAnti bool) (*Expansion, error) {
	c.log.Debug("LLM service is disabled")
	return &Expansion{}, nil
}

func (c *noopClient) ExtractQuantifiers(ctx context.Context, claimText string) ([]domain.Quantifier, error) {
	c.log.Debug("LLM service is disabled")
	return nil, nil
}

func (c *noopClient) ValidateCompatibility(ctx context.Context, pairs []ClaimPair) ([]CompatibilityResult, error) {
	c.log.Debug("LLM service is disabled, treating all pairs as compatible")
	results := make([]CompatibilityResult, len(pairs))
	for i, p := range pairs {
		results[i] = CompatibilityResult{Pair: p, Verdict: Compatible}
	}
	return results, nil
}

func (c *noopClient) GenerateEnrichment(ctx context.Context, req EnrichmentRequest) (*EnrichmentResult, error) {
	c.log.Debug("LLM service is disabled")
	return &EnrichmentResult{}, nil
}

func (c *noopClient) IsEnabled() bool {
	return false
}

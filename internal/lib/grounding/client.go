package grounding

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

// Client — клиент модели с геопространственным заземлением (maps tool).
// Один вызов проверяет утверждение против реальной карты, второй вызов
// переводит прозу модели в структурированные поля — эвристического
// разбора текста здесь нет.
type Client interface {
	// GroundClaim проверяет утверждение относительно координат листинга.
	GroundClaim(ctx context.Context, req GroundRequest) (*GroundResult, error)
	// GenerateLocationSummary описывает окрестности листинга.
	GenerateLocationSummary(ctx context.Context, location domain.GeoPoint, address string) (*LocationSummary, error)
	// IsEnabled проверяет, включен ли сервис.
	IsEnabled() bool
}

// GroundRequest — утверждение и координаты листинга.
type GroundRequest struct {
	ClaimText string
	ClaimType domain.ClaimType
	Location  domain.GeoPoint
}

// GroundResult — структурированный итог заземления.
type GroundResult struct {
	Verified      bool             `json:"verified"`
	PlaceName     string           `json:"place_name"`
	PlaceLocation *domain.GeoPoint `json:"place_location,omitempty"`
	RadiusM       float64          `json:"radius_m"`
	DistanceM     float64          `json:"distance_m"`
	Summary       string           `json:"summary"`
	WidgetToken   string           `json:"-"`
}

// LocationSummary — описание окрестностей и токен карточного виджета.
type LocationSummary struct {
	Summary     string `json:"summary"`
	WidgetToken string `json:"widget_token"`
}

type client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	flashModel string
	log        *slog.Logger
}

// NewClient создаёт новый клиент заземления. Ключ и эндпоинт общие с LLM.
func NewClient(cfg config.GroundingConfig, llmCfg config.LLMConfig, log *slog.Logger) Client {
	if !cfg.Enabled {
		return &noopClient{log: log}
	}

	return &client{
		httpClient: &http.Client{
			Timeout: llmCfg.Timeout,
		},
		baseURL:    "https://generativelanguage.googleapis.com/v1beta",
		apiKey:     llmCfg.APIKey,
		model:      cfg.Model,
		flashModel: llmCfg.FlashModel,
		log:        log,
	}
}

// GroundClaim проверяет утверждение относительно координат листинга.
func (c *client) GroundClaim(ctx context.Context, req GroundRequest) (*GroundResult, error) {
	const op = "grounding.Client.GroundClaim"

	prompt := buildGroundingPrompt(req)
	prose, widgetToken, err := c.generateGrounded(ctx, prompt, req.Location)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result, err := c.extractStructured(ctx, req, prose)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	result.WidgetToken = widgetToken

	return result, nil
}

// GenerateLocationSummary описывает окрестности листинга.
func (c *client) GenerateLocationSummary(ctx context.Context, location domain.GeoPoint, address string) (*LocationSummary, error) {
	const op = "grounding.Client.GenerateLocationSummary"

	prompt := fmt.Sprintf(
		"Describe the immediate surroundings of the rental at %q in 2-3 factual sentences: nearest transit, notable parks or landmarks, overall character of the block. Only state what the map shows.",
		address,
	)

	prose, widgetToken, err := c.generateGrounded(ctx, prompt, location)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &LocationSummary{Summary: prose, WidgetToken: widgetToken}, nil
}

type generateContentRequest struct {
	Contents   []content   `json:"contents"`
	Tools      []tool      `json:"tools,omitempty"`
	ToolConfig *toolConfig `json:"toolConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type tool struct {
	GoogleMaps map[string]interface{} `json:"googleMaps,omitempty"`
}

type toolConfig struct {
	RetrievalConfig *retrievalConfig `json:"retrievalConfig,omitempty"`
}

type retrievalConfig struct {
	LatLng latLng `json:"latLng"`
}

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content           content `json:"content"`
		GroundingMetadata *struct {
			GoogleMapsWidgetContextToken string `json:"googleMapsWidgetContextToken"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
}

// generateGrounded выполняет запрос с maps-инструментом и координатной привязкой.
func (c *client) generateGrounded(ctx context.Context, prompt string, location domain.GeoPoint) (string, string, error) {
	req := generateContentRequest{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: prompt}}},
		},
		Tools: []tool{
			{GoogleMaps: map[string]interface{}{}},
		},
		ToolConfig: &toolConfig{
			RetrievalConfig: &retrievalConfig{
				LatLng: latLng{Latitude: location.Lat, Longitude: location.Lon},
			},
		},
	}

	body, err := c.sendGenerateContent(ctx, c.model, req)
	if err != nil {
		return "", "", err
	}

	if len(body.Candidates) == 0 || len(body.Candidates[0].Content.Parts) == 0 {
		return "", "", fmt.Errorf("no candidates in response")
	}

	var sb strings.Builder
	for _, p := range body.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}

	widgetToken := ""
	if gm := body.Candidates[0].GroundingMetadata; gm != nil {
		widgetToken = gm.GoogleMapsWidgetContextToken
	}

	return sb.String(), widgetToken, nil
}

// extractStructured переводит заземлённую прозу в поля (второй LLM-вызов).
func (c *client) extractStructured(ctx context.Context, groundReq GroundRequest, prose string) (*GroundResult, error) {
	prompt := buildExtractionPrompt(groundReq, prose)

	req := generateContentRequest{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: prompt}}},
		},
	}

	body, err := c.sendGenerateContent(ctx, c.flashModel, req)
	if err != nil {
		return nil, err
	}
	if len(body.Candidates) == 0 || len(body.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}

	text := body.Candidates[0].Content.Parts[0].Text
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		text = text[start : end+1]
	}

	var result GroundResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("failed to parse grounding extraction: %w", err)
	}

	return &result, nil
}

func (c *client) sendGenerateContent(ctx context.Context, model string, req generateContentRequest) (*generateContentResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var result generateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &result, nil
}

func buildGroundingPrompt(req GroundRequest) string {
	var sb strings.Builder
	sb.WriteString("A rental listing at the given coordinates makes this claim:\n\n")
	sb.WriteString(req.ClaimText)
	sb.WriteString("\n\nUsing the map, verify the claim. Name the specific place it refers to, ")
	sb.WriteString("its location, and the walking distance from the listing. ")
	sb.WriteString("Say plainly whether the claim holds.")
	return sb.String()
}

func buildExtractionPrompt(req GroundRequest, prose string) string {
	var sb strings.Builder
	sb.WriteString("Claim: ")
	sb.WriteString(req.ClaimText)
	sb.WriteString("\n\nMap verification result:\n")
	sb.WriteString(prose)
	sb.WriteString(`

Extract into JSON:
{
  "verified": true,
  "place_name": "...",
  "place_location": {"lat": 0.0, "lon": 0.0},
  "radius_m": 800,
  "distance_m": 350,
  "summary": "one sentence"
}
radius_m is the relevance radius of the place type:
station 500-800, landmark 800-1200, park 1500-3000,
neighborhood 3000-8000, borough 10000-20000.
When only a distance is known, use distance plus a buffer of
max(100, 30% of distance); default 500 when nothing is known.
Use null for place_location when unknown.`)
	return sb.String()
}

func (c *client) IsEnabled() bool {
	return true
}

// noopClient — заглушка для случая, когда заземление отключено.
type noopClient struct {
	log *slog.Logger
}

func (c *noopClient) GroundClaim(ctx context.Context, req GroundRequest) (*GroundResult, error) {
	c.log.Debug("Grounding service is disabled")
	return &GroundResult{}, nil
}

func (c *noopClient) GenerateLocationSummary(ctx context.Context, location domain.GeoPoint, address string) (*LocationSummary, error) {
	c.log.Debug("Grounding service is disabled")
	return &LocationSummary{}, nil
}

func (c *noopClient) IsEnabled() bool {
	return false
}

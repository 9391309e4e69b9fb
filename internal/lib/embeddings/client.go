package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"claim_search/internal/config"
	"log/slog"
)

// TaskType — назначение эмбеддинга: документ при индексации или запрос при поиске.
type TaskType string

const (
	TaskRetrievalDocument TaskType = "retrieval_document"
	TaskRetrievalQuery    TaskType = "retrieval_query"
)

// Client — клиент сервиса генерации эмбеддингов.
type Client interface {
	// EmbedBatch генерирует эмбеддинги для набора текстов одним запросом.
	EmbedBatch(ctx context.Context, texts []string, task TaskType) ([][]float32, error)
	// Dimensions — размерность векторов.
	Dimensions() int
	// IsEnabled проверяет, включен ли сервис.
	IsEnabled() bool
}

type client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	log        *slog.Logger
}

// NewClient создаёт новый клиент сервиса эмбеддингов.
func NewClient(cfg config.EmbeddingConfig, log *slog.Logger) Client {
	if !cfg.Enabled {
		return &noopClient{dimensions: cfg.Dimensions, log: log}
	}

	return &client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		log:        log,
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
	TaskType   string   `json:"task_type,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// EmbedBatch генерирует эмбеддинги для набора текстов.
// Ответ с неполным числом векторов или чужой размерностью — ошибка,
// частичные результаты не принимаются.
func (c *client) EmbedBatch(ctx context.Context, texts []string, task TaskType) ([][]float32, error) {
	const op = "embeddings.Client.EmbedBatch"

	if len(texts) == 0 {
		return nil, nil
	}

	req := embeddingRequest{
		Model:      c.model,
		Input:      texts,
		Dimensions: c.dimensions,
		TaskType:   string(task),
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to marshal request: %w", op, err)
	}

	url := fmt.Sprintf("%s/embeddings", c.baseURL)
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

	var result embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%s: failed to decode response: %w", op, err)
	}

	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("%s: expected %d embeddings, got %d", op, len(texts), len(result.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("%s: embedding index %d out of range", op, d.Index)
		}
		if len(d.Embedding) != c.dimensions {
			return nil, fmt.Errorf("%s: expected dimension %d, got %d", op, c.dimensions, len(d.Embedding))
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		vectors[d.Index] = vec
	}

	return vectors, nil
}

func (c *client) Dimensions() int {
	return c.dimensions
}

func (c *client) IsEnabled() bool {
	return true
}

// noopClient — заглушка для случая, когда сервис эмбеддингов отключен.
type noopClient struct {
	dimensions int
	log        *slog.Logger
}

func (c *noopClient) EmbedBatch(ctx context.Context, texts []string, task TaskType) ([][]float32, error) {
	c.log.Warn("embedding service is disabled, returning zero vectors")
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = make([]float32, c.dimensions)
	}
	return vectors, nil
}

func (c *noopClient) Dimensions() int {
	return c.dimensions
}

func (c *noopClient) IsEnabled() bool {
	return false
}

package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"claim_search/internal/config"
	"log/slog"
)

// Client — клиент анализа фотографий листинга через мультимодальную модель.
type Client interface {
	// DescribeImage описывает одно фото комнаты.
	DescribeImage(ctx context.Context, imageURL string) (*ImageDescription, error)
	// IsEnabled проверяет, включен ли сервис.
	IsEnabled() bool
}

// ImageDescription — результат анализа одного фото.
type ImageDescription struct {
	// RoomType — тип помещения на фото (kitchen, bedroom, bathroom и т.д.)
	RoomType string `json:"room_type"`
	// Description — подробное текстовое описание для извлечения утверждений
	Description string `json:"description"`
}

type client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	limiter    *rateLimiter
	log        *slog.Logger
}

// NewClient создаёт новый клиент анализа фотографий. Модель и эндпоинт
// те же, что у LLM-клиента: vision — это мультимодальный чат-запрос.
func NewClient(cfg config.VisionConfig, llmCfg config.LLMConfig, log *slog.Logger) Client {
	if !cfg.Enabled {
		return &noopClient{log: log}
	}

	return &client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: llmCfg.BaseURL,
		apiKey:  llmCfg.APIKey,
		model:   llmCfg.SearchModel,
		limiter: newRateLimiter(cfg.MaxRPM, cfg.Window),
		log:     log,
	}
}

const describePrompt = `Describe this rental listing photo in detail for search indexing.
Name the room type and list every visible feature: appliances, finishes,
fixtures, furniture that conveys size, natural light, condition, views.
State only what is visible. Respond in JSON:
{"room_type": "kitchen", "description": "..."}`

// DescribeImage описывает одно фото комнаты. Вызов блокируется, пока
// скользящее окно запросов не позволит отправку.
func (c *client) DescribeImage(ctx context.Context, imageURL string) (*ImageDescription, error) {
	const op = "vision.Client.DescribeImage"

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	dataURL, err := c.fetchAsDataURL(ctx, imageURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	reqBody, err := json.Marshal(map[string]interface{}{
		"model": c.model,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": []map[string]interface{}{
					{"type": "text", "text": describePrompt},
					{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
				},
			},
		},
		"temperature": 0.2,
		"max_tokens":  800,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to marshal request: %w", op, err)
	}

	url := fmt.Sprintf("%s/chat/completions", c.baseURL)
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

	var chatResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("%s: no choices in response", op)
	}

	content := chatResp.Choices[0].Message.Content
	var result ImageDescription
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start != -1 && end > start {
		content = content[start : end+1]
	}
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		// Модель ответила прозой — используем её как описание целиком
		return &ImageDescription{Description: chatResp.Choices[0].Message.Content}, nil
	}

	return &result, nil
}

// fetchAsDataURL скачивает изображение и кодирует его в data URL.
func (c *client) fetchAsDataURL(ctx context.Context, imageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create image request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code %d fetching image", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read image body: %w", err)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = mimeByExtension(imageURL)
	}

	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func mimeByExtension(imageURL string) string {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(stripQuery(imageURL)), ".")) {
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

func stripQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i != -1 {
		return u[:i]
	}
	return u
}

func (c *client) IsEnabled() bool {
	return true
}

// rateLimiter — скользящее окно запросов под одним мьютексом.
// Вызов Wait блокируется, пока в окне не освободится слот.
type rateLimiter struct {
	mu         sync.Mutex
	timestamps []time.Time
	maxRPM     int
	window     time.Duration
}

func newRateLimiter(maxRPM int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		maxRPM: maxRPM,
		window: window,
	}
}

// Wait блокируется до допуска запроса или отмены контекста.
func (l *rateLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()

		now := time.Now()
		cutoff := now.Add(-l.window)
		live := l.timestamps[:0]
		for _, t := range l.timestamps {
			if t.After(cutoff) {
				live = append(live, t)
			}
		}
		l.timestamps = live

		if len(l.timestamps) < l.maxRPM {
			l.timestamps = append(l.timestamps, now)
			l.mu.Unlock()
			return nil
		}

		// Ждём, пока самый старый запрос не выйдет из окна
		sleep := l.timestamps[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// noopClient — заглушка для случая, когда анализ фото отключен.
type noopClient struct {
	log *slog.Logger
}

func (c *noopClient) DescribeImage(ctx context.Context, imageURL string) (*ImageDescription, error) {
	c.log.Debug("Vision service is disabled")
	return &ImageDescription{}, nil
}

func (c *noopClient) IsEnabled() bool {
	return false
}

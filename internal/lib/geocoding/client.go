package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"claim_search/internal/config"
	"claim_search/internal/domain"
	"log/slog"
)

// Client — геокодер адресов листингов.
type Client interface {
	// Geocode возвращает координаты по адресу.
	Geocode(ctx context.Context, address string) (*domain.GeoPoint, error)
	// IsEnabled проверяет, включен ли сервис.
	IsEnabled() bool
}

type cacheEntry struct {
	point     domain.GeoPoint
	expiresAt time.Time
}

type client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cacheTTL   time.Duration
	log        *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewClient создаёт новый клиент геокодера.
func NewClient(cfg config.GeocodingConfig, log *slog.Logger) Client {
	if !cfg.Enabled {
		return &noopClient{log: log}
	}

	return &client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		cacheTTL: cfg.CacheTTL,
		log:      log,
		cache:    make(map[string]cacheEntry),
	}
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode возвращает координаты по адресу. Результаты кешируются в памяти.
func (c *client) Geocode(ctx context.Context, address string) (*domain.GeoPoint, error) {
	const op = "geocoding.Client.Geocode"

	key := strings.ToLower(strings.TrimSpace(address))
	if key == "" {
		return nil, fmt.Errorf("%s: empty address", op)
	}

	c.mu.Lock()
	if entry, ok := c.cache[key]; ok && time.Now().Before(entry.expiresAt) {
		c.mu.Unlock()
		point := entry.point
		return &point, nil
	}
	c.mu.Unlock()

	params := url.Values{}
	params.Set("address", address)
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to send request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s: unexpected status code %d: %s", op, resp.StatusCode, string(body))
	}

	var result geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%s: failed to decode response: %w", op, err)
	}

	if result.Status != "OK" || len(result.Results) == 0 {
		return nil, fmt.Errorf("%s: no results for address (status %s)", op, result.Status)
	}

	point := domain.GeoPoint{
		Lat: result.Results[0].Geometry.Location.Lat,
		Lon: result.Results[0].Geometry.Location.Lng,
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{point: point, expiresAt: time.Now().Add(c.cacheTTL)}
	c.mu.Unlock()

	return &point, nil
}

func (c *client) IsEnabled() bool {
	return true
}

// noopClient — заглушка для случая, когда геокодер отключен.
type noopClient struct {
	log *slog.Logger
}

func (c *noopClient) Geocode(ctx context.Context, address string) (*domain.GeoPoint, error) {
	c.log.Debug("Geocoding service is disabled")
	return nil, nil
}

func (c *noopClient) IsEnabled() bool {
	return false
}

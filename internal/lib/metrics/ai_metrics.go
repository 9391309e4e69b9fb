package metrics

import (
	"log/slog"
	"sync"
	"time"
)

// ServiceType — тип AI-сервиса.
type ServiceType string

const (
	ServiceLLM       ServiceType = "llm"
	ServiceEmbedding ServiceType = "embedding"
	ServiceVision    ServiceType = "vision"
	ServiceGeocoding ServiceType = "geocoding"
	ServiceGrounding ServiceType = "grounding"
)

// AIMetrics — метрики вызовов AI-сервисов (LLM, эмбеддинги, vision,
// геокодер, заземление).
type AIMetrics struct {
	mu  sync.RWMutex
	log *slog.Logger

	counters map[ServiceType]*serviceCounters
}

type serviceCounters struct {
	callsTotal     int64
	errorsTotal    int64
	latencyTotalMs int64
	lastLatencyMs  int64
}

var (
	globalMetrics *AIMetrics
	metricsOnce   sync.Once
)

// GetAIMetrics возвращает глобальный экземпляр метрик.
func GetAIMetrics(log *slog.Logger) *AIMetrics {
	metricsOnce.Do(func() {
		globalMetrics = &AIMetrics{
			log:      log,
			counters: make(map[ServiceType]*serviceCounters),
		}
	})
	return globalMetrics
}

// RecordCall записывает вызов AI-сервиса.
func (m *AIMetrics) RecordCall(service ServiceType, latency time.Duration, err error) {
	latencyMs := latency.Milliseconds()

	m.mu.Lock()
	c, ok := m.counters[service]
	if !ok {
		c = &serviceCounters{}
		m.counters[service] = c
	}
	c.callsTotal++
	c.latencyTotalMs += latencyMs
	c.lastLatencyMs = latencyMs
	if err != nil {
		c.errorsTotal++
	}
	m.mu.Unlock()

	if m.log != nil {
		logAttrs := []any{
			slog.String("service", string(service)),
			slog.Int64("latency_ms", latencyMs),
		}
		if err != nil {
			logAttrs = append(logAttrs, slog.String("error", err.Error()))
			m.log.Warn("AI service call failed", logAttrs...)
		} else {
			m.log.Debug("AI service call completed", logAttrs...)
		}
	}
}

// AICallTimer помогает измерять время вызовов.
type AICallTimer struct {
	metrics   *AIMetrics
	service   ServiceType
	startTime time.Time
}

// StartTimer начинает измерение времени вызова.
func (m *AIMetrics) StartTimer(service ServiceType) *AICallTimer {
	return &AICallTimer{
		metrics:   m,
		service:   service,
		startTime: time.Now(),
	}
}

// Stop останавливает таймер и записывает метрики.
func (t *AICallTimer) Stop(err error) {
	latency := time.Since(t.startTime)
	t.metrics.RecordCall(t.service, latency, err)
}

// ServiceStats — статистика по одному сервису.
type ServiceStats struct {
	CallsTotal    int64   `json:"calls_total"`
	ErrorsTotal   int64   `json:"errors_total"`
	ErrorRate     float64 `json:"error_rate"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	LastLatencyMs int64   `json:"last_latency_ms"`
}

// Stats — текущая статистика по всем сервисам.
type Stats map[ServiceType]ServiceStats

// GetStats возвращает текущую статистику.
func (m *AIMetrics) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(Stats, len(m.counters))
	for service, c := range m.counters {
		var errorRate, avgLatency float64
		if c.callsTotal > 0 {
			errorRate = float64(c.errorsTotal) / float64(c.callsTotal)
			avgLatency = float64(c.latencyTotalMs) / float64(c.callsTotal)
		}
		stats[service] = ServiceStats{
			CallsTotal:    c.callsTotal,
			ErrorsTotal:   c.errorsTotal,
			ErrorRate:     errorRate,
			AvgLatencyMs:  avgLatency,
			LastLatencyMs: c.lastLatencyMs,
		}
	}
	return stats
}

// Reset сбрасывает все метрики.
func (m *AIMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = make(map[ServiceType]*serviceCounters)
}

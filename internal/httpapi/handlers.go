package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"claim_search/internal/domain"
	"claim_search/internal/indexer"
	"claim_search/internal/lib/logger/sl"
	"claim_search/internal/lib/metrics"
	"claim_search/internal/repository"
	"claim_search/internal/search"
	"log/slog"

	"github.com/go-chi/chi/v5"
)

// Repository — операции каталога листингов, нужные HTTP-слою.
type Repository interface {
	Setup(ctx context.Context, dimensions int) error
	ListApartments(ctx context.Context, pager *domain.Pager, hasImages bool) (*domain.PaginatedResult[domain.ApartmentDocument], error)
	GetApartment(ctx context.Context, apartmentID string) (*domain.ApartmentClaims, error)
	DeleteApartment(ctx context.Context, apartmentID string) (domain.DeleteCounts, error)
}

// Handlers — HTTP-обработчики и их зависимости.
type Handlers struct {
	log        *slog.Logger
	repo       Repository
	indexer    *indexer.Pipeline
	searcher   *search.Pipeline
	dimensions int
}

func NewHandlers(log *slog.Logger, repo Repository, indexerPipeline *indexer.Pipeline, searcher *search.Pipeline, dimensions int) *Handlers {
	return &Handlers{
		log:        log,
		repo:       repo,
		indexer:    indexerPipeline,
		searcher:   searcher,
		dimensions: dimensions,
	}
}

// Setup — POST /api/setup: создание схем всех трёх индексов.
func (h *Handlers) Setup(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Setup(r.Context(), h.dimensions); err != nil {
		h.log.Error("setup failed", sl.Err(err))
		respondError(w, http.StatusInternalServerError, "setup failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Index — POST /api/index: индексация одного листинга.
func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	var req indexer.IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ApartmentID == "" {
		respondError(w, http.StatusBadRequest, "apartment_id is required")
		return
	}
	if req.Document == "" && len(req.ImageURLs) == 0 {
		respondError(w, http.StatusBadRequest, "either document or image_urls must be provided")
		return
	}

	result, err := h.indexer.Process(r.Context(), req)
	if err != nil {
		h.log.Error("indexing failed", slog.String("apartment_id", req.ApartmentID), sl.Err(err))
		respondError(w, http.StatusInternalServerError, "indexing failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type batchIndexRequest struct {
	Apartments []indexer.IndexRequest `json:"apartments"`
}

// IndexBatch — POST /api/index/batch: пакетная индексация.
func (h *Handlers) IndexBatch(w http.ResponseWriter, r *http.Request) {
	var req batchIndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Apartments) == 0 {
		respondError(w, http.StatusBadRequest, "apartments must not be empty")
		return
	}
	for _, apartment := range req.Apartments {
		if apartment.ApartmentID == "" {
			respondError(w, http.StatusBadRequest, "apartment_id is required for every apartment")
			return
		}
	}

	respondJSON(w, http.StatusOK, h.indexer.ProcessBatch(r.Context(), req.Apartments))
}

// Search — POST /api/search.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	result, err := h.searcher.Search(r.Context(), req)
	if err != nil {
		h.log.Error("search failed", slog.String("query", req.Query), sl.Err(err))
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ListApartments — GET /api/apartments?page&page_size&has_images.
func (h *Handlers) ListApartments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page := 1
	if v := q.Get("page"); v != "" {
		val, err := strconv.Atoi(v)
		if err != nil || val < 1 {
			respondError(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		page = val
	}

	pageSize := domain.DefaultPageSize
	if v := q.Get("page_size"); v != "" {
		val, err := strconv.Atoi(v)
		if err != nil || val < 1 || val > domain.MaxPageSize {
			respondError(w, http.StatusBadRequest, "page_size must be between 1 and 100")
			return
		}
		pageSize = val
	}

	hasImages := q.Get("has_images") == "true"

	result, err := h.repo.ListApartments(r.Context(), domain.NewPager(page, pageSize), hasImages)
	if err != nil {
		h.log.Error("apartment listing failed", sl.Err(err))
		respondError(w, http.StatusInternalServerError, "listing failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"apartments": result.Items,
		"pagination": result.Pagination,
	})
}

// GetApartment — GET /api/apartments/{id}: документ и утверждения по доменам.
func (h *Handlers) GetApartment(w http.ResponseWriter, r *http.Request) {
	apartmentID := chi.URLParam(r, "id")

	result, err := h.repo.GetApartment(r.Context(), apartmentID)
	if err != nil {
		if errors.Is(err, repository.ErrApartmentNotFound) {
			respondError(w, http.StatusNotFound, "apartment not found")
			return
		}
		h.log.Error("apartment fetch failed", slog.String("apartment_id", apartmentID), sl.Err(err))
		respondError(w, http.StatusInternalServerError, "fetch failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// DeleteApartment — DELETE /api/apartments/{id}: удаление из всех индексов.
func (h *Handlers) DeleteApartment(w http.ResponseWriter, r *http.Request) {
	apartmentID := chi.URLParam(r, "id")

	counts, err := h.repo.DeleteApartment(r.Context(), apartmentID)
	if err != nil {
		if errors.Is(err, repository.ErrApartmentNotFound) {
			respondError(w, http.StatusNotFound, "apartment not found")
			return
		}
		h.log.Error("apartment deletion failed", slog.String("apartment_id", apartmentID), sl.Err(err))
		respondError(w, http.StatusInternalServerError, "deletion failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"apartment_id": apartmentID,
		"deleted":      counts,
	})
}

// Health — GET /api/health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Metrics — GET /api/metrics: снимок метрик AI-сервисов.
func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, metrics.GetAIMetrics(h.log).GetStats())
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

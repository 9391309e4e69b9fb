package enrichment

import (
	"context"
	"fmt"

	"claim_search/internal/domain"
	groundinglib "claim_search/internal/lib/grounding"
	"claim_search/internal/lib/llm"
	"claim_search/internal/lib/logger/sl"
	"log/slog"
)

// SummaryStore — то, что умеет принять сводки канонического документа.
type SummaryStore interface {
	UpdateSummaries(ctx context.Context, apartmentID, title, propertySummary, locationSummary, widgetToken string) error
}

// Service генерирует заголовок и сводки листинга после записи утверждений
// и накладывает их на канонический документ.
type Service struct {
	log       *slog.Logger
	llmClient llm.Client
	grounder  groundinglib.Client
	store     SummaryStore
}

func New(log *slog.Logger, llmClient llm.Client, grounder groundinglib.Client, store SummaryStore) *Service {
	return &Service{
		log:       log,
		llmClient: llmClient,
		grounder:  grounder,
		store:     store,
	}
}

// Request — вход обогащения.
type Request struct {
	ApartmentID       string
	Document          string
	Title             string
	ImageDescriptions []string
	Address           string
	Location          *domain.GeoPoint
}

// Result — сгенерированный контент листинга.
type Result struct {
	Title           string `json:"title,omitempty"`
	PropertySummary string `json:"property_summary,omitempty"`
	LocationSummary string `json:"location_summary,omitempty"`
	WidgetToken     string `json:"-"`
}

// Enrich генерирует сводки и записывает их. Сбой обогащения не считается
// сбоем индексации: листинг уже записан, сводки — украшение.
func (s *Service) Enrich(ctx context.Context, req Request) (*Result, error) {
	const op = "enrichment.Service.Enrich"

	result := &Result{}

	if req.Location != nil {
		locSummary, err := s.grounder.GenerateLocationSummary(ctx, *req.Location, req.Address)
		if err != nil {
			s.log.Warn("location summary generation failed",
				slog.String("apartment_id", req.ApartmentID),
				sl.Err(err),
			)
		} else {
			result.LocationSummary = locSummary.Summary
			result.WidgetToken = locSummary.WidgetToken
		}
	}

	enriched, err := s.llmClient.GenerateEnrichment(ctx, llm.EnrichmentRequest{
		ApartmentID:       req.ApartmentID,
		Document:          req.Document,
		Title:             req.Title,
		ImageDescriptions: req.ImageDescriptions,
		Address:           req.Address,
		LocationSummary:   result.LocationSummary,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// Заголовок вызывающей стороны не перегенерируется
	result.Title = req.Title
	if result.Title == "" {
		result.Title = enriched.Title
	}
	result.PropertySummary = enriched.PropertySummary

	err = s.store.UpdateSummaries(ctx, req.ApartmentID,
		result.Title, result.PropertySummary, result.LocationSummary, result.WidgetToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return result, nil
}

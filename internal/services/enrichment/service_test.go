package enrichment

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"claim_search/internal/domain"
	groundinglib "claim_search/internal/lib/grounding"
	"claim_search/internal/lib/llm"
)

type mockLLM struct {
	llm.Client
	generateEnrichmentFunc func(ctx context.Context, req llm.EnrichmentRequest) (*llm.EnrichmentResult, error)
}

func (m *mockLLM) GenerateEnrichment(ctx context.Context, req llm.EnrichmentRequest) (*llm.EnrichmentResult, error) {
	return m.generateEnrichmentFunc(ctx, req)
}

type mockGrounder struct {
	groundinglib.Client
}

func (m *mockGrounder) GenerateLocationSummary(ctx context.Context, location domain.GeoPoint, address string) (*groundinglib.LocationSummary, error) {
	return &groundinglib.LocationSummary{}, nil
}

type mockStore struct {
	updateSummariesFunc func(ctx context.Context, apartmentID, title, propertySummary, locationSummary, widgetToken string) error
}

func (m *mockStore) UpdateSummaries(ctx context.Context, apartmentID, title, propertySummary, locationSummary, widgetToken string) error {
	if m.updateSummariesFunc != nil {
		return m.updateSummariesFunc(ctx, apartmentID, title, propertySummary, locationSummary, widgetToken)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestEnrich_CallerTitlePreserved(t *testing.T) {
	mock := &mockLLM{
		generateEnrichmentFunc: func(ctx context.Context, req llm.EnrichmentRequest) (*llm.EnrichmentResult, error) {
			return &llm.EnrichmentResult{Title: "Generated Title", PropertySummary: "A fine place."}, nil
		},
	}
	var savedTitle string
	store := &mockStore{
		updateSummariesFunc: func(ctx context.Context, apartmentID, title, propertySummary, locationSummary, widgetToken string) error {
			savedTitle = title
			return nil
		},
	}
	s := New(testLogger(), mock, &mockGrounder{}, store)

	result, err := s.Enrich(context.Background(), Request{
		ApartmentID: "apt-1",
		Document:    "sunny two bedroom",
		Title:       "Caller Title",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Title != "Caller Title" {
		t.Errorf("caller-provided title must not be regenerated, got %q", result.Title)
	}
	if savedTitle != "Caller Title" {
		t.Errorf("store must receive the caller title, got %q", savedTitle)
	}
	if result.PropertySummary != "A fine place." {
		t.Errorf("unexpected summary: %q", result.PropertySummary)
	}
}

func TestEnrich_TitleGeneratedWhenAbsent(t *testing.T) {
	mock := &mockLLM{
		generateEnrichmentFunc: func(ctx context.Context, req llm.EnrichmentRequest) (*llm.EnrichmentResult, error) {
			return &llm.EnrichmentResult{Title: "Generated Title"}, nil
		},
	}
	s := New(testLogger(), mock, &mockGrounder{}, &mockStore{})

	result, err := s.Enrich(context.Background(), Request{
		ApartmentID: "apt-1",
		Document:    "sunny two bedroom",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Title != "Generated Title" {
		t.Errorf("expected generated title fallback, got %q", result.Title)
	}
}

func TestEnrich_ImageDescriptionsForwarded(t *testing.T) {
	var gotDescriptions []string
	mock := &mockLLM{
		generateEnrichmentFunc: func(ctx context.Context, req llm.EnrichmentRequest) (*llm.EnrichmentResult, error) {
			gotDescriptions = req.ImageDescriptions
			return &llm.EnrichmentResult{}, nil
		},
	}
	s := New(testLogger(), mock, &mockGrounder{}, &mockStore{})

	descriptions := []string{"bright kitchen with gas stove", "bedroom with bay windows"}
	_, err := s.Enrich(context.Background(), Request{
		ApartmentID:       "apt-1",
		Document:          "sunny two bedroom",
		ImageDescriptions: descriptions,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gotDescriptions) != 2 || gotDescriptions[0] != descriptions[0] {
		t.Errorf("photo descriptions must reach the model, got %v", gotDescriptions)
	}
}

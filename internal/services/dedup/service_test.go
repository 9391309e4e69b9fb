package dedup

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"claim_search/internal/domain"
	"claim_search/internal/lib/embeddings"
)

type mockEmbedder struct {
	embedBatchFunc func(ctx context.Context, texts []string, task embeddings.TaskType) ([][]float32, error)
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string, task embeddings.TaskType) ([][]float32, error) {
	return m.embedBatchFunc(ctx, texts, task)
}

func (m *mockEmbedder) Dimensions() int { return 3 }
func (m *mockEmbedder) IsEnabled() bool { return true }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

// fixedVectors выдаёт заранее заданные векторы по порядку текстов.
func fixedVectors(vectors [][]float32) *mockEmbedder {
	return &mockEmbedder{
		embedBatchFunc: func(ctx context.Context, texts []string, task embeddings.TaskType) ([][]float32, error) {
			return vectors[:len(texts)], nil
		},
	}
}

func TestDeduplicate_KeepsFirstOfDuplicatePair(t *testing.T) {
	// первые два вектора коллинеарны, третий ортогонален
	embedder := fixedVectors([][]float32{
		{1, 0, 0},
		{1, 0, 0},
		{0, 1, 0},
	})
	s := New(testLogger(), embedder, 0.98)

	claims := []domain.Claim{
		domain.NewClaim("has a private balcony", domain.ClaimFeatures, domain.DomainApartment),
		domain.NewClaim("apartment with its own balcony", domain.ClaimFeatures, domain.DomainApartment),
		domain.NewClaim("close to the subway", domain.ClaimTransport, domain.DomainNeighborhood),
	}

	result, err := s.Deduplicate(context.Background(), claims)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("expected 2 claims after dedup, got %d", len(result))
	}
	if result[0].Text != "has a private balcony" {
		t.Errorf("expected earlier claim to win, got %q", result[0].Text)
	}
	if result[1].Text != "close to the subway" {
		t.Errorf("unexpected second claim: %q", result[1].Text)
	}
}

func TestDeduplicate_BelowThresholdKeepsBoth(t *testing.T) {
	// косинус между векторами ~0.9701, ниже порога 0.98
	embedder := fixedVectors([][]float32{
		{1, 0, 0},
		{4, 1, 0},
	})
	s := New(testLogger(), embedder, 0.98)

	claims := []domain.Claim{
		domain.NewClaim("quiet street", domain.ClaimNeighborhood, domain.DomainNeighborhood),
		domain.NewClaim("calm neighborhood", domain.ClaimNeighborhood, domain.DomainNeighborhood),
	}

	result, err := s.Deduplicate(context.Background(), claims)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("expected both claims kept below threshold, got %d", len(result))
	}
}

func TestDeduplicate_ThresholdBoundaryInclusive(t *testing.T) {
	// идентичные векторы: косинус ровно 1.0, порог 1.0 — всё ещё дубликат
	embedder := fixedVectors([][]float32{
		{0, 2, 0},
		{0, 2, 0},
	})
	s := New(testLogger(), embedder, 1.0)

	claims := []domain.Claim{
		domain.NewClaim("pets allowed", domain.ClaimPolicies, domain.DomainApartment),
		domain.NewClaim("pets allowed", domain.ClaimPolicies, domain.DomainApartment),
	}

	result, err := s.Deduplicate(context.Background(), claims)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result) != 1 {
		t.Fatalf("expected similarity at the threshold to count as duplicate, got %d claims", len(result))
	}
}

func TestDeduplicate_MergesSourcesTextFirst(t *testing.T) {
	embedder := fixedVectors([][]float32{
		{1, 0, 0},
		{1, 0, 0},
	})
	s := New(testLogger(), embedder, 0.98)

	imageClaim := domain.NewClaim("modern kitchen", domain.ClaimFeatures, domain.DomainRoom)
	imageClaim.Sources = []domain.ClaimSource{{Kind: domain.SourceImage, ImageURL: "http://img/1.jpg", ImageIndex: 0}}

	textClaim := domain.NewClaim("renovated kitchen", domain.ClaimFeatures, domain.DomainRoom)
	textClaim.Sources = []domain.ClaimSource{{Kind: domain.SourceText}}

	result, err := s.Deduplicate(context.Background(), []domain.Claim{imageClaim, textClaim})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result) != 1 {
		t.Fatalf("expected 1 claim, got %d", len(result))
	}
	sources := result[0].Sources
	if len(sources) != 2 {
		t.Fatalf("expected merged sources, got %d", len(sources))
	}
	if sources[0].Kind != domain.SourceText {
		t.Errorf("expected text source first, got %s", sources[0].Kind)
	}
}

func TestDeduplicate_SingleClaimSkipsEmbedding(t *testing.T) {
	embedder := &mockEmbedder{
		embedBatchFunc: func(ctx context.Context, texts []string, task embeddings.TaskType) ([][]float32, error) {
			t.Fatal("embedder should not be called for a single claim")
			return nil, nil
		},
	}
	s := New(testLogger(), embedder, 0.98)

	claims := []domain.Claim{
		domain.NewClaim("top floor unit", domain.ClaimFeatures, domain.DomainApartment),
	}

	result, err := s.Deduplicate(context.Background(), claims)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("expected claim passed through, got %d", len(result))
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if diff := got - tt.expected; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Cosine(%v, %v) = %f, want %f", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestMergeSources_DropsExactDuplicates(t *testing.T) {
	a := []domain.ClaimSource{
		{Kind: domain.SourceImage, ImageURL: "http://img/1.jpg", ImageIndex: 0},
	}
	b := []domain.ClaimSource{
		{Kind: domain.SourceImage, ImageURL: "http://img/1.jpg", ImageIndex: 0},
		{Kind: domain.SourceText},
	}

	merged := MergeSources(a, b)

	if len(merged) != 2 {
		t.Fatalf("expected 2 unique sources, got %d", len(merged))
	}
	if merged[0].Kind != domain.SourceText {
		t.Errorf("expected text source ordered first, got %s", merged[0].Kind)
	}
}

package grounding

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"claim_search/internal/config"
	"claim_search/internal/domain"
	groundinglib "claim_search/internal/lib/grounding"
)

type mockClient struct {
	groundClaimFunc func(ctx context.Context, req groundinglib.GroundRequest) (*groundinglib.GroundResult, error)
	calls           int
}

func (m *mockClient) GroundClaim(ctx context.Context, req groundinglib.GroundRequest) (*groundinglib.GroundResult, error) {
	m.calls++
	return m.groundClaimFunc(ctx, req)
}

func (m *mockClient) GenerateLocationSummary(ctx context.Context, location domain.GeoPoint, address string) (*groundinglib.LocationSummary, error) {
	return &groundinglib.LocationSummary{}, nil
}

func (m *mockClient) IsEnabled() bool { return true }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func testConfig() config.GroundingConfig {
	return config.GroundingConfig{
		Enabled:             true,
		CacheTTLDays:        30,
		MaxPerListing:       3,
		TransportTTLDays:    90,
		NeighborhoodTTLDays: 14,
	}
}

func verifiedResult() *groundinglib.GroundResult {
	return &groundinglib.GroundResult{
		Verified:      true,
		PlaceName:     "Prospect Park",
		PlaceLocation: &domain.GeoPoint{Lat: 40.66, Lon: -73.97},
		RadiusM:       2000,
		DistanceM:     350,
		Summary:       "The park entrance is a short walk away.",
	}
}

func TestShouldGround(t *testing.T) {
	s := New(testLogger(), &mockClient{}, testConfig())

	tests := []struct {
		name     string
		claim    domain.Claim
		expected bool
	}{
		{
			name: "specific location claim",
			claim: func() domain.Claim {
				c := domain.NewClaim("two blocks from Prospect Park", domain.ClaimLocation, domain.DomainNeighborhood)
				c.IsSpecific = true
				return c
			}(),
			expected: true,
		},
		{
			name: "generic location claim",
			claim: func() domain.Claim {
				c := domain.NewClaim("in a nice area", domain.ClaimLocation, domain.DomainNeighborhood)
				return c
			}(),
			expected: false,
		},
		{
			name: "room domain never grounded",
			claim: func() domain.Claim {
				c := domain.NewClaim("kitchen faces Carroll Street", domain.ClaimLocation, domain.DomainRoom)
				c.IsSpecific = true
				return c
			}(),
			expected: false,
		},
		{
			name: "non-groundable type",
			claim: func() domain.Claim {
				c := domain.NewClaim("rent is $3000", domain.ClaimPricing, domain.DomainApartment)
				c.IsSpecific = true
				return c
			}(),
			expected: false,
		},
		{
			name: "specific transport claim",
			claim: func() domain.Claim {
				c := domain.NewClaim("5 minutes to the F train at 7th Ave", domain.ClaimTransport, domain.DomainNeighborhood)
				c.IsSpecific = true
				return c
			}(),
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.ShouldGround(tt.claim); got != tt.expected {
				t.Errorf("ShouldGround(%q) = %v, want %v", tt.claim.Text, got, tt.expected)
			}
		})
	}
}

func TestGroundClaims_VerifiedCopyAppended(t *testing.T) {
	mock := &mockClient{
		groundClaimFunc: func(ctx context.Context, req groundinglib.GroundRequest) (*groundinglib.GroundResult, error) {
			return verifiedResult(), nil
		},
	}
	s := New(testLogger(), mock, testConfig())

	claim := domain.NewClaim("two blocks from Prospect Park", domain.ClaimLocation, domain.DomainNeighborhood)
	claim.IsSpecific = true
	originalWeight := claim.Weight

	location := &domain.GeoPoint{Lat: 40.67, Lon: -73.98}
	result := s.GroundClaims(context.Background(), []domain.Claim{claim}, location)

	if len(result) != 2 {
		t.Fatalf("expected base claim plus verified copy, got %d claims", len(result))
	}

	base := result[0]
	if base.Kind != domain.KindBase || base.Weight != originalWeight || base.Grounding != nil {
		t.Errorf("base claim must stay untouched, got %+v", base)
	}

	grounded := result[1]
	if grounded.Kind != domain.KindVerified {
		t.Errorf("expected verified kind, got %s", grounded.Kind)
	}
	if grounded.ID == base.ID {
		t.Error("verified copy must get its own id")
	}
	expectedWeight := originalWeight * domain.VerifiedWeightFactor
	if grounded.Weight != expectedWeight {
		t.Errorf("expected weight %f, got %f", expectedWeight, grounded.Weight)
	}
	if grounded.Grounding == nil || !grounded.Grounding.Verified {
		t.Fatal("expected grounding metadata attached")
	}
	if grounded.Grounding.PlaceName != "Prospect Park" {
		t.Errorf("unexpected place name: %s", grounded.Grounding.PlaceName)
	}

	// квантификатор дистанции до подтверждённого места
	q := grounded.QuantifierFor(domain.QuantDistance, "prospect park")
	if q == nil {
		t.Fatal("expected distance quantifier for verified place")
	}
	if q.VMin != 350 || q.Op != domain.OpApprox {
		t.Errorf("unexpected distance quantifier: %+v", q)
	}
}

func TestGroundClaims_NilLocationPassthrough(t *testing.T) {
	mock := &mockClient{
		groundClaimFunc: func(ctx context.Context, req groundinglib.GroundRequest) (*groundinglib.GroundResult, error) {
			t.Fatal("grounding must not be called without coordinates")
			return nil, nil
		},
	}
	s := New(testLogger(), mock, testConfig())

	claim := domain.NewClaim("near the park", domain.ClaimLocation, domain.DomainNeighborhood)
	claim.IsSpecific = true

	result := s.GroundClaims(context.Background(), []domain.Claim{claim}, nil)

	if len(result) != 1 || result[0].Kind != domain.KindBase {
		t.Error("expected claims passed through unchanged")
	}
}

func TestGroundClaims_CapPerListing(t *testing.T) {
	mock := &mockClient{
		groundClaimFunc: func(ctx context.Context, req groundinglib.GroundRequest) (*groundinglib.GroundResult, error) {
			return verifiedResult(), nil
		},
	}
	cfg := testConfig()
	cfg.MaxPerListing = 2
	s := New(testLogger(), mock, cfg)

	texts := []string{
		"next to Prospect Park",
		"around the corner from the Brooklyn Museum",
		"steps from Grand Army Plaza",
		"close to the Botanic Garden",
	}
	claims := make([]domain.Claim, 0, len(texts))
	for _, text := range texts {
		c := domain.NewClaim(text, domain.ClaimLocation, domain.DomainNeighborhood)
		c.IsSpecific = true
		claims = append(claims, c)
	}

	location := &domain.GeoPoint{Lat: 40.67, Lon: -73.98}
	s.GroundClaims(context.Background(), claims, location)

	if mock.calls != 2 {
		t.Errorf("expected grounding capped at 2 calls, got %d", mock.calls)
	}
}

func TestGroundClaims_CacheHitSkipsClient(t *testing.T) {
	mock := &mockClient{
		groundClaimFunc: func(ctx context.Context, req groundinglib.GroundRequest) (*groundinglib.GroundResult, error) {
			return verifiedResult(), nil
		},
	}
	s := New(testLogger(), mock, testConfig())

	claim := domain.NewClaim("two blocks from Prospect Park", domain.ClaimLocation, domain.DomainNeighborhood)
	claim.IsSpecific = true
	location := &domain.GeoPoint{Lat: 40.67, Lon: -73.98}

	s.GroundClaims(context.Background(), []domain.Claim{claim}, location)
	s.GroundClaims(context.Background(), []domain.Claim{claim}, location)

	if mock.calls != 1 {
		t.Errorf("expected second grounding served from cache, got %d calls", mock.calls)
	}
}

func TestCacheKey(t *testing.T) {
	location := domain.GeoPoint{Lat: 40.6782, Lon: -73.9812}

	key := cacheKey(location, domain.ClaimLocation, "Two Blocks From Prospect Park")

	expected := "40.68_-73.98:location:two_blocks_from_prospect_park"
	if key != expected {
		t.Errorf("cacheKey = %q, want %q", key, expected)
	}
}

func TestCacheKey_TruncatesLongText(t *testing.T) {
	location := domain.GeoPoint{Lat: 40.0, Lon: -73.0}
	long := "a very long claim text that certainly exceeds the fifty character prefix limit used for cache keys"

	key := cacheKey(location, domain.ClaimTransport, long)

	// префикс нормализуется до 50 символов исходного текста
	expected := "40.00_-73.00:transport:a_very_long_claim_text_that_certainly_exceeds_the_"
	if key != expected {
		t.Errorf("cacheKey = %q, want %q", key, expected)
	}
}

func TestTTLFor(t *testing.T) {
	s := New(testLogger(), &mockClient{}, testConfig())

	tests := []struct {
		ctype domain.ClaimType
		days  int
	}{
		{domain.ClaimTransport, 90},
		{domain.ClaimLocation, 90},
		{domain.ClaimNeighborhood, 14},
		{domain.ClaimAmenities, 30},
	}

	for _, tt := range tests {
		got := s.ttlFor(tt.ctype)
		if got.Hours() != float64(tt.days)*24 {
			t.Errorf("ttlFor(%s) = %v, want %d days", tt.ctype, got, tt.days)
		}
	}
}

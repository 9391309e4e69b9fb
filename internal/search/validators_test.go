package search

import (
	"testing"

	"claim_search/internal/domain"

	"github.com/stretchr/testify/assert"
)

func claimWithQuantifier(q domain.Quantifier) domain.Claim {
	c := domain.NewClaim("test claim", domain.ClaimPricing, domain.DomainApartment)
	c.Quantifiers = []domain.Quantifier{q}
	return c
}

func TestQuantifierSatisfied(t *testing.T) {
	tests := []struct {
		name     string
		search   domain.Quantifier
		matched  domain.Quantifier
		expected bool
	}{
		{
			name:     "GTE satisfied",
			search:   domain.Quantifier{Type: domain.QuantArea, Noun: "apartment", VMin: 50, Op: domain.OpGTE},
			matched:  domain.Quantifier{Type: domain.QuantArea, Noun: "apartment", VMin: 65, VMax: 65},
			expected: true,
		},
		{
			name:     "GTE violated",
			search:   domain.Quantifier{Type: domain.QuantArea, Noun: "apartment", VMin: 50, Op: domain.OpGTE},
			matched:  domain.Quantifier{Type: domain.QuantArea, Noun: "apartment", VMin: 40, VMax: 40},
			expected: false,
		},
		{
			name:     "GT requires strict",
			search:   domain.Quantifier{Type: domain.QuantCount, Noun: "bedroom", VMin: 2, Op: domain.OpGT},
			matched:  domain.Quantifier{Type: domain.QuantCount, Noun: "bedroom", VMin: 2, VMax: 2},
			expected: false,
		},
		{
			name:     "LTE satisfied at boundary",
			search:   domain.Quantifier{Type: domain.QuantMoney, Noun: "rent", VMax: 2000, Op: domain.OpLTE},
			matched:  domain.Quantifier{Type: domain.QuantMoney, Noun: "rent", VMin: 2000, VMax: 2000},
			expected: true,
		},
		{
			name:     "LT violated at boundary",
			search:   domain.Quantifier{Type: domain.QuantMoney, Noun: "rent", VMax: 2000, Op: domain.OpLT},
			matched:  domain.Quantifier{Type: domain.QuantMoney, Noun: "rent", VMin: 2000, VMax: 2000},
			expected: false,
		},
		{
			name:     "EQUALS inside matched range",
			search:   domain.Quantifier{Type: domain.QuantCount, Noun: "bedroom", VMin: 2, VMax: 2, Op: domain.OpEquals},
			matched:  domain.Quantifier{Type: domain.QuantCount, Noun: "bedroom", VMin: 1, VMax: 3},
			expected: true,
		},
		{
			name:     "EQUALS outside matched range",
			search:   domain.Quantifier{Type: domain.QuantCount, Noun: "bedroom", VMin: 4, VMax: 4, Op: domain.OpEquals},
			matched:  domain.Quantifier{Type: domain.QuantCount, Noun: "bedroom", VMin: 1, VMax: 3},
			expected: false,
		},
		{
			name:     "APPROX uses same containment rule",
			search:   domain.Quantifier{Type: domain.QuantDistance, Noun: "park", VMin: 400, VMax: 400, Op: domain.OpApprox},
			matched:  domain.Quantifier{Type: domain.QuantDistance, Noun: "park", VMin: 300, VMax: 500},
			expected: true,
		},
		{
			name:     "RANGE overlap",
			search:   domain.Quantifier{Type: domain.QuantMoney, Noun: "rent", VMin: 1500, VMax: 2500, Op: domain.OpRange},
			matched:  domain.Quantifier{Type: domain.QuantMoney, Noun: "rent", VMin: 2400, VMax: 3000},
			expected: true,
		},
		{
			name:     "RANGE disjoint",
			search:   domain.Quantifier{Type: domain.QuantMoney, Noun: "rent", VMin: 1500, VMax: 2500, Op: domain.OpRange},
			matched:  domain.Quantifier{Type: domain.QuantMoney, Noun: "rent", VMin: 2600, VMax: 3000},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, quantifierSatisfied(tt.search, tt.matched))
		})
	}
}

func TestQuantifiersSatisfied_SkipsMissingPair(t *testing.T) {
	search := claimWithQuantifier(domain.Quantifier{
		Type: domain.QuantMoney, Noun: "rent", VMax: 2000, Op: domain.OpLTE,
	})

	// у найденного утверждения нет квантификатора (money, rent) — пропуск
	matched := claimWithQuantifier(domain.Quantifier{
		Type: domain.QuantCount, Noun: "bedroom", VMin: 2, VMax: 2,
	})

	assert.True(t, quantifiersSatisfied(search, matched))
}

func TestQuantifiersSatisfied_NounMismatchSkipped(t *testing.T) {
	search := claimWithQuantifier(domain.Quantifier{
		Type: domain.QuantCount, Noun: "bathroom", VMin: 2, Op: domain.OpGTE,
	})
	matched := claimWithQuantifier(domain.Quantifier{
		Type: domain.QuantCount, Noun: "bedroom", VMin: 1, VMax: 1,
	})

	assert.True(t, quantifiersSatisfied(search, matched))
}

func TestQuantifiersSatisfied_AnyFailureFails(t *testing.T) {
	search := domain.NewClaim("2 bed under $2000", domain.ClaimSize, domain.DomainApartment)
	search.Quantifiers = []domain.Quantifier{
		{Type: domain.QuantCount, Noun: "bedroom", VMin: 2, VMax: 2, Op: domain.OpEquals},
		{Type: domain.QuantMoney, Noun: "rent", VMax: 2000, Op: domain.OpLTE},
	}

	matched := domain.NewClaim("2 bedroom at $2500", domain.ClaimSize, domain.DomainApartment)
	matched.Quantifiers = []domain.Quantifier{
		{Type: domain.QuantCount, Noun: "bedroom", VMin: 2, VMax: 2},
		{Type: domain.QuantMoney, Noun: "rent", VMin: 2500, VMax: 2500},
	}

	assert.False(t, quantifiersSatisfied(search, matched))
}

func TestAntiGateDrops(t *testing.T) {
	base := domain.NewClaim("pets allowed", domain.ClaimPolicies, domain.DomainApartment)
	anti := domain.NewClaim("no pets allowed", domain.ClaimPolicies, domain.DomainApartment)
	anti.Kind = domain.KindAnti

	tests := []struct {
		name     string
		matches  []claimMatch
		expected bool
	}{
		{
			name: "strong anti beats weaker positive",
			matches: []claimMatch{
				{Matched: base, Similarity: 0.85},
				{Matched: anti, Similarity: 0.93},
			},
			expected: true,
		},
		{
			name: "anti below threshold ignored",
			matches: []claimMatch{
				{Matched: base, Similarity: 0.80},
				{Matched: anti, Similarity: 0.88},
			},
			expected: false,
		},
		{
			name: "positive outranks anti",
			matches: []claimMatch{
				{Matched: base, Similarity: 0.95},
				{Matched: anti, Similarity: 0.92},
			},
			expected: false,
		},
		{
			name: "no anti matches",
			matches: []claimMatch{
				{Matched: base, Similarity: 0.9},
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, antiGateDrops(tt.matches, 0.90))
		})
	}
}

func TestQuantifierGateDrops(t *testing.T) {
	search := domain.NewClaim("3 bedroom apartment", domain.ClaimSize, domain.DomainApartment)
	search.Quantifiers = []domain.Quantifier{
		{Type: domain.QuantCount, Noun: "bedroom", VMin: 3, VMax: 3, Op: domain.OpEquals},
	}

	twoBed := domain.NewClaim("2 bedroom apartment", domain.ClaimSize, domain.DomainApartment)
	twoBed.Quantifiers = []domain.Quantifier{
		{Type: domain.QuantCount, Noun: "bedroom", VMin: 2, VMax: 2},
	}

	threeBed := domain.NewClaim("3 bedroom apartment", domain.ClaimSize, domain.DomainApartment)
	threeBed.Quantifiers = []domain.Quantifier{
		{Type: domain.QuantCount, Noun: "bedroom", VMin: 3, VMax: 3},
	}

	t.Run("violating apartment match drops candidate", func(t *testing.T) {
		c := &candidate{apartmentID: "apt-1"}
		c.add(claimMatch{Search: search, Matched: twoBed, Domain: domain.DomainApartment, Similarity: 0.95, ApartmentID: "apt-1"})

		assert.True(t, quantifierGateDrops(c))
	})

	t.Run("satisfied quantifier passes", func(t *testing.T) {
		c := &candidate{apartmentID: "apt-1"}
		c.add(claimMatch{Search: search, Matched: threeBed, Domain: domain.DomainApartment, Similarity: 0.95, ApartmentID: "apt-1"})

		assert.False(t, quantifierGateDrops(c))
	})

	t.Run("neighborhood matches never gate", func(t *testing.T) {
		c := &candidate{apartmentID: "apt-1"}
		c.add(claimMatch{Search: search, Matched: twoBed, Domain: domain.DomainNeighborhood, Similarity: 0.95, ApartmentID: "apt-1"})

		assert.False(t, quantifierGateDrops(c))
	})

	t.Run("unquantified search claim skipped", func(t *testing.T) {
		plain := domain.NewClaim("spacious apartment", domain.ClaimSize, domain.DomainApartment)

		c := &candidate{apartmentID: "apt-1"}
		c.add(claimMatch{Search: plain, Matched: twoBed, Domain: domain.DomainApartment, Similarity: 0.95, ApartmentID: "apt-1"})

		assert.False(t, quantifierGateDrops(c))
	})
}

func TestThresholdFor(t *testing.T) {
	location := domain.NewClaim("near downtown", domain.ClaimLocation, domain.DomainNeighborhood)
	assert.Equal(t, 0.92, thresholdFor(location))

	location.IsSpecific = true
	assert.Equal(t, 0.90, thresholdFor(location))

	amenities := domain.NewClaim("has a gym", domain.ClaimAmenities, domain.DomainApartment)
	assert.Equal(t, 0.70, thresholdFor(amenities))

	neighborhood := domain.NewClaim("lively area", domain.ClaimNeighborhood, domain.DomainNeighborhood)
	assert.Equal(t, 0.73, thresholdFor(neighborhood))
}

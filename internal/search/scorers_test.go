package search

import (
	"math"
	"testing"

	"claim_search/internal/domain"
	"claim_search/internal/lib/llm"
)

func baseMatch(similarity float64) claimMatch {
	search := domain.NewClaim("has a dishwasher", domain.ClaimAmenities, domain.DomainApartment)
	matched := domain.NewClaim("dishwasher in the kitchen", domain.ClaimAmenities, domain.DomainApartment)
	matched.Weight = 1.0
	return claimMatch{
		Search:     search,
		Matched:    matched,
		Domain:     domain.DomainApartment,
		Similarity: similarity,
		Verdict:    llm.Compatible,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestMatchScore_CleanMatch(t *testing.T) {
	m := baseMatch(0.9)

	score, ok := matchScore(m, false)
	if !ok {
		t.Fatal("expected match accepted")
	}
	if !almostEqual(score, 0.9) {
		t.Errorf("expected raw similarity as base score, got %f", score)
	}
}

func TestMatchScore_IgnoresMatchedWeight(t *testing.T) {
	m := baseMatch(0.9)
	m.Matched.Weight = 0.5

	score, ok := matchScore(m, false)
	if !ok {
		t.Fatal("expected match accepted")
	}
	if !almostEqual(score, 0.9) {
		t.Errorf("matched claim weight must not scale the score, got %f", score)
	}
}

func TestMatchScore_ThresholdGate(t *testing.T) {
	// порог для amenities — 0.70
	below := baseMatch(0.65)
	if _, ok := matchScore(below, false); ok {
		t.Error("match below the type threshold must be rejected")
	}

	// в режиме double-check порог не применяется
	score, ok := matchScore(below, true)
	if !ok {
		t.Fatal("double-check mode must keep sub-threshold matches")
	}
	if !almostEqual(score, 0.65) {
		t.Errorf("unexpected score in double-check mode: %f", score)
	}

	// порог для location выше — 0.92
	loc := baseMatch(0.85)
	loc.Search.Type = domain.ClaimLocation
	if _, ok := matchScore(loc, false); ok {
		t.Error("location match below 0.92 must be rejected")
	}
}

func TestMatchScore_QuantifierFailurePenalty(t *testing.T) {
	m := baseMatch(0.9)
	m.Search.Quantifiers = []domain.Quantifier{
		{Type: domain.QuantMoney, Noun: "rent", VMax: 2000, Op: domain.OpLTE},
	}
	m.Matched.Quantifiers = []domain.Quantifier{
		{Type: domain.QuantMoney, Noun: "rent", VMin: 3000, VMax: 3000},
	}

	score, ok := matchScore(m, false)
	if !ok {
		t.Fatal("expected match accepted")
	}
	if !almostEqual(score, 0.9*quantifierFailPenalty) {
		t.Errorf("expected quantifier penalty, got %f", score)
	}
}

func TestMatchScore_AntiPenalties(t *testing.T) {
	strong := baseMatch(0.90)
	strong.Matched.Kind = domain.KindAnti

	score, _ := matchScore(strong, false)
	if !almostEqual(score, 0.90*strongAntiPenalty) {
		t.Errorf("expected strong anti penalty, got %f", score)
	}

	weak := baseMatch(0.80)
	weak.Matched.Kind = domain.KindAnti

	score, _ = matchScore(weak, false)
	if !almostEqual(score, 0.80*antiPenalty) {
		t.Errorf("expected anti penalty, got %f", score)
	}
}

func TestMatchScore_QuantifierFailureTakesPrecedenceOverAnti(t *testing.T) {
	m := baseMatch(0.9)
	m.Matched.Kind = domain.KindAnti
	m.Search.Quantifiers = []domain.Quantifier{
		{Type: domain.QuantCount, Noun: "bedroom", VMin: 3, Op: domain.OpGTE},
	}
	m.Matched.Quantifiers = []domain.Quantifier{
		{Type: domain.QuantCount, Noun: "bedroom", VMin: 1, VMax: 1},
	}

	score, _ := matchScore(m, false)
	// лестница штрафов: срабатывает только первый подходящий
	if !almostEqual(score, 0.9*quantifierFailPenalty) {
		t.Errorf("expected quantifier penalty only, got %f", score)
	}
}

func TestMatchScore_NegationMismatchPenalty(t *testing.T) {
	m := baseMatch(0.9)
	m.Search.Negation = true

	score, _ := matchScore(m, false)
	if !almostEqual(score, 0.9*negationPenalty) {
		t.Errorf("expected negation penalty, got %f", score)
	}
}

func TestMatchScore_CompatibilityVerdicts(t *testing.T) {
	rejected := baseMatch(0.9)
	rejected.Verdict = llm.Incompatible

	if _, ok := matchScore(rejected, false); ok {
		t.Error("incompatible match must be rejected")
	}

	partial := baseMatch(0.9)
	partial.Verdict = llm.PartiallyCompatible

	score, ok := matchScore(partial, false)
	if !ok {
		t.Fatal("partially compatible match must be kept")
	}
	if !almostEqual(score, 0.9*partialPenalty) {
		t.Errorf("expected partial penalty, got %f", score)
	}
}

func TestMatchScore_PartialStacksWithPenalty(t *testing.T) {
	m := baseMatch(0.9)
	m.Search.Negation = true
	m.Verdict = llm.PartiallyCompatible

	score, _ := matchScore(m, false)
	if !almostEqual(score, 0.9*negationPenalty*partialPenalty) {
		t.Errorf("expected negation and partial penalties combined, got %f", score)
	}
}

func TestScoreCandidate_DomainWeightsRenormalized(t *testing.T) {
	// совпадения только в двух доменах из трёх: веса 0.40 и 0.25
	// перенормируются до 0.615 и 0.385
	apartment := baseMatch(1.0)

	nbhSearch := domain.NewClaim("quiet block", domain.ClaimNeighborhood, domain.DomainNeighborhood)
	nbhMatched := domain.NewClaim("very quiet street", domain.ClaimNeighborhood, domain.DomainNeighborhood)
	nbhMatched.Weight = 1.0
	neighborhood := claimMatch{
		Search:     nbhSearch,
		Matched:    nbhMatched,
		Domain:     domain.DomainNeighborhood,
		Similarity: 1.0,
		Verdict:    llm.Compatible,
	}

	c := &candidate{apartmentID: "apt-1"}
	c.add(apartment)
	c.add(neighborhood)

	result := scoreCandidate(c, 2, 0.90, false)

	if result.coverage != 2 {
		t.Fatalf("expected coverage 2, got %d", result.coverage)
	}

	// каждый домен: лучшая сумма 1.0 / 2 утверждения = 0.5
	wApt := domainWeights[domain.DomainApartment] / (domainWeights[domain.DomainApartment] + domainWeights[domain.DomainNeighborhood])
	wNbh := domainWeights[domain.DomainNeighborhood] / (domainWeights[domain.DomainApartment] + domainWeights[domain.DomainNeighborhood])
	expected := 0.5*wApt + 0.5*wNbh

	if !almostEqual(result.finalScore, expected) {
		t.Errorf("expected renormalized score %f, got %f", expected, result.finalScore)
	}
}

func TestScoreCandidate_TotalClaimDenominator(t *testing.T) {
	// одно покрытое утверждение из четырёх: доменная сумма делится на 4
	c := &candidate{apartmentID: "apt-1"}
	c.add(baseMatch(1.0))

	result := scoreCandidate(c, 4, 0.90, false)

	if !almostEqual(result.domainScores[domain.DomainApartment], 0.25) {
		t.Errorf("expected domain score 0.25, got %f", result.domainScores[domain.DomainApartment])
	}
	// единственный домен: перенормированный вес 1.0
	if !almostEqual(result.finalScore, 0.25) {
		t.Errorf("expected final score 0.25, got %f", result.finalScore)
	}
}

func TestScoreCandidate_AntiGateDropsClaim(t *testing.T) {
	positive := baseMatch(0.85)

	anti := baseMatch(0.95)
	anti.Search = positive.Search
	anti.Matched.Kind = domain.KindAnti

	c := &candidate{apartmentID: "apt-1"}
	c.add(positive)
	c.add(anti)

	result := scoreCandidate(c, 1, 0.90, false)

	if result.coverage != 0 {
		t.Errorf("expected claim dropped by anti gate, coverage %d", result.coverage)
	}
	if result.finalScore != 0 {
		t.Errorf("expected zero score, got %f", result.finalScore)
	}
}

func TestScoreCandidate_BestMatchPerClaimWins(t *testing.T) {
	weaker := baseMatch(0.75)
	stronger := baseMatch(0.95)
	stronger.Search = weaker.Search

	c := &candidate{apartmentID: "apt-1"}
	c.add(weaker)
	c.add(stronger)

	result := scoreCandidate(c, 1, 0.90, false)

	if result.coverage != 1 {
		t.Fatalf("expected coverage 1, got %d", result.coverage)
	}
	if !almostEqual(result.finalScore, 0.95) {
		t.Errorf("expected best match to win, got %f", result.finalScore)
	}
	if len(result.matchedClaims) != 1 {
		t.Errorf("expected single best matched claim in output, got %d", len(result.matchedClaims))
	}
}

func TestRankCandidates_CoverageBeforeScore(t *testing.T) {
	scored := []scoredCandidate{
		{apartmentID: "high-score", finalScore: 0.9, coverage: 1},
		{apartmentID: "high-coverage", finalScore: 0.4, coverage: 3},
		{apartmentID: "middle", finalScore: 0.6, coverage: 3},
	}

	ranked := rankCandidates(scored, 0.05, 10, false)

	if len(ranked) != 3 {
		t.Fatalf("expected 3 results, got %d", len(ranked))
	}
	if ranked[0].apartmentID != "middle" {
		t.Errorf("expected higher score within equal coverage first, got %s", ranked[0].apartmentID)
	}
	if ranked[1].apartmentID != "high-coverage" {
		t.Errorf("expected coverage to dominate, got %s", ranked[1].apartmentID)
	}
	if ranked[2].apartmentID != "high-score" {
		t.Errorf("expected lower coverage last, got %s", ranked[2].apartmentID)
	}
}

func TestRankCandidates_FiltersAndTruncates(t *testing.T) {
	scored := []scoredCandidate{
		{apartmentID: "ok", finalScore: 0.5, coverage: 2},
		{apartmentID: "low-score", finalScore: 0.03, coverage: 1},
		{apartmentID: "no-coverage", finalScore: 0.8, coverage: 0},
		{apartmentID: "also-ok", finalScore: 0.4, coverage: 2},
	}

	ranked := rankCandidates(scored, 0.05, 1, false)

	if len(ranked) != 1 {
		t.Fatalf("expected truncation to 1, got %d", len(ranked))
	}
	if ranked[0].apartmentID != "ok" {
		t.Errorf("unexpected winner: %s", ranked[0].apartmentID)
	}
}

func TestRankCandidates_DoubleCheckSkipsScoreFilter(t *testing.T) {
	scored := []scoredCandidate{
		{apartmentID: "low-score", finalScore: 0.01, coverage: 1},
		{apartmentID: "no-coverage", finalScore: 0.9, coverage: 0},
	}

	ranked := rankCandidates(scored, 0.05, 10, true)

	if len(ranked) != 1 {
		t.Fatalf("expected only coverage filter in double-check mode, got %d", len(ranked))
	}
	if ranked[0].apartmentID != "low-score" {
		t.Errorf("unexpected result: %s", ranked[0].apartmentID)
	}
}

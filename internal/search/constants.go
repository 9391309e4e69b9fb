package search

import "claim_search/internal/domain"

// Пороги косинусной близости по типам утверждений. Локация требует почти
// точного совпадения, удобства и район матчатся свободнее.
var typeThresholds = map[domain.ClaimType]float64{
	domain.ClaimLocation:      0.92,
	domain.ClaimSize:          0.80,
	domain.ClaimFeatures:      0.75,
	domain.ClaimPricing:       0.85,
	domain.ClaimAmenities:     0.70,
	domain.ClaimCondition:     0.75,
	domain.ClaimAccessibility: 0.75,
	domain.ClaimPolicies:      0.80,
	domain.ClaimUtilities:     0.75,
	domain.ClaimTransport:     0.75,
	domain.ClaimNeighborhood:  0.73,
	domain.ClaimRestrictions:  0.80,
}

// Специфичная локация ("near Prospect Park") матчится чуть мягче:
// формулировки одного места сильно варьируются.
const specificLocationThreshold = 0.90

const defaultThreshold = 0.75

// thresholdFor — порог близости для поискового утверждения.
func thresholdFor(c domain.Claim) float64 {
	if c.Type == domain.ClaimLocation && c.IsSpecific {
		return specificLocationThreshold
	}
	if t, ok := typeThresholds[c.Type]; ok {
		return t
	}
	return defaultThreshold
}

// Веса доменов. Перенормируются по доменам, давшим совпадения.
var domainWeights = map[domain.ClaimDomain]float64{
	domain.DomainRoom:         0.35,
	domain.DomainApartment:    0.40,
	domain.DomainNeighborhood: 0.25,
}

// Размеры выборки ANN по доменам.
const (
	roomK         = 100
	apartmentK    = 200
	neighborhoodK = 50
)

// Штрафы за несоответствия. Применяется первый подходящий.
const (
	quantifierFailPenalty = 0.1
	strongAntiPenalty     = 0.01
	antiPenalty           = 0.05
	negationPenalty       = 0.1
	partialPenalty        = 0.5

	// Порог близости, после которого анти-совпадение считается сильным.
	strongAntiSimilarity = 0.85
)

package search

import (
	"sort"

	"claim_search/internal/domain"
	"claim_search/internal/lib/llm"

	"github.com/google/uuid"
)

// claimMatch — одно совпадение поискового утверждения с утверждением
// листинга, прошедшее порог близости.
type claimMatch struct {
	Search      domain.Claim
	Matched     domain.Claim
	Domain      domain.ClaimDomain
	Similarity  float64
	Verdict     llm.Compatibility
	ApartmentID string
}

// candidate — квартира-кандидат со всеми её совпадениями,
// сгруппированными по поисковым утверждениям.
type candidate struct {
	apartmentID string
	matches     map[uuid.UUID][]claimMatch
}

func (c *candidate) add(m claimMatch) {
	if c.matches == nil {
		c.matches = make(map[uuid.UUID][]claimMatch)
	}
	c.matches[m.Search.ID] = append(c.matches[m.Search.ID], m)
}

// matchScore — оценка одного совпадения. Совпадение ниже порога для типа
// утверждения отклоняется, кроме режима double-check: там решает модель.
// База — сырая близость; дальше лестница штрафов, применяется первый
// подходящий. Несовместимый вердикт отклоняет совпадение целиком.
func matchScore(m claimMatch, doubleCheck bool) (float64, bool) {
	if m.Verdict == llm.Incompatible {
		return 0, false
	}
	if !doubleCheck && m.Similarity < thresholdFor(m.Search) {
		return 0, false
	}

	score := m.Similarity

	switch {
	case !quantifiersSatisfied(m.Search, m.Matched):
		score *= quantifierFailPenalty
	case m.Matched.Kind == domain.KindAnti && m.Similarity >= strongAntiSimilarity:
		score *= strongAntiPenalty
	case m.Matched.Kind == domain.KindAnti:
		score *= antiPenalty
	case m.Search.Negation != m.Matched.Negation:
		score *= negationPenalty
	}

	if m.Verdict == llm.PartiallyCompatible {
		score *= partialPenalty
	}

	return score, true
}

// scoredCandidate — кандидат после агрегации.
type scoredCandidate struct {
	apartmentID   string
	finalScore    float64
	coverage      int
	domainScores  map[domain.ClaimDomain]float64
	matchedClaims []domain.MatchedClaim
}

// scoreCandidate сводит совпадения кандидата в итоговую оценку:
// анти-гейт по каждому утверждению, лучшее валидное совпадение на пару
// (утверждение, домен), суммы по доменам с перенормированными весами.
// Знаменатель — общее число поисковых утверждений: кандидат, закрывший
// половину запроса, получает половину балла.
func scoreCandidate(c *candidate, totalClaims int, antiThreshold float64, doubleCheck bool) scoredCandidate {
	result := scoredCandidate{
		apartmentID:  c.apartmentID,
		domainScores: make(map[domain.ClaimDomain]float64),
	}
	if totalClaims == 0 {
		return result
	}

	type bestMatch struct {
		match claimMatch
		score float64
	}

	// лучшее валидное совпадение по паре (утверждение, домен)
	bestPerDomain := make(map[domain.ClaimDomain]map[uuid.UUID]bestMatch)
	covered := make(map[uuid.UUID]bool)

	for claimID, matches := range c.matches {
		if antiGateDrops(matches, antiThreshold) {
			continue
		}

		for _, m := range matches {
			score, ok := matchScore(m, doubleCheck)
			if !ok {
				continue
			}
			covered[claimID] = true

			perClaim := bestPerDomain[m.Domain]
			if perClaim == nil {
				perClaim = make(map[uuid.UUID]bestMatch)
				bestPerDomain[m.Domain] = perClaim
			}
			if prev, seen := perClaim[claimID]; !seen || score > prev.score {
				perClaim[claimID] = bestMatch{match: m, score: score}
			}
		}
	}

	result.coverage = len(covered)

	for d, perClaim := range bestPerDomain {
		for _, bm := range perClaim {
			result.matchedClaims = append(result.matchedClaims, domain.MatchedClaim{
				SearchClaim:   bm.match.Search.Text,
				MatchedText:   bm.match.Matched.Text,
				ClaimType:     bm.match.Matched.Type,
				Domain:        d,
				Similarity:    bm.match.Similarity,
				Score:         bm.score,
				Verified:      bm.match.Matched.Kind == domain.KindVerified,
				Compatibility: string(bm.match.Verdict),
			})
		}
	}
	sort.SliceStable(result.matchedClaims, func(i, j int) bool {
		return result.matchedClaims[i].Score > result.matchedClaims[j].Score
	})

	// перенормировка весов по доменам, давшим совпадения
	totalWeight := 0.0
	for d, perClaim := range bestPerDomain {
		if len(perClaim) > 0 {
			totalWeight += domainWeights[d]
		}
	}
	if totalWeight == 0 {
		return result
	}

	for d, perClaim := range bestPerDomain {
		sum := 0.0
		for _, bm := range perClaim {
			sum += bm.score
		}
		domainScore := sum / float64(totalClaims)
		result.domainScores[d] = domainScore
		result.finalScore += domainScore * (domainWeights[d] / totalWeight)
	}

	return result
}

// rankCandidates фильтрует и упорядочивает кандидатов: сначала полнота
// покрытия запроса, при равенстве — балл. В режиме double-check порог
// балла не применяется, совпадения уже перепроверены моделью.
func rankCandidates(scored []scoredCandidate, minScore float64, topK int, doubleCheck bool) []scoredCandidate {
	kept := make([]scoredCandidate, 0, len(scored))
	for _, sc := range scored {
		if sc.coverage == 0 {
			continue
		}
		if !doubleCheck && sc.finalScore <= minScore {
			continue
		}
		kept = append(kept, sc)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].coverage != kept[j].coverage {
			return kept[i].coverage > kept[j].coverage
		}
		return kept[i].finalScore > kept[j].finalScore
	})

	if topK > 0 && len(kept) > topK {
		kept = kept[:topK]
	}
	return kept
}

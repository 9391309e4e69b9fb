package search

import (
	"strings"

	"claim_search/internal/domain"

	"github.com/samber/lo"
)

// Слова, по которым RESTRICTIONS-утверждение считается высказыванием
// о датах заезда, а не о правилах дома.
var availabilityKeywords = []string{
	"available", "availability", "move in", "move-in",
	"lease start", "starting", "vacant", "occupancy",
}

// dropRedundantClaims убирает утверждения, уже выраженные жёсткими
// фильтрами: ценовые при фильтре аренды и даты заезда при фильтре
// доступности. Оставлять их — двойной учёт одного условия.
func dropRedundantClaims(claims []domain.Claim, filters domain.StructuredFilters) []domain.Claim {
	return lo.Filter(claims, func(c domain.Claim, _ int) bool {
		if filters.HasRentFilter() && c.Type == domain.ClaimPricing {
			return false
		}
		if filters.HasAvailabilityFilter() && c.Type == domain.ClaimRestrictions && mentionsAvailability(c.Text) {
			return false
		}
		return true
	})
}

func mentionsAvailability(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range availabilityKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

package search

import "claim_search/internal/domain"

// quantifiersSatisfied проверяет числовые ограничения поискового
// утверждения против квантификаторов найденного. Если у найденного нет
// квантификатора той же пары (тип, существительное), ограничение
// пропускается: отсутствие данных не считается нарушением.
func quantifiersSatisfied(search, matched domain.Claim) bool {
	for _, sq := range search.Quantifiers {
		mq := matched.QuantifierFor(sq.Type, sq.Noun)
		if mq == nil {
			continue
		}
		if !quantifierSatisfied(sq, *mq) {
			return false
		}
	}
	return true
}

// quantifierSatisfied — таблица предикатов по операции поискового
// квантификатора. m описывает, что есть у листинга, s — что просят.
func quantifierSatisfied(s, m domain.Quantifier) bool {
	switch s.Op {
	case domain.OpGTE:
		return m.VMin >= s.VMin
	case domain.OpGT:
		return m.VMin > s.VMin
	case domain.OpLTE:
		return m.VMax <= s.VMax
	case domain.OpLT:
		return m.VMax < s.VMax
	case domain.OpEquals, domain.OpApprox:
		return m.VMin <= s.VMin && s.VMin <= m.VMax
	case domain.OpRange:
		return m.VMin <= s.VMax && m.VMax >= s.VMin
	default:
		return true
	}
}

// quantifierGateDrops отсекает кандидата целиком, если хоть одно его
// совпадение на уровне квартиры или комнаты нарушает числовые ограничения
// поискового утверждения. Соседство не гейтится: его утверждения описывают
// район, а не саму квартиру.
func quantifierGateDrops(c *candidate) bool {
	for _, matches := range c.matches {
		for _, m := range matches {
			if m.Domain == domain.DomainNeighborhood {
				continue
			}
			if len(m.Search.Quantifiers) == 0 {
				continue
			}
			if !quantifiersSatisfied(m.Search, m.Matched) {
				return true
			}
		}
	}
	return false
}

// antiGateDrops решает, гасит ли анти-совпадение все позитивные
// совпадения поискового утверждения у кандидата: лучший анти-матч
// должен пройти порог и превзойти лучший позитивный.
func antiGateDrops(matches []claimMatch, antiThreshold float64) bool {
	bestAnti, bestPositive := 0.0, 0.0
	for _, m := range matches {
		if m.Matched.Kind == domain.KindAnti {
			if m.Similarity > bestAnti {
				bestAnti = m.Similarity
			}
		} else if m.Similarity > bestPositive {
			bestPositive = m.Similarity
		}
	}
	return bestAnti >= antiThreshold && bestAnti > bestPositive
}

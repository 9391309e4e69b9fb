package expansion

import (
	"context"
	"sync"

	"claim_search/internal/domain"
	"claim_search/internal/lib/llm"
	"claim_search/internal/lib/logger/sl"
	"log/slog"

	"golang.org/x/sync/semaphore"
)

// Анти-утверждения генерируются только для типов, где отсутствие или
// запрет часто ищут в положительной формулировке.
var antiEligible = map[domain.ClaimType]bool{
	domain.ClaimRestrictions: true,
	domain.ClaimPolicies:     true,
	domain.ClaimNeighborhood: true,
}

// Service расширяет базовые утверждения производными и анти-формулировками
// для улучшения семантического отзыва.
type Service struct {
	log         *slog.Logger
	llmClient   llm.Client
	concurrency int64
}

func New(log *slog.Logger, llmClient llm.Client, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = 50
	}
	return &Service{
		log:         log,
		llmClient:   llmClient,
		concurrency: int64(concurrency),
	}
}

// Expand возвращает исходные утверждения вместе со сгенерированными.
// Производные получают вес 0.9 от базового, анти — 0.5 и перевёрнутую
// негацию. Ошибка расширения одного утверждения не валит остальные.
func (s *Service) Expand(ctx context.Context, claims []domain.Claim) []domain.Claim {
	sem := semaphore.NewWeighted(s.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	expanded := make([]domain.Claim, 0, len(claims)*4)
	expanded = append(expanded, claims...)

	for _, c := range claims {
		if c.Kind != domain.KindBase {
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(base domain.Claim) {
			defer wg.Done()
			defer sem.Release(1)

			includeAnti := antiEligible[base.Type]
			result, err := s.llmClient.ExpandClaim(ctx, base, includeAnti)
			if err != nil {
				s.log.Warn("claim expansion failed",
					slog.String("claim", base.Text),
					sl.Err(err),
				)
				return
			}

			generated := make([]domain.Claim, 0, len(result.Derived)+len(result.Anti))
			for _, text := range result.Derived {
				generated = append(generated, deriveFrom(base, text, domain.KindDerived))
			}
			if includeAnti {
				for _, text := range result.Anti {
					anti := deriveFrom(base, text, domain.KindAnti)
					anti.Negation = !base.Negation
					generated = append(generated, anti)
				}
			}

			mu.Lock()
			expanded = append(expanded, generated...)
			mu.Unlock()
		}(c)
	}

	wg.Wait()
	return expanded
}

func deriveFrom(base domain.Claim, text string, kind domain.ClaimKind) domain.Claim {
	c := domain.NewClaim(text, base.Type, base.Domain)
	c.Kind = kind
	c.Negation = base.Negation
	c.IsSpecific = base.IsSpecific
	c.RoomType = base.RoomType
	c.OrGroup = base.OrGroup
	c.Sources = base.Sources

	switch kind {
	case domain.KindDerived:
		c.Weight = base.Weight * domain.DerivedWeightFactor
	case domain.KindAnti:
		c.Weight = base.Weight * domain.AntiWeightFactor
	default:
		c.Weight = base.Weight
	}

	return c
}

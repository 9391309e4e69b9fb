package dedup

import (
	"context"
	"fmt"
	"math"

	"claim_search/internal/domain"
	"claim_search/internal/lib/embeddings"
	"log/slog"

	"github.com/samber/lo"
)

// Service убирает семантические дубликаты утверждений перед индексацией.
// Текстовое и фото-извлечение часто дают одно и то же утверждение в двух
// формулировках; здесь выживает первая, источники сливаются.
type Service struct {
	log       *slog.Logger
	embedder  embeddings.Client
	threshold float64
}

func New(log *slog.Logger, embedder embeddings.Client, threshold float64) *Service {
	return &Service{
		log:       log,
		embedder:  embedder,
		threshold: threshold,
	}
}

// Deduplicate возвращает утверждения без дубликатов. Пара считается
// дубликатом при косинусной близости не ниже порога; побеждает более
// ранний элемент, источники дубликата переносятся на победителя.
func (s *Service) Deduplicate(ctx context.Context, claims []domain.Claim) ([]domain.Claim, error) {
	const op = "dedup.Service.Deduplicate"

	if len(claims) < 2 {
		return claims, nil
	}

	texts := lo.Map(claims, func(c domain.Claim, _ int) string { return c.Text })
	vectors, err := s.embedder.EmbedBatch(ctx, texts, embeddings.TaskRetrievalDocument)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	kept := make([]domain.Claim, 0, len(claims))
	keptVectors := make([][]float32, 0, len(claims))

	for i, c := range claims {
		duplicateOf := -1
		for j := range kept {
			if Cosine(vectors[i], keptVectors[j]) >= s.threshold {
				duplicateOf = j
				break
			}
		}

		if duplicateOf == -1 {
			kept = append(kept, c)
			keptVectors = append(keptVectors, vectors[i])
			continue
		}

		kept[duplicateOf].Sources = MergeSources(kept[duplicateOf].Sources, c.Sources)
		s.log.Debug("dropped duplicate claim",
			slog.String("kept", kept[duplicateOf].Text),
			slog.String("dropped", c.Text),
		)
	}

	return kept, nil
}

// MergeSources сливает источники: текстовые впереди, без повторов.
func MergeSources(a, b []domain.ClaimSource) []domain.ClaimSource {
	merged := append(append([]domain.ClaimSource{}, a...), b...)

	merged = lo.UniqBy(merged, func(s domain.ClaimSource) string {
		return fmt.Sprintf("%s|%s|%d", s.Kind, s.ImageURL, s.ImageIndex)
	})

	text := lo.Filter(merged, func(s domain.ClaimSource, _ int) bool { return s.Kind == domain.SourceText })
	images := lo.Filter(merged, func(s domain.ClaimSource, _ int) bool { return s.Kind != domain.SourceText })

	return append(text, images...)
}

// Cosine — косинусная близость двух векторов.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

package grounding

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"claim_search/internal/config"
	"claim_search/internal/domain"
	groundinglib "claim_search/internal/lib/grounding"
	"claim_search/internal/lib/logger/sl"
	"log/slog"

	"github.com/google/uuid"
)

// Типы утверждений, которые имеет смысл проверять по карте.
var groundableTypes = map[domain.ClaimType]bool{
	domain.ClaimLocation:  true,
	domain.ClaimTransport: true,
	domain.ClaimAmenities: true,
}

// Service — оркестрация геопространственной верификации утверждений:
// отбор кандидатов, лимит на листинг, кеш с TTL, бонус веса.
type Service struct {
	log    *slog.Logger
	client groundinglib.Client
	cfg    config.GroundingConfig

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	result    groundinglib.GroundResult
	expiresAt time.Time
}

func New(log *slog.Logger, client groundinglib.Client, cfg config.GroundingConfig) *Service {
	return &Service{
		log:    log,
		client: client,
		cfg:    cfg,
		cache:  make(map[string]cacheEntry),
	}
}

// ShouldGround решает, подлежит ли утверждение проверке по карте.
// Комнатные утверждения не проверяются: карта про окрестности, не про кухни.
func (s *Service) ShouldGround(c domain.Claim) bool {
	return s.cfg.Enabled &&
		c.Domain != domain.DomainRoom &&
		c.IsSpecific &&
		groundableTypes[c.Type]
}

// GroundClaims проверяет до MaxPerListing утверждений листинга.
// Для каждого подтверждённого утверждения к списку добавляется
// verified-копия с бонусом веса, квантификатором дистанции и метаданными
// заземления; базовое утверждение остаётся без изменений.
func (s *Service) GroundClaims(ctx context.Context, claims []domain.Claim, location *domain.GeoPoint) []domain.Claim {
	if location == nil || !s.cfg.Enabled {
		return claims
	}

	out := make([]domain.Claim, len(claims))
	copy(out, claims)

	var verified []domain.Claim
	grounded := 0
	for i := range out {
		if grounded >= s.cfg.MaxPerListing {
			break
		}
		if !s.ShouldGround(out[i]) {
			continue
		}

		result, err := s.groundSingle(ctx, out[i], *location)
		if err != nil {
			s.log.Warn("grounding failed",
				slog.String("claim", out[i].Text),
				sl.Err(err),
			)
			continue
		}
		grounded++

		if !result.Verified {
			continue
		}

		v := out[i]
		v.ID = uuid.New()
		v.Kind = domain.KindVerified
		v.Weight *= domain.VerifiedWeightFactor
		v.Grounding = &domain.GroundingMetadata{
			Verified:      true,
			PlaceName:     result.PlaceName,
			PlaceLocation: result.PlaceLocation,
			RadiusM:       result.RadiusM,
			DistanceM:     result.DistanceM,
			Summary:       result.Summary,
			WidgetToken:   result.WidgetToken,
			GroundedAt:    time.Now(),
		}
		v.Quantifiers = append([]domain.Quantifier(nil), out[i].Quantifiers...)
		if result.DistanceM > 0 {
			v.Quantifiers = append(v.Quantifiers, domain.Quantifier{
				Type: domain.QuantDistance,
				Noun: strings.ToLower(result.PlaceName),
				VMin: result.DistanceM,
				VMax: result.DistanceM,
				Op:   domain.OpApprox,
				Unit: "m",
			})
		}
		verified = append(verified, v)
	}

	return append(out, verified...)
}

func (s *Service) groundSingle(ctx context.Context, c domain.Claim, location domain.GeoPoint) (*groundinglib.GroundResult, error) {
	key := cacheKey(location, c.Type, c.Text)

	s.mu.Lock()
	entry, ok := s.cache[key]
	s.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		result := entry.result
		return &result, nil
	}

	result, err := s.client.GroundClaim(ctx, groundinglib.GroundRequest{
		ClaimText: c.Text,
		ClaimType: c.Type,
		Location:  location,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = cacheEntry{
		result:    *result,
		expiresAt: time.Now().Add(s.ttlFor(c.Type)),
	}
	s.mu.Unlock()

	return result, nil
}

// ttlFor — срок жизни записи кеша по типу утверждения: станции и адреса
// не переезжают, характер района меняется быстрее.
func (s *Service) ttlFor(ctype domain.ClaimType) time.Duration {
	days := s.cfg.CacheTTLDays
	switch ctype {
	case domain.ClaimTransport, domain.ClaimLocation:
		days = s.cfg.TransportTTLDays
	case domain.ClaimNeighborhood:
		days = s.cfg.NeighborhoodTTLDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// cacheKey — "{lat:.2f}_{lng:.2f}:{claim_type}:{нормализованный префикс}".
// Координаты огрубляются до ~1 км, чтобы соседние листинги делили кеш.
func cacheKey(location domain.GeoPoint, ctype domain.ClaimType, text string) string {
	prefix := strings.ToLower(text)
	if len(prefix) > 50 {
		prefix = prefix[:50]
	}
	prefix = strings.ReplaceAll(prefix, " ", "_")

	return fmt.Sprintf("%.2f_%.2f:%s:%s", location.Lat, location.Lon, ctype, prefix)
}

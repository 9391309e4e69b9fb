package domain

import (
	"time"

	"github.com/google/uuid"
)

// ClaimType — тип утверждения о жилье.
type ClaimType string

const (
	ClaimLocation      ClaimType = "location"
	ClaimFeatures      ClaimType = "features"
	ClaimAmenities     ClaimType = "amenities"
	ClaimSize          ClaimType = "size"
	ClaimCondition     ClaimType = "condition"
	ClaimPricing       ClaimType = "pricing"
	ClaimAccessibility ClaimType = "accessibility"
	ClaimPolicies      ClaimType = "policies"
	ClaimUtilities     ClaimType = "utilities"
	ClaimTransport     ClaimType = "transport"
	ClaimNeighborhood  ClaimType = "neighborhood"
	ClaimRestrictions  ClaimType = "restrictions"
)

func (t ClaimType) String() string { return string(t) }

// IsValid проверяет, что тип входит в таксономию.
func (t ClaimType) IsValid() bool {
	switch t {
	case ClaimLocation, ClaimFeatures, ClaimAmenities, ClaimSize,
		ClaimCondition, ClaimPricing, ClaimAccessibility, ClaimPolicies,
		ClaimUtilities, ClaimTransport, ClaimNeighborhood, ClaimRestrictions:
		return true
	}
	return false
}

// ClaimDomain — уровень иерархии, к которому относится утверждение.
type ClaimDomain string

const (
	DomainNeighborhood ClaimDomain = "neighborhood"
	DomainApartment    ClaimDomain = "apartment"
	DomainRoom         ClaimDomain = "room"
)

func (d ClaimDomain) String() string { return string(d) }

// ClaimKind — происхождение утверждения.
type ClaimKind string

const (
	KindBase     ClaimKind = "base"
	KindDerived  ClaimKind = "derived"
	KindAnti     ClaimKind = "anti"
	KindVerified ClaimKind = "verified"
)

// QuantifierOp — оператор сравнения числового ограничения.
type QuantifierOp string

const (
	OpEquals QuantifierOp = "EQUALS"
	OpGT     QuantifierOp = "GT"
	OpGTE    QuantifierOp = "GTE"
	OpLT     QuantifierOp = "LT"
	OpLTE    QuantifierOp = "LTE"
	OpApprox QuantifierOp = "APPROX"
	OpRange  QuantifierOp = "RANGE"
)

// QuantifierType — измеряемая величина.
type QuantifierType string

const (
	QuantMoney    QuantifierType = "money"
	QuantArea     QuantifierType = "area"
	QuantCount    QuantifierType = "count"
	QuantDistance QuantifierType = "distance"
	QuantDuration QuantifierType = "duration"
)

// QuantifierInfinity — сентинел для неограниченной верхней границы.
const QuantifierInfinity = 999_999_999

// WalkingSpeedMPerMin — скорость пешехода для конвертации минут в метры.
const WalkingSpeedMPerMin = 80.0

// Quantifier — числовое ограничение, извлечённое из текста утверждения.
// Нулевой VMax с Op=GTE означает открытый верх (VMax = QuantifierInfinity).
type Quantifier struct {
	Type QuantifierType `json:"qtype"`
	Noun string         `json:"noun"`
	VMin float64        `json:"vmin"`
	VMax float64        `json:"vmax"`
	Op   QuantifierOp   `json:"op"`
	Unit string         `json:"unit,omitempty"`
}

// SourceKind — модальность источника утверждения.
type SourceKind string

const (
	SourceText  SourceKind = "text"
	SourceImage SourceKind = "image"
)

// ClaimSource — происхождение утверждения (текст листинга или фото).
type ClaimSource struct {
	Kind       SourceKind `json:"kind"`
	ImageURL   string     `json:"image_url,omitempty"`
	ImageIndex int        `json:"image_index,omitempty"`
}

// GeoPoint — координаты.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// GroundingMetadata — результат геопространственной верификации утверждения.
type GroundingMetadata struct {
	Verified      bool      `json:"verified"`
	PlaceName     string    `json:"place_name,omitempty"`
	PlaceLocation *GeoPoint `json:"place_location,omitempty"`
	RadiusM       float64   `json:"radius_m,omitempty"`
	DistanceM     float64   `json:"distance_m,omitempty"`
	Summary       string    `json:"summary,omitempty"`
	WidgetToken   string    `json:"widget_token,omitempty"`
	GroundedAt    time.Time `json:"grounded_at,omitempty"`
}

// DefaultClaimWeight — вес утверждения, если экстрактор его не задал.
const DefaultClaimWeight = 0.75

// Вес производных и анти-утверждений относительно базового.
const (
	DerivedWeightFactor  = 0.9
	AntiWeightFactor     = 0.5
	VerifiedWeightFactor = 1.15
)

// Claim — атомарное типизированное утверждение о листинге или запросе.
type Claim struct {
	ID         uuid.UUID   `json:"id"`
	Text       string      `json:"claim"`
	Type       ClaimType   `json:"claim_type"`
	Domain     ClaimDomain `json:"domain"`
	Kind       ClaimKind   `json:"kind"`
	Weight     float64     `json:"weight"`
	Negation   bool        `json:"negation"`
	IsSpecific bool        `json:"is_specific"`
	// HasQuantifiers выставляется экстрактором: в тексте есть числовое
	// ограничение, которое стоит разобрать в квантификаторы.
	HasQuantifiers bool               `json:"has_quantifiers,omitempty"`
	RoomType       string             `json:"room_type,omitempty"`
	OrGroup        int                `json:"or_group,omitempty"`
	Quantifiers    []Quantifier       `json:"quantifiers,omitempty"`
	Sources        []ClaimSource      `json:"sources,omitempty"`
	Grounding      *GroundingMetadata `json:"grounding,omitempty"`
}

// NewClaim создаёт базовое утверждение с весом по умолчанию.
func NewClaim(text string, ctype ClaimType, dom ClaimDomain) Claim {
	return Claim{
		ID:     uuid.New(),
		Text:   text,
		Type:   ctype,
		Domain: dom,
		Kind:   KindBase,
		Weight: DefaultClaimWeight,
	}
}

// QuantifierFor возвращает первый квантификатор с совпадающими типом и существительным.
func (c Claim) QuantifierFor(qtype QuantifierType, noun string) *Quantifier {
	for i := range c.Quantifiers {
		if c.Quantifiers[i].Type == qtype && c.Quantifiers[i].Noun == noun {
			return &c.Quantifiers[i]
		}
	}
	return nil
}

// EmbeddedClaim — утверждение вместе с вектором.
type EmbeddedClaim struct {
	Claim
	Embedding []float32 `json:"-"`
}

package domain

import "time"

// AvailabilityRange — период доступности квартиры.
type AvailabilityRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ApartmentDocument — метаданные листинга, хранимые вместе с каноническим
// документом "{apartment_id}_claim_0".
type ApartmentDocument struct {
	ApartmentID         string              `json:"apartment_id"`
	Title               string              `json:"title,omitempty"`
	Address             string              `json:"address,omitempty"`
	NeighborhoodID      string              `json:"neighborhood_id,omitempty"`
	Location            *GeoPoint           `json:"location,omitempty"`
	ImageURLs           []string            `json:"image_urls,omitempty"`
	ImageMetadata       []ImageMetadata     `json:"image_metadata,omitempty"`
	RentPrice           *float64            `json:"rent_price,omitempty"`
	AvailabilityDates   []AvailabilityRange `json:"availability_dates,omitempty"`
	PropertySummary     string              `json:"property_summary,omitempty"`
	LocationSummary     string              `json:"location_summary,omitempty"`
	LocationWidgetToken string              `json:"location_widget_token,omitempty"`
	ClaimCount          int                 `json:"claim_count,omitempty"`
}

// ImageMetadata — что было увидено на фото при индексации.
type ImageMetadata struct {
	URL         string `json:"url"`
	Index       int    `json:"index"`
	RoomType    string `json:"room_type,omitempty"`
	Description string `json:"description,omitempty"`
}

// StructuredFilters — жёсткие фильтры, извлечённые из поискового запроса.
type StructuredFilters struct {
	RentPriceMin     *float64   `json:"rent_price_min,omitempty"`
	RentPriceMax     *float64   `json:"rent_price_max,omitempty"`
	AvailabilityFrom *time.Time `json:"availability_from,omitempty"`
	AvailabilityTo   *time.Time `json:"availability_to,omitempty"`
	RoomTypes        []string   `json:"room_types,omitempty"`
	GeoCenter        *GeoPoint  `json:"geo_center,omitempty"`
	GeoRadiusM       float64    `json:"geo_radius_m,omitempty"`
}

// HasRentFilter сообщает, задан ли ценовой фильтр.
func (f StructuredFilters) HasRentFilter() bool {
	return f.RentPriceMin != nil || f.RentPriceMax != nil
}

// HasAvailabilityFilter сообщает, задан ли фильтр по датам.
func (f StructuredFilters) HasAvailabilityFilter() bool {
	return f.AvailabilityFrom != nil || f.AvailabilityTo != nil
}

// IsEmpty — нет ни одного жёсткого фильтра.
func (f StructuredFilters) IsEmpty() bool {
	return !f.HasRentFilter() && !f.HasAvailabilityFilter() &&
		len(f.RoomTypes) == 0 && f.GeoCenter == nil
}

// MatchedClaim — пара "поисковое утверждение — утверждение листинга" с оценкой.
type MatchedClaim struct {
	SearchClaim   string      `json:"search_claim"`
	MatchedText   string      `json:"matched_claim"`
	ClaimType     ClaimType   `json:"claim_type"`
	Domain        ClaimDomain `json:"domain"`
	Similarity    float64     `json:"similarity"`
	Score         float64     `json:"score"`
	Verified      bool        `json:"verified,omitempty"`
	Compatibility string      `json:"compatibility,omitempty"`
}

// SearchResult — итоговый результат поиска по одной квартире.
type SearchResult struct {
	ApartmentID     string                  `json:"apartment_id"`
	FinalScore      float64                 `json:"final_score"`
	CoverageCount   int                     `json:"coverage_count"`
	CoverageRatio   float64                 `json:"coverage_ratio"`
	MatchedClaims   []MatchedClaim          `json:"matched_claims"`
	DomainScores    map[ClaimDomain]float64 `json:"domain_scores"`
	Title           string                  `json:"title,omitempty"`
	Address         string                  `json:"address,omitempty"`
	NeighborhoodID  string                  `json:"neighborhood_id,omitempty"`
	Location        *GeoPoint               `json:"location,omitempty"`
	ImageURLs       []string                `json:"image_urls,omitempty"`
	RentPrice       *float64                `json:"rent_price,omitempty"`
	PropertySummary string                  `json:"property_summary,omitempty"`
	LocationSummary string                  `json:"location_summary,omitempty"`
}

// ApartmentClaims — квартира со всеми её утверждениями, сгруппированными по доменам.
type ApartmentClaims struct {
	Document ApartmentDocument       `json:"apartment"`
	Claims   map[ClaimDomain][]Claim `json:"claims"`
	Counts   map[ClaimDomain]int     `json:"counts"`
}

// DeleteCounts — сколько документов удалено из каждого индекса.
type DeleteCounts struct {
	Rooms         int `json:"rooms"`
	Apartments    int `json:"apartments"`
	Neighborhoods int `json:"neighborhoods"`
}

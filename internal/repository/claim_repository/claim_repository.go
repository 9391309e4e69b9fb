package claim_repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"claim_search/internal/domain"
	"claim_search/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ClaimRepository — адаптер векторного хранилища поверх Postgres + pgvector.
// Три таблицы играют роль трёх пер-доменных индексов: room_claims,
// apartment_claims, neighborhood_claims.
type ClaimRepository struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewClaimRepository(db *pgxpool.Pool, log *slog.Logger) *ClaimRepository {
	return &ClaimRepository{db: db, log: log}
}

// RoomHit — результат ANN-поиска по комнатным утверждениям.
type RoomHit struct {
	ApartmentID string
	RoomID      string
	Claim       domain.Claim
	Similarity  float64
}

// ApartmentHit — результат ANN-поиска по квартирным утверждениям.
type ApartmentHit struct {
	DocID       string
	ApartmentID string
	Claim       domain.Claim
	Similarity  float64
}

// NeighborhoodHit — результат ANN-поиска по утверждениям о районе.
type NeighborhoodHit struct {
	NeighborhoodID string
	ApartmentID    string
	Claim          domain.Claim
	Similarity     float64
}

// Setup — создаёт расширение pgvector и все таблицы индексов.
// Размерность вектора фиксируется на момент создания схемы.
func (r *ClaimRepository) Setup(ctx context.Context, dimensions int) error {
	const op = "ClaimRepository.Setup"

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS room_claims (
				id UUID PRIMARY KEY,
				apartment_id TEXT NOT NULL,
				room_id TEXT NOT NULL,
				claim TEXT NOT NULL,
				claim_type TEXT NOT NULL,
				kind TEXT NOT NULL,
				weight DOUBLE PRECISION NOT NULL,
				negation BOOLEAN NOT NULL DEFAULT FALSE,
				is_specific BOOLEAN NOT NULL DEFAULT FALSE,
				room_type TEXT,
				or_group INT NOT NULL DEFAULT 0,
				quantifiers JSONB,
				sources JSONB,
				embedding vector(%d),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, dimensions),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS apartment_claims (
				doc_id TEXT PRIMARY KEY,
				apartment_id TEXT NOT NULL,
				claim TEXT NOT NULL,
				claim_type TEXT NOT NULL,
				kind TEXT NOT NULL,
				weight DOUBLE PRECISION NOT NULL,
				negation BOOLEAN NOT NULL DEFAULT FALSE,
				is_specific BOOLEAN NOT NULL DEFAULT FALSE,
				or_group INT NOT NULL DEFAULT 0,
				quantifiers JSONB,
				sources JSONB,
				grounding JSONB,
				title TEXT,
				address TEXT,
				neighborhood_id TEXT,
				lat DOUBLE PRECISION,
				lon DOUBLE PRECISION,
				image_urls JSONB,
				image_metadata JSONB,
				rent_price DOUBLE PRECISION,
				property_summary TEXT,
				location_summary TEXT,
				location_widget_token TEXT,
				embedding vector(%d),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, dimensions),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS neighborhood_claims (
				id UUID PRIMARY KEY,
				neighborhood_id TEXT NOT NULL,
				apartment_id TEXT NOT NULL,
				claim TEXT NOT NULL,
				claim_type TEXT NOT NULL,
				kind TEXT NOT NULL,
				weight DOUBLE PRECISION NOT NULL,
				negation BOOLEAN NOT NULL DEFAULT FALSE,
				quantifiers JSONB,
				embedding vector(%d),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, dimensions),
		`CREATE TABLE IF NOT EXISTS apartment_availability (
			apartment_id TEXT NOT NULL,
			from_date DATE NOT NULL,
			to_date DATE NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS room_claims_apartment_idx ON room_claims (apartment_id)`,
		`CREATE INDEX IF NOT EXISTS apartment_claims_apartment_idx ON apartment_claims (apartment_id)`,
		`CREATE INDEX IF NOT EXISTS neighborhood_claims_nbhd_idx ON neighborhood_claims (neighborhood_id)`,
		`CREATE INDEX IF NOT EXISTS neighborhood_claims_apartment_idx ON neighborhood_claims (apartment_id)`,
		`CREATE INDEX IF NOT EXISTS apartment_availability_idx ON apartment_availability (apartment_id)`,
		`CREATE INDEX IF NOT EXISTS room_claims_embedding_idx ON room_claims USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS apartment_claims_embedding_idx ON apartment_claims USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS neighborhood_claims_embedding_idx ON neighborhood_claims USING hnsw (embedding vector_cosine_ops)`,
	}

	for _, stmt := range statements {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	return nil
}

// InsertRoomClaims — пишет комнатные утверждения одной квартиры.
func (r *ClaimRepository) InsertRoomClaims(ctx context.Context, apartmentID string, claims []domain.EmbeddedClaim) (int, error) {
	const op = "ClaimRepository.InsertRoomClaims"

	query := `
		INSERT INTO room_claims (
			id, apartment_id, room_id, claim, claim_type, kind, weight,
			negation, is_specific, room_type, or_group, quantifiers, sources, embedding
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::vector)
	`

	inserted := 0
	for i, c := range claims {
		quantJSON, err := marshalJSONB(c.Quantifiers)
		if err != nil {
			return inserted, fmt.Errorf("%s: %w", op, err)
		}
		sourcesJSON, err := marshalJSONB(c.Sources)
		if err != nil {
			return inserted, fmt.Errorf("%s: %w", op, err)
		}

		roomID := fmt.Sprintf("%s_room_%d", apartmentID, i)
		_, err = r.db.Exec(ctx, query,
			c.ID,
			apartmentID,
			roomID,
			c.Text,
			c.Type.String(),
			string(c.Kind),
			c.Weight,
			c.Negation,
			c.IsSpecific,
			c.RoomType,
			c.OrGroup,
			quantJSON,
			sourcesJSON,
			repository.VectorToString(c.Embedding),
		)
		if err != nil {
			return inserted, fmt.Errorf("%s: %w", op, err)
		}
		inserted++
	}

	return inserted, nil
}

// InsertApartmentClaims — пишет квартирные утверждения вместе с метаданными
// листинга. Документы нумеруются как "{apartment_id}_claim_{n}"; нулевой
// документ канонический — на него потом накладываются сводки.
func (r *ClaimRepository) InsertApartmentClaims(ctx context.Context, doc domain.ApartmentDocument, claims []domain.EmbeddedClaim) (int, error) {
	const op = "ClaimRepository.InsertApartmentClaims"

	imageURLsJSON, err := marshalJSONB(doc.ImageURLs)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	imageMetaJSON, err := marshalJSONB(doc.ImageMetadata)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var lat, lon *float64
	if doc.Location != nil {
		lat = &doc.Location.Lat
		lon = &doc.Location.Lon
	}

	query := `
		INSERT INTO apartment_claims (
			doc_id, apartment_id, claim, claim_type, kind, weight,
			negation, is_specific, or_group, quantifiers, sources, grounding,
			title, address, neighborhood_id, lat, lon,
			image_urls, image_metadata, rent_price, embedding
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21::vector)
		ON CONFLICT (doc_id) DO UPDATE SET
			claim = EXCLUDED.claim,
			claim_type = EXCLUDED.claim_type,
			kind = EXCLUDED.kind,
			weight = EXCLUDED.weight,
			negation = EXCLUDED.negation,
			is_specific = EXCLUDED.is_specific,
			or_group = EXCLUDED.or_group,
			quantifiers = EXCLUDED.quantifiers,
			sources = EXCLUDED.sources,
			grounding = EXCLUDED.grounding,
			title = EXCLUDED.title,
			address = EXCLUDED.address,
			neighborhood_id = EXCLUDED.neighborhood_id,
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			image_urls = EXCLUDED.image_urls,
			image_metadata = EXCLUDED.image_metadata,
			rent_price = EXCLUDED.rent_price,
			embedding = EXCLUDED.embedding
	`

	inserted := 0
	for i, c := range claims {
		quantJSON, err := marshalJSONB(c.Quantifiers)
		if err != nil {
			return inserted, fmt.Errorf("%s: %w", op, err)
		}
		sourcesJSON, err := marshalJSONB(c.Sources)
		if err != nil {
			return inserted, fmt.Errorf("%s: %w", op, err)
		}
		groundingJSON, err := marshalJSONB(c.Grounding)
		if err != nil {
			return inserted, fmt.Errorf("%s: %w", op, err)
		}

		docID := fmt.Sprintf("%s_claim_%d", doc.ApartmentID, i)
		_, err = r.db.Exec(ctx, query,
			docID,
			doc.ApartmentID,
			c.Text,
			c.Type.String(),
			string(c.Kind),
			c.Weight,
			c.Negation,
			c.IsSpecific,
			c.OrGroup,
			quantJSON,
			sourcesJSON,
			groundingJSON,
			doc.Title,
			doc.Address,
			doc.NeighborhoodID,
			lat,
			lon,
			imageURLsJSON,
			imageMetaJSON,
			doc.RentPrice,
			repository.VectorToString(c.Embedding),
		)
		if err != nil {
			return inserted, fmt.Errorf("%s: %w", op, err)
		}
		inserted++
	}

	if err := r.replaceAvailability(ctx, doc.ApartmentID, doc.AvailabilityDates); err != nil {
		return inserted, fmt.Errorf("%s: %w", op, err)
	}

	return inserted, nil
}

func (r *ClaimRepository) replaceAvailability(ctx context.Context, apartmentID string, ranges []domain.AvailabilityRange) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM apartment_availability WHERE apartment_id = $1`, apartmentID); err != nil {
		return err
	}
	for _, ar := range ranges {
		_, err := r.db.Exec(ctx,
			`INSERT INTO apartment_availability (apartment_id, from_date, to_date) VALUES ($1, $2, $3)`,
			apartmentID, ar.From, ar.To,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// InsertNeighborhoodClaims — пишет утверждения о районе; apartment_id
// сохраняется для каскадного удаления листинга.
func (r *ClaimRepository) InsertNeighborhoodClaims(ctx context.Context, neighborhoodID, apartmentID string, claims []domain.EmbeddedClaim) (int, error) {
	const op = "ClaimRepository.InsertNeighborhoodClaims"

	query := `
		INSERT INTO neighborhood_claims (
			id, neighborhood_id, apartment_id, claim, claim_type, kind,
			weight, negation, quantifiers, embedding
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::vector)
	`

	inserted := 0
	for _, c := range claims {
		quantJSON, err := marshalJSONB(c.Quantifiers)
		if err != nil {
			return inserted, fmt.Errorf("%s: %w", op, err)
		}

		_, err = r.db.Exec(ctx, query,
			c.ID,
			neighborhoodID,
			apartmentID,
			c.Text,
			c.Type.String(),
			string(c.Kind),
			c.Weight,
			c.Negation,
			quantJSON,
			repository.VectorToString(c.Embedding),
		)
		if err != nil {
			return inserted, fmt.Errorf("%s: %w", op, err)
		}
		inserted++
	}

	return inserted, nil
}

// SearchRooms — ANN-поиск по комнатным утверждениям с опциональным
// фильтром по типу комнаты.
func (r *ClaimRepository) SearchRooms(ctx context.Context, embedding []float32, k int, roomTypes []string) ([]RoomHit, error) {
	const op = "ClaimRepository.SearchRooms"

	whereClauses := []string{}
	params := []interface{}{repository.VectorToString(embedding)}
	paramCount := 2

	if len(roomTypes) > 0 {
		whereClauses = append(whereClauses, fmt.Sprintf("room_type = ANY($%d)", paramCount))
		params = append(params, roomTypes)
		paramCount++
	}

	query := `
		SELECT
			apartment_id, room_id, id, claim, claim_type, kind, weight,
			negation, is_specific, room_type, or_group, quantifiers, sources,
			1 - (embedding <=> $1::vector) AS similarity
		FROM room_claims
	`
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY embedding <=> $1::vector LIMIT $%d", paramCount)
	params = append(params, k)

	rows, err := r.db.Query(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var hits []RoomHit
	for rows.Next() {
		var h RoomHit
		var claimType, kind string
		var roomType *string
		var quantJSON, sourcesJSON []byte

		err := rows.Scan(
			&h.ApartmentID,
			&h.RoomID,
			&h.Claim.ID,
			&h.Claim.Text,
			&claimType,
			&kind,
			&h.Claim.Weight,
			&h.Claim.Negation,
			&h.Claim.IsSpecific,
			&roomType,
			&h.Claim.OrGroup,
			&quantJSON,
			&sourcesJSON,
			&h.Similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		h.Claim.Type = domain.ClaimType(claimType)
		h.Claim.Kind = domain.ClaimKind(kind)
		h.Claim.Domain = domain.DomainRoom
		if roomType != nil {
			h.Claim.RoomType = *roomType
		}
		if err := unmarshalJSONB(quantJSON, &h.Claim.Quantifiers); err != nil {
			r.log.Warn("failed to parse quantifiers", "room_id", h.RoomID, "error", err)
		}
		if err := unmarshalJSONB(sourcesJSON, &h.Claim.Sources); err != nil {
			r.log.Warn("failed to parse sources", "room_id", h.RoomID, "error", err)
		}

		hits = append(hits, h)
	}

	return hits, rows.Err()
}

// SearchApartments — ANN-поиск по квартирным утверждениям с жёсткими
// фильтрами (цена, доступность, гео-радиус, список кандидатов).
func (r *ClaimRepository) SearchApartments(ctx context.Context, embedding []float32, k int, filters domain.StructuredFilters, apartmentIDs []string) ([]ApartmentHit, error) {
	const op = "ClaimRepository.SearchApartments"

	whereClauses := []string{}
	params := []interface{}{repository.VectorToString(embedding)}
	paramCount := 2

	if filters.RentPriceMin != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("rent_price >= $%d", paramCount))
		params = append(params, *filters.RentPriceMin)
		paramCount++
	}
	if filters.RentPriceMax != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("rent_price <= $%d", paramCount))
		params = append(params, *filters.RentPriceMax)
		paramCount++
	}
	if filters.HasAvailabilityFilter() {
		from, to := availabilityBounds(filters)
		whereClauses = append(whereClauses, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM apartment_availability av
			WHERE av.apartment_id = apartment_claims.apartment_id
			  AND av.from_date <= $%d AND av.to_date >= $%d
		)`, paramCount, paramCount+1))
		params = append(params, to, from)
		paramCount += 2
	}
	if filters.GeoCenter != nil && filters.GeoRadiusM > 0 {
		// Хаверсин по координатам листинга
		whereClauses = append(whereClauses, fmt.Sprintf(`
			lat IS NOT NULL AND lon IS NOT NULL AND
			6371000 * acos(LEAST(1.0,
				cos(radians($%d)) * cos(radians(lat)) * cos(radians(lon) - radians($%d)) +
				sin(radians($%d)) * sin(radians(lat))
			)) <= $%d`, paramCount, paramCount+1, paramCount, paramCount+2))
		params = append(params, filters.GeoCenter.Lat, filters.GeoCenter.Lon, filters.GeoRadiusM)
		paramCount += 3
	}
	if len(apartmentIDs) > 0 {
		whereClauses = append(whereClauses, fmt.Sprintf("apartment_id = ANY($%d)", paramCount))
		params = append(params, apartmentIDs)
		paramCount++
	}

	query := `
		SELECT
			doc_id, apartment_id, claim, claim_type, kind, weight,
			negation, is_specific, or_group, quantifiers, grounding,
			1 - (embedding <=> $1::vector) AS similarity
		FROM apartment_claims
	`
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY embedding <=> $1::vector LIMIT $%d", paramCount)
	params = append(params, k)

	rows, err := r.db.Query(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var hits []ApartmentHit
	for rows.Next() {
		var h ApartmentHit
		var claimType, kind string
		var quantJSON, groundingJSON []byte

		err := rows.Scan(
			&h.DocID,
			&h.ApartmentID,
			&h.Claim.Text,
			&claimType,
			&kind,
			&h.Claim.Weight,
			&h.Claim.Negation,
			&h.Claim.IsSpecific,
			&h.Claim.OrGroup,
			&quantJSON,
			&groundingJSON,
			&h.Similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		h.Claim.Type = domain.ClaimType(claimType)
		h.Claim.Kind = domain.ClaimKind(kind)
		h.Claim.Domain = domain.DomainApartment
		if err := unmarshalJSONB(quantJSON, &h.Claim.Quantifiers); err != nil {
			r.log.Warn("failed to parse quantifiers", "doc_id", h.DocID, "error", err)
		}
		if len(groundingJSON) > 0 && string(groundingJSON) != "null" {
			var g domain.GroundingMetadata
			if err := unmarshalJSONB(groundingJSON, &g); err == nil {
				h.Claim.Grounding = &g
			}
		}

		hits = append(hits, h)
	}

	return hits, rows.Err()
}

// SearchNeighborhoods — ANN-поиск по утверждениям о районе с фильтром по типу.
func (r *ClaimRepository) SearchNeighborhoods(ctx context.Context, embedding []float32, k int, claimType domain.ClaimType) ([]NeighborhoodHit, error) {
	const op = "ClaimRepository.SearchNeighborhoods"

	whereClauses := []string{}
	params := []interface{}{repository.VectorToString(embedding)}
	paramCount := 2

	if claimType != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("claim_type = $%d", paramCount))
		params = append(params, claimType.String())
		paramCount++
	}

	query := `
		SELECT
			neighborhood_id, apartment_id, id, claim, claim_type, kind,
			weight, negation, quantifiers,
			1 - (embedding <=> $1::vector) AS similarity
		FROM neighborhood_claims
	`
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY embedding <=> $1::vector LIMIT $%d", paramCount)
	params = append(params, k)

	rows, err := r.db.Query(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var hits []NeighborhoodHit
	for rows.Next() {
		var h NeighborhoodHit
		var ctypeStr, kind string
		var quantJSON []byte

		err := rows.Scan(
			&h.NeighborhoodID,
			&h.ApartmentID,
			&h.Claim.ID,
			&h.Claim.Text,
			&ctypeStr,
			&kind,
			&h.Claim.Weight,
			&h.Claim.Negation,
			&quantJSON,
			&h.Similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		h.Claim.Type = domain.ClaimType(ctypeStr)
		h.Claim.Kind = domain.ClaimKind(kind)
		h.Claim.Domain = domain.DomainNeighborhood
		if err := unmarshalJSONB(quantJSON, &h.Claim.Quantifiers); err != nil {
			r.log.Warn("failed to parse quantifiers", "neighborhood_id", h.NeighborhoodID, "error", err)
		}

		hits = append(hits, h)
	}

	return hits, rows.Err()
}

// ApartmentIDsByNeighborhoods — квартиры, принадлежащие заданным районам,
// с учётом жёстких фильтров. Нужен для пересечения иерархии.
func (r *ClaimRepository) ApartmentIDsByNeighborhoods(ctx context.Context, neighborhoodIDs []string, filters domain.StructuredFilters) ([]string, error) {
	const op = "ClaimRepository.ApartmentIDsByNeighborhoods"

	whereClauses := []string{"neighborhood_id = ANY($1)"}
	params := []interface{}{neighborhoodIDs}
	paramCount := 2

	whereClauses, params, paramCount = appendStructuredFilters(whereClauses, params, paramCount, filters)

	query := `SELECT DISTINCT apartment_id FROM apartment_claims WHERE ` + strings.Join(whereClauses, " AND ")

	return r.queryIDs(ctx, op, query, params)
}

// ApartmentIDsByFilters — квартиры, проходящие только жёсткие фильтры.
// Фолбэк, когда векторный поиск ничего не нашёл, а фильтры заданы.
func (r *ClaimRepository) ApartmentIDsByFilters(ctx context.Context, filters domain.StructuredFilters) ([]string, error) {
	const op = "ClaimRepository.ApartmentIDsByFilters"

	whereClauses := []string{}
	params := []interface{}{}
	paramCount := 1

	whereClauses, params, paramCount = appendStructuredFilters(whereClauses, params, paramCount, filters)
	_ = paramCount

	query := `SELECT DISTINCT apartment_id FROM apartment_claims`
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}

	return r.queryIDs(ctx, op, query, params)
}

func appendStructuredFilters(whereClauses []string, params []interface{}, paramCount int, filters domain.StructuredFilters) ([]string, []interface{}, int) {
	if filters.RentPriceMin != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("rent_price >= $%d", paramCount))
		params = append(params, *filters.RentPriceMin)
		paramCount++
	}
	if filters.RentPriceMax != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("rent_price <= $%d", paramCount))
		params = append(params, *filters.RentPriceMax)
		paramCount++
	}
	if filters.HasAvailabilityFilter() {
		from, to := availabilityBounds(filters)
		whereClauses = append(whereClauses, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM apartment_availability av
			WHERE av.apartment_id = apartment_claims.apartment_id
			  AND av.from_date <= $%d AND av.to_date >= $%d
		)`, paramCount, paramCount+1))
		params = append(params, to, from)
		paramCount += 2
	}
	if filters.GeoCenter != nil && filters.GeoRadiusM > 0 {
		whereClauses = append(whereClauses, fmt.Sprintf(`
			lat IS NOT NULL AND lon IS NOT NULL AND
			6371000 * acos(LEAST(1.0,
				cos(radians($%d)) * cos(radians(lat)) * cos(radians(lon) - radians($%d)) +
				sin(radians($%d)) * sin(radians(lat))
			)) <= $%d`, paramCount, paramCount+1, paramCount, paramCount+2))
		params = append(params, filters.GeoCenter.Lat, filters.GeoCenter.Lon, filters.GeoRadiusM)
		paramCount += 3
	}
	return whereClauses, params, paramCount
}

func (r *ClaimRepository) queryIDs(ctx context.Context, op, query string, params []interface{}) ([]string, error) {
	rows, err := r.db.Query(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FetchApartmentMetadata — метаданные листингов по их ID (одна строка на
// квартиру, берётся канонический документ).
func (r *ClaimRepository) FetchApartmentMetadata(ctx context.Context, apartmentIDs []string) (map[string]domain.ApartmentDocument, error) {
	const op = "ClaimRepository.FetchApartmentMetadata"

	if len(apartmentIDs) == 0 {
		return map[string]domain.ApartmentDocument{}, nil
	}

	query := `
		SELECT
			apartment_id, title, address, neighborhood_id, lat, lon,
			image_urls, image_metadata, rent_price,
			property_summary, location_summary, location_widget_token
		FROM apartment_claims
		WHERE apartment_id = ANY($1) AND doc_id = apartment_id || '_claim_0'
	`

	rows, err := r.db.Query(ctx, query, apartmentIDs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	result := make(map[string]domain.ApartmentDocument, len(apartmentIDs))
	for rows.Next() {
		doc, err := scanApartmentDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result[doc.ApartmentID] = doc
	}

	return result, rows.Err()
}

func scanApartmentDocument(row pgx.Row) (domain.ApartmentDocument, error) {
	var doc domain.ApartmentDocument
	var title, address, neighborhoodID, propertySummary, locationSummary, widgetToken *string
	var lat, lon *float64
	var imageURLsJSON, imageMetaJSON []byte

	err := row.Scan(
		&doc.ApartmentID,
		&title,
		&address,
		&neighborhoodID,
		&lat,
		&lon,
		&imageURLsJSON,
		&imageMetaJSON,
		&doc.RentPrice,
		&propertySummary,
		&locationSummary,
		&widgetToken,
	)
	if err != nil {
		return doc, err
	}

	if title != nil {
		doc.Title = *title
	}
	if address != nil {
		doc.Address = *address
	}
	if neighborhoodID != nil {
		doc.NeighborhoodID = *neighborhoodID
	}
	if lat != nil && lon != nil {
		doc.Location = &domain.GeoPoint{Lat: *lat, Lon: *lon}
	}
	if propertySummary != nil {
		doc.PropertySummary = *propertySummary
	}
	if locationSummary != nil {
		doc.LocationSummary = *locationSummary
	}
	if widgetToken != nil {
		doc.LocationWidgetToken = *widgetToken
	}
	_ = unmarshalJSONB(imageURLsJSON, &doc.ImageURLs)
	_ = unmarshalJSONB(imageMetaJSON, &doc.ImageMetadata)

	return doc, nil
}

// ListApartments — пагинированный список листингов.
func (r *ClaimRepository) ListApartments(ctx context.Context, pager *domain.Pager, hasImages bool) (*domain.PaginatedResult[domain.ApartmentDocument], error) {
	const op = "ClaimRepository.ListApartments"

	whereClauses := []string{"doc_id = apartment_id || '_claim_0'"}
	if hasImages {
		whereClauses = append(whereClauses, "image_urls IS NOT NULL AND jsonb_array_length(image_urls) > 0")
	}
	where := " WHERE " + strings.Join(whereClauses, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM apartment_claims"+where).Scan(&total); err != nil {
		return nil, fmt.Errorf("%s: count failed: %w", op, err)
	}

	query := `
		SELECT
			apartment_id, title, address, neighborhood_id, lat, lon,
			image_urls, image_metadata, rent_price,
			property_summary, location_summary, location_widget_token
		FROM apartment_claims
	` + where + fmt.Sprintf(" ORDER BY apartment_id ASC LIMIT %d OFFSET %d", pager.Limit(), pager.Offset())

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var docs []domain.ApartmentDocument
	for rows.Next() {
		doc, err := scanApartmentDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// claim_count считается одним сгруппированным запросом на всю страницу
	if len(docs) > 0 {
		ids := make([]string, len(docs))
		for i := range docs {
			ids[i] = docs[i].ApartmentID
		}

		countRows, err := r.db.Query(ctx,
			`SELECT apartment_id, COUNT(*) FROM apartment_claims WHERE apartment_id = ANY($1) GROUP BY apartment_id`,
			ids,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		defer countRows.Close()

		counts := make(map[string]int, len(docs))
		for countRows.Next() {
			var id string
			var count int
			if err := countRows.Scan(&id, &count); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			counts[id] = count
		}
		if err := countRows.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		for i := range docs {
			docs[i].ClaimCount = counts[docs[i].ApartmentID]
		}
	}

	return &domain.PaginatedResult[domain.ApartmentDocument]{
		Items:      docs,
		Pagination: domain.NewPagination(pager.Page(), int(pager.Limit()), total),
	}, nil
}

// GetApartment — листинг со всеми утверждениями, сгруппированными по доменам.
func (r *ClaimRepository) GetApartment(ctx context.Context, apartmentID string) (*domain.ApartmentClaims, error) {
	const op = "ClaimRepository.GetApartment"

	metadata, err := r.FetchApartmentMetadata(ctx, []string{apartmentID})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	doc, ok := metadata[apartmentID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, repository.ErrApartmentNotFound)
	}

	result := &domain.ApartmentClaims{
		Document: doc,
		Claims:   make(map[domain.ClaimDomain][]domain.Claim),
		Counts:   make(map[domain.ClaimDomain]int),
	}

	apartmentClaims, err := r.claimsByApartment(ctx, apartmentID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	result.Claims[domain.DomainApartment] = apartmentClaims

	roomClaims, err := r.roomClaimsByApartment(ctx, apartmentID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	result.Claims[domain.DomainRoom] = roomClaims

	neighborhoodClaims, err := r.neighborhoodClaimsByApartment(ctx, apartmentID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	result.Claims[domain.DomainNeighborhood] = neighborhoodClaims

	for dom, claims := range result.Claims {
		result.Counts[dom] = len(claims)
	}

	return result, nil
}

func (r *ClaimRepository) claimsByApartment(ctx context.Context, apartmentID string) ([]domain.Claim, error) {
	query := `
		SELECT claim, claim_type, kind, weight, negation, is_specific,
			or_group, quantifiers, grounding
		FROM apartment_claims
		WHERE apartment_id = $1
		ORDER BY doc_id
	`

	rows, err := r.db.Query(ctx, query, apartmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []domain.Claim
	for rows.Next() {
		var c domain.Claim
		var ctype, kind string
		var quantJSON, groundingJSON []byte

		err := rows.Scan(&c.Text, &ctype, &kind, &c.Weight, &c.Negation,
			&c.IsSpecific, &c.OrGroup, &quantJSON, &groundingJSON)
		if err != nil {
			return nil, err
		}

		c.Type = domain.ClaimType(ctype)
		c.Kind = domain.ClaimKind(kind)
		c.Domain = domain.DomainApartment
		_ = unmarshalJSONB(quantJSON, &c.Quantifiers)
		if len(groundingJSON) > 0 && string(groundingJSON) != "null" {
			var g domain.GroundingMetadata
			if unmarshalJSONB(groundingJSON, &g) == nil {
				c.Grounding = &g
			}
		}

		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func (r *ClaimRepository) roomClaimsByApartment(ctx context.Context, apartmentID string) ([]domain.Claim, error) {
	query := `
		SELECT id, claim, claim_type, kind, weight, negation, is_specific,
			room_type, or_group, quantifiers
		FROM room_claims
		WHERE apartment_id = $1
		ORDER BY room_id
	`

	rows, err := r.db.Query(ctx, query, apartmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []domain.Claim
	for rows.Next() {
		var c domain.Claim
		var ctype, kind string
		var roomType *string
		var quantJSON []byte

		err := rows.Scan(&c.ID, &c.Text, &ctype, &kind, &c.Weight,
			&c.Negation, &c.IsSpecific, &roomType, &c.OrGroup, &quantJSON)
		if err != nil {
			return nil, err
		}

		c.Type = domain.ClaimType(ctype)
		c.Kind = domain.ClaimKind(kind)
		c.Domain = domain.DomainRoom
		if roomType != nil {
			c.RoomType = *roomType
		}
		_ = unmarshalJSONB(quantJSON, &c.Quantifiers)

		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func (r *ClaimRepository) neighborhoodClaimsByApartment(ctx context.Context, apartmentID string) ([]domain.Claim, error) {
	query := `
		SELECT id, claim, claim_type, kind, weight, negation, quantifiers
		FROM neighborhood_claims
		WHERE apartment_id = $1
	`

	rows, err := r.db.Query(ctx, query, apartmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []domain.Claim
	for rows.Next() {
		var c domain.Claim
		var ctype, kind string
		var quantJSON []byte

		err := rows.Scan(&c.ID, &c.Text, &ctype, &kind, &c.Weight, &c.Negation, &quantJSON)
		if err != nil {
			return nil, err
		}

		c.Type = domain.ClaimType(ctype)
		c.Kind = domain.ClaimKind(kind)
		c.Domain = domain.DomainNeighborhood
		_ = unmarshalJSONB(quantJSON, &c.Quantifiers)

		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// DeleteApartment — удаляет листинг из всех трёх индексов.
func (r *ClaimRepository) DeleteApartment(ctx context.Context, apartmentID string) (domain.DeleteCounts, error) {
	const op = "ClaimRepository.DeleteApartment"

	var counts domain.DeleteCounts

	tag, err := r.db.Exec(ctx, `DELETE FROM room_claims WHERE apartment_id = $1`, apartmentID)
	if err != nil {
		return counts, fmt.Errorf("%s: %w", op, err)
	}
	counts.Rooms = int(tag.RowsAffected())

	tag, err = r.db.Exec(ctx, `DELETE FROM apartment_claims WHERE apartment_id = $1`, apartmentID)
	if err != nil {
		return counts, fmt.Errorf("%s: %w", op, err)
	}
	counts.Apartments = int(tag.RowsAffected())

	tag, err = r.db.Exec(ctx, `DELETE FROM neighborhood_claims WHERE apartment_id = $1`, apartmentID)
	if err != nil {
		return counts, fmt.Errorf("%s: %w", op, err)
	}
	counts.Neighborhoods = int(tag.RowsAffected())

	if _, err := r.db.Exec(ctx, `DELETE FROM apartment_availability WHERE apartment_id = $1`, apartmentID); err != nil {
		return counts, fmt.Errorf("%s: %w", op, err)
	}

	if counts.Rooms == 0 && counts.Apartments == 0 && counts.Neighborhoods == 0 {
		return counts, fmt.Errorf("%s: %w", op, repository.ErrApartmentNotFound)
	}

	return counts, nil
}

// UpdateSummaries — накладывает сгенерированные сводки на канонический
// документ "{apartment_id}_claim_0".
func (r *ClaimRepository) UpdateSummaries(ctx context.Context, apartmentID string, title, propertySummary, locationSummary, widgetToken string) error {
	const op = "ClaimRepository.UpdateSummaries"

	setClauses := []string{}
	params := []interface{}{}
	paramCount := 1

	if title != "" {
		setClauses = append(setClauses, fmt.Sprintf("title = $%d", paramCount))
		params = append(params, title)
		paramCount++
	}
	if propertySummary != "" {
		setClauses = append(setClauses, fmt.Sprintf("property_summary = $%d", paramCount))
		params = append(params, propertySummary)
		paramCount++
	}
	if locationSummary != "" {
		setClauses = append(setClauses, fmt.Sprintf("location_summary = $%d", paramCount))
		params = append(params, locationSummary)
		paramCount++
	}
	if widgetToken != "" {
		setClauses = append(setClauses, fmt.Sprintf("location_widget_token = $%d", paramCount))
		params = append(params, widgetToken)
		paramCount++
	}

	if len(setClauses) == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrNoFieldsToUpdate)
	}

	query := fmt.Sprintf(
		`UPDATE apartment_claims SET %s WHERE doc_id = $%d`,
		strings.Join(setClauses, ", "), paramCount,
	)
	params = append(params, apartmentID+"_claim_0")

	tag, err := r.db.Exec(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrApartmentNotFound)
	}

	return nil
}

// Refresh — пост-записьная синхронизация. Записи транзакционны, поэтому
// здесь только отметка в логе для симметрии фаз конвейера.
func (r *ClaimRepository) Refresh(ctx context.Context) error {
	r.log.Debug("indices refreshed")
	return nil
}

// availabilityBounds приводит полузаданный интервал к закрытому.
func availabilityBounds(filters domain.StructuredFilters) (from, to interface{}) {
	if filters.AvailabilityFrom != nil {
		from = *filters.AvailabilityFrom
	} else {
		from = "-infinity"
	}
	if filters.AvailabilityTo != nil {
		to = *filters.AvailabilityTo
	} else {
		to = "infinity"
	}
	return from, to
}

func marshalJSONB(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalJSONB(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.New("invalid jsonb payload: " + err.Error())
	}
	return nil
}

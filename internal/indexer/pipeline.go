package indexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"claim_search/internal/domain"
	"claim_search/internal/lib/embeddings"
	"claim_search/internal/lib/geocoding"
	"claim_search/internal/lib/llm"
	"claim_search/internal/lib/logger/sl"
	"claim_search/internal/lib/vision"
	"claim_search/internal/services/chunker"
	"claim_search/internal/services/dedup"
	"claim_search/internal/services/enrichment"
	"claim_search/internal/services/expansion"
	"claim_search/internal/services/grounding"
	"claim_search/internal/services/quantifiers"
	"log/slog"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// Store — запись утверждений в пер-доменные индексы.
type Store interface {
	InsertRoomClaims(ctx context.Context, apartmentID string, claims []domain.EmbeddedClaim) (int, error)
	InsertApartmentClaims(ctx context.Context, doc domain.ApartmentDocument, claims []domain.EmbeddedClaim) (int, error)
	InsertNeighborhoodClaims(ctx context.Context, neighborhoodID, apartmentID string, claims []domain.EmbeddedClaim) (int, error)
	Refresh(ctx context.Context) error
}

// Pipeline — конвейер индексации листинга: извлечение, дедупликация,
// заземление, расширение, квантификаторы, эмбеддинги, запись, обогащение.
type Pipeline struct {
	log        *slog.Logger
	llmClient  llm.Client
	embedder   embeddings.Client
	visioner   vision.Client
	geocoder   geocoding.Client
	chunks     *chunker.Chunker
	deduper    *dedup.Service
	expander   *expansion.Service
	quantifier *quantifiers.Service
	grounder   *grounding.Service
	enricher   *enrichment.Service
	store      Store
}

func New(
	log *slog.Logger,
	llmClient llm.Client,
	embedder embeddings.Client,
	visioner vision.Client,
	geocoder geocoding.Client,
	chunks *chunker.Chunker,
	deduper *dedup.Service,
	expander *expansion.Service,
	quantifier *quantifiers.Service,
	grounder *grounding.Service,
	enricher *enrichment.Service,
	store Store,
) *Pipeline {
	return &Pipeline{
		log:        log,
		llmClient:  llmClient,
		embedder:   embedder,
		visioner:   visioner,
		geocoder:   geocoder,
		chunks:     chunks,
		deduper:    deduper,
		expander:   expander,
		quantifier: quantifier,
		grounder:   grounder,
		enricher:   enricher,
		store:      store,
	}
}

// IndexRequest — входные данные листинга. ImageDescriptions позволяет
// передать готовые описания фото (по индексу URL) и пропустить vision-вызов.
type IndexRequest struct {
	Document          string                     `json:"document,omitempty"`
	ApartmentID       string                     `json:"apartment_id"`
	Title             string                     `json:"title,omitempty"`
	Address           string                     `json:"address,omitempty"`
	NeighborhoodID    string                     `json:"neighborhood_id,omitempty"`
	ImageURLs         []string                   `json:"image_urls,omitempty"`
	ImageMetadata     []domain.ImageMetadata     `json:"image_metadata,omitempty"`
	ImageDescriptions []string                   `json:"precomputed_image_descriptions,omitempty"`
	RentPrice         *float64                   `json:"rent_price,omitempty"`
	AvailabilityDates []domain.AvailabilityRange `json:"availability_dates,omitempty"`
}

// IndexResult — итог индексации одного листинга.
type IndexResult struct {
	ApartmentID        string             `json:"apartment_id"`
	Status             string             `json:"status"`
	RoomClaims         int                `json:"room_claims"`
	ApartmentClaims    int                `json:"apartment_claims"`
	NeighborhoodClaims int                `json:"neighborhood_claims"`
	ImagesProcessed    int                `json:"images_processed"`
	Enrichment         *enrichment.Result `json:"enrichment,omitempty"`
	ElapsedMs          int64              `json:"elapsed_ms"`
}

// BatchResult — итог пакетной индексации.
type BatchResult struct {
	Status     string        `json:"status"`
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Results    []IndexResult `json:"results"`
	Errors     []BatchError  `json:"errors"`
}

// BatchError — ошибка по одному листингу пакета.
type BatchError struct {
	ApartmentID string `json:"apartment_id"`
	Error       string `json:"error"`
}

// Process индексирует один листинг от сырого текста и фото до записанных
// во все три индекса утверждений.
func (p *Pipeline) Process(ctx context.Context, req IndexRequest) (*IndexResult, error) {
	const op = "indexer.Pipeline.Process"

	start := time.Now()

	if req.Document == "" && len(req.ImageURLs) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyListing)
	}

	p.log.Info("indexing apartment",
		slog.String("apartment_id", req.ApartmentID),
		slog.Int("images", len(req.ImageURLs)),
	)

	// Фаза 1: извлечение из текста и фото параллельно
	claims, imageMeta := p.extractClaims(ctx, req)
	if len(claims) == 0 {
		p.log.Warn("no claims extracted from any source",
			slog.String("apartment_id", req.ApartmentID),
		)
		return &IndexResult{
			ApartmentID: req.ApartmentID,
			Status:      "success",
			ElapsedMs:   time.Since(start).Milliseconds(),
		}, nil
	}

	// Фаза 2: дедупликация
	claims, err := p.deduper.Deduplicate(ctx, claims)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Фаза 3: структурированные поля и геокодирование параллельно
	structured, location := p.extractStructuredAndGeocode(ctx, req)

	// Фаза 4: заземление специфичных утверждений
	claims = p.grounder.GroundClaims(ctx, claims, location)

	// Фаза 5: расширение производными и анти-утверждениями
	claims = p.expander.Expand(ctx, claims)

	// Фаза 6: квантификаторы
	claims = p.quantifier.Annotate(ctx, claims)

	// Фаза 7: эмбеддинги
	embedded, err := p.embedClaims(ctx, claims)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Фаза 8: запись комнаты -> квартиры -> районы
	doc := p.buildDocument(req, structured, location, imageMeta)
	result, err := p.writeClaims(ctx, doc, embedded)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	result.ImagesProcessed = len(imageMeta)

	if err := p.store.Refresh(ctx); err != nil {
		p.log.Warn("index refresh failed", sl.Err(err))
	}

	// Фаза 9: обогащение канонического документа
	enriched, err := p.enricher.Enrich(ctx, enrichment.Request{
		ApartmentID: req.ApartmentID,
		Document:    req.Document,
		Title:       req.Title,
		ImageDescriptions: lo.Map(doc.ImageMetadata, func(m domain.ImageMetadata, _ int) string {
			return m.Description
		}),
		Address:  req.Address,
		Location: location,
	})
	if err != nil {
		p.log.Warn("enrichment failed",
			slog.String("apartment_id", req.ApartmentID),
			sl.Err(err),
		)
	} else {
		result.Enrichment = enriched
	}

	result.ApartmentID = req.ApartmentID
	result.Status = "indexed"
	result.ElapsedMs = time.Since(start).Milliseconds()

	p.log.Info("apartment indexed",
		slog.String("apartment_id", req.ApartmentID),
		slog.Int("room_claims", result.RoomClaims),
		slog.Int("apartment_claims", result.ApartmentClaims),
		slog.Int("neighborhood_claims", result.NeighborhoodClaims),
		slog.Int64("elapsed_ms", result.ElapsedMs),
	)

	return result, nil
}

// ProcessBatch индексирует листинги параллельно; ошибки отдельных
// листингов не валят пакет.
func (p *Pipeline) ProcessBatch(ctx context.Context, reqs []IndexRequest) *BatchResult {
	batch := &BatchResult{
		Status: "complete",
		Total:  len(reqs),
	}

	results := make([]*IndexResult, len(reqs))
	errs := make([]error, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			results[i], errs[i] = p.Process(gctx, req)
			return nil
		})
	}
	_ = g.Wait()

	for i, req := range reqs {
		if errs[i] != nil {
			batch.Failed++
			batch.Errors = append(batch.Errors, BatchError{
				ApartmentID: req.ApartmentID,
				Error:       errs[i].Error(),
			})
			continue
		}
		batch.Successful++
		batch.Results = append(batch.Results, *results[i])
	}

	return batch
}

// extractClaims — фаза извлечения: чанки текста и фото обрабатываются
// параллельно, каждый сбой логируется и пропускается.
func (p *Pipeline) extractClaims(ctx context.Context, req IndexRequest) ([]domain.Claim, []domain.ImageMetadata) {
	var wg sync.WaitGroup
	var mu sync.Mutex

	var claims []domain.Claim
	var imageMeta []domain.ImageMetadata

	if req.Document != "" {
		for _, chunk := range p.chunks.Split(req.Document) {
			wg.Add(1)
			go func(text string) {
				defer wg.Done()

				extracted, err := p.llmClient.ExtractClaims(ctx, text)
				if err != nil {
					p.log.Warn("text claim extraction failed",
						slog.String("apartment_id", req.ApartmentID),
						sl.Err(err),
					)
					return
				}
				for i := range extracted {
					extracted[i].Sources = []domain.ClaimSource{{Kind: domain.SourceText}}
				}

				mu.Lock()
				claims = append(claims, extracted...)
				mu.Unlock()
			}(chunk)
		}
	}

	for idx, url := range req.ImageURLs {
		wg.Add(1)
		go func(index int, imageURL string) {
			defer wg.Done()

			desc := p.describeImage(ctx, req, index, imageURL)
			if desc == nil || desc.Description == "" {
				return
			}

			extracted, err := p.llmClient.ExtractClaims(ctx, desc.Description)
			if err != nil {
				p.log.Warn("image claim extraction failed",
					slog.String("apartment_id", req.ApartmentID),
					slog.Int("image_index", index),
					sl.Err(err),
				)
				return
			}
			for i := range extracted {
				extracted[i].Sources = []domain.ClaimSource{{
					Kind:       domain.SourceImage,
					ImageURL:   imageURL,
					ImageIndex: index,
				}}
				if extracted[i].RoomType == "" {
					extracted[i].RoomType = desc.RoomType
				}
			}

			mu.Lock()
			claims = append(claims, extracted...)
			imageMeta = append(imageMeta, domain.ImageMetadata{
				URL:         imageURL,
				Index:       index,
				RoomType:    desc.RoomType,
				Description: desc.Description,
			})
			mu.Unlock()
		}(idx, url)
	}

	wg.Wait()
	return claims, imageMeta
}

// describeImage отдаёт готовое описание фото из запроса, когда вызывающая
// сторона его передала, иначе обращается к vision-модели.
func (p *Pipeline) describeImage(ctx context.Context, req IndexRequest, index int, imageURL string) *vision.ImageDescription {
	if index < len(req.ImageDescriptions) && req.ImageDescriptions[index] != "" {
		return &vision.ImageDescription{Description: req.ImageDescriptions[index]}
	}

	desc, err := p.visioner.DescribeImage(ctx, imageURL)
	if err != nil {
		p.log.Warn("image description failed",
			slog.String("apartment_id", req.ApartmentID),
			slog.Int("image_index", index),
			sl.Err(err),
		)
		return nil
	}
	return desc
}

// extractStructuredAndGeocode — структурированные поля листинга и
// геокодирование адреса параллельно. Оба шага необязательные.
func (p *Pipeline) extractStructuredAndGeocode(ctx context.Context, req IndexRequest) (*llm.StructuredProperty, *domain.GeoPoint) {
	var wg sync.WaitGroup

	var structured *llm.StructuredProperty
	var location *domain.GeoPoint

	if req.Document != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sp, err := p.llmClient.ExtractStructuredProperty(ctx, req.Document)
			if err != nil {
				p.log.Warn("structured extraction failed",
					slog.String("apartment_id", req.ApartmentID),
					sl.Err(err),
				)
				return
			}
			structured = sp
		}()
	}

	if req.Address != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			point, err := p.geocoder.Geocode(ctx, req.Address)
			if err != nil {
				p.log.Warn("geocoding failed",
					slog.String("apartment_id", req.ApartmentID),
					slog.String("address", req.Address),
					sl.Err(err),
				)
				return
			}
			location = point
		}()
	}

	wg.Wait()
	return structured, location
}

func (p *Pipeline) embedClaims(ctx context.Context, claims []domain.Claim) ([]domain.EmbeddedClaim, error) {
	texts := lo.Map(claims, func(c domain.Claim, _ int) string { return c.Text })

	vectors, err := p.embedder.EmbedBatch(ctx, texts, embeddings.TaskRetrievalDocument)
	if err != nil {
		return nil, err
	}

	embedded := make([]domain.EmbeddedClaim, len(claims))
	for i, c := range claims {
		embedded[i] = domain.EmbeddedClaim{Claim: c, Embedding: vectors[i]}
	}
	return embedded, nil
}

func (p *Pipeline) buildDocument(req IndexRequest, structured *llm.StructuredProperty, location *domain.GeoPoint, imageMeta []domain.ImageMetadata) domain.ApartmentDocument {
	if len(req.ImageMetadata) > 0 {
		imageMeta = req.ImageMetadata
	}

	doc := domain.ApartmentDocument{
		ApartmentID:       req.ApartmentID,
		Title:             req.Title,
		Address:           req.Address,
		NeighborhoodID:    req.NeighborhoodID,
		Location:          location,
		ImageURLs:         req.ImageURLs,
		ImageMetadata:     imageMeta,
		RentPrice:         req.RentPrice,
		AvailabilityDates: req.AvailabilityDates,
	}

	// Явно переданные поля запроса важнее извлечённых из текста
	if structured != nil {
		if doc.RentPrice == nil && structured.RentPrice != nil {
			doc.RentPrice = structured.RentPrice
		}
		if len(doc.AvailabilityDates) == 0 {
			if from, ok := parseDate(structured.AvailabilityFrom); ok {
				to, hasTo := parseDate(structured.AvailabilityTo)
				if !hasTo {
					to = from.AddDate(1, 0, 0)
				}
				doc.AvailabilityDates = []domain.AvailabilityRange{{From: from, To: to}}
			}
		}
	}

	return doc
}

// writeClaims пишет утверждения в порядке комнаты -> квартиры -> районы.
func (p *Pipeline) writeClaims(ctx context.Context, doc domain.ApartmentDocument, embedded []domain.EmbeddedClaim) (*IndexResult, error) {
	byDomain := lo.GroupBy(embedded, func(c domain.EmbeddedClaim) domain.ClaimDomain {
		return c.Domain
	})

	result := &IndexResult{}

	n, err := p.store.InsertRoomClaims(ctx, doc.ApartmentID, byDomain[domain.DomainRoom])
	if err != nil {
		return nil, err
	}
	result.RoomClaims = n

	n, err = p.store.InsertApartmentClaims(ctx, doc, byDomain[domain.DomainApartment])
	if err != nil {
		return nil, err
	}
	result.ApartmentClaims = n

	neighborhoodID := doc.NeighborhoodID
	if neighborhoodID == "" {
		neighborhoodID = "unknown"
	}
	n, err = p.store.InsertNeighborhoodClaims(ctx, neighborhoodID, doc.ApartmentID, byDomain[domain.DomainNeighborhood])
	if err != nil {
		return nil, err
	}
	result.NeighborhoodClaims = n

	return result, nil
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

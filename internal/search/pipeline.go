package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"claim_search/internal/config"
	"claim_search/internal/domain"
	"claim_search/internal/lib/embeddings"
	"claim_search/internal/lib/llm"
	"claim_search/internal/lib/logger/sl"
	"claim_search/internal/repository/claim_repository"
	"claim_search/internal/services/quantifiers"
	"log/slog"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Store — ANN-поиск и выборки по трём индексам.
type Store interface {
	SearchRooms(ctx context.Context, embedding []float32, k int, roomTypes []string) ([]claim_repository.RoomHit, error)
	SearchApartments(ctx context.Context, embedding []float32, k int, filters domain.StructuredFilters, apartmentIDs []string) ([]claim_repository.ApartmentHit, error)
	SearchNeighborhoods(ctx context.Context, embedding []float32, k int, claimType domain.ClaimType) ([]claim_repository.NeighborhoodHit, error)
	ApartmentIDsByNeighborhoods(ctx context.Context, neighborhoodIDs []string, filters domain.StructuredFilters) ([]string, error)
	ApartmentIDsByFilters(ctx context.Context, filters domain.StructuredFilters) ([]string, error)
	FetchApartmentMetadata(ctx context.Context, apartmentIDs []string) (map[string]domain.ApartmentDocument, error)
}

// Pipeline — поисковый конвейер: разбор запроса, ANN по доменам,
// гейты, валидация совместимости, скоринг.
type Pipeline struct {
	log        *slog.Logger
	llmClient  llm.Client
	embedder   embeddings.Client
	quantifier *quantifiers.Service
	store      Store
	cfg        config.SearchConfig

	compatMu    sync.Mutex
	compatCache map[string]llm.Compatibility
}

func New(
	log *slog.Logger,
	llmClient llm.Client,
	embedder embeddings.Client,
	quantifier *quantifiers.Service,
	store Store,
	cfg config.SearchConfig,
) *Pipeline {
	return &Pipeline{
		log:         log,
		llmClient:   llmClient,
		embedder:    embedder,
		quantifier:  quantifier,
		store:       store,
		cfg:         cfg,
		compatCache: make(map[string]llm.Compatibility),
	}
}

// Request — параметры поиска.
type Request struct {
	Query              string           `json:"query"`
	TopK               int              `json:"top_k,omitempty"`
	UserLocation       *domain.GeoPoint `json:"user_location,omitempty"`
	VerifyClaims       *bool            `json:"verify_claims,omitempty"`
	DoubleCheckMatches bool             `json:"double_check_matches,omitempty"`
}

// Response — результаты поиска с разобранным запросом.
type Response struct {
	Query        string                   `json:"query"`
	ParsedClaims []domain.Claim           `json:"parsed_claims"`
	Filters      domain.StructuredFilters `json:"filters"`
	Results      []domain.SearchResult    `json:"results"`
	Total        int                      `json:"total"`
	ElapsedMs    int64                    `json:"elapsed_ms"`
}

// Search выполняет весь поисковый конвейер над одним запросом.
func (p *Pipeline) Search(ctx context.Context, req Request) (*Response, error) {
	const op = "search.Pipeline.Search"

	start := time.Now()

	if req.Query == "" {
		return nil, fmt.Errorf("%s: empty query", op)
	}
	topK := req.TopK
	if topK <= 0 {
		topK = p.cfg.DefaultTopK
	}
	verify := req.VerifyClaims == nil || *req.VerifyClaims

	claims, filters := p.parseQuery(ctx, req)
	if len(claims) == 0 && filters.IsEmpty() {
		return &Response{Query: req.Query, Results: []domain.SearchResult{}}, nil
	}

	claims = dropRedundantClaims(claims, filters)
	claims = p.quantifier.Annotate(ctx, claims)

	candidates, err := p.retrieve(ctx, claims, filters)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Фолбэк: векторный поиск пуст, но жёсткие фильтры заданы
	if len(candidates) == 0 && !filters.IsEmpty() {
		return p.filterOnlyResults(ctx, req.Query, claims, filters, topK, start)
	}

	if verify {
		p.validateCompatibility(ctx, candidates)
	}

	scored := make([]scoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, scoreCandidate(c, len(claims), p.cfg.AntiThreshold, req.DoubleCheckMatches))
	}
	ranked := rankCandidates(scored, p.cfg.MinScore, topK, req.DoubleCheckMatches)

	results, err := p.hydrate(ctx, ranked, len(claims))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	p.log.Info("search complete",
		slog.String("query", req.Query),
		slog.Int("claims", len(claims)),
		slog.Int("candidates", len(candidates)),
		slog.Int("results", len(results)),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)

	return &Response{
		Query:        req.Query,
		ParsedClaims: claims,
		Filters:      filters,
		Results:      results,
		Total:        len(results),
		ElapsedMs:    time.Since(start).Milliseconds(),
	}, nil
}

// parseQuery — утверждения и жёсткие фильтры извлекаются параллельно.
// Сбой фильтров не фатален, сбой утверждений оставляет только фильтры.
func (p *Pipeline) parseQuery(ctx context.Context, req Request) ([]domain.Claim, domain.StructuredFilters) {
	var wg sync.WaitGroup

	var claims []domain.Claim
	var filters domain.StructuredFilters

	wg.Add(1)
	go func() {
		defer wg.Done()
		parsed, err := p.llmClient.ParseSearchQuery(ctx, req.Query)
		if err != nil {
			p.log.Warn("query claim parsing failed", slog.String("query", req.Query), sl.Err(err))
			return
		}
		claims = parsed
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		extracted, err := p.llmClient.ExtractStructuredFilters(ctx, req.Query)
		if err != nil {
			p.log.Warn("filter extraction failed", slog.String("query", req.Query), sl.Err(err))
			return
		}
		if extracted != nil {
			filters = *extracted
		}
	}()

	wg.Wait()

	// "ближе N км" без явной точки отсчёта считается от пользователя
	if filters.GeoRadiusM > 0 && filters.GeoCenter == nil {
		filters.GeoCenter = req.UserLocation
	}

	return claims, filters
}

// retrieve — ANN-поиск каждого утверждения в его доменном индексе,
// параллельно, затем пересечение иерархии: каждый домен, давший
// совпадения, сужает множество допустимых квартир. Кандидаты,
// нарушающие квантификаторы запроса, отсекаются целиком.
func (p *Pipeline) retrieve(ctx context.Context, claims []domain.Claim, filters domain.StructuredFilters) (map[string]*candidate, error) {
	if len(claims) == 0 {
		return map[string]*candidate{}, nil
	}

	texts := lo.Map(claims, func(c domain.Claim, _ int) string { return c.Text })
	vectors, err := p.embedder.EmbedBatch(ctx, texts, embeddings.TaskRetrievalQuery)
	if err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	byDomain := make(map[domain.ClaimDomain][]claimMatch)
	neighborhoodIDs := make(map[string]bool)

	for i, c := range claims {
		wg.Add(1)
		go func(sc domain.Claim, embedding []float32) {
			defer wg.Done()

			matches, nbhIDs, err := p.searchDomain(ctx, sc, embedding, filters)
			if err != nil {
				p.log.Warn("domain search failed",
					slog.String("claim", sc.Text),
					slog.String("domain", sc.Domain.String()),
					sl.Err(err),
				)
				return
			}

			mu.Lock()
			for _, m := range matches {
				byDomain[m.Domain] = append(byDomain[m.Domain], m)
			}
			for _, id := range nbhIDs {
				neighborhoodIDs[id] = true
			}
			mu.Unlock()
		}(c, vectors[i])
	}
	wg.Wait()

	valid, err := p.validApartments(ctx, byDomain, lo.Keys(neighborhoodIDs), filters)
	if err != nil {
		return nil, err
	}

	candidates := make(map[string]*candidate)
	for _, matches := range byDomain {
		for _, m := range matches {
			if !valid[m.ApartmentID] {
				continue
			}
			c, ok := candidates[m.ApartmentID]
			if !ok {
				c = &candidate{apartmentID: m.ApartmentID}
				candidates[m.ApartmentID] = c
			}
			c.add(m)
		}
	}

	for id, c := range candidates {
		if quantifierGateDrops(c) {
			delete(candidates, id)
		}
	}

	return candidates, nil
}

// validApartments пересекает иерархию: ключи совпадений уровня квартиры,
// ключи уровня комнат и квартиры найденных районов (с учётом жёстких
// фильтров). Домен без совпадений множество не сужает.
func (p *Pipeline) validApartments(ctx context.Context, byDomain map[domain.ClaimDomain][]claimMatch, neighborhoodIDs []string, filters domain.StructuredFilters) (map[string]bool, error) {
	var valid map[string]bool
	constrained := false

	intersect := func(ids map[string]bool) {
		if !constrained {
			valid = ids
			constrained = true
			return
		}
		for id := range valid {
			if !ids[id] {
				delete(valid, id)
			}
		}
	}

	if matches := byDomain[domain.DomainApartment]; len(matches) > 0 {
		intersect(apartmentKeys(matches))
	}
	if matches := byDomain[domain.DomainRoom]; len(matches) > 0 {
		intersect(apartmentKeys(matches))
	}
	if len(neighborhoodIDs) > 0 {
		ids, err := p.store.ApartmentIDsByNeighborhoods(ctx, neighborhoodIDs, filters)
		if err != nil {
			return nil, err
		}
		inNeighborhoods := make(map[string]bool, len(ids))
		for _, id := range ids {
			inNeighborhoods[id] = true
		}
		intersect(inNeighborhoods)
	}

	return valid, nil
}

func apartmentKeys(matches []claimMatch) map[string]bool {
	keys := make(map[string]bool, len(matches))
	for _, m := range matches {
		keys[m.ApartmentID] = true
	}
	return keys
}

// searchDomain выполняет ANN-поиск одного утверждения в его домене.
// Пороги близости применяются позже, при оценке совпадений.
func (p *Pipeline) searchDomain(ctx context.Context, sc domain.Claim, embedding []float32, filters domain.StructuredFilters) ([]claimMatch, []string, error) {
	switch sc.Domain {
	case domain.DomainRoom:
		var roomTypes []string
		if sc.RoomType != "" {
			roomTypes = []string{sc.RoomType}
		}
		hits, err := p.store.SearchRooms(ctx, embedding, roomK, roomTypes)
		if err != nil {
			return nil, nil, err
		}
		matches := make([]claimMatch, 0, len(hits))
		for _, h := range hits {
			matches = append(matches, claimMatch{
				Search:      sc,
				Matched:     h.Claim,
				Domain:      domain.DomainRoom,
				Similarity:  h.Similarity,
				ApartmentID: h.ApartmentID,
			})
		}
		return matches, nil, nil

	case domain.DomainNeighborhood:
		hits, err := p.store.SearchNeighborhoods(ctx, embedding, neighborhoodK, sc.Type)
		if err != nil {
			return nil, nil, err
		}
		matches := make([]claimMatch, 0, len(hits))
		nbhIDs := make([]string, 0, len(hits))
		for _, h := range hits {
			matches = append(matches, claimMatch{
				Search:      sc,
				Matched:     h.Claim,
				Domain:      domain.DomainNeighborhood,
				Similarity:  h.Similarity,
				ApartmentID: h.ApartmentID,
			})
			nbhIDs = append(nbhIDs, h.NeighborhoodID)
		}
		return matches, lo.Uniq(nbhIDs), nil

	default:
		hits, err := p.store.SearchApartments(ctx, embedding, apartmentK, filters, nil)
		if err != nil {
			return nil, nil, err
		}
		matches := make([]claimMatch, 0, len(hits))
		for _, h := range hits {
			matches = append(matches, claimMatch{
				Search:      sc,
				Matched:     h.Claim,
				Domain:      domain.DomainApartment,
				Similarity:  h.Similarity,
				ApartmentID: h.ApartmentID,
			})
		}
		return matches, nil, nil
	}
}

// validateCompatibility перепроверяет лёгкой моделью по одной паре на
// поисковое утверждение: его глобально лучшее совпадение среди всех
// кандидатов. Вердикты кешируются по текстам пары; непроверенные пары
// остаются совместимыми, ошибка батча — тоже.
func (p *Pipeline) validateCompatibility(ctx context.Context, candidates map[string]*candidate) {
	// лучшее по близости совпадение каждого поискового утверждения
	best := make(map[uuid.UUID]claimMatch)
	for _, c := range candidates {
		for claimID, matches := range c.matches {
			for _, m := range matches {
				if b, ok := best[claimID]; !ok || m.Similarity > b.Similarity {
					best[claimID] = m
				}
			}
		}
	}

	pending := make([]llm.ClaimPair, 0, len(best))
	seen := make(map[string]bool)
	for _, m := range best {
		key := pairKey(m.Search.Text, m.Matched.Text)
		p.compatMu.Lock()
		_, cached := p.compatCache[key]
		p.compatMu.Unlock()
		if cached || seen[key] {
			continue
		}
		seen[key] = true
		pending = append(pending, llm.ClaimPair{
			SearchClaim:  m.Search.Text,
			MatchedClaim: m.Matched.Text,
		})
	}

	batchSize := p.cfg.ValidationBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	for _, batch := range lo.Chunk(pending, batchSize) {
		results, err := p.llmClient.ValidateCompatibility(ctx, batch)
		if err != nil {
			p.log.Warn("compatibility validation failed, defaulting to compatible",
				slog.Int("pairs", len(batch)),
				sl.Err(err),
			)
			continue
		}
		p.compatMu.Lock()
		for _, r := range results {
			p.compatCache[pairKey(r.Pair.SearchClaim, r.Pair.MatchedClaim)] = r.Verdict
		}
		p.compatMu.Unlock()
	}

	// разложить вердикты по совпадениям
	p.compatMu.Lock()
	defer p.compatMu.Unlock()
	for _, c := range candidates {
		for _, matches := range c.matches {
			for i := range matches {
				verdict, ok := p.compatCache[pairKey(matches[i].Search.Text, matches[i].Matched.Text)]
				if !ok {
					verdict = llm.Compatible
				}
				matches[i].Verdict = verdict
			}
		}
	}
}

func pairKey(searchText, matchedText string) string {
	return searchText + "\x1f" + matchedText
}

// hydrate дополняет результаты метаданными листингов.
func (p *Pipeline) hydrate(ctx context.Context, ranked []scoredCandidate, totalClaims int) ([]domain.SearchResult, error) {
	ids := lo.Map(ranked, func(sc scoredCandidate, _ int) string { return sc.apartmentID })
	metadata, err := p.store.FetchApartmentMetadata(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]domain.SearchResult, 0, len(ranked))
	for _, sc := range ranked {
		result := domain.SearchResult{
			ApartmentID:   sc.apartmentID,
			FinalScore:    sc.finalScore,
			CoverageCount: sc.coverage,
			MatchedClaims: sc.matchedClaims,
			DomainScores:  sc.domainScores,
		}
		if totalClaims > 0 {
			result.CoverageRatio = float64(sc.coverage) / float64(totalClaims)
		}
		if doc, ok := metadata[sc.apartmentID]; ok {
			result.Title = doc.Title
			result.Address = doc.Address
			result.NeighborhoodID = doc.NeighborhoodID
			result.Location = doc.Location
			result.ImageURLs = doc.ImageURLs
			result.RentPrice = doc.RentPrice
			result.PropertySummary = doc.PropertySummary
			result.LocationSummary = doc.LocationSummary
		}
		results = append(results, result)
	}
	return results, nil
}

// filterOnlyResults — выдача по одним жёстким фильтрам, когда векторный
// поиск ничего не нашёл. Балльная часть нулевая.
func (p *Pipeline) filterOnlyResults(ctx context.Context, query string, claims []domain.Claim, filters domain.StructuredFilters, topK int, start time.Time) (*Response, error) {
	const op = "search.Pipeline.filterOnlyResults"

	ids, err := p.store.ApartmentIDsByFilters(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(ids) > topK {
		ids = ids[:topK]
	}

	metadata, err := p.store.FetchApartmentMetadata(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	results := make([]domain.SearchResult, 0, len(ids))
	for _, id := range ids {
		result := domain.SearchResult{
			ApartmentID:   id,
			DomainScores:  map[domain.ClaimDomain]float64{},
			MatchedClaims: []domain.MatchedClaim{},
		}
		if doc, ok := metadata[id]; ok {
			result.Title = doc.Title
			result.Address = doc.Address
			result.NeighborhoodID = doc.NeighborhoodID
			result.Location = doc.Location
			result.ImageURLs = doc.ImageURLs
			result.RentPrice = doc.RentPrice
			result.PropertySummary = doc.PropertySummary
			result.LocationSummary = doc.LocationSummary
		}
		results = append(results, result)
	}

	p.log.Info("filter-only search complete",
		slog.String("query", query),
		slog.Int("results", len(results)),
	)

	return &Response{
		Query:        query,
		ParsedClaims: claims,
		Filters:      filters,
		Results:      results,
		Total:        len(results),
		ElapsedMs:    time.Since(start).Milliseconds(),
	}, nil
}

package quantifiers

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"claim_search/internal/domain"
	"claim_search/internal/lib/llm"
	"claim_search/internal/lib/logger/sl"
	"log/slog"

	"golang.org/x/sync/semaphore"
)

var numberRe = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

// Service извлекает числовые ограничения из утверждений через лёгкую
// модель, с ограничением параллелизма и кешем по шаблону текста.
type Service struct {
	log         *slog.Logger
	llmClient   llm.Client
	concurrency int64

	mu    sync.Mutex
	cache map[string][]cachedQuantifier
}

// cachedQuantifier — квантификатор из кеша. VMinVar/VMaxVar ссылаются на
// позицию числа в тексте (или -1 для литерала), чтобы кеш по шаблону
// переиспользовался для утверждений с другими значениями.
type cachedQuantifier struct {
	q       domain.Quantifier
	vminVar int
	vmaxVar int
}

func New(log *slog.Logger, llmClient llm.Client, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = 30
	}
	return &Service{
		log:         log,
		llmClient:   llmClient,
		concurrency: int64(concurrency),
		cache:       make(map[string][]cachedQuantifier),
	}
}

// Annotate наполняет Quantifiers у утверждений, которые экстрактор
// пометил флагом has_quantifiers. Текст таких утверждений заменяется на
// шаблонизированную форму, чтобы эмбеддинги не зависели от конкретных чисел.
// Ошибки отдельных утверждений логируются и не валят остальные.
func (s *Service) Annotate(ctx context.Context, claims []domain.Claim) []domain.Claim {
	sem := semaphore.NewWeighted(s.concurrency)
	var wg sync.WaitGroup

	out := make([]domain.Claim, len(claims))
	copy(out, claims)

	for i := range out {
		if !out[i].HasQuantifiers {
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer sem.Release(1)

			quants, err := s.extract(ctx, out[idx].Text)
			if err != nil {
				s.log.Warn("quantifier extraction failed",
					slog.String("claim", out[idx].Text),
					sl.Err(err),
				)
				return
			}
			if len(quants) > 0 {
				out[idx].Quantifiers = quants
				out[idx].Text = quantifiedText(out[idx].Text, quants)
			}
		}(i)
	}

	wg.Wait()

	for i := range out {
		out[i].Quantifiers = ensureStudioQuantifier(out[i].Text, out[i].Quantifiers)
	}

	return out
}

// extract возвращает квантификаторы, используя кеш по шаблону текста.
func (s *Service) extract(ctx context.Context, text string) ([]domain.Quantifier, error) {
	template, values := templatize(text)

	s.mu.Lock()
	cached, ok := s.cache[template]
	s.mu.Unlock()
	if ok {
		return instantiate(cached, values), nil
	}

	quants, err := s.llmClient.ExtractQuantifiers(ctx, text)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[template] = bindToTemplate(quants, values)
	s.mu.Unlock()

	return quants, nil
}

// templatize заменяет числа в тексте на VAR_N и возвращает их значения.
func templatize(text string) (string, []float64) {
	var values []float64
	n := 0
	template := numberRe.ReplaceAllStringFunc(strings.ToLower(text), func(m string) string {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
		if err != nil {
			return m
		}
		values = append(values, v)
		n++
		return "VAR_" + strconv.Itoa(n)
	})
	return template, values
}

// bindToTemplate привязывает границы квантификаторов к позициям чисел.
// COUNT никогда не шаблонизируется: его значения остаются литералами.
func bindToTemplate(quants []domain.Quantifier, values []float64) []cachedQuantifier {
	cached := make([]cachedQuantifier, len(quants))
	for i, q := range quants {
		c := cachedQuantifier{q: q, vminVar: -1, vmaxVar: -1}
		if q.Type != domain.QuantCount {
			for vi, v := range values {
				if c.vminVar == -1 && q.VMin == v {
					c.vminVar = vi
				}
				if c.vmaxVar == -1 && q.VMax == v {
					c.vmaxVar = vi
				}
			}
		}
		cached[i] = c
	}
	return cached
}

// instantiate подставляет значения нового текста в кешированный шаблон.
func instantiate(cached []cachedQuantifier, values []float64) []domain.Quantifier {
	quants := make([]domain.Quantifier, len(cached))
	for i, c := range cached {
		q := c.q
		if c.vminVar >= 0 && c.vminVar < len(values) {
			q.VMin = values[c.vminVar]
		}
		if c.vmaxVar >= 0 && c.vmaxVar < len(values) {
			q.VMax = values[c.vmaxVar]
		}
		quants[i] = q
	}
	return quants
}

// quantifiedText заменяет на VAR_N числа, попавшие в границы не-COUNT
// квантификаторов. Счёт комнат остаётся литералом: "2 bedroom" семантически
// отличается от "3 bedroom", а вот конкретная цена или метраж — нет.
func quantifiedText(text string, quants []domain.Quantifier) string {
	bounds := make(map[float64]struct{})
	for _, q := range quants {
		if q.Type == domain.QuantCount {
			continue
		}
		bounds[q.VMin] = struct{}{}
		if q.VMax != domain.QuantifierInfinity {
			bounds[q.VMax] = struct{}{}
		}
	}

	n := 0
	return numberRe.ReplaceAllStringFunc(text, func(m string) string {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
		if err != nil {
			return m
		}
		if _, bound := bounds[v]; !bound {
			return m
		}
		n++
		return "VAR_" + strconv.Itoa(n)
	})
}

// ensureStudioQuantifier гарантирует, что "studio" означает ровно одну
// спальню, даже если модель квантификатор не вернула.
func ensureStudioQuantifier(text string, quants []domain.Quantifier) []domain.Quantifier {
	if !strings.Contains(strings.ToLower(text), "studio") {
		return quants
	}
	for _, q := range quants {
		if q.Type == domain.QuantCount && q.Noun == "bedroom" {
			return quants
		}
	}
	return append(quants, domain.Quantifier{
		Type: domain.QuantCount,
		Noun: "bedroom",
		VMin: 1,
		VMax: 1,
		Op:   domain.OpEquals,
	})
}

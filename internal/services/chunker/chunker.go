package chunker

import (
	"regexp"
	"strings"
)

// Chunker режет длинные описания листингов на перекрывающиеся куски,
// чтобы извлечение утверждений не упиралось в контекст модели.
type Chunker struct {
	trigger int
	maxSize int
	overlap int
}

// New создаёт чанкер. Документы короче trigger не режутся вовсе.
func New(trigger, maxSize, overlap int) *Chunker {
	return &Chunker{
		trigger: trigger,
		maxSize: maxSize,
		overlap: overlap,
	}
}

var (
	blankLineRe = regexp.MustCompile(`\n\s*\n`)
	listItemRe  = regexp.MustCompile(`(?m)^\s*(?:[-•*]|\d+\.|[a-z]\))\s+`)
	sentenceRe  = regexp.MustCompile(`[.!?]+(?:\s+|$)`)
)

// Split режет документ на куски не длиннее maxSize с перекрытием overlap.
// Порядок дробления: пустые строки, элементы списков, границы предложений.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.trigger {
		return []string{text}
	}

	var segments []string
	for _, para := range blankLineRe.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= c.maxSize {
			segments = append(segments, para)
			continue
		}
		segments = append(segments, c.splitOversized(para)...)
	}

	return c.assemble(segments)
}

// splitOversized дробит абзац, не влезающий в один кусок.
func (c *Chunker) splitOversized(para string) []string {
	parts := splitListItems(para)
	if len(parts) == 1 {
		parts = splitSentences(para)
	}

	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if len(p) <= c.maxSize {
			out = append(out, p)
			continue
		}
		// Предложение длиннее лимита — режем по границам предложений,
		// а если и это одно предложение, по словам
		sentences := splitSentences(p)
		if len(sentences) > 1 {
			out = append(out, sentences...)
		} else {
			out = append(out, c.splitByWords(p)...)
		}
	}
	return out
}

func (c *Chunker) splitByWords(s string) []string {
	words := strings.Fields(s)
	var out []string
	var sb strings.Builder
	for _, w := range words {
		if sb.Len() > 0 && sb.Len()+1+len(w) > c.maxSize {
			out = append(out, sb.String())
			sb.Reset()
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(w)
	}
	if sb.Len() > 0 {
		out = append(out, sb.String())
	}
	return out
}

// assemble собирает сегменты в куски с перекрытием.
func (c *Chunker) assemble(segments []string) []string {
	var chunks []string
	var sb strings.Builder

	flush := func() {
		if sb.Len() == 0 {
			return
		}
		chunks = append(chunks, sb.String())
		tail := overlapTail(sb.String(), c.overlap)
		sb.Reset()
		if tail != "" {
			sb.WriteString(tail)
		}
	}

	for _, seg := range segments {
		if sb.Len() > 0 && sb.Len()+1+len(seg) > c.maxSize {
			flush()
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(seg)
	}
	if sb.Len() > 0 {
		chunks = append(chunks, sb.String())
	}

	return chunks
}

// overlapTail возвращает хвост куска для перекрытия, выровненный по слову.
func overlapTail(s string, overlap int) string {
	if overlap <= 0 || len(s) <= overlap {
		return ""
	}
	tail := s[len(s)-overlap:]
	if i := strings.IndexByte(tail, ' '); i != -1 {
		tail = tail[i+1:]
	}
	return strings.TrimSpace(tail)
}

func splitListItems(s string) []string {
	locs := listItemRe.FindAllStringIndex(s, -1)
	if len(locs) < 2 {
		return []string{s}
	}

	var parts []string
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			parts = append(parts, s[prev:loc[0]])
		}
		prev = loc[0]
	}
	parts = append(parts, s[prev:])
	return parts
}

func splitSentences(s string) []string {
	locs := sentenceRe.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return []string{s}
	}

	var parts []string
	prev := 0
	for _, loc := range locs {
		parts = append(parts, s[prev:loc[1]])
		prev = loc[1]
	}
	if prev < len(s) {
		parts = append(parts, s[prev:])
	}
	return parts
}

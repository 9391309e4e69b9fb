package chunker

import (
	"strings"
	"testing"
)

func TestSplit_ShortDocumentSingleChunk(t *testing.T) {
	c := New(1000, 800, 50)

	text := "Cozy one bedroom apartment with a balcony near the park."
	chunks := c.Split(text)

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != text {
		t.Errorf("expected document unchanged, got %q", chunks[0])
	}
}

func TestSplit_EmptyDocument(t *testing.T) {
	c := New(1000, 800, 50)

	if chunks := c.Split("   \n  "); chunks != nil {
		t.Errorf("expected nil for blank document, got %v", chunks)
	}
}

func TestSplit_RespectsMaxSize(t *testing.T) {
	c := New(100, 120, 20)

	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("The apartment features hardwood floors. ")
	}

	chunks := c.Split(sb.String())

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		// небольшой запас на перекрытие, пришитое к началу куска
		if len(chunk) > 120+20+1 {
			t.Errorf("chunk %d exceeds size bound: %d chars", i, len(chunk))
		}
	}
}

func TestSplit_OverlapCarriesTail(t *testing.T) {
	c := New(50, 80, 30)

	text := "First sentence about the kitchen here. Second sentence about the bedroom there. Third sentence about the bathroom too."
	chunks := c.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	// хвост каждого куска должен встречаться в начале следующего
	for i := 0; i < len(chunks)-1; i++ {
		tail := overlapTail(chunks[i], 30)
		if tail == "" {
			continue
		}
		if !strings.HasPrefix(chunks[i+1], tail) {
			t.Errorf("chunk %d does not start with overlap tail %q: %q", i+1, tail, chunks[i+1])
		}
	}
}

func TestSplit_ParagraphBoundariesPreferred(t *testing.T) {
	c := New(40, 60, 0)

	text := "The kitchen has a gas stove.\n\nThe bedroom faces the quiet courtyard."
	chunks := c.Split(text)

	for i, chunk := range chunks {
		if strings.Contains(chunk, "\n\n") {
			t.Errorf("chunk %d spans a paragraph break: %q", i, chunk)
		}
	}
}

func TestSplit_ListItems(t *testing.T) {
	c := New(30, 50, 0)

	text := "- dishwasher included\n- in-unit laundry\n- central air conditioning\n- heated bathroom floors"
	chunks := c.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("expected list to be split, got %d chunks", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 50 {
			t.Errorf("chunk %d exceeds max size: %d", i, len(chunk))
		}
	}
}

func TestSplit_SingleOversizedSentenceFallsBackToWords(t *testing.T) {
	c := New(20, 30, 0)

	text := "spacious sunlit corner apartment overlooking the botanical gardens with panoramic views"
	chunks := c.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("expected word-level split, got %d chunks", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 30 {
			t.Errorf("chunk %d exceeds max size: %d", i, len(chunk))
		}
	}
}

func TestOverlapTail_WordAligned(t *testing.T) {
	tail := overlapTail("the quick brown fox jumps", 10)

	if strings.ContainsRune(tail[:1], ' ') {
		t.Errorf("tail starts with space: %q", tail)
	}
	if !strings.HasSuffix("the quick brown fox jumps", tail) {
		t.Errorf("tail %q is not a suffix", tail)
	}
}

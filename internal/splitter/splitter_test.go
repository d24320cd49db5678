package splitter

import (
	"reflect"
	"strings"
	"testing"

	"github.com/kbchat/backend/internal/document"
	"github.com/kbchat/backend/internal/testutil"
)

func mustNew(t *testing.T, size, overlap int) *Splitter {
	t.Helper()
	s, err := New(size, overlap)
	if err != nil {
		t.Fatalf("New(%d, %d): %v", size, overlap, err)
	}
	return s
}

func TestNewRejectsBadWindow(t *testing.T) {
	tests := []struct{ size, overlap int }{
		{0, 0},
		{-5, 0},
		{100, 100},
		{100, 150},
		{100, -1},
	}
	for _, tt := range tests {
		if _, err := New(tt.size, tt.overlap); err == nil {
			t.Errorf("New(%d, %d) expected error", tt.size, tt.overlap)
		}
	}
}

func TestSplitFifteenHundredCharacters(t *testing.T) {
	text := testutil.UniqueText(1500)
	chunks := mustNew(t, 1000, 200).Split(text)

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0] != text[:1000] {
		t.Error("first chunk must be the first 1000 characters")
	}
	if chunks[1] != text[800:] {
		t.Error("second chunk must start 200 characters before the 1000 mark")
	}
}

func TestSplitOverlapInvariant(t *testing.T) {
	for _, length := range []int{1001, 1800, 2600, 5000, 12345} {
		text := testutil.UniqueText(length)
		chunks := mustNew(t, 1000, 200).Split(text)

		for i := 0; i+1 < len(chunks); i++ {
			a := []rune(chunks[i])
			b := []rune(chunks[i+1])
			if len(a) != 1000 {
				t.Fatalf("len=%d: chunk %d has %d runes, want 1000", length, i, len(a))
			}
			if string(a[len(a)-200:]) != string(b[:min(200, len(b))]) {
				t.Fatalf("len=%d: chunks %d and %d do not share 200 runes", length, i, i+1)
			}
		}

		last := chunks[len(chunks)-1]
		if !strings.HasSuffix(text, last) {
			t.Fatalf("len=%d: last chunk does not end the text", length)
		}
	}
}

func TestSplitDeterministic(t *testing.T) {
	text := strings.Repeat("determinism matters. ", 300)
	s := mustNew(t, 1000, 200)
	if !reflect.DeepEqual(s.Split(text), s.Split(text)) {
		t.Fatal("splitting the same text twice produced different chunks")
	}
}

func TestSplitShortAndEmpty(t *testing.T) {
	s := mustNew(t, 1000, 200)
	if got := s.Split("   \n\t "); got != nil {
		t.Errorf("expected no chunks for blank text, got %v", got)
	}
	if got := s.Split("short"); !reflect.DeepEqual(got, []string{"short"}) {
		t.Errorf("expected single chunk, got %v", got)
	}
	exact := strings.Repeat("a", 1000)
	if got := s.Split(exact); len(got) != 1 {
		t.Errorf("expected 1 chunk for exactly chunk-size text, got %d", len(got))
	}
}

func TestSplitCountsRunesNotBytes(t *testing.T) {
	text := strings.Repeat("é", 15)
	chunks := mustNew(t, 10, 2).Split(text)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if n := len([]rune(chunks[0])); n != 10 {
		t.Errorf("first chunk has %d runes, want 10", n)
	}
	if n := len([]rune(chunks[1])); n != 7 {
		t.Errorf("second chunk has %d runes, want 7", n)
	}
}

func TestSplitPagesKeepsProvenance(t *testing.T) {
	pages := []document.Page{
		{Text: strings.Repeat("x", 25), Source: "a.pdf", Page: 1},
		{Text: "", Source: "a.pdf", Page: 2},
		{Text: "tail", Source: "b.csv", Page: 1},
	}
	chunks := mustNew(t, 10, 2).SplitPages(pages)

	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
	}
	if chunks[0].ID != "a.pdf#p1#0" || chunks[2].ID != "a.pdf#p1#2" {
		t.Errorf("unexpected ids: %q %q", chunks[0].ID, chunks[2].ID)
	}
	if chunks[3].Source != "b.csv" || chunks[3].Text != "tail" {
		t.Errorf("unexpected last chunk: %+v", chunks[3])
	}
}

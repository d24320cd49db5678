package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kbchat/backend/internal/document"
	"github.com/kbchat/backend/internal/vector"
	"github.com/kbchat/backend/pkg/utils"
)

func sampleIndex(t *testing.T) *Index {
	t.Helper()
	idx := New("test-embed")
	chunks := []document.Chunk{
		{ID: "a#p1#0", Text: "origin", Source: "a.pdf", Page: 1, Index: 0},
		{ID: "a#p1#1", Text: "far", Source: "a.pdf", Page: 1, Index: 1},
		{ID: "b#p1#0", Text: "near", Source: "b.csv", Page: 1, Index: 2},
		{ID: "b#p1#1", Text: "twin of near", Source: "b.csv", Page: 1, Index: 3},
	}
	vectors := [][]float32{
		{0, 0, 0},
		{10, 10, 10},
		{1, 0, 0},
		{1, 0, 0},
	}
	if err := idx.Add(chunks, vectors); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return idx
}

func TestNearestOrdering(t *testing.T) {
	idx := sampleIndex(t)

	hits := idx.Nearest([]float32{0.9, 0, 0}, 3)
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}

	want := []string{"near", "twin of near", "origin"}
	for i, h := range hits {
		if h.Chunk.Text != want[i] {
			t.Errorf("hit %d = %q, want %q", i, h.Chunk.Text, want[i])
		}
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Distance < hits[i-1].Distance {
			t.Fatalf("hits not ascending by distance: %v", hits)
		}
	}
}

func TestNearestClampsK(t *testing.T) {
	idx := sampleIndex(t)

	if got := idx.Nearest([]float32{0, 0, 0}, 50); len(got) != idx.Len() {
		t.Errorf("expected %d hits, got %d", idx.Len(), len(got))
	}
	if got := idx.Nearest([]float32{0, 0, 0}, 0); got != nil {
		t.Errorf("expected no hits for k=0, got %v", got)
	}
	if got := New("m").Nearest([]float32{1}, 5); got != nil {
		t.Errorf("expected no hits on empty index, got %v", got)
	}
}

func TestAddRejectsMismatches(t *testing.T) {
	idx := New("m")
	chunk := document.Chunk{ID: "x"}

	if err := idx.Add([]document.Chunk{chunk}, nil); err == nil {
		t.Error("expected error for missing vectors")
	}
	if err := idx.Add([]document.Chunk{chunk}, [][]float32{{1, 2}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	err := idx.Add([]document.Chunk{chunk}, [][]float32{{1, 2, 3}})
	if !errors.Is(err, vector.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestSearchRejectsWrongDimension(t *testing.T) {
	idx := sampleIndex(t)
	_, err := idx.Search(context.Background(), []float32{1, 2}, 5)
	if !errors.Is(err, vector.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	idx := sampleIndex(t)
	dir := t.TempDir()

	vecPath, metaPath, err := idx.Save(dir, "corpus")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Base(vecPath) != "corpus.vec" || filepath.Base(metaPath) != "corpus.meta.json" {
		t.Errorf("unexpected file names %s %s", vecPath, metaPath)
	}

	loaded, err := Load(dir, "corpus")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Model() != "test-embed" || loaded.Dim() != 3 || loaded.Len() != 4 {
		t.Fatalf("unexpected loaded index: model=%s dim=%d len=%d", loaded.Model(), loaded.Dim(), loaded.Len())
	}

	query := []float32{9, 9, 9.5}
	before := idx.Nearest(query, 1)
	after := loaded.Nearest(query, 1)
	if before[0].Chunk != after[0].Chunk || before[0].Distance != after[0].Distance {
		t.Errorf("nearest neighbour changed: %+v vs %+v", before[0], after[0])
	}
}

func TestLoadDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := sampleIndex(t).Save(dir, "corpus"); err != nil {
		t.Fatal(err)
	}

	vecPath := filepath.Join(dir, "corpus.vec")
	data, err := os.ReadFile(vecPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(vecPath, data[:len(data)-4], 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(dir, "corpus"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestLoadMissingFiles(t *testing.T) {
	if _, err := Load(t.TempDir(), "absent"); err == nil {
		t.Fatal("expected error")
	}
}

func TestDigestMatchesSavedFiles(t *testing.T) {
	idx := sampleIndex(t)
	dir := t.TempDir()

	vecPath, metaPath, err := idx.Save(dir, "corpus")
	if err != nil {
		t.Fatal(err)
	}

	want, err := utils.HashFiles(vecPath, metaPath)
	if err != nil {
		t.Fatal(err)
	}
	got, err := idx.Digest()
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("Digest() = %s, hash of saved files = %s", got, want)
	}
}

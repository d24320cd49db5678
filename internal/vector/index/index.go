// Package index is an exact, in-memory L2 similarity index over chunk
// embeddings, persisted as a vector file plus a JSON metadata file.
package index

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/kbchat/backend/internal/document"
	"github.com/kbchat/backend/internal/vector"
)

const (
	VectorExt = ".vec"
	MetaExt   = ".meta.json"

	fileVersion uint32 = 1
)

var (
	fileMagic = [4]byte{'K', 'B', 'V', 'I'}

	ErrCorrupt = errors.New("index file is corrupt")
)

type Index struct {
	model   string
	dim     int
	vectors [][]float32
	chunks  []document.Chunk
}

type meta struct {
	Model  string           `json:"model"`
	Dim    int              `json:"dim"`
	Count  int              `json:"count"`
	Chunks []document.Chunk `json:"chunks"`
}

// New returns an empty index for vectors produced by model.
func New(model string) *Index {
	return &Index{model: model}
}

func (idx *Index) Model() string { return idx.model }
func (idx *Index) Dim() int      { return idx.dim }
func (idx *Index) Len() int      { return len(idx.chunks) }

func (idx *Index) Chunks() []document.Chunk {
	out := make([]document.Chunk, len(idx.chunks))
	copy(out, idx.chunks)
	return out
}

// Add appends chunks with their vectors. The first vector fixes the
// dimension of the index.
func (idx *Index) Add(chunks []document.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("got %d chunks and %d vectors", len(chunks), len(vectors))
	}

	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%w: empty vector for chunk %q", vector.ErrDimensionMismatch, chunks[i].ID)
		}
		if idx.dim == 0 {
			idx.dim = len(v)
		}
		if len(v) != idx.dim {
			return fmt.Errorf("%w: chunk %q has %d, index has %d", vector.ErrDimensionMismatch, chunks[i].ID, len(v), idx.dim)
		}
	}

	for i := range chunks {
		vec := make([]float32, idx.dim)
		copy(vec, vectors[i])
		idx.vectors = append(idx.vectors, vec)
		idx.chunks = append(idx.chunks, chunks[i])
	}
	return nil
}

// Nearest returns the k closest chunks by squared L2 distance. Equal
// distances keep insertion order.
func (idx *Index) Nearest(query []float32, k int) []vector.Hit {
	if k <= 0 || len(idx.vectors) == 0 || len(query) != idx.dim {
		return nil
	}
	if k > len(idx.vectors) {
		k = len(idx.vectors)
	}

	hits := make([]vector.Hit, len(idx.vectors))
	for i, v := range idx.vectors {
		hits[i] = vector.Hit{Chunk: idx.chunks[i], Distance: squaredL2(query, v)}
	}

	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Distance < hits[b].Distance
	})

	return hits[:k]
}

func (idx *Index) Search(ctx context.Context, query []float32, k int) ([]vector.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if idx.dim != 0 && len(query) != idx.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", vector.ErrDimensionMismatch, len(query), idx.dim)
	}
	return idx.Nearest(query, k), nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Save writes <base>.vec and <base>.meta.json into dir.
func (idx *Index) Save(dir, base string) (vectorPath, metaPath string, err error) {
	vectorPath = filepath.Join(dir, base+VectorExt)
	metaPath = filepath.Join(dir, base+MetaExt)

	if err := idx.writeVectors(vectorPath); err != nil {
		return "", "", err
	}

	data, err := idx.metaJSON()
	if err != nil {
		return "", "", err
	}
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write index metadata: %w", err)
	}

	return vectorPath, metaPath, nil
}

// Digest is the hex sha256 of the vector file followed by the metadata
// file, exactly as Save would write them.
func (idx *Index) Digest() (string, error) {
	h := sha256.New()
	if err := idx.encodeVectors(h); err != nil {
		return "", err
	}
	data, err := idx.metaJSON()
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Vectors returns the stored embeddings in insertion order. Callers must
// not modify them.
func (idx *Index) Vectors() [][]float32 {
	return idx.vectors
}

func (idx *Index) metaJSON() ([]byte, error) {
	data, err := json.Marshal(meta{
		Model:  idx.model,
		Dim:    idx.dim,
		Count:  len(idx.chunks),
		Chunks: idx.chunks,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal index metadata: %w", err)
	}
	return data, nil
}

func (idx *Index) writeVectors(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create vector file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := idx.encodeVectors(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write vector file: %w", err)
	}
	return f.Close()
}

func (idx *Index) encodeVectors(w io.Writer) error {
	header := []uint32{fileVersion, uint32(len(idx.vectors)), uint32(idx.dim)}
	if _, err := w.Write(fileMagic[:]); err != nil {
		return fmt.Errorf("failed to write vector file: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("failed to write vector file: %w", err)
	}
	for _, v := range idx.vectors {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("failed to write vector file: %w", err)
		}
	}
	return nil
}

// Load reads an index previously written by Save.
func Load(dir, base string) (*Index, error) {
	data, err := os.ReadFile(filepath.Join(dir, base+MetaExt))
	if err != nil {
		return nil, fmt.Errorf("failed to read index metadata: %w", err)
	}

	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrCorrupt, err)
	}

	vectors, err := readVectors(filepath.Join(dir, base+VectorExt))
	if err != nil {
		return nil, err
	}

	if len(vectors) != len(m.Chunks) || m.Count != len(m.Chunks) {
		return nil, fmt.Errorf("%w: %d vectors for %d chunks", ErrCorrupt, len(vectors), len(m.Chunks))
	}
	if len(vectors) > 0 && len(vectors[0]) != m.Dim {
		return nil, fmt.Errorf("%w: dimension %d, metadata says %d", ErrCorrupt, len(vectors[0]), m.Dim)
	}

	return &Index{model: m.Model, dim: m.Dim, vectors: vectors, chunks: m.Chunks}, nil
}

func readVectors(path string) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != fileMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}

	var header [3]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if header[0] != fileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, header[0])
	}

	count, dim := int(header[1]), int(header[2])
	vectors := make([][]float32, count)
	for i := range vectors {
		v := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("%w: vector %d: %v", ErrCorrupt, i, err)
		}
		vectors[i] = v
	}

	if _, err := r.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", ErrCorrupt)
	}

	return vectors, nil
}

package bundle

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/metrics"
	"github.com/kbchat/backend/internal/storage/objectstore"
	"github.com/kbchat/backend/internal/vector"
	"github.com/kbchat/backend/internal/vector/index"
	"github.com/kbchat/backend/pkg/logger"
	"github.com/kbchat/backend/pkg/utils"
)

const maxPointerSize = 64 << 10

type Fetcher struct {
	store      objectstore.Store
	prefix     string
	scratchDir string
	model      string

	mu       sync.Mutex
	corpusID string
	current  *index.Index
	manifest *Manifest
}

// NewFetcher returns a Fetcher that only accepts indexes built with model.
func NewFetcher(store objectstore.Store, prefix, scratchDir, model string) *Fetcher {
	return &Fetcher{
		store:      store,
		prefix:     prefix,
		scratchDir: scratchDir,
		model:      model,
	}
}

// Fetch returns the latest published index. Repeated calls for an unchanged
// pointer return the same decoded index without downloading it again.
func (f *Fetcher) Fetch(ctx context.Context) (vector.Searcher, string, error) {
	idx, manifest, err := f.FetchIndex(ctx)
	if err != nil {
		return nil, "", err
	}
	return idx, manifest.CorpusID, nil
}

func (f *Fetcher) FetchIndex(ctx context.Context) (*index.Index, *Manifest, error) {
	pointer, err := f.readPointer(ctx)
	if err != nil {
		metrics.IndexLoads.WithLabelValues("error").Inc()
		return nil, nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current != nil && f.corpusID == pointer.CorpusID {
		metrics.IndexLoads.WithLabelValues("cached").Inc()
		return f.current, f.manifest, nil
	}

	idx, manifest, err := f.download(ctx, pointer)
	if err != nil {
		metrics.IndexLoads.WithLabelValues("error").Inc()
		return nil, nil, err
	}

	f.corpusID = pointer.CorpusID
	f.current = idx
	f.manifest = manifest
	metrics.IndexLoads.WithLabelValues("downloaded").Inc()

	logger.Info("Index loaded",
		zap.String("corpus_id", manifest.CorpusID),
		zap.String("request_id", manifest.RequestID),
		zap.Int("chunks", idx.Len()),
	)

	return idx, manifest, nil
}

func (f *Fetcher) readPointer(ctx context.Context) (*Pointer, error) {
	rc, err := f.store.Get(ctx, pointerKey(f.prefix))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, ErrNoIndex
		}
		return nil, fmt.Errorf("failed to read index pointer: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxPointerSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read index pointer: %w", err)
	}

	var p Pointer
	if err := json.Unmarshal(data, &p); err != nil || p.CorpusID == "" || p.Key == "" {
		return nil, fmt.Errorf("%w: unreadable pointer", ErrInvalidBundle)
	}
	if p.EmbeddingModel != "" && p.EmbeddingModel != f.model {
		return nil, fmt.Errorf("%w: index uses %q, configured %q", ErrModelMismatch, p.EmbeddingModel, f.model)
	}
	return &p, nil
}

func (f *Fetcher) download(ctx context.Context, p *Pointer) (*index.Index, *Manifest, error) {
	work, err := os.MkdirTemp(f.scratchDir, "fetch-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create fetch directory: %w", err)
	}
	defer os.RemoveAll(work)

	rc, err := f.store.Get(ctx, p.Key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: bundle %s is missing", ErrInvalidBundle, p.Key)
		}
		return nil, nil, fmt.Errorf("failed to download index bundle: %w", err)
	}
	defer rc.Close()

	if err := extract(rc, work); err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(filepath.Join(work, ManifestName))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: missing manifest", ErrInvalidBundle)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, nil, fmt.Errorf("%w: unreadable manifest", ErrInvalidBundle)
	}

	if manifest.EmbeddingModel != f.model {
		return nil, nil, fmt.Errorf("%w: index uses %q, configured %q", ErrModelMismatch, manifest.EmbeddingModel, f.model)
	}

	vecPath := filepath.Join(work, IndexBase+index.VectorExt)
	metaPath := filepath.Join(work, IndexBase+index.MetaExt)
	sum, err := utils.HashFiles(vecPath, metaPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	if sum != manifest.CorpusID || sum != p.CorpusID {
		return nil, nil, fmt.Errorf("%w: content hash %s does not match corpus %s", ErrInvalidBundle, sum, p.CorpusID)
	}

	idx, err := index.Load(work, IndexBase)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}

	return idx, &manifest, nil
}

// extract unpacks the known bundle members into dir; anything else is
// rejected.
func extract(r io.Reader, dir string) error {
	allowed := map[string]bool{
		ManifestName:                true,
		IndexBase + index.VectorExt: true,
		IndexBase + index.MetaExt:   true,
	}

	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidBundle, err)
		}

		if hdr.Typeflag != tar.TypeReg || !allowed[hdr.Name] {
			return fmt.Errorf("%w: unexpected member %q", ErrInvalidBundle, hdr.Name)
		}
		delete(allowed, hdr.Name)

		if err := writeMember(filepath.Join(dir, hdr.Name), tr); err != nil {
			return err
		}
	}
}

func writeMember(path string, r io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	return out.Close()
}

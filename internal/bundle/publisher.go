package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/storage/objectstore"
	"github.com/kbchat/backend/internal/vector/index"
	"github.com/kbchat/backend/pkg/logger"
	"github.com/kbchat/backend/pkg/utils"
)

type Publisher struct {
	store      objectstore.Store
	prefix     string
	scratchDir string
	now        func() time.Time
}

func NewPublisher(store objectstore.Store, prefix, scratchDir string) *Publisher {
	return &Publisher{
		store:      store,
		prefix:     prefix,
		scratchDir: scratchDir,
		now:        time.Now,
	}
}

// Publish uploads idx as a new corpus bundle and then moves the pointer to
// it. It returns the corpus id.
func (p *Publisher) Publish(ctx context.Context, requestID string, idx *index.Index) (string, error) {
	work, err := os.MkdirTemp(p.scratchDir, "publish-*")
	if err != nil {
		return "", fmt.Errorf("failed to create publish directory: %w", err)
	}
	defer os.RemoveAll(work)

	vecPath, metaPath, err := idx.Save(work, IndexBase)
	if err != nil {
		return "", fmt.Errorf("failed to save index: %w", err)
	}

	corpusID, err := utils.HashFiles(vecPath, metaPath)
	if err != nil {
		return "", fmt.Errorf("failed to hash index: %w", err)
	}

	manifest := Manifest{
		CorpusID:       corpusID,
		RequestID:      requestID,
		EmbeddingModel: idx.Model(),
		Dim:            idx.Dim(),
		Chunks:         idx.Len(),
		CreatedAt:      p.now().UTC(),
		Files:          []string{filepath.Base(vecPath), filepath.Base(metaPath)},
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal manifest: %w", err)
	}
	manifestPath := filepath.Join(work, ManifestName)
	if err := os.WriteFile(manifestPath, manifestData, 0o644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}

	archivePath := filepath.Join(work, corpusID+".tar.gz")
	if err := writeArchive(archivePath, manifestPath, vecPath, metaPath); err != nil {
		return "", err
	}

	key := bundleKey(p.prefix, corpusID)
	if err := p.putFile(ctx, key, archivePath); err != nil {
		return "", err
	}

	pointer, err := json.Marshal(Pointer{
		CorpusID:       corpusID,
		Key:            key,
		EmbeddingModel: idx.Model(),
		PublishedAt:    manifest.CreatedAt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal pointer: %w", err)
	}
	if err := p.store.Put(ctx, pointerKey(p.prefix), bytes.NewReader(pointer), int64(len(pointer))); err != nil {
		return "", fmt.Errorf("failed to update index pointer: %w", err)
	}

	logger.Info("Index published",
		zap.String("request_id", requestID),
		zap.String("corpus_id", corpusID),
		zap.String("key", key),
		zap.Int("chunks", idx.Len()),
	)

	return corpusID, nil
}

func (p *Publisher) putFile(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open bundle: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat bundle: %w", err)
	}

	if err := p.store.Put(ctx, key, f, info.Size()); err != nil {
		return fmt.Errorf("failed to upload bundle: %w", err)
	}
	return nil
}

func writeArchive(dest string, files ...string) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create bundle: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	for _, file := range files {
		if err := addFile(tw, file); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish bundle: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish bundle: %w", err)
	}
	return out.Close()
}

func addFile(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	hdr := &tar.Header{
		Name:    filepath.Base(path),
		Mode:    0o644,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write bundle header: %w", err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("failed to write %s into bundle: %w", hdr.Name, err)
	}
	return nil
}

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/document"
	"github.com/kbchat/backend/internal/llm"
	"github.com/kbchat/backend/internal/loader"
	"github.com/kbchat/backend/internal/metrics"
	"github.com/kbchat/backend/internal/splitter"
	"github.com/kbchat/backend/internal/storage/models"
	"github.com/kbchat/backend/internal/vector/index"
	"github.com/kbchat/backend/pkg/logger"
)

const previewChunks = 2

var (
	ErrNoFiles      = errors.New("no files uploaded")
	ErrTooManyFiles = errors.New("too many files in one upload")
	// ErrEmptyCorpus means none of the uploads produced any text to index.
	ErrEmptyCorpus = errors.New("no loadable content in the uploaded files")
)

type Upload struct {
	Name string
	Data []byte
}

type FileResult struct {
	Name    string `json:"name"`
	Outcome string `json:"outcome"`
	Pages   int    `json:"pages"`
	Message string `json:"message,omitempty"`
}

type Report struct {
	RequestID string           `json:"request_id"`
	CorpusID  string           `json:"corpus_id"`
	Files     []FileResult     `json:"files"`
	Pages     int              `json:"pages"`
	Chunks    int              `json:"chunks"`
	Preview   []document.Chunk `json:"preview"`
	Duration  time.Duration    `json:"duration_ns"`
}

// ProgressFunc is called after each upload has been handled.
type ProgressFunc func(done, total int, result FileResult)

// Publisher makes a built index available to the query side and returns
// its corpus id.
type Publisher interface {
	Publish(ctx context.Context, requestID string, idx *index.Index) (string, error)
}

// AuditLog records runs and per-file outcomes. *sqlite.Client implements it.
type AuditLog interface {
	StartRun(run *models.IngestionRun) error
	FinishRun(run *models.IngestionRun) error
	InsertFileResult(file *models.IngestionFile) error
}

type Options struct {
	ChunkSize     int
	ChunkOverlap  int
	ScratchDir    string
	KeepTempFiles bool
	MaxFiles      int
}

type Processor struct {
	loaders   *loader.Registry
	splitter  *splitter.Splitter
	embedder  llm.Embedder
	publisher Publisher
	audit     AuditLog
	opts      Options
	newID     func() string
}

// NewProcessor wires the pipeline. audit may be nil.
func NewProcessor(loaders *loader.Registry, embedder llm.Embedder, publisher Publisher, audit AuditLog, opts Options) (*Processor, error) {
	sp, err := splitter.New(opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("failed to create splitter: %w", err)
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}
	if err := os.MkdirAll(opts.ScratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	return &Processor{
		loaders:   loaders,
		splitter:  sp,
		embedder:  embedder,
		publisher: publisher,
		audit:     audit,
		opts:      opts,
		newID:     func() string { return uuid.New().String() },
	}, nil
}

// Ingest builds one corpus from uploads and publishes it. Unsupported and
// unparseable files are reported and skipped; embedding and publishing
// failures abort the run without publishing anything.
func (p *Processor) Ingest(ctx context.Context, uploads []Upload, progress ProgressFunc) (*Report, error) {
	if len(uploads) == 0 {
		return nil, ErrNoFiles
	}
	if p.opts.MaxFiles > 0 && len(uploads) > p.opts.MaxFiles {
		return nil, fmt.Errorf("%w: %d files, limit is %d", ErrTooManyFiles, len(uploads), p.opts.MaxFiles)
	}

	start := time.Now()
	report := &Report{RequestID: p.newID()}

	logger.Info("Ingestion started",
		zap.String("request_id", report.RequestID),
		zap.Int("files", len(uploads)),
	)

	run := &models.IngestionRun{
		ID:        report.RequestID,
		Status:    models.RunRunning,
		FileCount: len(uploads),
		StartedAt: start,
	}
	p.auditStart(run)

	err := p.ingest(ctx, uploads, progress, report)
	report.Duration = time.Since(start)
	metrics.IngestionDuration.Observe(report.Duration.Seconds())

	run.CorpusID = report.CorpusID
	run.PageCount = report.Pages
	run.ChunkCount = report.Chunks
	finished := time.Now()
	run.FinishedAt = &finished

	if err != nil {
		run.Status = models.RunFailed
		run.Error = err.Error()
		p.auditFinish(run)
		metrics.IngestionRuns.WithLabelValues(models.RunFailed).Inc()

		logger.Error("Ingestion failed",
			zap.String("request_id", report.RequestID),
			zap.Error(err),
		)
		return report, err
	}

	run.Status = models.RunSucceeded
	p.auditFinish(run)
	metrics.IngestionRuns.WithLabelValues(models.RunSucceeded).Inc()
	metrics.ChunksIndexed.Add(float64(report.Chunks))

	logger.Info("Ingestion completed",
		zap.String("request_id", report.RequestID),
		zap.String("corpus_id", report.CorpusID),
		zap.Int("pages", report.Pages),
		zap.Int("chunks", report.Chunks),
		zap.Duration("duration", report.Duration),
	)

	return report, nil
}

func (p *Processor) ingest(ctx context.Context, uploads []Upload, progress ProgressFunc, report *Report) error {
	var pages []document.Page

	for i, upload := range uploads {
		if err := ctx.Err(); err != nil {
			return err
		}

		filePages, result := p.loadUpload(ctx, upload)
		pages = append(pages, filePages...)
		report.Files = append(report.Files, result)

		metrics.FilesProcessed.WithLabelValues(result.Outcome).Inc()
		p.auditFile(report.RequestID, result)

		if progress != nil {
			progress(i+1, len(uploads), result)
		}
	}

	report.Pages = len(pages)
	if len(pages) == 0 {
		return ErrEmptyCorpus
	}

	chunks := p.splitter.SplitPages(pages)
	if len(chunks) == 0 {
		return ErrEmptyCorpus
	}
	report.Chunks = len(chunks)
	report.Preview = chunks[:min(previewChunks, len(chunks))]

	logger.Info("Corpus split",
		zap.String("request_id", report.RequestID),
		zap.Int("pages", len(pages)),
		zap.Int("chunks", len(chunks)),
	)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed chunks: %w", err)
	}

	idx := index.New(p.embedder.Model())
	if err := idx.Add(chunks, vectors); err != nil {
		return fmt.Errorf("failed to build index: %w", err)
	}

	corpusID, err := p.publisher.Publish(ctx, report.RequestID, idx)
	if err != nil {
		return fmt.Errorf("failed to publish index: %w", err)
	}
	report.CorpusID = corpusID

	return nil
}

func (p *Processor) loadUpload(ctx context.Context, upload Upload) ([]document.Page, FileResult) {
	result := FileResult{Name: upload.Name}

	ext := loader.ExtOf(upload.Name)
	l, err := p.loaders.For(ext)
	if err != nil {
		logger.Warn("Unsupported file type", zap.String("file", upload.Name))
		result.Outcome = models.FileSkipped
		result.Message = fmt.Sprintf("Unsupported file type: %s", upload.Name)
		return nil, result
	}

	path := filepath.Join(p.opts.ScratchDir, p.newID()+"."+ext)
	if err := os.WriteFile(path, upload.Data, 0o600); err != nil {
		logger.Error("Failed to stage upload", zap.String("file", upload.Name), zap.Error(err))
		result.Outcome = models.FileFailed
		result.Message = fmt.Sprintf("Failed to load %s: %v", upload.Name, err)
		return nil, result
	}
	if !p.opts.KeepTempFiles {
		defer os.Remove(path)
	}

	pages, err := l.Load(ctx, path, upload.Name)
	if err != nil {
		logger.Warn("Failed to load file", zap.String("file", upload.Name), zap.Error(err))
		result.Outcome = models.FileFailed
		result.Message = fmt.Sprintf("Failed to load %s: %v", upload.Name, err)
		return nil, result
	}

	result.Outcome = models.FileLoaded
	result.Pages = len(pages)
	return pages, result
}

func (p *Processor) auditStart(run *models.IngestionRun) {
	if p.audit == nil {
		return
	}
	if err := p.audit.StartRun(run); err != nil {
		logger.Warn("Failed to record ingestion run", zap.Error(err))
	}
}

func (p *Processor) auditFinish(run *models.IngestionRun) {
	if p.audit == nil {
		return
	}
	if err := p.audit.FinishRun(run); err != nil {
		logger.Warn("Failed to record ingestion result", zap.Error(err))
	}
}

func (p *Processor) auditFile(runID string, result FileResult) {
	if p.audit == nil {
		return
	}
	err := p.audit.InsertFileResult(&models.IngestionFile{
		RunID:     runID,
		Name:      result.Name,
		Outcome:   result.Outcome,
		Pages:     result.Pages,
		Message:   result.Message,
		CreatedAt: time.Now(),
	})
	if err != nil {
		logger.Warn("Failed to record file result", zap.Error(err))
	}
}

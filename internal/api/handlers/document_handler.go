package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/ingestion"
	"github.com/kbchat/backend/internal/storage/models"
	"github.com/kbchat/backend/pkg/logger"
)

const (
	recentRuns = 20
	ndjsonMIME = "application/x-ndjson"
)

type Ingester interface {
	Ingest(ctx context.Context, uploads []ingestion.Upload, progress ingestion.ProgressFunc) (*ingestion.Report, error)
}

// RunLister lists past ingestion runs. *sqlite.Client implements it.
type RunLister interface {
	GetRecentRuns(limit int) ([]models.IngestionRun, error)
}

type DocumentHandler struct {
	processor Ingester
	runs      RunLister
}

// NewDocumentHandler returns the admin handlers. runs may be nil.
func NewDocumentHandler(processor Ingester, runs RunLister) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
		runs:      runs,
	}
}

// UploadDocuments ingests the multipart "files" field as one corpus. With
// "Accept: application/x-ndjson" it streams one progress line per file
// followed by a result line instead of a single JSON body.
func (h *DocumentHandler) UploadDocuments(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Expected a multipart form with one or more files",
		})
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No files uploaded",
		})
	}

	uploads := make([]ingestion.Upload, 0, len(headers))
	for _, fh := range headers {
		data, err := readUpload(fh)
		if err != nil {
			logger.Error("Failed to read upload", zap.String("file", fh.Filename), zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("Failed to read %s", fh.Filename),
			})
		}
		uploads = append(uploads, ingestion.Upload{Name: fh.Filename, Data: data})
	}

	if strings.Contains(c.Get(fiber.HeaderAccept), ndjsonMIME) {
		return h.streamIngest(c, uploads)
	}

	report, err := h.processor.Ingest(c.Context(), uploads, logProgress)
	status, body := ingestOutcome(report, err)
	return c.Status(status).JSON(body)
}

type progressEvent struct {
	Type  string               `json:"type"`
	Done  int                  `json:"done"`
	Total int                  `json:"total"`
	File  ingestion.FileResult `json:"file"`
}

func (h *DocumentHandler) streamIngest(c *fiber.Ctx, uploads []ingestion.Upload) error {
	c.Set(fiber.HeaderContentType, ndjsonMIME)
	c.Set(fiber.HeaderCacheControl, "no-cache")

	// The writer runs after the handler returns, when the request context
	// is no longer usable.
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		enc := json.NewEncoder(w)
		emit := func(v interface{}) {
			if err := enc.Encode(v); err != nil {
				logger.Warn("Failed to write ingestion event", zap.Error(err))
				return
			}
			if err := w.Flush(); err != nil {
				logger.Warn("Failed to flush ingestion event", zap.Error(err))
			}
		}

		report, err := h.processor.Ingest(context.Background(), uploads, func(done, total int, result ingestion.FileResult) {
			logProgress(done, total, result)
			emit(progressEvent{Type: "progress", Done: done, Total: total, File: result})
		})

		status, body := ingestOutcome(report, err)
		body["type"] = "result"
		body["status"] = status
		emit(body)
	})
	return nil
}

func logProgress(done, total int, result ingestion.FileResult) {
	logger.Info("Upload processed",
		zap.Int("done", done),
		zap.Int("total", total),
		zap.String("file", result.Name),
		zap.String("outcome", result.Outcome),
	)
}

// ingestOutcome maps an ingestion result to its HTTP status and body.
func ingestOutcome(report *ingestion.Report, err error) (int, fiber.Map) {
	if err == nil {
		return fiber.StatusOK, fiber.Map{
			"message": "Documents processed successfully",
			"report":  report,
		}
	}

	logger.Error("Ingestion failed", zap.Error(err))

	switch {
	case errors.Is(err, ingestion.ErrNoFiles), errors.Is(err, ingestion.ErrTooManyFiles):
		return fiber.StatusBadRequest, fiber.Map{
			"error": err.Error(),
		}
	case errors.Is(err, ingestion.ErrEmptyCorpus):
		return fiber.StatusUnprocessableEntity, fiber.Map{
			"error":  "None of the uploaded files contained loadable text",
			"report": report,
		}
	default:
		return fiber.StatusInternalServerError, fiber.Map{
			"error":  "Failed to process documents",
			"report": report,
		}
	}
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (h *DocumentHandler) ListRuns(c *fiber.Ctx) error {
	runs, err := h.recentRuns()
	if err != nil {
		logger.Error("Failed to list runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list ingestion runs",
		})
	}

	return c.JSON(fiber.Map{
		"runs": runs,
	})
}

func (h *DocumentHandler) AdminPage(c *fiber.Ctx) error {
	runs, err := h.recentRuns()
	if err != nil {
		logger.Warn("Failed to list runs for admin page", zap.Error(err))
	}

	return c.Render("admin", fiber.Map{
		"Title": "Knowledge base administration",
		"Runs":  runs,
	}, "layout")
}

func (h *DocumentHandler) recentRuns() ([]models.IngestionRun, error) {
	if h.runs == nil {
		return []models.IngestionRun{}, nil
	}
	return h.runs.GetRecentRuns(recentRuns)
}

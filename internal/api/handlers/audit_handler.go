package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/storage/models"
	"github.com/kbchat/backend/pkg/logger"
)

const recentQueries = 50

// AuditReader reads back the audit log. *sqlite.Client implements it.
type AuditReader interface {
	GetRunFiles(runID string) ([]models.IngestionFile, error)
	GetRecentQueries(limit int) ([]models.QueryRecord, error)
	GetQuerySources(queryID string) ([]models.QuerySource, error)
}

type AuditHandler struct {
	audit AuditReader
}

func NewAuditHandler(audit AuditReader) *AuditHandler {
	return &AuditHandler{audit: audit}
}

func (h *AuditHandler) GetRunFiles(c *fiber.Ctx) error {
	runID := c.Params("id")
	files, err := h.audit.GetRunFiles(runID)
	if err != nil {
		logger.Error("Failed to list run files", zap.String("run_id", runID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list run files",
		})
	}
	if files == nil {
		files = []models.IngestionFile{}
	}

	return c.JSON(fiber.Map{
		"run_id": runID,
		"files":  files,
	})
}

// ListQueries returns the most recent questions asked on the chat side,
// newest first.
func (h *AuditHandler) ListQueries(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", recentQueries)
	if limit <= 0 || limit > 500 {
		limit = recentQueries
	}

	queries, err := h.audit.GetRecentQueries(limit)
	if err != nil {
		logger.Error("Failed to list queries", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list queries",
		})
	}
	if queries == nil {
		queries = []models.QueryRecord{}
	}

	return c.JSON(fiber.Map{
		"queries": queries,
		"count":   len(queries),
	})
}

func (h *AuditHandler) GetQuerySources(c *fiber.Ctx) error {
	queryID := c.Params("id")
	sources, err := h.audit.GetQuerySources(queryID)
	if err != nil {
		logger.Error("Failed to list query sources", zap.String("query_id", queryID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list query sources",
		})
	}
	if sources == nil {
		sources = []models.QuerySource{}
	}

	return c.JSON(fiber.Map{
		"query_id": queryID,
		"sources":  sources,
	})
}

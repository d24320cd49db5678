package app

import (
	"context"
	"fmt"

	"github.com/kbchat/backend/internal/api/handlers"
	"github.com/kbchat/backend/internal/ingestion"
	"github.com/kbchat/backend/internal/loader"
	"github.com/kbchat/backend/internal/storage/sqlite"
	"github.com/kbchat/backend/pkg/config"
)

// NewAdmin builds the ingestion server: the upload page and API plus
// read access to the audit log.
func NewAdmin(ctx context.Context, cfg *config.Config) (*Server, error) {
	var audit *sqlite.Client
	s := NewServer("kbchat-admin", cfg, func(ctx context.Context) error {
		return audit.Ping()
	})

	audit, err := openAuditLog(cfg, s)
	if err != nil {
		s.Close()
		return nil, err
	}

	m, err := newModels(ctx, cfg, s)
	if err != nil {
		s.Close()
		return nil, err
	}

	backend, err := newIndexBackend(ctx, cfg, m.embedder.Model(), s)
	if err != nil {
		s.Close()
		return nil, err
	}

	processor, err := ingestion.NewProcessor(loader.DefaultRegistry(), m.embedder, backend, audit, ingestion.Options{
		ChunkSize:     cfg.Ingest.ChunkSize,
		ChunkOverlap:  cfg.Ingest.ChunkOverlap,
		ScratchDir:    cfg.Index.ScratchDir,
		KeepTempFiles: cfg.Ingest.KeepTempFiles,
		MaxFiles:      cfg.Ingest.MaxFiles,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create processor: %w", err)
	}

	documentHandler := handlers.NewDocumentHandler(processor, audit)
	auditHandler := handlers.NewAuditHandler(audit)

	app := s.App()
	app.Get("/", documentHandler.AdminPage)

	api := app.Group("/api/v1")
	api.Post("/documents", documentHandler.UploadDocuments)
	api.Get("/runs", documentHandler.ListRuns)
	api.Get("/runs/:id/files", auditHandler.GetRunFiles)
	api.Get("/queries", auditHandler.ListQueries)
	api.Get("/queries/:id/sources", auditHandler.GetQuerySources)

	return s, nil
}

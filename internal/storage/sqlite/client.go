package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/storage/models"
	"github.com/kbchat/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping() error {
	return c.db.Ping()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ingestion_runs (
		id TEXT PRIMARY KEY,
		corpus_id TEXT,
		status TEXT NOT NULL,
		file_count INTEGER NOT NULL DEFAULT 0,
		page_count INTEGER NOT NULL DEFAULT 0,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON ingestion_runs(started_at);

	CREATE TABLE IF NOT EXISTS ingestion_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		name TEXT NOT NULL,
		outcome TEXT NOT NULL,
		pages INTEGER NOT NULL DEFAULT 0,
		message TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES ingestion_runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_files_run ON ingestion_files(run_id);

	CREATE TABLE IF NOT EXISTS query_log (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		corpus_id TEXT,
		query_text TEXT NOT NULL,
		response TEXT,
		status TEXT NOT NULL,
		error TEXT,
		chunks_retrieved INTEGER,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_session ON query_log(session_id);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_log(created_at);

	CREATE TABLE IF NOT EXISTS query_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		chunk_id TEXT NOT NULL,
		source TEXT,
		page INTEGER,
		distance REAL,
		FOREIGN KEY (query_id) REFERENCES query_log(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_query ON query_sources(query_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) StartRun(run *models.IngestionRun) error {
	query := `INSERT INTO ingestion_runs (id, status, file_count, started_at) VALUES (?, ?, ?, ?)`

	_, err := c.db.Exec(query, run.ID, run.Status, run.FileCount, run.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert ingestion run: %w", err)
	}

	logger.Debug("Ingestion run recorded", zap.String("run_id", run.ID))
	return nil
}

func (c *Client) FinishRun(run *models.IngestionRun) error {
	query := `
		UPDATE ingestion_runs
		SET corpus_id = ?, status = ?, page_count = ?, chunk_count = ?, error = ?, finished_at = ?
		WHERE id = ?
	`

	finished := time.Now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}

	res, err := c.db.Exec(
		query,
		run.CorpusID,
		run.Status,
		run.PageCount,
		run.ChunkCount,
		run.Error,
		finished.UnixMilli(),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update ingestion run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to update ingestion run: %s not found", run.ID)
	}

	logger.Info("Ingestion run finished",
		zap.String("run_id", run.ID),
		zap.String("status", run.Status),
		zap.Int("chunks", run.ChunkCount),
	)
	return nil
}

func (c *Client) InsertFileResult(file *models.IngestionFile) error {
	query := `INSERT INTO ingestion_files (run_id, name, outcome, pages, message, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	_, err := c.db.Exec(
		query,
		file.RunID,
		file.Name,
		file.Outcome,
		file.Pages,
		file.Message,
		file.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert file result: %w", err)
	}

	return nil
}

func (c *Client) GetRecentRuns(limit int) ([]models.IngestionRun, error) {
	query := `
		SELECT id, COALESCE(corpus_id, ''), status, file_count, page_count, chunk_count,
			COALESCE(error, ''), started_at, finished_at
		FROM ingestion_runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get ingestion runs: %w", err)
	}
	defer rows.Close()

	var runs []models.IngestionRun
	for rows.Next() {
		var r models.IngestionRun
		var startedAt int64
		var finishedAt sql.NullInt64

		err := rows.Scan(&r.ID, &r.CorpusID, &r.Status, &r.FileCount, &r.PageCount, &r.ChunkCount,
			&r.Error, &startedAt, &finishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.StartedAt = time.UnixMilli(startedAt)
		if finishedAt.Valid {
			t := time.UnixMilli(finishedAt.Int64)
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

func (c *Client) GetRunFiles(runID string) ([]models.IngestionFile, error) {
	query := `
		SELECT id, run_id, name, outcome, pages, COALESCE(message, ''), created_at
		FROM ingestion_files
		WHERE run_id = ?
		ORDER BY id
	`

	rows, err := c.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run files: %w", err)
	}
	defer rows.Close()

	var files []models.IngestionFile
	for rows.Next() {
		var f models.IngestionFile
		var createdAt int64

		err := rows.Scan(&f.ID, &f.RunID, &f.Name, &f.Outcome, &f.Pages, &f.Message, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		f.CreatedAt = time.UnixMilli(createdAt)
		files = append(files, f)
	}

	return files, rows.Err()
}

func (c *Client) InsertQueryRecord(record *models.QueryRecord) error {
	query := `
		INSERT INTO query_log (id, session_id, corpus_id, query_text, response, status, error,
			chunks_retrieved, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		record.ID,
		record.SessionID,
		record.CorpusID,
		record.QueryText,
		record.Response,
		record.Status,
		record.Error,
		record.ChunksRetrieved,
		record.LatencyMS,
		record.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	logger.Debug("Query recorded",
		zap.String("query_id", record.ID),
		zap.String("status", record.Status),
	)

	return nil
}

func (c *Client) InsertQuerySource(source *models.QuerySource) error {
	query := `INSERT INTO query_sources (query_id, chunk_id, source, page, distance) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.Exec(
		query,
		source.QueryID,
		source.ChunkID,
		source.Source,
		source.Page,
		source.Distance,
	)
	if err != nil {
		return fmt.Errorf("failed to insert query source: %w", err)
	}

	return nil
}

func (c *Client) GetRecentQueries(limit int) ([]models.QueryRecord, error) {
	query := `
		SELECT id, COALESCE(session_id, ''), COALESCE(corpus_id, ''), query_text, COALESCE(response, ''),
			status, COALESCE(error, ''), COALESCE(chunks_retrieved, 0), COALESCE(latency_ms, 0), created_at
		FROM query_log
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query log: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		var createdAt int64

		err := rows.Scan(&r.ID, &r.SessionID, &r.CorpusID, &r.QueryText, &r.Response,
			&r.Status, &r.Error, &r.ChunksRetrieved, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, r)
	}

	return records, rows.Err()
}

func (c *Client) GetQuerySources(queryID string) ([]models.QuerySource, error) {
	query := `SELECT id, query_id, chunk_id, COALESCE(source, ''), COALESCE(page, 0), COALESCE(distance, 0) FROM query_sources WHERE query_id = ? ORDER BY id`

	rows, err := c.db.Query(query, queryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get query sources: %w", err)
	}
	defer rows.Close()

	var sources []models.QuerySource
	for rows.Next() {
		var s models.QuerySource
		if err := rows.Scan(&s.ID, &s.QueryID, &s.ChunkID, &s.Source, &s.Page, &s.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		sources = append(sources, s)
	}

	return sources, rows.Err()
}

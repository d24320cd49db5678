package models

import "time"

const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"

	FileLoaded  = "loaded"
	FileSkipped = "skipped"
	FileFailed  = "failed"

	QueryAnswered = "answered"
	QueryFailed   = "failed"
)

type IngestionRun struct {
	ID         string     `json:"id"`
	CorpusID   string     `json:"corpus_id,omitempty"`
	Status     string     `json:"status"`
	FileCount  int        `json:"file_count"`
	PageCount  int        `json:"page_count"`
	ChunkCount int        `json:"chunk_count"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type IngestionFile struct {
	ID        int       `json:"-"`
	RunID     string    `json:"run_id"`
	Name      string    `json:"name"`
	Outcome   string    `json:"outcome"`
	Pages     int       `json:"pages"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type QueryRecord struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	CorpusID        string    `json:"corpus_id,omitempty"`
	QueryText       string    `json:"question"`
	Response        string    `json:"answer,omitempty"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	ChunksRetrieved int       `json:"chunks_retrieved"`
	LatencyMS       int       `json:"latency_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

type QuerySource struct {
	ID       int     `json:"-"`
	QueryID  string  `json:"query_id"`
	ChunkID  string  `json:"chunk_id"`
	Source   string  `json:"source"`
	Page     int     `json:"page"`
	Distance float64 `json:"distance"`
}

package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/llm"
	"github.com/kbchat/backend/internal/metrics"
	"github.com/kbchat/backend/internal/storage/models"
	"github.com/kbchat/backend/internal/vector"
	"github.com/kbchat/backend/pkg/logger"
)

const InvalidQuestionMessage = "Please enter a valid question."

var (
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrIndexUnavailable wraps any failure to download or load the index.
	ErrIndexUnavailable = errors.New("index is not available")
	ErrRetrieval        = errors.New("retrieval failed")
	ErrGeneration       = errors.New("generation failed")
)

// QueryLog stores answered and failed questions. *sqlite.Client implements it.
type QueryLog interface {
	InsertQueryRecord(record *models.QueryRecord) error
	InsertQuerySource(source *models.QuerySource) error
}

type Engine struct {
	embedder  llm.Embedder
	generator llm.Generator
	log       QueryLog
	topK      int
	maxTokens int
}

type Answer struct {
	ID       string        `json:"id"`
	Question string        `json:"question"`
	Text     string        `json:"answer"`
	Sources  []Source      `json:"sources"`
	Latency  time.Duration `json:"latency_ns"`
}

type Source struct {
	ChunkID  string  `json:"chunk_id"`
	Source   string  `json:"source"`
	Page     int     `json:"page"`
	Sheet    string  `json:"sheet,omitempty"`
	Distance float32 `json:"distance"`
}

// NewEngine returns an Engine retrieving topK chunks per question and
// capping answers at maxTokens. log may be nil.
func NewEngine(embedder llm.Embedder, generator llm.Generator, log QueryLog, topK, maxTokens int) *Engine {
	return &Engine{
		embedder:  embedder,
		generator: generator,
		log:       log,
		topK:      topK,
		maxTokens: maxTokens,
	}
}

func (e *Engine) Answer(ctx context.Context, searcher vector.Searcher, question string) (*Answer, error) {
	return e.answer(ctx, searcher, question, "", "")
}

func (e *Engine) answer(ctx context.Context, searcher vector.Searcher, question, sessionID, corpusID string) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}

	start := time.Now()
	ans := &Answer{ID: uuid.New().String(), Question: question}

	logger.Info("Processing query",
		zap.String("query_id", ans.ID),
		zap.String("session_id", sessionID),
		zap.String("query", question),
	)

	hits, err := e.retrieve(ctx, searcher, question)
	if err != nil {
		e.record(ans, sessionID, corpusID, nil, start, err)
		return nil, err
	}
	ans.Sources = sources(hits)

	prompt := llm.BuildPrompt(vector.Chunks(hits), question)

	genStart := time.Now()
	text, err := e.generator.Generate(ctx, prompt, e.maxTokens)
	metrics.QueryDuration.WithLabelValues("generate").Observe(time.Since(genStart).Seconds())
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrGeneration, err)
		e.record(ans, sessionID, corpusID, hits, start, err)
		return nil, err
	}

	ans.Text = text
	ans.Latency = time.Since(start)
	e.record(ans, sessionID, corpusID, hits, start, nil)

	logger.Info("Query answered",
		zap.String("query_id", ans.ID),
		zap.Int("chunks", len(hits)),
		zap.Duration("latency", ans.Latency),
	)

	return ans, nil
}

func (e *Engine) retrieve(ctx context.Context, searcher vector.Searcher, question string) ([]vector.Hit, error) {
	start := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues("retrieve").Observe(time.Since(start).Seconds())
	}()

	vec, err := e.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to embed question: %w", ErrRetrieval, err)
	}

	hits, err := searcher.Search(ctx, vec, e.topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	metrics.RetrievedChunks.Observe(float64(len(hits)))
	return hits, nil
}

func (e *Engine) record(ans *Answer, sessionID, corpusID string, hits []vector.Hit, start time.Time, failure error) {
	status := models.QueryAnswered
	errText := ""
	if failure != nil {
		status = models.QueryFailed
		errText = failure.Error()
	}
	metrics.QueryTotal.WithLabelValues(status).Inc()
	metrics.QueryDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())

	if e.log == nil {
		return
	}

	err := e.log.InsertQueryRecord(&models.QueryRecord{
		ID:              ans.ID,
		SessionID:       sessionID,
		CorpusID:        corpusID,
		QueryText:       ans.Question,
		Response:        ans.Text,
		Status:          status,
		Error:           errText,
		ChunksRetrieved: len(hits),
		LatencyMS:       int(time.Since(start).Milliseconds()),
		CreatedAt:       start,
	})
	if err != nil {
		logger.Warn("Failed to record query", zap.Error(err))
		return
	}

	for _, h := range hits {
		err := e.log.InsertQuerySource(&models.QuerySource{
			QueryID:  ans.ID,
			ChunkID:  h.Chunk.ID,
			Source:   h.Chunk.Source,
			Page:     h.Chunk.Page,
			Distance: float64(h.Distance),
		})
		if err != nil {
			logger.Warn("Failed to record query source", zap.Error(err))
		}
	}
}

func sources(hits []vector.Hit) []Source {
	out := make([]Source, len(hits))
	for i, h := range hits {
		out[i] = Source{
			ChunkID:  h.Chunk.ID,
			Source:   h.Chunk.Source,
			Page:     h.Chunk.Page,
			Sheet:    h.Chunk.Sheet,
			Distance: h.Distance,
		}
	}
	return out
}

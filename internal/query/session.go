package query

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/vector"
	"github.com/kbchat/backend/pkg/logger"
)

// IndexSource yields the currently published index and its corpus id.
type IndexSource interface {
	Fetch(ctx context.Context) (vector.Searcher, string, error)
}

type Exchange struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Sources  []Source  `json:"sources,omitempty"`
	AskedAt  time.Time `json:"asked_at"`
}

// Session is one user's conversation: the index it activated and the
// exchanges it has had, oldest first.
type Session struct {
	id     string
	engine *Engine
	source IndexSource
	now    func() time.Time

	activate sync.Mutex

	mu       sync.Mutex
	searcher vector.Searcher
	corpusID string
	history  []Exchange
	lastUsed time.Time
}

func NewSession(id string, engine *Engine, source IndexSource) *Session {
	return &Session{
		id:       id,
		engine:   engine,
		source:   source,
		now:      time.Now,
		lastUsed: time.Now(),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Activate loads the index on first use. Later calls reuse it; a failed
// load is retried on the next call.
func (s *Session) Activate(ctx context.Context) (string, error) {
	s.activate.Lock()
	defer s.activate.Unlock()

	s.mu.Lock()
	if s.searcher != nil {
		id := s.corpusID
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	searcher, corpusID, err := s.source.Fetch(ctx)
	if err != nil {
		logger.Warn("Index activation failed", zap.String("session_id", s.id), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}

	s.mu.Lock()
	s.searcher = searcher
	s.corpusID = corpusID
	s.mu.Unlock()

	logger.Info("Index activated", zap.String("session_id", s.id), zap.String("corpus_id", corpusID))
	return corpusID, nil
}

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searcher != nil
}

func (s *Session) CorpusID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.corpusID
}

// Ask answers question against the session's index. History grows only
// when an answer is produced.
func (s *Session) Ask(ctx context.Context, question string) (*Answer, error) {
	s.touch()

	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}

	corpusID, err := s.Activate(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	searcher := s.searcher
	s.mu.Unlock()

	ans, err := s.engine.answer(ctx, searcher, question, s.id, corpusID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.history = append(s.history, Exchange{
		Question: question,
		Answer:   ans.Text,
		Sources:  ans.Sources,
		AskedAt:  s.now(),
	})
	s.mu.Unlock()

	return ans, nil
}

// History returns a copy of the exchanges, oldest first.
func (s *Session) History() []Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Exchange, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) Clear() {
	s.touch()

	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = s.now()
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastUsed)
}

package query

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/metrics"
	"github.com/kbchat/backend/pkg/logger"
)

// Sessions holds live sessions by id and forgets those idle for longer
// than the configured duration.
type Sessions struct {
	engine *Engine
	source IndexSource
	idle   time.Duration
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewSessions(engine *Engine, source IndexSource, idle time.Duration) *Sessions {
	return &Sessions{
		engine:   engine,
		source:   source,
		idle:     idle,
		now:      time.Now,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Get returns the session for id, creating it on first use.
func (r *Sessions) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		s = NewSession(id, r.engine, r.source)
		s.now = r.now
		s.lastUsed = r.now()
		r.sessions[id] = s
		metrics.ActiveSessions.Set(float64(len(r.sessions)))
	}
	return s
}

func (r *Sessions) Delete(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()
}

func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops idle sessions and returns how many were removed.
func (r *Sessions) Sweep() int {
	if r.idle <= 0 {
		return 0
	}

	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if s.idleSince(now) > r.idle {
			delete(r.sessions, id)
			removed++
		}
	}
	metrics.ActiveSessions.Set(float64(len(r.sessions)))

	if removed > 0 {
		logger.Info("Idle sessions expired", zap.Int("removed", removed), zap.Int("remaining", len(r.sessions)))
	}
	return removed
}

// Start runs Sweep every interval until Close.
func (r *Sessions) Start(interval time.Duration) {
	go func() {
		defer close(r.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// Close stops the sweeper started by Start.
func (r *Sessions) Close() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
}

package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kbchat/backend/internal/testutil"
	"github.com/kbchat/backend/internal/vector"
	"github.com/kbchat/backend/internal/vector/index"
)

type fakeSource struct {
	mu    sync.Mutex
	idx   *index.Index
	err   error
	calls int
}

func (s *fakeSource) Fetch(ctx context.Context) (vector.Searcher, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, "", s.err
	}
	return s.idx, "corpus-1", nil
}

func newTestSession(t *testing.T, gen *fakeGenerator, source *fakeSource) *Session {
	t.Helper()
	if source.idx == nil && source.err == nil {
		source.idx = testIndex(t, "alpha", "beta", "gamma")
	}
	engine := NewEngine(testutil.NewEmbedder(), gen, nil, 5, 512)
	return NewSession("s1", engine, source)
}

func TestSessionAskAppendsHistoryInOrder(t *testing.T) {
	gen := &fakeGenerator{reply: "answer"}
	s := newTestSession(t, gen, &fakeSource{})

	for _, q := range []string{"first", "second"} {
		if _, err := s.Ask(context.Background(), q); err != nil {
			t.Fatalf("Ask(%q): %v", q, err)
		}
	}

	history := s.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Question != "first" || history[1].Question != "second" {
		t.Errorf("history order = %q, %q", history[0].Question, history[1].Question)
	}
	if s.CorpusID() != "corpus-1" || !s.Active() {
		t.Errorf("session not active on corpus-1")
	}
}

func TestSessionActivatesOnce(t *testing.T) {
	source := &fakeSource{}
	s := newTestSession(t, &fakeGenerator{reply: "a"}, source)

	for i := 0; i < 3; i++ {
		if _, err := s.Ask(context.Background(), "alpha"); err != nil {
			t.Fatalf("Ask: %v", err)
		}
	}
	if source.calls != 1 {
		t.Errorf("index fetched %d times, want 1", source.calls)
	}
}

func TestSessionActivationFailureIsRetried(t *testing.T) {
	source := &fakeSource{err: errors.New("bucket unreachable")}
	gen := &fakeGenerator{reply: "a"}
	s := newTestSession(t, gen, source)

	_, err := s.Ask(context.Background(), "alpha")
	if !errors.Is(err, ErrIndexUnavailable) {
		t.Fatalf("error = %v, want ErrIndexUnavailable", err)
	}
	if gen.calls() != 0 || len(s.History()) != 0 {
		t.Errorf("failed activation reached the model or history")
	}

	source.mu.Lock()
	source.err = nil
	source.idx = testIndex(t, "alpha")
	source.mu.Unlock()

	if _, err := s.Ask(context.Background(), "alpha"); err != nil {
		t.Fatalf("Ask after recovery: %v", err)
	}
	if source.calls != 2 {
		t.Errorf("fetch calls = %d, want 2", source.calls)
	}
}

func TestSessionFailedAskLeavesHistoryUnchanged(t *testing.T) {
	gen := &fakeGenerator{reply: "a"}
	s := newTestSession(t, gen, &fakeSource{})

	if _, err := s.Ask(context.Background(), "alpha"); err != nil {
		t.Fatal(err)
	}

	gen.mu.Lock()
	gen.err = errors.New("throttled")
	gen.mu.Unlock()

	if _, err := s.Ask(context.Background(), "beta"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := s.Ask(context.Background(), "  "); !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("blank question error = %v", err)
	}
	if got := len(s.History()); got != 1 {
		t.Errorf("history length = %d, want 1", got)
	}
}

func TestSessionBlankQuestionDoesNotActivate(t *testing.T) {
	source := &fakeSource{}
	s := newTestSession(t, &fakeGenerator{}, source)

	if _, err := s.Ask(context.Background(), ""); !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("error = %v", err)
	}
	if source.calls != 0 {
		t.Errorf("blank question fetched the index")
	}
}

func TestSessionClear(t *testing.T) {
	s := newTestSession(t, &fakeGenerator{reply: "a"}, &fakeSource{})

	if _, err := s.Ask(context.Background(), "alpha"); err != nil {
		t.Fatal(err)
	}
	s.Clear()
	if got := len(s.History()); got != 0 {
		t.Fatalf("history length after clear = %d", got)
	}
	s.Clear()

	if _, err := s.Ask(context.Background(), "beta"); err != nil {
		t.Fatal(err)
	}
	if h := s.History(); len(h) != 1 || h[0].Question != "beta" {
		t.Errorf("history after clear = %+v", h)
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	s := newTestSession(t, &fakeGenerator{reply: "a"}, &fakeSource{})
	if _, err := s.Ask(context.Background(), "alpha"); err != nil {
		t.Fatal(err)
	}

	h := s.History()
	h[0].Question = "mutated"

	if s.History()[0].Question != "alpha" {
		t.Error("History exposed internal slice")
	}
}

func TestSessionsSweepRemovesIdle(t *testing.T) {
	engine := NewEngine(testutil.NewEmbedder(), &fakeGenerator{}, nil, 5, 512)
	reg := NewSessions(engine, &fakeSource{}, 30*time.Minute)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	a := reg.Get("a")
	reg.Get("b")
	if reg.Get("a") != a {
		t.Fatal("Get returned a new session for an existing id")
	}

	now = now.Add(20 * time.Minute)
	a.Clear()

	now = now.Add(15 * time.Minute)
	if removed := reg.Sweep(); removed != 1 {
		t.Fatalf("Sweep removed %d, want 1", removed)
	}
	if reg.Len() != 1 {
		t.Errorf("Len = %d, want 1", reg.Len())
	}

	reg.Delete("a")
	if reg.Len() != 0 {
		t.Errorf("Len after delete = %d", reg.Len())
	}
}

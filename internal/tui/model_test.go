package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kbchat/backend/internal/query"
)

type fakeChat struct {
	history []query.Exchange
	asked   []string
	err     error
}

func (f *fakeChat) Activate(ctx context.Context) (string, error) {
	return "0123456789abcdef", nil
}

func (f *fakeChat) Ask(ctx context.Context, question string) (*query.Answer, error) {
	f.asked = append(f.asked, question)
	if f.err != nil {
		return nil, f.err
	}
	f.history = append(f.history, query.Exchange{Question: question, Answer: "answer to " + question})
	return &query.Answer{Question: question, Text: "answer to " + question, Latency: 20 * time.Millisecond}, nil
}

func (f *fakeChat) History() []query.Exchange {
	return append([]query.Exchange(nil), f.history...)
}

func (f *fakeChat) Clear() { f.history = nil }

func sized(t *testing.T, chat Chat) Model {
	t.Helper()
	m, _ := New(context.Background(), chat).Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	return m.(Model)
}

func typeAndEnter(t *testing.T, m Model, text string) (Model, tea.Cmd) {
	t.Helper()
	m.input.SetValue(text)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model), cmd
}

func TestEnterAsksAndShowsNewestFirst(t *testing.T) {
	chat := &fakeChat{}
	m := sized(t, chat)

	for _, q := range []string{"first", "second"} {
		var cmd tea.Cmd
		m, cmd = typeAndEnter(t, m, q)
		if cmd == nil || !m.busy {
			t.Fatalf("enter on %q did not start a request", q)
		}
		next, _ := m.Update(cmd())
		m = next.(Model)
	}

	if len(chat.asked) != 2 {
		t.Fatalf("asked = %v", chat.asked)
	}
	view := m.renderHistory()
	if strings.Index(view, "second") > strings.Index(view, "first") {
		t.Errorf("history not newest first:\n%s", view)
	}
	if m.input.Value() != "" {
		t.Errorf("input not cleared after answer")
	}
}

func TestEmptyInputWarnsWithoutCalling(t *testing.T) {
	chat := &fakeChat{}
	m := sized(t, chat)

	m, cmd := typeAndEnter(t, m, "   ")
	if cmd != nil {
		t.Error("empty input produced a command")
	}
	if len(chat.asked) != 0 {
		t.Error("empty input reached the session")
	}
	if m.status != query.InvalidQuestionMessage || !m.isError {
		t.Errorf("status = %q", m.status)
	}
}

func TestFailedAskShowsError(t *testing.T) {
	chat := &fakeChat{err: errors.New("throttled")}
	m := sized(t, chat)

	m, cmd := typeAndEnter(t, m, "refunds?")
	next, _ := m.Update(cmd())
	m = next.(Model)

	if !m.isError || !strings.Contains(m.status, "throttled") {
		t.Errorf("status = %q", m.status)
	}
	if m.busy {
		t.Error("model still busy after failure")
	}
	if m.input.Value() != "refunds?" {
		t.Error("input cleared after failure")
	}
}

func TestCtrlLClears(t *testing.T) {
	chat := &fakeChat{history: []query.Exchange{{Question: "q", Answer: "a"}}}
	m := sized(t, chat)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlL})
	m = next.(Model)

	if len(chat.history) != 0 {
		t.Error("history not cleared")
	}
	if m.renderHistory() != "No questions asked yet." {
		t.Errorf("history view = %q", m.renderHistory())
	}
}

func TestActivationStatus(t *testing.T) {
	m := sized(t, &fakeChat{})

	next, _ := m.Update(activatedMsg{corpusID: "0123456789abcdef"})
	if got := next.(Model).status; got != "Index is ready (corpus 0123456789ab)." {
		t.Errorf("status = %q", got)
	}

	next, _ = m.Update(activatedMsg{err: errors.New("no index")})
	if got := next.(Model); !got.isError {
		t.Errorf("activation failure not shown as error: %q", got.status)
	}
}

// Package tui is a terminal chat over one query session.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kbchat/backend/internal/query"
)

// Chat is the TUI-facing subset of query.Session.
type Chat interface {
	Activate(ctx context.Context) (string, error)
	Ask(ctx context.Context, question string) (*query.Answer, error)
	History() []query.Exchange
	Clear()
}

type activatedMsg struct {
	corpusID string
	err      error
}

type answerMsg struct {
	answer *query.Answer
	err    error
}

type Model struct {
	chat     Chat
	ctx      context.Context
	input    textinput.Model
	viewport viewport.Model
	status   string
	isError  bool
	busy     bool
	ready    bool
}

func New(ctx context.Context, chat Chat) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0

	return Model{
		chat:     chat,
		ctx:      ctx,
		input:    ti,
		viewport: viewport.New(0, 0),
		status:   "Loading index...",
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.activate())
}

func (m Model) activate() tea.Cmd {
	return func() tea.Msg {
		id, err := m.chat.Activate(m.ctx)
		return activatedMsg{corpusID: id, err: err}
	}
}

func (m Model) ask(question string) tea.Cmd {
	return func() tea.Msg {
		ans, err := m.chat.Ask(m.ctx, question)
		return answerMsg{answer: ans, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, fh := historyBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 1 + 1 + qh + 1 // header, status, input box, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-fh)
		m.viewport.SetContent(m.renderHistory())
		return m, nil

	case activatedMsg:
		if msg.err != nil {
			m.setError(msg.err.Error())
		} else {
			m.setStatus(fmt.Sprintf("Index is ready (corpus %s).", shortID(msg.corpusID)))
		}
		return m, nil

	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.setError(errorText(msg.err))
		} else {
			m.setStatus(fmt.Sprintf("Answered in %s.", msg.answer.Latency.Round(time.Millisecond)))
			m.input.SetValue("")
		}
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoTop()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyCtrlL:
			m.chat.Clear()
			m.setStatus("History cleared.")
			m.viewport.SetContent(m.renderHistory())
			return m, nil
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			q := m.input.Value()
			if strings.TrimSpace(q) == "" {
				m.setError(query.InvalidQuestionMessage)
				return m, nil
			}
			m.busy = true
			m.setStatus("Thinking...")
			return m, m.ask(q)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) setStatus(s string) {
	m.status = s
	m.isError = false
}

func (m *Model) setError(s string) {
	m.status = s
	m.isError = true
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := lipgloss.NewStyle().Bold(true).Render("Chat with the knowledge base")
	history := historyBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())

	style := statusStyle
	if m.isError {
		style = errorStyle
	}
	status := style.Render(m.status + "  (enter: ask, ctrl+l: clear, ctrl+c: quit)")

	return header + "\n" + history + "\n" + input + "\n" + status
}

// renderHistory lists exchanges newest first.
func (m Model) renderHistory() string {
	history := m.chat.History()
	if len(history) == 0 {
		return "No questions asked yet."
	}

	var b strings.Builder
	for i := len(history) - 1; i >= 0; i-- {
		ex := history[i]
		b.WriteString(questionStyle.Render("Q: " + ex.Question))
		b.WriteString("\n")
		b.WriteString(ex.Answer)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func errorText(err error) string {
	switch {
	case errors.Is(err, query.ErrEmptyQuestion):
		return query.InvalidQuestionMessage
	case errors.Is(err, query.ErrIndexUnavailable):
		return "Knowledge base unavailable: " + err.Error()
	default:
		return "Error: " + err.Error()
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

var (
	historyBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	questionStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

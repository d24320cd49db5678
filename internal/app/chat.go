package app

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/kbchat/backend/internal/api/handlers"
	"github.com/kbchat/backend/internal/query"
	"github.com/kbchat/backend/pkg/config"
)

const sweepInterval = time.Minute

// newEngine wires the query side shared by the web and terminal chats.
func newEngine(ctx context.Context, cfg *config.Config, s *Server) (*query.Engine, query.IndexSource, error) {
	audit, err := openAuditLog(cfg, s)
	if err != nil {
		return nil, nil, err
	}

	m, err := newModels(ctx, cfg, s)
	if err != nil {
		return nil, nil, err
	}

	backend, err := newIndexBackend(ctx, cfg, m.embedder.Model(), s)
	if err != nil {
		return nil, nil, err
	}

	engine := query.NewEngine(m.embedder, m.generator, audit, cfg.Retrieval.TopK, cfg.LLM.MaxTokens)
	return engine, backend, nil
}

// NewChat builds the chat server: chat page, question API, history API
// and the streaming websocket.
func NewChat(ctx context.Context, cfg *config.Config) (*Server, error) {
	var source query.IndexSource
	s := NewServer("kbchat-chat", cfg, func(ctx context.Context) error {
		_, _, err := source.Fetch(ctx)
		return err
	})

	engine, source, err := newEngine(ctx, cfg, s)
	if err != nil {
		s.Close()
		return nil, err
	}

	sessions := query.NewSessions(engine, source, time.Duration(cfg.Session.IdleMinutes)*time.Minute)
	sessions.Start(sweepInterval)
	s.OnClose(func() error {
		sessions.Close()
		return nil
	})

	queryHandler := handlers.NewQueryHandler(sessions)
	wsHandler := handlers.NewWebSocketHandler(sessions)

	app := s.App()
	app.Use(handlers.SessionMiddleware(handlers.NewSessionStore()))

	app.Get("/", queryHandler.ChatPage)

	api := app.Group("/api/v1")
	api.Post("/query", queryHandler.HandleQuery)
	api.Get("/history", queryHandler.GetHistory)
	api.Delete("/history", queryHandler.ClearHistory)

	app.Use("/ws", wsHandler.Upgrade)
	app.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

	return s, nil
}

// NewTerminalSession returns a single chat session for the terminal UI and
// a func releasing its resources.
func NewTerminalSession(ctx context.Context, cfg *config.Config) (*query.Session, func(), error) {
	s := &Server{name: "kbchat-tui"}

	engine, source, err := newEngine(ctx, cfg, s)
	if err != nil {
		s.Close()
		return nil, nil, err
	}

	return query.NewSession(uuid.New().String(), engine, source), s.Close, nil
}

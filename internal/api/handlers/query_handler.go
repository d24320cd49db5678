package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/middleware/validation"
	"github.com/kbchat/backend/internal/query"
	"github.com/kbchat/backend/pkg/logger"
)

type QueryHandler struct {
	sessions *query.Sessions
}

func NewQueryHandler(sessions *query.Sessions) *QueryHandler {
	return &QueryHandler{
		sessions: sessions,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	question, ok := c.Locals(validation.QuestionKey).(string)
	if !ok {
		var req struct {
			Question string `json:"question"`
		}
		if err := c.BodyParser(&req); err != nil {
			logger.Error("Failed to parse request body", zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
		question = req.Question
	}

	sess := h.sessions.Get(sessionID(c))

	answer, err := sess.Ask(c.Context(), question)
	if err != nil {
		status, msg := queryError(err)
		return c.Status(status).JSON(fiber.Map{
			"error": msg,
		})
	}

	return c.JSON(fiber.Map{
		"id":         answer.ID,
		"question":   answer.Question,
		"answer":     answer.Text,
		"sources":    answer.Sources,
		"corpus_id":  sess.CorpusID(),
		"latency_ms": answer.Latency.Milliseconds(),
	})
}

// queryError maps a failed question to a status and a user-facing message.
func queryError(err error) (int, string) {
	switch {
	case errors.Is(err, query.ErrEmptyQuestion):
		return fiber.StatusBadRequest, query.InvalidQuestionMessage
	case errors.Is(err, query.ErrIndexUnavailable):
		logger.Error("Index unavailable", zap.Error(err))
		return fiber.StatusServiceUnavailable, "The knowledge base is not available yet. Ingest documents first."
	default:
		logger.Error("Failed to process query", zap.Error(err))
		return fiber.StatusBadGateway, "Failed to answer the question. Please try again."
	}
}

func (h *QueryHandler) GetHistory(c *fiber.Ctx) error {
	sess := h.sessions.Get(sessionID(c))

	return c.JSON(fiber.Map{
		"history": sess.History(),
	})
}

func (h *QueryHandler) ClearHistory(c *fiber.Ctx) error {
	h.sessions.Get(sessionID(c)).Clear()

	return c.JSON(fiber.Map{
		"message": "History cleared",
	})
}

// ChatPage activates the caller's index and renders their history,
// newest first.
func (h *QueryHandler) ChatPage(c *fiber.Ctx) error {
	sess := h.sessions.Get(sessionID(c))

	indexErr := ""
	if _, err := sess.Activate(c.Context()); err != nil {
		indexErr = err.Error()
	}

	history := sess.History()
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	return c.Render("chat", fiber.Map{
		"Title":      "Chat with the knowledge base",
		"IndexError": indexErr,
		"History":    history,
	}, "layout")
}

package handlers

import (
	"context"
	"strings"
	"unicode"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/query"
	"github.com/kbchat/backend/pkg/logger"
)

type WebSocketHandler struct {
	sessions *query.Sessions
}

func NewWebSocketHandler(sessions *query.Sessions) *WebSocketHandler {
	return &WebSocketHandler{
		sessions: sessions,
	}
}

// Upgrade rejects plain HTTP requests to the websocket route.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	id, _ := c.Locals(SessionKey).(string)
	sess := h.sessions.Get(id)

	logger.Info("WebSocket connection established", zap.String("session_id", id))

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed", zap.String("session_id", id))
	}()

	for {
		var msg struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Error("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		switch msg.Type {
		case "query":
			if err := h.streamResponse(c, sess, msg.Content); err != nil {
				logger.Error("Failed to stream response", zap.Error(err))
				return
			}
		case "clear":
			sess.Clear()
			if err := c.WriteJSON(fiber.Map{"type": "cleared"}); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) streamResponse(c *websocket.Conn, sess *query.Session, question string) error {
	if strings.TrimSpace(question) == "" {
		return h.sendError(c, query.InvalidQuestionMessage)
	}

	if err := h.sendChunk(c, "status", "Processing query..."); err != nil {
		return err
	}

	answer, err := sess.Ask(context.Background(), question)
	if err != nil {
		_, msg := queryError(err)
		return h.sendError(c, msg)
	}

	for _, piece := range splitForStreaming(answer.Text) {
		if err := h.sendChunk(c, "chunk", piece); err != nil {
			return err
		}
	}

	return c.WriteJSON(fiber.Map{
		"type":       "complete",
		"message_id": answer.ID,
		"sources":    answer.Sources,
		"latency_ms": answer.Latency.Milliseconds(),
	})
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(fiber.Map{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) error {
	return c.WriteJSON(fiber.Map{
		"type":  "error",
		"error": errorMsg,
	})
}

// splitForStreaming cuts text after each run of whitespace. Joining the
// pieces gives back text exactly.
func splitForStreaming(text string) []string {
	var pieces []string
	start := 0
	inSpace := false

	for i, r := range text {
		space := unicode.IsSpace(r)
		if inSpace && !space {
			pieces = append(pieces, text[start:i])
			start = i
		}
		inSpace = space
	}
	if start < len(text) {
		pieces = append(pieces, text[start:])
	}
	return pieces
}

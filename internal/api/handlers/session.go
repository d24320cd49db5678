package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"

	"github.com/kbchat/backend/pkg/logger"
)

const (
	SessionCookie = "kbchat_session"
	// SessionKey is the Locals key holding the caller's session id.
	SessionKey = "session_id"
)

func NewSessionStore() *session.Store {
	return session.New(session.Config{
		KeyLookup:      "cookie:" + SessionCookie,
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
	})
}

// SessionMiddleware resolves the fiber session for each request and
// stores its id in Locals. Ids the store has not issued are replaced with
// fresh ones.
func SessionMiddleware(store *session.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := store.Get(c)
		if err != nil {
			logger.Error("Failed to load session", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to load session",
			})
		}

		// The id may alias the request buffer; it outlives the request as a
		// key in query.Sessions.
		id := utils.CopyString(sess.ID())
		if sess.Fresh() {
			if err := sess.Save(); err != nil {
				logger.Error("Failed to save session", zap.Error(err))
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": "Failed to save session",
				})
			}
		}

		c.Locals(SessionKey, id)
		return c.Next()
	}
}

func sessionID(c *fiber.Ctx) string {
	id, _ := c.Locals(SessionKey).(string)
	return id
}

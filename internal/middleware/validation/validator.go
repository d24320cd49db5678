package validation

import (
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// QuestionKey is the Locals key holding the sanitized question for
// downstream handlers.
const QuestionKey = "sanitized_question"

type Config struct {
	MaxQuestionLength   int
	AllowedContentTypes []string
	// QuestionPaths are the routes whose JSON body carries a question.
	QuestionPaths []string
	Logger        *zap.Logger
}

type questionBody struct {
	Question string `json:"question"`
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQuestionLength == 0 {
		cfg.MaxQuestionLength = 4000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json", "multipart/form-data", "application/x-www-form-urlencoded"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get(fiber.HeaderContentType)
			if contentType != "" && !allowedType(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		if c.Method() != fiber.MethodPost || !matchesPath(c.Path(), cfg.QuestionPaths) {
			return c.Next()
		}

		var body questionBody
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}

		question := sanitizeString(body.Question)
		if utf8.RuneCountInString(question) > cfg.MaxQuestionLength {
			cfg.Logger.Warn("Question too long",
				zap.String("ip", c.IP()),
				zap.Int("length", utf8.RuneCountInString(question)),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Question exceeds maximum length",
			})
		}

		c.Locals(QuestionKey, question)
		return c.Next()
	}
}

func allowedType(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func matchesPath(path string, paths []string) bool {
	for _, p := range paths {
		if path == p {
			return true
		}
	}
	return false
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}

package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// SecurityHeaders adds security headers to all responses
func SecurityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'")
		c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Set("Server", "")
		return c.Next()
	}
}

// ValidateContentType ensures write requests carry a supported content type.
func ValidateContentType() fiber.Handler {
	return func(c *fiber.Ctx) error {
		method := c.Method()
		if method != "POST" && method != "PUT" && method != "PATCH" {
			return c.Next()
		}

		if len(c.Body()) == 0 {
			return c.Next()
		}

		contentType := c.Get("Content-Type")
		if contentType == "" {
			return c.Status(400).JSON(fiber.Map{
				"error": "content-type header required",
				"code":  "MISSING_CONTENT_TYPE",
			})
		}
		if !strings.HasPrefix(contentType, "application/json") {
			return c.Status(415).JSON(fiber.Map{
				"error": "unsupported content type",
				"code":  "UNSUPPORTED_MEDIA_TYPE",
			})
		}
		return c.Next()
	}
}

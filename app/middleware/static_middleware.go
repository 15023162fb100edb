package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// IgnoreProbes answers browser and crawler probes under /.well-known/ with
// an empty 204 so they never reach the API routes or the request log.
func IgnoreProbes() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if strings.HasPrefix(c.Path(), "/.well-known/") {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.Next()
	}
}

package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"grabpic/pkg/logger"
)

// LoggerMiddleware logs one line per request with status and latency.
// Successful requests log at debug so the files stay readable under
// guest polling.
func LoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if e, ok := err.(*fiber.Error); ok {
				status = e.Code
			}
		}

		data := map[string]interface{}{
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         c.IP(),
		}

		switch {
		case status >= 500:
			logger.Error(logger.CategoryAPI, "request", "Request failed", err, data)
		case status >= 400:
			logger.Warn(logger.CategoryAPI, "request", "Request rejected", data)
		default:
			logger.Debug(logger.CategoryAPI, "request", "Request handled", data)
		}

		return err
	}
}

package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

func Logging(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		attrs := []slog.Attr{
			slog.Int("status", status),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("route", c.FullPath()),
			slog.String("ip", c.ClientIP()),
			slog.Duration("latency", latency),
			slog.Int("bytes", c.Writer.Size()),
		}
		if session := c.Param("session"); session != "" {
			attrs = append(attrs, slog.String("session", session))
		}

		ctx := c.Request.Context()

		switch {
		case len(c.Errors) > 0:
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
			logger.LogAttrs(ctx, slog.LevelError, "request completed with errors", attrs...)
		case status >= 500:
			logger.LogAttrs(ctx, slog.LevelWarn, "request failed", attrs...)
		default:
			logger.LogAttrs(ctx, slog.LevelInfo, "request completed", attrs...)
		}
	}
}

package api

import (
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// pollPaths are hit on a timer by health checks and dashboards; successful
// requests to them are only logged at debug.
var pollPaths = map[string]bool{
	"/api/health": true,
	"/api/status": true,
}

// requestLogger returns middleware that logs one record per request once
// the handler returns. For /api/events that is when the stream closes, so
// the duration is how long the client stayed subscribed.
func requestLogger(logger *slog.Logger) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		start := time.Now()
		path := ctx.URL().Path

		attrs := []slog.Attr{
			slog.String("method", ctx.Method()),
			slog.String("path", path),
			slog.String("remote_addr", ctx.RemoteAddr()),
		}
		if ua := ctx.Header("User-Agent"); ua != "" {
			attrs = append(attrs, slog.String("user_agent", ua))
		}

		next(ctx)

		status := ctx.Status()
		attrs = append(attrs,
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		)
		logger.LogAttrs(ctx.Context(), requestLevel(path, status), "HTTP request completed", attrs...)
	}
}

func requestLevel(path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case pollPaths[path]:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

package observability

import (
	"io"
	"log/slog"

	"github.com/rtm0/ivt/internal/config"
)

// NewLogger returns a slog logger writing to w in the configured format and
// level.
func NewLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

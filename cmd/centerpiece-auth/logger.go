package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mjsherwood76-dev/centerpiece-auth/internal/httpserver"
)

var logFormats = []string{"json", "text"}

// newLogger builds the process logger. Every record passing through a
// request's context gets its correlation id attached automatically by
// pulling it out of context.Context.
func newLogger(level slog.Level, format string) (*slog.Logger, error) {
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("log format is not one of the supported values (%s): %s", strings.Join(logFormats, ", "), format)
	}
	return slog.New(correlationIDHandler{handler: handler}), nil
}

type correlationIDHandler struct {
	handler slog.Handler
}

func (h correlationIDHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h correlationIDHandler) Handle(ctx context.Context, record slog.Record) error {
	if id := httpserver.CorrelationID(ctx); id != "" {
		record.AddAttrs(slog.String("correlationId", id))
	}
	return h.handler.Handle(ctx, record)
}

func (h correlationIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return correlationIDHandler{h.handler.WithAttrs(attrs)}
}

func (h correlationIDHandler) WithGroup(name string) slog.Handler {
	return correlationIDHandler{h.handler.WithGroup(name)}
}

package logsink

import (
	"context"
	"log/slog"
)

// Handler wraps an existing slog.Handler, teeing every record through a
// Sink before passing it on unchanged, the same two-layer shape as the
// teacher's logsHandler wrapping a service.Service.
type Handler struct {
	sink    *Sink
	wrapped slog.Handler
	source  string
}

// Wrap returns a Handler that writes level/message/source to sink and then
// delegates to wrapped. source is recorded as-is in the "来源" column
// (typically the component or package name).
func Wrap(sink *Sink, wrapped slog.Handler, source string) *Handler {
	return &Handler{sink: sink, wrapped: wrapped, source: source}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.wrapped.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.sink.Write(r.Level.String(), r.Message, h.source); err != nil {
		return err
	}
	return h.wrapped.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{sink: h.sink, wrapped: h.wrapped.WithAttrs(attrs), source: h.source}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{sink: h.sink, wrapped: h.wrapped.WithGroup(name), source: h.source}
}

var _ slog.Handler = (*Handler)(nil)

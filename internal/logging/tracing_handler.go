package logging

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type contextKey string

const contextKeyOperationID = contextKey("operationID")

// WithOperationID returns a context carrying a fresh operation id. Every
// record logged with that context is tagged with it, so the log lines of a
// single borrow or return can be grouped.
func WithOperationID(ctx context.Context) context.Context {
	if _, ok := OperationIDFromContext(ctx); ok {
		return ctx
	}

	return context.WithValue(ctx, contextKeyOperationID, uuid.NewString())
}

// OperationIDFromContext extracts the operation id, if any.
func OperationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKeyOperationID).(string)

	return id, ok
}

// TracingHandler wraps another slog.Handler and adds the operation id from
// the context to each record.
type TracingHandler struct {
	h slog.Handler
}

var _ slog.Handler = (*TracingHandler)(nil)

func NewTracingHandler(h slog.Handler) *TracingHandler {
	return &TracingHandler{h: h}
}

func (h *TracingHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := OperationIDFromContext(ctx); ok {
		r.AddAttrs(slog.String("op", id))
	}

	//nolint:wrapcheck
	return h.h.Handle(ctx, r)
}

func (h *TracingHandler) WithAttrs(attrs []slog.Attr) Handler {
	return NewTracingHandler(h.h.WithAttrs(attrs))
}

func (h *TracingHandler) WithGroup(name string) Handler {
	return NewTracingHandler(h.h.WithGroup(name))
}

func (h *TracingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.h.Enabled(ctx, level)
}

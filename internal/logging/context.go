package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	chainIDKey ctxKey = iota
	versionKey
	sessionIDKey
)

// WithChainID returns a context with the chain ID set.
func WithChainID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, chainIDKey, id)
}

// WithVersion returns a context with the chain version set.
func WithVersion(ctx context.Context, version int) context.Context {
	return context.WithValue(ctx, versionKey, version)
}

// WithSessionID returns a context with the editing session ID set.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// ChainID extracts the chain ID from the context, or "" if absent.
func ChainID(ctx context.Context) string {
	v, _ := ctx.Value(chainIDKey).(string)
	return v
}

// Version extracts the chain version from the context, or 0 if absent.
func Version(ctx context.Context) int {
	v, _ := ctx.Value(versionKey).(int)
	return v
}

// SessionID extracts the session ID from the context, or "" if absent.
func SessionID(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDKey).(string)
	return v
}

// WithIDs sets all correlation values on the context at once.
func WithIDs(ctx context.Context, chainID string, version int, sessionID string) context.Context {
	ctx = WithChainID(ctx, chainID)
	ctx = WithVersion(ctx, version)
	ctx = WithSessionID(ctx, sessionID)
	return ctx
}

func correlationAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := ChainID(ctx); v != "" {
		attrs = append(attrs, slog.String("chain_id", v))
	}
	if v := Version(ctx); v != 0 {
		attrs = append(attrs, slog.Int("version", v))
	}
	if v := SessionID(ctx); v != "" {
		attrs = append(attrs, slog.String("session_id", v))
	}
	return attrs
}

// LogWith returns a logger enriched with correlation values from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range correlationAttrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, injecting correlation values from
// the context into every record. Use with slog.New(NewCorrelationHandler(inner))
// so callers can use logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with correlation injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(correlationAttrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

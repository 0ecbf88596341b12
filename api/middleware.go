package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type requestIDKeyType struct{}

var requestIDKey requestIDKeyType

// WithRequestID returns ctx carrying id. An empty id leaves ctx unchanged.
func WithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil || id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the request id stored in ctx, or "".
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// RequestID reuses an inbound X-Request-ID or mints one, and echoes it on
// the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}

		ctx := WithRequestID(r.Context(), reqID)
		w.Header().Set(RequestIDHeader, reqID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger logs one "request completed" line per request through
// logger, tagged with the request id.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return chimiddleware.RequestLogger(&structuredLogFormatter{logger: logger})
}

type structuredLogFormatter struct {
	logger *slog.Logger
}

func (f *structuredLogFormatter) NewLogEntry(r *http.Request) chimiddleware.LogEntry {
	entryLogger := f.logger.With(
		slog.String("request_id", RequestIDFrom(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	entryLogger.DebugContext(r.Context(), "request started",
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("user_agent", r.UserAgent()),
	)

	return &structuredLogEntry{logger: entryLogger, req: r}
}

type structuredLogEntry struct {
	logger *slog.Logger
	req    *http.Request
}

func (e *structuredLogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ any) {
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	e.logger.Log(e.req.Context(), level, "request completed",
		slog.Int("status", status),
		slog.Int("bytes", bytes),
		slog.Int64("elapsed_ms", elapsed.Milliseconds()),
	)
}

func (e *structuredLogEntry) Panic(v any, stack []byte) {
	e.logger.Error("request panic",
		slog.String("panic", fmt.Sprint(v)),
		slog.String("stack", string(stack)),
	)
}

// loggerFrom returns the base logger enriched with the request id.
func loggerFrom(ctx context.Context, base *slog.Logger) *slog.Logger {
	if id := RequestIDFrom(ctx); id != "" {
		return base.With(slog.String("request_id", id))
	}
	return base
}

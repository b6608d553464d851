package obs

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

type correlationContextKey struct{}

// ContextWithCorrelationID attaches the request correlation id to the context.
// The value lives and dies with the per-call context; nothing is stored on the
// worker that handles the call.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationContextKey{}, id)
}

// CorrelationIDFromContext returns the correlation id if one was attached.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(correlationContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Logger returns the shared structured logger used across both services.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// Event emits a structured JSON log line. The correlation id from ctx is added
// under "correlation_id" when present; raw tokens and passwords must never be
// passed in fields.
func Event(ctx context.Context, level, msg string, fields map[string]any) {
	entry := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		entry[k] = v
	}
	entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level
	entry["msg"] = msg
	if id, ok := CorrelationIDFromContext(ctx); ok {
		entry["correlation_id"] = id
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}

package httpapi

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/example/pos-offline/internal/logging"
)

// RequestLogger attaches a per-request logger to the context and records one
// line per completed request.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	base = logging.Default(base)
	var counter atomic.Uint64

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := counter.Add(1)
			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx := logging.ContextWithLogger(r.Context(), logger)

			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			started := time.Now()
			next.ServeHTTP(recorder, r.WithContext(ctx))

			logger.InfoContext(ctx, "request completed",
				"status", recorder.status,
				"elapsed", time.Since(started),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

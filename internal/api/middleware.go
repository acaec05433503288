package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/example/corebank/internal/security"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs one line per request with the correlation id attached.
func RequestLogger(l *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r)

			l.Info("http_request",
				zap.String("cid", security.CorrelationIDFromContext(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()))
		})
	}
}

// AuditMiddleware appends one audit event per state-changing request.
func AuditMiddleware(a Auditor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				return
			}
			cid := security.CorrelationIDFromContext(r.Context())
			_, _ = a.Record(cid, r.Method, r.URL.Path, nil, map[string]int{"status": sw.status})
		})
	}
}

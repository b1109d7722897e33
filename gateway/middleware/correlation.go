package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"fanzcore/storage"
)

// ContextKeyCorrelation carries the request correlation id.
const ContextKeyCorrelation contextKey = "gateway.correlation"

// HeaderCorrelation is the inbound/outbound correlation header.
const HeaderCorrelation = "X-Correlation-ID"

// CorrelationID returns the request correlation id from a context.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyCorrelation).(string)
	return id
}

// WithCorrelation assigns every request a correlation id, echoes it on
// the response and, when an audit log is wired, records the outcome.
// Internal error detail stays in logs keyed by this id; clients only
// ever see the id itself.
func WithCorrelation(audit *storage.AuditLog, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderCorrelation))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderCorrelation, id)
		ctx := context.WithValue(r.Context(), ContextKeyCorrelation, id)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r.WithContext(ctx))

		if audit != nil {
			_ = audit.Append(r.Context(), storage.AuditEntry{
				CorrelationID: id,
				Actor:         Subject(ctx),
				Method:        r.Method,
				Path:          r.URL.Path,
				Status:        recorder.status,
			})
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

package middleware

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"fanzcore/storage"
)

// WithIdempotency replays the stored response for a repeated
// Idempotency-Key header, byte for byte. The orchestrator holds its own
// inbound idempotency on the same key; this layer only guarantees the
// HTTP envelope is identical across replays.
func WithIdempotency(db *gorm.DB, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if key == "" || r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		var record storage.RequestKeyModel
		err := db.WithContext(r.Context()).First(&record, "key = ?", key).Error
		if err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotent-Replay", "true")
			w.WriteHeader(record.Status)
			_, _ = io.WriteString(w, record.Response)
			return
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "idempotency lookup failed", http.StatusServiceUnavailable)
			return
		}

		recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		// 5xx responses are not committed: the client may retry and reach
		// a healthy path.
		if recorder.status >= http.StatusInternalServerError {
			return
		}
		_ = db.WithContext(r.Context()).Create(&storage.RequestKeyModel{
			Key:       key,
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    recorder.status,
			Response:  recorder.body.String(),
			CreatedAt: time.Now().UTC(),
		}).Error
	})
}

type responseRecorder struct {
	http.ResponseWriter
	body   strings.Builder
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	rr.body.Write(b)
	return rr.ResponseWriter.Write(b)
}

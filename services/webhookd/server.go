package webhookd

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	fanzerrors "fanzcore/core/errors"
	"fanzcore/observability"
	"fanzcore/processor"
)

const (
	maxRequestBody = 1 << 20

	headerSignature = "X-Webhook-Signature"
	headerTimestamp = "X-Webhook-Timestamp"

	// Short forms some processors send instead of the canonical names.
	headerSignatureAlt = "X-Signature"
	headerTimestampAlt = "X-Timestamp"
)

// Server is the HTTP face of the ingestor. It terminates
// POST /webhooks/{processor} and maps pipeline outcomes onto the
// acknowledgement contract: 200 stops retries (including duplicates),
// 401 rejects bad signatures, 400 rejects malformed payloads and 5xx
// asks the processor to retry.
type Server struct {
	ingest *Ingestor
	log    *slog.Logger
}

// NewServer wraps an ingestor.
func NewServer(ingest *Ingestor, log *slog.Logger) (*Server, error) {
	if ingest == nil {
		return nil, errors.New("webhookd: ingestor required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{ingest: ingest, log: log}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	name := processorFromPath(r.URL.Path)
	if name == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "processor required"})
		return
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		media, _, merr := mime.ParseMediaType(ct)
		if merr != nil || media != "application/json" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported content type " + ct})
			return
		}
	}

	reader := http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(reader)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body: " + err.Error()})
		return
	}

	evt, err := s.ingest.Ingest(r.Context(), name, processor.WebhookRequest{
		Body:      body,
		Signature: headerValue(r, headerSignature, headerSignatureAlt),
		Timestamp: headerValue(r, headerTimestamp, headerTimestampAlt),
	})
	metrics := observability.Webhooks()
	switch {
	case err == nil:
		metrics.RecordEvent(name, string(evt.Kind))
		writeJSON(w, http.StatusOK, map[string]string{"status": "applied", "eventId": evt.EventID})
	case errors.Is(err, ErrDuplicate):
		metrics.RecordDuplicate(name)
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate", "eventId": evt.EventID})
	case errors.Is(err, processor.ErrUnknownProcessor):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown processor " + name})
	case fanzerrors.Classify(err) == fanzerrors.CodeAuthenticationFailed:
		metrics.RecordRejected(name, "signature")
		s.log.Warn("webhook rejected", "processor", name, "reason", err.Error())
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "signature verification failed"})
	case fanzerrors.Classify(err) == fanzerrors.CodeInvalidRequest:
		metrics.RecordRejected(name, "malformed")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		metrics.RecordRejected(name, "apply_failed")
		s.log.Error("webhook apply failed", "processor", name, "event_id", evt.EventID, "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable"})
	}
}

func headerValue(r *http.Request, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(r.Header.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

func processorFromPath(path string) string {
	trimmed := strings.Trim(path, "/")
	parts := strings.Split(trimmed, "/")
	// Accept both /webhooks/{processor} and a bare /{processor} so the
	// server works mounted or standalone.
	name := parts[len(parts)-1]
	if strings.EqualFold(name, "webhooks") {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(name))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

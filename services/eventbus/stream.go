package eventbus

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"
)

const wsWriteTimeout = 10 * time.Second

// StreamHandler serves the live event feed over a websocket. The
// optional "families" query parameter is a comma separated list of topic
// families; absent means all events.
type StreamHandler struct {
	bus *Bus
}

// NewStreamHandler constructs the websocket feed over a bus.
func NewStreamHandler(bus *Bus) *StreamHandler {
	return &StreamHandler{bus: bus}
}

// ServeHTTP implements http.Handler.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var families []string
	if raw := strings.TrimSpace(r.URL.Query().Get("families")); raw != "" {
		for _, family := range strings.Split(raw, ",") {
			if family = strings.TrimSpace(family); family != "" {
				families = append(families, family)
			}
		}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	sub := h.bus.Subscribe(families...)
	defer sub.Close()

	if err := h.stream(r.Context(), conn, sub); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (h *StreamHandler) stream(ctx context.Context, conn *websocket.Conn, sub *Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-sub.C():
			if !ok {
				return nil
			}
			data, err := json.Marshal(envelope)
			if err != nil {
				return err
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

package monitoring

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// handleEvents streams terminal events as server-sent events. Each event is
// one "data: <json>" frame; idle periods are filled with keepalive comments.
func (he *HealthEndpoint) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if he.bus == nil {
		http.Error(w, "event stream disabled", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, ": connected\n\n")
	flusher.Flush()

	client := he.bus.RegisterClient()
	defer he.bus.UnregisterClient(client)

	he.mu.RLock()
	interval := he.keepAlive
	he.mu.RUnlock()

	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-client.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				he.logger.Error("Failed to encode event", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/edgemesh/coordinator/observability"
)

const sseKeepaliveInterval = 15 * time.Second

// handleStreamNodes upgrades the connection to a server-sent-events stream
// of node_update frames, grounded on spec.md section 6.2. Unlike the
// teacher's WebSocket-based dashboard stream (control_plane/api_stream.go,
// ws_hub.go), this surface is plain SSE over http.Flusher: the wire protocol
// here is one-directional broadcast, not a bidirectional socket, so there is
// nothing for gorilla/websocket to do (see DESIGN.md).
func (a *API) handleStreamNodes(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := a.bus.Subscribe()
	defer a.bus.Unsubscribe(ch)

	observability.StreamSubscribers.Inc()
	defer observability.StreamSubscribers.Dec()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: node_update\ndata: %s\n\n", payload)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

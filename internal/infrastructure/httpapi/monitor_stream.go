package httpapi

import (
	"encoding/json"
	"net/http"
)

// handleMonitorEvents streams monitor events as Server-Sent Events.
// Path: /api/v1/monitor/events
func (d *Deps) handleMonitorEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAM_UNSUPPORTED", "stream unsupported", nil)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := d.Monitor.Subscribe()
	defer d.Monitor.Unsubscribe(sub)
	enc := json.NewEncoder(w)
	// initial catch-up so a late client knows where the session stands
	if d.Ctrl != nil {
		writeSSE(w, flusher, "status", d.Ctrl.Status(), enc)
	} else {
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			writeSSE(w, flusher, ev.Type, ev, enc)
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, data any, enc *json.Encoder) {
	_, _ = w.Write([]byte("event: " + event + "\ndata: "))
	// Encode terminates the line
	_ = enc.Encode(data)
	_, _ = w.Write([]byte("\n"))
	flusher.Flush()
}

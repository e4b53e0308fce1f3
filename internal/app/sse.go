package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Server-Sent Events names for the two watch streams.
const (
	eventPeriods = "periods"
	eventBoard   = "board"
)

// streamEvents writes every value from updates as one SSE event until the
// client goes away or updates is closed. A comment line is sent every
// keepAlive so idle proxies keep the connection open.
func streamEvents[T any](w http.ResponseWriter, r *http.Request, event string, updates <-chan T, keepAlive time.Duration) {
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-store")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case value, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(value)
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// setSSEHeaders configures the response for Server-Sent Events streaming.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// writeSSEEvent writes a single SSE event to the response.
func writeSSEEvent(w http.ResponseWriter, id string, event string, data string) {
	fmt.Fprintf(w, "id: %s\n", id)
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// sseKeepalive is the interval between comment lines on an idle stream.
const sseKeepalive = 30 * time.Second

// traceStreamHandler streams trace records via SSE. It accepts the same
// type, tenant, verdict and reason filters as /api/v1/trace.
func (s *Server) traceStreamHandler(w http.ResponseWriter, r *http.Request) {
	if s.trace == nil {
		writeError(w, http.StatusServiceUnavailable, "trace buffer not available")
		return
	}
	f := traceFilterFromQuery(r)

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}

	sub := s.trace.Subscribe(128)
	defer sub.Close()

	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			if fl, ok := w.(http.Flusher); ok {
				fl.Flush()
			}
		case rec, ok := <-sub.C:
			if !ok {
				return
			}
			if !f.Matches(&rec) {
				continue
			}
			data, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			writeSSEEvent(w, strconv.FormatUint(rec.Seq, 10), rec.Type, string(data))
		}
	}
}

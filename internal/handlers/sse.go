package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/lyallcooper/rescuex/internal/services"
	"github.com/lyallcooper/rescuex/internal/types"
)

// sseBatchSize bounds the records carried by one "records" event
const sseBatchSize = 500

// ScanProgressSSE handles GET /sse/scan/{id}. It streams "records" events
// with newly found files, "progress" events with the session state, and a
// final "complete" event.
func (h *Handler) ScanProgressSSE(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/sse/scan/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	sess, err := h.scanner.Session(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// The page may already show the first records; it passes how many
	cursor, err := strconv.Atoi(r.URL.Query().Get("from"))
	if err != nil || cursor < 0 {
		cursor = 0
	}

	updates := h.scanner.Subscribe(id)
	defer h.scanner.Unsubscribe(id, updates)

	cursor = h.sendRecords(w, flusher, sess, cursor)
	h.sendScanProgress(w, flusher, sess, sess.State())

	for {
		select {
		case <-r.Context().Done():
			return
		case state, ok := <-updates:
			if !ok {
				// Channel closed: drain what the walker added last
				final := sess.State()
				h.sendRecords(w, flusher, sess, cursor)
				h.sendScanProgress(w, flusher, sess, final)
				h.sendComplete(w, flusher, final)
				return
			}
			cursor = h.sendRecords(w, flusher, sess, cursor)
			h.sendScanProgress(w, flusher, sess, state)
		}
	}
}

// sendRecords sends every record at or after cursor and returns the new
// cursor
func (h *Handler) sendRecords(w http.ResponseWriter, flusher http.Flusher, sess *services.Session, cursor int) int {
	records := sess.Store.Since(cursor)
	for len(records) > 0 {
		n := min(len(records), sseBatchSize)
		payload, _ := json.Marshal(toRecordViews(records[:n]))
		h.sendEvent(w, flusher, "records", string(payload))
		cursor += n
		records = records[n:]
	}
	return cursor
}

func (h *Handler) sendScanProgress(w http.ResponseWriter, flusher http.Flusher, sess *services.Session, state types.ScanState) {
	data := ScanProgressData{
		Status:     string(state.Status),
		TotalFound: state.TotalFound,
		Progress:   state.Progress,
		Cancelled:  state.Cancelled,
		Dirs:       state.Dirs,
		Skipped:    state.Skipped,
		TotalSize:  formatBytes(sess.Store.TotalBytes()),
	}

	payload, _ := json.Marshal(data)
	h.sendEvent(w, flusher, "progress", string(payload))
}

func (h *Handler) sendComplete(w http.ResponseWriter, flusher http.Flusher, state types.ScanState) {
	payload, _ := json.Marshal(map[string]any{
		"status":      state.Status,
		"total_found": state.TotalFound,
		"cancelled":   state.Cancelled,
	})
	h.sendEvent(w, flusher, "complete", string(payload))
}

func (h *Handler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

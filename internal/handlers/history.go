package handlers

import (
	"net/http"
	"strconv"
	"strings"
)

const (
	historyPageSize     = 20
	recentRecoveryCount = 10
)

// History handles GET /history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			page = n
		}
	}
	offset := (page - 1) * historyPageSize

	// Fetch one extra row to know whether there is a next page
	runs, err := h.db.ListScanRuns(historyPageSize+1, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hasMore := len(runs) > historyPageSize
	if hasMore {
		runs = runs[:historyPageSize]
	}

	recoveries, err := h.db.ListRecoveries(recentRecoveryCount, 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	stats, err := h.db.GetHistoryStats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := HistoryData{
		Title:      "History",
		ActiveNav:  "history",
		Stats:      stats,
		Runs:       runs,
		Recoveries: recoveries,
		Page:       page,
		HasMore:    hasMore,
		NextPage:   page + 1,
		PrevPage:   page - 1,
	}

	h.render(w, "history.html", data)
}

// RecoveryDetail handles GET /recoveries/{id}
func (h *Handler) RecoveryDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/recoveries/"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid recovery ID", http.StatusBadRequest)
		return
	}

	rec, err := h.db.GetRecovery(id)
	if err != nil {
		http.Error(w, "Recovery not found", http.StatusNotFound)
		return
	}

	failures, err := h.db.ListRecoveryFailures(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := RecoveryDetailData{
		Title:     "Recovery Details",
		ActiveNav: "history",
		Recovery:  rec,
		Failures:  failures,
	}
	if rec.ScanRunID != nil {
		data.Run, _ = h.db.GetScanRun(*rec.ScanRunID)
	}

	h.render(w, "recovery_detail.html", data)
}

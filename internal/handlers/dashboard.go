package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/lyallcooper/rescuex/internal/classify"
	"github.com/lyallcooper/rescuex/internal/services"
	"github.com/lyallcooper/rescuex/internal/volumes"
)

const recentScansShown = 5

// Dashboard handles GET /
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := h.dashboardData(w, r, ScanForm{})
	h.render(w, "dashboard.html", data)
}

// dashboardData gathers volumes, categories, the current session and recent
// history. form pre-fills the scan form; a zero form gets the defaults.
func (h *Handler) dashboardData(w http.ResponseWriter, r *http.Request, form ScanForm) DashboardData {
	names := h.catalog.Names()
	if form.Category == "" && len(names) > 0 {
		form.Category = names[0]
	}
	if form.CustomExtensions == "" {
		form.CustomExtensions = strings.Join(h.catalog.CustomList(), ", ")
	}

	data := DashboardData{
		Title:      "",
		ActiveNav:  "dashboard",
		CSRFToken:  h.csrfToken(w, r),
		Volumes:    h.listVolumes(r.Context()),
		Categories: names,
		CustomList: strings.Join(h.catalog.CustomList(), ", "),
		Form:       form,
	}

	if sess := h.scanner.Current(); sess != nil {
		data.Current = sessionView(sess)
	}

	if runs, err := h.db.ListScanRuns(recentScansShown, 0); err == nil {
		data.Recent = runs
	} else {
		h.logger.Warnw("Failed to list recent scans", "error", err)
	}
	if stats, err := h.db.GetHistoryStats(); err == nil {
		data.Stats = stats
	}

	return data
}

func (h *Handler) listVolumes(ctx context.Context) []volumes.Volume {
	if h.volumes == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	vols, err := h.volumes.List(ctx)
	if err != nil {
		h.logger.Warnw("Failed to list volumes", "error", err)
		return nil
	}
	return vols
}

func sessionView(sess *services.Session) *SessionView {
	return &SessionView{
		ID:         sess.ID,
		RootPath:   sess.Request.RootPath,
		Extensions: classify.Describe(sess.Request.Extensions),
		State:      sess.State(),
		TotalBytes: sess.Store.TotalBytes(),
	}
}

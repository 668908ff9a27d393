package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/lyallcooper/rescuex/internal/classify"
	"github.com/lyallcooper/rescuex/internal/config"
	"github.com/lyallcooper/rescuex/internal/preview"
	"github.com/lyallcooper/rescuex/internal/recovery"
	"github.com/lyallcooper/rescuex/internal/services"
	"github.com/lyallcooper/rescuex/internal/types"
)

// resultsRenderLimit caps the rows rendered server-side; the page streams or
// filters the rest
const resultsRenderLimit = 1000

// StartScan handles POST /scans
func (h *Handler) StartScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		if sess := h.scanner.Current(); sess != nil {
			http.Redirect(w, r, "/scans/"+sess.ID, http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if !h.requireCSRF(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// A typed folder wins over the selected volume
	root := strings.TrimSpace(r.FormValue("root_path"))
	if root == "" {
		root = r.FormValue("root")
	}

	form := ScanForm{
		RootPath:           root,
		Category:           r.FormValue("category"),
		UseCustom:          r.FormValue("use_custom") == "1",
		CustomExtensions:   r.FormValue("custom_extensions"),
		IncludeHiddenFiles: r.FormValue("hidden_files") == "1",
		IncludeHiddenDirs:  r.FormValue("hidden_dirs") == "1",
	}

	renderError := func(status int, msg string) {
		data := h.dashboardData(w, r, form)
		data.Error = msg
		h.renderStatus(w, status, "dashboard.html", data)
	}

	req := types.ScanRequest{
		RootPath:           config.ExpandPath(form.RootPath),
		Category:           form.Category,
		UseCustom:          form.UseCustom,
		IncludeHiddenFiles: form.IncludeHiddenFiles,
		IncludeHiddenDirs:  form.IncludeHiddenDirs,
	}
	if form.UseCustom {
		req.CustomExtensions = classify.ParseCustomList(form.CustomExtensions)
	} else if _, ok := h.catalog.Extensions(form.Category); !ok {
		renderError(http.StatusBadRequest, "Unknown category: "+form.Category)
		return
	}

	if req.RootPath != "" && !h.cfg.IsPathAllowed(req.RootPath) {
		renderError(http.StatusForbidden, "Path not allowed: "+req.RootPath)
		return
	}

	sess, err := h.scanner.StartScan(r.Context(), req, nil)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNoDriveSelected):
			renderError(http.StatusBadRequest, "Select a drive or folder to scan")
		case errors.Is(err, services.ErrRootNotDirectory):
			renderError(http.StatusBadRequest, "Cannot scan "+req.RootPath+": not a readable folder")
		case errors.Is(err, services.ErrScanInProgress):
			renderError(http.StatusConflict, "A scan is already running. Cancel it or wait for it to finish.")
		default:
			h.logger.Errorw("Failed to start scan", "root", req.RootPath, "error", err)
			renderError(http.StatusInternalServerError, "Failed to start scan: "+err.Error())
		}
		return
	}

	// The edited list becomes the session's custom list once the scan is underway
	if form.UseCustom {
		h.catalog.SetCustomList(form.CustomExtensions)
	}

	http.Redirect(w, r, "/scans/"+sess.ID, http.StatusSeeOther)
}

// ScanRoutes handles routes under /scans/{id}
func (h *Handler) ScanRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[1] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[1]

	if len(parts) == 2 {
		h.ScanResults(w, r, id)
		return
	}

	switch parts[2] {
	case "cancel":
		if r.Method == http.MethodPost {
			h.CancelScan(w, r, id)
			return
		}
	case "recover":
		if r.Method == http.MethodPost {
			h.RecoverScan(w, r, id)
			return
		}
	case "records":
		h.ScanRecords(w, r, id)
		return
	}
	http.NotFound(w, r)
}

// ScanResults handles GET /scans/{id}?q=
func (h *Handler) ScanResults(w http.ResponseWriter, r *http.Request, id string) {
	data, ok := h.scanResultsData(w, r, id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	h.render(w, "scan_results.html", data)
}

// scanResultsData builds the results page for a live session, or a summary
// from history when the session has been replaced.
func (h *Handler) scanResultsData(w http.ResponseWriter, r *http.Request, id string) (ScanResultsData, bool) {
	query := r.URL.Query().Get("q")
	data := ScanResultsData{
		Title:     "Scan Results",
		ActiveNav: "dashboard",
		CSRFToken: h.csrfToken(w, r),
		Query:     query,
	}

	sess, err := h.scanner.Session(id)
	if err != nil {
		run, err := h.db.GetScanRunBySession(id)
		if err != nil {
			return data, false
		}
		data.Run = run
		data.Expired = true
		return data, true
	}

	data.Session = sessionView(sess)
	if run, err := h.db.GetScanRunBySession(id); err == nil {
		data.Run = run
	}

	records := sess.Store.Filter(query)
	data.Shown = len(records)
	data.Total = sess.Store.Len()
	if len(records) > resultsRenderLimit {
		records = records[:resultsRenderLimit]
		data.Truncated = true
	}
	data.Records = toRecordViews(records)
	return data, true
}

// ScanRecords handles GET /scans/{id}/records?q= and returns matching
// records as JSON
func (h *Handler) ScanRecords(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := h.scanner.Session(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	records := sess.Store.Filter(r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   sess.Store.Len(),
		"shown":   len(records),
		"records": toRecordViews(records),
	})
}

// CancelScan handles POST /scans/{id}/cancel
func (h *Handler) CancelScan(w http.ResponseWriter, r *http.Request, id string) {
	if !h.requireCSRF(w, r) {
		return
	}
	if err := h.scanner.Cancel(id); err != nil && !errors.Is(err, services.ErrSessionNotFound) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/scans/"+id, http.StatusSeeOther)
}

// RecoverScan handles POST /scans/{id}/recover. The form carries the
// destination and either selected paths or all=1.
func (h *Handler) RecoverScan(w http.ResponseWriter, r *http.Request, id string) {
	if !h.requireCSRF(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, ok := h.scanResultsData(w, r, id)
	if !ok || data.Expired {
		http.NotFound(w, r)
		return
	}

	dest := config.ExpandPath(strings.TrimSpace(r.FormValue("destination")))
	data.Destination = dest
	renderError := func(status int, msg string) {
		data.Error = msg
		h.renderStatus(w, status, "scan_results.html", data)
	}

	if dest != "" && !h.cfg.IsPathAllowed(dest) {
		renderError(http.StatusForbidden, "Destination not allowed: "+dest)
		return
	}

	var outcome types.RecoveryOutcome
	var err error
	if r.FormValue("all") == "1" {
		outcome, err = h.scanner.RecoverAll(r.Context(), id, dest)
	} else {
		paths := r.Form["paths"]
		if len(paths) == 0 {
			renderError(http.StatusBadRequest, "Select at least one file to recover")
			return
		}
		outcome, err = h.scanner.Recover(r.Context(), id, paths, dest)
	}

	if err != nil {
		switch {
		case errors.Is(err, recovery.ErrNoDestination):
			renderError(http.StatusBadRequest, "Select a recovery folder")
		case errors.Is(err, recovery.ErrDestinationNotDir):
			renderError(http.StatusBadRequest, "Recovery folder is not a directory: "+dest)
		case errors.Is(err, services.ErrSessionNotFound):
			http.NotFound(w, r)
		default:
			renderError(http.StatusBadRequest, "Recovery failed: "+err.Error())
		}
		return
	}

	h.logger.Infow("Recovery finished",
		"session", id,
		"destination", dest,
		"attempted", outcome.Attempted,
		"succeeded", outcome.Succeeded)

	data.Outcome = &outcome
	h.render(w, "scan_results.html", data)
}

// Preview handles GET /preview?path=. Only files in the current session's
// results can be previewed.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	sess := h.scanner.Current()
	if path == "" || sess == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if found, _ := sess.Store.Lookup([]string{path}); len(found) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not in scan results"})
		return
	}

	writeJSON(w, http.StatusOK, preview.Render(path))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// selectionLabel describes what a request or job keeps
func selectionLabel(c *classify.Catalog, category string, useCustom bool, custom []string) string {
	if useCustom {
		if len(custom) == 0 {
			return "Custom (none)"
		}
		return "Custom: " + joinList(custom)
	}
	if exts, ok := c.Extensions(category); ok {
		return category + " " + classify.Describe(exts)
	}
	return category
}

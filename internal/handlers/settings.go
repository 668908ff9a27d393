package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lyallcooper/rescuex/internal/classify"
	"github.com/lyallcooper/rescuex/internal/db"
)

// Settings handles GET /settings
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	var categories []CategoryView
	for _, name := range h.catalog.Names() {
		exts, _ := h.catalog.Extensions(name)
		categories = append(categories, CategoryView{Name: name, Extensions: classify.Describe(exts)})
	}

	data := SettingsData{
		Title:             "Settings",
		ActiveNav:         "settings",
		CSRFToken:         h.csrfToken(w, r),
		Categories:        categories,
		CustomList:        strings.Join(h.catalog.CustomList(), ", "),
		RetentionDays:     h.cfg.RetentionDays,
		RetentionEditable: !h.cfg.RetentionDaysLocked,
		Version:           h.version,
		DBPath:            h.cfg.DBPath,
		DataDir:           h.cfg.DataDir,
		Port:              h.cfg.Port,
		AllowedPaths:      h.cfg.AllowedPaths,
		Error:             r.URL.Query().Get("error"),
		Success:           r.URL.Query().Get("success"),
	}

	h.render(w, "settings.html", data)
}

// UpdateCustomList handles POST /settings/custom
func (h *Handler) UpdateCustomList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.requireCSRF(w, r) {
		return
	}

	// Held in memory only; a restart brings back the default list
	exts := h.catalog.SetCustomList(r.FormValue("custom_extensions"))

	h.logger.Infow("Custom extension list updated", "extensions", exts)
	redirectSettings(w, r, "success", "Custom list updated for this session")
}

// UpdateRetention handles POST /settings/retention
func (h *Handler) UpdateRetention(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.requireCSRF(w, r) {
		return
	}

	if h.cfg.RetentionDaysLocked {
		redirectSettings(w, r, "error", "Retention is set by configuration and cannot be changed here")
		return
	}

	days, err := strconv.Atoi(strings.TrimSpace(r.FormValue("retention_days")))
	if err != nil || days < 1 || days > 365 {
		redirectSettings(w, r, "error", "Retention must be between 1 and 365 days")
		return
	}

	if err := h.db.SetSetting(db.SettingRetentionDays, strconv.Itoa(days)); err != nil {
		redirectSettings(w, r, "error", "Failed to save retention: "+err.Error())
		return
	}
	h.cfg.RetentionDays = days

	redirectSettings(w, r, "success", "Retention updated")
}

func redirectSettings(w http.ResponseWriter, r *http.Request, key, msg string) {
	redirectWithMessage(w, r, "/settings", key, msg)
}

// redirectWithMessage redirects to path with a flash message in the query
func redirectWithMessage(w http.ResponseWriter, r *http.Request, path, key, msg string) {
	http.Redirect(w, r, path+"?"+url.Values{key: {msg}}.Encode(), http.StatusSeeOther)
}

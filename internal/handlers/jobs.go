package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lyallcooper/rescuex/internal/classify"
	"github.com/lyallcooper/rescuex/internal/config"
	"github.com/lyallcooper/rescuex/internal/db"
	"github.com/lyallcooper/rescuex/internal/scheduler"
	"github.com/lyallcooper/rescuex/internal/services"
)

// Jobs handles GET /jobs and POST /jobs
func (h *Handler) Jobs(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		h.CreateJob(w, r)
		return
	}

	jobs, err := h.db.ListScheduledJobs()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var views []*JobView
	for _, job := range jobs {
		view := &JobView{
			ScheduledJob: job,
			Selection:    selectionLabel(h.catalog, job.Category, job.UseCustom, job.CustomExtensions),
		}
		if run, err := h.db.GetLastRunForJob(job.ID); err == nil {
			view.LastRun = run
		}
		views = append(views, view)
	}

	data := JobsData{
		Title:     "Scheduled Scans",
		ActiveNav: "jobs",
		CSRFToken: h.csrfToken(w, r),
		Jobs:      views,
		Error:     r.URL.Query().Get("error"),
	}

	h.render(w, "jobs.html", data)
}

// JobForm handles GET /jobs/new
func (h *Handler) JobForm(w http.ResponseWriter, r *http.Request) {
	names := h.catalog.Names()
	job := &db.ScheduledJob{CronExpression: "0 3 * * *", Enabled: true}
	if len(names) > 0 {
		job.Category = names[0]
	}
	h.renderJobForm(w, r, http.StatusOK, "New Scheduled Scan", job, "")
}

func (h *Handler) renderJobForm(w http.ResponseWriter, r *http.Request, status int, title string, job *db.ScheduledJob, errMsg string) {
	custom := job.CustomExtensions
	if len(custom) == 0 {
		custom = h.catalog.CustomList()
	}
	data := JobFormData{
		Title:        title,
		ActiveNav:    "jobs",
		CSRFToken:    h.csrfToken(w, r),
		Job:          job,
		CustomList:   strings.Join(custom, ", "),
		Categories:   h.catalog.Names(),
		Volumes:      h.listVolumes(r.Context()),
		Error:        errMsg,
		AllowedPaths: h.cfg.AllowedPaths,
	}
	h.renderStatus(w, status, "job_form.html", data)
}

// JobRoutes handles routes under /jobs/{id}
func (h *Handler) JobRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 {
		http.NotFound(w, r)
		return
	}

	idStr := parts[1]
	if idStr == "new" {
		h.JobForm(w, r)
		return
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	// Handle sub-routes
	if len(parts) >= 3 {
		switch parts[2] {
		case "edit":
			h.EditJobForm(w, r, id)
			return
		case "toggle":
			if r.Method == http.MethodPost {
				h.ToggleJob(w, r, id)
				return
			}
		case "run":
			if r.Method == http.MethodPost {
				h.RunJob(w, r, id)
				return
			}
		case "delete":
			if r.Method == http.MethodPost || r.Method == http.MethodDelete {
				h.DeleteJob(w, r, id)
				return
			}
		}
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.UpdateJob(w, r, id)
	case http.MethodDelete:
		h.DeleteJob(w, r, id)
	default:
		http.Redirect(w, r, "/jobs/"+idStr+"/edit", http.StatusSeeOther)
	}
}

// parseJobForm parses the job form. The job is always returned so the form
// can be re-rendered with the user's input.
func (h *Handler) parseJobForm(r *http.Request) (*db.ScheduledJob, error) {
	if err := r.ParseForm(); err != nil {
		return &db.ScheduledJob{}, err
	}

	job := &db.ScheduledJob{
		Name:               strings.TrimSpace(r.FormValue("name")),
		RootPath:           config.ExpandPath(strings.TrimSpace(r.FormValue("root_path"))),
		Category:           r.FormValue("category"),
		UseCustom:          r.FormValue("use_custom") == "1",
		IncludeHiddenFiles: r.FormValue("hidden_files") == "1",
		IncludeHiddenDirs:  r.FormValue("hidden_dirs") == "1",
		RecoverTo:          config.ExpandPath(strings.TrimSpace(r.FormValue("recover_to"))),
		CronExpression:     strings.TrimSpace(r.FormValue("cron_expression")),
		Enabled:            r.FormValue("enabled") == "1",
	}
	if job.UseCustom {
		job.CustomExtensions = classify.ParseCustomList(r.FormValue("custom_extensions"))
	}

	return job, h.validateJob(job)
}

func (h *Handler) validateJob(job *db.ScheduledJob) error {
	if job.Name == "" {
		return errors.New("Name is required")
	}
	if job.RootPath == "" {
		return errors.New("Select a drive or folder to scan")
	}
	if !h.cfg.IsPathAllowed(job.RootPath) {
		return fmt.Errorf("Path not allowed: %s", job.RootPath)
	}
	if job.RecoverTo != "" && !h.cfg.IsPathAllowed(job.RecoverTo) {
		return fmt.Errorf("Recovery folder not allowed: %s", job.RecoverTo)
	}
	if !job.UseCustom {
		if _, ok := h.catalog.Extensions(job.Category); !ok {
			return fmt.Errorf("Unknown category: %s", job.Category)
		}
	}

	nextRun, err := scheduler.NextRun(job.CronExpression, time.Now())
	if err != nil {
		return fmt.Errorf("Invalid cron expression: %s", job.CronExpression)
	}
	job.NextRunAt = &nextRun
	return nil
}

// CreateJob handles POST /jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	if !h.requireCSRF(w, r) {
		return
	}

	job, err := h.parseJobForm(r)
	if err != nil {
		h.renderJobForm(w, r, http.StatusBadRequest, "New Scheduled Scan", job, err.Error())
		return
	}

	created, err := h.db.CreateScheduledJob(job)
	if err != nil {
		h.renderJobForm(w, r, http.StatusInternalServerError, "New Scheduled Scan", job, "Failed to create job: "+err.Error())
		return
	}
	h.logger.Infow("Scheduled scan created", "job", created.ID, "name", created.Name, "cron", created.CronExpression)

	if r.FormValue("run_after_save") == "1" {
		h.runJobByID(w, r, created.ID)
		return
	}

	http.Redirect(w, r, "/jobs", http.StatusSeeOther)
}

// EditJobForm handles GET /jobs/{id}/edit
func (h *Handler) EditJobForm(w http.ResponseWriter, r *http.Request, id int64) {
	job, err := h.db.GetScheduledJob(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	h.renderJobForm(w, r, http.StatusOK, "Edit Scheduled Scan", job, "")
}

// UpdateJob handles POST /jobs/{id}
func (h *Handler) UpdateJob(w http.ResponseWriter, r *http.Request, id int64) {
	if !h.requireCSRF(w, r) {
		return
	}
	if _, err := h.db.GetScheduledJob(id); err != nil {
		http.NotFound(w, r)
		return
	}

	job, err := h.parseJobForm(r)
	job.ID = id
	if err != nil {
		h.renderJobForm(w, r, http.StatusBadRequest, "Edit Scheduled Scan", job, err.Error())
		return
	}

	if err := h.db.UpdateScheduledJob(job); err != nil {
		h.renderJobForm(w, r, http.StatusInternalServerError, "Edit Scheduled Scan", job, "Failed to update job: "+err.Error())
		return
	}

	if r.FormValue("run_after_save") == "1" {
		h.runJobByID(w, r, id)
		return
	}

	http.Redirect(w, r, "/jobs", http.StatusSeeOther)
}

// ToggleJob handles POST /jobs/{id}/toggle
func (h *Handler) ToggleJob(w http.ResponseWriter, r *http.Request, id int64) {
	if !h.requireCSRF(w, r) {
		return
	}

	job, err := h.db.GetScheduledJob(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	job.Enabled = !job.Enabled
	if job.Enabled {
		// A stale next run would fire as soon as the job is re-enabled
		if err := h.scheduler.UpdateNextRun(job); err != nil {
			redirectWithMessage(w, r, "/jobs", "error", err.Error())
			return
		}
	} else if err := h.db.SetJobEnabled(id, false); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/jobs", http.StatusSeeOther)
}

// RunJob handles POST /jobs/{id}/run
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request, id int64) {
	if !h.requireCSRF(w, r) {
		return
	}
	h.runJobByID(w, r, id)
}

// runJobByID starts a scan for the given job and redirects to its results
func (h *Handler) runJobByID(w http.ResponseWriter, r *http.Request, id int64) {
	job, err := h.db.GetScheduledJob(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	sess, err := h.scheduler.RunNow(job)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, services.ErrScanInProgress) {
			msg = "A scan is already running"
		}
		redirectWithMessage(w, r, "/jobs", "error", msg)
		return
	}

	http.Redirect(w, r, "/scans/"+sess.ID, http.StatusSeeOther)
}

// DeleteJob handles POST or DELETE /jobs/{id}/delete
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request, id int64) {
	if !h.requireCSRF(w, r) {
		return
	}

	if err := h.db.DeleteScheduledJob(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/jobs", http.StatusSeeOther)
}

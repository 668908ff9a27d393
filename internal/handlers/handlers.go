package handlers

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/lyallcooper/rescuex/internal/classify"
	"github.com/lyallcooper/rescuex/internal/config"
	"github.com/lyallcooper/rescuex/internal/db"
	"github.com/lyallcooper/rescuex/internal/scheduler"
	"github.com/lyallcooper/rescuex/internal/services"
	"github.com/lyallcooper/rescuex/internal/volumes"
)

// VolumeLister enumerates the volumes offered as scan roots
type VolumeLister interface {
	List(ctx context.Context) ([]volumes.Volume, error)
}

// Options holds the collaborators a Handler serves
type Options struct {
	DB        *db.DB
	Config    *config.Config
	Scanner   *services.Scanner
	Scheduler *scheduler.Scheduler
	Volumes   VolumeLister
	Logger    *zap.SugaredLogger

	// WebFS holds templates/ and static/
	WebFS fs.FS

	Version string

	// DisableCSRF skips token checks; the desktop shell only serves 127.0.0.1
	DisableCSRF bool
}

// Handler holds all HTTP handlers
type Handler struct {
	db          *db.DB
	cfg         *config.Config
	scanner     *services.Scanner
	scheduler   *scheduler.Scheduler
	volumes     VolumeLister
	catalog     *classify.Catalog
	logger      *zap.SugaredLogger
	webFS       fs.FS
	staticFS    fs.FS
	funcMap     template.FuncMap
	version     string
	disableCSRF bool
	csrf        *csrfManager
}

// New creates a new Handler
func New(opts Options) (*Handler, error) {
	staticFS, err := fs.Sub(opts.WebFS, "static")
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Handler{
		db:          opts.DB,
		cfg:         opts.Config,
		scanner:     opts.Scanner,
		scheduler:   opts.Scheduler,
		volumes:     opts.Volumes,
		catalog:     opts.Scanner.Catalog(),
		logger:      logger,
		webFS:       opts.WebFS,
		staticFS:    staticFS,
		funcMap:     templateFuncs(),
		version:     opts.Version,
		disableCSRF: opts.DisableCSRF,
		csrf:        newCSRFManager(),
	}, nil
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))

	// Dashboard
	mux.HandleFunc("/", h.Dashboard)

	// Scans
	mux.HandleFunc("/scans", h.StartScan)
	mux.HandleFunc("/scans/", h.ScanRoutes)
	mux.HandleFunc("/sse/scan/", h.ScanProgressSSE)
	mux.HandleFunc("/preview", h.Preview)

	// History
	mux.HandleFunc("/history", h.History)
	mux.HandleFunc("/recoveries/", h.RecoveryDetail)

	// Jobs
	mux.HandleFunc("/jobs", h.Jobs)
	mux.HandleFunc("/jobs/new", h.JobForm)
	mux.HandleFunc("/jobs/", h.JobRoutes)

	// Settings
	mux.HandleFunc("/settings", h.Settings)
	mux.HandleFunc("/settings/custom", h.UpdateCustomList)
	mux.HandleFunc("/settings/retention", h.UpdateRetention)
}

// StartCSRFCleanup periodically drops expired CSRF tokens until ctx ends
func (h *Handler) StartCSRFCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.csrf.cleanup()
			}
		}
	}()
}

// render executes a page template with the base layout
func (h *Handler) render(w http.ResponseWriter, pageName string, data any) {
	h.renderStatus(w, http.StatusOK, pageName, data)
}

func (h *Handler) renderStatus(w http.ResponseWriter, status int, pageName string, data any) {
	tmpl, err := template.New("base.html").Funcs(h.funcMap).ParseFS(h.webFS, "templates/base.html", "templates/"+pageName)
	if err != nil {
		h.logger.Errorw("Template parse failed", "page", pageName, "error", err)
		http.Error(w, "Template error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.Execute(w, data); err != nil {
		h.logger.Warnw("Template execution failed", "page", pageName, "error", err)
	}
}

// Template functions

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatBytes":    formatBytes,
		"formatBytesU":   formatBytesU,
		"formatCount":    formatCount,
		"formatTime":     formatTime,
		"timeAgo":        timeAgo,
		"formatDuration": formatDuration,
		"derefInt64":     derefInt64,
		"describeExts":   classify.Describe,
		"joinList":       joinList,
		"usagePercent":   usagePercent,
	}
}

// formatBytes formats a size with SI units ("1.5 MB")
func formatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.Bytes(uint64(bytes))
}

func formatBytesU(bytes uint64) string {
	return humanize.Bytes(bytes)
}

func formatCount(n int64) string {
	return humanize.Comma(n)
}

func formatTime(t any) string {
	switch v := t.(type) {
	case time.Time:
		if v.IsZero() {
			return "-"
		}
		return v.Local().Format("2006-01-02 15:04")
	case *time.Time:
		if v == nil || v.IsZero() {
			return "-"
		}
		return v.Local().Format("2006-01-02 15:04")
	default:
		return "-"
	}
}

func timeAgo(t any) string {
	switch v := t.(type) {
	case time.Time:
		if v.IsZero() {
			return "-"
		}
		return humanize.Time(v)
	case *time.Time:
		if v == nil || v.IsZero() {
			return "-"
		}
		return humanize.Time(*v)
	default:
		return "-"
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Hour {
		return d.Round(time.Second).String()
	}
	return d.Truncate(time.Minute).String()
}

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func joinList(list []string) string {
	return strings.Join(list, ", ")
}

// usagePercent is the used share of a volume, 0-100
func usagePercent(v volumes.Volume) int {
	if !v.UsageKnown || v.TotalBytes == 0 {
		return 0
	}
	used := v.TotalBytes - v.FreeBytes
	return int(used * 100 / v.TotalBytes)
}

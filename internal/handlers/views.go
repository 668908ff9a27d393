package handlers

import (
	"github.com/lyallcooper/rescuex/internal/db"
	"github.com/lyallcooper/rescuex/internal/types"
	"github.com/lyallcooper/rescuex/internal/volumes"
)

// View model structs for templates, kept apart from db models so
// presentation concerns stay here.

// DashboardData holds data for the dashboard template
type DashboardData struct {
	Title      string
	ActiveNav  string
	CSRFToken  string
	Volumes    []volumes.Volume
	Categories []string
	CustomList string
	Form       ScanForm
	Current    *SessionView
	Recent     []*db.ScanRun
	Stats      *db.HistoryStats
	Error      string
}

// ScanForm echoes the submitted scan options back into the form
type ScanForm struct {
	RootPath           string
	Category           string
	UseCustom          bool
	CustomExtensions   string
	IncludeHiddenFiles bool
	IncludeHiddenDirs  bool
}

// SessionView summarises a live or finished session
type SessionView struct {
	ID         string
	RootPath   string
	Extensions string
	State      types.ScanState
	TotalBytes int64
}

// ScanResultsData holds data for the scan results template
type ScanResultsData struct {
	Title     string
	ActiveNav string
	CSRFToken string

	Session *SessionView
	// Run is the history row; set when results are no longer in memory
	Run     *db.ScanRun
	Expired bool

	Query       string
	Records     []RecordView
	Shown       int
	Total       int
	Truncated   bool
	Destination string

	Outcome *types.RecoveryOutcome
	Error   string
}

// RecordView is a FileRecord prepared for display and JSON
type RecordView struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Size      string `json:"size"`
	Condition string `json:"condition"`
}

func toRecordViews(records []types.FileRecord) []RecordView {
	views := make([]RecordView, len(records))
	for i, rec := range records {
		views[i] = RecordView{
			Name:      rec.Name,
			Path:      rec.Path,
			SizeBytes: rec.SizeBytes,
			Size:      formatBytes(rec.SizeBytes),
			Condition: string(rec.Condition),
		}
	}
	return views
}

// ScanProgressData is sent via SSE during scans
type ScanProgressData struct {
	Status     string `json:"status"`
	TotalFound int64  `json:"total_found"`
	Progress   int    `json:"progress"`
	Cancelled  bool   `json:"cancelled"`
	Dirs       int64  `json:"dirs"`
	Skipped    int64  `json:"skipped"`
	TotalSize  string `json:"total_size"`
}

// HistoryData holds data for the history template
type HistoryData struct {
	Title      string
	ActiveNav  string
	Stats      *db.HistoryStats
	Runs       []*db.ScanRun
	Recoveries []*db.Recovery
	Page       int
	HasMore    bool
	NextPage   int
	PrevPage   int
}

// RecoveryDetailData holds data for the recovery detail template
type RecoveryDetailData struct {
	Title     string
	ActiveNav string
	Recovery  *db.Recovery
	Run       *db.ScanRun
	Failures  []*db.RecoveryFailure
}

// JobView is a view model for scheduled jobs
type JobView struct {
	*db.ScheduledJob
	Selection string
	LastRun   *db.ScanRun
}

// JobsData holds data for the jobs list template
type JobsData struct {
	Title     string
	ActiveNav string
	CSRFToken string
	Jobs      []*JobView
	Error     string
}

// JobFormData holds data for the job form template
type JobFormData struct {
	Title        string
	ActiveNav    string
	CSRFToken    string
	Job          *db.ScheduledJob
	CustomList   string
	Categories   []string
	Volumes      []volumes.Volume
	Error        string
	AllowedPaths []string
}

// CategoryView is a category row on the settings page
type CategoryView struct {
	Name       string
	Extensions string
}

// SettingsData holds data for the settings template
type SettingsData struct {
	Title             string
	ActiveNav         string
	CSRFToken         string
	Categories        []CategoryView
	CustomList        string
	RetentionDays     int
	RetentionEditable bool
	Version           string
	DBPath            string
	DataDir           string
	Port              int
	AllowedPaths      []string
	Error             string
	Success           string
}

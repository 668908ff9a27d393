package db

import (
	"time"
)

// ScanRunStatus represents the status of a scan run
type ScanRunStatus string

const (
	ScanRunStatusRunning   ScanRunStatus = "running"
	ScanRunStatusCompleted ScanRunStatus = "completed"
	ScanRunStatusCancelled ScanRunStatus = "cancelled"
	ScanRunStatusFailed    ScanRunStatus = "failed"
)

// ScanRun is the history entry for one scan session
type ScanRun struct {
	ID             int64
	SessionID      string
	ScheduledJobID *int64
	RootPath       string
	Category       string
	UseCustom      bool
	// Extensions is the resolved accepted set; nil means all files.
	Extensions         []string
	IncludeHiddenFiles bool
	IncludeHiddenDirs  bool
	Status             ScanRunStatus
	StartedAt          time.Time
	CompletedAt        *time.Time
	FilesFound         int64
	BytesFound         int64
	DirsScanned        int64
	EntriesSkipped     int64
	ErrorMessage       *string
}

// Duration returns how long the run took, or has taken so far.
func (r *ScanRun) Duration() time.Duration {
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// RecoveryStatus represents the status of a recovery pass
type RecoveryStatus string

const (
	RecoveryStatusRunning   RecoveryStatus = "running"
	RecoveryStatusCompleted RecoveryStatus = "completed"
)

// Recovery is the audit entry for one recovery pass
type Recovery struct {
	ID          int64
	ScanRunID   *int64
	Destination string
	Attempted   int
	Succeeded   int
	Status      RecoveryStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	FailedCount int
}

// RecoveryFailure is a single record that a recovery pass could not copy
type RecoveryFailure struct {
	ID         int64
	RecoveryID int64
	Path       string
	Reason     string
}

// ScheduledJob is a saved scan run on a cron schedule
type ScheduledJob struct {
	ID                 int64
	Name               string
	RootPath           string
	Category           string
	UseCustom          bool
	CustomExtensions   []string
	IncludeHiddenFiles bool
	IncludeHiddenDirs  bool
	RecoverTo          string // empty = scan only
	CronExpression     string
	Enabled            bool
	LastRunAt          *time.Time
	NextRunAt          *time.Time
	CreatedAt          time.Time
}

// HistoryStats summarises stored history for the dashboard
type HistoryStats struct {
	ScansRun       int64
	FilesFound     int64
	FilesRecovered int64
}

// Package types holds the domain values shared by the scan core and the
// presentation layer.
package types

// Condition is a coarse health label attached to a found file.
type Condition string

const (
	ConditionGood    Condition = "Good"
	ConditionUnknown Condition = "Unknown"
)

// FileRecord is a single file surfaced by a scan. Immutable once created.
type FileRecord struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	Condition Condition `json:"condition"`
}

// ScanRequest describes what a scan walks and which files it keeps.
type ScanRequest struct {
	RootPath string

	// Category is the selected category name, e.g. "[Pictures]".
	// Ignored when UseCustom is set.
	Category string

	// UseCustom replaces the category set with CustomExtensions.
	UseCustom        bool
	CustomExtensions []string

	IncludeHiddenFiles bool
	IncludeHiddenDirs  bool

	// Extensions is the resolved accepted set. nil accepts every file.
	Extensions []string
}

// ScanStatus is the lifecycle state of a scan session.
type ScanStatus string

const (
	ScanStatusIdle       ScanStatus = "idle"
	ScanStatusRunning    ScanStatus = "running"
	ScanStatusCancelling ScanStatus = "cancelling"
	ScanStatusCompleted  ScanStatus = "completed"
)

// ScanState is a point-in-time view of a session. Values may be stale while
// the walker is running.
type ScanState struct {
	Status     ScanStatus `json:"status"`
	TotalFound int64      `json:"total_found"`
	// Progress wraps at 100 on every accepted file; it is advisory only.
	Progress  int   `json:"progress"`
	Cancelled bool  `json:"cancelled"`
	Dirs      int64 `json:"dirs"`
	Skipped   int64 `json:"skipped"`
}

// Running reports whether the scan still owns a worker.
func (s ScanState) Running() bool {
	return s.Status == ScanStatusRunning || s.Status == ScanStatusCancelling
}

// RecoveryFailure names a record that could not be copied.
type RecoveryFailure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// RecoveryOutcome summarises a recovery pass.
type RecoveryOutcome struct {
	Attempted int               `json:"attempted"`
	Succeeded int               `json:"succeeded"`
	Failures  []RecoveryFailure `json:"failures"`
}

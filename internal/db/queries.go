package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lyallcooper/rescuex/internal/types"
)

// ScanRun queries

const scanRunColumns = `id, session_id, scheduled_job_id, root_path, category, use_custom, extensions,
	include_hidden_files, include_hidden_dirs, status, started_at, completed_at,
	files_found, bytes_found, dirs_scanned, entries_skipped, error_message`

// CreateScanRun records the start of a scan session
func (db *DB) CreateScanRun(sessionID string, jobID *int64, req types.ScanRequest) (*ScanRun, error) {
	var extensions *string
	if req.Extensions != nil {
		b, _ := json.Marshal(req.Extensions)
		s := string(b)
		extensions = &s
	}

	result, err := db.Exec(`
		INSERT INTO scan_runs (session_id, scheduled_job_id, root_path, category, use_custom, extensions,
			include_hidden_files, include_hidden_dirs, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, jobID, req.RootPath, req.Category, req.UseCustom, extensions,
		req.IncludeHiddenFiles, req.IncludeHiddenDirs, ScanRunStatusRunning, time.Now(),
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetScanRun(id)
}

// GetScanRun retrieves a scan run by ID
func (db *DB) GetScanRun(id int64) (*ScanRun, error) {
	row := db.QueryRow(`SELECT `+scanRunColumns+` FROM scan_runs WHERE id = ?`, id)
	return scanScanRun(row)
}

// GetScanRunBySession retrieves the scan run for a session ID
func (db *DB) GetScanRunBySession(sessionID string) (*ScanRun, error) {
	row := db.QueryRow(`SELECT `+scanRunColumns+` FROM scan_runs WHERE session_id = ?`, sessionID)
	return scanScanRun(row)
}

// ListScanRuns returns scan runs with pagination, newest first
func (db *DB) ListScanRuns(limit, offset int) ([]*ScanRun, error) {
	rows, err := db.Query(`SELECT `+scanRunColumns+`
		FROM scan_runs ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*ScanRun
	for rows.Next() {
		r, err := scanScanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CountScanRuns returns the number of stored scan runs
func (db *DB) CountScanRuns() (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM scan_runs").Scan(&n)
	return n, err
}

// GetLastRunForJob returns the most recent scan run for a scheduled job
func (db *DB) GetLastRunForJob(jobID int64) (*ScanRun, error) {
	row := db.QueryRow(`SELECT `+scanRunColumns+`
		FROM scan_runs WHERE scheduled_job_id = ? ORDER BY started_at DESC, id DESC LIMIT 1`, jobID)
	return scanScanRun(row)
}

// CompleteScanRun stores the final totals and status of a scan run
func (db *DB) CompleteScanRun(id int64, status ScanRunStatus, filesFound, bytesFound, dirs, skipped int64, errorMsg *string) error {
	_, err := db.Exec(`
		UPDATE scan_runs SET status = ?, completed_at = ?, files_found = ?, bytes_found = ?,
			dirs_scanned = ?, entries_skipped = ?, error_message = ?
		WHERE id = ?`,
		status, time.Now(), filesFound, bytesFound, dirs, skipped, errorMsg, id,
	)
	return err
}

// FailStaleScanRuns marks runs left "running" by a previous process as failed.
// Returns the number of runs updated.
func (db *DB) FailStaleScanRuns() (int64, error) {
	msg := "interrupted"
	result, err := db.Exec(`
		UPDATE scan_runs SET status = ?, completed_at = ?, error_message = ?
		WHERE status = ?`,
		ScanRunStatusFailed, time.Now(), msg, ScanRunStatusRunning,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanScanRun(row rowScanner) (*ScanRun, error) {
	var r ScanRun
	var jobID sql.NullInt64
	var extensions, errorMsg sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&r.ID, &r.SessionID, &jobID, &r.RootPath, &r.Category, &r.UseCustom, &extensions,
		&r.IncludeHiddenFiles, &r.IncludeHiddenDirs, &r.Status, &r.StartedAt, &completedAt,
		&r.FilesFound, &r.BytesFound, &r.DirsScanned, &r.EntriesSkipped, &errorMsg)
	if err != nil {
		return nil, err
	}

	if jobID.Valid {
		r.ScheduledJobID = &jobID.Int64
	}
	if extensions.Valid {
		r.Extensions = []string{}
		json.Unmarshal([]byte(extensions.String), &r.Extensions)
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	if errorMsg.Valid {
		r.ErrorMessage = &errorMsg.String
	}

	return &r, nil
}

// Recovery queries

const recoveryColumns = `r.id, r.scan_run_id, r.destination, r.attempted, r.succeeded, r.status,
	r.started_at, r.completed_at,
	(SELECT COUNT(*) FROM recovery_failures f WHERE f.recovery_id = r.id)`

// CreateRecovery records the start of a recovery pass
func (db *DB) CreateRecovery(scanRunID *int64, destination string, attempted int) (*Recovery, error) {
	result, err := db.Exec(`
		INSERT INTO recoveries (scan_run_id, destination, attempted, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		scanRunID, destination, attempted, RecoveryStatusRunning, time.Now(),
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetRecovery(id)
}

// CompleteRecovery stores the outcome of a recovery pass, failures included
func (db *DB) CompleteRecovery(id int64, outcome types.RecoveryOutcome) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`
		UPDATE recoveries SET attempted = ?, succeeded = ?, status = ?, completed_at = ?
		WHERE id = ?`,
		outcome.Attempted, outcome.Succeeded, RecoveryStatusCompleted, time.Now(), id,
	); err != nil {
		tx.Rollback()
		return err
	}

	for _, f := range outcome.Failures {
		if _, err := tx.Exec(`
			INSERT INTO recovery_failures (recovery_id, path, reason) VALUES (?, ?, ?)`,
			id, f.Path, f.Reason,
		); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// GetRecovery retrieves a recovery pass by ID
func (db *DB) GetRecovery(id int64) (*Recovery, error) {
	row := db.QueryRow(`SELECT `+recoveryColumns+` FROM recoveries r WHERE r.id = ?`, id)
	return scanRecovery(row)
}

// ListRecoveries returns recovery passes with pagination, newest first
func (db *DB) ListRecoveries(limit, offset int) ([]*Recovery, error) {
	rows, err := db.Query(`SELECT `+recoveryColumns+`
		FROM recoveries r ORDER BY r.started_at DESC, r.id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*Recovery
	for rows.Next() {
		r, err := scanRecovery(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// ListRecoveryFailures returns the failures of a recovery pass in insertion order
func (db *DB) ListRecoveryFailures(recoveryID int64) ([]*RecoveryFailure, error) {
	rows, err := db.Query(`
		SELECT id, recovery_id, path, reason FROM recovery_failures
		WHERE recovery_id = ? ORDER BY id`, recoveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failures []*RecoveryFailure
	for rows.Next() {
		var f RecoveryFailure
		if err := rows.Scan(&f.ID, &f.RecoveryID, &f.Path, &f.Reason); err != nil {
			return nil, err
		}
		failures = append(failures, &f)
	}
	return failures, rows.Err()
}

func scanRecovery(row rowScanner) (*Recovery, error) {
	var r Recovery
	var scanRunID sql.NullInt64
	var completedAt sql.NullTime

	err := row.Scan(&r.ID, &scanRunID, &r.Destination, &r.Attempted, &r.Succeeded, &r.Status,
		&r.StartedAt, &completedAt, &r.FailedCount)
	if err != nil {
		return nil, err
	}

	if scanRunID.Valid {
		r.ScanRunID = &scanRunID.Int64
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return &r, nil
}

// ScheduledJob queries

const jobColumns = `id, name, root_path, category, use_custom, custom_extensions,
	include_hidden_files, include_hidden_dirs, recover_to, cron_expression, enabled,
	last_run_at, next_run_at, created_at`

// CreateScheduledJob creates a new scheduled job
func (db *DB) CreateScheduledJob(job *ScheduledJob) (*ScheduledJob, error) {
	customJSON := marshalList(job.CustomExtensions)

	result, err := db.Exec(`
		INSERT INTO scheduled_jobs (name, root_path, category, use_custom, custom_extensions,
			include_hidden_files, include_hidden_dirs, recover_to, cron_expression, enabled, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.Name, job.RootPath, job.Category, job.UseCustom, customJSON,
		job.IncludeHiddenFiles, job.IncludeHiddenDirs, job.RecoverTo, job.CronExpression, job.Enabled, job.NextRunAt,
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetScheduledJob(id)
}

// GetScheduledJob retrieves a scheduled job by ID
func (db *DB) GetScheduledJob(id int64) (*ScheduledJob, error) {
	row := db.QueryRow(`SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id)
	return scanScheduledJob(row)
}

// ListScheduledJobs returns all scheduled jobs
func (db *DB) ListScheduledJobs() ([]*ScheduledJob, error) {
	return db.queryJobs(`SELECT ` + jobColumns + ` FROM scheduled_jobs ORDER BY name, id`)
}

// GetEnabledJobs returns all enabled scheduled jobs
func (db *DB) GetEnabledJobs() ([]*ScheduledJob, error) {
	return db.queryJobs(`SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE enabled = 1 ORDER BY next_run_at`)
}

func (db *DB) queryJobs(query string) ([]*ScheduledJob, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		j, err := scanScheduledJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateScheduledJob updates a scheduled job
func (db *DB) UpdateScheduledJob(job *ScheduledJob) error {
	_, err := db.Exec(`
		UPDATE scheduled_jobs SET
			name = ?, root_path = ?, category = ?, use_custom = ?, custom_extensions = ?,
			include_hidden_files = ?, include_hidden_dirs = ?, recover_to = ?,
			cron_expression = ?, enabled = ?, next_run_at = ?
		WHERE id = ?`,
		job.Name, job.RootPath, job.Category, job.UseCustom, marshalList(job.CustomExtensions),
		job.IncludeHiddenFiles, job.IncludeHiddenDirs, job.RecoverTo,
		job.CronExpression, job.Enabled, job.NextRunAt, job.ID,
	)
	return err
}

// UpdateJobLastRun updates the last run time and next run time
func (db *DB) UpdateJobLastRun(id int64, lastRun, nextRun time.Time) error {
	_, err := db.Exec(`
		UPDATE scheduled_jobs SET last_run_at = ?, next_run_at = ?
		WHERE id = ?`,
		lastRun, nextRun, id,
	)
	return err
}

// SetJobEnabled enables or disables a job
func (db *DB) SetJobEnabled(id int64, enabled bool) error {
	_, err := db.Exec("UPDATE scheduled_jobs SET enabled = ? WHERE id = ?", enabled, id)
	return err
}

// DeleteScheduledJob deletes a scheduled job
func (db *DB) DeleteScheduledJob(id int64) error {
	_, err := db.Exec("DELETE FROM scheduled_jobs WHERE id = ?", id)
	return err
}

func scanScheduledJob(row rowScanner) (*ScheduledJob, error) {
	var j ScheduledJob
	var customJSON string
	var lastRun, nextRun sql.NullTime

	err := row.Scan(&j.ID, &j.Name, &j.RootPath, &j.Category, &j.UseCustom, &customJSON,
		&j.IncludeHiddenFiles, &j.IncludeHiddenDirs, &j.RecoverTo, &j.CronExpression, &j.Enabled,
		&lastRun, &nextRun, &j.CreatedAt)
	if err != nil {
		return nil, err
	}

	j.CustomExtensions = []string{}
	json.Unmarshal([]byte(customJSON), &j.CustomExtensions)
	if lastRun.Valid {
		j.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		j.NextRunAt = &nextRun.Time
	}

	return &j, nil
}

func marshalList(list []string) string {
	if list == nil {
		list = []string{}
	}
	b, _ := json.Marshal(list)
	return string(b)
}

// Stats queries

// GetHistoryStats returns aggregate statistics over the stored history
func (db *DB) GetHistoryStats() (*HistoryStats, error) {
	var s HistoryStats
	err := db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(files_found), 0) FROM scan_runs
		WHERE status != ?`, ScanRunStatusRunning).Scan(&s.ScansRun, &s.FilesFound)
	if err != nil {
		return nil, err
	}

	err = db.QueryRow("SELECT COALESCE(SUM(succeeded), 0) FROM recoveries").Scan(&s.FilesRecovered)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CleanupOldData removes history older than the retention period
func (db *DB) CleanupOldData(retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	// Failures cascade from their recovery
	_, err := db.Exec("DELETE FROM recoveries WHERE completed_at < ? AND status != ?", cutoff, RecoveryStatusRunning)
	if err != nil {
		return err
	}

	_, err = db.Exec("DELETE FROM scan_runs WHERE completed_at < ? AND status != ?", cutoff, ScanRunStatusRunning)
	return err
}

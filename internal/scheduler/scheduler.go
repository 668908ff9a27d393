// Package scheduler starts saved scans on their cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lyallcooper/rescuex/internal/db"
	"github.com/lyallcooper/rescuex/internal/services"
	"github.com/lyallcooper/rescuex/internal/types"
)

// ErrNotRunning is returned by RunNow before Start or after Stop
var ErrNotRunning = errors.New("scheduler is not running")

// Parser accepts standard five-field cron expressions
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun parses expr and returns its next activation after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := Parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule.Next(from), nil
}

// Scheduler manages scheduled jobs
type Scheduler struct {
	db      *db.DB
	scanner *services.Scanner
	logger  *zap.SugaredLogger
	tick    time.Duration

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	jobCtx   context.Context
	cancel   context.CancelFunc // Cancel function for running jobs
	wg       sync.WaitGroup     // Tracks spawned job goroutines
}

// New creates a new scheduler
func New(database *db.DB, scanner *services.Scanner, logger *zap.SugaredLogger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Scheduler{
		db:      database,
		scanner: scanner,
		logger:  logger,
		tick:    time.Minute,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})

	// Create cancellable context for all spawned jobs
	ctx, cancel := context.WithCancel(context.Background())
	s.jobCtx = ctx
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop stops the scheduler, cancels scans it started and waits for job
// goroutines to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)

	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// run is the main scheduler loop
func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	// Check immediately on start
	s.checkJobs(ctx)

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.checkJobs(ctx)
		}
	}
}

// checkJobs starts every enabled job whose next run time has passed
func (s *Scheduler) checkJobs(ctx context.Context) {
	jobs, err := s.db.GetEnabledJobs()
	if err != nil {
		s.logger.Warnw("Failed to get scheduled jobs", "error", err)
		return
	}

	now := time.Now()
	for _, job := range jobs {
		if job.NextRunAt == nil || job.NextRunAt.After(now) {
			continue
		}
		s.mu.RLock()
		if !s.running {
			s.mu.RUnlock()
			return
		}
		s.wg.Add(1)
		s.mu.RUnlock()
		// Only one scan runs at a time, so due jobs go one after another
		s.runJob(ctx, job)
	}
}

// RunNow starts a job immediately, outside its schedule. The job's next run
// time is left alone.
func (s *Scheduler) RunNow(job *db.ScheduledJob) (*services.Session, error) {
	s.mu.RLock()
	running, ctx := s.running, s.jobCtx
	if running && job.RecoverTo != "" {
		s.wg.Add(1)
	}
	s.mu.RUnlock()
	if !running {
		return nil, ErrNotRunning
	}

	sess, err := s.scanner.StartScan(ctx, JobRequest(job), &job.ID)
	if err != nil {
		if job.RecoverTo != "" {
			s.wg.Done()
		}
		return nil, err
	}
	if job.RecoverTo != "" {
		go func() {
			defer s.wg.Done()
			s.recoverWhenDone(ctx, sess, job)
		}()
	}
	return sess, nil
}

// JobRequest converts a saved job into a scan request
func JobRequest(job *db.ScheduledJob) types.ScanRequest {
	return types.ScanRequest{
		RootPath:           job.RootPath,
		Category:           job.Category,
		UseCustom:          job.UseCustom,
		CustomExtensions:   job.CustomExtensions,
		IncludeHiddenFiles: job.IncludeHiddenFiles,
		IncludeHiddenDirs:  job.IncludeHiddenDirs,
	}
}

// runJob starts the scan for a due job and advances its schedule. A job that
// finds another scan running is skipped until its next activation. When the
// job has a recovery destination, the copy runs in the background once the
// scan completes.
func (s *Scheduler) runJob(ctx context.Context, job *db.ScheduledJob) {
	defer s.wg.Done()

	if ctx.Err() != nil {
		return
	}

	now := time.Now()
	nextRun, err := NextRun(job.CronExpression, now)
	if err != nil {
		s.logger.Warnw("Invalid cron expression, disabling job", "job", job.ID, "error", err)
		s.db.SetJobEnabled(job.ID, false)
		return
	}
	if err := s.db.UpdateJobLastRun(job.ID, now, nextRun); err != nil {
		s.logger.Warnw("Failed to update job last run", "job", job.ID, "error", err)
	}

	s.logger.Infow("Running scheduled job", "job", job.ID, "name", job.Name, "next_run", nextRun)

	sess, err := s.scanner.StartScan(ctx, JobRequest(job), &job.ID)
	if err != nil {
		if errors.Is(err, services.ErrScanInProgress) {
			s.logger.Infow("Skipping scheduled job, a scan is already running", "job", job.ID)
			return
		}
		s.logger.Warnw("Failed to start scheduled scan", "job", job.ID, "error", err)
		return
	}

	if job.RecoverTo == "" {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.recoverWhenDone(ctx, sess, job)
	}()
}

// recoverWhenDone waits for the job's scan and copies everything it found.
// If ctx ends first the scan is cancelled and nothing is copied.
func (s *Scheduler) recoverWhenDone(ctx context.Context, sess *services.Session, job *db.ScheduledJob) {
	if err := sess.Wait(ctx); err != nil {
		s.scanner.Cancel(sess.ID)
		return
	}

	state := sess.State()
	if state.Cancelled {
		s.logger.Infow("Scheduled scan was cancelled, skipping recovery", "job", job.ID)
		return
	}
	if state.TotalFound == 0 {
		s.logger.Infow("Scheduled scan found nothing to recover", "job", job.ID)
		return
	}

	outcome, err := s.scanner.RecoverAll(ctx, sess.ID, job.RecoverTo)
	if err != nil {
		s.logger.Warnw("Scheduled recovery failed", "job", job.ID, "destination", job.RecoverTo, "error", err)
		return
	}
	s.logger.Infow("Scheduled recovery finished",
		"job", job.ID,
		"succeeded", outcome.Succeeded,
		"failed", len(outcome.Failures))
}

// UpdateNextRun updates the next run time for a job
func (s *Scheduler) UpdateNextRun(job *db.ScheduledJob) error {
	nextRun, err := NextRun(job.CronExpression, time.Now())
	if err != nil {
		return err
	}
	job.NextRunAt = &nextRun

	return s.db.UpdateScheduledJob(job)
}

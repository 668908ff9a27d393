// Package services coordinates scan sessions and recovery passes.
package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lyallcooper/rescuex/internal/classify"
	"github.com/lyallcooper/rescuex/internal/db"
	"github.com/lyallcooper/rescuex/internal/recovery"
	"github.com/lyallcooper/rescuex/internal/types"
	"github.com/lyallcooper/rescuex/internal/walker"
)

var (
	// ErrScanInProgress is returned by StartScan while another scan runs.
	ErrScanInProgress = errors.New("a scan is already running")
	// ErrNoDriveSelected is returned when the request has no root path.
	ErrNoDriveSelected = errors.New("no drive selected")
	// ErrRootNotDirectory is returned when the root cannot be scanned at all.
	ErrRootNotDirectory = errors.New("scan root is not a directory")
	// ErrSessionNotFound is returned for unknown or replaced session IDs.
	ErrSessionNotFound = errors.New("scan session not found")
)

// ReasonNotInResults is the failure reason for selected paths the session
// never recorded.
const ReasonNotInResults = "not in scan results"

// heartbeat is how often a running scan reports even when nothing matched
const heartbeat = time.Second

// subscriber wraps a channel with safe close handling
type subscriber struct {
	mu     sync.Mutex
	ch     chan types.ScanState
	closed bool
}

func (sub *subscriber) close() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// send never blocks; a slow reader misses intermediate states
func (sub *subscriber) send(state types.ScanState) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return false
	}
	select {
	case sub.ch <- state:
		return true
	default:
		return false
	}
}

// Options tune the scanner.
type Options struct {
	// ProgressRate caps state notifications per second during a scan
	ProgressRate float64
}

// Scanner owns the single scan session of the application and its recovery
// passes.
type Scanner struct {
	db        *db.DB
	walker    walker.WalkerInterface
	recoverer *recovery.Executor
	catalog   *classify.Catalog
	logger    *zap.SugaredLogger
	rate      rate.Limit

	// The running or most recent session; a new scan replaces it
	mu      sync.RWMutex
	current *Session

	// SSE subscribers per session
	subMu       sync.RWMutex
	subscribers map[string][]*subscriber
}

// NewScanner creates a new scanner service
func NewScanner(database *db.DB, w walker.WalkerInterface, catalog *classify.Catalog, logger *zap.SugaredLogger, opts Options) *Scanner {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if catalog == nil {
		catalog = classify.NewCatalog()
	}
	limit := rate.Limit(opts.ProgressRate)
	if opts.ProgressRate <= 0 {
		limit = rate.Limit(10)
	}
	return &Scanner{
		db:          database,
		walker:      w,
		recoverer:   recovery.NewExecutor(logger),
		catalog:     catalog,
		logger:      logger,
		rate:        limit,
		subscribers: make(map[string][]*subscriber),
	}
}

// Catalog returns the category catalog used to resolve requests
func (s *Scanner) Catalog() *classify.Catalog {
	return s.catalog
}

// Current returns the running or most recent session, or nil.
func (s *Scanner) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Session looks up a session by ID.
func (s *Scanner) Session(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil || s.current.ID != id {
		return nil, ErrSessionNotFound
	}
	return s.current, nil
}

// Running reports whether a scan is in progress
func (s *Scanner) Running() bool {
	cur := s.Current()
	return cur != nil && cur.State().Running()
}

// StartScan validates req, resolves its extension set and starts walking in
// the background. Only one scan may run at a time. jobID links the run to a
// scheduled job and may be nil.
func (s *Scanner) StartScan(ctx context.Context, req types.ScanRequest, jobID *int64) (*Session, error) {
	if req.RootPath == "" {
		return nil, ErrNoDriveSelected
	}
	info, err := os.Stat(req.RootPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRootNotDirectory, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrRootNotDirectory, req.RootPath)
	}

	req.Extensions = s.catalog.Resolve(req.Category, req.UseCustom, req.CustomExtensions)
	if req.UseCustom && req.CustomExtensions == nil {
		req.CustomExtensions = req.Extensions
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.State().Running() {
		return nil, ErrScanInProgress
	}

	sess := newSession(uuid.NewString(), req, jobID)
	if s.db != nil {
		run, err := s.db.CreateScanRun(sess.ID, jobID, req)
		if err != nil {
			return nil, fmt.Errorf("failed to record scan run: %w", err)
		}
		sess.RunID = run.ID
	}

	// The previous session's results are dropped with it
	if s.current != nil {
		s.current.Store.Clear()
	}
	s.current = sess

	s.logger.Infow("Scan started",
		"session", sess.ID,
		"root", req.RootPath,
		"extensions", classify.Describe(req.Extensions),
		"hidden_files", req.IncludeHiddenFiles,
		"hidden_dirs", req.IncludeHiddenDirs)

	go s.runScan(sess)

	return sess, nil
}

// runScan walks on its own goroutine and finalizes the session
func (s *Scanner) runScan(sess *Session) {
	limiter := rate.NewLimiter(s.rate, 1)
	stopBeat := make(chan struct{})
	beatDone := make(chan struct{})

	go func() {
		defer close(beatDone)
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-stopBeat:
				return
			case <-ticker.C:
				s.broadcast(sess.ID, sess.State())
			}
		}
	}()

	var total int
	var panicMsg *string
	func() {
		defer func() {
			if r := recover(); r != nil {
				msg := fmt.Sprintf("walker panic: %v", r)
				panicMsg = &msg
				total = int(sess.total.Load())
				s.logger.Errorw("Scan aborted", "session", sess.ID, "error", msg)
			}
		}()
		total = s.walker.Walk(sess.Request, &sess.stats, func(rec types.FileRecord) {
			sess.accept(rec)
			if limiter.Allow() {
				s.broadcast(sess.ID, sess.State())
			}
		}, sess.shouldStop)
	}()

	close(stopBeat)
	<-beatDone

	sess.finish(int64(total))
	state := sess.State()

	status := db.ScanRunStatusCompleted
	var errMsg *string
	switch {
	case panicMsg != nil:
		status, errMsg = db.ScanRunStatusFailed, panicMsg
	case state.Cancelled:
		status = db.ScanRunStatusCancelled
		msg := "Scan cancelled"
		errMsg = &msg
	}

	if s.db != nil {
		if err := s.db.CompleteScanRun(sess.RunID, status, state.TotalFound, sess.Store.TotalBytes(),
			state.Dirs, state.Skipped, errMsg); err != nil {
			s.logger.Warnw("Failed to record scan completion", "session", sess.ID, "error", err)
		}
	}

	s.logger.Infow("Scan finished",
		"session", sess.ID,
		"status", status,
		"found", state.TotalFound,
		"dirs", state.Dirs,
		"skipped", state.Skipped,
		"duration", time.Since(sess.StartedAt).Round(time.Millisecond))

	s.broadcast(sess.ID, state)
	s.closeSubscribers(sess.ID)
}

// Cancel asks a running scan to stop. The walker notices at its next
// directory or file; records already found are kept. Cancelling a completed
// scan is a no-op.
func (s *Scanner) Cancel(id string) error {
	sess, err := s.Session(id)
	if err != nil {
		return err
	}
	if sess.requestStop() {
		s.logger.Infow("Scan cancel requested", "session", id)
		s.broadcast(id, sess.State())
	}
	return nil
}

// State returns the current state of a session
func (s *Scanner) State(id string) (types.ScanState, error) {
	sess, err := s.Session(id)
	if err != nil {
		return types.ScanState{}, err
	}
	return sess.State(), nil
}

// Shutdown stops any running scan and waits for it to finish or ctx to end.
func (s *Scanner) Shutdown(ctx context.Context) error {
	cur := s.Current()
	if cur == nil {
		return nil
	}
	cur.requestStop()
	return cur.Wait(ctx)
}

// Subscribe subscribes to state updates for a session. If the session has
// already completed the channel carries the final state and is closed.
func (s *Scanner) Subscribe(id string) chan types.ScanState {
	sub := &subscriber{ch: make(chan types.ScanState, 10)}

	sess, err := s.Session(id)
	if err != nil || !sess.State().Running() {
		if err == nil {
			sub.send(sess.State())
		}
		sub.close()
		return sub.ch
	}

	s.subMu.Lock()
	s.subscribers[id] = append(s.subscribers[id], sub)
	s.subMu.Unlock()

	// The scan may have finished between the check and the registration
	select {
	case <-sess.Done():
		sub.send(sess.State())
		s.Unsubscribe(id, sub.ch)
	default:
	}
	return sub.ch
}

// Unsubscribe removes a subscriber
func (s *Scanner) Unsubscribe(id string, ch chan types.ScanState) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	subs := s.subscribers[id]
	for i, sub := range subs {
		if sub.ch == ch {
			// Remove from slice first, then close safely
			s.subscribers[id] = append(subs[:i], subs[i+1:]...)
			sub.close()
			break
		}
	}

	if len(s.subscribers[id]) == 0 {
		delete(s.subscribers, id)
	}
}

// broadcast sends state to all subscribers
func (s *Scanner) broadcast(id string, state types.ScanState) {
	s.subMu.RLock()
	subs := make([]*subscriber, len(s.subscribers[id]))
	copy(subs, s.subscribers[id])
	s.subMu.RUnlock()

	for _, sub := range subs {
		sub.send(state)
	}
}

// closeSubscribers closes all subscriber channels for a session
func (s *Scanner) closeSubscribers(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, sub := range s.subscribers[id] {
		sub.close()
	}
	delete(s.subscribers, id)
}

// Recover copies the selected records of a session to destDir and records an
// audit entry. Paths the session never found are reported as failures.
// Validation errors (unknown session, missing destination) are returned
// before anything is copied.
func (s *Scanner) Recover(ctx context.Context, id string, paths []string, destDir string) (types.RecoveryOutcome, error) {
	sess, err := s.Session(id)
	if err != nil {
		return types.RecoveryOutcome{}, err
	}
	if err := recovery.Validate(destDir); err != nil {
		return types.RecoveryOutcome{}, err
	}

	records, missing := sess.Store.Lookup(paths)
	return s.recover(ctx, sess, records, missing, destDir)
}

// RecoverAll copies every record of a session to destDir.
func (s *Scanner) RecoverAll(ctx context.Context, id string, destDir string) (types.RecoveryOutcome, error) {
	sess, err := s.Session(id)
	if err != nil {
		return types.RecoveryOutcome{}, err
	}
	if err := recovery.Validate(destDir); err != nil {
		return types.RecoveryOutcome{}, err
	}
	return s.recover(ctx, sess, sess.Store.All(), nil, destDir)
}

func (s *Scanner) recover(ctx context.Context, sess *Session, records []types.FileRecord, missing []string, destDir string) (types.RecoveryOutcome, error) {
	var audit *db.Recovery
	if s.db != nil {
		var runID *int64
		if sess.RunID != 0 {
			runID = &sess.RunID
		}
		var err error
		audit, err = s.db.CreateRecovery(runID, destDir, len(records)+len(missing))
		if err != nil {
			s.logger.Warnw("Failed to record recovery start", "session", sess.ID, "error", err)
		}
	}

	outcome, err := s.recoverer.Recover(ctx, records, destDir)
	if err != nil {
		return outcome, err
	}
	for _, p := range missing {
		outcome.Attempted++
		outcome.Failures = append(outcome.Failures, types.RecoveryFailure{Path: p, Reason: ReasonNotInResults})
	}

	if audit != nil {
		if err := s.db.CompleteRecovery(audit.ID, outcome); err != nil {
			s.logger.Warnw("Failed to record recovery outcome", "session", sess.ID, "error", err)
		}
	}
	return outcome, nil
}

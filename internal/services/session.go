package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lyallcooper/rescuex/internal/results"
	"github.com/lyallcooper/rescuex/internal/types"
	"github.com/lyallcooper/rescuex/internal/walker"
)

// Session is one scan: its request, its result store and its live counters.
// Counters are written by the walking goroutine and read by anyone.
type Session struct {
	ID        string
	Request   types.ScanRequest
	JobID     *int64
	RunID     int64
	StartedAt time.Time
	Store     *results.Store

	mu          sync.RWMutex
	status      types.ScanStatus
	cancelled   bool
	completedAt time.Time

	stop     atomic.Bool
	total    atomic.Int64
	progress atomic.Int32
	stats    walker.Stats

	done chan struct{}
}

func newSession(id string, req types.ScanRequest, jobID *int64) *Session {
	return &Session{
		ID:        id,
		Request:   req,
		JobID:     jobID,
		StartedAt: time.Now(),
		Store:     results.NewStore(),
		status:    types.ScanStatusRunning,
		done:      make(chan struct{}),
	}
}

// State returns a snapshot of the session. Counters may lag the walker.
func (s *Session) State() types.ScanState {
	s.mu.RLock()
	status, cancelled := s.status, s.cancelled
	s.mu.RUnlock()

	return types.ScanState{
		Status:     status,
		TotalFound: s.total.Load(),
		Progress:   int(s.progress.Load()),
		Cancelled:  cancelled,
		Dirs:       s.stats.Dirs.Load(),
		Skipped:    s.stats.Skipped.Load(),
	}
}

// CompletedAt returns when the session finished, or the zero time.
func (s *Session) CompletedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completedAt
}

// Done is closed once the session is Completed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session completes or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// requestStop asks the walker to stop. Returns false if the session had
// already finished.
func (s *Session) requestStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != types.ScanStatusRunning {
		return s.status == types.ScanStatusCancelling
	}
	s.status = types.ScanStatusCancelling
	s.cancelled = true
	s.stop.Store(true)
	return true
}

func (s *Session) shouldStop() bool {
	return s.stop.Load()
}

// accept records a walker hit. The progress counter wraps at 100.
func (s *Session) accept(rec types.FileRecord) {
	s.Store.Add(rec)
	n := s.total.Add(1)
	s.progress.Store(int32(n % 100))
}

// finish moves the session to Completed with the walker's final count.
func (s *Session) finish(total int64) {
	s.mu.Lock()
	s.total.Store(total)
	s.status = types.ScanStatusCompleted
	s.completedAt = time.Now()
	s.mu.Unlock()
	close(s.done)
}

// Package recovery copies selected scan records to a destination directory.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/lyallcooper/rescuex/internal/types"
)

var (
	// ErrNoDestination is returned when no destination folder was chosen.
	ErrNoDestination = errors.New("no destination folder selected")
	// ErrDestinationNotDir is returned when the destination is not a directory.
	ErrDestinationNotDir = errors.New("destination is not a directory")
)

// ReasonCancelled is the failure reason for records skipped after cancellation.
const ReasonCancelled = "cancelled"

// Executor copies records. It holds no state between calls.
type Executor struct {
	logger *zap.SugaredLogger
}

// NewExecutor creates an executor. A nil logger discards output.
func NewExecutor(logger *zap.SugaredLogger) *Executor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Executor{logger: logger}
}

// Validate checks the destination before any work starts.
func Validate(destDir string) error {
	if destDir == "" {
		return ErrNoDestination
	}
	info, err := os.Stat(destDir)
	if err != nil {
		return fmt.Errorf("destination %s: %w", destDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrDestinationNotDir, destDir)
	}
	return nil
}

// Recover copies every record to destDir under its base name, overwriting any
// existing file with that name. A record that fails is reported in the
// outcome and the batch carries on. The returned error is only set when the
// destination is invalid, in which case nothing was attempted.
//
// When ctx is cancelled between records, the remaining records are reported
// as failures with ReasonCancelled.
func (e *Executor) Recover(ctx context.Context, records []types.FileRecord, destDir string) (types.RecoveryOutcome, error) {
	if err := Validate(destDir); err != nil {
		return types.RecoveryOutcome{}, err
	}

	outcome := types.RecoveryOutcome{
		Attempted: len(records),
		Failures:  []types.RecoveryFailure{},
	}

	for i, rec := range records {
		if ctx.Err() != nil {
			for _, rest := range records[i:] {
				outcome.Failures = append(outcome.Failures, types.RecoveryFailure{Path: rest.Path, Reason: ReasonCancelled})
			}
			e.logger.Infow("Recovery cancelled", "remaining", len(records)-i)
			break
		}

		target := filepath.Join(destDir, filepath.Base(rec.Path))
		if err := copyFile(rec.Path, target); err != nil {
			e.logger.Warnw("Failed to recover file", "path", rec.Path, "error", err)
			outcome.Failures = append(outcome.Failures, types.RecoveryFailure{Path: rec.Path, Reason: err.Error()})
			continue
		}
		outcome.Succeeded++
	}

	e.logger.Infow("Recovery finished",
		"destination", destDir,
		"attempted", outcome.Attempted,
		"succeeded", outcome.Succeeded,
		"failed", len(outcome.Failures))
	return outcome, nil
}

// copyFile copies src to dst, replacing dst, and carries over the source
// modification time. A partially written dst is removed on error.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", src)
	}

	// Copying a file onto itself would truncate it
	if same, _ := sameFile(info, dst); same {
		return nil
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm()|0200)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
			return
		}
		os.Chtimes(dst, time.Now(), info.ModTime())
	}()

	_, err = io.Copy(out, in)
	return err
}

func sameFile(srcInfo os.FileInfo, dst string) (bool, error) {
	dstInfo, err := os.Stat(dst)
	if err != nil {
		return false, err
	}
	return os.SameFile(srcInfo, dstInfo), nil
}

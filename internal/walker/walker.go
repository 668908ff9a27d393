// Package walker performs the recursive directory traversal behind a scan.
package walker

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/lyallcooper/rescuex/internal/classify"
	"github.com/lyallcooper/rescuex/internal/types"
)

// HiddenPrefix marks hidden files and directories by name.
const HiddenPrefix = "."

// IsHidden reports whether name carries the hidden marker.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, HiddenPrefix)
}

// Stats counts traversal work. Fields are updated by the walking goroutine
// and may be read concurrently.
type Stats struct {
	Dirs    atomic.Int64 // directories read
	Files   atomic.Int64 // file entries evaluated
	Skipped atomic.Int64 // entries or subtrees dropped because of errors
}

// Walker walks a directory tree and emits the files a request accepts
type Walker struct {
	logger *zap.SugaredLogger
}

// New creates a walker. A nil logger discards output.
func New(logger *zap.SugaredLogger) *Walker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Walker{logger: logger}
}

// Walk traverses req.RootPath top-down and calls onAccepted for every file the
// request keeps, returning how many were accepted. shouldStop is polled before
// each directory and each file; once it reports true the walk returns the
// partial count. Entry and directory errors never abort the walk.
func (w *Walker) Walk(req types.ScanRequest, stats *Stats, onAccepted func(types.FileRecord), shouldStop func() bool) int {
	if stats == nil {
		stats = &Stats{}
	}
	if shouldStop == nil {
		shouldStop = func() bool { return false }
	}

	root, err := filepath.Abs(req.RootPath)
	if err != nil {
		w.logger.Warnw("Cannot resolve scan root", "root", req.RootPath, "error", err)
		return 0
	}

	total := 0
	w.walkDir(root, &req, stats, func(rec types.FileRecord) {
		total++
		onAccepted(rec)
	}, shouldStop)
	return total
}

// walkDir handles one directory: its files first, then its subdirectories.
// Returns false once the walk has been told to stop.
func (w *Walker) walkDir(dir string, req *types.ScanRequest, stats *Stats, emit func(types.FileRecord), shouldStop func() bool) bool {
	if shouldStop() {
		return false
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		stats.Skipped.Add(1)
		w.logger.Debugw("Skipping unreadable directory", "path", dir, "error", err)
		// ReadDir may return the entries it read before failing
		if len(entries) == 0 {
			return true
		}
	}
	stats.Dirs.Add(1)

	var subdirs []string
	for _, entry := range entries {
		name := entry.Name()

		if entry.IsDir() {
			if !req.IncludeHiddenDirs && IsHidden(name) {
				continue
			}
			subdirs = append(subdirs, filepath.Join(dir, name))
			continue
		}

		if shouldStop() {
			return false
		}
		stats.Files.Add(1)

		if !req.IncludeHiddenFiles && IsHidden(name) {
			continue
		}
		if !classify.Accepts(name, req.Extensions) {
			continue
		}

		path := filepath.Join(dir, name)
		rec, ok := w.record(path, name, stats)
		if !ok {
			continue
		}
		emit(rec)
	}

	for _, sub := range subdirs {
		if !w.walkDir(sub, req, stats, emit, shouldStop) {
			return false
		}
	}
	return true
}

// record sizes an accepted file. Stat follows symlinks; anything that is not
// a regular file afterwards (broken link, device, fifo, linked directory) is
// dropped.
func (w *Walker) record(path, name string, stats *Stats) (types.FileRecord, bool) {
	info, err := os.Stat(path)
	if err != nil {
		stats.Skipped.Add(1)
		w.logger.Debugw("Skipping file", "path", path, "error", err)
		return types.FileRecord{}, false
	}
	if !info.Mode().IsRegular() {
		stats.Skipped.Add(1)
		return types.FileRecord{}, false
	}
	return types.FileRecord{
		Name:      name,
		Path:      path,
		SizeBytes: info.Size(),
		Condition: types.ConditionGood,
	}, true
}

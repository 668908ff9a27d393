// Package results holds the files discovered by a scan session.
package results

import (
	"strings"
	"sync"

	"github.com/lyallcooper/rescuex/internal/types"
)

// Store is an append-only list of scan records. The walker goroutine appends
// while the UI reads; all access is guarded and reads return copies.
type Store struct {
	mu      sync.RWMutex
	records []types.FileRecord
	bytes   int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Add appends a record.
func (s *Store) Add(rec types.FileRecord) {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.bytes += rec.SizeBytes
	s.mu.Unlock()
}

// Clear drops every record.
func (s *Store) Clear() {
	s.mu.Lock()
	s.records = nil
	s.bytes = 0
	s.mu.Unlock()
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// TotalBytes returns the summed size of all records.
func (s *Store) TotalBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes
}

// All returns every record in insertion order.
func (s *Store) All() []types.FileRecord {
	return s.Since(0)
}

// Since returns the records appended at or after index n, so a reader can
// drain new records with a cursor.
func (s *Store) Since(n int) []types.FileRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n < 0 {
		n = 0
	}
	if n >= len(s.records) {
		return nil
	}
	out := make([]types.FileRecord, len(s.records)-n)
	copy(out, s.records[n:])
	return out
}

// Filter returns the records whose name or path contains query, ignoring
// case. An empty query matches everything. The store is not modified.
func (s *Store) Filter(query string) []types.FileRecord {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return s.All()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.FileRecord
	for _, rec := range s.records {
		if strings.Contains(strings.ToLower(rec.Name), q) || strings.Contains(strings.ToLower(rec.Path), q) {
			out = append(out, rec)
		}
	}
	return out
}

// Lookup returns the stored records for the given paths, in the order asked.
// Paths that were never recorded are returned separately.
func (s *Store) Lookup(paths []string) (found []types.FileRecord, missing []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byPath := make(map[string]types.FileRecord, len(s.records))
	for _, rec := range s.records {
		byPath[rec.Path] = rec
	}
	for _, p := range paths {
		if rec, ok := byPath[p]; ok {
			found = append(found, rec)
		} else {
			missing = append(missing, p)
		}
	}
	return found, missing
}

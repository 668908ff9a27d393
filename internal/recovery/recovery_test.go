package recovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyallcooper/rescuex/internal/types"
)

// source writes a file under dir and returns its record
func source(t *testing.T, dir, name, content string) types.FileRecord {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return types.FileRecord{Name: filepath.Base(path), Path: path, SizeBytes: int64(len(content)), Condition: types.ConditionGood}
}

func TestRecoverAll(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	records := []types.FileRecord{
		source(t, src, "a.jpg", "aaa"),
		source(t, src, "sub/b.txt", "bbbb"),
		source(t, src, "deep/er/c.mp3", "c"),
	}

	out, err := NewExecutor(nil).Recover(context.Background(), records, dst)
	require.NoError(t, err)

	assert.Equal(t, 3, out.Attempted)
	assert.Equal(t, 3, out.Succeeded)
	assert.Empty(t, out.Failures)

	for _, r := range records {
		data, err := os.ReadFile(filepath.Join(dst, r.Name))
		require.NoError(t, err)
		assert.Len(t, data, int(r.SizeBytes))
	}
}

func TestRecoverOneSourceDeleted(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	records := []types.FileRecord{
		source(t, src, "a.jpg", "a"),
		source(t, src, "b.jpg", "b"),
		source(t, src, "c.jpg", "c"),
	}
	require.NoError(t, os.Remove(records[1].Path))

	out, err := NewExecutor(nil).Recover(context.Background(), records, dst)
	require.NoError(t, err)

	assert.Equal(t, 3, out.Attempted)
	assert.Equal(t, 2, out.Succeeded)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, records[1].Path, out.Failures[0].Path)
	assert.NotEmpty(t, out.Failures[0].Reason)

	_, err = os.Stat(filepath.Join(dst, "b.jpg"))
	assert.True(t, os.IsNotExist(err), "no partial file for the failed record")
}

func TestRecoverOverwritesSameName(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	first := source(t, src, "one/photo.jpg", "first")
	second := source(t, src, "two/photo.jpg", "second")

	out, err := NewExecutor(nil).Recover(context.Background(), []types.FileRecord{first, second}, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Succeeded)

	data, err := os.ReadFile(filepath.Join(dst, "photo.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestRecoverPreservesModTime(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	r := source(t, src, "old.txt", "x")
	mtime := time.Date(2015, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(r.Path, mtime, mtime))

	_, err := NewExecutor(nil).Recover(context.Background(), []types.FileRecord{r}, dst)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dst, "old.txt"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mtime), "got %v", info.ModTime())
}

func TestRecoverIntoSourceDirectory(t *testing.T) {
	dir := t.TempDir()
	r := source(t, dir, "keep.txt", "keep me")

	out, err := NewExecutor(nil).Recover(context.Background(), []types.FileRecord{r}, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Succeeded)

	data, err := os.ReadFile(r.Path)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
}

func TestRecoverCancelled(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	records := []types.FileRecord{
		source(t, src, "a", "a"),
		source(t, src, "b", "b"),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := NewExecutor(nil).Recover(ctx, records, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Attempted)
	assert.Zero(t, out.Succeeded)
	require.Len(t, out.Failures, 2)
	for i, f := range out.Failures {
		assert.Equal(t, records[i].Path, f.Path)
		assert.Equal(t, ReasonCancelled, f.Reason)
	}
}

func TestRecoverInvalidDestination(t *testing.T) {
	r := source(t, t.TempDir(), "a", "a")
	file := source(t, t.TempDir(), "not-a-dir", "x")

	tests := []struct {
		name    string
		dest    string
		wantErr error
	}{
		{"empty destination", "", ErrNoDestination},
		{"destination is a file", file.Path, ErrDestinationNotDir},
		{"missing destination", filepath.Join(t.TempDir(), "missing"), os.ErrNotExist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewExecutor(nil).Recover(context.Background(), []types.FileRecord{r}, tt.dest)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, out.Attempted)
		})
	}
}

func TestRecoverEmptySelection(t *testing.T) {
	out, err := NewExecutor(nil).Recover(context.Background(), nil, t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, out.Attempted)
	assert.Zero(t, out.Succeeded)
	assert.Empty(t, out.Failures)
}

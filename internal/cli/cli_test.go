package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyallcooper/rescuex/internal/volumes"
)

// executeCommand runs sub under a bare root and captures its output
func executeCommand(t *testing.T, sub *cobra.Command, args ...string) (string, error) {
	t.Helper()

	root := &cobra.Command{Use: "rescuex", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(sub)

	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

func createTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "scan", "drives"}, names)
	assert.True(t, cmd.SilenceUsage)
}

func TestScanCommand(t *testing.T) {
	root := createTree(t, map[string]string{
		"a.jpg":        "aaaa",
		"photos/b.PNG": "bb",
		"notes.txt":    "text",
		".hidden.jpg":  "h",
	})

	tests := []struct {
		name        string
		args        []string
		wantContain []string
		wantMissing []string
	}{
		{
			name:        "category",
			args:        []string{"--category", "[Pictures]"},
			wantContain: []string{"a.jpg", "b.PNG", "Found 2 files"},
			wantMissing: []string{"notes.txt", ".hidden.jpg"},
		},
		{
			name:        "hidden files",
			args:        []string{"--category", "[Pictures]", "--hidden-files"},
			wantContain: []string{".hidden.jpg", "Found 3 files"},
		},
		{
			name:        "custom list replaces category",
			args:        []string{"--category", "[Pictures]", "--custom", ".txt"},
			wantContain: []string{"notes.txt", "Found 1 files"},
			wantMissing: []string{"a.jpg"},
		},
		{
			name:        "quiet prints only the summary",
			args:        []string{"--quiet"},
			wantContain: []string{"Found 2 files"},
			wantMissing: []string{"a.jpg"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"scan", root}, tt.args...)
			out, err := executeCommand(t, NewScanCommand(), args...)
			require.NoError(t, err, out)

			for _, want := range tt.wantContain {
				assert.Contains(t, out, want)
			}
			for _, missing := range tt.wantMissing {
				assert.NotContains(t, out, missing)
			}
			// Output to a buffer is never colored
			assert.NotContains(t, out, "\x1b[")
		})
	}
}

func TestScanCommandRecover(t *testing.T) {
	root := createTree(t, map[string]string{
		"a.jpg":     "first",
		"sub/b.jpg": "second",
	})
	dest := t.TempDir()

	out, err := executeCommand(t, NewScanCommand(), "scan", root, "--recover-to", dest)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Recovered 2 of 2 files to "+dest)

	data, err := os.ReadFile(filepath.Join(dest, "b.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	assert.FileExists(t, filepath.Join(dest, "a.jpg"))
}

func TestScanCommandErrors(t *testing.T) {
	t.Run("unknown category", func(t *testing.T) {
		_, err := executeCommand(t, NewScanCommand(), "scan", t.TempDir(), "--category", "[Nope]")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown category")
	})

	t.Run("missing root", func(t *testing.T) {
		_, err := executeCommand(t, NewScanCommand(), "scan", filepath.Join(t.TempDir(), "gone"))
		assert.Error(t, err)
	})

	t.Run("no argument", func(t *testing.T) {
		_, err := executeCommand(t, NewScanCommand(), "scan")
		assert.Error(t, err)
	})

	t.Run("bad log level", func(t *testing.T) {
		_, err := executeCommand(t, NewScanCommand(), "scan", t.TempDir(), "--log-level", "loud")
		assert.Error(t, err)
	})
}

type fakeLister struct {
	vols []volumes.Volume
	err  error
}

func (f fakeLister) List(ctx context.Context) ([]volumes.Volume, error) {
	return f.vols, f.err
}

func TestDrivesCommand(t *testing.T) {
	lister := fakeLister{vols: []volumes.Volume{
		{Device: "/dev/sda1", Mountpoint: "/", FSType: "ext4", TotalBytes: 500000000000, FreeBytes: 120000000000, UsageKnown: true},
		{Device: "/dev/sdb1", Mountpoint: "/media/usb", FSType: "vfat"},
	}}

	t.Run("table", func(t *testing.T) {
		out, err := executeCommand(t, NewDrivesCommand(lister), "drives")
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[0], "MOUNTPOINT"))
		assert.Contains(t, lines[1], "120 GB")
		assert.Contains(t, lines[1], "500 GB")
		assert.Contains(t, lines[2], "/media/usb")
		assert.Contains(t, lines[2], "-")
	})

	t.Run("json", func(t *testing.T) {
		out, err := executeCommand(t, NewDrivesCommand(lister), "drives", "--json")
		require.NoError(t, err)

		var vols []volumes.Volume
		require.NoError(t, json.Unmarshal([]byte(out), &vols))
		assert.Equal(t, lister.vols, vols)
	})

	t.Run("empty", func(t *testing.T) {
		out, err := executeCommand(t, NewDrivesCommand(fakeLister{}), "drives")
		require.NoError(t, err)
		assert.Contains(t, out, "No drives found")
	})

	t.Run("error", func(t *testing.T) {
		_, err := executeCommand(t, NewDrivesCommand(fakeLister{err: errors.New("boom")}), "drives")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})
}

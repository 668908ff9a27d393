package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyallcooper/rescuex/internal/config"
	"github.com/lyallcooper/rescuex/internal/db"
	"github.com/lyallcooper/rescuex/internal/scheduler"
	"github.com/lyallcooper/rescuex/internal/services"
	"github.com/lyallcooper/rescuex/internal/types"
	"github.com/lyallcooper/rescuex/internal/volumes"
	"github.com/lyallcooper/rescuex/internal/walker"
	"github.com/lyallcooper/rescuex/internal/webfs"
)

type fakeVolumes struct {
	vols []volumes.Volume
}

func (f fakeVolumes) List(ctx context.Context) ([]volumes.Volume, error) {
	return f.vols, nil
}

// blockingWalker walks nothing until the scan is cancelled
type blockingWalker struct {
	started chan struct{}
	once    sync.Once
}

func (m *blockingWalker) Walk(req types.ScanRequest, stats *walker.Stats, onAccepted func(types.FileRecord), shouldStop func() bool) int {
	m.once.Do(func() { close(m.started) })
	for !shouldStop() {
		time.Sleep(time.Millisecond)
	}
	return 0
}

type testEnv struct {
	h       *Handler
	mux     *http.ServeMux
	db      *db.DB
	cfg     *config.Config
	scanner *services.Scanner
}

func newTestEnv(t *testing.T, w walker.WalkerInterface, enableCSRF bool) *testEnv {
	t.Helper()

	dir := t.TempDir()
	database, err := db.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cfg := &config.Config{
		Port:          8080,
		DataDir:       dir,
		DBPath:        filepath.Join(dir, "test.db"),
		RetentionDays: 30,
	}

	scanner := services.NewScanner(database, w, nil, nil, services.Options{ProgressRate: 1000})
	sched := scheduler.New(database, scanner, nil)
	sched.Start()
	t.Cleanup(func() {
		sched.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		scanner.Shutdown(ctx)
	})

	h, err := New(Options{
		DB:        database,
		Config:    cfg,
		Scanner:   scanner,
		Scheduler: sched,
		Volumes: fakeVolumes{vols: []volumes.Volume{
			{Device: "/dev/sdb1", Mountpoint: "/media/usb", FSType: "vfat", TotalBytes: 4000, FreeBytes: 1000, UsageKnown: true},
		}},
		WebFS:       webfs.FS,
		Version:     "test",
		DisableCSRF: !enableCSRF,
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	return &testEnv{h: h, mux: mux, db: database, cfg: cfg, scanner: scanner}
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func (e *testEnv) post(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

// startScan posts the scan form and waits for the walk to finish
func (e *testEnv) startScan(t *testing.T, form url.Values) *services.Session {
	t.Helper()
	rec := e.post(t, "/scans", form)
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())

	sess := e.scanner.Current()
	require.NotNil(t, sess)
	assert.Equal(t, "/scans/"+sess.ID, rec.Header().Get("Location"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sess.Wait(ctx))
	return sess
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t, walker.New(nil), false)

	rec := env.get(t, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "/media/usb")
	assert.Contains(t, body, "[Pictures]")
	assert.Contains(t, body, "[All Files]")

	assert.Equal(t, http.StatusNotFound, env.get(t, "/missing").Code)
}

func TestStaticFiles(t *testing.T) {
	env := newTestEnv(t, walker.New(nil), false)

	rec := env.get(t, "/static/app.js")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartScanValidation(t *testing.T) {
	env := newTestEnv(t, walker.New(nil), false)

	t.Run("no drive selected", func(t *testing.T) {
		rec := env.post(t, "/scans", url.Values{"category": {"[Pictures]"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Select a drive or folder to scan")
	})

	t.Run("missing folder", func(t *testing.T) {
		rec := env.post(t, "/scans", url.Values{
			"root_path": {filepath.Join(t.TempDir(), "gone")},
			"category":  {"[Pictures]"},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "not a readable folder")
	})

	t.Run("unknown category", func(t *testing.T) {
		rec := env.post(t, "/scans", url.Values{
			"root_path": {t.TempDir()},
			"category":  {"[Nope]"},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("path outside allow-list", func(t *testing.T) {
		env.cfg.AllowedPaths = []string{t.TempDir()}
		defer func() { env.cfg.AllowedPaths = nil }()

		rec := env.post(t, "/scans", url.Values{
			"root_path": {t.TempDir()},
			"category":  {"[Pictures]"},
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	assert.Nil(t, env.scanner.Current(), "no scan should have started")
}

func TestStartScanWhileRunning(t *testing.T) {
	w := &blockingWalker{started: make(chan struct{})}
	env := newTestEnv(t, w, false)

	rec := env.post(t, "/scans", url.Values{"root": {t.TempDir()}, "category": {"[Pictures]"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	<-w.started

	rec = env.post(t, "/scans", url.Values{"root": {t.TempDir()}, "category": {"[Pictures]"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "A scan is already running")

	// Cancelling frees the slot
	sess := env.scanner.Current()
	rec = env.post(t, "/scans/"+sess.ID+"/cancel", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sess.Wait(ctx))
	assert.True(t, sess.State().Cancelled)
}

func TestRejectedCustomScanKeepsList(t *testing.T) {
	w := &blockingWalker{started: make(chan struct{})}
	env := newTestEnv(t, w, false)
	defaults := []string{".mp4", ".mkv", ".avi"}

	rec := env.post(t, "/scans", url.Values{"use_custom": {"1"}, "custom_extensions": {".zzz"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, defaults, env.h.catalog.CustomList())

	rec = env.post(t, "/scans", url.Values{"root": {t.TempDir()}, "category": {"[Pictures]"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	<-w.started
	sess := env.scanner.Current()

	rec = env.post(t, "/scans", url.Values{
		"root":              {t.TempDir()},
		"use_custom":        {"1"},
		"custom_extensions": {".zzz"},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, defaults, env.h.catalog.CustomList())

	require.NoError(t, env.scanner.Cancel(sess.ID))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sess.Wait(ctx))

	// An accepted custom scan keeps the edited list for the session
	rec = env.post(t, "/scans", url.Values{
		"root":              {t.TempDir()},
		"use_custom":        {"1"},
		"custom_extensions": {".cr2, .nef"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, []string{".cr2", ".nef"}, env.h.catalog.CustomList())
	assert.Equal(t, []string{".cr2", ".nef"}, env.scanner.Current().Request.CustomExtensions)
	require.NoError(t, env.scanner.Cancel(env.scanner.Current().ID))
}

func TestScanResultsAndFilter(t *testing.T) {
	env := newTestEnv(t, walker.New(nil), false)

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"holiday.jpg":      "jpeg",
		"sub/portrait.png": "png",
		"notes.txt":        "text",
	})

	sess := env.startScan(t, url.Values{"root_path": {root}, "category": {"[Pictures]"}})

	rec := env.get(t, "/scans/"+sess.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "holiday.jpg")
	assert.Contains(t, body, "portrait.png")
	assert.NotContains(t, body, "notes.txt")

	rec = env.get(t, "/scans/"+sess.ID+"/records?q=HOLI")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Total   int          `json:"total"`
		Shown   int          `json:"shown"`
		Records []RecordView `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, 2, payload.Total)
	assert.Equal(t, 1, payload.Shown)
	require.Len(t, payload.Records, 1)
	assert.Equal(t, "holiday.jpg", payload.Records[0].Name)

	assert.Equal(t, http.StatusNotFound, env.get(t, "/scans/unknown").Code)
}

func TestScanResultsExpiredSession(t *testing.T) {
	env := newTestEnv(t, walker.New(nil), false)

	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.jpg": "a"})

	first := env.startScan(t, url.Values{"root_path": {root}, "category": {"[Pictures]"}})
	env.startScan(t, url.Values{"root_path": {root}, "category": {"[Pictures]"}})

	rec := env.get(t, "/scans/"+first.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "data-session=\""+first.ID+"\"")
}

func TestRecoverScan(t *testing.T) {
	env := newTestEnv(t, walker.New(nil), false)

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"a.jpg": "first",
		"b.png": "second",
	})
	sess := env.startScan(t, url.Values{"root_path": {root}, "category": {"[Pictures]"}})

	t.Run("no destination", func(t *testing.T) {
		rec := env.post(t, "/scans/"+sess.ID+"/recover", url.Values{
			"paths": {filepath.Join(root, "a.jpg")},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Select a recovery folder")
	})

	t.Run("nothing selected", func(t *testing.T) {
		rec := env.post(t, "/scans/"+sess.ID+"/recover", url.Values{
			"destination": {t.TempDir()},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Select at least one file to recover")
	})

	t.Run("selected files", func(t *testing.T) {
		dest := t.TempDir()
		rec := env.post(t, "/scans/"+sess.ID+"/recover", url.Values{
			"paths":       {filepath.Join(root, "a.jpg")},
			"destination": {dest},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), "Recovered 1 of 1 files")

		data, err := os.ReadFile(filepath.Join(dest, "a.jpg"))
		require.NoError(t, err)
		assert.Equal(t, "first", string(data))
		assert.NoFileExists(t, filepath.Join(dest, "b.png"))
	})

	t.Run("all files", func(t *testing.T) {
		dest := t.TempDir()
		rec := env.post(t, "/scans/"+sess.ID+"/recover", url.Values{
			"all":         {"1"},
			"destination": {dest},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), "Recovered 2 of 2 files")
		assert.FileExists(t, filepath.Join(dest, "a.jpg"))
		assert.FileExists(t, filepath.Join(dest, "b.png"))
	})

	recoveries, err := env.db.ListRecoveries(10, 0)
	require.NoError(t, err)
	require.Len(t, recoveries, 2)

	rec := env.get(t, "/recoveries/"+strconv.FormatInt(recoveries[0].ID, 10))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.get(t, "/history")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t, walker.New(nil), false)

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"readme.txt": "hello world",
		"secret.cfg": "not in results",
	})
	env.startScan(t, url.Values{"root_path": {root}, "category": {"[Documents]"}})

	rec := env.get(t, "/preview?path="+url.QueryEscape(filepath.Join(root, "readme.txt")))
	require.Equal(t, http.StatusOK, rec.Code)
	var p struct {
		Kind string `json:"kind"`
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "text", p.Kind)
	assert.Equal(t, "hello world", p.Text)

	rec = env.get(t, "/preview?path="+url.QueryEscape(filepath.Join(root, "secret.cfg")))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.get(t, "/preview")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScanProgressSSE(t *testing.T) {
	env := newTestEnv(t, walker.New(nil), false)

	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.jpg": "a", "b.jpg": "b"})
	sess := env.startScan(t, url.Values{"root_path": {root}, "category": {"[Pictures]"}})

	rec := env.get(t, "/sse/scan/"+sess.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: records")
	assert.Contains(t, body, "a.jpg")
	assert.Contains(t, body, "event: complete")

	// A cursor past the end sends no records
	rec = env.get(t, "/sse/scan/"+sess.ID+"?from=2")
	assert.NotContains(t, rec.Body.String(), "event: records")
	assert.Contains(t, rec.Body.String(), "event: complete")

	assert.Equal(t, http.StatusNotFound, env.get(t, "/sse/scan/unknown").Code)
}

func TestCSRF(t *testing.T) {
	env := newTestEnv(t, walker.New(nil), true)

	rec := env.post(t, "/scans", url.Values{"category": {"[Pictures]"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	token, err := env.h.csrf.generate()
	require.NoError(t, err)
	form := url.Values{"category": {"[Pictures]"}, csrfFormField: {token}}
	req := httptest.NewRequest(http.MethodPost, "/scans", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: token})
	rec = httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)

	// Past the token check, the empty root is rejected
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobLifecycle(t *testing.T) {
	env := newTestEnv(t, walker.New(nil), false)
	root := t.TempDir()

	rec := env.get(t, "/jobs/new")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.post(t, "/jobs", url.Values{
		"name":            {"Nightly"},
		"root_path":       {root},
		"category":        {"[Pictures]"},
		"cron_expression": {"not a cron"},
		"enabled":         {"1"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid cron expression")

	rec = env.post(t, "/jobs", url.Values{
		"name":            {"Nightly"},
		"root_path":       {root},
		"category":        {"[Pictures]"},
		"cron_expression": {"0 3 * * *"},
		"enabled":         {"1"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())

	jobs, err := env.db.ListScheduledJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	job := jobs[0]
	assert.Equal(t, "Nightly", job.Name)
	assert.True(t, job.Enabled)
	require.NotNil(t, job.NextRunAt)
	assert.True(t, job.NextRunAt.After(time.Now()))

	id := strconv.FormatInt(job.ID, 10)

	rec = env.get(t, "/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Nightly")

	rec = env.post(t, "/jobs/"+id+"/toggle", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	updated, err := env.db.GetScheduledJob(job.ID)
	require.NoError(t, err)
	assert.False(t, updated.Enabled)

	rec = env.post(t, "/jobs/"+id+"/toggle", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	updated, err = env.db.GetScheduledJob(job.ID)
	require.NoError(t, err)
	assert.True(t, updated.Enabled)

	rec = env.post(t, "/jobs/"+id+"/run", nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	sess := env.scanner.Current()
	require.NotNil(t, sess)
	assert.Equal(t, "/scans/"+sess.ID, rec.Header().Get("Location"))
	require.NotNil(t, sess.JobID)
	assert.Equal(t, job.ID, *sess.JobID)

	rec = env.post(t, "/jobs/"+id+"/delete", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	_, err = env.db.GetScheduledJob(job.ID)
	assert.Error(t, err)
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t, walker.New(nil), false)

	rec := env.get(t, "/settings")
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("custom list", func(t *testing.T) {
		rec := env.post(t, "/settings/custom", url.Values{"custom_extensions": {".raw, .cr2"}})
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Contains(t, rec.Header().Get("Location"), "success=")

		assert.Equal(t, []string{".raw", ".cr2"}, env.h.catalog.CustomList())
		// The list lives for the session only
		saved, err := env.db.GetSetting("custom_extensions")
		require.NoError(t, err)
		assert.Empty(t, saved)
	})

	t.Run("retention", func(t *testing.T) {
		rec := env.post(t, "/settings/retention", url.Values{"retention_days": {"7"}})
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, 7, env.cfg.RetentionDays)

		rec = env.post(t, "/settings/retention", url.Values{"retention_days": {"500"}})
		assert.Contains(t, rec.Header().Get("Location"), "error=")
		assert.Equal(t, 7, env.cfg.RetentionDays)
	})

	t.Run("retention locked", func(t *testing.T) {
		env.cfg.RetentionDaysLocked = true
		defer func() { env.cfg.RetentionDaysLocked = false }()

		rec := env.post(t, "/settings/retention", url.Values{"retention_days": {"14"}})
		assert.Contains(t, rec.Header().Get("Location"), "error=")
		assert.Equal(t, 7, env.cfg.RetentionDays)
	})
}

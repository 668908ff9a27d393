// Package app provides shared application initialization logic used by both
// the server (CLI) and desktop (Wails) entry points.
package app

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lyallcooper/rescuex/internal/config"
	"github.com/lyallcooper/rescuex/internal/db"
	"github.com/lyallcooper/rescuex/internal/filelock"
	"github.com/lyallcooper/rescuex/internal/handlers"
	"github.com/lyallcooper/rescuex/internal/logging"
	"github.com/lyallcooper/rescuex/internal/scheduler"
	"github.com/lyallcooper/rescuex/internal/services"
	"github.com/lyallcooper/rescuex/internal/volumes"
	"github.com/lyallcooper/rescuex/internal/walker"
	"github.com/lyallcooper/rescuex/internal/webfs"
)

// cleanupInterval is how often history past the retention period is pruned
const cleanupInterval = 24 * time.Hour

// ServerConfig contains options for creating the application server.
type ServerConfig struct {
	// Port to listen on. If 0, uses config default.
	Port int

	// ConfigFile is an explicit YAML config path. If empty, rescuex.yaml is
	// looked up in the usual places.
	ConfigFile string

	// Version string for display.
	Version string

	// Commit hash for display.
	Commit string

	// WebFS holds the templates and static assets. Defaults to the
	// embedded webfs.FS.
	WebFS fs.FS

	// BindAddress is the address to bind to. Defaults to "" (all interfaces).
	// Use "127.0.0.1" for desktop mode to only allow local connections.
	BindAddress string

	// DisableCSRF disables CSRF protection. Use for desktop mode where
	// the server only accepts local connections and CSRF isn't a concern.
	DisableCSRF bool
}

// Server wraps the HTTP server and associated resources.
type Server struct {
	HTTP      *http.Server
	Config    *config.Config
	Database  *db.DB
	Scanner   *services.Scanner
	Scheduler *scheduler.Scheduler
	Logger    *zap.SugaredLogger

	lock   *filelock.InstanceLock
	cancel context.CancelFunc
}

// CreateServer initializes all application components and returns a Server.
// Call Server.Cleanup() when done to release resources.
func CreateServer(cfg ServerConfig) (*Server, error) {
	appCfg, err := config.Load(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}

	// Override port if specified
	if cfg.Port > 0 {
		appCfg.Port = cfg.Port
	}

	logger, err := logging.New(appCfg.LogLevel, appCfg.LogFormat)
	if err != nil {
		return nil, err
	}

	lock, err := filelock.Acquire(appCfg.DataDir)
	if err != nil {
		return nil, err
	}

	logger.Infow("rescuex starting",
		"database", appCfg.DBPath,
		"data_dir", appCfg.DataDir,
		"port", appCfg.Port)

	database, err := db.Open(appCfg.DBPath)
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Runs left "running" by a crash will never finish
	if n, err := database.FailStaleScanRuns(); err != nil {
		logger.Warnw("Failed to close out stale scan runs", "error", err)
	} else if n > 0 {
		logger.Infow("Marked interrupted scan runs as failed", "count", n)
	}

	// Stored retention applies unless env or the config file set one
	if !appCfg.RetentionDaysLocked {
		if val, err := database.GetSetting(db.SettingRetentionDays); err == nil && val != "" {
			if days, err := strconv.Atoi(val); err == nil && days >= 1 && days <= 365 {
				appCfg.RetentionDays = days
			}
		}
	}
	logger.Infow("History retention", "days", appCfg.RetentionDays, "locked", appCfg.RetentionDaysLocked)

	w := walker.New(logger)
	scanner := services.NewScanner(database, w, nil, logger, services.Options{ProgressRate: appCfg.ProgressRate})

	catalog := scanner.Catalog()
	if appCfg.CategoriesFile != "" {
		if err := catalog.LoadFile(appCfg.CategoriesFile); err != nil {
			database.Close()
			lock.Release()
			return nil, fmt.Errorf("failed to load categories: %w", err)
		}
		logger.Infow("Loaded categories", "file", appCfg.CategoriesFile, "count", len(catalog.Names()))
	}

	sched := scheduler.New(database, scanner, logger)
	sched.Start()

	webFS := cfg.WebFS
	if webFS == nil {
		webFS = webfs.FS
	}

	h, err := handlers.New(handlers.Options{
		DB:          database,
		Config:      appCfg,
		Scanner:     scanner,
		Scheduler:   sched,
		Volumes:     volumes.NewLister(),
		Logger:      logger,
		WebFS:       webFS,
		Version:     buildVersionString(cfg.Version, cfg.Commit),
		DisableCSRF: cfg.DisableCSRF,
	})
	if err != nil {
		sched.Stop()
		database.Close()
		lock.Release()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.StartCSRFCleanup(ctx)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.BindAddress, appCfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // No timeout for SSE
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		HTTP:      server,
		Config:    appCfg,
		Database:  database,
		Scanner:   scanner,
		Scheduler: sched,
		Logger:    logger,
		lock:      lock,
		cancel:    cancel,
	}, nil
}

// Cleanup stops background work and releases all resources held by the
// server. A running scan is cancelled.
func (s *Server) Cleanup() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}
	if s.Scanner != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.Scanner.Shutdown(ctx); err != nil {
			s.Logger.Warnw("Scan did not stop in time", "error", err)
		}
		cancel()
	}
	if s.Database != nil {
		s.Database.Close()
	}
	if s.lock != nil {
		if err := s.lock.Release(); err != nil {
			s.Logger.Warnw("Failed to release instance lock", "error", err)
		}
	}
	s.Logger.Sync()
}

// StartCleanupLoop starts a background goroutine that periodically prunes
// old history. Returns a cancel function and a done channel.
func (s *Server) StartCleanupLoop() (cancel func(), done <-chan struct{}) {
	cleanupDone := make(chan struct{})
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())

	go func() {
		defer close(cleanupDone)
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				s.runCleanup()
			}
		}
	}()

	return cleanupCancel, cleanupDone
}

func (s *Server) runCleanup() {
	s.Logger.Infow("Running history cleanup", "retention_days", s.Config.RetentionDays)
	if err := s.Database.CleanupOldData(s.Config.RetentionDays); err != nil {
		s.Logger.Errorw("History cleanup failed", "error", err)
	}
}

func buildVersionString(version, commit string) string {
	if strings.HasPrefix(version, "v") {
		return version
	}
	shortCommit := commit
	if len(shortCommit) > 7 {
		shortCommit = shortCommit[:7]
	}
	if shortCommit == "" {
		shortCommit = "unknown"
	}
	return version + "-" + shortCommit
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"runtime"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/mac"
	"github.com/wailsapp/wails/v2/pkg/options/windows"

	"github.com/lyallcooper/rescuex/internal/app"
	"github.com/lyallcooper/rescuex/internal/logging"
	"github.com/lyallcooper/rescuex/internal/webfs"
)

// Version info - injected at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	bootLog, _ := logging.New("info", "console")

	// Set desktop-specific defaults before loading config
	setDesktopDefaults()

	// Find available port for internal server
	port, err := findAvailablePort()
	if err != nil {
		bootLog.Fatalw("Failed to find available port", "error", err)
	}

	server, err := app.CreateServer(app.ServerConfig{
		Port:        port,
		Version:     version,
		Commit:      commit,
		WebFS:       webfs.FS,
		BindAddress: "127.0.0.1", // Only local connections
		DisableCSRF: true,        // CSRF not needed for desktop app
	})
	if err != nil {
		bootLog.Fatalw("Failed to create server", "error", err)
	}
	logger := server.Logger

	cleanupCancel, cleanupDone := server.StartCleanupLoop()

	// The webview talks to the internal server through the asset handler
	targetURL, _ := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", port))
	proxy := httputil.NewSingleHostReverseProxy(targetURL)

	desktopApp := NewApp()

	err = wails.Run(&options.App{
		Title:     "DataRescueX",
		Width:     1200,
		Height:    800,
		MinWidth:  800,
		MinHeight: 600,
		AssetServer: &assetserver.Options{
			Handler: proxy,
		},
		OnStartup: func(ctx context.Context) {
			desktopApp.startup(ctx)
			go func() {
				logger.Infow("Internal server listening", "addr", server.HTTP.Addr)
				if err := server.HTTP.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					logger.Errorw("HTTP server error", "error", err)
				}
			}()
		},
		OnShutdown: func(ctx context.Context) {
			logger.Info("Shutting down...")
			server.HTTP.Shutdown(context.Background())
			cleanupCancel()
			<-cleanupDone
			server.Cleanup()
		},
		Bind: []interface{}{
			desktopApp,
		},
		Mac: &mac.Options{
			TitleBar: &mac.TitleBar{
				TitlebarAppearsTransparent: false,
			},
			About: &mac.AboutInfo{
				Title:   "DataRescueX",
				Message: fmt.Sprintf("File Recovery\n\nVersion: %s", displayVersion()),
			},
		},
		Windows: &windows.Options{
			WebviewIsTransparent: false,
			WindowIsTranslucent:  false,
		},
	})

	if err != nil {
		logger.Fatalw("Wails error", "error", err)
	}
}

// findAvailablePort finds an available TCP port on localhost.
func findAvailablePort() (int, error) {
	preferredPort := 18090
	if isPortAvailable(preferredPort) {
		return preferredPort, nil
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

func isPortAvailable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

// setDesktopDefaults points the data directory at the user's app data
// directory unless it is already configured.
func setDesktopDefaults() {
	if os.Getenv("RESCUEX_DATA_DIR") == "" {
		os.Setenv("RESCUEX_DATA_DIR", getAppDataDir())
	}
}

// getAppDataDir returns the platform-appropriate application data directory.
func getAppDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "DataRescueX")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "DataRescueX")
	default: // Linux and others
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, "rescuex")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "rescuex")
	}
}

func displayVersion() string {
	if version == "dev" {
		return "Development"
	}
	return version
}

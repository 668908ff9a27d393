package main

import (
	"context"
	"os/exec"
	goruntime "runtime"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// App is bound into the webview as window.go.main.App.
type App struct {
	ctx context.Context
}

// NewApp creates a new App instance.
func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
}

// SelectRecoveryFolder shows the native folder picker. An empty string means
// the user dismissed it.
func (a *App) SelectRecoveryFolder() (string, error) {
	return wailsruntime.OpenDirectoryDialog(a.ctx, wailsruntime.OpenDialogOptions{
		Title:                "Choose recovery folder",
		CanCreateDirectories: true,
	})
}

// SelectScanFolder shows the native folder picker for a scan root.
func (a *App) SelectScanFolder() (string, error) {
	return wailsruntime.OpenDirectoryDialog(a.ctx, wailsruntime.OpenDialogOptions{
		Title: "Choose folder to scan",
	})
}

// OpenFolder opens a folder in the system file manager, typically the
// destination of a finished recovery.
func (a *App) OpenFolder(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", path)
	default: // Linux
		cmd = exec.Command("xdg-open", path)
	}
	return cmd.Start()
}

package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lyallcooper/rescuex/internal/app"
)

// NewServeCommand creates the 'rescuex serve' command
func NewServeCommand() *cobra.Command {
	var (
		port       int
		configFile string
		bind       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web interface",
		Long: `Start the HTTP server with the scan, results, history and scheduled
scan pages. Configuration comes from rescuex.yaml and RESCUEX_* environment
variables; flags override both.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), app.ServerConfig{
				Port:        port,
				ConfigFile:  configFile,
				Version:     Version,
				Commit:      Commit,
				BindAddress: bind,
			})
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default from config, 8080)")
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to a rescuex.yaml config file")
	cmd.Flags().StringVar(&bind, "bind", "", "Address to bind to (default all interfaces)")

	return cmd
}

func runServe(ctx context.Context, cfg app.ServerConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := app.CreateServer(cfg)
	if err != nil {
		return err
	}
	defer server.Cleanup()
	logger := server.Logger

	cleanupCancel, cleanupDone := server.StartCleanupLoop()
	defer func() {
		cleanupCancel()
		<-cleanupDone
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("Server listening", "addr", server.HTTP.Addr)
		if err := server.HTTP.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.HTTP.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("Shutdown error", "error", err)
		}
	}

	logger.Info("Server stopped")
	return nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/finly-network/finly/internal/api"
	"github.com/finly-network/finly/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "Listen host (overrides [api].host)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides [api].port)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  `Start the HTTP API. POST /run-analysis runs one decision cycle per request.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.API.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.API.Port = port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := daemon.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := api.NewServer(app.Runner, app.Ledger, app.Analytics, app.Tracer)
	srv.SetRecentLimit(cfg.Analytics.RecentLimit)
	if d, err := time.ParseDuration(cfg.API.RequestTimeout); err == nil {
		srv.SetRequestTimeout(d)
	}
	if cfg.Metrics.Enabled {
		srv.EnableMetrics()
	}

	httpSrv := &http.Server{
		Addr:              cfg.API.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("finly listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", httpSrv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

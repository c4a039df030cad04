package cmd

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

	"github.com/cuemap-dev/cuemap/core/httpapi"
	"github.com/cuemap-dev/cuemap/core/ingest"
	"github.com/cuemap-dev/cuemap/core/tenant"
)

var (
	serveAddr     string
	serveReadOnly bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the CueMap daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
		if serveReadOnly {
			cfg.Server.ReadOnly = true
		}

		engineOpts, err := cfg.EngineOptions()
		if err != nil {
			return err
		}

		sup := tenant.NewSupervisor(tenant.Options{
			SnapshotsDir:        cfg.SnapshotsDir(),
			SnapshotInterval:    cfg.SnapshotInterval.Std(),
			ConsolidateInterval: cfg.ConsolidateInterval.Std(),
			Engine:              engineOpts,
			Jobs:                cfg.JobsOptions(),
		})
		for id, err := range sup.LoadAll() {
			if err != nil {
				slog.Warn("snapshot load failed", "tenant", id, "error", err)
			}
		}
		sup.Start()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if cfg.Ingest.Enabled && cfg.Ingest.Dir != "" {
			watcher, err := ingest.New(cfg.Ingest.Tenant, cfg.Ingest.Dir, sup.Pipeline(), slog.Default())
			if err != nil {
				return fmt.Errorf("ingest watcher: %w", err)
			}
			// Pre-create the tenant so jobs have a home.
			if _, err := sup.Get(cfg.Ingest.Tenant); err != nil {
				return err
			}
			go watcher.Run(ctx)
			go watcher.SyncOnce(ctx)
		}

		api := httpapi.NewServer(sup, httpapi.Config{
			APIKey:   cfg.Server.APIKey,
			ReadOnly: cfg.Server.ReadOnly,
		})
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           api.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			slog.Info("cuemapd listening", "addr", cfg.Server.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		slog.Info("shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelShutdown()
		srv.Shutdown(shutdownCtx)
		return sup.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveReadOnly, "read-only", false, "reject mutating requests")
	rootCmd.AddCommand(serveCmd)
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/imroc/req/v3"
	"github.com/spf13/cobra"

	"github.com/dixcover/dixcover/internal/config"
	"github.com/dixcover/dixcover/internal/httpclient"
	"github.com/dixcover/dixcover/internal/notify"
	"github.com/dixcover/dixcover/internal/prober"
	"github.com/dixcover/dixcover/internal/ratelimit"
	"github.com/dixcover/dixcover/internal/scan"
	"github.com/dixcover/dixcover/internal/scheduler"
	"github.com/dixcover/dixcover/internal/server"
	"github.com/dixcover/dixcover/internal/sources"
	"github.com/dixcover/dixcover/internal/sources/crtsh"
	"github.com/dixcover/dixcover/internal/sources/otx"
	"github.com/dixcover/dixcover/internal/sources/shodan"
	"github.com/dixcover/dixcover/internal/sources/virustotal"
	"github.com/dixcover/dixcover/internal/storage"
	"github.com/dixcover/dixcover/internal/sweep"
)

// sourceRPS gates each intelligence source to one request per second with a
// small burst, matching what the public endpoints tolerate.
const sourceRPS = 1.0

func newServeCmd(logger *slog.Logger, getenv func(string) string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the discovery and liveness service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), logger, getenv)
		},
	}
}

func runServe(ctx context.Context, logger *slog.Logger, getenv func(string) string) error {
	cfg, err := config.Load(getenv)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := storage.Open(ctx, cfg.DB.DSN(), logger)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}

	debug := logger.Enabled(ctx, slog.LevelDebug)
	services := buildServices(cfg, logger, debug)

	notifyClient := httpclient.New(httpclient.Options{Timeout: 5 * time.Second}, logger, debug)
	notifier := notify.New(cfg.Notify, notifyClient, logger)

	hostProber := prober.New(cfg.Prober, logger)
	sweeper := sweep.New(store, hostProber, cfg.Prober.MaxWorkers, notifier, logger)

	sched := scheduler.New(store, logger)
	coordinator := scan.New(store, services, sched, logger)
	sched.Bind(
		func(ctx context.Context, apex string) error {
			return coordinator.Scan(ctx, apex, true, "scheduler")
		},
		func(ctx context.Context) error {
			return sweeper.Run(ctx, 0)
		},
	)

	// Scheduler failures degrade the service but never stop it: manual
	// scans and probes keep working without recurring jobs.
	if err := sched.ScheduleProbe(ctx); err != nil {
		logger.Error("serve: probe job registration failed", "error", err)
	}
	if err := sched.Start(ctx); err != nil {
		logger.Error("serve: scheduler start failed, continuing without scheduled jobs", "error", err)
	} else {
		defer sched.Stop()
	}

	api := server.New(store, coordinator, sweeper, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	logger.Info("serve: listening", "addr", cfg.ListenAddr)

	select {
	case <-ctx.Done():
		logger.Info("serve: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("serve: shutdown failed", "error", err)
		}
		coordinator.Wait()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

// buildServices wires one client and limiter per source so a slow source
// never starves the others of request budget.
func buildServices(cfg *config.Config, logger *slog.Logger, debug bool) []sources.Service {
	newClient := func() *req.Client {
		return httpclient.New(httpclient.Options{}, logger, debug)
	}
	newLimiter := func() *ratelimit.Limiter {
		return ratelimit.New(sourceRPS, 1)
	}

	return []sources.Service{
		crtsh.NewService(crtsh.NewClient(newClient(), newLimiter(), logger), logger),
		otx.NewService(otx.NewClient(newClient(), newLimiter(), logger, cfg.APIKeys.OTX), logger),
		shodan.NewService(shodan.NewClient(newClient(), newLimiter(), logger, cfg.APIKeys.Shodan), logger),
		virustotal.NewService(virustotal.NewClient(newClient(), newLimiter(), logger, cfg.APIKeys.VirusTotal), logger),
	}
}

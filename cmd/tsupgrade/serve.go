package main

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
	"golang.org/x/sync/errgroup"

	"github.com/soochol/tsupgrade/internal/api"
	"github.com/soochol/tsupgrade/internal/config"
	"github.com/soochol/tsupgrade/internal/telemetry"
	"github.com/soochol/tsupgrade/internal/workdir"
)

// shutdownTimeout bounds how long in-flight runs and requests get to unwind.
const shutdownTimeout = 30 * time.Second

func newServeCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Ledger.FailOrphansOnStart {
		a.runs.CleanupOrphanedRuns(ctx)
	}

	sweeper := workdir.NewSweeper(a.workdirs.Root(), cfg.Workdir.MaxAge)
	if err := sweeper.Start(cfg.Workdir.SweepSchedule); err != nil {
		return err
	}
	defer func() { <-sweeper.Stop().Done() }()

	srv := api.NewServer(a.guard, a.status)
	srv.SetConcurrencyLimiter(a.limiter)
	srv.SetGatherer(a.registry)
	srv.SetJWTSecret(cfg.Server.JWTSecret)
	srv.SetRateLimit(cfg.Server.RateLimit)
	if cfg.Telemetry.OTLPEndpoint != "" {
		srv.SetTracing(telemetry.Middleware(cfg.Telemetry.ServiceName))
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting tsupgrade server", "addr", httpSrv.Addr, "run_timeout", a.guard.Timeout())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Cancelling runs first lets their requests answer before the
		// server stops waiting on them.
		guardErr := a.guard.Shutdown(shutdownCtx)
		return errors.Join(guardErr, httpSrv.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

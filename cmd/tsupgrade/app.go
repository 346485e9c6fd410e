package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/soochol/tsupgrade/internal/config"
	"github.com/soochol/tsupgrade/internal/github"
	"github.com/soochol/tsupgrade/internal/gitops"
	"github.com/soochol/tsupgrade/internal/metrics"
	"github.com/soochol/tsupgrade/internal/notify"
	"github.com/soochol/tsupgrade/internal/policy"
	"github.com/soochol/tsupgrade/internal/repository"
	"github.com/soochol/tsupgrade/internal/services"
	"github.com/soochol/tsupgrade/internal/telemetry"
	"github.com/soochol/tsupgrade/internal/transform"
	"github.com/soochol/tsupgrade/internal/tsupgrade/ports"
	"github.com/soochol/tsupgrade/internal/workdir"
)

// closeTimeout bounds flushing telemetry and draining connections on exit.
const closeTimeout = 10 * time.Second

// app holds the wired services for one process.
type app struct {
	cfg      *config.Config
	ledger   repository.RunLedger
	runs     *services.RunService
	guard    *services.DeadlineGuard
	status   *services.StatusQuery
	limiter  *services.ConcurrencyLimiter
	registry *prometheus.Registry
	workdirs *workdir.Manager

	closers []func(context.Context) error
}

// newApp connects every collaborator named in cfg. Close releases them.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, shutdownTracing)

	ledger, closer, err := repository.OpenRunLedger(ctx, cfg.Ledger.URL, cfg.Ledger.Table)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	a.ledger = ledger
	a.closers = append(a.closers, closeWith(closer))

	host, err := github.New(ctx, github.Options{
		Token:   cfg.GitHub.Token,
		Login:   cfg.GitHub.Login,
		BaseURL: cfg.GitHub.BaseURL,
	})
	if err != nil {
		return err
	}

	transformer, err := transform.NewCommand(cfg.Transform.Command)
	if err != nil {
		return err
	}

	admission, err := policy.Compile(cfg.Runs.Admission)
	if err != nil {
		return err
	}

	events, err := a.openEvents(cfg.Notify)
	if err != nil {
		return err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.workdirs = workdir.NewManager(cfg.Workdir.Root)
	a.limiter = services.NewConcurrencyLimiter(services.ConcurrencyLimits{
		GlobalMax:  cfg.Runs.MaxConcurrent,
		PerRepoMax: cfg.Runs.MaxPerRepo,
	})

	a.runs = services.NewRunService(host, gitops.New(cfg.GitHub.Token), transformer, ledger, a.workdirs)
	a.runs.SetDefaultBranch(cfg.Runs.DefaultBranch)
	a.runs.SetVersions(cfg.Transform.Versions)
	a.runs.SetAdmission(admission)
	a.runs.SetConcurrencyLimiter(a.limiter)
	a.runs.SetRetryPolicy(services.RetryPolicy{
		MaxRetries:    cfg.Runs.Retry.MaxRetries,
		InitialDelay:  cfg.Runs.Retry.InitialDelay,
		MaxDelay:      cfg.Runs.Retry.MaxDelay,
		BackoffFactor: cfg.Runs.Retry.BackoffFactor,
	})
	a.runs.SetMetrics(metrics.New(a.registry))
	if events != nil {
		a.runs.SetEvents(events)
	}

	a.guard = services.NewDeadlineGuard(a.runs, cfg.Runs.Timeout)
	a.status = services.NewStatusQuery(ledger)
	return nil
}

// openEvents builds the configured event sinks, or nil when there are none.
func (a *app) openEvents(cfg config.NotifyConfig) (ports.RunEvents, error) {
	var sinks notify.Multi
	if cfg.SlackWebhookURL != "" {
		sinks = append(sinks, &notify.SlackSender{WebhookURL: cfg.SlackWebhookURL})
	}
	if cfg.NATSURL != "" {
		pub, err := notify.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.closers = append(a.closers, closeWith(pub))
		sinks = append(sinks, pub)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return sinks, nil
}

// Close releases collaborators in reverse order of creation.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		slog.Warn("shutdown incomplete", "err", err)
		return err
	}
	return nil
}

func closeWith(c io.Closer) func(context.Context) error {
	return func(context.Context) error { return c.Close() }
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/soochol/tsupgrade/internal/metrics"
	"github.com/soochol/tsupgrade/internal/repository"
	"github.com/soochol/tsupgrade/internal/tsupgrade"
	"github.com/soochol/tsupgrade/internal/tsupgrade/ports"
)

// failWriteTimeout bounds the ledger write that records a failure. That write
// runs detached from the run's context, which may already be cancelled.
const failWriteTimeout = 15 * time.Second

// Workdirs hands out scratch directories for working copies.
type Workdirs interface {
	// Acquire creates a fresh directory. release removes it and must be
	// called exactly once.
	Acquire(ctx context.Context) (dir string, release func(), err error)
}

// Admission decides whether a run may start.
type Admission interface {
	Admit(p tsupgrade.RunParams) error
}

// RunService executes upgrade runs step by step and records their progress
// in the ledger when a run ID is given.
type RunService struct {
	host        ports.SourceHost
	vcs         ports.VCS
	transformer ports.Transformer
	ledger      repository.RunLedger
	workdirs    Workdirs

	events        ports.RunEvents
	admission     Admission
	limiter       *ConcurrencyLimiter
	retry         RetryPolicy
	metrics       *metrics.Metrics
	tracer        trace.Tracer
	defaultBranch string
	versions      []string
	now           func() time.Time
}

// NewRunService creates a RunService from its collaborators.
func NewRunService(host ports.SourceHost, vcs ports.VCS, transformer ports.Transformer, ledger repository.RunLedger, workdirs Workdirs) *RunService {
	return &RunService{
		host:          host,
		vcs:           vcs,
		transformer:   transformer,
		ledger:        ledger,
		workdirs:      workdirs,
		tracer:        otel.Tracer("github.com/soochol/tsupgrade/internal/services"),
		defaultBranch: "main",
		now:           time.Now,
	}
}

// SetEvents configures where status changes are published.
func (s *RunService) SetEvents(events ports.RunEvents) { s.events = events }

// SetAdmission configures the admission policy.
func (s *RunService) SetAdmission(a Admission) { s.admission = a }

// SetConcurrencyLimiter configures the concurrency limiter.
func (s *RunService) SetConcurrencyLimiter(l *ConcurrencyLimiter) { s.limiter = l }

// SetRetryPolicy configures retries of steps that fail transiently. The zero
// policy never retries.
func (s *RunService) SetRetryPolicy(p RetryPolicy) { s.retry = p }

// SetMetrics configures the Prometheus collectors.
func (s *RunService) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetDefaultBranch sets the branch used when a run names none.
func (s *RunService) SetDefaultBranch(branch string) {
	if branch != "" {
		s.defaultBranch = branch
	}
}

// SetVersions sets the syntax versions a run may target.
func (s *RunService) SetVersions(versions []string) { s.versions = versions }

// Prepare normalizes and validates p. Runs must be prepared before Execute.
func (s *RunService) Prepare(p tsupgrade.RunParams) (tsupgrade.RunParams, error) {
	p = p.Normalize(s.defaultBranch)
	if err := p.Validate(); err != nil {
		return p, err
	}
	version, err := tsupgrade.ParseVersion(p.Version, s.versions)
	if err != nil {
		return p, err
	}
	p.Version = version
	if s.admission != nil {
		if err := s.admission.Admit(p); err != nil {
			return p, err
		}
	}
	return p, nil
}

// Run prepares and executes a run without a deadline.
func (s *RunService) Run(ctx context.Context, p tsupgrade.RunParams) (*tsupgrade.PullRequest, error) {
	p, err := s.Prepare(p)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, p)
}

// Execute runs every step of a prepared run in order. The first failing step
// aborts the run; completed steps are not rolled back.
func (s *RunService) Execute(ctx context.Context, p tsupgrade.RunParams) (*tsupgrade.PullRequest, error) {
	log := slog.With("owner", p.Owner, "repo", p.Repo, "branch", p.Branch, "run_id", p.RunID)
	s.metrics.RunStarted()

	if p.Persistent() {
		if err := s.ledger.EnsureTable(ctx); err != nil {
			return nil, s.fail(ctx, log, p, tsupgrade.StatusAuth, fmt.Errorf("ensure ledger: %w", err))
		}
		if err := s.ledger.Replace(ctx, p.NewRecord(s.now())); err != nil {
			return nil, s.fail(ctx, log, p, tsupgrade.StatusAuth, fmt.Errorf("record run start: %w", err))
		}
	}
	log.Info("run started", "version", p.Version)
	s.publish(ctx, p, ports.RunEvent{Status: tsupgrade.StatusAuth, LastStatus: tsupgrade.StatusAuth})

	pr, last, err := s.execute(ctx, log, p)
	if err != nil {
		return nil, s.fail(ctx, log, p, last, err)
	}

	if err := s.record(ctx, p, tsupgrade.Reached(tsupgrade.StatusDone)); err != nil {
		return nil, s.fail(ctx, log, p, tsupgrade.StatusPullRequest, err)
	}
	s.metrics.RunFinished(metrics.OutcomeDone)
	s.publish(ctx, p, ports.RunEvent{Status: tsupgrade.StatusDone, LastStatus: tsupgrade.StatusDone, URL: pr.URL})
	log.Info("run finished", "pull_request", pr.URL)
	return pr, nil
}

// execute acquires the run's resources and walks the steps. It returns the
// last status that was reached so failures can be reported against it.
func (s *RunService) execute(ctx context.Context, log *slog.Logger, p tsupgrade.RunParams) (*tsupgrade.PullRequest, tsupgrade.RunStatus, error) {
	last := tsupgrade.StatusAuth

	if s.limiter != nil {
		key := p.Owner + "/" + p.Repo
		if err := s.limiter.Acquire(ctx, key); err != nil {
			return nil, last, fmt.Errorf("wait for run slot: %w", err)
		}
		defer s.limiter.Release(key)
	}

	login, err := s.host.Login(ctx)
	if err != nil {
		return nil, last, fmt.Errorf("auth: %w", err)
	}
	if login == "" {
		return nil, last, errors.New("auth: source host returned an empty login")
	}

	dir, release, err := s.workdirs.Acquire(ctx)
	if err != nil {
		return nil, last, fmt.Errorf("acquire working directory: %w", err)
	}
	defer release()

	st := &runState{params: p, login: login, dir: dir}
	for _, step := range s.steps(st) {
		if err := ctx.Err(); err != nil {
			return nil, last, err
		}
		if err := s.runStep(ctx, log, step); err != nil {
			return nil, last, fmt.Errorf("%s: %w", step.Name(), err)
		}
		if err := s.record(ctx, p, tsupgrade.Reached(step.Status)); err != nil {
			return nil, last, err
		}
		last = step.Status
		s.publish(ctx, p, ports.RunEvent{Status: last, LastStatus: last})
	}
	return st.pullRequest, last, nil
}

func (s *RunService) runStep(ctx context.Context, log *slog.Logger, step Step) error {
	ctx, span := s.tracer.Start(ctx, "step."+step.Name(), trace.WithAttributes(
		attribute.String("tsupgrade.step", step.Name()),
	))
	defer span.End()

	start := time.Now()
	err := withRetry(ctx, s.retry, step.Retry, step.Action)
	elapsed := time.Since(start)
	s.metrics.ObserveStep(step.Name(), elapsed, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	log.Debug("step completed", "step", step.Name(), "elapsed", elapsed)
	return nil
}

// record merges patch into the ledger for persistent runs.
func (s *RunService) record(ctx context.Context, p tsupgrade.RunParams, patch tsupgrade.StatusPatch) error {
	if !p.Persistent() {
		return nil
	}
	if err := s.ledger.Merge(ctx, p.Owner, p.RunID, patch); err != nil {
		return fmt.Errorf("record status %s: %w", patch.Status, err)
	}
	return nil
}

// fail records the error status, leaving last_status as it was, and returns
// cause. The write is detached from ctx so a cancelled run still records it.
func (s *RunService) fail(ctx context.Context, log *slog.Logger, p tsupgrade.RunParams, last tsupgrade.RunStatus, cause error) error {
	outcome := metrics.OutcomeError
	if errors.Is(cause, context.DeadlineExceeded) || errors.Is(cause, context.Canceled) {
		outcome = metrics.OutcomeTimeout
	}
	s.metrics.RunFinished(outcome)

	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()

	if p.Persistent() {
		if err := s.ledger.Merge(detached, p.Owner, p.RunID, tsupgrade.Failed()); err != nil {
			cause = errors.Join(cause, fmt.Errorf("record failure: %w", err))
		}
	}
	log.Error("run failed", "last_status", last.String(), "err", cause)
	s.publish(detached, p, ports.RunEvent{Status: tsupgrade.StatusError, LastStatus: last, Error: cause.Error()})
	return cause
}

func (s *RunService) publish(ctx context.Context, p tsupgrade.RunParams, ev ports.RunEvent) {
	if s.events == nil {
		return
	}
	ev.Owner = p.Owner
	ev.Repo = p.Repo
	ev.RunID = p.RunID
	ev.At = s.now()
	if err := s.events.Publish(ctx, ev); err != nil {
		slog.Warn("publish run event failed", "run_id", p.RunID, "status", ev.Status.String(), "err", err)
	}
}

// CleanupOrphanedRuns marks every unfinished run in the ledger as failed.
// Should be called once at server startup, before any run is accepted.
func (s *RunService) CleanupOrphanedRuns(ctx context.Context) {
	c, ok := s.ledger.(repository.OrphanCleaner)
	if !ok {
		return
	}
	if err := s.ledger.EnsureTable(ctx); err != nil {
		slog.Warn("failed to prepare ledger for orphan cleanup", "err", err)
		return
	}
	n, err := c.MarkOrphanedRunsFailed(ctx)
	if err != nil {
		slog.Warn("failed to clean up orphaned runs", "err", err)
		return
	}
	if n > 0 {
		slog.Info("marked orphaned runs as failed", "count", n)
	}
}

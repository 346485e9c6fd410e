package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/soochol/tsupgrade/internal/tsupgrade"
)

// DefaultTimeout applies when a guard is built with a non-positive timeout.
const DefaultTimeout = 5 * time.Minute

// Outcome is what a caller sees of a guarded run. A timed-out run has no pull
// request and no error.
type Outcome struct {
	PullRequest *tsupgrade.PullRequest
	TimedOut    bool
}

// DeadlineGuard bounds how long a run may take. When the deadline passes the
// run's context is cancelled, which aborts in-flight collaborator calls; the
// run then records its failure and removes its working directory on its own.
type DeadlineGuard struct {
	runs    *RunService
	timeout time.Duration

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDeadlineGuard creates a guard that cancels runs after timeout.
func NewDeadlineGuard(runs *RunService, timeout time.Duration) *DeadlineGuard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base, cancel := context.WithCancel(context.Background())
	return &DeadlineGuard{runs: runs, timeout: timeout, base: base, cancel: cancel}
}

// Timeout returns the configured deadline.
func (g *DeadlineGuard) Timeout() time.Duration { return g.timeout }

type runResult struct {
	pr  *tsupgrade.PullRequest
	err error

	// sampled before the goroutine's own deferred cancel runs
	cancelled bool
}

// Run validates p and executes it against the deadline. Validation errors are
// returned directly. The run is detached from ctx's cancellation so a caller
// that goes away does not abort it; only the deadline or Shutdown does.
func (g *DeadlineGuard) Run(ctx context.Context, p tsupgrade.RunParams) (Outcome, error) {
	p, err := g.runs.Prepare(p)
	if err != nil {
		return Outcome{}, err
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	stop := context.AfterFunc(g.base, cancel)

	resultCh := make(chan runResult, 1)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer stop()
		defer cancel()
		pr, err := g.runs.Execute(runCtx, p)
		resultCh <- runResult{pr: pr, err: err, cancelled: runCtx.Err() != nil}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil && res.cancelled {
			return g.timedOut(p), nil
		}
		return Outcome{PullRequest: res.pr}, res.err
	case <-runCtx.Done():
		return g.timedOut(p), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (g *DeadlineGuard) timedOut(p tsupgrade.RunParams) Outcome {
	slog.Warn("run exceeded deadline", "owner", p.Owner, "repo", p.Repo, "run_id", p.RunID, "timeout", g.timeout)
	return Outcome{TimedOut: true}
}

// Wait blocks until every run started through the guard has returned.
func (g *DeadlineGuard) Wait() {
	g.wg.Wait()
}

// Shutdown cancels all in-flight runs and waits for them to unwind, or for
// ctx to end.
func (g *DeadlineGuard) Shutdown(ctx context.Context) error {
	g.cancel()
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

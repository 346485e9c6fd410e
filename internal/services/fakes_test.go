package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/soochol/tsupgrade/internal/repository"
	"github.com/soochol/tsupgrade/internal/tsupgrade"
	"github.com/soochol/tsupgrade/internal/tsupgrade/ports"
)

var errBoom = errors.New("boom")

// fakeHost is a SourceHost whose calls can be made to fail by name.
type fakeHost struct {
	mu      sync.Mutex
	login   string
	failOn  string
	flaky   map[string][]error
	calls   []string
	prs     []prCall
	starred []string
}

type prCall struct {
	owner, repo, title, base, head string
}

func newFakeHost() *fakeHost {
	return &fakeHost{login: "upgrade-bot"}
}

func (h *fakeHost) call(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, name)
	if err := popFlaky(h.flaky, name); err != nil {
		return err
	}
	if h.failOn == name {
		return fmt.Errorf("%s: %w", name, errBoom)
	}
	return nil
}

func (h *fakeHost) Login(ctx context.Context) (string, error) {
	if err := h.call("login"); err != nil {
		return "", err
	}
	return h.login, nil
}

func (h *fakeHost) CreateFork(ctx context.Context, owner, repo string) (*tsupgrade.Fork, error) {
	if err := h.call("fork"); err != nil {
		return nil, err
	}
	return &tsupgrade.Fork{
		Owner:    h.login,
		CloneURL: "https://github.com/" + h.login + "/" + repo + ".git",
		HTMLURL:  "https://github.com/" + h.login + "/" + repo,
	}, nil
}

func (h *fakeHost) Star(ctx context.Context, owner, repo string) error {
	if err := h.call("star"); err != nil {
		return err
	}
	h.mu.Lock()
	h.starred = append(h.starred, owner+"/"+repo)
	h.mu.Unlock()
	return nil
}

func (h *fakeHost) CreatePullRequest(ctx context.Context, owner, repo, title, base, head string) (*tsupgrade.PullRequest, error) {
	if err := h.call("pullrequest"); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.prs = append(h.prs, prCall{owner, repo, title, base, head})
	n := len(h.prs)
	h.mu.Unlock()
	return &tsupgrade.PullRequest{
		URL:    fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, repo, n),
		Number: n,
		Head:   head,
		Base:   base,
	}, nil
}

// fakeVCS records operations and derives commits from a fixed tree hash.
type fakeVCS struct {
	mu       sync.Mutex
	treeHash string
	failOn   string
	flaky    map[string][]error
	calls    []string
	branches []string
	cloned   []ports.CloneOptions
	commits  []ports.Signature
	messages []string
	pushes   []pushCall
}

type pushCall struct {
	remote, ref string
	force       bool
}

func newFakeVCS() *fakeVCS {
	return &fakeVCS{treeHash: "4b825dc642cb6eb9a060e54bf8d69288fbee4904"}
}

func (v *fakeVCS) call(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, name)
	if err := popFlaky(v.flaky, name); err != nil {
		return err
	}
	if v.failOn == name {
		return fmt.Errorf("%s: %w", name, errBoom)
	}
	return nil
}

func (v *fakeVCS) Clone(ctx context.Context, url, dir string, opts ports.CloneOptions) error {
	if err := v.call("clone"); err != nil {
		return err
	}
	v.mu.Lock()
	v.cloned = append(v.cloned, opts)
	v.mu.Unlock()
	return nil
}

func (v *fakeVCS) Checkout(ctx context.Context, dir, ref string) error {
	return v.call("checkout")
}

func (v *fakeVCS) Log(ctx context.Context, dir, ref string, depth int) ([]tsupgrade.Commit, error) {
	if err := v.call("log"); err != nil {
		return nil, err
	}
	return []tsupgrade.Commit{{Hash: "c0ffee", TreeHash: v.treeHash}}, nil
}

func (v *fakeVCS) CreateBranch(ctx context.Context, dir, name string) error {
	if err := v.call("branch"); err != nil {
		return err
	}
	v.mu.Lock()
	v.branches = append(v.branches, name)
	v.mu.Unlock()
	return nil
}

func (v *fakeVCS) StageAll(ctx context.Context, dir string) error {
	return v.call("add")
}

func (v *fakeVCS) Commit(ctx context.Context, dir string, author ports.Signature, message string) error {
	if err := v.call("commit"); err != nil {
		return err
	}
	v.mu.Lock()
	v.commits = append(v.commits, author)
	v.messages = append(v.messages, message)
	v.mu.Unlock()
	return nil
}

func (v *fakeVCS) Push(ctx context.Context, dir, remote, ref string, opts ports.PushOptions) error {
	if err := v.call("push"); err != nil {
		return err
	}
	v.mu.Lock()
	v.pushes = append(v.pushes, pushCall{remote, ref, opts.Force})
	v.mu.Unlock()
	return nil
}

// popFlaky returns and removes the next queued error for name.
func popFlaky(flaky map[string][]error, name string) error {
	errs := flaky[name]
	if len(errs) == 0 {
		return nil
	}
	flaky[name] = errs[1:]
	return errs[0]
}

// fakeTransformer fails or blocks on demand. A blocking transformer waits
// for its context to end, like a well-behaved subprocess.
type fakeTransformer struct {
	mu       sync.Mutex
	fail     bool
	block    bool
	versions []string
	started  chan struct{}
}

func (f *fakeTransformer) Upgrade(ctx context.Context, dir, version string) error {
	f.mu.Lock()
	f.versions = append(f.versions, version)
	fail, block, started := f.fail, f.block, f.started
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return errBoom
	}
	return nil
}

// fakeWorkdirs tracks which directories are still held.
type fakeWorkdirs struct {
	mu       sync.Mutex
	next     int
	held     map[string]bool
	released int
}

func newFakeWorkdirs() *fakeWorkdirs {
	return &fakeWorkdirs{held: make(map[string]bool)}
}

func (w *fakeWorkdirs) Acquire(ctx context.Context) (string, func(), error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next++
	dir := fmt.Sprintf("/tmp/tsupgrade-test-%d", w.next)
	w.held[dir] = true
	return dir, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.held, dir)
		w.released++
	}, nil
}

func (w *fakeWorkdirs) Held() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.held)
}

// ledgerOp is one write observed by recordingLedger.
type ledgerOp struct {
	kind  string // "replace" | "merge"
	owner string
	runID string
	patch tsupgrade.StatusPatch
}

// recordingLedger wraps the memory ledger, records writes and can fail them.
type recordingLedger struct {
	*repository.MemoryRunLedger

	mu          sync.Mutex
	ops         []ledgerOp
	failMergeAt *tsupgrade.RunStatus
	failErrors  bool
}

func newRecordingLedger() *recordingLedger {
	return &recordingLedger{MemoryRunLedger: repository.NewMemoryRunLedger()}
}

func (l *recordingLedger) Replace(ctx context.Context, r *tsupgrade.RunRecord) error {
	l.mu.Lock()
	l.ops = append(l.ops, ledgerOp{kind: "replace", owner: r.Owner, runID: r.RunID})
	l.mu.Unlock()
	return l.MemoryRunLedger.Replace(ctx, r)
}

func (l *recordingLedger) Merge(ctx context.Context, owner, runID string, p tsupgrade.StatusPatch) error {
	l.mu.Lock()
	l.ops = append(l.ops, ledgerOp{kind: "merge", owner: owner, runID: runID, patch: p})
	failAt, failErrors := l.failMergeAt, l.failErrors
	l.mu.Unlock()

	if failAt != nil && p.Status == *failAt {
		return errors.New("ledger unavailable")
	}
	if failErrors && p.Status == tsupgrade.StatusError {
		return errors.New("ledger unavailable")
	}
	return l.MemoryRunLedger.Merge(ctx, owner, runID, p)
}

func (l *recordingLedger) Ops() []ledgerOp {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledgerOp(nil), l.ops...)
}

// eventRecorder collects published run events.
type eventRecorder struct {
	mu     sync.Mutex
	events []ports.RunEvent
	err    error
}

func (e *eventRecorder) Publish(ctx context.Context, ev ports.RunEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return e.err
}

func (e *eventRecorder) Statuses() []tsupgrade.RunStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]tsupgrade.RunStatus, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Status
	}
	return out
}

type denyAll struct{}

func (denyAll) Admit(p tsupgrade.RunParams) error {
	return fmt.Errorf("%w: %s/%s", tsupgrade.ErrRunRejected, p.Owner, p.Repo)
}

// harness bundles a RunService with its fakes.
type harness struct {
	host      *fakeHost
	vcs       *fakeVCS
	transform *fakeTransformer
	ledger    *recordingLedger
	workdirs  *fakeWorkdirs
	events    *eventRecorder
	svc       *RunService
}

func newHarness() *harness {
	h := &harness{
		host:      newFakeHost(),
		vcs:       newFakeVCS(),
		transform: &fakeTransformer{},
		ledger:    newRecordingLedger(),
		workdirs:  newFakeWorkdirs(),
		events:    &eventRecorder{},
	}
	h.svc = NewRunService(h.host, h.vcs, h.transform, h.ledger, h.workdirs)
	h.svc.SetEvents(h.events)
	return h
}

func (h *harness) record(t *testing.T, owner, runID string) *tsupgrade.RunRecord {
	t.Helper()
	recs, err := h.ledger.Find(context.Background(), runID, owner)
	if err != nil {
		t.Fatalf("find %s/%s: %v", owner, runID, err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record for %s/%s, got %d", owner, runID, len(recs))
	}
	return recs[0]
}

func acmeParams(runID string) tsupgrade.RunParams {
	return tsupgrade.RunParams{Owner: "acme", Repo: "widgets", Branch: "main", RunID: runID}
}

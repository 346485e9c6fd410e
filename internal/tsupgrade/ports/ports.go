package ports

import (
	"context"
	"time"

	"github.com/soochol/tsupgrade/internal/tsupgrade"
)

// SourceHost is the hosting service that owns the target repository.
type SourceHost interface {
	// Login returns the account name the bot credential authenticates as.
	Login(ctx context.Context) (string, error)
	CreateFork(ctx context.Context, owner, repo string) (*tsupgrade.Fork, error)
	Star(ctx context.Context, owner, repo string) error
	CreatePullRequest(ctx context.Context, owner, repo, title, base, head string) (*tsupgrade.PullRequest, error)
}

// CloneOptions narrows a clone to what a run needs.
type CloneOptions struct {
	Branch       string
	SingleBranch bool
	Depth        int
}

// PushOptions controls how a ref is pushed.
type PushOptions struct {
	Force bool
}

// Signature identifies a commit author.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// VCS performs version-control operations on a working copy in dir.
type VCS interface {
	Clone(ctx context.Context, url, dir string, opts CloneOptions) error
	Checkout(ctx context.Context, dir, ref string) error
	// Log returns up to depth commits reachable from ref, most recent first.
	Log(ctx context.Context, dir, ref string, depth int) ([]tsupgrade.Commit, error)
	CreateBranch(ctx context.Context, dir, name string) error
	StageAll(ctx context.Context, dir string) error
	Commit(ctx context.Context, dir string, author Signature, message string) error
	Push(ctx context.Context, dir, remote, ref string, opts PushOptions) error
}

// Transformer rewrites the sources in dir to the target syntax version.
type Transformer interface {
	Upgrade(ctx context.Context, dir, version string) error
}

// RunEvent reports a status change of a run.
type RunEvent struct {
	Owner      string              `json:"owner"`
	Repo       string              `json:"repo"`
	RunID      string              `json:"run_id,omitempty"`
	Status     tsupgrade.RunStatus `json:"status"`
	LastStatus tsupgrade.RunStatus `json:"last_status"`
	Error      string              `json:"error,omitempty"`
	URL        string              `json:"url,omitempty"`
	At         time.Time           `json:"at"`
}

// RunEvents receives run status changes. Delivery is best-effort.
type RunEvents interface {
	Publish(ctx context.Context, ev RunEvent) error
}

package tsupgrade

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidParams  = errors.New("invalid run parameters")
	ErrUnknownVersion = errors.New("unknown target version")
	ErrRunRejected    = errors.New("run rejected by admission policy")
)

// Fixed bot identity and wording for every run.
const (
	BotName          = "ts-upgrade-bot"
	BotEmail         = "ts-upgrade-bot@users.noreply.github.com"
	CommitMessage    = "Upgrade TypeScript syntax"
	PullRequestTitle = "Upgrade TypeScript syntax"
	BranchPrefix     = "ts-upgrade-at-"
)

// --- Run Record ---

// RunRecord is the ledger row for one run, addressed by (Owner, RunID).
type RunRecord struct {
	Owner      string    `json:"owner"`
	RunID      string    `json:"run_id"`
	Repo       string    `json:"repo"`
	Branch     string    `json:"branch"`
	Version    string    `json:"version"`
	Status     RunStatus `json:"status"`
	LastStatus RunStatus `json:"last_status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Clone returns a copy safe to hand out of a store.
func (r *RunRecord) Clone() *RunRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// StatusPatch is a merge update of a record's status columns.
// A nil LastStatus leaves the stored value untouched.
type StatusPatch struct {
	Status     RunStatus
	LastStatus *RunStatus
}

// Reached is the patch written after a step succeeds.
func Reached(s RunStatus) StatusPatch {
	return StatusPatch{Status: s, LastStatus: &s}
}

// Failed is the patch written when a step fails.
func Failed() StatusPatch {
	return StatusPatch{Status: StatusError}
}

// Apply merges the patch into r.
func (p StatusPatch) Apply(r *RunRecord) {
	r.Status = p.Status
	if p.LastStatus != nil {
		r.LastStatus = *p.LastStatus
	}
}

// --- Run Parameters ---

// RunParams is the input of a single run.
type RunParams struct {
	Owner   string `json:"owner"`
	Repo    string `json:"repo"`
	Branch  string `json:"branch,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	Version string `json:"version,omitempty"`
}

// Normalize trims the fields and fills in the branch and version defaults.
func (p RunParams) Normalize(defaultBranch string) RunParams {
	p.Owner = strings.TrimSpace(p.Owner)
	p.Repo = strings.TrimSpace(p.Repo)
	p.Branch = strings.TrimSpace(p.Branch)
	p.RunID = strings.TrimSpace(p.RunID)
	p.Version = strings.TrimSpace(p.Version)
	if p.Branch == "" {
		p.Branch = defaultBranch
	}
	if p.Version == "" {
		p.Version = VersionLatest
	}
	return p
}

// Validate checks the fields every run needs.
func (p RunParams) Validate() error {
	if p.Owner == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidParams)
	}
	if p.Repo == "" {
		return fmt.Errorf("%w: repo is required", ErrInvalidParams)
	}
	if p.Branch == "" {
		return fmt.Errorf("%w: branch is required", ErrInvalidParams)
	}
	if strings.ContainsAny(p.Owner+p.Repo, "/ ") {
		return fmt.Errorf("%w: owner and repo must be single path segments", ErrInvalidParams)
	}
	return nil
}

// Persistent reports whether the run writes to the ledger.
func (p RunParams) Persistent() bool {
	return p.RunID != ""
}

// NewRecord builds the record written when a run starts.
func (p RunParams) NewRecord(now time.Time) *RunRecord {
	return &RunRecord{
		Owner:      p.Owner,
		RunID:      p.RunID,
		Repo:       p.Repo,
		Branch:     p.Branch,
		Version:    p.Version,
		Status:     StatusAuth,
		LastStatus: StatusAuth,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// --- Source host values ---

// Fork describes the bot's fork of the target repository.
type Fork struct {
	Owner    string `json:"owner"`
	CloneURL string `json:"clone_url"`
	HTMLURL  string `json:"html_url"`
}

// PullRequest is the result of a successful run.
type PullRequest struct {
	URL    string `json:"url"`
	Number int    `json:"number"`
	Head   string `json:"head"`
	Base   string `json:"base"`
}

// Commit is one entry of a repository log.
type Commit struct {
	Hash     string `json:"hash"`
	TreeHash string `json:"tree_hash"`
}

// WorkingBranch names the branch that holds the transformed sources. It only
// depends on the source tree, so reruns against the same tree reuse the name.
func WorkingBranch(treeHash string) (string, error) {
	treeHash = strings.TrimSpace(treeHash)
	if len(treeHash) < 8 {
		return "", fmt.Errorf("tree hash %q too short", treeHash)
	}
	return BranchPrefix + treeHash[:8], nil
}

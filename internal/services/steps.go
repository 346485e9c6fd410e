package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/soochol/tsupgrade/internal/tsupgrade"
	"github.com/soochol/tsupgrade/internal/tsupgrade/ports"
)

const (
	remoteName = "origin"
	cloneDepth = 1
)

// Step is one stage of a run. Status is recorded once Action succeeds.
// Retry classifies errors worth another attempt; nil means no retries.
type Step struct {
	Status tsupgrade.RunStatus
	Action func(ctx context.Context) error
	Retry  func(error) bool
}

// Name is the lowercase status name, used in logs, spans and errors.
func (s Step) Name() string {
	return strings.ToLower(s.Status.String())
}

// runState carries values produced by earlier steps to later ones.
type runState struct {
	params tsupgrade.RunParams
	login  string
	dir    string

	fork          *tsupgrade.Fork
	workingBranch string
	pullRequest   *tsupgrade.PullRequest
}

// steps returns the run's stages in the order of their statuses.
func (s *RunService) steps(st *runState) []Step {
	p := st.params
	return []Step{
		{Status: tsupgrade.StatusFork, Action: func(ctx context.Context) error {
			fork, err := s.host.CreateFork(ctx, p.Owner, p.Repo)
			if err != nil {
				return err
			}
			if fork == nil || fork.CloneURL == "" {
				return fmt.Errorf("fork of %s/%s has no clone url", p.Owner, p.Repo)
			}
			st.fork = fork
			return nil
		}, Retry: isRetryable},
		{Status: tsupgrade.StatusClone, Action: func(ctx context.Context) error {
			return s.vcs.Clone(ctx, st.fork.CloneURL, st.dir, ports.CloneOptions{
				Branch:       p.Branch,
				SingleBranch: true,
				Depth:        cloneDepth,
			})
		}, Retry: isCloneRetryable},
		{Status: tsupgrade.StatusBranch, Action: func(ctx context.Context) error {
			commits, err := s.vcs.Log(ctx, st.dir, p.Branch, 1)
			if err != nil {
				return err
			}
			if len(commits) == 0 {
				return fmt.Errorf("branch %s has no commits", p.Branch)
			}
			name, err := tsupgrade.WorkingBranch(commits[0].TreeHash)
			if err != nil {
				return err
			}
			if err := s.vcs.CreateBranch(ctx, st.dir, name); err != nil {
				return err
			}
			st.workingBranch = name
			return nil
		}},
		{Status: tsupgrade.StatusCheckout, Action: func(ctx context.Context) error {
			return s.vcs.Checkout(ctx, st.dir, st.workingBranch)
		}},
		{Status: tsupgrade.StatusUpgrade, Action: func(ctx context.Context) error {
			return s.transformer.Upgrade(ctx, st.dir, p.Version)
		}},
		{Status: tsupgrade.StatusAdd, Action: func(ctx context.Context) error {
			return s.vcs.StageAll(ctx, st.dir)
		}},
		{Status: tsupgrade.StatusCommit, Action: func(ctx context.Context) error {
			author := ports.Signature{Name: tsupgrade.BotName, Email: tsupgrade.BotEmail, When: s.now()}
			return s.vcs.Commit(ctx, st.dir, author, tsupgrade.CommitMessage)
		}},
		{Status: tsupgrade.StatusPush, Action: func(ctx context.Context) error {
			return s.vcs.Push(ctx, st.dir, remoteName, st.workingBranch, ports.PushOptions{Force: true})
		}, Retry: isRetryable},
		{Status: tsupgrade.StatusStar, Action: func(ctx context.Context) error {
			return s.host.Star(ctx, p.Owner, p.Repo)
		}, Retry: isRetryable},
		{Status: tsupgrade.StatusPullRequest, Action: func(ctx context.Context) error {
			head := st.login + ":" + st.workingBranch
			pr, err := s.host.CreatePullRequest(ctx, p.Owner, p.Repo, tsupgrade.PullRequestTitle, p.Branch, head)
			if err != nil {
				return err
			}
			if pr == nil {
				return fmt.Errorf("source host returned no pull request")
			}
			st.pullRequest = pr
			return nil
		}},
	}
}

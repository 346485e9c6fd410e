// Package gitops implements version-control operations on working copies
// with go-git, authenticating over HTTPS with the bot's token.
package gitops

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/soochol/tsupgrade/internal/tsupgrade"
	"github.com/soochol/tsupgrade/internal/tsupgrade/ports"
)

var _ ports.VCS = (*Client)(nil)

// Client runs git operations in local directories.
type Client struct {
	auth transport.AuthMethod
}

// New creates a Client. A non-empty token is sent as HTTP basic auth, the
// form GitHub accepts for installation and personal access tokens.
func New(token string) *Client {
	c := &Client{}
	if token != "" {
		c.auth = &githttp.BasicAuth{Username: "x-access-token", Password: token}
	}
	return c
}

func (c *Client) Clone(ctx context.Context, url, dir string, opts ports.CloneOptions) error {
	co := &git.CloneOptions{
		URL:          url,
		Auth:         c.auth,
		SingleBranch: opts.SingleBranch,
		Depth:        opts.Depth,
		Tags:         git.NoTags,
	}
	if opts.Branch != "" {
		co.ReferenceName = plumbing.NewBranchReferenceName(opts.Branch)
	}
	if _, err := git.PlainCloneContext(ctx, dir, false, co); err != nil {
		return fmt.Errorf("clone %s: %w", url, err)
	}
	return nil
}

func (c *Client) Checkout(ctx context.Context, dir, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, wt, err := open(dir)
	if err != nil {
		return err
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(ref)}); err != nil {
		return fmt.Errorf("checkout %s: %w", ref, err)
	}
	return nil
}

func (c *Client) Log(ctx context.Context, dir, ref string, depth int) ([]tsupgrade.Commit, error) {
	repo, _, err := open(dir)
	if err != nil {
		return nil, err
	}
	from, err := resolve(repo, ref)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: from})
	if err != nil {
		return nil, fmt.Errorf("log %s: %w", ref, err)
	}
	defer iter.Close()

	var out []tsupgrade.Commit
	for depth <= 0 || len(out) < depth {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		commit, err := iter.Next()
		if err != nil {
			break
		}
		out = append(out, tsupgrade.Commit{Hash: commit.Hash.String(), TreeHash: commit.TreeHash.String()})
	}
	return out, nil
}

func (c *Client) CreateBranch(ctx context.Context, dir, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	repo, _, err := open(dir)
	if err != nil {
		return err
	}
	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("resolve HEAD: %w", err)
	}
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), head.Hash())
	if err := repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	return nil
}

// StageAll stages every modified, added and deleted file.
func (c *Client) StageAll(ctx context.Context, dir string) error {
	_, wt, err := open(dir)
	if err != nil {
		return err
	}
	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	for path, st := range status {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch st.Worktree {
		case git.Unmodified:
			continue
		case git.Deleted:
			_, err = wt.Remove(path)
		default:
			_, err = wt.Add(path)
		}
		if err != nil {
			return fmt.Errorf("stage %s: %w", path, err)
		}
	}
	return nil
}

func (c *Client) Commit(ctx context.Context, dir string, author ports.Signature, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, wt, err := open(dir)
	if err != nil {
		return err
	}
	sig := &object.Signature{Name: author.Name, Email: author.Email, When: author.When}
	if _, err := wt.Commit(message, &git.CommitOptions{
		Author:            sig,
		Committer:         sig,
		AllowEmptyCommits: true,
	}); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Push updates ref on remote. With Force the remote branch is overwritten
// whatever it pointed at before.
func (c *Client) Push(ctx context.Context, dir, remote, ref string, opts ports.PushOptions) error {
	repo, _, err := open(dir)
	if err != nil {
		return err
	}
	spec := fmt.Sprintf("refs/heads/%[1]s:refs/heads/%[1]s", ref)
	if opts.Force {
		spec = "+" + spec
	}
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remote,
		RefSpecs:   []config.RefSpec{config.RefSpec(spec)},
		Auth:       c.auth,
		Force:      opts.Force,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("push %s to %s: %w", ref, remote, err)
	}
	return nil
}

func open(dir string) (*git.Repository, *git.Worktree, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, nil, fmt.Errorf("open worktree: %w", err)
	}
	return repo, wt, nil
}

// resolve turns a branch name, "HEAD" or any revision into a commit hash.
func resolve(repo *git.Repository, ref string) (plumbing.Hash, error) {
	if ref == "" || ref == "HEAD" {
		head, err := repo.Head()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("resolve HEAD: %w", err)
		}
		return head.Hash(), nil
	}
	if r, err := repo.Reference(plumbing.NewBranchReferenceName(ref), true); err == nil {
		return r.Hash(), nil
	}
	h, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve %s: %w", ref, err)
	}
	return *h, nil
}

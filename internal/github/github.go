// Package github implements the source host on the GitHub REST API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	gh "github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/soochol/tsupgrade/internal/tsupgrade"
	"github.com/soochol/tsupgrade/internal/tsupgrade/ports"
)

var _ ports.SourceHost = (*Host)(nil)

// Host talks to GitHub as the bot account.
type Host struct {
	client *gh.Client

	mu    sync.Mutex
	login string
}

// Options configures a Host.
type Options struct {
	Token   string
	Login   string // skips the lookup of the authenticated user
	BaseURL string // API root for GitHub Enterprise, e.g. https://ghe.example.com/api/v3/
}

// New creates a Host authenticating every request with the bearer token.
func New(ctx context.Context, opts Options) (*Host, error) {
	var httpClient *http.Client
	if opts.Token != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}))
	}
	client := gh.NewClient(httpClient)
	if opts.BaseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		client.BaseURL = base
	}
	return &Host{client: client, login: opts.Login}, nil
}

// Login returns the bot's account name, looking it up once.
func (h *Host) Login(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.login != "" {
		return h.login, nil
	}
	user, _, err := h.client.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("get authenticated user: %w", err)
	}
	h.login = user.GetLogin()
	return h.login, nil
}

// CreateFork forks owner/repo into the bot's account. GitHub creates forks
// asynchronously and answers 202; the fork's URLs are already valid then.
func (h *Host) CreateFork(ctx context.Context, owner, repo string) (*tsupgrade.Fork, error) {
	fork, _, err := h.client.Repositories.CreateFork(ctx, owner, repo, &gh.RepositoryCreateForkOptions{})
	var accepted *gh.AcceptedError
	if err != nil && !errors.As(err, &accepted) {
		return nil, fmt.Errorf("fork %s/%s: %w", owner, repo, err)
	}
	if fork == nil {
		return nil, fmt.Errorf("fork %s/%s: empty response", owner, repo)
	}
	return &tsupgrade.Fork{
		Owner:    fork.GetOwner().GetLogin(),
		CloneURL: fork.GetCloneURL(),
		HTMLURL:  fork.GetHTMLURL(),
	}, nil
}

func (h *Host) Star(ctx context.Context, owner, repo string) error {
	if _, err := h.client.Activity.Star(ctx, owner, repo); err != nil {
		return fmt.Errorf("star %s/%s: %w", owner, repo, err)
	}
	return nil
}

func (h *Host) CreatePullRequest(ctx context.Context, owner, repo, title, base, head string) (*tsupgrade.PullRequest, error) {
	pr, _, err := h.client.PullRequests.Create(ctx, owner, repo, &gh.NewPullRequest{
		Title: gh.String(title),
		Base:  gh.String(base),
		Head:  gh.String(head),
	})
	if err != nil {
		return nil, fmt.Errorf("open pull request on %s/%s: %w", owner, repo, err)
	}
	return &tsupgrade.PullRequest{
		URL:    pr.GetHTMLURL(),
		Number: pr.GetNumber(),
		Head:   head,
		Base:   base,
	}, nil
}

package services

import (
	"context"
	"sync"
	"sync/atomic"
)

// ConcurrencyLimits bounds simultaneous runs. Zero disables a limit.
type ConcurrencyLimits struct {
	GlobalMax  int `json:"global_max"`
	PerRepoMax int `json:"per_repo_max"`
}

// ConcurrencyLimiter controls how many runs can execute simultaneously.
// It uses channel-based counting semaphores at two levels: global and
// per-repository.
type ConcurrencyLimiter struct {
	global      chan struct{}
	perRepo     map[string]*repoSlots
	mu          sync.Mutex
	limits      ConcurrencyLimits
	activeCount atomic.Int64
}

type repoSlots struct {
	ch    chan struct{}
	users int
}

// NewConcurrencyLimiter creates a limiter with the given limits.
func NewConcurrencyLimiter(limits ConcurrencyLimits) *ConcurrencyLimiter {
	c := &ConcurrencyLimiter{
		perRepo: make(map[string]*repoSlots),
		limits:  limits,
	}
	if limits.GlobalMax > 0 {
		c.global = make(chan struct{}, limits.GlobalMax)
	}
	return c
}

// Acquire blocks until both global and per-repository slots are available,
// or returns an error if the context is cancelled.
func (c *ConcurrencyLimiter) Acquire(ctx context.Context, repoKey string) error {
	if c.global != nil {
		select {
		case c.global <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if c.limits.PerRepoMax > 0 {
		slots := c.join(repoKey)
		select {
		case slots.ch <- struct{}{}:
		case <-ctx.Done():
			c.leave(repoKey)
			c.releaseGlobal()
			return ctx.Err()
		}
	}

	c.activeCount.Add(1)
	return nil
}

// Release returns both the global and per-repository slots.
func (c *ConcurrencyLimiter) Release(repoKey string) {
	c.activeCount.Add(-1)

	if c.limits.PerRepoMax > 0 {
		c.mu.Lock()
		if slots, ok := c.perRepo[repoKey]; ok {
			select {
			case <-slots.ch:
			default:
			}
		}
		c.mu.Unlock()
		c.leave(repoKey)
	}

	c.releaseGlobal()
}

func (c *ConcurrencyLimiter) releaseGlobal() {
	if c.global == nil {
		return
	}
	select {
	case <-c.global:
	default:
	}
}

// ConcurrencyStats reports current usage.
type ConcurrencyStats struct {
	ActiveRuns int `json:"active_runs"`
	GlobalMax  int `json:"global_max"`
	PerRepoMax int `json:"per_repo_max"`
	Repos      int `json:"repos"`
}

// Stats returns the current concurrency statistics.
func (c *ConcurrencyLimiter) Stats() ConcurrencyStats {
	c.mu.Lock()
	repos := len(c.perRepo)
	c.mu.Unlock()
	return ConcurrencyStats{
		ActiveRuns: int(c.activeCount.Load()),
		GlobalMax:  c.limits.GlobalMax,
		PerRepoMax: c.limits.PerRepoMax,
		Repos:      repos,
	}
}

// join registers interest in a repository's slots so they outlive waiters.
func (c *ConcurrencyLimiter) join(key string) *repoSlots {
	c.mu.Lock()
	defer c.mu.Unlock()

	slots, ok := c.perRepo[key]
	if !ok {
		slots = &repoSlots{ch: make(chan struct{}, c.limits.PerRepoMax)}
		c.perRepo[key] = slots
	}
	slots.users++
	return slots
}

func (c *ConcurrencyLimiter) leave(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slots, ok := c.perRepo[key]
	if !ok {
		return
	}
	slots.users--
	if slots.users <= 0 {
		delete(c.perRepo, key)
	}
}

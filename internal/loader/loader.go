// Package loader resolves a repository snapshot from the cache, the remote
// backend or a fresh ingest, in that order.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/thiagokokada/gitodyssey/internal/cache"
	"github.com/thiagokokada/gitodyssey/internal/metrics"
	"github.com/thiagokokada/gitodyssey/internal/repo"
)

const (
	DefaultMaxCommits   = 50
	DefaultContextLines = 3
)

type State int

const (
	Idle State = iota
	CacheCheck
	CacheHit
	Fetching
	Found
	NotFound
	Ingesting
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CacheCheck:
		return "cache-check"
	case CacheHit:
		return "cache-hit"
	case Fetching:
		return "fetching"
	case Found:
		return "found"
	case NotFound:
		return "not-found"
	case Ingesting:
		return "ingesting"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Fetcher reads a repository the backend already knows. It returns an error
// wrapping repo.ErrNotFound for unknown repositories.
type Fetcher interface {
	GetRepo(ctx context.Context, owner, name string) (repo.Snapshot, error)
}

// Ingester clones and analyses a repository.
type Ingester interface {
	Ingest(ctx context.Context, url string, maxCommits, contextLines int) (repo.Snapshot, error)
}

// Error is a failed load cycle. State is the step that failed.
type Error struct {
	Key   string
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("load %s: %s: %v", e.Key, e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Result struct {
	Key      string
	Commits  []repo.Commit
	Branches []repo.Branch
	// State is the terminal state: CacheHit, Found or Done.
	State State
}

// Empty reports whether the result holds no commits.
func (r Result) Empty() bool {
	return len(r.Commits) == 0
}

type Options struct {
	MaxCommits   int `yaml:"max_commits"`
	ContextLines int `yaml:"context_lines"`
}

func DefaultOptions() Options {
	return Options{MaxCommits: DefaultMaxCommits, ContextLines: DefaultContextLines}
}

type Loader struct {
	cache    *cache.RepoCache
	fetcher  Fetcher
	ingester Ingester
	opts     Options
	observer func(key string, state State)

	group singleflight.Group

	mu      sync.Mutex
	states  map[string]State
	mounted map[string]struct{}
}

type Option func(*Loader)

func WithOptions(opts Options) Option {
	return func(l *Loader) {
		if opts.MaxCommits > 0 {
			l.opts.MaxCommits = opts.MaxCommits
		}
		if opts.ContextLines >= 0 {
			l.opts.ContextLines = opts.ContextLines
		}
	}
}

// WithObserver registers fn to be called on every state transition.
func WithObserver(fn func(key string, state State)) Option {
	return func(l *Loader) {
		l.observer = fn
	}
}

func New(c *cache.RepoCache, fetcher Fetcher, ingester Ingester, opts ...Option) *Loader {
	l := &Loader{
		cache:    c,
		fetcher:  fetcher,
		ingester: ingester,
		opts:     DefaultOptions(),
		states:   map[string]State{},
		mounted:  map[string]struct{}{},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// State returns the last state recorded for key.
func (l *Loader) State(key string) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.states[key]
}

// Load runs one cycle for owner/name. Concurrent calls for the same key share
// a single cycle.
func (l *Loader) Load(ctx context.Context, owner, name string) (Result, error) {
	return l.do(ctx, owner, name, false)
}

// Refresh runs a cycle that skips the cache check.
func (l *Loader) Refresh(ctx context.Context, owner, name string) (Result, error) {
	return l.do(ctx, owner, name, true)
}

// Mount loads owner/name unless it is already mounted. The second return is
// false when the call was a duplicate and nothing was loaded.
func (l *Loader) Mount(ctx context.Context, owner, name string) (Result, bool, error) {
	key := repo.Key(owner, name)
	l.mu.Lock()
	if _, ok := l.mounted[key]; ok {
		l.mu.Unlock()
		return Result{Key: key}, false, nil
	}
	l.mounted[key] = struct{}{}
	l.mu.Unlock()
	res, err := l.Load(ctx, owner, name)
	return res, true, err
}

// Unmount releases the mount guard of key.
func (l *Loader) Unmount(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.mounted, key)
}

func (l *Loader) do(ctx context.Context, owner, name string, force bool) (Result, error) {
	key := repo.Key(owner, name)
	flight := key
	if force {
		flight = "refresh:" + key
	}
	v, err, shared := l.group.Do(flight, func() (any, error) {
		return l.cycle(ctx, key, owner, name, force)
	})
	if shared {
		slog.Debug("load shared in-flight cycle", slog.String("key", key))
	}
	res, _ := v.(Result)
	return res, err
}

func (l *Loader) cycle(ctx context.Context, key, owner, name string, force bool) (res Result, err error) {
	start := time.Now()
	res = Result{Key: key}
	defer func() {
		outcome := "failed"
		switch {
		case err != nil:
		case res.State == CacheHit:
			outcome = "cache_hit"
		case res.State == Found:
			outcome = "found"
		default:
			outcome = "ingested"
		}
		metrics.LoaderCycles.WithLabelValues(outcome).Inc()
		metrics.ObserveSince(metrics.LoaderDuration.WithLabelValues(outcome), start)
	}()

	if !force {
		l.transition(key, CacheCheck)
		if cached, ok := l.cache.Get(key); ok && l.cache.IsValid(cached) {
			l.transition(key, CacheHit)
			res.Commits, res.Branches, res.State = cached.Commits, cached.Branches, CacheHit
			return res, nil
		}
	}

	l.transition(key, Fetching)
	snap, err := l.fetcher.GetRepo(ctx, owner, name)
	switch {
	case err == nil && len(snap.Commits) > 0:
		l.transition(key, Found)
		l.store(key, snap)
		res.Commits, res.Branches, res.State = snap.Commits, snap.Branches, Found
		return res, nil
	case err != nil && !errors.Is(err, repo.ErrNotFound):
		return res, l.fail(key, Fetching, err)
	}

	l.transition(key, NotFound)
	l.transition(key, Ingesting)
	snap, err = l.ingester.Ingest(ctx, repo.GitHubURL(owner, name), l.opts.MaxCommits, l.opts.ContextLines)
	if err != nil {
		return res, l.fail(key, Ingesting, err)
	}
	l.store(key, snap)
	l.transition(key, Done)
	res.Commits, res.Branches, res.State = snap.Commits, snap.Branches, Done
	return res, nil
}

// store writes snap to the cache. Empty snapshots are not cached.
func (l *Loader) store(key string, snap repo.Snapshot) {
	if len(snap.Commits) == 0 {
		slog.Debug("not caching empty repository", slog.String("key", key))
		return
	}
	l.cache.Set(key, l.cache.Stamp(snap.Commits, snap.Branches))
}

func (l *Loader) fail(key string, at State, err error) error {
	l.transition(key, Failed)
	slog.Error("repository load failed",
		slog.String("key", key),
		slog.String("state", at.String()),
		slog.Any("error", err))
	return &Error{Key: key, State: at, Err: err}
}

func (l *Loader) transition(key string, state State) {
	l.mu.Lock()
	l.states[key] = state
	fn := l.observer
	l.mu.Unlock()
	slog.Debug("loader transition", slog.String("key", key), slog.String("state", state.String()))
	if fn != nil {
		fn(key, state)
	}
}

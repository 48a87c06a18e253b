package git

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thiagokokada/gitodyssey/internal/repo"
)

// Ingester clones repositories into memory and reads their history. It
// stands in for the backend's ingest endpoint.
type Ingester struct {
	MaxBranches int
	clone       func(ctx context.Context, url string, opts CloneOptions) (*Service, error)
}

func NewIngester(maxBranches int) *Ingester {
	return &Ingester{MaxBranches: maxBranches, clone: Clone}
}

func (i *Ingester) Ingest(ctx context.Context, url string, maxCommits, contextLines int) (repo.Snapshot, error) {
	svc, err := i.clone(ctx, url, CloneOptions{})
	if err != nil {
		return repo.Snapshot{}, err
	}
	snap, err := svc.Snapshot(ctx, SnapshotOptions{
		MaxCommits:   maxCommits,
		MaxBranches:  i.MaxBranches,
		WithChanges:  true,
		ContextLines: contextLines,
	})
	if err != nil {
		return repo.Snapshot{}, fmt.Errorf("ingest %s: %w", url, err)
	}
	slog.Info("ingested repository", slog.String("url", url), slog.Int("commits", len(snap.Commits)))
	return snap, nil
}

// LocalFetcher serves a repository on disk regardless of the owner and
// name asked for.
type LocalFetcher struct {
	svc  *Service
	opts SnapshotOptions
}

func NewLocalFetcher(svc *Service, opts SnapshotOptions) *LocalFetcher {
	opts.WithChanges = true
	return &LocalFetcher{svc: svc, opts: opts}
}

func (f *LocalFetcher) GetRepo(ctx context.Context, owner, name string) (repo.Snapshot, error) {
	slog.Debug("reading local repository",
		slog.String("path", f.svc.RepoPath()),
		slog.String("key", repo.Key(owner, name)),
	)
	return f.svc.Snapshot(ctx, f.opts)
}

// Ingest reads the repository on disk with the given limits. The url is
// ignored.
func (f *LocalFetcher) Ingest(ctx context.Context, _ string, maxCommits, contextLines int) (repo.Snapshot, error) {
	opts := f.opts
	opts.MaxCommits = maxCommits
	opts.ContextLines = contextLines
	return f.svc.Snapshot(ctx, opts)
}

// NoFetcher reports every repository as unknown, so loads always ingest.
type NoFetcher struct{}

func (NoFetcher) GetRepo(_ context.Context, owner, name string) (repo.Snapshot, error) {
	return repo.Snapshot{}, fmt.Errorf("%s: %w", repo.Key(owner, name), repo.ErrNotFound)
}

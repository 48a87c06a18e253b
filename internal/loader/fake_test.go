package loader

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/thiagokokada/gitodyssey/internal/repo"
)

type fakeRemote struct {
	getRepoFunc func(ctx context.Context, owner, name string) (repo.Snapshot, error)
	ingestFunc  func(ctx context.Context, url string, maxCommits, contextLines int) (repo.Snapshot, error)

	getCalls    atomic.Int32
	ingestCalls atomic.Int32

	lastURL          string
	lastMaxCommits   int
	lastContextLines int
}

func (f *fakeRemote) GetRepo(ctx context.Context, owner, name string) (repo.Snapshot, error) {
	f.getCalls.Add(1)
	if f.getRepoFunc != nil {
		return f.getRepoFunc(ctx, owner, name)
	}
	return repo.Snapshot{}, errors.New("unexpected GetRepo call")
}

func (f *fakeRemote) Ingest(ctx context.Context, url string, maxCommits, contextLines int) (repo.Snapshot, error) {
	f.ingestCalls.Add(1)
	f.lastURL = url
	f.lastMaxCommits = maxCommits
	f.lastContextLines = contextLines
	if f.ingestFunc != nil {
		return f.ingestFunc(ctx, url, maxCommits, contextLines)
	}
	return repo.Snapshot{}, errors.New("unexpected Ingest call")
}

package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thiagokokada/gitodyssey/internal/repo"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func ptr[T any](v T) *T { return &v }

func sampleData(ts int64) Data {
	return Data{
		Commits: []repo.Commit{
			{
				SHA:     "a",
				Message: "feat: widgets",
				Author:  ptr("Ada"),
				Time:    1700000000,
				Parents: []string{"b"},
				Summary: ptr("adds widgets"),
				FileChanges: []repo.FileChange{
					{NewPath: "widgets.go", Status: "added"},
				},
			},
			{SHA: "b", Message: "init", Time: 1690000000, Parents: []string{}},
		},
		Branches:  []repo.Branch{{Name: "main", Commits: []string{"a", "b"}}},
		Timestamp: ts,
	}
}

func newTestCache(t *testing.T, store Store, opts ...Option) (*RepoCache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(store, opts...), clock
}

func TestIsValid(t *testing.T) {
	c, clock := newTestCache(t, NewMemoryStore(0))
	now := clock.now.UnixMilli()

	assert.True(t, c.IsValid(&Data{Timestamp: now}))
	assert.False(t, c.IsValid(&Data{Timestamp: now - (6 * time.Minute).Milliseconds()}))
	assert.False(t, c.IsValid(&Data{Timestamp: now - DefaultTTL.Milliseconds()}))
	assert.True(t, c.IsValid(&Data{Timestamp: now - DefaultTTL.Milliseconds() + 1}))
	assert.False(t, c.IsValid(nil))
}

func TestRoundTripReducedProjection(t *testing.T) {
	store := NewMemoryStore(0)
	c, clock := newTestCache(t, store)
	data := sampleData(clock.now.UnixMilli())

	c.Set("acme/widgets", data)
	got, ok := c.Get("acme/widgets")
	require.True(t, ok)
	require.Len(t, got.Commits, len(data.Commits))

	for i, want := range data.Commits {
		commit := got.Commits[i]
		assert.Equal(t, want.SHA, commit.SHA)
		assert.Equal(t, want.Message, commit.Message)
		assert.Equal(t, want.Time, commit.Time)
		assert.Equal(t, want.Parents, commit.Parents)
		assert.Equal(t, "", commit.AuthorName())
		assert.Equal(t, "", commit.SummaryText())
		assert.Empty(t, commit.FileChanges)
	}
	assert.Equal(t, data.Branches, got.Branches)
	assert.Equal(t, data.Timestamp, got.Timestamp)

	_, err := store.Get(Prefix + "acme/widgets")
	require.NoError(t, err)
}

func TestSetSupersedesPreviousEntry(t *testing.T) {
	c, clock := newTestCache(t, NewMemoryStore(0))
	c.Set("k", sampleData(1))
	second := sampleData(clock.now.UnixMilli())
	second.Commits = second.Commits[:1]
	c.Set("k", second)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Len(t, got.Commits, 1)
	assert.Equal(t, second.Timestamp, got.Timestamp)
}

func TestGetMissing(t *testing.T) {
	c, _ := newTestCache(t, NewMemoryStore(0))
	got, ok := c.Get("nope")
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.False(t, c.Stats().MemoryOnly)
}

func TestWriteFailureDemotesAndPurges(t *testing.T) {
	store := NewMemoryStore(0)
	store.Put(Prefix+"old/one", []byte(`{"timestamp":1,"commits":[],"branches":[]}`))
	store.Put("unrelated", []byte("keep"))
	mode := &Mode{}
	failing := &failingSetStore{MemoryStore: store, err: ErrQuotaExceeded}
	c, clock := newTestCache(t, failing, WithMode(mode))

	data := sampleData(clock.now.UnixMilli())
	c.Set("acme/widgets", data)

	assert.True(t, mode.MemoryOnly())
	got, ok := c.Get("acme/widgets")
	require.True(t, ok)
	assert.Equal(t, "Ada", got.Commits[0].AuthorName(), "memory tier keeps the full data")
	assert.Len(t, got.Commits[0].FileChanges, 1)

	keys, err := store.Keys(Prefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
	_, err = store.Get("unrelated")
	assert.NoError(t, err)

	// Memory-only mode never writes to the persistent tier again.
	failing.err = nil
	c.Set("acme/other", data)
	keys, err = store.Keys(Prefix)
	require.NoError(t, err)
	assert.Empty(t, keys)

	stats := c.Stats()
	assert.Equal(t, Stats{MemorySize: 2, PersistentSize: 0, MemoryOnly: true}, stats)
}

func TestReadFailureDemotes(t *testing.T) {
	store := NewMemoryStore(0)
	store.Put(Prefix+"acme/widgets", []byte("{not json"))
	mode := &Mode{}
	c, _ := newTestCache(t, store, WithMode(mode))

	got, ok := c.Get("acme/widgets")
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.True(t, mode.MemoryOnly())
}

func TestSharedModeDemotesEveryCache(t *testing.T) {
	mode := &Mode{}
	store := NewMemoryStore(0)
	first, _ := newTestCache(t, store, WithMode(mode))
	second, clock := newTestCache(t, store, WithMode(mode))

	store.FailWith(errors.New("disk full"))
	first.Set("a/b", sampleData(1))
	store.FailWith(nil)

	second.Set("c/d", sampleData(clock.now.UnixMilli()))
	keys, err := store.Keys(Prefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.True(t, second.Stats().MemoryOnly)
}

func TestQuotaExceededDemotes(t *testing.T) {
	store := NewMemoryStore(16)
	c, clock := newTestCache(t, store)
	c.Set("acme/widgets", sampleData(clock.now.UnixMilli()))
	assert.True(t, c.Stats().MemoryOnly)
	_, ok := c.Get("acme/widgets")
	assert.True(t, ok)
}

func TestClear(t *testing.T) {
	store := NewMemoryStore(0)
	c, clock := newTestCache(t, store)
	now := clock.now.UnixMilli()
	c.Set("a/one", sampleData(now))
	c.Set("a/two", sampleData(now))
	store.Put("other", []byte("x"))

	c.Clear("a/one")
	_, ok := c.Get("a/one")
	assert.False(t, ok)
	_, ok = c.Get("a/two")
	assert.True(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Stats().PersistentSize)
	assert.Equal(t, 1, store.Len())
}

func TestNilStoreIsMemoryOnly(t *testing.T) {
	c, clock := newTestCache(t, nil)
	c.Set("a/b", sampleData(clock.now.UnixMilli()))
	got, ok := c.Get("a/b")
	require.True(t, ok)
	assert.Equal(t, "Ada", got.Commits[0].AuthorName())
	assert.Equal(t, []string{"a/b"}, c.Keys())
	c.Clear()
	assert.Equal(t, 0, c.Stats().MemorySize)
}

type failingSetStore struct {
	*MemoryStore
	err error
}

func (s *failingSetStore) Set(key string, value []byte) error {
	if s.err != nil {
		return s.err
	}
	return s.MemoryStore.Set(key, value)
}

// Package cache is the two-tier repository snapshot cache. The persistent
// tier keeps a reduced projection of commits and branches; the memory tier
// takes over for the rest of the process after the first storage failure.
package cache

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thiagokokada/gitodyssey/internal/metrics"
	"github.com/thiagokokada/gitodyssey/internal/repo"
)

const (
	Prefix     = "git-odyssey-repo-cache:"
	DefaultTTL = 5 * time.Minute
)

const (
	tierPersistent = "persistent"
	tierMemory     = "memory"
)

// Data is one cached repository snapshot. Timestamp is in unix milliseconds.
type Data struct {
	Commits   []repo.Commit `json:"commits"`
	Branches  []repo.Branch `json:"branches"`
	Timestamp int64         `json:"timestamp"`
}

type compressedCommit struct {
	SHA     string   `json:"sha"`
	Message string   `json:"message"`
	Time    int64    `json:"time"`
	Parents []string `json:"parents"`
}

type compressedBranch struct {
	Name    string   `json:"name"`
	Commits []string `json:"commits"`
}

type compressedData struct {
	Timestamp int64              `json:"timestamp"`
	Commits   []compressedCommit `json:"commits"`
	Branches  []compressedBranch `json:"branches"`
}

// Mode records whether the process has fallen back to memory-only caching.
// Share one Mode between caches that use the same persistent store.
type Mode struct {
	memoryOnly atomic.Bool
}

func (m *Mode) MemoryOnly() bool {
	return m.memoryOnly.Load()
}

// Demote switches to memory-only mode. It reports whether this call did the
// switch.
func (m *Mode) Demote() bool {
	return m.memoryOnly.CompareAndSwap(false, true)
}

type Stats struct {
	MemorySize     int  `json:"memorySize"`
	PersistentSize int  `json:"persistentSize"`
	MemoryOnly     bool `json:"useMemoryCache"`
}

type RepoCache struct {
	store Store
	mode  *Mode
	ttl   time.Duration
	now   func() time.Time

	mu     sync.Mutex
	memory map[string]Data
}

type Option func(*RepoCache)

func WithMode(m *Mode) Option {
	return func(c *RepoCache) {
		if m != nil {
			c.mode = m
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(c *RepoCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *RepoCache) {
		if now != nil {
			c.now = now
		}
	}
}

// New returns a cache on store. A nil store starts in memory-only mode.
func New(store Store, opts ...Option) *RepoCache {
	c := &RepoCache{
		store:  store,
		mode:   &Mode{},
		ttl:    DefaultTTL,
		now:    time.Now,
		memory: map[string]Data{},
	}
	for _, o := range opts {
		o(c)
	}
	if c.store == nil {
		c.mode.Demote()
	}
	return c
}

// Stamp wraps commits and branches with the current time.
func (c *RepoCache) Stamp(commits []repo.Commit, branches []repo.Branch) Data {
	return Data{Commits: commits, Branches: branches, Timestamp: c.now().UnixMilli()}
}

// IsValid reports whether data is younger than the TTL.
func (c *RepoCache) IsValid(data *Data) bool {
	if data == nil {
		return false
	}
	return c.now().UnixMilli()-data.Timestamp < c.ttl.Milliseconds()
}

// Get returns the entry for key. Entries read from the persistent tier are
// the reduced projection: no author, file changes or summary.
func (c *RepoCache) Get(key string) (*Data, bool) {
	if c.mode.MemoryOnly() {
		return c.memoryGet(key)
	}
	raw, err := c.store.Get(Prefix + key)
	if errors.Is(err, ErrNotExist) {
		metrics.CacheLookups.WithLabelValues(tierPersistent, "miss").Inc()
		return nil, false
	}
	var stored compressedData
	if err == nil {
		err = json.Unmarshal(raw, &stored)
	}
	if err != nil {
		metrics.CacheLookups.WithLabelValues(tierPersistent, "error").Inc()
		slog.Warn("failed to read cached repository, using memory cache",
			slog.String("key", key),
			slog.Any("error", err))
		c.demote()
		return c.memoryGet(key)
	}
	metrics.CacheLookups.WithLabelValues(tierPersistent, "hit").Inc()
	data := stored.expand()
	return &data, true
}

// Set stores data under key, replacing any previous entry. Storage failures
// are never returned: the cache demotes itself to memory, keeps the full data
// there and purges its persistent entries.
func (c *RepoCache) Set(key string, data Data) {
	if c.mode.MemoryOnly() {
		c.memorySet(key, data)
		return
	}
	raw, err := json.Marshal(compress(data))
	if err == nil {
		err = c.store.Set(Prefix+key, raw)
	}
	if err == nil {
		metrics.CacheWrites.WithLabelValues(tierPersistent, "ok").Inc()
		return
	}
	metrics.CacheWrites.WithLabelValues(tierPersistent, "error").Inc()
	slog.Warn("failed to persist repository cache, switching to memory cache",
		slog.String("key", key),
		slog.Any("error", err))
	c.demote()
	c.memorySet(key, data)
	c.purgePersistent()
}

// Clear removes the given keys from both tiers, or every entry when called
// without keys.
func (c *RepoCache) Clear(keys ...string) {
	c.mu.Lock()
	if len(keys) == 0 {
		clear(c.memory)
	} else {
		for _, k := range keys {
			delete(c.memory, k)
		}
	}
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if len(keys) == 0 {
		c.purgePersistent()
		return
	}
	for _, k := range keys {
		if err := c.store.Delete(Prefix + k); err != nil {
			slog.Warn("failed to clear cached repository",
				slog.String("key", k),
				slog.Any("error", err))
		}
	}
}

func (c *RepoCache) Stats() Stats {
	c.mu.Lock()
	stats := Stats{MemorySize: len(c.memory), MemoryOnly: c.mode.MemoryOnly()}
	c.mu.Unlock()
	if c.store != nil {
		if keys, err := c.store.Keys(Prefix); err == nil {
			stats.PersistentSize = len(keys)
		}
	}
	return stats
}

// Keys lists the repository keys held by the active tier.
func (c *RepoCache) Keys() []string {
	if c.mode.MemoryOnly() {
		c.mu.Lock()
		defer c.mu.Unlock()
		keys := make([]string, 0, len(c.memory))
		for k := range c.memory {
			keys = append(keys, k)
		}
		return keys
	}
	stored, err := c.store.Keys(Prefix)
	if err != nil {
		return nil
	}
	keys := make([]string, len(stored))
	for i, k := range stored {
		keys[i] = strings.TrimPrefix(k, Prefix)
	}
	return keys
}

func (c *RepoCache) demote() {
	if c.mode.Demote() {
		metrics.CacheDemotions.Inc()
	}
}

func (c *RepoCache) memoryGet(key string) (*Data, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.memory[key]
	if !ok {
		metrics.CacheLookups.WithLabelValues(tierMemory, "miss").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues(tierMemory, "hit").Inc()
	return &data, true
}

func (c *RepoCache) memorySet(key string, data Data) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memory[key] = data
	metrics.CacheWrites.WithLabelValues(tierMemory, "ok").Inc()
}

func (c *RepoCache) purgePersistent() {
	keys, err := c.store.Keys(Prefix)
	if err != nil {
		slog.Warn("failed to list cached repositories", slog.Any("error", err))
		return
	}
	for _, k := range keys {
		if err := c.store.Delete(k); err != nil {
			slog.Warn("failed to purge cached repository",
				slog.String("key", k),
				slog.Any("error", err))
		}
	}
}

func compress(data Data) compressedData {
	out := compressedData{
		Timestamp: data.Timestamp,
		Commits:   make([]compressedCommit, len(data.Commits)),
		Branches:  make([]compressedBranch, len(data.Branches)),
	}
	for i, c := range data.Commits {
		out.Commits[i] = compressedCommit{SHA: c.SHA, Message: c.Message, Time: c.Time, Parents: c.Parents}
	}
	for i, b := range data.Branches {
		out.Branches[i] = compressedBranch{Name: b.Name, Commits: b.Commits}
	}
	return out
}

func (d compressedData) expand() Data {
	out := Data{
		Timestamp: d.Timestamp,
		Commits:   make([]repo.Commit, len(d.Commits)),
		Branches:  make([]repo.Branch, len(d.Branches)),
	}
	for i, c := range d.Commits {
		author, summary := "", ""
		out.Commits[i] = repo.Commit{
			SHA:         c.SHA,
			Message:     c.Message,
			Time:        c.Time,
			Parents:     c.Parents,
			Author:      &author,
			Summary:     &summary,
			FileChanges: []repo.FileChange{},
		}
	}
	for i, b := range d.Branches {
		out.Branches[i] = repo.Branch{Name: b.Name, Commits: b.Commits}
	}
	return out
}

// Package explorer holds the state of one repository graph view: the loaded
// commits, the laid out graph, the active filter or search and the node
// selection.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/thiagokokada/gitodyssey/internal/api"
	"github.com/thiagokokada/gitodyssey/internal/debounce"
	"github.com/thiagokokada/gitodyssey/internal/filter"
	"github.com/thiagokokada/gitodyssey/internal/graph"
	"github.com/thiagokokada/gitodyssey/internal/layout"
	"github.com/thiagokokada/gitodyssey/internal/loader"
	"github.com/thiagokokada/gitodyssey/internal/repo"
	"github.com/thiagokokada/gitodyssey/internal/selection"
)

const DefaultFilterDelay = 300 * time.Millisecond

var (
	// ErrStale is returned when a response arrives after the session moved
	// on to another repository or a newer load.
	ErrStale = errors.New("stale response discarded")

	ErrUnknownCommit = errors.New("commit not in graph")
	ErrNoSearcher    = errors.New("search is not available")
)

type Loader interface {
	Load(ctx context.Context, owner, name string) (loader.Result, error)
	Refresh(ctx context.Context, owner, name string) (loader.Result, error)
}

// Mounter is implemented by loaders that guard one load cycle per mounted
// repository, like *loader.Loader.
type Mounter interface {
	Mount(ctx context.Context, owner, name string) (loader.Result, bool, error)
	Unmount(key string)
}

// Searcher runs a remote semantic search. *api.Client implements it.
type Searcher interface {
	Filter(ctx context.Context, req api.FilterRequest) ([]string, error)
}

type Layouter interface {
	Layout(g graph.Graph, dir layout.Direction) (graph.Graph, error)
}

// SearchState describes the last remote search. Empty is set when a
// non-blank query matched nothing.
type SearchState struct {
	Query   string `json:"query"`
	Matches int    `json:"matches"`
	Empty   bool   `json:"empty"`
}

type Session struct {
	mu sync.Mutex

	owner, name string
	loader      Loader
	searcher    Searcher
	layouter    Layouter
	sel         *selection.Controller
	filterDelay time.Duration

	// mounted is closed once the first load of the current repository
	// returns. It is nil until Mount is called.
	mounted chan struct{}

	// gen changes whenever in-flight loads must be dropped.
	gen      uint64
	state    loader.State
	loadErr  error
	commits  []repo.Commit
	branches []repo.Branch
	base     graph.Graph
	graph    graph.Graph
	dir      layout.Direction
	filtered []repo.Commit
	criteria filter.Criteria
	search   SearchState

	debounceMu     sync.Mutex
	filterDebounce *debounce.Debouncer
	pending        filter.Criteria
}

type Option func(*Session)

func WithSearcher(s Searcher) Option {
	return func(sess *Session) { sess.searcher = s }
}

func WithLayouter(l Layouter) Option {
	return func(sess *Session) { sess.layouter = l }
}

func WithSelection(c *selection.Controller) Option {
	return func(sess *Session) { sess.sel = c }
}

func WithDirection(dir layout.Direction) Option {
	return func(sess *Session) { sess.dir = dir }
}

func WithFilterDelay(d time.Duration) Option {
	return func(sess *Session) { sess.filterDelay = d }
}

func New(owner, name string, l Loader, opts ...Option) *Session {
	s := &Session{
		owner:       owner,
		name:        name,
		loader:      l,
		filterDelay: DefaultFilterDelay,
		dir:         layout.TopToBottom,
	}
	for _, o := range opts {
		o(s)
	}
	if s.layouter == nil {
		s.layouter = layout.New(layout.DefaultOptions())
	}
	if s.sel == nil {
		s.sel = &selection.Controller{}
	}
	return s
}

func (s *Session) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return repo.Key(s.owner, s.name)
}

// Selection exposes the controller so callers can hook viewport recentering.
func (s *Session) Selection() *selection.Controller {
	return s.sel
}

// SetRepo points the session at another repository. Loads still in flight
// for the previous one are discarded when they return.
func (s *Session) SetRepo(owner, name string) {
	s.stopFilterDebounce()
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner == s.owner && name == s.name {
		return
	}
	if m, ok := s.loader.(Mounter); ok && s.mounted != nil {
		m.Unmount(repo.Key(s.owner, s.name))
	}
	s.mounted = nil
	s.owner, s.name = owner, name
	s.gen++
	s.state = loader.Idle
	s.loadErr = nil
	// Filters and searches belong to the previous repository's commits.
	s.criteria = filter.Criteria{}
	s.search = SearchState{}
	s.setCommitsLocked(nil, nil)
	s.filtered = nil
	s.sel.Reset()
}

func (s *Session) Load(ctx context.Context) (View, error) {
	return s.load(ctx, s.loader.Load)
}

// Mount loads the repository the first time it is called. Later and
// concurrent calls wait for that load instead of starting another one.
func (s *Session) Mount(ctx context.Context) (View, error) {
	s.mu.Lock()
	if wait := s.mounted; wait != nil {
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return s.Snapshot(), ctx.Err()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.viewLocked(), s.loadErr
	}
	wait := make(chan struct{})
	s.mounted = wait
	s.mu.Unlock()
	defer close(wait)
	return s.load(ctx, s.mountLoad)
}

func (s *Session) mountLoad(ctx context.Context, owner, name string) (loader.Result, error) {
	m, ok := s.loader.(Mounter)
	if !ok {
		return s.loader.Load(ctx, owner, name)
	}
	res, first, err := m.Mount(ctx, owner, name)
	if !first {
		// Another session mounted the key first; read through the cache.
		slog.Debug("repository already mounted", slog.String("key", repo.Key(owner, name)))
		return s.loader.Load(ctx, owner, name)
	}
	return res, err
}

// Refresh reloads the repository bypassing the cache. The active filter or
// search is reapplied to the new commits.
func (s *Session) Refresh(ctx context.Context) (View, error) {
	return s.load(ctx, s.loader.Refresh)
}

func (s *Session) load(ctx context.Context, fn func(context.Context, string, string) (loader.Result, error)) (View, error) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	owner, name := s.owner, s.name
	s.state = loader.CacheCheck
	s.mu.Unlock()

	res, err := fn(ctx, owner, name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		slog.Debug("discarding stale load",
			slog.String("key", repo.Key(owner, name)),
			slog.String("current", repo.Key(s.owner, s.name)),
		)
		return s.viewLocked(), ErrStale
	}
	if err != nil {
		s.state = loader.Failed
		s.loadErr = err
		s.setCommitsLocked(nil, nil)
		return s.viewLocked(), err
	}
	s.state = res.State
	s.loadErr = nil
	if err := s.setCommitsLocked(res.Commits, res.Branches); err != nil {
		s.state = loader.Failed
		s.loadErr = err
		return s.viewLocked(), err
	}
	s.reapplyLocked()
	return s.viewLocked(), nil
}

// setCommitsLocked rebuilds and lays out the graph for a new commit list.
func (s *Session) setCommitsLocked(commits []repo.Commit, branches []repo.Branch) error {
	s.commits = commits
	s.branches = branches
	s.filtered = commits
	s.base = graph.Build(commits)
	return s.relayoutLocked()
}

func (s *Session) relayoutLocked() error {
	laid, err := s.layouter.Layout(s.base, s.dir)
	if err != nil {
		s.graph = graph.Graph{Nodes: []graph.Node{}, Edges: []graph.Edge{}}
		return fmt.Errorf("layout: %w", err)
	}
	s.graph = laid
	return nil
}

// reapplyLocked keeps the active filter or search across a reload.
func (s *Session) reapplyLocked() {
	switch {
	case s.search.Query != "":
		s.handleSearchResultsLocked(s.sel.Highlighted().Sorted(), s.search.Query)
	case filter.HasActiveFilters(s.criteria):
		s.applyFiltersLocked(s.criteria)
	default:
		s.sel.Highlight(nil)
	}
}

// ApplyFilters highlights the commits matching c. An empty c removes the
// highlight. The graph itself is not rebuilt.
func (s *Session) ApplyFilters(c filter.Criteria) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyFiltersLocked(c)
	return s.viewLocked()
}

func (s *Session) applyFiltersLocked(c filter.Criteria) {
	s.criteria = c
	s.search = SearchState{}
	if !filter.HasActiveFilters(c) {
		s.filtered = s.commits
		s.sel.Highlight(nil)
		return
	}
	s.filtered = filter.Apply(s.commits, c, s.branches)
	s.sel.Highlight(filter.SHAs(s.filtered))
}

// ScheduleFilters applies c once no newer criteria arrived for the filter
// delay.
func (s *Session) ScheduleFilters(c filter.Criteria) {
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()
	s.pending = c
	debounce.Ensure(&s.filterDebounce, s.filterDelay, s.applyPending).Trigger()
}

// FlushFilters applies scheduled criteria immediately. It reports whether
// any were pending.
func (s *Session) FlushFilters() bool {
	s.debounceMu.Lock()
	d := s.filterDebounce
	s.debounceMu.Unlock()
	if d == nil {
		return false
	}
	return d.Flush()
}

func (s *Session) applyPending() {
	s.debounceMu.Lock()
	c := s.pending
	s.debounceMu.Unlock()
	s.ApplyFilters(c)
}

func (s *Session) stopFilterDebounce() {
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()
	if s.filterDebounce != nil {
		s.filterDebounce.Stop()
	}
}

// ApplySearch runs a remote search with the current filters. A blank query
// clears the filters instead. Failures leave the current view untouched.
func (s *Session) ApplySearch(ctx context.Context, query string) (View, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.ClearFilters(), nil
	}
	if s.searcher == nil {
		return s.Snapshot(), ErrNoSearcher
	}

	s.mu.Lock()
	gen := s.gen
	req := api.FilterRequest{
		Query:   query,
		Filters: s.criteria,
		RepoURL: repo.GitHubURL(s.owner, s.name),
	}
	s.mu.Unlock()

	shas, err := s.searcher.Filter(ctx, req)
	if err != nil {
		return s.Snapshot(), fmt.Errorf("search %q: %w", query, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return s.viewLocked(), ErrStale
	}
	s.handleSearchResultsLocked(shas, query)
	return s.viewLocked(), nil
}

// HandleSearchResults highlights the commits named by shas, in commit order.
// SHAs outside the loaded commits are ignored.
func (s *Session) HandleSearchResults(shas []string, query string) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handleSearchResultsLocked(shas, query)
	return s.viewLocked()
}

func (s *Session) handleSearchResultsLocked(shas []string, query string) {
	s.filtered = filter.BySHAs(s.commits, shas)
	matched := filter.SHAs(s.filtered)
	s.search = SearchState{
		Query:   query,
		Matches: len(matched),
		Empty:   query != "" && len(matched) == 0,
	}
	s.sel.Highlight(matched)
}

// ClearFilters drops any filter, search and highlight and asks for the
// viewport to be refit.
func (s *Session) ClearFilters() View {
	s.stopFilterDebounce()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.criteria = filter.Criteria{}
	s.search = SearchState{}
	s.filtered = s.commits
	s.sel.ClearHighlight()
	return s.viewLocked()
}

// ToggleDirection switches between TB and LR and lays the graph out again.
// Drag positions are not kept.
func (s *Session) ToggleDirection() (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dir = s.dir.Toggle()
	err := s.relayoutLocked()
	s.sel.RequestFit()
	return s.viewLocked(), err
}

func (s *Session) SetDirection(dir layout.Direction) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir == s.dir {
		return s.viewLocked(), nil
	}
	s.dir = dir
	err := s.relayoutLocked()
	s.sel.RequestFit()
	return s.viewLocked(), err
}

// FocusCommit selects sha as if it was clicked on the canvas.
func (s *Session) FocusCommit(sha string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.graph.NodeIndex()[sha]
	if !ok {
		return s.viewLocked(), fmt.Errorf("%s: %w", sha, ErrUnknownCommit)
	}
	s.sel.Click(sha)
	s.sel.Focus(sha, idx)
	return s.viewLocked(), nil
}

// Commit returns the loaded commit with the given SHA.
func (s *Session) Commit(sha string) (repo.Commit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.commits {
		if c.SHA == sha {
			return c, true
		}
	}
	return repo.Commit{}, false
}

// Commits returns a copy of the loaded commits in load order.
func (s *Session) Commits() []repo.Commit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repo.Commit(nil), s.commits...)
}

// UpdateSummary attaches a generated summary to a node.
func (s *Session) UpdateSummary(sha, summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = s.base.UpdateSummary(sha, summary)
	s.graph = s.graph.UpdateSummary(sha, summary)
	for i := range s.commits {
		if s.commits[i].SHA == sha {
			// Copy on write: the slice may be shared with the cache.
			commits := append([]repo.Commit(nil), s.commits...)
			commits[i].Summary = &summary
			s.commits = commits
			s.filtered = filter.BySHAs(commits, filter.SHAs(s.filtered))
			break
		}
	}
}

func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

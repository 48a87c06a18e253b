// Package selection keeps the filter highlight and the interactive canvas
// selection as two separate sets and derives the node selected flags from
// them on read.
package selection

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/thiagokokada/gitodyssey/internal/graph"
)

// Set is an immutable set of commit SHAs.
type Set map[string]struct{}

func NewSet(shas ...string) Set {
	s := make(Set, len(shas))
	for _, sha := range shas {
		if sha != "" {
			s[sha] = struct{}{}
		}
	}
	return s
}

func (s Set) Has(sha string) bool {
	_, ok := s[sha]
	return ok
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for sha := range s {
		out = append(out, sha)
	}
	slices.Sort(out)
	return out
}

type snapshot struct {
	highlighted Set
	interactive Set
	focusSHA    string
	focusIdx    int
}

// Controller is safe for concurrent use. Readers never block; writers
// replace the whole snapshot.
type Controller struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[snapshot]
	fits     atomic.Uint64
	onFit    func()
}

func (c *Controller) load() snapshot {
	if snap := c.snapshot.Load(); snap != nil {
		return *snap
	}
	return snapshot{focusIdx: -1}
}

func (c *Controller) update(fn func(*snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.load()
	fn(&next)
	c.snapshot.Store(&next)
}

// Highlight replaces the highlighted set.
func (c *Controller) Highlight(shas []string) {
	set := NewSet(shas...)
	c.update(func(s *snapshot) { s.highlighted = set })
}

// ClearHighlight empties the highlighted set and asks for the viewport to be
// recentered.
func (c *Controller) ClearHighlight() {
	c.update(func(s *snapshot) { s.highlighted = nil })
	c.RequestFit()
}

// Click makes sha the only interactively selected node.
func (c *Controller) Click(sha string) {
	c.update(func(s *snapshot) {
		s.interactive = NewSet(sha)
		s.focusSHA = sha
		s.focusIdx = -1
	})
}

// Select adds or removes sha from the interactive selection.
func (c *Controller) Select(sha string, selected bool) {
	c.update(func(s *snapshot) {
		next := make(Set, len(s.interactive)+1)
		for k := range s.interactive {
			next[k] = struct{}{}
		}
		if selected {
			next[sha] = struct{}{}
		} else {
			delete(next, sha)
		}
		s.interactive = next
	})
}

func (c *Controller) SetInteractive(shas []string) {
	set := NewSet(shas...)
	c.update(func(s *snapshot) { s.interactive = set })
}

// Highlighted returns the current highlighted set.
func (c *Controller) Highlighted() Set {
	return c.load().highlighted
}

func (c *Controller) Interactive() Set {
	return c.load().interactive
}

// Effective is the highlighted set when it is non-empty, otherwise the
// interactive selection.
func (c *Controller) Effective() Set {
	snap := c.load()
	if len(snap.highlighted) > 0 {
		return snap.highlighted
	}
	return snap.interactive
}

// Reconcile returns a copy of nodes with Selected reasserted from Effective.
func (c *Controller) Reconcile(nodes []graph.Node) []graph.Node {
	effective := c.Effective()
	out := make([]graph.Node, len(nodes))
	for i, n := range nodes {
		n.Selected = effective.Has(n.ID)
		out[i] = n
	}
	return out
}

// Focus remembers sha at idx as the commit shown in the details pane.
func (c *Controller) Focus(sha string, idx int) {
	c.update(func(s *snapshot) {
		s.focusSHA = sha
		s.focusIdx = idx
	})
}

func (c *Controller) FocusedSHA() string {
	return c.load().focusSHA
}

// FocusIndex locates the focused commit in nodes, trying the remembered index
// before scanning. It returns -1 when the commit is not present.
func (c *Controller) FocusIndex(nodes []graph.Node) int {
	snap := c.load()
	if snap.focusSHA == "" {
		return -1
	}
	if snap.focusIdx >= 0 && snap.focusIdx < len(nodes) && nodes[snap.focusIdx].ID == snap.focusSHA {
		return snap.focusIdx
	}
	for i, n := range nodes {
		if n.ID == snap.focusSHA {
			return i
		}
	}
	return -1
}

// Reset drops both sets and the focus.
func (c *Controller) Reset() {
	c.update(func(s *snapshot) { *s = snapshot{focusIdx: -1} })
}

// OnRecenter registers fn to run on every fit request.
func (c *Controller) OnRecenter(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFit = fn
}

// RequestFit records a viewport recenter request.
func (c *Controller) RequestFit() {
	c.fits.Add(1)
	c.mu.Lock()
	fn := c.onFit
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// FitRequests counts recenter requests so far.
func (c *Controller) FitRequests() uint64 {
	return c.fits.Load()
}

package explorer

import (
	"github.com/thiagokokada/gitodyssey/internal/filter"
	"github.com/thiagokokada/gitodyssey/internal/graph"
	"github.com/thiagokokada/gitodyssey/internal/layout"
)

// View is a copy of the session state, safe to hand to other goroutines.
type View struct {
	Key         string           `json:"key"`
	State       string           `json:"state"`
	Error       string           `json:"error,omitempty"`
	Direction   layout.Direction `json:"direction"`
	Nodes       []graph.Node     `json:"nodes"`
	Edges       []graph.Edge     `json:"edges"`
	Commits     int              `json:"commitCount"`
	Filtered    []string         `json:"filteredCommits"`
	Highlighted []string         `json:"highlighted"`
	Filters     filter.Criteria  `json:"filters"`
	Search      SearchState      `json:"search"`
	Focused     string           `json:"focused,omitempty"`
	FitRequests uint64           `json:"fitRequests"`
}

// Loaded reports whether the view holds a successfully loaded repository.
func (v View) Loaded() bool {
	return v.Error == "" && v.Commits > 0
}

func (s *Session) viewLocked() View {
	v := View{
		Key:         s.owner + "/" + s.name,
		State:       s.state.String(),
		Direction:   s.dir,
		Nodes:       s.sel.Reconcile(s.graph.Nodes),
		Edges:       s.graph.ResolvedEdges(),
		Commits:     len(s.commits),
		Filtered:    filter.SHAs(s.filtered),
		Highlighted: s.sel.Highlighted().Sorted(),
		Filters:     s.criteria,
		Search:      s.search,
		Focused:     s.sel.FocusedSHA(),
		FitRequests: s.sel.FitRequests(),
	}
	if s.loadErr != nil {
		v.Error = s.loadErr.Error()
	}
	return v
}

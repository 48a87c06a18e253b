package explorer

import (
	"log/slog"

	"github.com/thiagokokada/gitodyssey/internal/graph"
)

type ChangeType string

const (
	ChangePosition ChangeType = "position"
	ChangeSelect   ChangeType = "select"
)

// NodeChange is an edit coming from the canvas. Position is used by
// position changes and Selected by select changes.
type NodeChange struct {
	Type     ChangeType      `json:"type" binding:"required,oneof=position select"`
	ID       string          `json:"id" binding:"required"`
	Position *graph.Position `json:"position,omitempty"`
	Selected bool            `json:"selected"`
}

// ApplyNodeChanges moves or (de)selects nodes. Highlighted nodes stay
// selected whatever the change says. Moved positions last until the next
// layout.
func (s *Session) ApplyNodeChanges(changes []NodeChange) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.graph.NodeIndex()
	var nodes []graph.Node
	for _, ch := range changes {
		i, ok := idx[ch.ID]
		if !ok {
			slog.Debug("ignoring change for unknown node", slog.String("id", ch.ID))
			continue
		}
		switch ch.Type {
		case ChangePosition:
			if ch.Position == nil {
				continue
			}
			if nodes == nil {
				nodes = append([]graph.Node(nil), s.graph.Nodes...)
			}
			nodes[i].Position = *ch.Position
		case ChangeSelect:
			s.sel.Select(ch.ID, ch.Selected)
		default:
			slog.Debug("ignoring node change", slog.String("type", string(ch.Type)))
		}
	}
	if nodes != nil {
		s.graph = graph.Graph{Nodes: nodes, Edges: s.graph.Edges}
	}
	return s.viewLocked()
}

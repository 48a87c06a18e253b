package graph

import (
	"fmt"

	"github.com/thiagokokada/gitodyssey/internal/repo"
)

// HandlePosition names the side of a node an edge attaches to.
type HandlePosition string

const (
	HandleTop    HandlePosition = "top"
	HandleBottom HandlePosition = "bottom"
	HandleLeft   HandlePosition = "left"
	HandleRight  HandlePosition = "right"
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type NodeData struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
	Author  string `json:"author"`
	Time    int64  `json:"time"`
	Summary string `json:"summary,omitempty"`
}

type Node struct {
	ID             string         `json:"id"`
	Position       Position       `json:"position"`
	Data           NodeData       `json:"data"`
	Selected       bool           `json:"selected"`
	SourcePosition HandlePosition `json:"sourcePosition"`
	TargetPosition HandlePosition `json:"targetPosition"`
}

type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// EdgeID identifies the edge for the index-th parent of sha.
func EdgeID(sha, parent string, index int) string {
	return fmt.Sprintf("e-%s-%s-%d", sha, parent, index)
}

// Build converts commits into one node per distinct SHA and one edge per
// (commit, parent) pair. A duplicate SHA keeps the slot of its first
// occurrence with the data of its last. Edges to parents missing from the
// input are kept; see ResolvedEdges.
func Build(commits []repo.Commit) Graph {
	index := make(map[string]int, len(commits))
	var order []repo.Commit
	for _, c := range commits {
		if i, ok := index[c.SHA]; ok {
			order[i] = c
			continue
		}
		index[c.SHA] = len(order)
		order = append(order, c)
	}

	g := Graph{
		Nodes: make([]Node, 0, len(order)),
		Edges: []Edge{},
	}
	for _, c := range order {
		g.Nodes = append(g.Nodes, Node{
			ID: c.SHA,
			Data: NodeData{
				SHA:     c.SHA,
				Message: c.Message,
				Author:  c.AuthorName(),
				Time:    c.Time,
				Summary: c.SummaryText(),
			},
			SourcePosition: HandleRight,
			TargetPosition: HandleLeft,
		})
		for i, parent := range c.Parents {
			g.Edges = append(g.Edges, Edge{
				ID:     EdgeID(c.SHA, parent, i),
				Source: c.SHA,
				Target: parent,
			})
		}
	}
	return g
}

// NodeIndex maps node IDs to their index in g.Nodes.
func (g Graph) NodeIndex() map[string]int {
	idx := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		idx[n.ID] = i
	}
	return idx
}

// ResolvedEdges returns the edges whose endpoints are both nodes of g.
func (g Graph) ResolvedEdges() []Edge {
	idx := g.NodeIndex()
	out := make([]Edge, 0, len(g.Edges))
	for _, e := range g.Edges {
		_, okSrc := idx[e.Source]
		_, okDst := idx[e.Target]
		if okSrc && okDst {
			out = append(out, e)
		}
	}
	return out
}

// DanglingEdges returns the edges pointing at a parent outside the graph.
func (g Graph) DanglingEdges() []Edge {
	idx := g.NodeIndex()
	var out []Edge
	for _, e := range g.Edges {
		if _, ok := idx[e.Target]; !ok {
			out = append(out, e)
		}
	}
	return out
}

// Clone returns a copy that shares no slices with g.
func (g Graph) Clone() Graph {
	return Graph{
		Nodes: append([]Node(nil), g.Nodes...),
		Edges: append([]Edge(nil), g.Edges...),
	}
}

// UpdateSummary returns a new graph where the node for sha carries summary.
func (g Graph) UpdateSummary(sha, summary string) Graph {
	out := g.Clone()
	for i := range out.Nodes {
		if out.Nodes[i].ID == sha {
			out.Nodes[i].Data.Summary = summary
		}
	}
	return out
}

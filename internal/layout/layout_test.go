package layout

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/thiagokokada/gitodyssey/internal/graph"
	"github.com/thiagokokada/gitodyssey/internal/repo"
)

func nodeByID(t *testing.T, g graph.Graph, id string) graph.Node {
	t.Helper()
	for _, n := range g.Nodes {
		if n.ID == id {
			return n
		}
	}
	t.Fatalf("node %s not found", id)
	return graph.Node{}
}

// engines returns the default engine (graphviz dot) and the built-in
// layered engine, which must satisfy the same properties.
func engines() map[string]*Engine {
	return map[string]*Engine{
		"dot":     New(DefaultOptions()),
		"layered": New(DefaultOptions(), WithLayerer(NewLayered)),
	}
}

func TestLayoutParentBelowChild(t *testing.T) {
	g := graph.Build([]repo.Commit{
		{SHA: "a", Parents: []string{"b"}},
		{SHA: "b"},
	})
	opts := DefaultOptions()
	for name, engine := range engines() {
		t.Run(name, func(t *testing.T) {
			out, err := engine.Layout(g, TopToBottom)
			if err != nil {
				t.Fatalf("Layout() error = %v", err)
			}
			a := nodeByID(t, out, "a")
			b := nodeByID(t, out, "b")
			if b.Position.Y < a.Position.Y+opts.NodeHeight+opts.RankSep-1 {
				t.Fatalf("parent y = %v, want at least one rank below child y %v", b.Position.Y, a.Position.Y)
			}
			if a.Position.X != b.Position.X {
				t.Fatalf("chain not aligned: %v vs %v", a.Position.X, b.Position.X)
			}
			if a.Position != (graph.Position{X: 0, Y: 0}) {
				t.Fatalf("a position = %+v, want top-left origin", a.Position)
			}
			for _, n := range out.Nodes {
				if n.TargetPosition != graph.HandleTop || n.SourcePosition != graph.HandleBottom {
					t.Fatalf("unexpected handles for %s: %s/%s", n.ID, n.SourcePosition, n.TargetPosition)
				}
			}
			if !reflect.DeepEqual(out.Edges, g.Edges) {
				t.Fatalf("edges changed: %+v", out.Edges)
			}
		})
	}
}

func TestLayeredExactPositions(t *testing.T) {
	g := graph.Build([]repo.Commit{
		{SHA: "a", Parents: []string{"b"}},
		{SHA: "b"},
	})
	engine := New(DefaultOptions(), WithLayerer(NewLayered))
	tb, err := engine.Layout(g, TopToBottom)
	if err != nil {
		t.Fatalf("Layout() error = %v", err)
	}
	if b := nodeByID(t, tb, "b"); b.Position != (graph.Position{X: 0, Y: 210}) {
		t.Fatalf("b position = %+v, want {0 210}", b.Position)
	}
	lr, err := engine.Layout(g, LeftToRight)
	if err != nil {
		t.Fatalf("Layout() error = %v", err)
	}
	if b := nodeByID(t, lr, "b"); b.Position != (graph.Position{X: 430, Y: 0}) {
		t.Fatalf("b position = %+v, want {430 0}", b.Position)
	}
}

func TestLayoutLeftToRight(t *testing.T) {
	g := graph.Build([]repo.Commit{
		{SHA: "a", Parents: []string{"b"}},
		{SHA: "b"},
	})
	opts := DefaultOptions()
	for name, engine := range engines() {
		t.Run(name, func(t *testing.T) {
			out, err := engine.Layout(g, LeftToRight)
			if err != nil {
				t.Fatalf("Layout() error = %v", err)
			}
			a := nodeByID(t, out, "a")
			b := nodeByID(t, out, "b")
			if a.Position.X != 0 || b.Position.X < opts.NodeWidth+opts.RankSep-1 {
				t.Fatalf("x positions = %v, %v", a.Position.X, b.Position.X)
			}
			if a.Position.Y != b.Position.Y {
				t.Fatalf("expected nodes on one row, got %v and %v", a.Position.Y, b.Position.Y)
			}
			if a.SourcePosition != graph.HandleRight || a.TargetPosition != graph.HandleLeft {
				t.Fatalf("unexpected handles %s/%s", a.SourcePosition, a.TargetPosition)
			}
		})
	}
}

func TestLayoutSiblingsDoNotOverlap(t *testing.T) {
	g := graph.Build([]repo.Commit{
		{SHA: "m", Parents: []string{"p1", "p2"}},
		{SHA: "p1"},
		{SHA: "p2"},
	})
	opts := DefaultOptions()
	for name, engine := range engines() {
		t.Run(name, func(t *testing.T) {
			out, err := engine.Layout(g, TopToBottom)
			if err != nil {
				t.Fatalf("Layout() error = %v", err)
			}
			p1 := nodeByID(t, out, "p1")
			p2 := nodeByID(t, out, "p2")
			m := nodeByID(t, out, "m")
			if p1.Position.Y != p2.Position.Y {
				t.Fatalf("siblings on different ranks: %v vs %v", p1.Position.Y, p2.Position.Y)
			}
			gap := math.Abs(p2.Position.X - p1.Position.X)
			if gap < opts.NodeWidth+opts.NodeSep-1 {
				t.Fatalf("siblings overlap: gap %v", gap)
			}
			if m.Position.Y >= p1.Position.Y {
				t.Fatalf("merge at y %v, want above parents at %v", m.Position.Y, p1.Position.Y)
			}
		})
	}
}

func TestLayeredCentersMergeOverParents(t *testing.T) {
	g := graph.Build([]repo.Commit{
		{SHA: "m", Parents: []string{"p1", "p2"}},
		{SHA: "p1"},
		{SHA: "p2"},
	})
	out, err := New(DefaultOptions(), WithLayerer(NewLayered)).Layout(g, TopToBottom)
	if err != nil {
		t.Fatalf("Layout() error = %v", err)
	}
	p1, p2, m := nodeByID(t, out, "p1"), nodeByID(t, out, "p2"), nodeByID(t, out, "m")
	if m.Position.X != (p1.Position.X+p2.Position.X)/2 {
		t.Fatalf("merge not centered over parents: %v", m.Position.X)
	}
}

func TestLayoutIgnoresDanglingEdges(t *testing.T) {
	g := graph.Build([]repo.Commit{
		{SHA: "a", Parents: []string{"missing"}},
	})
	for name, engine := range engines() {
		t.Run(name, func(t *testing.T) {
			out, err := engine.Layout(g, TopToBottom)
			if err != nil {
				t.Fatalf("Layout() error = %v", err)
			}
			if len(out.Nodes) != 1 || len(out.Edges) != 1 {
				t.Fatalf("unexpected graph: %+v", out)
			}
		})
	}
}

func TestLayoutSurvivesCycles(t *testing.T) {
	g := graph.Build([]repo.Commit{
		{SHA: "a", Parents: []string{"b"}},
		{SHA: "b", Parents: []string{"a"}},
		{SHA: "c", Parents: []string{"c"}},
	})
	for name, engine := range engines() {
		t.Run(name, func(t *testing.T) {
			out, err := engine.Layout(g, TopToBottom)
			if err != nil {
				t.Fatalf("Layout() error = %v", err)
			}
			if len(out.Nodes) != 3 {
				t.Fatalf("nodes = %d, want 3", len(out.Nodes))
			}
		})
	}
}

func TestLayoutDeterministic(t *testing.T) {
	commits := []repo.Commit{
		{SHA: "h", Parents: []string{"g", "e"}},
		{SHA: "g", Parents: []string{"f"}},
		{SHA: "e", Parents: []string{"d"}},
		{SHA: "f", Parents: []string{"c"}},
		{SHA: "d", Parents: []string{"b"}},
		{SHA: "c", Parents: []string{"a"}},
		{SHA: "b", Parents: []string{"a"}},
		{SHA: "a"},
	}
	for name, engine := range engines() {
		t.Run(name, func(t *testing.T) {
			first, err := engine.Layout(graph.Build(commits), TopToBottom)
			if err != nil {
				t.Fatalf("Layout() error = %v", err)
			}
			for range 5 {
				again, err := engine.Layout(graph.Build(commits), TopToBottom)
				if err != nil {
					t.Fatalf("Layout() error = %v", err)
				}
				if !reflect.DeepEqual(first, again) {
					t.Fatalf("layout not deterministic")
				}
			}
		})
	}
}

type failingLayerer struct{ recordingLayerer }

func (failingLayerer) Run(Direction, float64, float64) (map[string]graph.Position, error) {
	return nil, errors.New("wasm unavailable")
}

func TestLayoutFallsBackToLayered(t *testing.T) {
	g := graph.Build([]repo.Commit{{SHA: "a", Parents: []string{"b"}}, {SHA: "b"}})
	engine := New(DefaultOptions())
	engine.newLayerer = func() Layerer { return &failingLayerer{} }
	out, err := engine.Layout(g, TopToBottom)
	if err != nil {
		t.Fatalf("Layout() error = %v", err)
	}
	if b := nodeByID(t, out, "b"); b.Position != (graph.Position{X: 0, Y: 210}) {
		t.Fatalf("b position = %+v, want the layered result", b.Position)
	}

	custom := New(DefaultOptions(), WithLayerer(func() Layerer { return &failingLayerer{} }))
	if _, err := custom.Layout(g, TopToBottom); err == nil {
		t.Fatalf("Layout() with a failing custom layerer succeeded")
	}
}

func TestParsePlain(t *testing.T) {
	plain := strings.Join([]string{
		"graph 1 4.8611 4.7222",
		`node a 2.4306 3.8194 4.8611 1.8056 "" solid box black lightgrey`,
		`node "b c" 2.4306 0.90278 4.8611 1.8056 "" solid box black lightgrey`,
		"edge a \"b c\" 4 2.4 2.9 2.4 2.6 2.4 2.2 2.4 1.8 solid black",
		"stop",
	}, "\n")
	got, err := parsePlain([]byte(plain))
	if err != nil {
		t.Fatalf("parsePlain() error = %v", err)
	}
	want := map[string]graph.Position{
		"a":   {X: 175, Y: 65},
		"b c": {X: 175, Y: 275},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parsePlain() = %+v, want %+v", got, want)
	}
	if _, err := parsePlain([]byte("node a x y\n")); err == nil {
		t.Fatalf("parsePlain() accepted a bad position")
	}
}

func TestLayoutDoesNotMutateInput(t *testing.T) {
	g := graph.Build([]repo.Commit{{SHA: "a", Parents: []string{"b"}}, {SHA: "b"}})
	if _, err := New(DefaultOptions()).Layout(g, TopToBottom); err != nil {
		t.Fatalf("Layout() error = %v", err)
	}
	if g.Nodes[0].SourcePosition != graph.HandleRight {
		t.Fatalf("input graph mutated: %+v", g.Nodes[0])
	}
}

type recordingLayerer struct {
	nodes []string
	edges [][2]string
	dir   Direction
}

func (r *recordingLayerer) SetNode(id string, _, _ float64) { r.nodes = append(r.nodes, id) }
func (r *recordingLayerer) SetEdge(source, target string) {
	r.edges = append(r.edges, [2]string{source, target})
}

func (r *recordingLayerer) Run(dir Direction, _, _ float64) (map[string]graph.Position, error) {
	r.dir = dir
	out := map[string]graph.Position{}
	for i, id := range r.nodes {
		out[id] = graph.Position{X: 1000, Y: float64(i) * 1000}
	}
	return out, nil
}

func TestLayoutUsesFreshLayererPerCall(t *testing.T) {
	var created []*recordingLayerer
	engine := New(DefaultOptions(), WithLayerer(func() Layerer {
		l := &recordingLayerer{}
		created = append(created, l)
		return l
	}))
	g := graph.Build([]repo.Commit{
		{SHA: "a", Parents: []string{"b", "gone"}},
		{SHA: "b"},
	})
	for _, dir := range []Direction{TopToBottom, LeftToRight} {
		out, err := engine.Layout(g, dir)
		if err != nil {
			t.Fatalf("Layout() error = %v", err)
		}
		if got := nodeByID(t, out, "a").Position; got != (graph.Position{X: 825, Y: -65}) {
			t.Fatalf("a position = %+v, want center converted to top-left", got)
		}
	}
	if len(created) != 2 {
		t.Fatalf("layerers created = %d, want 2", len(created))
	}
	for _, l := range created {
		if len(l.nodes) != 2 || len(l.edges) != 1 {
			t.Fatalf("layerer saw nodes %v edges %v", l.nodes, l.edges)
		}
	}
	if created[0].dir != TopToBottom || created[1].dir != LeftToRight {
		t.Fatalf("unexpected directions %s, %s", created[0].dir, created[1].dir)
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in      string
		want    Direction
		wantErr bool
	}{
		{in: "", want: TopToBottom},
		{in: "tb", want: TopToBottom},
		{in: " LR ", want: LeftToRight},
		{in: "RL", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDirection(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDirection(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("ParseDirection(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
	if TopToBottom.Toggle() != LeftToRight || LeftToRight.Toggle() != TopToBottom {
		t.Fatalf("Toggle() did not flip direction")
	}
}

package layout

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/thiagokokada/gitodyssey/internal/graph"
)

// Graphviz measures everything in inches.
const pointsPerInch = 72

// The wasm runtime is expensive to start, so one instance is shared by the
// process. Graphs themselves are created and closed per layout run.
var gvRuntime struct {
	once sync.Once
	mu   sync.Mutex
	gv   *graphviz.Graphviz
	err  error
}

func graphvizRuntime() (*graphviz.Graphviz, error) {
	gvRuntime.once.Do(func() {
		gv, err := graphviz.New(context.Background())
		if err != nil {
			gvRuntime.err = fmt.Errorf("start graphviz: %w", err)
			return
		}
		gvRuntime.gv = gv.SetLayout(graphviz.DOT)
	})
	return gvRuntime.gv, gvRuntime.err
}

type dotNode struct {
	id            string
	width, height float64
}

// dotLayerer runs the graphviz dot engine, a layered layout of the same
// family as dagre.
type dotLayerer struct {
	nodes []dotNode
	index map[string]int
	edges [][2]string
}

// NewGraphviz returns a fresh layering context backed by graphviz dot.
func NewGraphviz() Layerer {
	return &dotLayerer{index: map[string]int{}}
}

func (l *dotLayerer) SetNode(id string, width, height float64) {
	if i, ok := l.index[id]; ok {
		l.nodes[i].width, l.nodes[i].height = width, height
		return
	}
	l.index[id] = len(l.nodes)
	l.nodes = append(l.nodes, dotNode{id: id, width: width, height: height})
}

func (l *dotLayerer) SetEdge(source, target string) {
	_, okS := l.index[source]
	_, okT := l.index[target]
	if !okS || !okT || source == target {
		return
	}
	l.edges = append(l.edges, [2]string{source, target})
}

func (l *dotLayerer) Run(dir Direction, rankSep, nodeSep float64) (map[string]graph.Position, error) {
	out := make(map[string]graph.Position, len(l.nodes))
	if len(l.nodes) == 0 {
		return out, nil
	}
	gv, err := graphvizRuntime()
	if err != nil {
		return nil, err
	}

	gvRuntime.mu.Lock()
	defer gvRuntime.mu.Unlock()
	g, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("create graph: %w", err)
	}
	defer g.Close()

	rankDir := cgraph.TBRank
	if dir.Horizontal() {
		rankDir = cgraph.LRRank
	}
	g.SetRankDir(rankDir).
		SetRankSeparator(rankSep / pointsPerInch).
		SetNodeSeparator(nodeSep / pointsPerInch)

	nodes := make(map[string]*cgraph.Node, len(l.nodes))
	for _, n := range l.nodes {
		gn, err := g.CreateNodeByName(n.id)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.id, err)
		}
		gn.SetShape(cgraph.BoxShape).
			SetFixedSize(true).
			SetLabel("").
			SetWidth(n.width / pointsPerInch).
			SetHeight(n.height / pointsPerInch)
		nodes[n.id] = gn
	}
	for i, e := range l.edges {
		if _, err := g.CreateEdgeByName(fmt.Sprintf("e%d", i), nodes[e[0]], nodes[e[1]]); err != nil {
			return nil, fmt.Errorf("edge %s->%s: %w", e[0], e[1], err)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(context.Background(), g, graphviz.Format("plain"), &buf); err != nil {
		return nil, fmt.Errorf("dot: %w", err)
	}
	centers, err := parsePlain(buf.Bytes())
	if err != nil {
		return nil, err
	}

	// Move the drawing so the top-left node corner sits at the origin.
	minX, minY := math.Inf(1), math.Inf(1)
	for _, n := range l.nodes {
		c, ok := centers[n.id]
		if !ok {
			return nil, fmt.Errorf("dot did not place node %s", n.id)
		}
		minX = min(minX, c.X-n.width/2)
		minY = min(minY, c.Y-n.height/2)
	}
	for _, n := range l.nodes {
		c := centers[n.id]
		out[n.id] = graph.Position{X: c.X - minX, Y: c.Y - minY}
	}
	return out, nil
}

// parsePlain reads node centers, in points with y growing downwards, from
// graphviz "plain" output.
func parsePlain(data []byte) (map[string]graph.Position, error) {
	centers := map[string]graph.Position{}
	height := 0.0
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "graph "):
			f := strings.Fields(line)
			if len(f) < 4 {
				return nil, fmt.Errorf("plain output: bad graph line %q", line)
			}
			h, err := strconv.ParseFloat(f[3], 64)
			if err != nil {
				return nil, fmt.Errorf("plain output: graph height: %w", err)
			}
			height = h
		case strings.HasPrefix(line, "node "):
			name, rest, err := plainName(line[len("node "):])
			if err != nil {
				return nil, err
			}
			f := strings.Fields(rest)
			if len(f) < 2 {
				return nil, fmt.Errorf("plain output: bad node line %q", line)
			}
			x, errX := strconv.ParseFloat(f[0], 64)
			y, errY := strconv.ParseFloat(f[1], 64)
			if errX != nil || errY != nil {
				return nil, fmt.Errorf("plain output: bad node position %q", line)
			}
			centers[name] = graph.Position{
				X: math.Round(x * pointsPerInch),
				Y: math.Round((height - y) * pointsPerInch),
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("plain output: %w", err)
	}
	return centers, nil
}

func plainName(s string) (name, rest string, err error) {
	if strings.HasPrefix(s, `"`) {
		quoted, err := strconv.QuotedPrefix(s)
		if err != nil {
			return "", "", fmt.Errorf("plain output: node name: %w", err)
		}
		name, err := strconv.Unquote(quoted)
		if err != nil {
			return "", "", fmt.Errorf("plain output: node name: %w", err)
		}
		return name, s[len(quoted):], nil
	}
	name, rest, _ = strings.Cut(s, " ")
	return name, rest, nil
}

// Package layout positions commit graph nodes with a hierarchical layered
// layout. Every call builds its own layering context so nothing leaks between
// repositories.
package layout

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/thiagokokada/gitodyssey/internal/graph"
	"github.com/thiagokokada/gitodyssey/internal/metrics"
)

type Direction string

const (
	TopToBottom Direction = "TB"
	LeftToRight Direction = "LR"
)

func ParseDirection(raw string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(raw))) {
	case "", TopToBottom:
		return TopToBottom, nil
	case LeftToRight:
		return LeftToRight, nil
	default:
		return "", fmt.Errorf("unknown layout direction %q", raw)
	}
}

// Toggle flips between TB and LR.
func (d Direction) Toggle() Direction {
	if d == LeftToRight {
		return TopToBottom
	}
	return LeftToRight
}

func (d Direction) Horizontal() bool {
	return d == LeftToRight
}

type Options struct {
	NodeWidth  float64 `yaml:"node_width"`
	NodeHeight float64 `yaml:"node_height"`
	RankSep    float64 `yaml:"rank_sep"`
	NodeSep    float64 `yaml:"node_sep"`
}

func DefaultOptions() Options {
	return Options{
		NodeWidth:  350,
		NodeHeight: 130,
		RankSep:    80,
		NodeSep:    200,
	}
}

// Layerer is one layout run. Implementations are single use.
type Layerer interface {
	SetNode(id string, width, height float64)
	SetEdge(source, target string)
	// Run returns node centers keyed by node id.
	Run(dir Direction, rankSep, nodeSep float64) (map[string]graph.Position, error)
}

type LayererFactory func() Layerer

type Engine struct {
	opts       Options
	newLayerer LayererFactory
	// fallback runs when newLayerer fails. Only the default engine has one.
	fallback LayererFactory
}

type Option func(*Engine)

// WithLayerer replaces graphviz dot. A custom layerer has no fallback.
func WithLayerer(factory LayererFactory) Option {
	return func(e *Engine) {
		if factory != nil {
			e.newLayerer = factory
			e.fallback = nil
		}
	}
}

func New(opts Options, options ...Option) *Engine {
	def := DefaultOptions()
	if opts.NodeWidth <= 0 {
		opts.NodeWidth = def.NodeWidth
	}
	if opts.NodeHeight <= 0 {
		opts.NodeHeight = def.NodeHeight
	}
	if opts.RankSep < 0 {
		opts.RankSep = def.RankSep
	}
	if opts.NodeSep < 0 {
		opts.NodeSep = def.NodeSep
	}
	e := &Engine{opts: opts, newLayerer: NewGraphviz, fallback: NewLayered}
	for _, o := range options {
		o(e)
	}
	return e
}

func (e *Engine) Options() Options {
	return e.opts
}

// Layout returns a new graph whose nodes carry top-left positions and handle
// orientation for dir. Edges are returned unchanged; edges to nodes outside
// the graph do not take part in the layout.
func (e *Engine) Layout(g graph.Graph, dir Direction) (graph.Graph, error) {
	if dir != TopToBottom && dir != LeftToRight {
		return graph.Graph{}, fmt.Errorf("unknown layout direction %q", dir)
	}
	start := time.Now()
	defer func() {
		metrics.ObserveSince(metrics.LayoutDuration.WithLabelValues(string(dir)), start)
		metrics.LayoutNodes.Observe(float64(len(g.Nodes)))
	}()
	centers, err := e.run(e.newLayerer, g, dir)
	if err != nil && e.fallback != nil {
		slog.Warn("graphviz layout failed, using built-in layered layout", slog.Any("error", err))
		centers, err = e.run(e.fallback, g, dir)
	}
	if err != nil {
		return graph.Graph{}, fmt.Errorf("layout: %w", err)
	}

	source, target := graph.HandleBottom, graph.HandleTop
	if dir.Horizontal() {
		source, target = graph.HandleRight, graph.HandleLeft
	}
	out := graph.Graph{
		Nodes: make([]graph.Node, len(g.Nodes)),
		Edges: g.Edges,
	}
	for i, n := range g.Nodes {
		center, ok := centers[n.ID]
		if !ok {
			return graph.Graph{}, fmt.Errorf("layout: node %s was not positioned", n.ID)
		}
		n.Position = graph.Position{
			X: center.X - e.opts.NodeWidth/2,
			Y: center.Y - e.opts.NodeHeight/2,
		}
		n.SourcePosition = source
		n.TargetPosition = target
		out.Nodes[i] = n
	}
	return out, nil
}

func (e *Engine) run(factory LayererFactory, g graph.Graph, dir Direction) (map[string]graph.Position, error) {
	l := factory()
	for _, n := range g.Nodes {
		l.SetNode(n.ID, e.opts.NodeWidth, e.opts.NodeHeight)
	}
	for _, edge := range g.ResolvedEdges() {
		if edge.Source == edge.Target {
			continue
		}
		l.SetEdge(edge.Source, edge.Target)
	}
	return l.Run(dir, e.opts.RankSep, e.opts.NodeSep)
}

package layout

import (
	"math"
	"slices"

	"github.com/thiagokokada/gitodyssey/internal/graph"
)

const crossingSweeps = 8

type layeredNode struct {
	id     string
	width  float64
	height float64
	dummy  bool
}

// layered ranks nodes by longest path from the sources, inserts dummy nodes
// on edges spanning several ranks, reduces crossings with barycenter sweeps
// and assigns grid coordinates. Iteration only ever walks slices in insertion
// order so the result is deterministic.
type layered struct {
	nodes []layeredNode
	index map[string]int
	edges [][2]int
	seen  map[[2]int]struct{}
}

// NewLayered returns a fresh built-in layering context.
func NewLayered() Layerer {
	return &layered{
		index: map[string]int{},
		seen:  map[[2]int]struct{}{},
	}
}

func (l *layered) SetNode(id string, width, height float64) {
	if i, ok := l.index[id]; ok {
		l.nodes[i].width = width
		l.nodes[i].height = height
		return
	}
	l.index[id] = len(l.nodes)
	l.nodes = append(l.nodes, layeredNode{id: id, width: width, height: height})
}

func (l *layered) SetEdge(source, target string) {
	u, okU := l.index[source]
	v, okV := l.index[target]
	if !okU || !okV || u == v {
		return
	}
	key := [2]int{u, v}
	if _, ok := l.seen[key]; ok {
		return
	}
	l.seen[key] = struct{}{}
	l.edges = append(l.edges, key)
}

func (l *layered) Run(dir Direction, rankSep, nodeSep float64) (map[string]graph.Position, error) {
	out := make(map[string]graph.Position, len(l.nodes))
	if len(l.nodes) == 0 {
		return out, nil
	}
	edges := l.acyclicEdges()
	rank := l.longestPathRanks(edges)
	layers, upper, lower := l.buildLayers(edges, rank)
	layers = orderLayers(layers, upper, lower)

	horizontal := dir.Horizontal()
	primarySize := func(n layeredNode) float64 {
		if horizontal {
			return n.width
		}
		return n.height
	}
	crossSize := func(n layeredNode) float64 {
		if horizontal {
			return n.height
		}
		return n.width
	}

	primary := 0.0
	minCross := math.Inf(1)
	coords := make([]graph.Position, len(l.nodes))
	for _, layer := range layers {
		rankSize := 0.0
		for _, v := range layer {
			rankSize = max(rankSize, primarySize(l.nodes[v]))
		}
		center := primary + rankSize/2

		offsets := make([]float64, len(layer))
		for i, v := range layer {
			if i == 0 {
				offsets[i] = crossSize(l.nodes[v]) / 2
				continue
			}
			prev := l.nodes[layer[i-1]]
			cur := l.nodes[v]
			sep := nodeSep
			if prev.dummy || cur.dummy {
				sep = nodeSep / 2
			}
			offsets[i] = offsets[i-1] + crossSize(prev)/2 + sep + crossSize(cur)/2
		}
		mid := (offsets[0] + offsets[len(offsets)-1]) / 2
		for i, v := range layer {
			cross := offsets[i] - mid
			if horizontal {
				coords[v] = graph.Position{X: center, Y: cross}
			} else {
				coords[v] = graph.Position{X: cross, Y: center}
			}
			if !l.nodes[v].dummy {
				minCross = min(minCross, cross-crossSize(l.nodes[v])/2)
			}
		}
		primary += rankSize + rankSep
	}

	for i, n := range l.nodes {
		if n.dummy {
			continue
		}
		p := coords[i]
		if horizontal {
			p.Y -= minCross
		} else {
			p.X -= minCross
		}
		out[n.id] = p
	}
	return out, nil
}

// acyclicEdges drops edges that close a cycle, visiting nodes in insertion order.
func (l *layered) acyclicEdges() [][2]int {
	adj := make([][]int, len(l.nodes))
	for i, e := range l.edges {
		adj[e[0]] = append(adj[e[0]], i)
	}
	const (
		unvisited = iota
		active
		done
	)
	state := make([]int, len(l.nodes))
	back := make([]bool, len(l.edges))
	var visit func(u int)
	visit = func(u int) {
		state[u] = active
		for _, ei := range adj[u] {
			v := l.edges[ei][1]
			switch state[v] {
			case unvisited:
				visit(v)
			case active:
				back[ei] = true
			}
		}
		state[u] = done
	}
	for u := range l.nodes {
		if state[u] == unvisited {
			visit(u)
		}
	}
	out := make([][2]int, 0, len(l.edges))
	for i, e := range l.edges {
		if !back[i] {
			out = append(out, e)
		}
	}
	return out
}

// longestPathRanks puts sources on rank 0 and every target strictly below
// all of its sources.
func (l *layered) longestPathRanks(edges [][2]int) []int {
	n := len(l.nodes)
	indegree := make([]int, n)
	adj := make([][]int, n)
	for _, e := range edges {
		adj[e[0]] = append(adj[e[0]], e[1])
		indegree[e[1]]++
	}
	rank := make([]int, n)
	queue := make([]int, 0, n)
	for v := range n {
		if indegree[v] == 0 {
			queue = append(queue, v)
		}
	}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range adj[u] {
			rank[v] = max(rank[v], rank[u]+1)
			indegree[v]--
			if indegree[v] == 0 {
				queue = append(queue, v)
			}
		}
	}
	return rank
}

// buildLayers groups nodes per rank and splits long edges with dummy nodes.
// upper and lower hold each node's neighbours on the adjacent ranks.
func (l *layered) buildLayers(edges [][2]int, rank []int) (layers [][]int, upper, lower [][]int) {
	maxRank := 0
	for _, r := range rank {
		maxRank = max(maxRank, r)
	}
	for range l.nodes {
		upper = append(upper, nil)
		lower = append(lower, nil)
	}
	link := func(u, v int) {
		lower[u] = append(lower[u], v)
		upper[v] = append(upper[v], u)
	}
	for _, e := range edges {
		u, v := e[0], e[1]
		prev := u
		for r := rank[u] + 1; r < rank[v]; r++ {
			l.nodes = append(l.nodes, layeredNode{dummy: true})
			rank = append(rank, r)
			upper = append(upper, nil)
			lower = append(lower, nil)
			d := len(l.nodes) - 1
			link(prev, d)
			prev = d
		}
		link(prev, v)
	}
	layers = make([][]int, maxRank+1)
	for v, r := range rank {
		layers[r] = append(layers[r], v)
	}
	return layers, upper, lower
}

func orderLayers(layers [][]int, upper, lower [][]int) [][]int {
	pos := make([]int, len(upper))
	reindex := func(layer []int) {
		for i, v := range layer {
			pos[v] = i
		}
	}
	for _, layer := range layers {
		reindex(layer)
	}
	best := cloneLayers(layers)
	bestCrossings := totalCrossings(layers, lower, pos)
	for sweep := range crossingSweeps {
		if sweep%2 == 0 {
			for r := 1; r < len(layers); r++ {
				sortByBarycenter(layers[r], upper, pos)
				reindex(layers[r])
			}
		} else {
			for r := len(layers) - 2; r >= 0; r-- {
				sortByBarycenter(layers[r], lower, pos)
				reindex(layers[r])
			}
		}
		if c := totalCrossings(layers, lower, pos); c < bestCrossings {
			bestCrossings = c
			best = cloneLayers(layers)
		}
	}
	return best
}

func sortByBarycenter(layer []int, neighbours [][]int, pos []int) {
	type keyed struct {
		v    int
		bary float64
		cur  int
	}
	keys := make([]keyed, len(layer))
	for i, v := range layer {
		bary := float64(pos[v])
		if adj := neighbours[v]; len(adj) > 0 {
			sum := 0
			for _, w := range adj {
				sum += pos[w]
			}
			bary = float64(sum) / float64(len(adj))
		}
		keys[i] = keyed{v: v, bary: bary, cur: pos[v]}
	}
	slices.SortStableFunc(keys, func(a, b keyed) int {
		switch {
		case a.bary < b.bary:
			return -1
		case a.bary > b.bary:
			return 1
		default:
			return a.cur - b.cur
		}
	})
	for i, k := range keys {
		layer[i] = k.v
	}
}

func totalCrossings(layers [][]int, lower [][]int, pos []int) int {
	total := 0
	for r := 0; r+1 < len(layers); r++ {
		var pairs [][2]int
		for _, u := range layers[r] {
			for _, v := range lower[u] {
				pairs = append(pairs, [2]int{pos[u], pos[v]})
			}
		}
		for i := range pairs {
			for j := i + 1; j < len(pairs); j++ {
				a, b := pairs[i], pairs[j]
				if (a[0]-b[0])*(a[1]-b[1]) < 0 {
					total++
				}
			}
		}
	}
	return total
}

func cloneLayers(layers [][]int) [][]int {
	out := make([][]int, len(layers))
	for i, layer := range layers {
		out[i] = slices.Clone(layer)
	}
	return out
}

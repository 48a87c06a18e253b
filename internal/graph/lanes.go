package graph

import (
	"strings"

	"github.com/thiagokokada/gitodyssey/internal/repo"
)

// Lanes renders one text lane row per commit ("*" marks the commit column,
// "|" a pass-through lane). Commits are expected newest first.
func Lanes(commits []repo.Commit, maxColumns int) []string {
	builder := newLaneBuilder(maxColumns)
	rows := make([]string, 0, len(commits))
	for _, c := range commits {
		rows = append(rows, builder.Line(c.SHA, c.Parents))
	}
	return rows
}

type laneBuilder struct {
	columns    []string
	maxColumns int
}

func newLaneBuilder(maxColumns int) *laneBuilder {
	return &laneBuilder{maxColumns: maxColumns}
}

func (g *laneBuilder) Line(sha string, parents []string) string {
	if sha == "" {
		return ""
	}
	idx := g.columnIndex(sha)
	if idx == -1 {
		g.columns = append([]string{sha}, g.columns...)
		idx = 0
	}
	cols := len(g.columns)
	if g.maxColumns > 0 && cols > g.maxColumns {
		cols = g.maxColumns
	}
	// A commit in a hidden lane is drawn in the last visible one.
	marker := min(idx, cols-1)
	var b strings.Builder
	for i := range cols {
		if i == marker {
			b.WriteString("*")
		} else {
			b.WriteString("|")
		}
		if i != cols-1 {
			b.WriteString(" ")
		}
	}
	g.advance(idx, parents)
	return b.String()
}

func (g *laneBuilder) columnIndex(sha string) int {
	for i, h := range g.columns {
		if h == sha {
			return i
		}
	}
	return -1
}

func (g *laneBuilder) advance(idx int, parents []string) {
	if len(parents) == 0 {
		g.columns = append(g.columns[:idx], g.columns[idx+1:]...)
		return
	}
	primary := parents[0]
	if existing := g.columnIndex(primary); existing != -1 && existing != idx {
		// Primary parent already has a lane: this branch merges into it.
		g.columns = append(g.columns[:idx], g.columns[idx+1:]...)
	} else {
		g.columns[idx] = primary
	}
	for i := 1; i < len(parents); i++ {
		parent := parents[i]
		if g.columnIndex(parent) != -1 {
			continue
		}
		pos := min(idx+i, len(g.columns))
		g.columns = append(g.columns[:pos], append([]string{parent}, g.columns[pos:]...)...)
	}
}

package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pmezard/go-difflib/difflib"
)

const (
	StatusAdded    = "added"
	StatusDeleted  = "deleted"
	StatusModified = "modified"
	StatusRenamed  = "renamed"
)

// fileChanges diffs c against its first parent, or against the empty tree
// for root commits.
func fileChanges(c *object.Commit, contextLines int) ([]FileChangeText, error) {
	changes, err := treeChanges(c)
	if err != nil {
		return nil, err
	}
	out := make([]FileChangeText, 0, len(changes))
	for _, ch := range changes {
		fc, err := diffChange(ch, contextLines)
		if err != nil {
			return nil, err
		}
		out = append(out, fc)
	}
	return out, nil
}

func treeChanges(c *object.Commit) (object.Changes, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("load tree: %w", err)
	}
	var parentTree *object.Tree
	if c.NumParents() > 0 {
		parent, err := c.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("load parent: %w", err)
		}
		if parentTree, err = parent.Tree(); err != nil {
			return nil, fmt.Errorf("load parent tree: %w", err)
		}
	}
	changes, err := object.DiffTreeWithOptions(context.Background(), parentTree, tree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}
	return changes, nil
}

// FileChangeText is one changed file with the old and new contents it was
// diffed from.
type FileChangeText struct {
	OldPath string
	NewPath string
	Status  string
	Binary  bool
	Old     string
	New     string
	Hunks   []Hunk
}

// Path is the path shown for the change: the new path unless the file was
// deleted.
func (f FileChangeText) Path() string {
	if f.NewPath != "" {
		return f.NewPath
	}
	return f.OldPath
}

type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	// Content holds the hunk lines prefixed with ' ', '-' or '+'.
	Content string
}

func diffChange(ch *object.Change, contextLines int) (FileChangeText, error) {
	fc := FileChangeText{OldPath: ch.From.Name, NewPath: ch.To.Name}
	switch {
	case fc.OldPath == "":
		fc.Status = StatusAdded
	case fc.NewPath == "":
		fc.Status = StatusDeleted
	case fc.OldPath != fc.NewPath:
		fc.Status = StatusRenamed
	default:
		fc.Status = StatusModified
	}

	from, to, err := ch.Files()
	if err != nil {
		return FileChangeText{}, fmt.Errorf("%s: load blobs: %w", fc.Path(), err)
	}
	for _, f := range []*object.File{from, to} {
		if f == nil {
			continue
		}
		binary, err := f.IsBinary()
		if err != nil {
			return FileChangeText{}, fmt.Errorf("%s: %w", fc.Path(), err)
		}
		if binary {
			fc.Binary = true
			return fc, nil
		}
	}
	if from != nil {
		if fc.Old, err = from.Contents(); err != nil {
			return FileChangeText{}, fmt.Errorf("%s: read old contents: %w", fc.Path(), err)
		}
	}
	if to != nil {
		if fc.New, err = to.Contents(); err != nil {
			return FileChangeText{}, fmt.Errorf("%s: read new contents: %w", fc.Path(), err)
		}
	}
	fc.Hunks = computeHunks(fc.Old, fc.New, contextLines)
	return fc, nil
}

// computeHunks groups the differences between a and b into unified diff
// hunks with contextLines lines of context.
func computeHunks(a, b string, contextLines int) []Hunk {
	if a == b {
		return nil
	}
	oldLines, newLines := splitLines(a), splitLines(b)
	m := difflib.NewMatcher(oldLines, newLines)
	var hunks []Hunk
	for _, group := range m.GetGroupedOpCodes(contextLines) {
		first, last := group[0], group[len(group)-1]
		h := Hunk{
			OldStart: unifiedStart(first.I1, last.I2),
			OldLines: last.I2 - first.I1,
			NewStart: unifiedStart(first.J1, last.J2),
			NewLines: last.J2 - first.J1,
		}
		var body strings.Builder
		for _, op := range group {
			switch op.Tag {
			case 'e':
				writeLines(&body, ' ', oldLines[op.I1:op.I2])
			case 'd':
				writeLines(&body, '-', oldLines[op.I1:op.I2])
			case 'i':
				writeLines(&body, '+', newLines[op.J1:op.J2])
			case 'r':
				writeLines(&body, '-', oldLines[op.I1:op.I2])
				writeLines(&body, '+', newLines[op.J1:op.J2])
			}
		}
		h.Content = body.String()
		hunks = append(hunks, h)
	}
	return hunks
}

// unifiedStart follows the unified diff convention of reporting the line
// before an empty range.
func unifiedStart(start, stop int) int {
	if stop == start {
		return start
	}
	return start + 1
}

func writeLines(b *strings.Builder, prefix byte, lines []string) {
	for _, l := range lines {
		b.WriteByte(prefix)
		b.WriteString(l)
		if !strings.HasSuffix(l, "\n") {
			b.WriteString("\n\\ No newline at end of file\n")
		}
	}
}

// splitLines keeps line terminators. Unlike difflib.SplitLines it does not
// append an empty trailing line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// unifiedDiff renders one file change in git's diff format.
func unifiedDiff(fc FileChangeText, contextLines int) (string, error) {
	oldName, newName := "a/"+fc.OldPath, "b/"+fc.NewPath
	if fc.OldPath == "" {
		oldName = "/dev/null"
	}
	if fc.NewPath == "" {
		newName = "/dev/null"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "diff --git %s %s\n", quotePath("a/"+pathOr(fc.OldPath, fc.NewPath)), quotePath("b/"+pathOr(fc.NewPath, fc.OldPath)))
	switch fc.Status {
	case StatusAdded:
		b.WriteString("new file\n")
	case StatusDeleted:
		b.WriteString("deleted file\n")
	case StatusRenamed:
		fmt.Fprintf(&b, "rename from %s\nrename to %s\n", fc.OldPath, fc.NewPath)
	}
	if fc.Binary {
		fmt.Fprintf(&b, "Binary files %s and %s differ\n", oldName, newName)
		return b.String(), nil
	}
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(fc.Old),
		B:        splitLines(fc.New),
		FromFile: oldName,
		ToFile:   newName,
		Context:  contextLines,
	})
	if err != nil {
		return "", fmt.Errorf("%s: render diff: %w", fc.Path(), err)
	}
	b.WriteString(text)
	return b.String(), nil
}

func pathOr(p, fallback string) string {
	if p == "" {
		return fallback
	}
	return p
}

func quotePath(p string) string {
	if !strings.ContainsAny(p, " \t\"\\") {
		return p
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(p) + `"`
}

package git

import (
	"fmt"
	"strings"
)

// FileSection marks where a file's diff starts in the rendered text.
// Line is 1-based.
type FileSection struct {
	Path string
	Line int
}

// Diff renders the commit header followed by a git style diff of every
// changed file.
func (s *Service) Diff(sha string, contextLines int) (string, []FileSection, error) {
	if sha == "" {
		return "", nil, fmt.Errorf("commit not specified")
	}
	c, err := s.commitObject(sha)
	if err != nil {
		return "", nil, err
	}
	header := FormatCommitHeader(toCommit(c))
	changes, err := fileChanges(c, contextLines)
	if err != nil {
		return "", nil, fmt.Errorf("diff %s: %w", sha, err)
	}
	if len(changes) == 0 {
		return header + "\nNo file level changes.", nil, nil
	}

	var b strings.Builder
	b.WriteString(header)
	line := strings.Count(header, "\n") + 1
	sections := make([]FileSection, 0, len(changes))
	for _, fc := range changes {
		text, err := unifiedDiff(fc, contextLines)
		if err != nil {
			return "", nil, err
		}
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		sections = append(sections, FileSection{Path: fc.Path(), Line: line})
		line += strings.Count(text, "\n")
		b.WriteString(text)
	}
	return b.String(), sections, nil
}

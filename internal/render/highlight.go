package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/thiagokokada/gitodyssey/internal/git"
	"github.com/thiagokokada/gitodyssey/internal/repo"
)

func styleForPalette(p palette) *chroma.Style {
	if st := styles.Get(p.Chroma); st != nil {
		return st
	}
	return styles.Fallback
}

func lexerForPath(path string) chroma.Lexer {
	if path == "" {
		return nil
	}
	lexer := lexers.Match(path)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return chroma.Coalesce(lexer)
}

// HunkHeader formats the "@@ -a,b +c,d @@" line of h.
func HunkHeader(h repo.FileHunk) string {
	return fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
}

// hunk renders the body of h. With colours on, the diff markers use the
// palette and the code after them is highlighted for the language of path.
func (r *Renderer) hunk(b *strings.Builder, path string, h repo.FileHunk) {
	b.WriteString(r.paint(r.styles.header, HunkHeader(h)))
	b.WriteByte('\n')
	content := strings.TrimSuffix(h.Content, "\n")
	if content == "" {
		return
	}
	var lexer chroma.Lexer
	if r.color {
		lexer = lexerForPath(path)
	}
	for line := range strings.SplitSeq(content, "\n") {
		if line == "" {
			b.WriteByte('\n')
			continue
		}
		marker, code := line[:1], line[1:]
		switch marker {
		case "+":
			b.WriteString(r.paint(r.styles.add, marker))
		case "-":
			b.WriteString(r.paint(r.styles.del, marker))
		case "\\":
			b.WriteString(r.paint(r.styles.muted, line))
			b.WriteByte('\n')
			continue
		default:
			b.WriteString(marker)
		}
		b.WriteString(r.highlightCode(lexer, code))
		b.WriteByte('\n')
	}
}

func (r *Renderer) highlightCode(lexer chroma.Lexer, code string) string {
	if lexer == nil || code == "" {
		return code
	}
	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var out strings.Builder
	if err := formatters.TTY256.Format(&out, r.chroma, iterator); err != nil {
		return code
	}
	return strings.TrimRight(out.String(), "\n")
}

// Diff writes git style diff text. sections tell which file each region of
// the text belongs to, so code lines get the right lexer.
func (r *Renderer) Diff(text string, sections []git.FileSection) error {
	var b strings.Builder
	var lexer chroma.Lexer
	next := 0
	inHeader := true
	for i, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		lineNo := i + 1
		if next < len(sections) && sections[next].Line == lineNo {
			inHeader = false
			lexer = nil
			if r.color {
				lexer = lexerForPath(sections[next].Path)
			}
			next++
			b.WriteString(r.paint(r.styles.bold, line))
			b.WriteByte('\n')
			continue
		}
		switch {
		case inHeader:
			if strings.HasPrefix(line, "commit ") {
				line = r.paint(r.styles.sha, line)
			}
			b.WriteString(line)
		case strings.HasPrefix(line, "--- "), strings.HasPrefix(line, "+++ "):
			b.WriteString(r.paint(r.styles.bold, line))
		case strings.HasPrefix(line, "@@"):
			b.WriteString(r.paint(r.styles.header, line))
		case strings.HasPrefix(line, "+"):
			b.WriteString(r.paint(r.styles.add, "+"))
			b.WriteString(r.highlightCode(lexer, line[1:]))
		case strings.HasPrefix(line, "-"):
			b.WriteString(r.paint(r.styles.del, "-"))
			b.WriteString(r.highlightCode(lexer, line[1:]))
		case strings.HasPrefix(line, " "):
			b.WriteByte(' ')
			b.WriteString(r.highlightCode(lexer, line[1:]))
		default:
			b.WriteString(r.paint(r.styles.muted, line))
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

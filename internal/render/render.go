// Package render draws commit logs, commit details and chat transcripts on
// a terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"

	"github.com/thiagokokada/gitodyssey/internal/git"
	"github.com/thiagokokada/gitodyssey/internal/graph"
	"github.com/thiagokokada/gitodyssey/internal/repo"
	"github.com/thiagokokada/gitodyssey/internal/selection"
)

// DefaultMaxLanes caps the lane columns drawn left of each log line.
const DefaultMaxLanes = 12

type Options struct {
	Color    bool
	Theme    ThemePreference
	MaxLanes int
}

type styleSet struct {
	sha       lipgloss.Style
	highlight lipgloss.Style
	muted     lipgloss.Style
	add       lipgloss.Style
	del       lipgloss.Style
	header    lipgloss.Style
	bold      lipgloss.Style
}

type Renderer struct {
	w        io.Writer
	color    bool
	maxLanes int
	chroma   *chroma.Style
	styles   styleSet
	now      func() time.Time
}

func New(w io.Writer, opts Options) *Renderer {
	lg := lipgloss.NewRenderer(w)
	if opts.Color {
		lg.SetColorProfile(termenv.ANSI256)
	} else {
		lg.SetColorProfile(termenv.Ascii)
	}
	p := lightPalette
	if opts.Color {
		p = paletteForPreference(opts.Theme)
	}
	maxLanes := opts.MaxLanes
	if maxLanes <= 0 {
		maxLanes = DefaultMaxLanes
	}
	return &Renderer{
		w:        w,
		color:    opts.Color,
		maxLanes: maxLanes,
		chroma:   styleForPalette(p),
		styles: styleSet{
			sha:       lg.NewStyle().Foreground(p.SHA),
			highlight: lg.NewStyle().Foreground(p.Highlight).Bold(true),
			muted:     lg.NewStyle().Foreground(p.Muted),
			add:       lg.NewStyle().Foreground(p.DiffAdd),
			del:       lg.NewStyle().Foreground(p.DiffDel),
			header:    lg.NewStyle().Foreground(p.DiffHeader),
			bold:      lg.NewStyle().Bold(true),
		},
		now: time.Now,
	}
}

func (r *Renderer) paint(style lipgloss.Style, s string) string {
	if !r.color || s == "" {
		return s
	}
	return style.Render(s)
}

// Log writes one line per commit, newest first, with the lane graph on the
// left. Highlighted commits are marked with ">".
func (r *Renderer) Log(commits []repo.Commit, highlighted selection.Set) error {
	lanes := graph.Lanes(commits, r.maxLanes)
	var b strings.Builder
	for i, c := range commits {
		marker := "  "
		subject := c.Subject()
		if highlighted.Has(c.SHA) {
			marker = r.paint(r.styles.highlight, ">") + " "
			subject = r.paint(r.styles.highlight, subject)
		}
		b.WriteString(marker)
		b.WriteString(lanes[i])
		b.WriteByte(' ')
		b.WriteString(r.paint(r.styles.sha, repo.ShortSHA(c.SHA)))
		b.WriteByte(' ')
		b.WriteString(subject)
		if meta := r.meta(c); meta != "" {
			b.WriteByte(' ')
			b.WriteString(r.paint(r.styles.muted, "("+meta+")"))
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *Renderer) meta(c repo.Commit) string {
	var parts []string
	if author := c.AuthorName(); author != "" {
		parts = append(parts, author)
	}
	if c.Time != 0 {
		parts = append(parts, humanize.RelTime(c.When(), r.now(), "ago", "from now"))
	}
	return strings.Join(parts, ", ")
}

// Commit writes the header, the summary when present and every file change
// with its hunks.
func (r *Renderer) Commit(c repo.Commit) error {
	var b strings.Builder
	header := git.FormatCommitHeader(c)
	first, rest, _ := strings.Cut(header, "\n")
	b.WriteString(r.paint(r.styles.sha, first))
	b.WriteByte('\n')
	b.WriteString(rest)
	if summary := strings.TrimSpace(c.SummaryText()); summary != "" {
		b.WriteByte('\n')
		b.WriteString(r.paint(r.styles.bold, "Summary:"))
		b.WriteString("\n    ")
		b.WriteString(strings.ReplaceAll(summary, "\n", "\n    "))
		b.WriteByte('\n')
	}
	for _, fc := range c.FileChanges {
		b.WriteByte('\n')
		r.fileChange(&b, fc)
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *Renderer) fileChange(b *strings.Builder, fc repo.FileChange) {
	title := fc.Path
	if fc.OldPath != "" && fc.NewPath != "" && fc.OldPath != fc.NewPath {
		title = fc.OldPath + " => " + fc.NewPath
	}
	fmt.Fprintf(b, "%s %s\n", r.paint(r.styles.bold, title), r.paint(r.styles.muted, "["+fc.Status+"]"))
	if len(fc.Hunks) == 0 {
		b.WriteString(r.paint(r.styles.muted, "    (no textual changes)"))
		b.WriteByte('\n')
		return
	}
	for _, h := range fc.Hunks {
		r.hunk(b, fc.Path, h)
	}
}

// Chat writes a transcript, oldest message first, listing the commits each
// answer cites.
func (r *Renderer) Chat(messages []repo.ChatMessage, showCitations bool) error {
	var b strings.Builder
	for i, msg := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		who := "you"
		style := r.styles.highlight
		if msg.Role == repo.RoleAssistant {
			who = "odyssey"
			style = r.styles.header
		}
		b.WriteString(r.paint(style, who))
		if !msg.Timestamp.IsZero() {
			b.WriteByte(' ')
			b.WriteString(r.paint(r.styles.muted, humanize.RelTime(msg.Timestamp, r.now(), "ago", "from now")))
		}
		b.WriteByte('\n')
		b.WriteString(strings.TrimRight(msg.Content, "\n"))
		b.WriteByte('\n')
		if len(msg.CitedCommits) == 0 {
			continue
		}
		if !showCitations {
			fmt.Fprintf(&b, "%s\n", r.paint(r.styles.muted, fmt.Sprintf("(%d cited commits)", len(msg.CitedCommits))))
			continue
		}
		for _, cite := range msg.CitedCommits {
			fmt.Fprintf(&b, "  %s %3.0f%% %s\n",
				r.paint(r.styles.sha, repo.ShortSHA(cite.SHA)),
				cite.Similarity*100,
				strings.TrimSpace(firstLine(cite.Message)))
		}
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

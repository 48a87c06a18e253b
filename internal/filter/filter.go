// Package filter evaluates structured commit filters.
package filter

import (
	"log/slog"
	"strings"
	"time"

	"github.com/thiagokokada/gitodyssey/internal/repo"
)

// Criteria is the structured filter form. An empty field matches everything.
type Criteria struct {
	Message   string `json:"message" form:"message"`
	Branch    string `json:"branch" form:"branch"`
	Commit    string `json:"commit" form:"commit"`
	File      string `json:"file" form:"file"`
	Summary   string `json:"summary" form:"summary"`
	StartDate string `json:"startDate" form:"startDate"`
	EndDate   string `json:"endDate" form:"endDate"`
}

// HasActiveFilters reports whether any field is set.
func HasActiveFilters(c Criteria) bool {
	return c.Message != "" ||
		c.Branch != "" ||
		c.Commit != "" ||
		c.File != "" ||
		c.Summary != "" ||
		c.StartDate != "" ||
		c.EndDate != ""
}

// Apply returns the commits matching every set field, in input order. With no
// active filter the input slice itself is returned.
func Apply(commits []repo.Commit, c Criteria, branches []repo.Branch) []repo.Commit {
	if !HasActiveFilters(c) {
		return commits
	}
	m := newMatcher(c, branches)
	filtered := make([]repo.Commit, 0, len(commits))
	for _, commit := range commits {
		if m.match(commit) {
			filtered = append(filtered, commit)
		}
	}
	return filtered
}

// BySHAs returns the commits whose SHA is in shas, keeping the commit order.
func BySHAs(commits []repo.Commit, shas []string) []repo.Commit {
	if len(shas) == 0 {
		return []repo.Commit{}
	}
	want := make(map[string]struct{}, len(shas))
	for _, sha := range shas {
		want[sha] = struct{}{}
	}
	out := make([]repo.Commit, 0, len(shas))
	for _, commit := range commits {
		if _, ok := want[commit.SHA]; ok {
			out = append(out, commit)
		}
	}
	return out
}

// SHAs lists the SHAs of commits.
func SHAs(commits []repo.Commit) []string {
	out := make([]string, len(commits))
	for i, c := range commits {
		out[i] = c.SHA
	}
	return out
}

type matcher struct {
	message string
	commit  string
	file    string
	summary string

	branchSet    bool
	branchCommit map[string]struct{}

	start *time.Time
	end   *time.Time
}

func newMatcher(c Criteria, branches []repo.Branch) matcher {
	m := matcher{
		message: strings.ToLower(c.Message),
		commit:  strings.ToLower(c.Commit),
		file:    strings.ToLower(c.File),
		summary: strings.ToLower(c.Summary),
		start:   parseBound("startDate", c.StartDate),
		end:     parseBound("endDate", c.EndDate),
	}
	if c.Branch != "" {
		m.branchSet = true
		for _, b := range branches {
			if !strings.EqualFold(b.Name, c.Branch) {
				continue
			}
			m.branchCommit = make(map[string]struct{}, len(b.Commits))
			for _, sha := range b.Commits {
				m.branchCommit[sha] = struct{}{}
			}
			break
		}
		if m.branchCommit == nil {
			slog.Debug("filter branch not found", slog.String("branch", c.Branch))
		}
	}
	return m
}

func (m matcher) match(c repo.Commit) bool {
	if m.message != "" && !strings.Contains(strings.ToLower(c.Message), m.message) {
		return false
	}
	if m.branchSet {
		// A missing branch matches nothing.
		if _, ok := m.branchCommit[c.SHA]; !ok {
			return false
		}
	}
	if m.commit != "" && !strings.Contains(strings.ToLower(c.SHA), m.commit) {
		return false
	}
	if m.file != "" && !m.touchesFile(c) {
		return false
	}
	if m.summary != "" && !strings.Contains(strings.ToLower(c.SummaryText()), m.summary) {
		return false
	}
	return m.inRange(c.When())
}

func (m matcher) touchesFile(c repo.Commit) bool {
	for _, fc := range c.FileChanges {
		for _, p := range []string{fc.NewPath, fc.OldPath, fc.Path} {
			if p != "" && strings.Contains(strings.ToLower(p), m.file) {
				return true
			}
		}
	}
	return false
}

func (m matcher) inRange(when time.Time) bool {
	if m.start != nil && when.Before(*m.start) {
		return false
	}
	if m.end != nil && when.After(*m.end) {
		return false
	}
	return true
}

// ParseDate accepts a calendar date (UTC midnight) or an RFC 3339 timestamp.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func parseBound(field, raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := ParseDate(raw)
	if err != nil {
		slog.Warn("ignoring invalid filter date",
			slog.String("field", field),
			slog.String("value", raw),
			slog.Any("error", err))
		return nil
	}
	return &t
}

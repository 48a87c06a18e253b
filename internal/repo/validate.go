package repo

import (
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidCommits drops commits that fail validation. Dropped entries are logged
// and the valid subset keeps its order.
func ValidCommits(commits []Commit) []Commit {
	return keepValid(commits, "commit", func(c Commit) string { return c.SHA })
}

func ValidBranches(branches []Branch) []Branch {
	return keepValid(branches, "branch", func(b Branch) string { return b.Name })
}

func ValidCitations(citations []Citation) []Citation {
	return keepValid(citations, "citation", func(c Citation) string { return c.SHA })
}

func ValidChatMessages(messages []ChatMessage) []ChatMessage {
	return keepValid(messages, "chat message", func(m ChatMessage) string { return m.ID })
}

func keepValid[T any](items []T, kind string, id func(T) string) []T {
	if len(items) == 0 {
		return items
	}
	v := validatorInstance()
	out := make([]T, 0, len(items))
	for i, item := range items {
		if err := v.Struct(item); err != nil {
			slog.Warn("dropping invalid entry",
				slog.String("kind", kind),
				slog.Int("index", i),
				slog.String("id", id(item)),
				slog.Any("error", err),
			)
			continue
		}
		out = append(out, item)
	}
	return out
}

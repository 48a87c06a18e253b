package repo

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound reports that a repository is unknown to the backend.
var ErrNotFound = errors.New("repository not found")

type Commit struct {
	SHA         string       `json:"sha" validate:"required"`
	Message     string       `json:"message"`
	Author      *string      `json:"author"`
	Time        int64        `json:"time"`
	Parents     []string     `json:"parents"`
	FileChanges []FileChange `json:"file_changes"`
	Summary     *string      `json:"summary,omitempty"`
	Embedding   []float64    `json:"embedding,omitempty"`
}

type FileChange struct {
	ID        *int64     `json:"id,omitempty"`
	CommitSHA string     `json:"commit_sha"`
	Path      string     `json:"path"`
	OldPath   string     `json:"old_path,omitempty"`
	NewPath   string     `json:"new_path,omitempty"`
	Status    string     `json:"status"`
	Hunks     []FileHunk `json:"hunks"`
	Summary   *string    `json:"summary,omitempty"`
}

type FileHunk struct {
	ID        int64   `json:"id"`
	CommitSHA string  `json:"commit_sha"`
	OldStart  int     `json:"old_start"`
	OldLines  int     `json:"old_lines"`
	NewStart  int     `json:"new_start"`
	NewLines  int     `json:"new_lines"`
	Content   string  `json:"content,omitempty"`
	Summary   *string `json:"summary,omitempty"`
}

type Branch struct {
	Name    string   `json:"name" validate:"required"`
	Commits []string `json:"commits"`
}

// Snapshot is the commit and branch list of one repository.
type Snapshot struct {
	Commits  []Commit `json:"commits"`
	Branches []Branch `json:"branches"`
}

// Citation is a commit referenced by a chat answer.
type Citation struct {
	SHA        string  `json:"sha" validate:"required"`
	Similarity float64 `json:"similarity" validate:"gte=0,lte=1"`
	Message    string  `json:"message"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatMessage struct {
	ID           string     `json:"id" validate:"required"`
	Role         Role       `json:"role" validate:"oneof=user assistant"`
	Content      string     `json:"content"`
	Timestamp    time.Time  `json:"timestamp"`
	CitedCommits []Citation `json:"citedCommits,omitempty"`
}

// Key returns the "owner/repo" cache key.
func Key(owner, name string) string {
	return owner + "/" + name
}

// SplitKey parses an "owner/repo" key.
func SplitKey(key string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(key), "/")
	owner = strings.TrimSpace(owner)
	name = strings.TrimSuffix(strings.TrimSpace(name), ".git")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository %q: expected owner/repo", key)
	}
	return owner, name, nil
}

// GitHubURL returns the clone URL the backend ingests for owner/name.
func GitHubURL(owner, name string) string {
	return fmt.Sprintf("https://github.com/%s/%s", owner, name)
}

func (c Commit) AuthorName() string {
	if c.Author == nil {
		return ""
	}
	return *c.Author
}

func (c Commit) SummaryText() string {
	if c.Summary == nil {
		return ""
	}
	return *c.Summary
}

// Subject returns the first line of the commit message.
func (c Commit) Subject() string {
	first, _, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
	return first
}

func (c Commit) When() time.Time {
	return time.Unix(c.Time, 0).UTC()
}

// ShortSHA truncates a hash to 7 characters.
func ShortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

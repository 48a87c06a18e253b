// Package git reads commit history with go-git, either from a local
// repository or from a clone kept in memory.
package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/thiagokokada/gitodyssey/internal/repo"
)

const (
	DefaultMaxCommits   = 50
	DefaultMaxBranches  = 5
	DefaultContextLines = 3
)

type Service struct {
	// mu serializes history walks; go-git iterators are not safe to share.
	mu sync.Mutex

	repo repoState
}

type repoState struct {
	*gitlib.Repository
	// path is empty for in-memory clones.
	path string
	url  string
}

func Open(repoPath string) (*Service, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}
	r, err := gitlib.PlainOpenWithOptions(abs, &gitlib.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	// DetectDotGit may have walked up from a subdirectory.
	if wt, err := r.Worktree(); err == nil {
		abs = wt.Filesystem.Root()
	}
	return &Service{repo: repoState{Repository: r, path: abs}}, nil
}

type CloneOptions struct {
	// Depth limits the fetched history; 0 fetches everything.
	Depth    int
	Progress io.Writer
}

// Clone fetches url into memory without a worktree.
func Clone(ctx context.Context, url string, opts CloneOptions) (*Service, error) {
	slog.Debug("clone start", slog.String("url", url), slog.Int("depth", opts.Depth))
	r, err := gitlib.CloneContext(ctx, memory.NewStorage(), nil, &gitlib.CloneOptions{
		URL:      url,
		Depth:    opts.Depth,
		Progress: opts.Progress,
		Tags:     gitlib.NoTags,
	})
	if err != nil {
		return nil, fmt.Errorf("clone %s: %w", url, err)
	}
	return &Service{repo: repoState{Repository: r, url: url}}, nil
}

// RepoPath is the worktree root, or "" for in-memory clones.
func (s *Service) RepoPath() string {
	return s.repo.path
}

// URL is the clone source, or "" for local repositories.
func (s *Service) URL() string {
	return s.repo.url
}

type SnapshotOptions struct {
	MaxCommits  int
	MaxBranches int
	// WithChanges computes file changes and hunks for every commit.
	WithChanges  bool
	ContextLines int
}

func (o SnapshotOptions) withDefaults() SnapshotOptions {
	if o.MaxCommits <= 0 {
		o.MaxCommits = DefaultMaxCommits
	}
	if o.MaxBranches <= 0 {
		o.MaxBranches = DefaultMaxBranches
	}
	if o.ContextLines < 0 {
		o.ContextLines = DefaultContextLines
	}
	return o
}

// Snapshot walks history from HEAD, newest first, and lists the branches.
// An unborn HEAD yields an empty snapshot.
func (s *Service) Snapshot(ctx context.Context, opts SnapshotOptions) (repo.Snapshot, error) {
	opts = opts.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := repo.Snapshot{Commits: []repo.Commit{}, Branches: []repo.Branch{}}
	head, err := s.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return snap, nil
		}
		return repo.Snapshot{}, fmt.Errorf("resolve HEAD: %w", err)
	}

	commits, err := s.walk(ctx, head.Hash(), opts.MaxCommits)
	if err != nil {
		return repo.Snapshot{}, err
	}
	for _, c := range commits {
		commit := toCommit(c)
		if opts.WithChanges {
			changes, err := fileChanges(c, opts.ContextLines)
			if err != nil {
				return repo.Snapshot{}, fmt.Errorf("diff %s: %w", c.Hash, err)
			}
			commit.FileChanges = toFileChanges(commit.SHA, changes)
		}
		snap.Commits = append(snap.Commits, commit)
	}

	branches, err := s.branchTips()
	if err != nil {
		return repo.Snapshot{}, err
	}
	if len(branches) > opts.MaxBranches {
		branches = branches[:opts.MaxBranches]
	}
	for _, b := range branches {
		reachable, err := s.walk(ctx, b.hash, opts.MaxCommits)
		if err != nil {
			return repo.Snapshot{}, fmt.Errorf("branch %s: %w", b.name, err)
		}
		shas := make([]string, len(reachable))
		for i, c := range reachable {
			shas[i] = c.Hash.String()
		}
		snap.Branches = append(snap.Branches, repo.Branch{Name: b.name, Commits: shas})
	}
	slog.Debug("snapshot done",
		slog.Int("commits", len(snap.Commits)),
		slog.Int("branches", len(snap.Branches)),
	)
	return snap, nil
}

// Commit returns one commit with its file changes.
func (s *Service) Commit(sha string, contextLines int) (repo.Commit, error) {
	c, err := s.commitObject(sha)
	if err != nil {
		return repo.Commit{}, err
	}
	changes, err := fileChanges(c, contextLines)
	if err != nil {
		return repo.Commit{}, fmt.Errorf("diff %s: %w", sha, err)
	}
	out := toCommit(c)
	out.FileChanges = toFileChanges(out.SHA, changes)
	return out, nil
}

func (s *Service) commitObject(sha string) (*object.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, err := s.repo.ResolveRevision(plumbing.Revision(sha))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", sha, err)
	}
	c, err := s.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", sha, err)
	}
	return c, nil
}

func (s *Service) walk(ctx context.Context, from plumbing.Hash, limit int) ([]*object.Commit, error) {
	iter, err := s.repo.Log(&gitlib.LogOptions{From: from, Order: gitlib.LogOrderCommitterTime})
	if err != nil {
		return nil, fmt.Errorf("read commits: %w", err)
	}
	defer iter.Close()
	var out []*object.Commit
	for len(out) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := iter.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("iterate commits: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

type branchTip struct {
	name string
	hash plumbing.Hash
	head bool
}

// branchTips lists local branches, then remote branches without a local
// counterpart. The HEAD branch comes first, the rest by name.
func (s *Service) branchTips() ([]branchTip, error) {
	refs, err := s.repo.References()
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	defer refs.Close()

	var headBranch string
	if head, err := s.repo.Head(); err == nil && head.Name().IsBranch() {
		headBranch = head.Name().Short()
	}

	local := map[string]plumbing.Hash{}
	remote := map[string]plumbing.Hash{}
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		name := ref.Name()
		switch {
		case name.IsBranch():
			local[name.Short()] = ref.Hash()
		case name.IsRemote():
			short := name.Short()
			if strings.HasSuffix(short, "/HEAD") {
				return nil
			}
			// origin/main -> main
			if _, branch, ok := strings.Cut(short, "/"); ok {
				remote[branch] = ref.Hash()
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for name, hash := range remote {
		if _, ok := local[name]; !ok {
			local[name] = hash
		}
	}

	tips := make([]branchTip, 0, len(local))
	for name, hash := range local {
		tips = append(tips, branchTip{name: name, hash: hash, head: name == headBranch})
	}
	slices.SortFunc(tips, func(a, b branchTip) int {
		if a.head != b.head {
			if a.head {
				return -1
			}
			return 1
		}
		return strings.Compare(a.name, b.name)
	})
	return tips, nil
}

func toCommit(c *object.Commit) repo.Commit {
	author := c.Author.Name
	parents := make([]string, len(c.ParentHashes))
	for i, p := range c.ParentHashes {
		parents[i] = p.String()
	}
	return repo.Commit{
		SHA:         c.Hash.String(),
		Message:     c.Message,
		Author:      &author,
		Time:        c.Author.When.Unix(),
		Parents:     parents,
		FileChanges: []repo.FileChange{},
	}
}

func toFileChanges(sha string, changes []FileChangeText) []repo.FileChange {
	out := make([]repo.FileChange, len(changes))
	for i, fc := range changes {
		hunks := make([]repo.FileHunk, len(fc.Hunks))
		for j, h := range fc.Hunks {
			hunks[j] = repo.FileHunk{
				CommitSHA: sha,
				OldStart:  h.OldStart,
				OldLines:  h.OldLines,
				NewStart:  h.NewStart,
				NewLines:  h.NewLines,
				Content:   h.Content,
			}
		}
		out[i] = repo.FileChange{
			CommitSHA: sha,
			Path:      fc.Path(),
			OldPath:   fc.OldPath,
			NewPath:   fc.NewPath,
			Status:    fc.Status,
			Hunks:     hunks,
		}
	}
	return out
}

// FormatCommitHeader renders the header shown above a commit diff.
func FormatCommitHeader(c repo.Commit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "commit %s\n", c.SHA)
	if len(c.Parents) > 1 {
		short := make([]string, len(c.Parents))
		for i, p := range c.Parents {
			short[i] = repo.ShortSHA(p)
		}
		fmt.Fprintf(&b, "Merge: %s\n", strings.Join(short, " "))
	}
	fmt.Fprintf(&b, "Author: %s\n", c.AuthorName())
	if c.Time != 0 {
		fmt.Fprintf(&b, "Date:   %s\n", c.When().Format("2006-01-02 15:04:05 -0700"))
	}
	b.WriteString("\n")
	message := strings.TrimRight(c.Message, "\n")
	if message == "" {
		b.WriteString("    (no commit message)\n")
		return b.String()
	}
	for line := range strings.SplitSeq(message, "\n") {
		if line == "" {
			b.WriteString("\n")
			continue
		}
		fmt.Fprintf(&b, "    %s\n", line)
	}
	return b.String()
}

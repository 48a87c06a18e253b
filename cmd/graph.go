package cmd

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/gitodyssey/internal/explorer"
	"github.com/thiagokokada/gitodyssey/internal/filter"
	"github.com/thiagokokada/gitodyssey/internal/git"
	"github.com/thiagokokada/gitodyssey/internal/layout"
	"github.com/thiagokokada/gitodyssey/internal/repo"
	"github.com/thiagokokada/gitodyssey/internal/selection"
)

const localOwner = "local"

// sourceFlags pick where a command reads history from: a repository on
// disk with --path, otherwise the OWNER/REPO argument.
type sourceFlags struct {
	path    string
	refresh bool
}

func (s *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.path, "path", "", "read a repository on disk instead of OWNER/REPO")
	cmd.Flags().BoolVar(&s.refresh, "refresh", false, "bypass the repository cache")
}

// session builds an explorer session for the command's source. repoArg is
// ignored when --path is set.
func (a *app) session(src sourceFlags, repoArg string) (*explorer.Session, error) {
	opts := []explorer.Option{
		explorer.WithDirection(a.cfg.Direction()),
		explorer.WithLayouter(layout.New(a.cfg.Layout.Options)),
		explorer.WithFilterDelay(a.cfg.UI.FilterDelay),
	}
	if src.path != "" {
		svc, err := git.Open(src.path)
		if err != nil {
			return nil, err
		}
		return explorer.New(localOwner, filepath.Base(svc.RepoPath()), a.localLoader(svc), opts...), nil
	}
	owner, name, err := repo.SplitKey(repoArg)
	if err != nil {
		return nil, err
	}
	if !a.flags.local {
		opts = append(opts, explorer.WithSearcher(a.apiClient()))
	}
	return explorer.New(owner, name, a.loader(), opts...), nil
}

func loadSession(ctx context.Context, sess *explorer.Session, refresh bool) (explorer.View, error) {
	if refresh {
		return sess.Refresh(ctx)
	}
	return sess.Mount(ctx)
}

// newestFirst orders commits for lane drawing. The sort is stable so equal
// timestamps keep the loaded order.
func newestFirst(commits []repo.Commit) []repo.Commit {
	out := slices.Clone(commits)
	slices.SortStableFunc(out, func(a, b repo.Commit) int {
		return cmp.Compare(b.Time, a.Time)
	})
	return out
}

func repoArgs(src *sourceFlags) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if src.path != "" {
			return cobra.MaximumNArgs(0)(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func newGraphCmd(a *app) *cobra.Command {
	var (
		src       sourceFlags
		criteria  filter.Criteria
		search    string
		only      bool
		asJSON    bool
		direction string
	)
	cmd := &cobra.Command{
		Use:     "graph [OWNER/REPO]",
		Aliases: []string{"log"},
		Short:   "Print the commit graph, highlighting filter or search matches",
		Args:    repoArgs(&src),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session(src, firstArg(args))
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			v, err := loadSession(ctx, sess, src.refresh)
			if err != nil {
				return err
			}
			if direction != "" {
				dir, err := layout.ParseDirection(direction)
				if err != nil {
					return err
				}
				if v, err = sess.SetDirection(dir); err != nil {
					return err
				}
			}
			if filter.HasActiveFilters(criteria) {
				v = sess.ApplyFilters(criteria)
			}
			if strings.TrimSpace(search) != "" {
				if v, err = sess.ApplySearch(ctx, search); err != nil {
					return err
				}
				if v.Search.Empty {
					fmt.Fprintf(a.errOut, "no commits match %q\n", search)
				}
			}
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(v)
			}
			commits := newestFirst(sess.Commits())
			highlighted := selection.NewSet(v.Highlighted...)
			if only && (filter.HasActiveFilters(v.Filters) || v.Search.Query != "") {
				commits = filter.BySHAs(commits, v.Filtered)
			}
			return a.renderer().Log(commits, highlighted)
		},
	}
	src.register(cmd)
	f := cmd.Flags()
	f.StringVar(&criteria.Message, "message", "", "highlight commits whose message contains text")
	f.StringVar(&criteria.Branch, "branch", "", "highlight commits on a branch")
	f.StringVar(&criteria.Commit, "commit", "", "highlight commits whose SHA contains text")
	f.StringVar(&criteria.File, "file", "", "highlight commits touching a path")
	f.StringVar(&criteria.Summary, "summary", "", "highlight commits whose summary contains text")
	f.StringVar(&criteria.StartDate, "since", "", "highlight commits on or after a date (YYYY-MM-DD or RFC 3339)")
	f.StringVar(&criteria.EndDate, "until", "", "highlight commits on or before a date (YYYY-MM-DD or RFC 3339)")
	f.StringVar(&search, "search", "", "semantic search through the backend")
	f.BoolVar(&only, "only", false, "print only highlighted commits")
	f.BoolVar(&asJSON, "json", false, "print the laid out graph as JSON")
	f.StringVar(&direction, "direction", "", "layout direction for --json: TB or LR")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var src sourceFlags
	cmd := &cobra.Command{
		Use:   "show [OWNER/REPO] SHA",
		Short: "Print a commit with its file changes",
		Args: func(cmd *cobra.Command, args []string) error {
			if src.path != "" {
				return cobra.ExactArgs(1)(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			sha := args[len(args)-1]
			sess, err := a.session(src, firstArg(args[:len(args)-1]))
			if err != nil {
				return err
			}
			if _, err := loadSession(cmd.Context(), sess, src.refresh); err != nil {
				return err
			}
			commit, err := findCommit(sess.Commits(), sha)
			if errors.Is(err, explorer.ErrUnknownCommit) && src.path == "" && !a.flags.local {
				// Older than the loaded window: ask the backend directly.
				owner, name, _ := repo.SplitKey(sess.Key())
				commit, err = a.apiClient().GetCommit(cmd.Context(), owner, name, sha)
			}
			if err != nil {
				return err
			}
			return a.renderer().Commit(commit)
		},
	}
	src.register(cmd)
	return cmd
}

// findCommit resolves a full or abbreviated SHA among commits.
func findCommit(commits []repo.Commit, sha string) (repo.Commit, error) {
	sha = strings.ToLower(strings.TrimSpace(sha))
	if sha == "" {
		return repo.Commit{}, fmt.Errorf("commit not specified")
	}
	var matches []repo.Commit
	for _, c := range commits {
		if strings.HasPrefix(c.SHA, sha) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return repo.Commit{}, fmt.Errorf("%s: %w", sha, explorer.ErrUnknownCommit)
	case 1:
		return matches[0], nil
	default:
		return repo.Commit{}, fmt.Errorf("%s is ambiguous: %d commits match", sha, len(matches))
	}
}

func newDiffCmd(a *app) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "diff [REVISION]",
		Short: "Print the diff of a commit in a repository on disk",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev := "HEAD"
			if len(args) == 1 {
				rev = args[0]
			}
			svc, err := git.Open(path)
			if err != nil {
				return err
			}
			text, sections, err := svc.Diff(rev, a.cfg.Loader.ContextLines)
			if err != nil {
				return err
			}
			return a.renderer().Diff(text, sections)
		},
	}
	cmd.Flags().StringVar(&path, "path", ".", "repository path")
	return cmd
}

// Package cmd implements the gitodyssey command line.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/thiagokokada/gitodyssey/internal/api"
	"github.com/thiagokokada/gitodyssey/internal/buildinfo"
	"github.com/thiagokokada/gitodyssey/internal/cache"
	"github.com/thiagokokada/gitodyssey/internal/config"
	"github.com/thiagokokada/gitodyssey/internal/git"
	"github.com/thiagokokada/gitodyssey/internal/loader"
	"github.com/thiagokokada/gitodyssey/internal/prefs"
	"github.com/thiagokokada/gitodyssey/internal/render"
)

// annotationMissingConfig marks commands that run with the defaults when the
// --config file does not exist yet.
const annotationMissingConfig = "gitodyssey/missing-config-ok"

func Run() error {
	return run(os.Args[1:], os.Stdout, os.Stderr)
}

func run(args []string, stdout, stderr io.Writer) error {
	a := &app{out: stdout, errOut: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return errors.Join(root.Execute(), a.close())
}

// globalFlags are the persistent flags shared by every subcommand. Zero
// values leave the configuration file setting alone.
type globalFlags struct {
	configPath   string
	verbose      bool
	apiURL       string
	cacheDir     string
	memoryOnly   bool
	local        bool
	noColor      bool
	theme        string
	maxCommits   int
	contextLines int
}

// app holds what a command run shares: configuration, the opened storage
// and the output streams.
type app struct {
	flags globalFlags
	cfg   config.Config

	out, errOut io.Writer

	store   cache.Store
	closers []io.Closer
	mode    cache.Mode
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "gitodyssey",
		Short:         "Explore a repository's history as a commit graph",
		Version:       buildinfo.VersionWithTags(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&a.flags.configPath, "config", "", "configuration file (default "+config.DefaultPath()+")")
	f.BoolVarP(&a.flags.verbose, "verbose", "v", false, "enable verbose logging")
	f.StringVar(&a.flags.apiURL, "api", "", "backend base URL")
	f.StringVar(&a.flags.cacheDir, "cache-dir", "", "directory of the persistent repository cache")
	f.BoolVar(&a.flags.memoryOnly, "no-cache", false, "keep the repository cache in memory only")
	f.BoolVar(&a.flags.local, "local", false, "clone and analyse repositories locally instead of asking the backend")
	f.BoolVar(&a.flags.noColor, "no-color", false, "disable colours and syntax highlighting")
	f.StringVar(&a.flags.theme, "theme", "", "color theme: auto, light, or dark")
	f.IntVar(&a.flags.maxCommits, "max-commits", 0, "maximum number of commits to ingest")
	f.IntVar(&a.flags.contextLines, "context-lines", -1, "context lines around each hunk")

	root.AddCommand(
		newGraphCmd(a),
		newShowCmd(a),
		newDiffCmd(a),
		newServeCmd(a),
		newCacheCmd(a),
		newChatCmd(a),
		newSummarizeCmd(a),
		newPrefsCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	level := slog.LevelInfo
	if a.flags.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(a.flags.configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist) && cmd.Annotations[annotationMissingConfig] != "":
		cfg = config.Default()
	case err != nil:
		return err
	}
	f := a.flags
	if f.apiURL != "" {
		cfg.API.BaseURL = f.apiURL
	}
	if f.cacheDir != "" {
		cfg.Cache.Dir = f.cacheDir
	}
	if f.memoryOnly {
		cfg.Cache.MemoryOnly = true
	}
	if f.theme != "" {
		cfg.UI.Theme = f.theme
	}
	if f.maxCommits > 0 {
		cfg.Loader.MaxCommits = f.maxCommits
	}
	if f.contextLines >= 0 {
		cfg.Loader.ContextLines = f.contextLines
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	slog.Debug("configuration loaded", slog.String("command", cmd.CommandPath()), slog.String("api", cfg.API.BaseURL))
	return nil
}

// openStore opens the persistent tier once. A store that cannot be opened
// degrades to memory so the command still works.
func (a *app) openStore() cache.Store {
	if a.store != nil {
		return a.store
	}
	if a.cfg.Cache.MemoryOnly {
		a.store = cache.NewMemoryStore(0)
		return a.store
	}
	bs, err := cache.OpenBadger(cache.DefaultBadgerConfig(filepath.Join(a.cfg.Cache.Dir, "badger")))
	if err != nil {
		slog.Warn("persistent cache unavailable, using memory", slog.String("dir", a.cfg.Cache.Dir), slog.Any("error", err))
		a.mode.Demote()
		a.store = cache.NewMemoryStore(0)
		return a.store
	}
	a.closers = append(a.closers, bs)
	a.store = bs
	return a.store
}

func (a *app) repoCache() *cache.RepoCache {
	return cache.New(a.openStore(), cache.WithMode(&a.mode), cache.WithTTL(a.cfg.Cache.TTL))
}

func (a *app) prefs() *prefs.Store {
	return prefs.New(a.openStore())
}

func (a *app) apiClient() *api.Client {
	opts := []api.Option{api.WithHTTPClient(&http.Client{Timeout: a.cfg.API.Timeout})}
	if a.cfg.API.RateLimit > 0 {
		opts = append(opts, api.WithRateLimit(a.cfg.API.RateLimit, a.cfg.API.Burst))
	}
	return api.NewClient(a.cfg.API.BaseURL, opts...)
}

// loader builds the repository loader. With --local the backend is never
// contacted and repositories are cloned in memory.
func (a *app) loader() *loader.Loader {
	var (
		fetcher  loader.Fetcher
		ingester loader.Ingester
	)
	if a.flags.local {
		fetcher = git.NoFetcher{}
		ingester = git.NewIngester(a.cfg.Git.MaxBranches)
	} else {
		client := a.apiClient()
		fetcher, ingester = client, client
	}
	return loader.New(a.repoCache(), fetcher, ingester, loader.WithOptions(a.cfg.Loader))
}

// localLoader serves the repository at path. Its cache lives in memory so
// local history never reaches the persistent tier.
func (a *app) localLoader(svc *git.Service) *loader.Loader {
	lf := git.NewLocalFetcher(svc, git.SnapshotOptions{
		MaxCommits:   a.cfg.Loader.MaxCommits,
		MaxBranches:  a.cfg.Git.MaxBranches,
		ContextLines: a.cfg.Loader.ContextLines,
	})
	c := cache.New(cache.NewMemoryStore(0), cache.WithTTL(a.cfg.Cache.TTL))
	return loader.New(c, lf, lf, loader.WithOptions(a.cfg.Loader))
}

func (a *app) renderer() *render.Renderer {
	return render.New(a.out, render.Options{
		Color:    a.colorEnabled(),
		Theme:    a.cfg.Theme(),
		MaxLanes: a.cfg.UI.MaxLanes,
	})
}

func (a *app) colorEnabled() bool {
	if a.flags.noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := a.out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	a.store = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

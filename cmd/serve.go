package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/gitodyssey/internal/explorer"
	"github.com/thiagokokada/gitodyssey/internal/git"
	"github.com/thiagokokada/gitodyssey/internal/layout"
	"github.com/thiagokokada/gitodyssey/internal/server"
	"github.com/thiagokokada/gitodyssey/internal/watch"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr    string
		path    string
		noWatch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve commit graphs as JSON for a browser canvas",
		Long: `Serve exposes /api/repos/OWNER/REPO/graph and friends. With --path only the
repository on disk is served, as local/<directory name>, and it is reloaded
whenever its refs change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.Serve.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sessionOpts := []explorer.Option{
				explorer.WithDirection(a.cfg.Direction()),
				explorer.WithLayouter(layout.New(a.cfg.Layout.Options)),
				explorer.WithFilterDelay(a.cfg.UI.FilterDelay),
			}
			serverOpts := []server.Option{server.WithPrefs(a.prefs())}
			if !a.flags.local {
				client := a.apiClient()
				serverOpts = append(serverOpts, server.WithChatter(client), server.WithSummarizer(client))
				sessionOpts = append(sessionOpts, explorer.WithSearcher(client))
			}

			if path == "" {
				l := a.loader()
				srv := server.New(func(owner, name string) *explorer.Session {
					return explorer.New(owner, name, l, sessionOpts...)
				}, serverOpts...)
				return srv.ListenAndServe(ctx, addr)
			}

			svc, err := git.Open(path)
			if err != nil {
				return err
			}
			name := filepath.Base(svc.RepoPath())
			sess := explorer.New(localOwner, name, a.localLoader(svc), sessionOpts...)
			srv := server.New(nil, serverOpts...)
			srv.Register(localOwner, name, sess)
			if _, err := sess.Mount(ctx); err != nil {
				return err
			}
			if !noWatch {
				w, err := watch.Start(svc.RepoPath(), watch.DefaultDelay, func() {
					reloadSession(ctx, sess)
				})
				if err != nil {
					slog.Warn("auto reload disabled", slog.Any("error", err))
				} else {
					defer w.Close()
				}
			}
			slog.Info("serving local repository", slog.String("repo", localOwner+"/"+name), slog.String("path", svc.RepoPath()))
			return srv.ListenAndServe(ctx, addr)
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "", "listen address (default from configuration)")
	f.StringVar(&path, "path", "", "serve only the repository at this path")
	f.BoolVar(&noWatch, "nowatch", false, "disable automatic reload when the repository changes")
	return cmd
}

func reloadSession(ctx context.Context, sess *explorer.Session) {
	if ctx.Err() != nil {
		return
	}
	v, err := sess.Refresh(ctx)
	if err != nil {
		slog.Error("reload repository", slog.String("repo", sess.Key()), slog.Any("error", err))
		return
	}
	slog.Debug("repository reloaded", slog.String("repo", v.Key), slog.Int("commits", v.Commits))
}

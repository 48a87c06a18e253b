package cmd

import (
	"fmt"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/thiagokokada/gitodyssey/internal/repo"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the repository cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show cache sizes and cached repositories",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				c := a.repoCache()
				stats := c.Stats()
				tier := "persistent"
				if stats.MemoryOnly {
					tier = "memory"
				}
				fmt.Fprintf(a.out, "tier:        %s\n", tier)
				fmt.Fprintf(a.out, "memory:      %d repositories\n", stats.MemorySize)
				fmt.Fprintf(a.out, "persistent:  %d repositories\n", stats.PersistentSize)
				fmt.Fprintf(a.out, "ttl:         %s\n", a.cfg.Cache.TTL)
				keys := c.Keys()
				slices.Sort(keys)
				for _, key := range keys {
					data, ok := c.Get(key)
					if !ok {
						continue
					}
					state := "fresh"
					if !c.IsValid(data) {
						state = "expired"
					}
					fmt.Fprintf(a.out, "  %s  %d commits, %d branches, cached %s (%s)\n",
						key, len(data.Commits), len(data.Branches),
						humanize.Time(time.UnixMilli(data.Timestamp)), state)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear [OWNER/REPO...]",
			Short: "Remove cached repositories, or all of them",
			RunE: func(_ *cobra.Command, args []string) error {
				keys := make([]string, 0, len(args))
				for _, arg := range args {
					owner, name, err := repo.SplitKey(arg)
					if err != nil {
						return err
					}
					keys = append(keys, repo.Key(owner, name))
				}
				a.repoCache().Clear(keys...)
				if len(keys) == 0 {
					fmt.Fprintln(a.out, "cleared every cached repository")
				} else {
					fmt.Fprintf(a.out, "cleared %d cached repositories\n", len(keys))
				}
				return nil
			},
		},
	)
	return cmd
}

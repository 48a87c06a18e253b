package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/gitodyssey/internal/repo"
)

func newChatCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask questions about a repository and manage transcripts",
	}

	var contextSHAs []string
	ask := &cobra.Command{
		Use:   "ask OWNER/REPO QUESTION...",
		Short: "Ask the backend a question, using the given commits as context",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, name, err := repo.SplitKey(args[0])
			if err != nil {
				return err
			}
			query := strings.Join(args[1:], " ")
			store := a.prefs()
			answer, err := store.Ask(cmd.Context(), a.apiClient(), owner, name, query, contextSHAs)
			if err != nil {
				return err
			}
			return a.renderer().Chat([]repo.ChatMessage{answer}, store.CitationsExpanded())
		},
	}
	ask.Flags().StringSliceVar(&contextSHAs, "context", nil, "commit SHAs to send as context")

	history := &cobra.Command{
		Use:   "history OWNER/REPO",
		Short: "Print the stored transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			owner, name, err := repo.SplitKey(args[0])
			if err != nil {
				return err
			}
			store := a.prefs()
			messages := store.ChatHistory(owner, name)
			if len(messages) == 0 {
				fmt.Fprintln(a.out, "no messages")
				return nil
			}
			return a.renderer().Chat(messages, store.CitationsExpanded())
		},
	}

	var all bool
	clearCmd := &cobra.Command{
		Use:   "clear [OWNER/REPO]",
		Short: "Delete a transcript, or every transcript with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(_ *cobra.Command, args []string) error {
			store := a.prefs()
			if all {
				n, err := store.ClearAllChats()
				fmt.Fprintf(a.out, "removed %d transcripts\n", n)
				return err
			}
			owner, name, err := repo.SplitKey(args[0])
			if err != nil {
				return err
			}
			return store.ClearChat(owner, name)
		},
	}
	clearCmd.Flags().BoolVar(&all, "all", false, "delete every transcript")

	cmd.AddCommand(ask, history, clearCmd)
	return cmd
}

func newSummarizeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Ask the backend for a summary of a commit, file change or hunk",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "commit SHA",
			Short: "Summarize a commit",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				summary, err := a.apiClient().SummarizeCommit(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, summary)
				return nil
			},
		},
		&cobra.Command{
			Use:   "file ID",
			Short: "Summarize a file change by its backend id",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				summary, err := a.apiClient().SummarizeFileChange(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, summary)
				return nil
			},
		},
		&cobra.Command{
			Use:   "hunk ID",
			Short: "Summarize a hunk by its backend id",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				summary, err := a.apiClient().SummarizeHunk(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, summary)
				return nil
			},
		},
	)
	return cmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

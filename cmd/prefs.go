package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/gitodyssey/internal/prefs"
)

func newPrefsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change stored preferences",
	}
	var reset bool
	tab := &cobra.Command{
		Use:       "tab [search|chat|summary]",
		Short:     "Show or set the sidebar tab opened by default",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(prefs.TabSearch), string(prefs.TabChat), string(prefs.TabSummary)},
		RunE: func(_ *cobra.Command, args []string) error {
			store := a.prefs()
			switch {
			case reset:
				return store.ClearSidebarTab()
			case len(args) == 0:
				fmt.Fprintln(a.out, store.SidebarTab())
				return nil
			}
			t, err := prefs.ParseTab(args[0])
			if err != nil {
				return err
			}
			return store.SetSidebarTab(t)
		},
	}
	tab.Flags().BoolVar(&reset, "reset", false, "forget the stored tab")

	citations := &cobra.Command{
		Use:   "citations [on|off]",
		Short: "Show or set whether chat citations are expanded",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			store := a.prefs()
			if len(args) == 0 {
				fmt.Fprintln(a.out, onOff(store.CitationsExpanded()))
				return nil
			}
			expanded, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			return store.SetCitationsExpanded(expanded)
		},
	}
	cmd.AddCommand(tab, citations)
	return cmd
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func parseOnOff(raw string) (bool, error) {
	switch raw {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("expected on or off, got %q", raw)
	}
	return b, nil
}

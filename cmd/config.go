package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/thiagokokada/gitodyssey/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write the effective configuration to the configuration file",
		Annotations: map[string]string{annotationMissingConfig: "true"},
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			path := a.configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if err := config.Write(path, a.cfg); err != nil {
				return err
			}
			fmt.Fprintln(a.out, path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(
		&cobra.Command{
			Use:         "path",
			Short:       "Print the configuration file path",
			Annotations: map[string]string{annotationMissingConfig: "true"},
			Args:  cobra.NoArgs,
			Run: func(*cobra.Command, []string) {
				fmt.Fprintln(a.out, a.configPath())
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				enc := yaml.NewEncoder(a.out)
				enc.SetIndent(2)
				if err := enc.Encode(a.cfg); err != nil {
					return err
				}
				return enc.Close()
			},
		},
		initCmd,
	)
	return cmd
}

func (a *app) configPath() string {
	if a.flags.configPath != "" {
		return a.flags.configPath
	}
	return config.DefaultPath()
}

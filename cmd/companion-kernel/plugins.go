package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/companion-kernel/internal/pluginsupervisor"
)

func newPluginsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Plugin inspection",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Discover plugin manifests without loading them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger := newLogger(flags).Slog()

			supervisor := pluginsupervisor.New(logger, cfg.Plugins.Dir)
			manifests, err := supervisor.Discover()
			if err != nil {
				return err
			}
			if len(manifests) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no plugins found")
				return nil
			}
			for _, m := range manifests {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", m.Name, m.Version, m.Runtime.Language)
			}
			return nil
		},
	})
	return cmd
}

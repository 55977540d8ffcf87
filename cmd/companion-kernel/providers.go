package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProvidersCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Provider inspection",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Probe each configured provider's connectivity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			registry := buildProviderRegistry(cfg)
			for _, id := range registry.IDs() {
				provider, err := registry.Get(id)
				if err != nil {
					continue
				}
				status := provider.TestConnection(cmd.Context())
				state := "ok"
				if !status.OK {
					state = "unreachable"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s", id, state)
				if status.Detail != "" {
					fmt.Fprintf(cmd.OutOrStdout(), " (%s)", status.Detail)
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	})
	return cmd
}

// Command companion-kernel wires the runtime kernel's dependency
// graph and exposes operational subcommands: a scripted demo
// conversation, config schema output, and plugin inspection.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/companion-kernel/internal/config"
	"github.com/haasonsaas/companion-kernel/internal/observability"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "companion-kernel",
		Short:         "AI-companion runtime kernel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config file (YAML/JSON5, $include supported)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "text", "log format (text|json)")

	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newPluginsCmd(flags))
	cmd.AddCommand(newProvidersCmd(flags))
	return cmd
}

func loadConfig(flags *rootFlags) (*config.Config, error) {
	if flags.configPath == "" {
		return config.Default(), nil
	}
	return config.Load(flags.configPath)
}

func newLogger(flags *rootFlags) *observability.Logger {
	return observability.MustNewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
		Output: os.Stderr,
	})
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the config file JSON schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return nil
		},
	})
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zxperience/deskbridge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and report every problem",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context(), config.NewLoader(configPath))
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"valid": true,
				"file":  cfg.File,
				"links": len(cfg.Links),
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d links)\n", describeSource(cfg), len(cfg.Links))
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with tokens redacted",
	Long: `Print the configuration after defaults, file and environment overrides
are merged. Tokens are replaced with ****. The configuration is not
validated, so this also works on a config that "validate" rejects.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), cfg.Redacted())
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd, configShowCmd)
}

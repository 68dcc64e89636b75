package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zxperience/deskbridge/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one sync cycle and print its statistics",
	Long: `Run one sync cycle over every configured link and print the result as JSON.

The command exits non-zero when any record failed, after printing the
full result.

Examples:
  deskbridge run                      # Sync every link once
  deskbridge run --dry-run            # Report what would change
  deskbridge run --link acme-core     # Only the named link`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		links, _ := cmd.Flags().GetStringSlice("link")

		cfg, err := loadConfig(cmd.Context(), config.NewLoader(configPath))
		if err != nil {
			return err
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		engine, err := newEngine(cfg, log, engineOptions{links: links, dryRun: dryRun})
		if err != nil {
			return err
		}

		result, err := engine.Run(cmd.Context())
		if err != nil {
			return err
		}
		if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("sync finished with %d failures", result.Stats.Failures())
		}
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("dry-run", false, "Compute changes without writing to Zendesk or Jira")
	runCmd.Flags().StringSlice("link", nil, "Only sync the named link (repeatable)")
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zxperience/deskbridge/internal/telemetry"
)

var (
	configPath  string
	verboseFlag bool
	jsonOutput  bool

	flushTelemetry telemetry.ShutdownFunc
)

var rootCmd = &cobra.Command{
	Use:   "deskbridge",
	Short: "deskbridge - Zendesk and Jira field and comment sync",
	Long: `Keeps Zendesk tickets and the Jira issues they link to in agreement.

For every configured tenant link, deskbridge finds the tickets whose
linking field names Jira issue keys, copies mapped fields in both
directions, and mirrors published Jira comments into the ticket as
private notes.

Configuration is read from --config, ./deskbridge.yaml or
$HOME/.config/deskbridge/deskbridge.yaml. Any key can be overridden with
a DESKBRIDGE_ environment variable (DESKBRIDGE_INTERVAL=5m).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		shutdown, err := telemetry.Init(cmd.Context(), telemetry.FromEnv(), Version)
		if err != nil {
			return err
		}
		flushTelemetry = shutdown
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if flushTelemetry != nil {
			_ = flushTelemetry(context.Background())
			flushTelemetry = nil
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./deskbridge.yaml, then ~/.config/deskbridge/)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddCommand(runCmd, daemonCmd, configCmd, renderCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

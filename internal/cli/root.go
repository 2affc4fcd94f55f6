package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/superdup-project/superdup/pkg/color"
	"github.com/superdup-project/superdup/pkg/logging"
)

var (
	configPath string
	jsonOutput bool
	verbosity  int
	noColor    bool

	rootCmd = &cobra.Command{
		Use:   "superdup",
		Short: "superdup - backup orchestration for content-addressed backup tools",
		Long: `superdup drives an external deduplicating backup tool (duplicacy by
default) through per-job backup, prune and verification sequences with
locking, retries, timeouts and end-of-run reporting. It is designed to
run unattended from cron or a systemd timer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			color.Init(noColor)
			logging.SetGlobal(logging.NewLogger(
				logging.LevelFromVerbosity(verbosity), logging.FormatText))
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/superdup/config.yaml", "configuration file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbosity", "v", 2, "verbosity 0..4 (0 quiet, 4 debug)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// outputJSON prints v as JSON if --json flag is set, otherwise does nothing.
func outputJSON(v any) error {
	if !jsonOutput {
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

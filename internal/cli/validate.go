package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/superdup-project/superdup/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Validate the configuration file.

Parses the configuration, applies defaults and runs the same checks a
run would, without executing anything. Exits 0 if the configuration is
usable, 2 otherwise.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmtErr("%v", err)
			os.Exit(2)
		}
		if err := cfg.Validate(); err != nil {
			fmtErr("%v", err)
			os.Exit(2)
		}
		jobs, err := cfg.ModelJobs()
		if err != nil {
			fmtErr("%v", err)
			os.Exit(2)
		}

		if jsonOutput {
			outputJSON(map[string]any{
				"config": configPath,
				"valid":  true,
				"jobs":   len(jobs),
			})
			return
		}

		enabled := 0
		for _, j := range jobs {
			if j.Enabled {
				enabled++
			}
		}
		fmt.Printf("%s: ok (%d jobs, %d enabled)\n", configPath, len(jobs), enabled)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

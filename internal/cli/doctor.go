package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/superdup-project/superdup/internal/doctor"
)

var doctorStrict bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check host readiness for backups",
	Long: `Check host readiness for backups.

Verifies that the backup tool resolves, the state directories are
writable, every enabled job's source exists and no stale locks remain
from crashed runs. Use --strict to treat warnings as failures.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := requireConfig()

		result, err := doctor.NewDoctor(cfg).Check(doctorStrict)
		if err != nil {
			fmtErr("doctor: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(result)
			if !result.Healthy {
				os.Exit(1)
			}
			return
		}

		if len(result.Findings) == 0 {
			fmt.Println("Host is ready.")
			return
		}

		fmt.Printf("Findings (%d):\n", len(result.Findings))
		for _, f := range result.Findings {
			fmt.Printf("  [%s] %s: %s\n", f.Severity, f.Category, f.Description)
		}
		if !result.Healthy {
			os.Exit(1)
		}
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorStrict, "strict", false, "treat warnings as failures")
	rootCmd.AddCommand(doctorCmd)
}

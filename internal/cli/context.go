package cli

import (
	"fmt"
	"os"

	"github.com/superdup-project/superdup/pkg/color"
	"github.com/superdup-project/superdup/pkg/config"
	"github.com/superdup-project/superdup/pkg/logging"
)

// requireConfig loads and validates the configuration, or exits.
func requireConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmtErr("%v", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmtErr("%v", err)
		os.Exit(2)
	}
	return cfg
}

// runLogger builds the logger the run subsystems share, honoring the
// config file level unless --verbosity was given explicitly.
func runLogger(cfg *config.Config) *logging.Logger {
	level := logging.LevelFromVerbosity(verbosity)
	if !rootCmd.PersistentFlags().Changed("verbosity") {
		if lv, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
			level = lv
		}
	}
	format := logging.FormatText
	if cfg.Logging.Format == "json" {
		format = logging.FormatJSON
	}
	log := logging.NewLogger(level, format)
	logging.SetGlobal(log)
	return log
}

func fmtErr(format string, args ...any) {
	prefix := "superdup: "
	if color.Enabled() {
		prefix = color.Errorf("superdup:") + " "
	}
	fmt.Fprintf(os.Stderr, prefix+format+"\n", args...)
}

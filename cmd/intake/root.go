// intake runs the patient intake assistant: an interactive terminal chat, the
// HTTP service for patients and doctors, and a few operator tools.
//
// Usage:
//
//	intake chat [--report=<file>]
//	intake serve [--port=<port>]
//	intake sessions [--format=ascii|markdown]
//	intake extract <file>
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"waitroom-intake/internal/config"
	"waitroom-intake/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// cfg is loaded before any subcommand runs.
var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "intake",
	Short: "Waiting-room patient intake assistant",
	Long: "intake interviews a patient about their symptoms, reads an optional test\n" +
		"report, verifies its findings with the patient and hands the doctor a summary.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage:      true,
	PersistentPreRunE: loadRootConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configPath, "config", "", "YAML config file (env vars override it)")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&rootFlags.logFormat, "log-format", "", "Log format: text or json")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.Version = version
}

func loadRootConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(rootFlags.configPath)
	if err != nil {
		return err
	}
	if rootFlags.logLevel != "" {
		loaded.Log.Level = rootFlags.logLevel
	}
	if rootFlags.logFormat != "" {
		loaded.Log.Format = rootFlags.logFormat
	}
	cfg = loaded
	logging.Init(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format, cmd.ErrOrStderr())
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Package main is the entry point for the lsp-typescript bridge.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/dshills/lsp-typescript/internal/config"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	logFile    string
}

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "lsp-typescript",
		Short: "TypeScript language server bridge",
		Long: `lsp-typescript runs typescript-language-server for an editor over stdio.

It relays LSP traffic both ways, adds TypeScript-specific commands and
inlay hints, and offers to update imports when a source file is moved.

Without a subcommand it behaves like "serve".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "path to configuration file")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: none, critical, error, warning, notice, info, debug")
	pf.StringVar(&flags.logFile, "log-file", "", "write the log to this file instead of stderr")

	root.AddCommand(
		serveCmd(flags),
		checkCmd(flags),
		configCmd(flags),
		versionCmd(),
	)
	return root
}

// loadConfig reads the configuration with command-line overrides applied.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(flags.configPath)

	pf := cmd.Root().PersistentFlags()
	if err := loader.BindFlag("log.level", pf.Lookup("log-level")); err != nil {
		return nil, nil, err
	}
	if err := loader.BindFlag("log.file", pf.Lookup("log-file")); err != nil {
		return nil, nil, err
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}

// setupLogging configures commonlog, which glsp logs through as well.
func setupLogging(cfg *config.Config) {
	verbosity, err := cfg.Log.Verbosity()
	if err != nil {
		verbosity = -1
	}
	commonlog.Configure(verbosity, cfg.Log.LogPath())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lsp-typescript %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

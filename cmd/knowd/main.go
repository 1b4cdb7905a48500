// Knowd is a per-project knowledge store: an append-only log of lessons
// and findings with hybrid semantic search over a local loopback server.
//
// Every command resolves the project from the working directory (or
// --root), derives the project's deterministic server address, and talks
// to the server over newline-delimited JSON. Client commands auto-start
// the server when none is running.
//
// Usage:
//
//	# Capture a lesson in the current project
//	knowd capture "connection pooling fixed the p99 latency spike"
//
//	# Search it back
//	knowd search "database latency"
//
//	# Run the server in the foreground
//	knowd serve
package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowd/internal/client"
	"github.com/fyrsmithlabs/knowd/internal/config"
	"github.com/fyrsmithlabs/knowd/internal/logging"
	"github.com/fyrsmithlabs/knowd/internal/project"
)

var (
	// flagRoot overrides project resolution with an explicit root.
	flagRoot string
	// flagConfig overrides the default config file path.
	flagConfig string
	// flagNoStart disables server auto-start for client commands.
	flagNoStart bool
	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "knowd",
	Short: "Per-project knowledge store with hybrid semantic search",
	Long: `knowd keeps an append-only knowledge log per project and serves
hybrid (semantic + keyword) search over it from a local server bound to
a port derived from the project root.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "", "project root (default: resolved from the working directory)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: ~/.config/knowd/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagNoStart, "no-start", false, "do not auto-start the server")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(tombstoneCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(statusCmd)
}

// setup loads config, builds the logger, and resolves the project. Every
// subcommand goes through here.
func setup() (*config.Config, *zap.Logger, *project.Project, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, nil, err
	}

	var proj *project.Project
	if flagRoot != "" {
		proj, err = project.At(flagRoot)
	} else {
		var cwd string
		cwd, err = os.Getwd()
		if err == nil {
			proj, err = project.Resolve(cwd)
		}
	}
	if err != nil {
		logging.Sync(logger)
		return nil, nil, nil, err
	}
	return cfg, logger, proj, nil
}

// newClient builds a client for proj honoring the --no-start flag.
func newClient(proj *project.Project, logger *zap.Logger) *client.Client {
	return client.New(proj, client.Options{
		AutoStart: !flagNoStart,
		StartWait: 10 * time.Second,
		Logger:    logger,
	})
}

package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowd/internal/embeddings"
	"github.com/fyrsmithlabs/knowd/internal/logging"
	"github.com/fyrsmithlabs/knowd/internal/server"
)

// serveCmd runs the project's server in the foreground.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the knowledge server for this project",
	Long: `Run the knowledge server for this project in the foreground.

The server binds a loopback port derived from the project root, replays
the journal into its index, and serves until interrupted. Only one
server runs per project; a second invocation exits cleanly.

Examples:
  # Serve the project containing the working directory
  knowd serve

  # Serve an explicit root
  knowd serve --root ~/src/payments`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, proj, err := setup()
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	provider, err := embeddings.NewProvider(cfg.Embedding, logger)
	if err != nil {
		return err
	}
	defer provider.Close()

	srv, err := server.New(proj, cfg, provider, logger)
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		if errors.Is(err, server.ErrAlreadyRunning) {
			// Expected under "start if not running"; the other instance wins.
			fmt.Printf("Server already running at %s\n", proj.Addr())
			return nil
		}
		return err
	}

	logger.Info("serving project knowledge",
		zap.String("root", proj.Root),
		zap.String("addr", proj.Addr()),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Serve(ctx)
}

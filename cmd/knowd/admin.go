package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/knowd/internal/logging"
)

// tombstoneCmd logically deletes an entry.
var tombstoneCmd = &cobra.Command{
	Use:   "tombstone <id>",
	Short: "Delete an entry from search results",
	Long: `Mark an entry as deleted. The entry stays in the journal but is
excluded from every future search and every rebuild.

Examples:
  knowd tombstone 2f1c9d7a-...-8e`,
	Args: cobra.ExactArgs(1),
	RunE: runTombstone,
}

// rebuildCmd rebuilds the index from the journal.
var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the search index from the journal",
	Long: `Replay the full journal into a fresh index and swap it in. Useful
after changing the embedding model or when deferred entries piled up.

Examples:
  knowd rebuild`,
	Args: cobra.NoArgs,
	RunE: runRebuild,
}

// statusCmd reports server state.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server state and entry counts",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runTombstone(cmd *cobra.Command, args []string) error {
	_, logger, proj, err := setup()
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	if _, err := newClient(proj, logger).Tombstone(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Tombstoned %s\n", args[0])
	return nil
}

func runRebuild(cmd *cobra.Command, args []string) error {
	_, logger, proj, err := setup()
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	resp, err := newClient(proj, logger).Rebuild(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Rebuilt index: %d entries\n", resp.EntriesIndexed)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, logger, proj, err := setup()
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	resp, err := newClient(proj, logger).Status(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Project:  %s (%s)\n", proj.Root, proj.ID)
	fmt.Printf("Server:   %s at %s\n", resp.Status, proj.Addr())
	fmt.Printf("Indexed:  %d entries\n", resp.EntriesIndexed)
	if resp.PendingCount > 0 {
		fmt.Printf("Pending:  %d entries awaiting embedding\n", resp.PendingCount)
	}
	return nil
}

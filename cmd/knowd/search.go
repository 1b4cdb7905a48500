package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowd/internal/client"
	"github.com/fyrsmithlabs/knowd/internal/embeddings"
	"github.com/fyrsmithlabs/knowd/internal/logging"
	"github.com/fyrsmithlabs/knowd/internal/protocol"
)

var (
	searchLimit int
	searchJSON  bool
)

// searchCmd runs a hybrid search against the project's knowledge store.
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the project's knowledge store",
	Long: `Search the project's knowledge store with hybrid semantic and
keyword ranking.

When no server is running and auto-start fails, the search falls back to
a one-shot index built directly from the journal.

Examples:
  # Top 5 matches
  knowd search "connection pool exhaustion"

  # More results, machine-readable
  knowd search "flaky tests" --limit 10 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 5, "maximum results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "emit JSON instead of text")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]

	cfg, logger, proj, err := setup()
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	resp, err := newClient(proj, logger).Search(cmd.Context(), query, searchLimit)
	if err == nil {
		return printResults(resp.Results, resp.SearchTimeMS)
	}

	// A missing server is recoverable; a reachable server rejecting the
	// query is not.
	if !errors.Is(err, client.ErrServerUnavailable) {
		var remote *client.RemoteError
		if errors.As(err, &remote) && remote.Code == protocol.CodeSearchUnavailable {
			return errors.New("knowledge search unavailable: the embedding service is not reachable (entries are safe; try again later)")
		}
		return err
	}

	logger.Warn("falling back to cold search", zap.Error(err))
	provider, err := embeddings.NewProvider(cfg.Embedding, logger)
	if err != nil {
		return fmt.Errorf("knowledge search unavailable: %w", err)
	}
	defer provider.Close()

	results, err := client.ColdSearch(cmd.Context(), proj, cfg, provider, query, searchLimit, logger)
	if err != nil {
		return fmt.Errorf("knowledge search unavailable: %w", err)
	}

	out := make([]protocol.SearchResult, len(results))
	for i, r := range results {
		out[i] = protocol.SearchResult{
			ID:        r.Entry.ID,
			Text:      r.Entry.Text,
			Kind:      r.Entry.Kind,
			Tags:      r.Entry.Tags,
			Priority:  r.Entry.Priority,
			CreatedAt: r.Entry.CreatedAt,
			Source:    r.Entry.Source,
			Score:     r.Score,
		}
	}
	return printResults(out, 0)
}

// printResults renders results for humans, or as JSON with --json. An
// empty result set is a normal answer, not an error.
func printResults(results []protocol.SearchResult, elapsedMS float64) error {
	if searchJSON {
		return json.NewEncoder(os.Stdout).Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No results found")
		return nil
	}

	for i, r := range results {
		fmt.Printf("%d. [%s] %s (score %.3f)\n", i+1, r.Kind, r.Text, r.Score)
		var meta []string
		if len(r.Tags) > 0 {
			meta = append(meta, "tags: "+strings.Join(r.Tags, ", "))
		}
		if r.Source != "" {
			meta = append(meta, "source: "+r.Source)
		}
		meta = append(meta, r.CreatedAt.Format("2006-01-02 15:04"), r.ID)
		fmt.Printf("   %s\n", strings.Join(meta, " | "))
	}
	if elapsedMS > 0 {
		fmt.Printf("\n%d result(s) in %.1fms\n", len(results), elapsedMS)
	}
	return nil
}

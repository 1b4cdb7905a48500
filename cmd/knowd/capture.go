package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/knowd/internal/entry"
	"github.com/fyrsmithlabs/knowd/internal/logging"
)

var (
	captureKind     string
	captureTags     []string
	capturePriority string
	captureSource   string
	captureScore    float64
)

// captureCmd appends one entry to the project's knowledge log.
var captureCmd = &cobra.Command{
	Use:   "capture [text]",
	Short: "Capture a lesson, finding, or solution",
	Long: `Capture one knowledge entry in the current project.

The text comes from the argument, or from stdin when the argument is "-"
or absent. The server assigns the id and timestamp.

Examples:
  # Capture a lesson
  knowd capture "retry storms need jitter, not just backoff"

  # Capture a tagged warning from stdin
  git diff | knowd capture - --kind warning --tags deploy,rollback`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().StringVar(&captureKind, "kind", "", "entry kind: "+kindList())
	captureCmd.Flags().StringSliceVar(&captureTags, "tags", nil, "comma-separated tags")
	captureCmd.Flags().StringVar(&capturePriority, "priority", "", "priority: low, medium, high, critical")
	captureCmd.Flags().StringVar(&captureSource, "source", "", "where this entry came from")
	captureCmd.Flags().Float64Var(&captureScore, "score", 0, "confidence hint in [0,1]; 0 means unset")
}

func kindList() string {
	kinds := entry.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func runCapture(cmd *cobra.Command, args []string) error {
	var text string
	if len(args) == 0 || args[0] == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		text = strings.TrimSpace(string(raw))
	} else {
		text = args[0]
	}

	e := &entry.Entry{
		Text:     text,
		Kind:     entry.Kind(captureKind),
		Tags:     captureTags,
		Priority: entry.Priority(capturePriority),
		Source:   captureSource,
	}
	if captureScore > 0 {
		score := captureScore
		e.ScoreHint = &score
	}
	e.Normalize()
	if err := e.Validate(); err != nil {
		return err
	}

	_, logger, proj, err := setup()
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	resp, err := newClient(proj, logger).Add(cmd.Context(), e)
	if err != nil {
		return err
	}

	switch {
	case resp.Status == "discarded":
		fmt.Println("Discarded: confidence below the configured threshold")
	case resp.Pending:
		fmt.Printf("Captured %s (indexing deferred until the embedding service is back)\n", resp.ID)
	default:
		fmt.Printf("Captured %s\n", resp.ID)
	}
	return nil
}

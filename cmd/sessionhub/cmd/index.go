package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sessionhub/sessionhub/internal/config"
	"github.com/sessionhub/sessionhub/internal/index"
)

// indexCmd runs a one-shot full index refresh and prints what it found.
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the session index and print a summary",
	Long: `Run a full index refresh without starting the server. Useful for
warming the persisted index or checking what sessionhub can see.`,
	RunE: runIndex,
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	setupLogging(cfg)

	ix := index.New(index.Options{
		Roots:            cfg.Index.Roots,
		IncludeSubagents: cfg.Index.IncludeSubagents,
		StateDir:         cfg.Index.StateDir,
		Persist:          cfg.Index.Persist,
	})

	if err := ix.Refresh(true); err != nil {
		return fmt.Errorf("index refresh failed: %w", err)
	}

	idx := ix.Snapshot()
	fmt.Printf("indexed %d sessions across %d projects in %dms\n",
		len(idx.Sessions), len(idx.Projects), idx.RefreshDurationMS)

	withSummary := 0
	for _, s := range idx.Sessions {
		if s.Summary != "" {
			withSummary++
		}
	}
	fmt.Printf("  %d sessions have summaries\n", withSummary)
	if cfg.Index.Persist {
		fmt.Printf("  index persisted to %s\n", cfg.Index.StateDir)
	}
	return nil
}

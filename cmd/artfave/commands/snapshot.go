package commands

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/project-AI39/artfave/internal/cache"
	"github.com/project-AI39/artfave/internal/config"
	"github.com/project-AI39/artfave/pkg/types"
)

var (
	snapshotPosition int
	snapshotJSON     bool
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <dir>",
	Short: "Preload around one position and print the cache",
	Long: `Run a single preload batch around --position and print the resident
entries together with the batch report.

Examples:
  artfave snapshot ~/Pictures/trip --position 12
  artfave snapshot ~/Pictures/trip --position 12 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshot,
}

func init() {
	snapshotCmd.Flags().IntVarP(&snapshotPosition, "position", "p", 0, "position to preload around")
	snapshotCmd.Flags().BoolVar(&snapshotJSON, "json", false, "print JSON instead of a table")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	a, stop, err := startAdapter(cmd, args[0], func(cfg *config.Configuration) {
		cfg.Source.Watch = false
	})
	if err != nil {
		return err
	}
	defer stop()

	s := a.Session()
	began := time.Now()
	if _, err := s.Jump(snapshotPosition); err != nil {
		return err
	}
	report, err := s.Wait(cmd.Context())
	if err != nil {
		return err
	}
	key, _, err := s.Current()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if snapshotJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Current   string                   `json:"current"`
			Report    cache.PreloadReport      `json:"report"`
			Residents []cache.Resident[string] `json:"residents"`
			Stats     types.CacheStats         `json:"stats"`
		}{key, report, s.Cache().Snapshot(), s.Cache().Stats()})
	}

	fmt.Fprintf(out, "current: %s\n", filepath.Base(key))
	printReport(out, report)
	printResidents(out, s.Cache().Snapshot(), began)
	return nil
}

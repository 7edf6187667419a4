package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/project-AI39/artfave/internal/config"
	"github.com/project-AI39/artfave/internal/session"
)

var (
	walkSteps    int
	walkStart    int
	walkBackward bool
	walkDelay    time.Duration
	walkNoWait   bool
)

var walkCmd = &cobra.Command{
	Use:   "walk <dir>",
	Short: "Step through a folder and show what stays preloaded",
	Long: `Open a folder, move through it one image at a time and print the
resident set of the prefetch cache after each step.

Examples:
  # Ten steps forward from the first image
  artfave walk ~/Pictures/trip --steps 10

  # Backwards from image 40, pausing like a reader would
  artfave walk ~/Pictures/trip --start 40 --backward --delay 300ms

  # Rapid stepping: only the last batch is waited for
  artfave walk ~/Pictures/trip --steps 20 --no-wait`,
	Args: cobra.ExactArgs(1),
	RunE: runWalk,
}

func init() {
	walkCmd.Flags().IntVarP(&walkSteps, "steps", "n", 5, "number of steps")
	walkCmd.Flags().IntVar(&walkStart, "start", 0, "starting position")
	walkCmd.Flags().BoolVar(&walkBackward, "backward", false, "step to the previous image instead of the next")
	walkCmd.Flags().DurationVar(&walkDelay, "delay", 0, "pause between steps")
	walkCmd.Flags().BoolVar(&walkNoWait, "no-wait", false, "do not wait for each batch before the next step")
}

func runWalk(cmd *cobra.Command, args []string) error {
	a, stop, err := startAdapter(cmd, args[0], func(cfg *config.Configuration) {
		// The listing is fixed for the duration of a walk.
		cfg.Source.Watch = false
	})
	if err != nil {
		return err
	}
	defer stop()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	s := a.Session()
	began := time.Now()

	if walkStart != 0 {
		if _, err := s.Jump(walkStart); err != nil {
			return err
		}
	}
	step := s.Next
	if walkBackward {
		step = s.Prev
	}

	for i := 0; i <= walkSteps; i++ {
		if i > 0 {
			if _, err := step(); err != nil {
				return err
			}
		}
		key, pos, err := s.Current()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n[%d/%d] %s\n", pos+1, len(s.Items()), filepath.Base(key))

		if walkNoWait && i < walkSteps {
			continue
		}
		if err := showBatch(cmd, s, began); err != nil {
			return err
		}

		if walkDelay > 0 && i < walkSteps {
			select {
			case <-time.After(walkDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	summary := a.Metrics().GetSummary()
	fmt.Fprintf(out, "\nfetches: %v  batches: %v  evictions: %d  stale results: %d\n",
		summary.Fetches, summary.Batches, summary.Evictions, summary.StaleResults)
	return nil
}

func showBatch(cmd *cobra.Command, s *session.Session, began time.Time) error {
	report, err := s.Wait(cmd.Context())
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), report)
	printResidents(cmd.OutOrStdout(), s.Cache().Snapshot(), began)
	return nil
}

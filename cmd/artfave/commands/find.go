package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/project-AI39/artfave/internal/config"
)

var findCmd = &cobra.Command{
	Use:   "find <dir> <query>",
	Short: "Fuzzy-find an image by file name",
	Long: `Jump to the image whose file name best matches query, preload its
neighbours and print where it is.

Example:
  artfave find ~/Pictures/trip sunst`,
	Args: cobra.ExactArgs(2),
	RunE: runFind,
}

func runFind(cmd *cobra.Command, args []string) error {
	a, stop, err := startAdapter(cmd, args[0], func(cfg *config.Configuration) {
		cfg.Source.Watch = false
	})
	if err != nil {
		return err
	}
	defer stop()

	s := a.Session()
	key, err := s.Find(args[1])
	if err != nil {
		return err
	}
	_, pos, err := s.Current()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s  (%d of %d)\n", filepath.Base(key), pos+1, len(s.Items()))
	if s.IsFavorite() {
		fmt.Fprintln(out, "already a favorite")
	}
	return nil
}

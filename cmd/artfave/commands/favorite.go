package commands

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/project-AI39/artfave/internal/favorites"
	"github.com/project-AI39/artfave/internal/source"
	"github.com/project-AI39/artfave/pkg/errors"
)

var (
	favoriteDir       string
	favoriteOverwrite bool
)

var favoriteCmd = &cobra.Command{
	Use:   "favorite",
	Short: "Manage the favorites folder",
	Long: `Copy images into the favorites folder and compare it with a source
folder.

The favorites folder comes from favorites.directory in the config file or
from --dir.

Subcommands:
  add     Copy images into the favorites folder
  remove  Delete an image from the favorites folder
  list    List the favorites
  diff    Show which images of a folder are favorites`,
}

var favoriteAddCmd = &cobra.Command{
	Use:   "add <image>...",
	Short: "Copy images into the favorites folder",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openFavorites()
		if err != nil {
			return err
		}
		for _, src := range args {
			dst, err := store.Add(src)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", src, dst)
		}
		return nil
	},
}

var favoriteRemoveCmd = &cobra.Command{
	Use:   "remove <name>...",
	Short: "Delete images from the favorites folder",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openFavorites()
		if err != nil {
			return err
		}
		for _, name := range args {
			if err := store.Remove(name); err != nil {
				return err
			}
		}
		return nil
	},
}

var favoriteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the favorites",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openFavorites()
		if err != nil {
			return err
		}
		names, err := store.List()
		if err != nil {
			return err
		}
		rows := make([][]string, len(names))
		for i, name := range names {
			rows[i] = []string{strconv.Itoa(i + 1), name}
		}
		printTable(cmd.OutOrStdout(), []string{"#", "Favorite"}, rows)
		return nil
	},
}

var favoriteDiffCmd = &cobra.Command{
	Use:   "diff <dir>",
	Short: "Show which images of a folder are favorites",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openFavorites()
		if err != nil {
			return err
		}
		order, err := source.ParseSortOrder(cfg.Source.SortOrder)
		if err != nil {
			return err
		}
		dir, err := source.NewDirectory(args[0], cfg.Source.Extensions, order)
		if err != nil {
			return err
		}
		items, err := dir.List(cmd.Context())
		if err != nil {
			return err
		}

		diff, err := store.Diff(items)
		if err != nil {
			return err
		}

		var rows [][]string
		for _, p := range diff.Favorites {
			rows = append(rows, []string{"*", filepath.Base(p)})
		}
		for _, p := range diff.Others {
			rows = append(rows, []string{"", filepath.Base(p)})
		}
		for _, name := range diff.Orphans {
			rows = append(rows, []string{"?", name})
		}
		printTable(cmd.OutOrStdout(), []string{"Fav", "Image"}, rows)
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d are favorites, %d favorites not in %s\n",
			len(diff.Favorites), len(items), len(diff.Orphans), dir.Path())
		return nil
	},
}

func init() {
	favoriteCmd.PersistentFlags().StringVar(&favoriteDir, "dir", "", "favorites folder (overrides favorites.directory)")
	favoriteCmd.PersistentFlags().BoolVar(&favoriteOverwrite, "overwrite", false, "replace favorites with the same name")

	favoriteCmd.AddCommand(favoriteAddCmd)
	favoriteCmd.AddCommand(favoriteRemoveCmd)
	favoriteCmd.AddCommand(favoriteListCmd)
	favoriteCmd.AddCommand(favoriteDiffCmd)
}

func openFavorites() (*favorites.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	fc := favorites.Config{
		Directory: cfg.Favorites.Directory,
		Overwrite: cfg.Favorites.Overwrite || favoriteOverwrite,
	}
	if favoriteDir != "" {
		fc.Directory = favoriteDir
	}
	if fc.Directory == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "no favorites folder: set favorites.directory or pass --dir").
			WithComponent("cli")
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	return favorites.NewStore(fc, logger)
}

// Package source lists the images of one folder in browsing order and
// watches the folder for changes.
package source

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/project-AI39/artfave/pkg/errors"
	"github.com/project-AI39/artfave/pkg/types"
	"github.com/project-AI39/artfave/pkg/utils"
)

// SortOrder selects how List orders entries.
type SortOrder string

const (
	SortByName    SortOrder = "name"
	SortByModTime SortOrder = "mtime"
)

// ParseSortOrder accepts "name" and "mtime"; empty means name.
func ParseSortOrder(s string) (SortOrder, error) {
	switch SortOrder(strings.ToLower(strings.TrimSpace(s))) {
	case "", SortByName:
		return SortByName, nil
	case SortByModTime:
		return SortByModTime, nil
	default:
		return SortByName, errors.Newf(errors.ErrCodeInvalidConfig, "unknown sort order %q", s).
			WithComponent("source")
	}
}

// Entry represents one image file found in the folder
type Entry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Directory is an ItemSource over the regular files of one folder.
// Subdirectories are not descended into.
type Directory struct {
	path       string
	extensions []string
	order      SortOrder
}

var _ types.ItemSource = (*Directory)(nil)

// NewDirectory creates a source for dir. Only files whose extension is in
// extensions (case-insensitive, with or without the dot) are listed.
func NewDirectory(dir string, extensions []string, order SortOrder) (*Directory, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePathInvalid, "cannot resolve folder").
			WithComponent("source").
			WithContext("dir", dir)
	}
	if order == "" {
		order = SortByName
	}
	return &Directory{
		path:       abs,
		extensions: utils.NormalizeExtensions(extensions),
		order:      order,
	}, nil
}

// Path returns the absolute folder path.
func (d *Directory) Path() string {
	return d.path
}

// Extensions returns the normalized extension filter.
func (d *Directory) Extensions() []string {
	return append([]string(nil), d.extensions...)
}

// Accepts reports whether name passes the extension filter.
func (d *Directory) Accepts(name string) bool {
	return utils.HasExtension(name, d.extensions)
}

// ReadDir returns the matching entries in browsing order.
func (d *Directory) ReadDir(ctx context.Context) ([]Entry, error) {
	dirents, err := os.ReadDir(d.path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSourceUnavailable, "cannot list folder").
			WithComponent("source").
			WithOperation("list").
			WithContext("dir", d.path)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !d.Accepts(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		entries = append(entries, Entry{
			Name:    de.Name(),
			Path:    filepath.Join(d.path, de.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sortEntries(entries, d.order)
	return entries, nil
}

// List implements types.ItemSource.
func (d *Directory) List(ctx context.Context) ([]string, error) {
	entries, err := d.ReadDir(ctx)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	return paths, nil
}

func sortEntries(entries []Entry, order SortOrder) {
	byName := func(a, b Entry) bool {
		la, lb := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if la != lb {
			return la < lb
		}
		return a.Name < b.Name
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if order == SortByModTime && !a.ModTime.Equal(b.ModTime) {
			return a.ModTime.Before(b.ModTime)
		}
		return byName(a, b)
	})
}

// Package favorites copies chosen images into a favorites folder and
// compares a source listing against it.
package favorites

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/project-AI39/artfave/pkg/errors"
	"github.com/project-AI39/artfave/pkg/utils"
)

const tempPrefix = ".artfave-"

// Config represents favorites configuration
type Config struct {
	Directory string `yaml:"directory" toml:"directory"`
	Overwrite bool   `yaml:"overwrite" toml:"overwrite"`
}

// Store manages the favorites folder. Favorites are matched by base name.
type Store struct {
	mu        sync.Mutex
	dir       string
	overwrite bool
	logger    *utils.StructuredLogger
}

// DiffResult partitions a listing by favorite membership, keeping input order.
type DiffResult struct {
	Favorites []string `json:"favorites"`
	Others    []string `json:"others"`
	// Orphans are favorites whose name no longer appears in the listing.
	Orphans []string `json:"orphans"`
}

// NewStore opens the favorites folder, creating it when missing.
func NewStore(cfg Config, logger *utils.StructuredLogger) (*Store, error) {
	if cfg.Directory == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "favorites directory is not set").
			WithComponent("favorites")
	}
	dir, err := filepath.Abs(cfg.Directory)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePathInvalid, "cannot resolve favorites folder").
			WithComponent("favorites")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSourceUnavailable, "cannot create favorites folder").
			WithComponent("favorites").
			WithContext("dir", dir)
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Store{dir: dir, overwrite: cfg.Overwrite, logger: logger.WithComponent("favorites")}, nil
}

// Dir returns the absolute favorites folder.
func (s *Store) Dir() string {
	return s.dir
}

// Add copies src into the favorites folder and returns the destination.
// An existing favorite with the same name is an ALREADY_EXISTS error unless
// the store overwrites.
func (s *Store) Add(src string) (string, error) {
	dst, err := s.target(filepath.Base(src))
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sameFile(src, dst) {
		return dst, nil
	}
	if _, err := os.Stat(dst); err == nil && !s.overwrite {
		return "", errors.Newf(errors.ErrCodeAlreadyExists, "%s is already a favorite", filepath.Base(src)).
			WithComponent("favorites").
			WithOperation("add")
	}

	if err := copyFile(src, dst); err != nil {
		if os.IsNotExist(err) {
			return "", errors.Wrap(err, errors.ErrCodeItemNotFound, "image not found").
				WithComponent("favorites").
				WithContext("path", src)
		}
		return "", errors.Wrap(err, errors.ErrCodeInternalError, "copy failed").
			WithComponent("favorites").
			WithContext("path", src)
	}

	s.logger.Info("favorite added", map[string]interface{}{"name": filepath.Base(dst)})
	return dst, nil
}

// Remove deletes a favorite by name.
func (s *Store) Remove(name string) error {
	dst, err := s.target(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(dst); err != nil {
		if os.IsNotExist(err) {
			return errors.Newf(errors.ErrCodeItemNotFound, "%s is not a favorite", name).
				WithComponent("favorites").
				WithOperation("remove")
		}
		return errors.Wrap(err, errors.ErrCodeInternalError, "remove failed").
			WithComponent("favorites").
			WithContext("name", name)
	}
	s.logger.Info("favorite removed", map[string]interface{}{"name": name})
	return nil
}

// Contains reports whether a favorite with path's base name exists.
func (s *Store) Contains(path string) bool {
	dst, err := s.target(filepath.Base(path))
	if err != nil {
		return false
	}
	info, err := os.Stat(dst)
	return err == nil && info.Mode().IsRegular()
}

// List returns the names of all favorites sorted case-insensitively.
func (s *Store) List() ([]string, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSourceUnavailable, "cannot list favorites").
			WithComponent("favorites")
	}
	names := make([]string, 0, len(dirents))
	for _, de := range dirents {
		if de.Type().IsRegular() && !strings.HasPrefix(de.Name(), tempPrefix) {
			names = append(names, de.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	return names, nil
}

// Diff splits items into favorites and the rest and reports favorites that
// are missing from items.
func (s *Store) Diff(items []string) (DiffResult, error) {
	names, err := s.List()
	if err != nil {
		return DiffResult{}, err
	}
	fav := make(map[string]bool, len(names))
	for _, n := range names {
		fav[n] = false
	}

	var res DiffResult
	for _, item := range items {
		base := filepath.Base(item)
		if _, ok := fav[base]; ok {
			fav[base] = true
			res.Favorites = append(res.Favorites, item)
			continue
		}
		res.Others = append(res.Others, item)
	}
	for _, n := range names {
		if !fav[n] {
			res.Orphans = append(res.Orphans, n)
		}
	}
	return res, nil
}

func (s *Store) target(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", errors.Newf(errors.ErrCodePathInvalid, "invalid favorite name %q", name).
			WithComponent("favorites")
	}
	dst, err := utils.SecureJoin(s.dir, name)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodePathInvalid, "invalid favorite name").
			WithComponent("favorites").
			WithContext("name", name)
	}
	return dst, nil
}

// copyFile writes through a temporary file so a partial copy never shows up
// as a favorite. The source modification time is preserved.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", src)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), tempPrefix+"*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	if err := os.Chtimes(tmp.Name(), info.ModTime(), info.ModTime()); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func sameFile(a, b string) bool {
	ia, err := os.Stat(a)
	if err != nil {
		return false
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ia, ib)
}

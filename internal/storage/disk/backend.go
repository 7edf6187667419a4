package disk

import (
	"bytes"
	"context"
	stderrors "errors"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/project-AI39/artfave/pkg/errors"
	"github.com/project-AI39/artfave/pkg/utils"
)

const readChunk = 1 << 20

// Image is one file loaded into memory.
type Image struct {
	Path    string    `json:"path"`
	Data    []byte    `json:"-"`
	Format  string    `json:"format,omitempty"`
	Width   int       `json:"width,omitempty"`
	Height  int       `json:"height,omitempty"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Backend loads images from the local filesystem. It satisfies
// types.Fetcher[string, *Image].
type Backend struct {
	config  *Config
	logger  *utils.StructuredLogger
	metrics metricsCollector
}

// NewBackend creates a disk backend. A nil config selects DefaultConfig and
// a nil logger discards output.
func NewBackend(cfg *Config, logger *utils.StructuredLogger) *Backend {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxItemSize <= 0 {
		cfg.MaxItemSize = DefaultMaxItemSize
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Backend{
		config: cfg,
		logger: logger.WithComponent("disk"),
	}
}

// Fetch reads the file at path into memory. It checks ctx between chunks so
// a cancelled fetch stops reading promptly.
func (b *Backend) Fetch(ctx context.Context, path string) (*Image, error) {
	start := time.Now()
	img, err := b.fetch(ctx, path)
	var n int64
	if img != nil {
		n = int64(len(img.Data))
	}
	b.metrics.record(time.Since(start), n, err)
	if err != nil {
		b.logger.Debug("read failed", map[string]interface{}{"path": path, "error": err})
		return nil, err
	}
	return img, nil
}

func (b *Backend) fetch(ctx context.Context, path string) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, b.translateError(err, path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, b.translateError(err, path)
	}
	if !info.Mode().IsRegular() {
		return nil, errors.Newf(errors.ErrCodeFetchFailed, "%s is not a regular file", path).
			WithComponent("disk").
			WithOperation("fetch")
	}
	if info.Size() > b.config.MaxItemSize {
		return nil, errors.Newf(errors.ErrCodeItemTooLarge, "%s is %s, limit %s",
			path, utils.FormatBytes(info.Size()), utils.FormatBytes(b.config.MaxItemSize)).
			WithComponent("disk").
			WithOperation("fetch").
			WithDetail("size", info.Size())
	}

	data, err := readAll(ctx, f, info.Size(), b.config.MaxItemSize)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, b.translateError(err, path)
	}

	img := &Image{
		Path:    path,
		Data:    data,
		Size:    int64(len(data)),
		ModTime: info.ModTime(),
	}

	if b.config.VerifyDecode {
		cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			decodeErr := errors.Wrap(err, errors.ErrCodeFetchFailed, "image does not decode").
				WithComponent("disk").
				WithOperation("decode").
				WithContext("path", path)
			// A file written moments ago may still be mid-copy.
			decodeErr.Retryable = time.Since(info.ModTime()) < RecentWriteWindow
			return nil, decodeErr
		}
		img.Format = format
		img.Width = cfg.Width
		img.Height = cfg.Height
	}
	return img, nil
}

// readAll reads r in chunks, stopping when ctx is done or more than limit
// bytes arrive.
func readAll(ctx context.Context, r io.Reader, sizeHint, limit int64) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, sizeHint))
	chunk := make([]byte, readChunk)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if int64(buf.Len()) > limit {
			return nil, errors.Newf(errors.ErrCodeItemTooLarge, "file grew beyond %s while reading", utils.FormatBytes(limit)).
				WithComponent("disk").
				WithOperation("fetch")
		}
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// translateError separates failures of one image from failures of the
// folder. A missing file whose folder is also gone, or an I/O error, means
// the source is unavailable.
func (b *Backend) translateError(err error, path string) error {
	var ae *errors.ArtfaveError
	if stderrors.As(err, &ae) {
		return err
	}
	switch {
	case stderrors.Is(err, fs.ErrNotExist):
		if _, statErr := os.Stat(filepath.Dir(path)); statErr != nil {
			return errors.Wrap(err, errors.ErrCodeSourceUnavailable, "source folder is gone").
				WithComponent("disk").
				WithContext("path", path)
		}
		return errors.Wrap(err, errors.ErrCodeItemNotFound, "image not found").
			WithComponent("disk").
			WithContext("path", path)
	case stderrors.Is(err, fs.ErrPermission):
		return errors.Wrap(err, errors.ErrCodeFetchFailed, "permission denied").
			WithComponent("disk").
			WithContext("path", path)
	default:
		return errors.Wrap(err, errors.ErrCodeSourceUnavailable, "read failed").
			WithComponent("disk").
			WithContext("path", path)
	}
}

// HealthCheck verifies that dir exists and is readable.
func (b *Backend) HealthCheck(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.ReadDir(dir); err != nil {
		return errors.Wrap(err, errors.ErrCodeSourceUnavailable, "source folder unreadable").
			WithComponent("disk").
			WithContext("dir", dir)
	}
	return nil
}

// GetMetrics returns a copy of the backend metrics.
func (b *Backend) GetMetrics() BackendMetrics {
	return b.metrics.snapshot()
}

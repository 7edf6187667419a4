package disk

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-AI39/artfave/internal/testutil"
	"github.com/project-AI39/artfave/pkg/errors"
	"github.com/project-AI39/artfave/pkg/types"
)

var _ types.Fetcher[string, *Image] = (*Backend)(nil)

func TestNewBackend_Defaults(t *testing.T) {
	b := NewBackend(nil, nil)
	assert.Equal(t, DefaultMaxItemSize, b.config.MaxItemSize)
	assert.True(t, b.config.VerifyDecode)

	b = NewBackend(&Config{MaxItemSize: -1}, nil)
	assert.Equal(t, DefaultMaxItemSize, b.config.MaxItemSize)
}

func TestFetch_PNG(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WritePNG(t, dir, "cat.png", 16, 9)
	b := NewBackend(nil, nil)

	img, err := b.Fetch(context.Background(), path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, path, img.Path)
	assert.Equal(t, "png", img.Format)
	assert.Equal(t, 16, img.Width)
	assert.Equal(t, 9, img.Height)
	assert.Equal(t, info.Size(), img.Size)
	assert.Len(t, img.Data, int(info.Size()))
	assert.True(t, info.ModTime().Equal(img.ModTime))

	m := b.GetMetrics()
	assert.Equal(t, int64(1), m.Requests)
	assert.Equal(t, int64(0), m.Errors)
	assert.Equal(t, info.Size(), m.BytesRead)
}

func TestFetch_Errors(t *testing.T) {
	dir := t.TempDir()
	corrupt := testutil.WriteFile(t, dir, "broken.jpg", []byte("definitely not a jpeg"))
	big := testutil.WriteFile(t, dir, "big.png", make([]byte, 2048))
	sub := filepath.Join(dir, "folder.png")
	require.NoError(t, os.Mkdir(sub, 0o755))

	tests := []struct {
		name   string
		config *Config
		path   string
		code   errors.ErrorCode
	}{
		{name: "missing file", path: filepath.Join(dir, "nope.png"), code: errors.ErrCodeItemNotFound},
		{name: "folder gone", path: filepath.Join(dir, "unplugged", "img00.png"), code: errors.ErrCodeSourceUnavailable},
		{name: "corrupt image", path: corrupt, code: errors.ErrCodeFetchFailed},
		{name: "too large", config: &Config{MaxItemSize: 1024, VerifyDecode: true}, path: big, code: errors.ErrCodeItemTooLarge},
		{name: "directory", path: sub, code: errors.ErrCodeFetchFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBackend(tt.config, nil)
			img, err := b.Fetch(context.Background(), tt.path)
			require.Error(t, err)
			assert.Nil(t, img)
			assert.Equal(t, tt.code, errors.CodeOf(err), err.Error())
			assert.Equal(t, int64(1), b.GetMetrics().Errors)
			assert.NotEmpty(t, b.GetMetrics().LastError)
		})
	}
}

func TestFetch_SkipDecode(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "notes.png", []byte("raw bytes"))
	b := NewBackend(&Config{VerifyDecode: false}, nil)

	img, err := b.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw bytes"), img.Data)
	assert.Empty(t, img.Format)
}

func TestFetch_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WritePNG(t, dir, "a.png", 2, 2)
	b := NewBackend(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Fetch(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHealthCheck(t *testing.T) {
	b := NewBackend(nil, nil)
	assert.NoError(t, b.HealthCheck(context.Background(), t.TempDir()))

	err := b.HealthCheck(context.Background(), filepath.Join(t.TempDir(), "gone"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeSourceUnavailable))
}

func TestFetch_DecodeErrorRetryableWhileFresh(t *testing.T) {
	dir := t.TempDir()
	fresh := testutil.WriteFile(t, dir, "copying.png", []byte{0x89, 'P', 'N', 'G'})
	old := testutil.WriteFile(t, dir, "old.png", []byte{0x89, 'P', 'N', 'G'})
	testutil.Touch(t, old, time.Now().Add(-time.Hour))
	b := NewBackend(nil, nil)

	var ae *errors.ArtfaveError

	_, err := b.Fetch(context.Background(), fresh)
	require.ErrorAs(t, err, &ae)
	assert.True(t, ae.Retryable, "a just-written file may still be mid-copy")

	_, err = b.Fetch(context.Background(), old)
	require.ErrorAs(t, err, &ae)
	assert.False(t, ae.Retryable)
}

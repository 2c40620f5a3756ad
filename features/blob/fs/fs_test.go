package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteBytesUnderRoot(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	require.NoError(t, err)

	require.NoError(t, store.WriteBytes(context.Background(), "s3://bucket/task/a1.png", []byte("payload")))

	got, err := os.ReadFile(filepath.Join(root, "s3", "bucket", "task", "a1.png"))
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)
}

func TestWriteBytesFileScheme(t *testing.T) {
	dir := t.TempDir()
	store, err := New(t.TempDir())
	require.NoError(t, err)

	dst := filepath.Join(dir, "nested", "a1.bin")
	require.NoError(t, store.WriteBytes(context.Background(), "file://"+dst, []byte("abc")))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), got)
}

func TestWriteFileStreamsSource(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "rec.webm")
	require.NoError(t, os.WriteFile(src, []byte("frames"), 0o644))

	require.NoError(t, store.WriteFile(context.Background(), "blobs://org1/rec.webm", src))

	got, err := os.ReadFile(filepath.Join(root, "blobs", "org1", "rec.webm"))
	require.NoError(t, err)
	require.Equal(t, []byte("frames"), got)
}

func TestWriteFileMissingSource(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	require.Error(t, store.WriteFile(context.Background(), "blobs://x", "/does/not/exist"))
}

func TestNewRequiresRoot(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

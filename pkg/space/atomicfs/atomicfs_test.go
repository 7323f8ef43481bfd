package atomicfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFile_AtomicReplace(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/home/project/settings.json"

	require.NoError(t, WriteFile(fs, path, []byte("first"), 0o644))
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	require.NoError(t, WriteFile(fs, path, []byte("second"), 0o644))
	data, err = afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	// no leftover temp files in the directory
	infos, err := afero.ReadDir(fs, filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestReplaceDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/staging/a.txt", []byte("new"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/dest/old.txt", []byte("old"), 0o644))

	require.NoError(t, ReplaceDir(fs, "/staging", "/dest"))

	exists, _ := afero.Exists(fs, "/dest/old.txt")
	assert.False(t, exists, "old contents must be gone after replace")

	data, err := afero.ReadFile(fs, "/dest/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestReplaceDir_NoPriorDest(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/staging/a.txt", []byte("new"), 0o644))

	require.NoError(t, ReplaceDir(fs, "/staging", "/dest"))

	data, err := afero.ReadFile(fs, "/dest/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestStagingDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir, err := StagingDir(fs, "/tmp", "snapshot")
	require.NoError(t, err)
	assert.Contains(t, dir, "/tmp/.snapshot.")
	exists, err := afero.DirExists(fs, dir)
	require.NoError(t, err)
	assert.True(t, exists)

	dir2, err := StagingDir(fs, "/tmp", "snapshot")
	require.NoError(t, err)
	assert.NotEqual(t, dir, dir2, "each call must get a distinct staging dir")
}

func TestLinkOrCopyTree_OnOsFs(t *testing.T) {
	fs := afero.NewOsFs()
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")

	require.NoError(t, fs.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(src, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(src, "nested", "b.txt"), []byte("world"), 0o755))

	require.NoError(t, LinkOrCopyTree(fs, src, dst))

	data, err := afero.ReadFile(fs, filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	data, err = afero.ReadFile(fs, filepath.Join(dst, "nested", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))

	info, err := os.Stat(filepath.Join(dst, "nested", "b.txt"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o111, "executable bit should be preserved")
}

func TestLock_AcquireRelease(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.lock")

	l1 := NewLock(path)
	require.NoError(t, l1.Acquire(context.Background(), LockOptions{TimeoutMs: 1000, RetryIntervalMs: 10}))

	// releasing twice is a no-op
	require.NoError(t, l1.Release())
	require.NoError(t, l1.Release())
}

func TestLock_TimeoutWhenHeld(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.lock")

	l1 := NewLock(path)
	require.NoError(t, l1.Acquire(context.Background(), LockOptions{TimeoutMs: 1000, RetryIntervalMs: 10}))
	defer l1.Release()

	l2 := NewLock(path)
	start := time.Now()
	err := l2.Acquire(context.Background(), LockOptions{TimeoutMs: 200, RetryIntervalMs: 20})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Less(t, elapsed, 2*time.Second)
}

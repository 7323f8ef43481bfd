// Package atomicfs implements C3: atomic file and directory replacement,
// hardlink-or-copy trees, and cross-process advisory file locking, all
// against an afero.Fs.
package atomicfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gofrs/flock"
	"github.com/spf13/afero"

	"asp/pkg/space"
)

// WriteFile atomically writes data to path: write to a sibling
// ".<base>.<rand>.tmp", then rename onto path. The temp file is unlinked on
// any error path.
func WriteFile(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))

	if err := afero.WriteFile(fs, tmp, data, perm); err != nil {
		return fmt.Errorf("atomic write %s: %w", path, err)
	}

	if f, openErr := fs.OpenFile(tmp, os.O_WRONLY, perm); openErr == nil {
		if syncer, ok := f.(interface{ Sync() error }); ok {
			_ = syncer.Sync()
		}
		_ = f.Close()
	}

	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("atomic write %s: rename failed: %w", path, err)
	}
	return nil
}

// ReplaceDir atomically replaces dstDir's contents with those of srcDir: if
// dstDir exists, it is removed, then srcDir is renamed onto dstDir. srcDir
// must be a sibling-scoped staging directory the caller owns exclusively.
func ReplaceDir(fs afero.Fs, srcDir, dstDir string) error {
	if exists, err := afero.DirExists(fs, dstDir); err == nil && exists {
		if err := fs.RemoveAll(dstDir); err != nil {
			return fmt.Errorf("atomic replace %s: removing old target: %w", dstDir, err)
		}
	}
	if err := fs.Rename(srcDir, dstDir); err != nil {
		return fmt.Errorf("atomic replace %s: rename failed: %w", dstDir, err)
	}
	return nil
}

// StagingDir returns a fresh sibling staging directory path under parent,
// of the form "<parent>/.<prefix>.<rand>.tmp", and creates it.
func StagingDir(fs afero.Fs, parent, prefix string) (string, error) {
	dir := filepath.Join(parent, fmt.Sprintf(".%s.%s.tmp", prefix, uuid.NewString()))
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return dir, nil
}

// LinkOrCopyTree recursively hardlinks (falling back to a copy across
// filesystem boundaries) every regular file from src into dst, preserving
// symlinks and file modes. dst's ancestor directories are created as
// needed.
func LinkOrCopyTree(fs afero.Fs, src, dst string) error {
	_, isOS := fs.(*afero.OsFs)

	return afero.Walk(fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return fs.MkdirAll(target, 0o755)
		}

		if info.Mode()&os.ModeSymlink != 0 {
			return copySymlink(fs, path, target)
		}

		if isOS {
			if err := os.Link(path, target); err == nil {
				return nil
			}
		}
		return copyFile(fs, path, target, info.Mode())
	})
}

func copySymlink(fs afero.Fs, src, dst string) error {
	reader, ok := fs.(afero.LinkReader)
	if !ok {
		return fmt.Errorf("filesystem does not support reading symlinks")
	}
	linker, ok := fs.(afero.Linker)
	if !ok {
		return fmt.Errorf("filesystem does not support creating symlinks")
	}
	target, err := reader.ReadlinkIfPossible(src)
	if err != nil {
		return fmt.Errorf("read symlink %s: %w", src, err)
	}
	return linker.SymlinkIfPossible(target, dst)
}

func copyFile(fs afero.Fs, src, dst string, mode os.FileMode) error {
	in, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	return nil
}

// LockOptions configure advisory lock acquisition.
type LockOptions struct {
	TimeoutMs      int
	StaleAfterMs   int
	RetryIntervalMs int
}

// DefaultLockOptions mirrors spec.md's acquire defaults.
func DefaultLockOptions() LockOptions {
	return LockOptions{TimeoutMs: 30000, StaleAfterMs: 10000, RetryIntervalMs: 100}
}

// Lock is a cross-process advisory file lock, backed by gofrs/flock.
type Lock struct {
	path string
	fl   *flock.Flock
}

// NewLock constructs a lock handle for path. Nothing is created on disk
// here; the lock file and its parent directory are created by Acquire.
func NewLock(path string) *Lock {
	return &Lock{path: path, fl: flock.New(path)}
}

// Acquire blocks (with retry/backoff) until the lock is held or the
// timeout elapses, returning *space.LockTimeoutError on timeout.
func (l *Lock) Acquire(ctx context.Context, opts LockOptions) error {
	if opts.TimeoutMs == 0 {
		opts = DefaultLockOptions()
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return &space.LockError{Path: l.path, Cause: err}
	}

	retry := time.Duration(opts.RetryIntervalMs) * time.Millisecond
	if retry <= 0 {
		retry = 100 * time.Millisecond
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
	defer cancel()

	for {
		ok, err := l.fl.TryLockContext(timeoutCtx, retry)
		if err == nil && ok {
			return nil
		}
		if timeoutCtx.Err() != nil {
			return &space.LockTimeoutError{Path: l.path, Timeout: fmt.Sprintf("%dms", opts.TimeoutMs)}
		}
		if err != nil {
			return &space.LockError{Path: l.path, Cause: err}
		}
	}
}

// Release is idempotent: releasing an unheld lock is not an error.
func (l *Lock) Release() error {
	if !l.fl.Locked() {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return &space.LockError{Path: l.path, Cause: err}
	}
	return nil
}

// Package store implements C8: the content-addressed snapshot and plugin
// cache layout under <aspHome>, including atomic placement, verification,
// sizing/listing, and garbage collection.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"asp/pkg/space"
	"asp/pkg/space/atomicfs"
	"asp/pkg/space/integrity"
)

const (
	snapshotSidecarName = ".asp-snapshot.json"
	cacheSidecarName    = ".asp-cache.json"
)

// Store is the default, afero-backed implementation of space.Store.
type Store struct {
	fs      afero.Fs
	aspHome string
	git     space.GitExecutor
}

// New constructs a Store rooted at aspHome.
func New(fs afero.Fs, aspHome string, git space.GitExecutor) *Store {
	return &Store{fs: fs, aspHome: aspHome, git: git}
}

var _ space.Store = (*Store)(nil)

func (s *Store) snapshotsDir() string { return filepath.Join(s.aspHome, "snapshots") }
func (s *Store) cacheDir() string     { return filepath.Join(s.aspHome, "cache") }

// FS returns the filesystem the store operates on.
func (s *Store) FS() afero.Fs { return s.fs }

// Tmp returns the store's staging directory, creating it if absent.
func (s *Store) Tmp() string {
	dir := filepath.Join(s.aspHome, "tmp")
	_ = s.fs.MkdirAll(dir, 0o755)
	return dir
}

// SnapshotPath returns the on-disk path of an extracted snapshot.
func (s *Store) SnapshotPath(integ space.Integrity) string {
	return filepath.Join(s.snapshotsDir(), integ.Hex())
}

// Exists reports whether a snapshot sidecar is present, without
// recomputing its hash (§SPEC_FULL.md "C8 Store — size/listing helpers").
func (s *Store) Exists(integ space.Integrity) (bool, error) {
	return afero.Exists(s.fs, filepath.Join(s.SnapshotPath(integ), snapshotSidecarName))
}

// EnsureSnapshot extracts (or reuses) the snapshot for id at commit (§4.8
// "Create snapshot"). The integrity is computed from the git tree listing;
// the extracted files are not re-hashed here (Verify does that).
func (s *Store) EnsureSnapshot(ctx context.Context, id space.Id, repoDir string, commit space.CommitSha) (space.Integrity, bool, error) {
	if commit == space.DevCommit || commit == space.ProjectCommit {
		return space.DevIntegrity, false, nil
	}

	subpath := filepath.Join("spaces", string(id))
	var entries []space.TreeEntry
	err := retryOnce(func() (err error) {
		entries, err = s.git.ListTree(ctx, repoDir, commit, subpath)
		return err
	})
	if err != nil {
		return "", false, &space.SnapshotError{SpaceId: id, Commit: commit, Cause: err}
	}
	integ := integrity.FromGitTree(entries)

	exists, err := s.Exists(integ)
	if err != nil {
		return "", false, &space.SnapshotError{SpaceId: id, Commit: commit, Cause: err}
	}
	if exists {
		return integ, false, nil
	}

	stagingDir, err := atomicfs.StagingDir(s.fs, s.Tmp(), "snapshot")
	if err != nil {
		return "", false, &space.SnapshotError{SpaceId: id, Commit: commit, Cause: err}
	}

	if err := retryOnce(func() error {
		return s.git.ExtractTree(ctx, repoDir, commit, subpath, stagingDir)
	}); err != nil {
		_ = s.fs.RemoveAll(stagingDir)
		return "", false, &space.SnapshotError{SpaceId: id, Commit: commit, Cause: err}
	}

	sidecar := space.SnapshotSidecar{
		SpaceId:    id,
		Commit:     commit,
		Integrity:  integ,
		CreatedAt:  time.Now(),
		SourcePath: filepath.Join("spaces", string(id)),
	}
	if err := writeSidecar(s.fs, filepath.Join(stagingDir, snapshotSidecarName), sidecar); err != nil {
		_ = s.fs.RemoveAll(stagingDir)
		return "", false, &space.SnapshotError{SpaceId: id, Commit: commit, Cause: err}
	}

	dest := s.SnapshotPath(integ)
	if err := s.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		_ = s.fs.RemoveAll(stagingDir)
		return "", false, &space.SnapshotError{SpaceId: id, Commit: commit, Cause: err}
	}
	if err := atomicfs.ReplaceDir(s.fs, stagingDir, dest); err != nil {
		_ = s.fs.RemoveAll(stagingDir)
		return "", false, &space.SnapshotError{SpaceId: id, Commit: commit, Cause: err}
	}

	return integ, true, nil
}

// Verify recomputes a snapshot's integrity from disk and compares it to the
// expected value.
func (s *Store) Verify(integ space.Integrity) error {
	path := s.SnapshotPath(integ)
	actual, err := integrity.FromFilesystem(context.Background(), s.fs, path)
	if err != nil {
		return fmt.Errorf("verify snapshot %s: %w", integ.Hex(), err)
	}
	if actual != integ {
		return &space.IntegrityError{Path: path, Expected: integ, Actual: actual}
	}
	return nil
}

// ListSnapshots returns the integrity hex of every snapshot present.
func (s *Store) ListSnapshots() ([]string, error) {
	return listHexDirs(s.fs, s.snapshotsDir())
}

// DeleteSnapshot removes a snapshot directory.
func (s *Store) DeleteSnapshot(hex string) error {
	return s.fs.RemoveAll(filepath.Join(s.snapshotsDir(), hex))
}

// SnapshotSize returns the recursive byte size of a snapshot.
func (s *Store) SnapshotSize(hex string) (int64, error) {
	return dirSize(s.fs, filepath.Join(s.snapshotsDir(), hex))
}

// CachePath returns the on-disk path of a plugin cache entry.
func (s *Store) CachePath(cacheKey string) string {
	return filepath.Join(s.cacheDir(), cacheKey)
}

// CacheExists reports whether a cache entry is present.
func (s *Store) CacheExists(cacheKey string) (bool, error) {
	return afero.Exists(s.fs, filepath.Join(s.CachePath(cacheKey), cacheSidecarName))
}

// PlaceCache atomically moves a staged build directory into the cache
// under cacheKey, writing the sidecar into it first.
func (s *Store) PlaceCache(cacheKey, stagedDir string, sidecar space.CacheSidecar) error {
	if err := writeSidecar(s.fs, filepath.Join(stagedDir, cacheSidecarName), sidecar); err != nil {
		_ = s.fs.RemoveAll(stagedDir)
		return fmt.Errorf("place cache %s: %w", cacheKey, err)
	}
	dest := s.CachePath(cacheKey)
	if err := s.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		_ = s.fs.RemoveAll(stagedDir)
		return fmt.Errorf("place cache %s: %w", cacheKey, err)
	}
	if err := atomicfs.ReplaceDir(s.fs, stagedDir, dest); err != nil {
		_ = s.fs.RemoveAll(stagedDir)
		return fmt.Errorf("place cache %s: %w", cacheKey, err)
	}
	return nil
}

// ListCache returns the cache-key hex of every cache entry present.
func (s *Store) ListCache() ([]string, error) {
	return listHexDirs(s.fs, s.cacheDir())
}

// DeleteCache removes a cache entry.
func (s *Store) DeleteCache(cacheKey string) error {
	return s.fs.RemoveAll(filepath.Join(s.cacheDir(), cacheKey))
}

// retryOnce runs fn, and on failure runs it a second time before giving up.
// Snapshot creation treats a single git failure as transient (§4.11);
// anything still failing on the second attempt is fatal.
func retryOnce(fn func() error) error {
	if err := fn(); err != nil {
		return fn()
	}
	return nil
}

func writeSidecar(fs afero.Fs, path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return atomicfs.WriteFile(fs, path, append(data, '\n'), 0o644)
}

func listHexDirs(fs afero.Fs, dir string) ([]string, error) {
	exists, err := afero.DirExists(fs, dir)
	if err != nil || !exists {
		return nil, err
	}
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, info := range infos {
		if info.IsDir() {
			out = append(out, info.Name())
		}
	}
	return out, nil
}

func dirSize(fs afero.Fs, dir string) (int64, error) {
	var total int64
	err := afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

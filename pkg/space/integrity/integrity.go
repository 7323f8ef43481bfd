// Package integrity implements C6: canonical content hashing of git trees
// and filesystem directories, and environment/cache-key hashing.
package integrity

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"asp/pkg/space"
)

var ignoredDirNames = map[string]bool{
	"node_modules": true,
	".git":         true,
}

var ignoredFileNames = map[string]bool{
	".DS_Store": true,
	"Thumbs.db": true,
	// The store's sidecar, written inside every extracted snapshot directory.
	".asp-snapshot.json": true,
}

var ignoredExtensions = map[string]bool{
	".pyc":   true,
	".pyo":   true,
	".class": true,
}

func isIgnoredPath(path string) bool {
	for _, part := range strings.Split(path, "/") {
		if ignoredDirNames[part] {
			return true
		}
		if ignoredFileNames[part] {
			return true
		}
	}
	if ext := filepath.Ext(path); ignoredExtensions[ext] {
		return true
	}
	return false
}

type treeEntry struct {
	path string
	typ  string
	oid  string
	mode string
}

func hashEntries(preamble string, entries []treeEntry) space.Integrity {
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	h := sha256.New()
	h.Write([]byte(preamble))
	for _, e := range entries {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\n", e.path, e.typ, e.oid, e.mode)
	}
	return space.Integrity(fmt.Sprintf("sha256:%x", h.Sum(nil)))
}

// FromGitTree computes per-space integrity (§4.6) from a recursive tree
// listing of spaces/<id>/ at a commit, as returned by a GitExecutor.
func FromGitTree(entries []space.TreeEntry) space.Integrity {
	var filtered []treeEntry
	for _, e := range entries {
		if e.Type != "blob" {
			continue
		}
		if isIgnoredPath(e.Path) {
			continue
		}
		filtered = append(filtered, treeEntry{path: e.Path, typ: "blob", oid: e.OID, mode: e.Mode})
	}
	return hashEntries("v1\x00", filtered)
}

// FromFilesystem computes filesystem integrity (§4.6) for a directory,
// using the git blob SHA-1 convention for each file's oid so filesystem and
// git-extracted snapshots agree when contents match.
func FromFilesystem(ctx context.Context, fs afero.Fs, root string) (space.Integrity, error) {
	var entries []treeEntry

	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if isIgnoredPath(rel) {
			return nil
		}

		content, err := afero.ReadFile(fs, path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		mode := "100644"
		if info.Mode()&0o111 != 0 {
			mode = "100755"
		}

		entries = append(entries, treeEntry{
			path: rel,
			typ:  "blob",
			oid:  gitBlobSHA1(content),
			mode: mode,
		})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("filesystem integrity: %w", err)
	}

	return hashEntries("v1\x00", entries), nil
}

// gitBlobSHA1 computes SHA1("blob <len>\0<content>"), git's object id for a
// blob.
func gitBlobSHA1(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// EnvHashEntry is one (spaceKey, integrity, pluginName) triple contributing
// to an environment hash, in load order.
type EnvHashEntry struct {
	SpaceKey   space.Key
	Integrity  space.Integrity
	PluginName string
}

// EnvHash computes the per-target environment hash (§4.6) over an ordered
// load order. If harnessId is non-empty, the harness-aware variant is used.
func EnvHash(entries []EnvHashEntry, harnessId string) space.Integrity {
	h := sha256.New()
	if harnessId != "" {
		fmt.Fprintf(h, "env-harness-v1\x00%s\x00", harnessId)
	} else {
		h.Write([]byte("env-v1\x00"))
	}
	for _, e := range entries {
		fmt.Fprintf(h, "%s\x00%s\x00%s\n", e.SpaceKey, e.Integrity, e.PluginName)
	}
	return space.Integrity(fmt.Sprintf("sha256:%x", h.Sum(nil)))
}

// CacheKey computes the harness-aware materializer cache key (§4.8): SHA-256
// of "materializer-v2\0<harnessId>\0<harnessVersion>\0<integrity>\0<pluginName>\0<pluginVersion>\n".
func CacheKey(harnessId, harnessVersion string, spaceIntegrity space.Integrity, pluginName, pluginVersion string) string {
	h := sha256.New()
	fmt.Fprintf(h, "materializer-v2\x00%s\x00%s\x00%s\x00%s\x00%s\n",
		harnessId, harnessVersion, spaceIntegrity, pluginName, pluginVersion)
	return fmt.Sprintf("%x", h.Sum(nil))
}

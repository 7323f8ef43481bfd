package space

import (
	"context"

	"github.com/spf13/afero"
)

// TreeEntry is one entry returned by a recursive tree listing: a git blob
// or tree at a path, with its object id and mode.
type TreeEntry struct {
	Path string
	Type string // "blob" or "tree"
	OID  string
	Mode string // e.g. "100644", "100755", "040000"
}

// TagRef is a registry tag pointing at a commit.
type TagRef struct {
	Name   string
	Commit CommitSha
}

// GitExecutor is the narrow surface the resolver, integrity engine and
// store need from a git repository. Implementations spawn the system git
// binary with argv arrays; they never interpolate user input into a shell
// string.
type GitExecutor interface {
	// ListTags lists tags matching a glob (e.g. "space/frontend/v*") with
	// their resolved commits.
	ListTags(ctx context.Context, repoDir, glob string) ([]TagRef, error)

	// ListRemoteTags lists every tag on url without cloning it, via
	// `git ls-remote --tags`. Used only by repoInit to seed dist-tags.json
	// from a remote's existing tags.
	ListRemoteTags(ctx context.Context, url string) ([]TagRef, error)

	// ResolveTag resolves a single tag name to a commit SHA.
	ResolveTag(ctx context.Context, repoDir, tag string) (CommitSha, error)

	// RevParse resolves any committish (branch, short/long SHA) to a full
	// commit SHA, verifying existence.
	RevParse(ctx context.Context, repoDir, committish string) (CommitSha, error)

	// ListTree recursively lists entries under subpath at ref.
	ListTree(ctx context.Context, repoDir string, ref CommitSha, subpath string) ([]TreeEntry, error)

	// ExtractTree extracts subpath at commit into destDir.
	ExtractTree(ctx context.Context, repoDir string, commit CommitSha, subpath, destDir string) error

	// ReadBlob reads the content of <ref>:<path>.
	ReadBlob(ctx context.Context, repoDir string, ref CommitSha, path string) ([]byte, error)

	// Init initializes a new git repository at dir.
	Init(ctx context.Context, dir string) error

	// Fetch fetches from origin into repoDir.
	Fetch(ctx context.Context, repoDir string) error

	// Clone clones url into destDir.
	Clone(ctx context.Context, url, destDir string) error

	// Add stages paths (or "." for all) in repoDir.
	Add(ctx context.Context, repoDir string, paths ...string) error

	// Commit commits staged changes with message, returning the new
	// commit SHA. Returns an empty string if there was nothing to commit.
	Commit(ctx context.Context, repoDir, message string) (CommitSha, error)

	// Tag creates a tag at HEAD (or at ref, if non-empty).
	Tag(ctx context.Context, repoDir, name, ref string) error

	// Status returns `git status --porcelain` output.
	Status(ctx context.Context, repoDir string) (string, error)
}

// Store is the content-addressed snapshot and plugin-cache surface the
// orchestrator and materializer depend on.
type Store interface {
	// EnsureSnapshot extracts (or reuses) the snapshot for id at commit,
	// returning its integrity (computed from the git tree listing; the
	// extracted files are not re-hashed) and whether it was newly created.
	EnsureSnapshot(ctx context.Context, id Id, repoDir string, commit CommitSha) (Integrity, bool, error)

	// SnapshotPath returns the on-disk path of an extracted snapshot.
	SnapshotPath(integrity Integrity) string

	// Exists reports whether a snapshot sidecar is present, without
	// recomputing its hash.
	Exists(integrity Integrity) (bool, error)

	// Verify recomputes a snapshot's integrity from disk and compares it
	// to the expected value.
	Verify(integrity Integrity) error

	// ListSnapshots returns the integrity hex of every snapshot present.
	ListSnapshots() ([]string, error)

	// DeleteSnapshot removes a snapshot directory and its sidecar.
	DeleteSnapshot(hex string) error

	// SnapshotSize returns the recursive byte size of a snapshot.
	SnapshotSize(hex string) (int64, error)

	// CachePath returns the on-disk path of a plugin cache entry.
	CachePath(cacheKey string) string

	// CacheExists reports whether a cache entry is present.
	CacheExists(cacheKey string) (bool, error)

	// PlaceCache atomically moves a staged build directory into the cache
	// under cacheKey, writing the given sidecar alongside it.
	PlaceCache(cacheKey string, stagedDir string, sidecar CacheSidecar) error

	// ListCache returns the cache-key hex of every cache entry present.
	ListCache() ([]string, error)

	// DeleteCache removes a cache entry and its sidecar.
	DeleteCache(cacheKey string) error

	// FS returns the filesystem the store operates on (for callers that
	// need to stage a build directory under Tmp()).
	FS() afero.Fs

	// Tmp returns the store's staging directory.
	Tmp() string
}

// HookBinding is one declarative event binding read from a space's
// hooks/hooks.toml.
type HookBinding struct {
	Event   string
	Matcher string
	Command string
}

// MaterializedSpace is the per-space result of C9 materialization.
type MaterializedSpace struct {
	Key               Key
	PluginPath        string
	LinkedComponents  []string
	PluginName        string
	PluginVersion     string
	HookBindings      []HookBinding
	HookParseFailed   bool
}

// Adapter is the harness capability trait (C12): per-harness
// materialization, target composition and validation, selected by a
// target's `harness` option.
type Adapter interface {
	Metadata() AdapterMetadata

	// MaterializeSpace produces a plugin directory for one space.
	MaterializeSpace(ctx context.Context, input MaterializeInput) (*MaterializedSpace, error)

	// ComposeTarget composes the per-target bundle (MCP + settings) across
	// a target's spaces in load order.
	ComposeTarget(ctx context.Context, inputs []MaterializeInput, outputDir string) (*TargetBundle, error)

	// Validate runs harness-specific structural checks over a composed
	// bundle, returning warnings (never errors: lint findings never abort
	// a build).
	Validate(bundle *TargetBundle) []Warning
}

// AdapterMetadata describes a harness adapter's identity.
type AdapterMetadata struct {
	Id               string
	Version          string
	DefaultModels    []string
	CacheKeyVersion  string
}

// MaterializeInput is everything MaterializeSpace needs for one space.
type MaterializeInput struct {
	Key           Key
	SnapshotPath  string
	Integrity     Integrity
	Manifest      *Manifest
	IsDev         bool
	PluginCacheFn func(cacheKey string) (hit bool, path string)
}

// TargetBundle is the result of composing a target's spaces.
type TargetBundle struct {
	PluginDirs    []MaterializedSpace
	MCPConfigPath string
	SettingsPath  string
	Warnings      []Warning
}

// Package space defines the core data model for Agent Spaces: space
// references, manifests, resolved closures, and the lock-file shape that
// the resolver, integrity engine, store and materializer operate over.
package space

import (
	"fmt"
	"time"
)

// Id is a kebab-case space identifier, e.g. "frontend" or "shared-hooks".
type Id string

// CommitSha is a 40-hex-character lowercase commit hash, or one of the two
// reserved sentinels below.
type CommitSha string

const (
	// DevCommit marks a space resolved against a mutable, filesystem-backed
	// dev reference rather than a registry commit.
	DevCommit CommitSha = "dev"
	// ProjectCommit marks a space whose root is the project directory
	// itself. It shares the dev code path (see DESIGN.md Open Question 2)
	// but is kept as a distinct constant so lock entries and error
	// messages can tell the two apart.
	ProjectCommit CommitSha = "project"
)

// Integrity is a "sha256:<64-hex>" string, or the reserved literal for dev
// sentinels.
type Integrity string

// DevIntegrity is the constant integrity value for dev/project spaces,
// which are never stored as immutable snapshots.
const DevIntegrity Integrity = "sha256:dev"

func (i Integrity) String() string { return string(i) }

// Hex returns the bare hex digest, without the "sha256:" prefix. Used as a
// store directory name.
func (i Integrity) Hex() string {
	const prefix = "sha256:"
	if len(i) > len(prefix) && string(i[:len(prefix)]) == prefix {
		return string(i[len(prefix):])
	}
	return string(i)
}

// SelectorKind discriminates the Selector tagged union.
type SelectorKind int

const (
	SelectorDistTag SelectorKind = iota
	SelectorSemverExact
	SelectorSemverRange
	SelectorGitPin
	SelectorDev
)

// Selector is the right-hand side of a space reference: a dist-tag, an
// exact or ranged semver, a git pin, or "dev".
type Selector struct {
	Kind SelectorKind

	// Tag holds the dist-tag channel name when Kind == SelectorDistTag.
	Tag string

	// Version holds the normalized (no "v" prefix) version string when
	// Kind is SelectorSemverExact or SelectorSemverRange; for a range this
	// is the raw range expression (e.g. "^1.2.0", ">=1.0.0 <2.0.0").
	Version string

	// GitSha holds the (possibly short, >=12 hex) commit hash when
	// Kind == SelectorGitPin.
	GitSha string
}

// Ref is a parsed `space:<id>@<selector>` reference.
type Ref struct {
	SpaceId  Id
	Selector Selector
	// Original is the exact string the reference was parsed from, kept for
	// error messages and lock-file resolvedFrom provenance.
	Original string
}

// Key identifies a resolved space uniquely within a closure or lock file:
// "<id>@<first-12-of-commit>", or "<id>@dev" for dev refs.
type Key string

// NewKey builds a Key from an id and a resolved commit.
func NewKey(id Id, commit CommitSha) Key {
	if commit == DevCommit {
		return Key(fmt.Sprintf("%s@dev", id))
	}
	short := string(commit)
	if len(short) > 12 {
		short = short[:12]
	}
	return Key(fmt.Sprintf("%s@%s", id, short))
}

// VariableSpec describes one templated variable a space's settings or
// manifest extensions may reference.
type VariableSpec struct {
	Type        string      `json:"type" toml:"type"`
	Description string      `json:"description,omitempty" toml:"description,omitempty"`
	Default     interface{} `json:"default,omitempty" toml:"default,omitempty"`
	Required    bool        `json:"required" toml:"required"`
	Secret      bool        `json:"secret,omitempty" toml:"secret,omitempty"`
	Enum        []string    `json:"enum,omitempty" toml:"enum,omitempty"`
	Validation  string      `json:"validation,omitempty" toml:"validation,omitempty"`
}

// PluginMeta is the optional `plugin { name, version }` table of a space
// manifest.
type PluginMeta struct {
	Name    string `json:"name,omitempty" toml:"name,omitempty"`
	Version string `json:"version,omitempty" toml:"version,omitempty"`
}

// Deps is the `[deps] spaces = [...]` table of a space manifest.
type Deps struct {
	Spaces []string `json:"spaces,omitempty" toml:"spaces,omitempty"`
}

// Manifest is a space's "space.toml", schema version 1.
type Manifest struct {
	Schema      int    `json:"schema" toml:"schema"`
	Id          Id     `json:"id" toml:"id"`
	Version     string `json:"version,omitempty" toml:"version,omitempty"`
	Description string `json:"description,omitempty" toml:"description,omitempty"`

	Plugin PluginMeta `json:"plugin,omitempty" toml:"plugin,omitempty"`
	Deps   Deps       `json:"deps,omitempty" toml:"deps,omitempty"`

	Settings    map[string]interface{} `json:"settings,omitempty" toml:"settings,omitempty"`
	Permissions map[string]interface{} `json:"permissions,omitempty" toml:"permissions,omitempty"`

	// Harness carries per-harness extension tables, e.g. [claude], [codex].
	Harness map[string]map[string]interface{} `json:"harness,omitempty" toml:"-"`
}

// ResolverOptions is the `[targets.<name>.resolver]` table of a project
// manifest.
type ResolverOptions struct {
	Locked     bool `json:"locked,omitempty" toml:"locked,omitempty"`
	AllowDirty bool `json:"allow_dirty,omitempty" toml:"allow_dirty,omitempty"`
}

// TargetDef is one named target in a project manifest.
type TargetDef struct {
	Description string           `json:"description,omitempty" toml:"description,omitempty"`
	Compose     []string         `json:"compose" toml:"compose"`
	Harness     string           `json:"harness,omitempty" toml:"harness,omitempty"`
	Resolver    *ResolverOptions `json:"resolver,omitempty" toml:"resolver,omitempty"`
}

// ProjectManifest is "asp-targets.toml", schema version 1.
type ProjectManifest struct {
	Schema      int                  `json:"schema" toml:"schema"`
	Harness     string               `json:"harness,omitempty" toml:"harness,omitempty"`
	Targets     map[string]TargetDef `json:"targets" toml:"targets"`
}

// DistTagsFile is "registry/dist-tags.json": spaceId -> channel -> version.
type DistTagsFile map[Id]map[string]string

// ResolvedSpace is the in-memory result of resolving one space during
// closure computation.
type ResolvedSpace struct {
	Key          Key
	Id           Id
	Commit       CommitSha
	PathInReg    string
	Manifest     *Manifest
	Deps         []Key
	ResolvedFrom ResolvedFrom
}

// ResolvedFrom records how a space's commit was obtained, for lock-file
// provenance.
type ResolvedFrom struct {
	Commit  CommitSha `json:"commit,omitempty"`
	Selector string   `json:"selector"`
	Tag     string    `json:"tag,omitempty"`
	Semver  string    `json:"semver,omitempty"`
}

// ClosureResult is the output of resolving one target's transitive
// dependency closure.
type ClosureResult struct {
	Spaces    map[Key]*ResolvedSpace
	Roots     []Key
	LoadOrder []Key
}

// Warning is a non-fatal finding surfaced by the lock generator or linter.
type Warning struct {
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	Severity string                 `json:"severity"` // "warning" or "info"
	SpaceKey Key                    `json:"spaceKey,omitempty"`
	Path     string                 `json:"path,omitempty"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// LockSpaceEntry is one space's entry in the lock file's `spaces` map.
type LockSpaceEntry struct {
	Id           Id           `json:"id"`
	Commit       CommitSha    `json:"commit"`
	Path         string       `json:"path"`
	Integrity    Integrity    `json:"integrity"`
	Plugin       PluginMeta   `json:"plugin"`
	Deps         LockDeps     `json:"deps"`
	ResolvedFrom ResolvedFrom `json:"resolvedFrom"`
}

// LockDeps mirrors Deps but keyed at lock-time (SpaceKeys, not refs).
type LockDeps struct {
	Spaces []Key `json:"spaces"`
}

// LockTargetEntry is one target's entry in the lock file's `targets` map.
type LockTargetEntry struct {
	Compose   []string  `json:"compose"`
	Roots     []Key     `json:"roots"`
	LoadOrder []Key     `json:"loadOrder"`
	EnvHash   Integrity `json:"envHash"`
	// HarnessId records which adapter produced this target's cache keys, so
	// a later gc can recompute them without re-materializing.
	HarnessId string    `json:"harnessId"`
	Warnings  []Warning `json:"warnings,omitempty"`
}

// RegistryRef describes the registry a lock file was generated against.
type RegistryRef struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// LockFile is "asp-lock.json".
type LockFile struct {
	LockfileVersion int                        `json:"lockfileVersion"`
	ResolverVersion int                        `json:"resolverVersion"`
	GeneratedAt     time.Time                  `json:"generatedAt"`
	Registry        RegistryRef                `json:"registry"`
	Spaces          map[Key]LockSpaceEntry     `json:"spaces"`
	Targets         map[string]LockTargetEntry `json:"targets"`
}

// SnapshotSidecar is ".asp-snapshot.json" written alongside an extracted
// content-addressed snapshot.
type SnapshotSidecar struct {
	SpaceId    Id        `json:"spaceId"`
	Commit     CommitSha `json:"commit"`
	Integrity  Integrity `json:"integrity"`
	CreatedAt  time.Time `json:"createdAt"`
	SourcePath string    `json:"sourcePath"`
}

// CacheSidecar is ".asp-cache.json" written alongside a materialized
// plugin cache entry.
type CacheSidecar struct {
	PluginName    string    `json:"pluginName"`
	PluginVersion string    `json:"pluginVersion,omitempty"`
	Integrity     Integrity `json:"integrity"`
	CacheKey      string    `json:"cacheKey"`
	CreatedAt     time.Time `json:"createdAt"`
	SpaceKey      Key       `json:"spaceKey"`
}

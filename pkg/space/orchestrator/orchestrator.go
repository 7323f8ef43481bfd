// Package orchestrator implements C11: the high-level install/build/
// explain/gc/repoInit/repoPublish flows that drive the rest of pkg/space.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/afero"

	"asp/pkg/space"
	"asp/pkg/space/atomicfs"
	"asp/pkg/space/harness"
	"asp/pkg/space/integrity"
	"asp/pkg/space/lockfile"
	"asp/pkg/space/resolver"
	"asp/pkg/space/schema"
)

// ResolverVersion is embedded in every generated lock file.
const ResolverVersion = 1

// Orchestrator wires the resolver, store, lock generator and harness
// adapters together behind the five top-level flows.
type Orchestrator struct {
	fs      afero.Fs
	git     space.GitExecutor
	store   space.Store
	aspHome string
}

// New constructs an Orchestrator.
func New(fs afero.Fs, git space.GitExecutor, store space.Store, aspHome string) *Orchestrator {
	return &Orchestrator{fs: fs, git: git, store: store, aspHome: aspHome}
}

func (o *Orchestrator) repoDir() string { return filepath.Join(o.aspHome, "repo") }

func (o *Orchestrator) projectLock(projectPath string) *atomicfs.Lock {
	return atomicfs.NewLock(filepath.Join(projectPath, ".asp.lock"))
}

func (o *Orchestrator) storeLock() *atomicfs.Lock {
	return atomicfs.NewLock(filepath.Join(o.aspHome, "store.lock"))
}

// InstallOptions configures install.
type InstallOptions struct {
	ProjectPath     string
	Targets         []string // empty means "all targets in the project manifest"
	Update          bool
	FetchRegistry   bool
	UpgradeSpaceIds []space.Id
	Harness         string

	// BestEffort lets a resolution failure on one target skip that target
	// instead of failing the whole install, §4.11 Failure semantics. The
	// default is all-or-nothing: the first target's resolution error is
	// fatal for the whole call.
	BestEffort bool
}

// InstallResult is install's output.
type InstallResult struct {
	Lock              *space.LockFile
	SnapshotsCreated  int
	ResolvedTargets   []string
	LockPath          string

	// SkippedTargets names targets whose resolution failed and were
	// skipped because BestEffort was set, paired with the resolution error.
	SkippedTargets map[string]error
}

// install(options) — §4.11.
func (o *Orchestrator) Install(ctx context.Context, opts InstallOptions) (*InstallResult, error) {
	lock := o.projectLock(opts.ProjectPath)
	if err := lock.Acquire(ctx, atomicfs.DefaultLockOptions()); err != nil {
		return nil, err
	}
	defer lock.Release()
	return o.install(ctx, opts)
}

// install is Install's body; the caller holds the project lock.
func (o *Orchestrator) install(ctx context.Context, opts InstallOptions) (*InstallResult, error) {
	if err := o.fs.MkdirAll(o.repoDir(), 0o755); err != nil {
		return nil, fmt.Errorf("ensure aspHome directories: %w", err)
	}
	if err := o.fs.MkdirAll(filepath.Join(o.aspHome, "snapshots"), 0o755); err != nil {
		return nil, fmt.Errorf("ensure aspHome directories: %w", err)
	}
	if err := o.fs.MkdirAll(filepath.Join(o.aspHome, "cache"), 0o755); err != nil {
		return nil, fmt.Errorf("ensure aspHome directories: %w", err)
	}

	if opts.FetchRegistry {
		if err := o.git.Fetch(ctx, o.repoDir()); err != nil {
			return nil, err
		}
	}

	projectManifest, err := o.readProjectManifest(opts.ProjectPath)
	if err != nil {
		return nil, err
	}

	distTags, err := o.readDistTags()
	if err != nil {
		return nil, err
	}

	targetNames := opts.Targets
	if len(targetNames) == 0 {
		for name := range projectManifest.Targets {
			targetNames = append(targetNames, name)
		}
	}

	// Spaces keep their previously locked commit unless named in
	// UpgradeSpaceIds with Update set: this is what makes a repeated install
	// with unchanged inputs a no-op (§8 "Idempotence") while still letting
	// selective upgrade (§8 scenario S6) re-resolve just the named spaces.
	existingLockForPins, _ := o.readLockFile(opts.ProjectPath)
	pinned := pinnedFromLock(existingLockForPins, opts)

	closures := make([]lockfile.TargetClosure, 0, len(targetNames))
	resolvedTargets := make([]string, 0, len(targetNames))
	skipped := map[string]error{}
	for _, name := range targetNames {
		target, ok := projectManifest.Targets[name]
		if !ok {
			return nil, fmt.Errorf("unknown target %q", name)
		}

		res := resolver.New(o.git, o.fs, o.repoDir(), distTags, o.fs, opts.ProjectPath)
		closure, err := res.ResolveClosure(ctx, target.Compose, resolver.Options{PinnedSpaces: pinned})
		if err != nil {
			if opts.BestEffort {
				log.Printf("orchestrator: skipping target %q: resolution failed: %v", name, err)
				skipped[name] = err
				continue
			}
			return nil, err
		}

		closures = append(closures, lockfile.TargetClosure{Name: name, Compose: target.Compose, Closure: closure})
		resolvedTargets = append(resolvedTargets, name)
	}

	harnessId := opts.Harness
	if harnessId == "" {
		harnessId = projectManifest.Harness
	}
	if harnessId == "" {
		harnessId = harness.DefaultId
	}

	integrityCache := make(map[space.Key]space.Integrity)
	integrityOf := func(rs *space.ResolvedSpace) (space.Integrity, error) {
		if cached, ok := integrityCache[rs.Key]; ok {
			return cached, nil
		}
		if rs.Commit == space.DevCommit || rs.Commit == space.ProjectCommit {
			integrityCache[rs.Key] = space.DevIntegrity
			return space.DevIntegrity, nil
		}
		entries, err := o.git.ListTree(ctx, o.repoDir(), rs.Commit, rs.PathInReg)
		if err != nil {
			return "", err
		}
		integ := integrity.FromGitTree(entries)
		integrityCache[rs.Key] = integ
		return integ, nil
	}

	registry := space.RegistryRef{Type: "git", URL: o.repoDir()}
	newLock, err := lockfile.Generate(registry, ResolverVersion, closures, integrityOf, harnessId)
	if err != nil {
		return nil, err
	}

	// A space that resolved to its pinned commit keeps the provenance recorded
	// when it was first resolved, so an unchanged install rewrites the same entry.
	if existingLockForPins != nil {
		for key, entry := range newLock.Spaces {
			if prev, ok := existingLockForPins.Spaces[key]; ok && prev.Commit == entry.Commit {
				entry.ResolvedFrom = prev.ResolvedFrom
				newLock.Spaces[key] = entry
			}
		}
	}

	mergedLock := lockfile.Merge(existingLockForPins, newLock, time.Now())

	snapshotsCreated := 0
	for _, entry := range newLock.Spaces {
		if entry.Commit == space.DevCommit || entry.Commit == space.ProjectCommit {
			continue
		}
		_, created, err := o.store.EnsureSnapshot(ctx, entry.Id, o.repoDir(), entry.Commit)
		if err != nil {
			return nil, err
		}
		if created {
			snapshotsCreated++
			log.Printf("orchestrator: created snapshot for %s@%s", entry.Id, entry.Commit)
		}
	}

	lockPath := filepath.Join(opts.ProjectPath, "asp-lock.json")
	if err := o.writeLockFile(lockPath, mergedLock); err != nil {
		return nil, err
	}
	log.Printf("orchestrator: wrote lock file %s (%d target(s), %d space(s))", lockPath, len(mergedLock.Targets), len(mergedLock.Spaces))

	return &InstallResult{
		Lock:             mergedLock,
		SnapshotsCreated: snapshotsCreated,
		ResolvedTargets:  resolvedTargets,
		LockPath:         lockPath,
		SkippedTargets:   skipped,
	}, nil
}

// Upgrade is a thin wrapper over Install with update=true and the given
// spaceIds forwarded as UpgradeSpaceIds (§SPEC_FULL.md "C11 Orchestrator —
// upgrade convenience").
func (o *Orchestrator) Upgrade(ctx context.Context, target string, spaceIds []space.Id, opts InstallOptions) (*InstallResult, error) {
	opts.Targets = []string{target}
	opts.Update = true
	opts.UpgradeSpaceIds = spaceIds
	return o.Install(ctx, opts)
}

// InstallNeeded reports true iff lock is absent, or any target in scope is
// missing or compose-mismatched.
func (o *Orchestrator) InstallNeeded(projectPath string, targetCompose map[string][]string) (bool, error) {
	lock, err := o.readLockFile(projectPath)
	if err != nil {
		return true, nil
	}
	if lock == nil {
		return true, nil
	}
	for name, compose := range targetCompose {
		if !lockfile.UpToDate(lock, name, compose) {
			return true, nil
		}
	}
	return false, nil
}

// BuildOptions configures build.
type BuildOptions struct {
	InstallOptions
	OutputDir   string
	Clean       bool
	AutoInstall bool
	RunLint     bool
}

// BuildResult is build's output.
type BuildResult struct {
	PluginDirs    []space.MaterializedSpace
	MCPConfigPath string
	SettingsPath  string
	Warnings      []space.Warning
	Lock          *space.LockFile
}

// build(target, options) — §4.11.
func (o *Orchestrator) Build(ctx context.Context, target string, opts BuildOptions) (*BuildResult, error) {
	lock := o.projectLock(opts.ProjectPath)
	if err := lock.Acquire(ctx, atomicfs.DefaultLockOptions()); err != nil {
		return nil, err
	}
	defer lock.Release()

	current, _ := o.readLockFile(opts.ProjectPath)
	var warnings []space.Warning

	if current == nil {
		installOpts := opts.InstallOptions
		installOpts.Targets = []string{target}
		result, err := o.install(ctx, installOpts)
		if err != nil {
			return nil, err
		}
		current = result.Lock
		warnings = append(warnings, space.Warning{Code: "W101", Severity: "info", Message: "lock file was autogenerated for this build"})
	}

	targetEntry, ok := current.Targets[target]
	if !ok {
		return nil, fmt.Errorf("target %q is not present in the lock file", target)
	}

	harnessId := opts.Harness
	if harnessId == "" {
		harnessId = targetEntry.HarnessId
	}
	if harnessId == "" {
		harnessId = harness.DefaultId
	}
	adapter, err := harness.Get(harnessId)
	if err != nil {
		return nil, err
	}

	if opts.Clean {
		if err := o.fs.RemoveAll(opts.OutputDir); err != nil {
			return nil, fmt.Errorf("clean output dir: %w", err)
		}
	}
	if err := o.fs.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, err
	}

	var inputs []space.MaterializeInput
	var pluginDirs []space.MaterializedSpace

	for _, key := range targetEntry.LoadOrder {
		se, ok := current.Spaces[key]
		if !ok {
			continue
		}

		var snapshotPath string
		isDev := se.Commit == space.DevCommit || se.Commit == space.ProjectCommit
		if isDev {
			snapshotPath = filepath.Join(opts.ProjectPath, "spaces", string(se.Id))
			if se.Commit == space.ProjectCommit {
				snapshotPath = opts.ProjectPath
			}
		} else {
			snapshotPath = o.store.SnapshotPath(se.Integrity)
		}

		manifest, err := o.readSpaceManifest(ctx, snapshotPath)
		if err != nil {
			return nil, err
		}

		input := space.MaterializeInput{
			Key:          key,
			SnapshotPath: snapshotPath,
			Integrity:    se.Integrity,
			Manifest:     manifest,
			IsDev:        isDev,
			PluginCacheFn: func(cacheKey string) (bool, string) {
				hit, err := o.store.CacheExists(cacheKey)
				if err != nil || !hit {
					return false, ""
				}
				return true, o.store.CachePath(cacheKey)
			},
		}
		inputs = append(inputs, input)

		var cacheHit bool
		var cacheKey string
		if !isDev {
			cacheKey = cacheKeyOf(adapter, input)
			cacheHit, _ = o.store.CacheExists(cacheKey)
		}

		materialized, err := adapter.MaterializeSpace(ctx, input)
		if err != nil {
			return nil, err
		}

		if !isDev && !cacheHit {
			sidecar := space.CacheSidecar{
				PluginName:    materialized.PluginName,
				PluginVersion: materialized.PluginVersion,
				Integrity:     se.Integrity,
				CacheKey:      cacheKey,
				CreatedAt:     time.Now(),
				SpaceKey:      key,
			}
			if err := o.store.PlaceCache(cacheKey, materialized.PluginPath, sidecar); err != nil {
				return nil, err
			}
			materialized.PluginPath = o.store.CachePath(cacheKey)
		}

		pluginDirs = append(pluginDirs, *materialized)
	}

	targetOutput := filepath.Join(opts.OutputDir, target)
	bundle, err := adapter.ComposeTarget(ctx, inputs, targetOutput)
	if err != nil {
		return nil, err
	}
	bundle.PluginDirs = pluginDirs
	warnings = append(warnings, bundle.Warnings...)

	if opts.RunLint {
		warnings = append(warnings, adapter.Validate(bundle)...)
	}

	return &BuildResult{
		PluginDirs:    pluginDirs,
		MCPConfigPath: bundle.MCPConfigPath,
		SettingsPath:  bundle.SettingsPath,
		Warnings:      warnings,
		Lock:          current,
	}, nil
}

// pinnedFromLock builds the resolver's selective-upgrade pin map: every
// space present in the existing lock keeps its commit, except those named
// in opts.UpgradeSpaceIds when opts.Update is set, which are left
// unpinned so the resolver re-resolves their selector against current
// registry state.
func pinnedFromLock(existing *space.LockFile, opts InstallOptions) map[space.Id]space.CommitSha {
	if existing == nil {
		return nil
	}

	upgrading := make(map[space.Id]bool, len(opts.UpgradeSpaceIds))
	if opts.Update {
		for _, id := range opts.UpgradeSpaceIds {
			upgrading[id] = true
		}
	}

	pinned := make(map[space.Id]space.CommitSha)
	for _, se := range existing.Spaces {
		if upgrading[se.Id] {
			continue
		}
		pinned[se.Id] = se.Commit
	}
	return pinned
}

func cacheKeyOf(adapter space.Adapter, input space.MaterializeInput) string {
	meta := adapter.Metadata()
	pluginName := string(input.Key)
	var pluginVersion string
	if input.Manifest != nil {
		if input.Manifest.Plugin.Name != "" {
			pluginName = input.Manifest.Plugin.Name
		} else {
			pluginName = strings.SplitN(string(input.Key), "@", 2)[0]
		}
		pluginVersion = input.Manifest.Plugin.Version
	}
	return integrity.CacheKey(meta.Id, meta.Version, input.Integrity, pluginName, pluginVersion)
}

// ExplainOptions configures explain.
type ExplainOptions struct {
	ProjectPath string
	Targets     []string
	CheckStore  bool
}

// ExplainSpaceEntry is one space's row in an explain report.
type ExplainSpaceEntry struct {
	Key          space.Key
	Id           space.Id
	Commit       space.CommitSha
	PluginName   string
	Version      string
	Integrity    space.Integrity
	Path         string
	Deps         []space.Key
	ResolvedFrom space.ResolvedFrom
	InStore      bool
}

// ExplainTargetReport is one target's explain report.
type ExplainTargetReport struct {
	Compose   []string
	Roots     []space.Key
	LoadOrder []space.Key
	EnvHash   space.Integrity
	Spaces    []ExplainSpaceEntry
	Warnings  []space.Warning
}

// ExplainResult is explain's output: a pure read path that never mutates
// state.
type ExplainResult struct {
	Targets map[string]ExplainTargetReport
}

// explain(options) — §4.11.
func (o *Orchestrator) Explain(ctx context.Context, opts ExplainOptions) (*ExplainResult, error) {
	lock, err := o.readLockFile(opts.ProjectPath)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return nil, fmt.Errorf("no lock file present at %s", opts.ProjectPath)
	}

	targetNames := opts.Targets
	if len(targetNames) == 0 {
		for name := range lock.Targets {
			targetNames = append(targetNames, name)
		}
	}

	result := &ExplainResult{Targets: make(map[string]ExplainTargetReport, len(targetNames))}

	for _, name := range targetNames {
		te, ok := lock.Targets[name]
		if !ok {
			continue
		}

		report := ExplainTargetReport{
			Compose:   te.Compose,
			Roots:     te.Roots,
			LoadOrder: te.LoadOrder,
			EnvHash:   te.EnvHash,
			Warnings:  te.Warnings,
		}

		for _, key := range te.LoadOrder {
			se, ok := lock.Spaces[key]
			if !ok {
				continue
			}
			inStore := true
			if opts.CheckStore && se.Commit != space.DevCommit && se.Commit != space.ProjectCommit {
				inStore, _ = o.store.Exists(se.Integrity)
			}
			report.Spaces = append(report.Spaces, ExplainSpaceEntry{
				Key:          key,
				Id:           se.Id,
				Commit:       se.Commit,
				PluginName:   se.Plugin.Name,
				Version:      se.Plugin.Version,
				Integrity:    se.Integrity,
				Path:         se.Path,
				Deps:         se.Deps.Spaces,
				ResolvedFrom: se.ResolvedFrom,
				InStore:      inStore,
			})
		}

		result.Targets[name] = report
	}

	return result, nil
}

// GCOptions configures gc.
type GCOptions struct {
	DryRun bool
}

// GCResult is gc's output.
type GCResult struct {
	SnapshotsDeleted int
	CacheEntriesDeleted int
	BytesFreed       int64
}

// gc(lockFiles, options) — §4.11.
func (o *Orchestrator) GC(lockFiles []*space.LockFile, opts GCOptions) (*GCResult, error) {
	lock := o.storeLock()
	if err := lock.Acquire(context.Background(), atomicfs.DefaultLockOptions()); err != nil {
		return nil, err
	}
	defer lock.Release()

	reachableIntegrity := make(map[string]bool)
	reachableCacheKeys := make(map[string]bool)
	for _, lf := range lockFiles {
		for _, se := range lf.Spaces {
			if se.Integrity != "" && se.Integrity != space.DevIntegrity {
				reachableIntegrity[se.Integrity.Hex()] = true
			}
		}
		for _, te := range lf.Targets {
			adapter, err := harness.Get(te.HarnessId)
			if err != nil {
				continue
			}
			meta := adapter.Metadata()
			for _, key := range te.LoadOrder {
				se, ok := lf.Spaces[key]
				if !ok || se.Integrity == space.DevIntegrity {
					continue
				}
				cacheKey := integrity.CacheKey(meta.Id, meta.Version, se.Integrity, se.Plugin.Name, se.Plugin.Version)
				reachableCacheKeys[cacheKey] = true
			}
		}
	}

	result := &GCResult{}

	snapshots, err := o.store.ListSnapshots()
	if err != nil {
		return nil, err
	}
	for _, hex := range snapshots {
		if reachableIntegrity[hex] {
			continue
		}
		size, _ := o.store.SnapshotSize(hex)
		if !opts.DryRun {
			if err := o.store.DeleteSnapshot(hex); err != nil {
				return nil, err
			}
			log.Printf("orchestrator: gc deleted unreachable snapshot %s (%d bytes)", hex, size)
		}
		result.SnapshotsDeleted++
		result.BytesFreed += size
	}

	caches, err := o.store.ListCache()
	if err != nil {
		return nil, err
	}
	for _, key := range caches {
		if reachableCacheKeys[key] {
			continue
		}
		if !opts.DryRun {
			if err := o.store.DeleteCache(key); err != nil {
				return nil, err
			}
			log.Printf("orchestrator: gc deleted unreachable cache entry %s", key)
		}
		result.CacheEntriesDeleted++
	}

	return result, nil
}

// RepoInitOptions configures repoInit.
type RepoInitOptions struct {
	Clone string // if non-empty, clone from this URL instead of `git init`
}

// RepoInit ensures a registry repo exists at <aspHome>/repo, §4.11/§6.
func (o *Orchestrator) RepoInit(ctx context.Context, opts RepoInitOptions) error {
	exists, err := afero.DirExists(o.fs, filepath.Join(o.repoDir(), ".git"))
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if err := o.fs.MkdirAll(filepath.Dir(o.repoDir()), 0o755); err != nil {
		return err
	}

	if opts.Clone != "" {
		if err := o.git.Clone(ctx, opts.Clone, o.repoDir()); err != nil {
			return err
		}
		return o.seedDistTagsFromRemote(ctx, opts.Clone)
	}

	if err := o.fs.MkdirAll(o.repoDir(), 0o755); err != nil {
		return err
	}
	return o.git.Init(ctx, o.repoDir())
}

// seedDistTagsFromRemote populates registry/dist-tags.json from tags
// already present on the cloned remote, when the clone didn't already
// carry one. Each space/<id>/v<semver> tag's highest version is recorded
// as that space's "stable" dist-tag, §4.11/§6.
func (o *Orchestrator) seedDistTagsFromRemote(ctx context.Context, url string) error {
	path := filepath.Join(o.repoDir(), "registry", "dist-tags.json")
	exists, err := afero.Exists(o.fs, path)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	tags, err := o.git.ListRemoteTags(ctx, url)
	if err != nil {
		return err
	}

	distTags := space.DistTagsFile{}
	for _, t := range tags {
		if !strings.HasPrefix(t.Name, "space/") {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(t.Name, "space/"), "/v", 2)
		if len(parts) != 2 {
			continue
		}
		id, vstr := space.Id(parts[0]), parts[1]
		v, err := semver.NewVersion(vstr)
		if err != nil {
			continue
		}
		if existing, ok := distTags[id]["stable"]; ok {
			if ev, everr := semver.NewVersion(existing); everr == nil && !v.GreaterThan(ev) {
				continue
			}
		}
		if distTags[id] == nil {
			distTags[id] = map[string]string{}
		}
		distTags[id]["stable"] = v.String()
	}
	if len(distTags) == 0 {
		return nil
	}

	data, err := json.MarshalIndent(distTags, "", "  ")
	if err != nil {
		return err
	}
	if err := o.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := atomicfs.WriteFile(o.fs, path, append(data, '\n'), 0o644); err != nil {
		return err
	}

	if err := o.git.Add(ctx, o.repoDir(), "registry/dist-tags.json"); err != nil {
		return err
	}
	if _, err := o.git.Commit(ctx, o.repoDir(), "seed dist-tags from remote tags"); err != nil {
		return err
	}
	log.Printf("orchestrator: seeded dist-tags.json from %d remote tags", len(tags))
	return nil
}

// RepoPublishOptions configures repoPublish.
type RepoPublishOptions struct {
	Tag      string
	DistTag  string
}

// RepoPublish creates a git tag matching the space/<id>/v<semver>
// convention and updates dist-tags.json, §4.11/§6.
func (o *Orchestrator) RepoPublish(ctx context.Context, id space.Id, opts RepoPublishOptions) error {
	lock := o.storeLock()
	if err := lock.Acquire(ctx, atomicfs.DefaultLockOptions()); err != nil {
		return err
	}
	defer lock.Release()

	tagName := fmt.Sprintf("space/%s/v%s", id, opts.Tag)
	if err := o.git.Tag(ctx, o.repoDir(), tagName, ""); err != nil {
		return err
	}
	log.Printf("orchestrator: published %s as tag %s", id, tagName)

	if opts.DistTag != "" {
		distTags, err := o.readDistTags()
		if err != nil {
			return err
		}
		if distTags == nil {
			distTags = space.DistTagsFile{}
		}
		if distTags[id] == nil {
			distTags[id] = map[string]string{}
		}
		distTags[id][opts.DistTag] = opts.Tag

		data, err := json.MarshalIndent(distTags, "", "  ")
		if err != nil {
			return err
		}
		path := filepath.Join(o.repoDir(), "registry", "dist-tags.json")
		if err := atomicfs.WriteFile(o.fs, path, append(data, '\n'), 0o644); err != nil {
			return err
		}
		if err := o.git.Add(ctx, o.repoDir(), "registry/dist-tags.json"); err != nil {
			return err
		}
		if _, err := o.git.Commit(ctx, o.repoDir(), fmt.Sprintf("publish %s@%s", id, opts.Tag)); err != nil {
			return err
		}
	}

	return nil
}

func (o *Orchestrator) readProjectManifest(projectPath string) (*space.ProjectManifest, error) {
	path := filepath.Join(projectPath, "asp-targets.toml")
	data, err := afero.ReadFile(o.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read project manifest: %w", err)
	}
	return schema.ParseProjectManifest(path, data)
}

func (o *Orchestrator) readDistTags() (space.DistTagsFile, error) {
	path := filepath.Join(o.repoDir(), "registry", "dist-tags.json")
	exists, err := afero.Exists(o.fs, path)
	if err != nil || !exists {
		return space.DistTagsFile{}, nil
	}
	data, err := afero.ReadFile(o.fs, path)
	if err != nil {
		return nil, err
	}
	return schema.ParseDistTags(path, data)
}

func (o *Orchestrator) readLockFile(projectPath string) (*space.LockFile, error) {
	path := filepath.Join(projectPath, "asp-lock.json")
	exists, err := afero.Exists(o.fs, path)
	if err != nil || !exists {
		return nil, nil
	}
	data, err := afero.ReadFile(o.fs, path)
	if err != nil {
		return nil, err
	}
	return schema.ParseLockFile(path, data)
}

func (o *Orchestrator) writeLockFile(path string, lf *space.LockFile) error {
	data, err := schema.MarshalJSONStable(lf)
	if err != nil {
		return &space.LockError{Path: path, Cause: err}
	}
	if err := atomicfs.WriteFile(o.fs, path, data, 0o644); err != nil {
		return &space.LockError{Path: path, Cause: err}
	}
	return nil
}

func (o *Orchestrator) readSpaceManifest(ctx context.Context, snapshotPath string) (*space.Manifest, error) {
	path := filepath.Join(snapshotPath, "space.toml")
	data, err := afero.ReadFile(o.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read space manifest at %s: %w", path, err)
	}
	return schema.ParseSpaceManifest(path, data)
}

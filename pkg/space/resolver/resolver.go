// Package resolver implements C5: selector resolution against the
// registry, transitive dependency closure computation, cycle detection and
// DFS post-order load-order construction.
package resolver

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/afero"

	"asp/pkg/space"
	"asp/pkg/space/ref"
	"asp/pkg/space/schema"
)

// Resolver resolves space references against a git-backed registry.
type Resolver struct {
	git      space.GitExecutor
	fs       afero.Fs
	repoDir  string
	distTags space.DistTagsFile

	// devFS/devRoot let "dev" and project-commit refs read manifests from a
	// project-local filesystem path instead of the registry repo.
	devFS   afero.Fs
	devRoot string

	// manifestCache memoizes per-call manifest reads (§SPEC_FULL.md "C5
	// Resolver — registry caching"): discarded after ResolveClosure returns.
	manifestCache map[string]*space.Manifest
}

// New constructs a Resolver. devFS/devRoot may be nil/"" if the caller never
// resolves dev refs.
func New(git space.GitExecutor, fs afero.Fs, repoDir string, distTags space.DistTagsFile, devFS afero.Fs, devRoot string) *Resolver {
	return &Resolver{
		git:      git,
		fs:       fs,
		repoDir:  repoDir,
		distTags: distTags,
		devFS:    devFS,
		devRoot:  devRoot,
	}
}

// Options configures one ResolveClosure call.
type Options struct {
	// PinnedSpaces bypasses each named space's selector, using the given
	// commit directly (selective upgrade / downgrade, §4.5).
	PinnedSpaces map[space.Id]space.CommitSha
}

// ResolveClosure resolves a target's compose list (in declaration order)
// into a full transitive closure with a DFS post-order load order.
func (r *Resolver) ResolveClosure(ctx context.Context, compose []string, opts Options) (*space.ClosureResult, error) {
	r.manifestCache = make(map[string]*space.Manifest)
	defer func() {
		r.manifestCache = nil
	}()

	result := &space.ClosureResult{Spaces: make(map[space.Key]*space.ResolvedSpace)}

	var roots []space.Key
	for _, composeRef := range compose {
		parsed, err := ref.Parse(composeRef)
		if err != nil {
			return nil, err
		}
		key, err := r.expand(ctx, parsed, opts, result, nil)
		if err != nil {
			return nil, err
		}
		roots = append(roots, key)
	}

	result.Roots = dedupeKeys(roots)

	var order []space.Key
	visited := make(map[space.Key]bool)
	for _, rootKey := range result.Roots {
		r.postOrder(rootKey, result.Spaces, visited, &order)
	}
	result.LoadOrder = order

	return result, nil
}

// expand resolves one ref to a ResolvedSpace, recursing into its
// dependencies, and returns its SpaceKey. stack tracks in-progress keys for
// cycle detection.
func (r *Resolver) expand(ctx context.Context, parsed space.Ref, opts Options, result *space.ClosureResult, stack []space.Key) (space.Key, error) {
	commit, resolvedFrom, err := r.resolveSelector(ctx, parsed, opts)
	if err != nil {
		return "", err
	}

	key := space.NewKey(parsed.SpaceId, commit)

	for _, onStack := range stack {
		if onStack == key {
			return "", &space.CyclicDependencyError{Cycle: append(append([]space.Key{}, stack...), key)}
		}
	}

	if _, already := result.Spaces[key]; already {
		return key, nil
	}

	manifest, err := r.readManifest(ctx, parsed.SpaceId, commit)
	if err != nil {
		return "", err
	}

	resolved := &space.ResolvedSpace{
		Key:          key,
		Id:           parsed.SpaceId,
		Commit:       commit,
		PathInReg:    filepath.Join("spaces", string(parsed.SpaceId)),
		Manifest:     manifest,
		ResolvedFrom: resolvedFrom,
	}
	// Insert before recursing so that a re-entrant reference to this key
	// (diamond dependency) short-circuits above instead of re-expanding.
	result.Spaces[key] = resolved

	nextStack := append(append([]space.Key{}, stack...), key)

	for _, depStr := range manifest.Deps.Spaces {
		depRef, err := ref.Parse(depStr)
		if err != nil {
			return "", &space.MissingDependencyError{Of: key, Ref: depStr}
		}
		depKey, err := r.expand(ctx, depRef, opts, result, nextStack)
		if err != nil {
			return "", err
		}
		resolved.Deps = append(resolved.Deps, depKey)
	}

	return key, nil
}

func (r *Resolver) resolveSelector(ctx context.Context, parsed space.Ref, opts Options) (space.CommitSha, space.ResolvedFrom, error) {
	if pinned, ok := opts.PinnedSpaces[parsed.SpaceId]; ok {
		return pinned, space.ResolvedFrom{Commit: pinned, Selector: ref.FormatSelector(parsed.Selector)}, nil
	}

	switch parsed.Selector.Kind {
	case space.SelectorDev:
		return space.DevCommit, space.ResolvedFrom{Selector: "dev"}, nil

	case space.SelectorGitPin:
		sha := parsed.Selector.GitSha
		if len(sha) < 12 {
			return "", space.ResolvedFrom{}, &space.SelectorResolutionError{
				SpaceId: parsed.SpaceId, Selector: ref.FormatSelector(parsed.Selector),
				Message: "git pin must be at least 12 hex characters",
			}
		}
		full, err := r.git.RevParse(ctx, r.repoDir, sha)
		if err != nil {
			return "", space.ResolvedFrom{}, &space.SelectorResolutionError{
				SpaceId: parsed.SpaceId, Selector: ref.FormatSelector(parsed.Selector),
				Message: fmt.Sprintf("unresolvable or ambiguous git pin: %v", err),
			}
		}
		return full, space.ResolvedFrom{Commit: full, Selector: ref.FormatSelector(parsed.Selector)}, nil

	case space.SelectorDistTag:
		versions, ok := r.distTags[parsed.SpaceId]
		if !ok {
			return "", space.ResolvedFrom{}, &space.SelectorResolutionError{
				SpaceId: parsed.SpaceId, Selector: parsed.Selector.Tag,
				Message: "space has no dist-tags entry",
			}
		}
		version, ok := versions[parsed.Selector.Tag]
		if !ok {
			return "", space.ResolvedFrom{}, &space.SelectorResolutionError{
				SpaceId: parsed.SpaceId, Selector: parsed.Selector.Tag,
				Message: fmt.Sprintf("no dist-tag %q", parsed.Selector.Tag),
			}
		}
		commit, err := r.resolveVersionTag(ctx, parsed.SpaceId, version)
		if err != nil {
			return "", space.ResolvedFrom{}, err
		}
		return commit, space.ResolvedFrom{Commit: commit, Selector: parsed.Selector.Tag, Tag: parsed.Selector.Tag, Semver: version}, nil

	case space.SelectorSemverExact:
		commit, err := r.resolveVersionTag(ctx, parsed.SpaceId, parsed.Selector.Version)
		if err != nil {
			return "", space.ResolvedFrom{}, err
		}
		return commit, space.ResolvedFrom{Commit: commit, Selector: parsed.Selector.Version, Semver: parsed.Selector.Version}, nil

	case space.SelectorSemverRange:
		commit, matched, err := r.resolveRange(ctx, parsed.SpaceId, parsed.Selector.Version)
		if err != nil {
			return "", space.ResolvedFrom{}, err
		}
		return commit, space.ResolvedFrom{Commit: commit, Selector: parsed.Selector.Version, Semver: matched}, nil

	default:
		return "", space.ResolvedFrom{}, &space.SelectorResolutionError{SpaceId: parsed.SpaceId, Message: "unknown selector kind"}
	}
}

func (r *Resolver) resolveVersionTag(ctx context.Context, id space.Id, version string) (space.CommitSha, error) {
	tag := fmt.Sprintf("space/%s/v%s", id, version)
	commit, err := r.git.ResolveTag(ctx, r.repoDir, tag)
	if err != nil {
		return "", &space.SelectorResolutionError{SpaceId: id, Selector: version, Message: fmt.Sprintf("tag %q not found", tag)}
	}
	return commit, nil
}

func (r *Resolver) resolveRange(ctx context.Context, id space.Id, rangeExpr string) (space.CommitSha, string, error) {
	constraint, err := semver.NewConstraint(rangeExpr)
	if err != nil {
		return "", "", &space.SelectorResolutionError{SpaceId: id, Selector: rangeExpr, Message: fmt.Sprintf("invalid range: %v", err)}
	}

	glob := fmt.Sprintf("space/%s/v*", id)
	tags, err := r.git.ListTags(ctx, r.repoDir, glob)
	if err != nil {
		return "", "", err
	}

	prefix := fmt.Sprintf("space/%s/v", id)
	var best *semver.Version
	var bestTag space.TagRef
	for _, t := range tags {
		vstr := t.Name[len(prefix):]
		if len(t.Name) <= len(prefix) {
			continue
		}
		v, err := semver.NewVersion(vstr)
		if err != nil {
			continue
		}
		if !constraint.Check(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestTag = t
		}
	}

	if best == nil {
		return "", "", &space.SelectorResolutionError{SpaceId: id, Selector: rangeExpr, Message: "no tag satisfies range"}
	}
	return bestTag.Commit, best.String(), nil
}

func (r *Resolver) readManifest(ctx context.Context, id space.Id, commit space.CommitSha) (*space.Manifest, error) {
	cacheKey := fmt.Sprintf("%s@%s", id, commit)
	if m, ok := r.manifestCache[cacheKey]; ok {
		return m, nil
	}

	var data []byte
	var err error
	source := fmt.Sprintf("spaces/%s/space.toml", id)

	if commit == space.DevCommit || commit == space.ProjectCommit {
		if r.devFS == nil {
			return nil, fmt.Errorf("resolver has no dev filesystem configured for %s", id)
		}
		path := filepath.Join(r.devRoot, "spaces", string(id), "space.toml")
		if commit == space.ProjectCommit {
			path = filepath.Join(r.devRoot, "space.toml")
		}
		data, err = afero.ReadFile(r.devFS, path)
	} else {
		data, err = r.git.ReadBlob(ctx, r.repoDir, commit, source)
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest for %s@%s: %w", id, commit, err)
	}

	m, err := schema.ParseSpaceManifest(source, data)
	if err != nil {
		return nil, err
	}

	r.manifestCache[cacheKey] = m
	return m, nil
}

// postOrder walks the dependency DAG rooted at key, appending keys to
// *order in DFS post-order (dependencies strictly before dependents),
// visiting each key's children in declaration order.
func (r *Resolver) postOrder(key space.Key, spaces map[space.Key]*space.ResolvedSpace, visited map[space.Key]bool, order *[]space.Key) {
	if visited[key] {
		return
	}
	visited[key] = true

	node, ok := spaces[key]
	if !ok {
		return
	}
	for _, dep := range node.Deps {
		r.postOrder(dep, spaces, visited, order)
	}
	*order = append(*order, key)
}

func dedupeKeys(keys []space.Key) []space.Key {
	seen := make(map[space.Key]bool)
	var out []space.Key
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// Package lockfile implements C7: building the lock file from resolved
// closures, merging with an existing lock, and computing plugin-name
// collision warnings.
package lockfile

import (
	"time"

	"asp/pkg/space"
	"asp/pkg/space/integrity"
)

// TargetClosure bundles one target's compose list with its resolved
// closure, the input to Generate.
type TargetClosure struct {
	Name    string
	Compose []string
	Closure *space.ClosureResult
}

// Generate builds a complete LockFile from a set of resolved target
// closures (§4.7). integrityOf supplies a (possibly cached) integrity for a
// resolved space; callers normally back it with the integrity engine plus a
// per-run memoization layer so a space shared across targets is hashed
// once.
func Generate(registry space.RegistryRef, resolverVersion int, closures []TargetClosure, integrityOf func(*space.ResolvedSpace) (space.Integrity, error), harnessId string) (*space.LockFile, error) {
	lf := &space.LockFile{
		LockfileVersion: 1,
		ResolverVersion: resolverVersion,
		Registry:        registry,
		Spaces:          make(map[space.Key]space.LockSpaceEntry),
		Targets:         make(map[string]space.LockTargetEntry),
	}

	for _, tc := range closures {
		for key, resolved := range tc.Closure.Spaces {
			if _, already := lf.Spaces[key]; already {
				continue
			}
			integ, err := integrityOf(resolved)
			if err != nil {
				return nil, err
			}
			lf.Spaces[key] = buildSpaceEntry(resolved, integ)
		}

		entries := make([]integrity.EnvHashEntry, 0, len(tc.Closure.LoadOrder))
		for _, key := range tc.Closure.LoadOrder {
			se := lf.Spaces[key]
			entries = append(entries, integrity.EnvHashEntry{
				SpaceKey:   key,
				Integrity:  se.Integrity,
				PluginName: se.Plugin.Name,
			})
		}

		target := space.LockTargetEntry{
			Compose:   tc.Compose,
			Roots:     tc.Closure.Roots,
			LoadOrder: tc.Closure.LoadOrder,
			EnvHash:   integrity.EnvHash(entries, harnessId),
			HarnessId: harnessId,
		}
		target.Warnings = append(target.Warnings, pluginNameCollisions(tc.Name, tc.Closure.LoadOrder, lf.Spaces)...)
		lf.Targets[tc.Name] = target
	}

	return lf, nil
}

func buildSpaceEntry(resolved *space.ResolvedSpace, integ space.Integrity) space.LockSpaceEntry {
	pluginName := string(resolved.Id)
	var pluginVersion string
	if resolved.Manifest != nil {
		if resolved.Manifest.Plugin.Name != "" {
			pluginName = resolved.Manifest.Plugin.Name
		}
		pluginVersion = resolved.Manifest.Plugin.Version
	}

	return space.LockSpaceEntry{
		Id:        resolved.Id,
		Commit:    resolved.Commit,
		Path:      resolved.PathInReg,
		Integrity: integ,
		Plugin:    space.PluginMeta{Name: pluginName, Version: pluginVersion},
		Deps:      space.LockDeps{Spaces: resolved.Deps},
		ResolvedFrom: resolved.ResolvedFrom,
	}
}

// pluginNameCollisions computes W205: any group of size >1 in the target's
// load order sharing a derived plugin name yields one warning.
func pluginNameCollisions(targetName string, loadOrder []space.Key, spaces map[space.Key]space.LockSpaceEntry) []space.Warning {
	byName := make(map[string][]space.Key)
	for _, key := range loadOrder {
		entry, ok := spaces[key]
		if !ok {
			continue
		}
		byName[entry.Plugin.Name] = append(byName[entry.Plugin.Name], key)
	}

	var warnings []space.Warning
	for name, keys := range byName {
		if len(keys) <= 1 {
			continue
		}
		warnings = append(warnings, space.Warning{
			Code:     "W205",
			Severity: "warning",
			Message:  collisionMessage(targetName, name, keys),
			Details:  map[string]interface{}{"spaces": keys, "pluginName": name},
		})
	}
	return warnings
}

func collisionMessage(targetName, pluginName string, keys []space.Key) string {
	msg := "target " + targetName + ": plugin name " + quote(pluginName) + " is shared by "
	for i, k := range keys {
		if i > 0 {
			msg += ", "
		}
		msg += string(k)
	}
	return msg
}

func quote(s string) string { return `"` + s + `"` }

// Merge implements mergeLockFiles(existing, updates): shallow-merges both
// spaces and targets maps, updates winning on key collision, and refreshes
// generatedAt.
func Merge(existing *space.LockFile, updates *space.LockFile, now time.Time) *space.LockFile {
	if existing == nil {
		merged := *updates
		merged.GeneratedAt = now
		return &merged
	}

	merged := &space.LockFile{
		LockfileVersion: updates.LockfileVersion,
		ResolverVersion: updates.ResolverVersion,
		GeneratedAt:     now,
		Registry:        updates.Registry,
		Spaces:          make(map[space.Key]space.LockSpaceEntry, len(existing.Spaces)+len(updates.Spaces)),
		Targets:         make(map[string]space.LockTargetEntry, len(existing.Targets)+len(updates.Targets)),
	}
	for k, v := range existing.Spaces {
		merged.Spaces[k] = v
	}
	for k, v := range updates.Spaces {
		merged.Spaces[k] = v
	}
	for k, v := range existing.Targets {
		merged.Targets[k] = v
	}
	for k, v := range updates.Targets {
		merged.Targets[k] = v
	}
	return merged
}

// UpToDate implements up-to-date(target, compose): true iff the lock's
// existing compose list for target deep-equals compose, order-sensitive.
func UpToDate(lf *space.LockFile, targetName string, compose []string) bool {
	existing, ok := lf.Targets[targetName]
	if !ok {
		return false
	}
	if len(existing.Compose) != len(compose) {
		return false
	}
	for i := range compose {
		if existing.Compose[i] != compose[i] {
			return false
		}
	}
	return true
}

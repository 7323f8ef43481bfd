// Package linter implements C10: structural lint rules run over a
// materialized target, producing non-fatal warnings. The linter never
// fails a build.
package linter

import (
	"sort"
	"strings"

	"asp/pkg/space"
	"asp/pkg/space/materializer"
)

// SpaceLintInput is one space's materialized state, as the adapter's
// Validate pass sees it.
type SpaceLintInput struct {
	Key             space.Key
	PluginName      string
	CommandNames    []string
	AgentCommandNames []string
	HookBindings    []space.HookBinding
	HookParseFailed bool
	DescriptorDir   string
	ComponentDirs   []string
}

// Lint runs all W2xx rules over a target's materialized spaces.
func Lint(spaces []SpaceLintInput) []space.Warning {
	var warnings []space.Warning
	warnings = append(warnings, commandCollisions(spaces)...)
	warnings = append(warnings, agentNamespaceIssues(spaces)...)
	warnings = append(warnings, hookPathIssues(spaces)...)
	warnings = append(warnings, invalidHooksConfig(spaces)...)
	warnings = append(warnings, pluginNameCollisions(spaces)...)
	warnings = append(warnings, invalidPluginStructure(spaces)...)
	return warnings
}

// commandCollisions implements W201: multiple spaces contributing commands
// with the same invocation name.
func commandCollisions(spaces []SpaceLintInput) []space.Warning {
	byName := make(map[string][]space.Key)
	for _, s := range spaces {
		for _, name := range s.CommandNames {
			byName[name] = append(byName[name], s.Key)
		}
	}

	var names []string
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	var warnings []space.Warning
	for _, name := range names {
		keys := byName[name]
		if len(keys) <= 1 {
			continue
		}
		warnings = append(warnings, space.Warning{
			Code:     "W201",
			Severity: "warning",
			Message:  "command \"" + name + "\" is contributed by multiple spaces: " + joinKeys(keys),
			Details:  map[string]interface{}{"command": name, "spaces": keys},
		})
	}
	return warnings
}

// agentNamespaceIssues implements W202: an agent-contributed command file
// not namespaced under its owning space, which risks colliding with
// another space's commands of the same base name once composed.
func agentNamespaceIssues(spaces []SpaceLintInput) []space.Warning {
	var warnings []space.Warning
	for _, s := range spaces {
		for _, name := range s.AgentCommandNames {
			if strings.Contains(name, "/") || strings.Contains(name, ":") {
				continue
			}
			warnings = append(warnings, space.Warning{
				Code:     "W202",
				Severity: "info",
				Message:  "agent command \"" + name + "\" is not namespaced under its space",
				SpaceKey: s.Key,
				Path:     name,
			})
		}
	}
	return warnings
}

// hookPathIssues implements W203: a hook command missing the plugin-root
// placeholder, or a hook script path containing "..".
func hookPathIssues(spaces []SpaceLintInput) []space.Warning {
	var warnings []space.Warning
	for _, s := range spaces {
		for _, b := range s.HookBindings {
			if materializer.HookCommandMissingPlaceholder(b.Command) {
				warnings = append(warnings, space.Warning{
					Code:     "W203",
					Severity: "warning",
					Message:  "hook command does not reference " + materializer.PluginRootPlaceholder,
					SpaceKey: s.Key,
					Path:     b.Command,
				})
			}
			if strings.Contains(b.Command, "..") {
				warnings = append(warnings, space.Warning{
					Code:     "W203",
					Severity: "warning",
					Message:  "hook command path traverses out of the plugin directory",
					SpaceKey: s.Key,
					Path:     b.Command,
				})
			}
		}
	}
	return warnings
}

// invalidHooksConfig implements W204: hooks/hooks.toml or hooks/hooks.json
// could not be parsed or had an unexpected shape.
func invalidHooksConfig(spaces []SpaceLintInput) []space.Warning {
	var warnings []space.Warning
	for _, s := range spaces {
		if s.HookParseFailed {
			warnings = append(warnings, space.Warning{
				Code:     "W204",
				Severity: "warning",
				Message:  "hooks configuration could not be parsed",
				SpaceKey: s.Key,
			})
		}
	}
	return warnings
}

// pluginNameCollisions implements W205 from the linter's vantage point
// (C7's lock generator computes the same warning independently; a build
// that bypasses lock regeneration still gets it here).
func pluginNameCollisions(spaces []SpaceLintInput) []space.Warning {
	byName := make(map[string][]space.Key)
	for _, s := range spaces {
		byName[s.PluginName] = append(byName[s.PluginName], s.Key)
	}

	var names []string
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	var warnings []space.Warning
	for _, name := range names {
		keys := byName[name]
		if len(keys) <= 1 {
			continue
		}
		warnings = append(warnings, space.Warning{
			Code:     "W205",
			Severity: "warning",
			Message:  "plugin name \"" + name + "\" is shared by " + joinKeys(keys),
			Details:  map[string]interface{}{"pluginName": name, "spaces": keys},
		})
	}
	return warnings
}

// invalidPluginStructure implements W207: a component directory found
// nested inside the descriptor directory instead of at the plugin root.
func invalidPluginStructure(spaces []SpaceLintInput) []space.Warning {
	var warnings []space.Warning
	for _, s := range spaces {
		for _, dir := range s.ComponentDirs {
			if strings.HasPrefix(dir, s.DescriptorDir+"/") {
				warnings = append(warnings, space.Warning{
					Code:     "W207",
					Severity: "warning",
					Message:  "component directory found nested inside the plugin descriptor directory",
					SpaceKey: s.Key,
					Path:     dir,
				})
			}
		}
	}
	return warnings
}

func joinKeys(keys []space.Key) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

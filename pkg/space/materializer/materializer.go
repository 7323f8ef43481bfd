// Package materializer implements the harness-agnostic half of C9: plugin
// descriptor generation, component linking, hook/permission translation,
// and MCP/settings composition. Harness adapters (pkg/space/harness/*) call
// into this package and layer harness-specific output shapes on top.
package materializer

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"

	"asp/pkg/space"
	"asp/pkg/space/atomicfs"
)

// componentDirs are the top-level space directories that get linked
// verbatim into the plugin root when present (§4.9.2).
var componentDirs = []string{"commands", "skills", "agents", "hooks", "scripts", "mcp"}

// PluginDescriptor is the minimal shape every harness plugin descriptor
// shares; harness adapters may embed this and add fields of their own.
type PluginDescriptor struct {
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
}

// LinkComponents recursively hardlinks (or copies) the subset of
// componentDirs present in snapshotPath into pluginRoot, preserving
// symlinks and modes. Returns the component directory names actually
// linked.
func LinkComponents(fs afero.Fs, snapshotPath, pluginRoot string) ([]string, error) {
	var linked []string
	for _, dir := range componentDirs {
		src := filepath.Join(snapshotPath, dir)
		exists, err := afero.DirExists(fs, src)
		if err != nil {
			return nil, fmt.Errorf("check component dir %s: %w", dir, err)
		}
		if !exists {
			continue
		}
		dst := filepath.Join(pluginRoot, dir)
		if err := atomicfs.LinkOrCopyTree(fs, src, dst); err != nil {
			return nil, fmt.Errorf("link component dir %s: %w", dir, err)
		}
		linked = append(linked, dir)
	}
	return linked, nil
}

type hookBindingToml struct {
	Event   string `toml:"event"`
	Matcher string `toml:"matcher,omitempty"`
	Command string `toml:"command"`
}

type hooksToml struct {
	Hooks []hookBindingToml `toml:"hooks"`
}

// ReadHooks loads hooks/hooks.toml from snapshotPath if present. Legacy
// hooks/hooks.json is reported via rawLegacy for pass-through.
func ReadHooks(fs afero.Fs, snapshotPath string) (bindings []space.HookBinding, rawLegacy []byte, err error) {
	tomlPath := filepath.Join(snapshotPath, "hooks", "hooks.toml")
	if exists, _ := afero.Exists(fs, tomlPath); exists {
		data, err := afero.ReadFile(fs, tomlPath)
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", tomlPath, err)
		}
		var ht hooksToml
		if err := toml.Unmarshal(data, &ht); err != nil {
			return nil, nil, &space.ParseError{Source: tomlPath, Message: err.Error()}
		}
		out := make([]space.HookBinding, len(ht.Hooks))
		for i, b := range ht.Hooks {
			out[i] = space.HookBinding{Event: b.Event, Matcher: b.Matcher, Command: b.Command}
		}
		return out, nil, nil
	}

	jsonPath := filepath.Join(snapshotPath, "hooks", "hooks.json")
	if exists, _ := afero.Exists(fs, jsonPath); exists {
		data, err := afero.ReadFile(fs, jsonPath)
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", jsonPath, err)
		}
		return nil, data, nil
	}

	return nil, nil, nil
}

// claudeHookEntry and claudeHookGroup mirror the default adapter's native
// hooks.json layout: event -> [{matcher, hooks:[{type, command}]}].
type claudeHookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

type claudeHookGroup struct {
	Matcher string            `json:"matcher,omitempty"`
	Hooks   []claudeHookEntry `json:"hooks"`
}

// TranslateHooksNative renders bindings into the default adapter's native
// hooks.json shape (event -> group list).
func TranslateHooksNative(bindings []space.HookBinding) ([]byte, error) {
	byEvent := make(map[string][]claudeHookGroup)
	var events []string
	for _, b := range bindings {
		if _, seen := byEvent[b.Event]; !seen {
			events = append(events, b.Event)
		}
		byEvent[b.Event] = append(byEvent[b.Event], claudeHookGroup{
			Matcher: b.Matcher,
			Hooks:   []claudeHookEntry{{Type: "command", Command: b.Command}},
		})
	}
	sort.Strings(events)

	out := make(map[string][]claudeHookGroup, len(events))
	for _, e := range events {
		out[e] = byEvent[e]
	}

	return json.MarshalIndent(map[string]interface{}{"hooks": out}, "", "  ")
}

// PluginRootPlaceholder is the harness-relative placeholder hook commands
// must reference instead of an absolute or snapshot-relative path.
const PluginRootPlaceholder = "${CLAUDE_PLUGIN_ROOT}"

// HookCommandMissingPlaceholder reports whether a hook command references a
// plugin-relative script without using the plugin-root placeholder (W203).
func HookCommandMissingPlaceholder(command string) bool {
	if !strings.Contains(command, "/") {
		return false
	}
	return !strings.Contains(command, PluginRootPlaceholder)
}

// PermissionRule is one row of permissions.toml.
type PermissionRule struct {
	Facet   string `toml:"facet"`
	Pattern string `toml:"pattern"`
	Level   string `toml:"level,omitempty"`
}

type permissionsToml struct {
	Permissions []PermissionRule `toml:"permissions"`
}

// ReadPermissions loads permissions.toml from snapshotPath if present.
func ReadPermissions(fs afero.Fs, snapshotPath string) ([]PermissionRule, error) {
	path := filepath.Join(snapshotPath, "permissions.toml")
	exists, err := afero.Exists(fs, path)
	if err != nil || !exists {
		return nil, err
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var pt permissionsToml
	if err := toml.Unmarshal(data, &pt); err != nil {
		return nil, &space.ParseError{Source: path, Message: err.Error()}
	}
	return pt.Permissions, nil
}

// TranslatePermissionsNative renders rules into the default adapter's
// settings-level permission shape: {"allow": [...], "deny": [...]}.
func TranslatePermissionsNative(rules []PermissionRule) map[string]interface{} {
	result := map[string]interface{}{}
	var allow, deny []string
	for _, r := range rules {
		switch r.Facet {
		case "allow":
			allow = append(allow, r.Pattern)
		case "deny":
			deny = append(deny, r.Pattern)
		}
	}
	if len(allow) > 0 {
		result["allow"] = allow
	}
	if len(deny) > 0 {
		result["deny"] = deny
	}
	return result
}

// MCPServers is the shape of a space's mcp/mcp.json: a map of server name
// to its (opaque) configuration.
type MCPServers map[string]interface{}

// ReadMCP loads mcp/mcp.json from snapshotPath if present.
func ReadMCP(fs afero.Fs, snapshotPath string) (MCPServers, error) {
	path := filepath.Join(snapshotPath, "mcp", "mcp.json")
	exists, err := afero.Exists(fs, path)
	if err != nil || !exists {
		return nil, err
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc struct {
		MCPServers MCPServers `json:"mcpServers"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &space.ParseError{Source: path, Message: err.Error()}
	}
	return doc.MCPServers, nil
}

// ComposeMCP merges a sequence of per-space MCPServers maps (in load
// order), later entries overriding earlier ones on key collision, and
// reports one warning per colliding server name.
func ComposeMCP(perSpace []MCPServers) (MCPServers, []space.Warning) {
	composed := MCPServers{}
	var warnings []space.Warning
	for _, servers := range perSpace {
		for name, cfg := range servers {
			if _, collides := composed[name]; collides {
				warnings = append(warnings, space.Warning{
					Code:     "W206",
					Severity: "warning",
					Message:  fmt.Sprintf("mcp server %q is defined by more than one space; the later definition wins", name),
				})
			}
			composed[name] = cfg
		}
	}
	return composed, warnings
}

// DeepMergeSettings composes a sequence of per-space settings maps (in
// load order) per spec.md §4.9.6 / SPEC_FULL.md's canonicalized rule: maps
// deep-merge, arrays concatenate later-after-earlier (no dedup), scalars
// later-overrides-earlier.
func DeepMergeSettings(perSpace []map[string]interface{}) map[string]interface{} {
	var acc map[string]interface{}
	for _, s := range perSpace {
		acc = mergeValue(acc, s).(map[string]interface{})
	}
	if acc == nil {
		acc = map[string]interface{}{}
	}
	return acc
}

func mergeValue(earlier, later interface{}) interface{} {
	if earlier == nil {
		return later
	}
	if later == nil {
		return earlier
	}

	earlierMap, earlierIsMap := earlier.(map[string]interface{})
	laterMap, laterIsMap := later.(map[string]interface{})
	if earlierIsMap && laterIsMap {
		merged := make(map[string]interface{}, len(earlierMap)+len(laterMap))
		for k, v := range earlierMap {
			merged[k] = v
		}
		for k, v := range laterMap {
			if existing, ok := merged[k]; ok {
				merged[k] = mergeValue(existing, v)
			} else {
				merged[k] = v
			}
		}
		return merged
	}

	ev, lv := reflect.ValueOf(earlier), reflect.ValueOf(later)
	if ev.Kind() == reflect.Slice && lv.Kind() == reflect.Slice {
		out := make([]interface{}, 0, ev.Len()+lv.Len())
		for i := 0; i < ev.Len(); i++ {
			out = append(out, ev.Index(i).Interface())
		}
		for i := 0; i < lv.Len(); i++ {
			out = append(out, lv.Index(i).Interface())
		}
		return out
	}

	return later
}

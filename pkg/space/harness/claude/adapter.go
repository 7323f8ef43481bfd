// Package claude implements the default "claude" harness adapter (C12):
// materialization into a Claude Code plugin directory, MCP/settings
// composition, and structural validation.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"asp/pkg/space"
	"asp/pkg/space/atomicfs"
	"asp/pkg/space/integrity"
	"asp/pkg/space/linter"
	"asp/pkg/space/materializer"
)

// Id is this adapter's harness identifier, and the orchestrator's default
// when a target declares no `harness` option.
const Id = "claude"

// Version is this adapter's cache-key version component.
const Version = "1"

// Adapter is the default Claude Code harness adapter.
type Adapter struct {
	fs     afero.Fs
	tmpDir func() string
}

// New constructs a claude Adapter. tmpDir returns a fresh staging parent
// directory each call (normally space.Store.Tmp()).
func New(fs afero.Fs, tmpDir func() string) *Adapter {
	return &Adapter{fs: fs, tmpDir: tmpDir}
}

var _ space.Adapter = (*Adapter)(nil)

// Metadata describes this adapter's identity.
func (a *Adapter) Metadata() space.AdapterMetadata {
	return space.AdapterMetadata{
		Id:              Id,
		Version:         Version,
		DefaultModels:   []string{"claude-sonnet-4", "claude-opus-4"},
		CacheKeyVersion: "v2",
	}
}

// MaterializeSpace builds (or reuses, on cache hit) one space's plugin
// directory (§4.9).
func (a *Adapter) MaterializeSpace(ctx context.Context, input space.MaterializeInput) (*space.MaterializedSpace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

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

	if !input.IsDev && input.PluginCacheFn != nil {
		cacheKey := integrity.CacheKey(Id, Version, input.Integrity, pluginName, pluginVersion)
		if hit, path := input.PluginCacheFn(cacheKey); hit {
			return &space.MaterializedSpace{
				Key:           input.Key,
				PluginPath:    path,
				PluginName:    pluginName,
				PluginVersion: pluginVersion,
			}, nil
		}
	}

	stagingDir, err := atomicfs.StagingDir(a.fs, a.tmpDir(), "plugin")
	if err != nil {
		return nil, &space.MaterializationError{SpaceId: space.Id(pluginName), Cause: err}
	}

	linked, bindings, hookParseFailed, err := a.build(ctx, input, stagingDir, pluginName, pluginVersion)
	if err != nil {
		_ = a.fs.RemoveAll(stagingDir)
		return nil, &space.MaterializationError{SpaceId: space.Id(pluginName), Cause: err}
	}

	return &space.MaterializedSpace{
		Key:              input.Key,
		PluginPath:       stagingDir,
		PluginName:       pluginName,
		PluginVersion:    pluginVersion,
		LinkedComponents: linked,
		HookBindings:     bindings,
		HookParseFailed:  hookParseFailed,
	}, nil
}

func (a *Adapter) build(ctx context.Context, input space.MaterializeInput, stagingDir, pluginName, pluginVersion string) (linked []string, bindings []space.HookBinding, hookParseFailed bool, err error) {
	if err := a.fs.MkdirAll(filepath.Join(stagingDir, ".claude-plugin"), 0o755); err != nil {
		return nil, nil, false, err
	}

	desc := pluginDescriptor{
		Name:    pluginName,
		Version: pluginVersion,
	}
	if input.Manifest != nil {
		desc.Description = input.Manifest.Description
	}
	descJSON, jsonErr := json.MarshalIndent(desc, "", "  ")
	if jsonErr != nil {
		return nil, nil, false, jsonErr
	}
	if err := atomicfs.WriteFile(a.fs, filepath.Join(stagingDir, ".claude-plugin", "plugin.json"), append(descJSON, '\n'), 0o644); err != nil {
		return nil, nil, false, err
	}

	linked, err = materializer.LinkComponents(a.fs, input.SnapshotPath, stagingDir)
	if err != nil {
		return nil, nil, false, err
	}

	// A malformed hooks config is a lint finding (W204), not a build
	// failure: materialization proceeds without hooks for this space.
	bindings, legacy, hookErr := materializer.ReadHooks(a.fs, input.SnapshotPath)
	if hookErr != nil {
		return linked, nil, true, nil
	}
	if legacy != nil {
		if err := atomicfs.WriteFile(a.fs, filepath.Join(stagingDir, "hooks", "hooks.json"), legacy, 0o644); err != nil {
			return nil, nil, false, err
		}
	} else if len(bindings) > 0 {
		native, err := materializer.TranslateHooksNative(bindings)
		if err != nil {
			return nil, nil, false, err
		}
		if err := atomicfs.WriteFile(a.fs, filepath.Join(stagingDir, "hooks", "hooks.json"), append(native, '\n'), 0o644); err != nil {
			return nil, nil, false, err
		}
	}

	return linked, bindings, false, nil
}

type pluginDescriptor struct {
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
}

// ComposeTarget composes the target-level MCP and settings files across a
// target's spaces in load order (§4.9.5, §4.9.6).
func (a *Adapter) ComposeTarget(ctx context.Context, inputs []space.MaterializeInput, outputDir string) (*space.TargetBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bundle := &space.TargetBundle{}

	var mcpPerSpace []materializer.MCPServers
	var settingsPerSpace []map[string]interface{}

	for _, input := range inputs {
		mcp, err := materializer.ReadMCP(a.fs, input.SnapshotPath)
		if err != nil {
			return nil, fmt.Errorf("read mcp for %s: %w", input.Key, err)
		}
		if mcp != nil {
			mcpPerSpace = append(mcpPerSpace, mcp)
		}
		if input.Manifest != nil && len(input.Manifest.Settings) > 0 {
			settingsPerSpace = append(settingsPerSpace, input.Manifest.Settings)
		}

		rules, err := materializer.ReadPermissions(a.fs, input.SnapshotPath)
		if err != nil {
			return nil, fmt.Errorf("read permissions for %s: %w", input.Key, err)
		}
		if len(rules) > 0 {
			translated := materializer.TranslatePermissionsNative(rules)
			settingsPerSpace = append(settingsPerSpace, map[string]interface{}{"permissions": translated})
		}
	}

	composedMCP, mcpWarnings := materializer.ComposeMCP(mcpPerSpace)
	bundle.Warnings = append(bundle.Warnings, mcpWarnings...)
	if len(composedMCP) > 0 {
		data, err := json.MarshalIndent(map[string]interface{}{"mcpServers": composedMCP}, "", "  ")
		if err != nil {
			return nil, err
		}
		path := filepath.Join(outputDir, ".mcp.json")
		if err := atomicfs.WriteFile(a.fs, path, append(data, '\n'), 0o644); err != nil {
			return nil, err
		}
		bundle.MCPConfigPath = path
	}

	composedSettings := materializer.DeepMergeSettings(settingsPerSpace)
	if len(composedSettings) > 0 {
		data, err := json.MarshalIndent(composedSettings, "", "  ")
		if err != nil {
			return nil, err
		}
		path := filepath.Join(outputDir, "settings.json")
		if err := atomicfs.WriteFile(a.fs, path, append(data, '\n'), 0o644); err != nil {
			return nil, err
		}
		bundle.SettingsPath = path
	}

	return bundle, nil
}

// Validate runs C10's lint rules over the target's materialized spaces.
// The caller is expected to have populated bundle.PluginDirs; Validate
// derives its SpaceLintInput set by re-reading each plugin directory.
func (a *Adapter) Validate(bundle *space.TargetBundle) []space.Warning {
	var inputs []linter.SpaceLintInput

	for _, ms := range bundle.PluginDirs {
		commandNames, _ := listBaseNames(a.fs, filepath.Join(ms.PluginPath, "commands"))
		agentCommandNames, _ := listBaseNames(a.fs, filepath.Join(ms.PluginPath, "agents"))

		inputs = append(inputs, linter.SpaceLintInput{
			Key:               ms.Key,
			PluginName:        ms.PluginName,
			CommandNames:      commandNames,
			AgentCommandNames: agentCommandNames,
			HookBindings:      ms.HookBindings,
			HookParseFailed:   ms.HookParseFailed,
			DescriptorDir:     ".claude-plugin",
			ComponentDirs:     ms.LinkedComponents,
		})
	}

	sort.Slice(inputs, func(i, j int) bool { return inputs[i].Key < inputs[j].Key })
	return linter.Lint(inputs)
}

func listBaseNames(fs afero.Fs, dir string) ([]string, error) {
	exists, err := afero.DirExists(fs, dir)
	if err != nil || !exists {
		return nil, err
	}
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, info := range infos {
		if !info.IsDir() {
			names = append(names, strings.TrimSuffix(info.Name(), filepath.Ext(info.Name())))
		}
	}
	return names, nil
}

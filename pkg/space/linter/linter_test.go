package linter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asp/pkg/space"
)

func codes(warnings []space.Warning) []string {
	out := make([]string, len(warnings))
	for i, w := range warnings {
		out[i] = w.Code
	}
	return out
}

func TestLint_CommandCollision(t *testing.T) {
	warnings := Lint([]SpaceLintInput{
		{Key: "a@1", CommandNames: []string{"deploy"}},
		{Key: "b@1", CommandNames: []string{"deploy"}},
	})
	require.Contains(t, codes(warnings), "W201")
}

func TestLint_NoCollisionWhenNamesDistinct(t *testing.T) {
	warnings := Lint([]SpaceLintInput{
		{Key: "a@1", CommandNames: []string{"deploy"}},
		{Key: "b@1", CommandNames: []string{"build"}},
	})
	assert.NotContains(t, codes(warnings), "W201")
}

func TestLint_AgentCommandNotNamespaced(t *testing.T) {
	warnings := Lint([]SpaceLintInput{
		{Key: "a@1", AgentCommandNames: []string{"deploy"}},
	})
	require.Contains(t, codes(warnings), "W202")

	namespaced := Lint([]SpaceLintInput{
		{Key: "a@1", AgentCommandNames: []string{"a:deploy"}},
	})
	assert.NotContains(t, codes(namespaced), "W202")
}

func TestLint_HookCommandMissingPlaceholder(t *testing.T) {
	warnings := Lint([]SpaceLintInput{
		{Key: "a@1", HookBindings: []space.HookBinding{{Event: "PreToolUse", Command: "scripts/check.sh"}}},
	})
	require.Contains(t, codes(warnings), "W203")
}

func TestLint_HookCommandTraversal(t *testing.T) {
	warnings := Lint([]SpaceLintInput{
		{Key: "a@1", HookBindings: []space.HookBinding{{Event: "PreToolUse", Command: "${CLAUDE_PLUGIN_ROOT}/../escape.sh"}}},
	})
	require.Contains(t, codes(warnings), "W203")
}

func TestLint_HookCommandOkWithPlaceholder(t *testing.T) {
	warnings := Lint([]SpaceLintInput{
		{Key: "a@1", HookBindings: []space.HookBinding{{Event: "PreToolUse", Command: "${CLAUDE_PLUGIN_ROOT}/scripts/check.sh"}}},
	})
	assert.NotContains(t, codes(warnings), "W203")
}

func TestLint_InvalidHooksConfig(t *testing.T) {
	warnings := Lint([]SpaceLintInput{
		{Key: "a@1", HookParseFailed: true},
	})
	require.Contains(t, codes(warnings), "W204")
}

func TestLint_PluginNameCollision(t *testing.T) {
	warnings := Lint([]SpaceLintInput{
		{Key: "a@1", PluginName: "shared"},
		{Key: "b@1", PluginName: "shared"},
	})
	require.Contains(t, codes(warnings), "W205")
}

func TestLint_NestedComponentDirFlagged(t *testing.T) {
	warnings := Lint([]SpaceLintInput{
		{Key: "a@1", DescriptorDir: ".claude-plugin", ComponentDirs: []string{".claude-plugin/commands"}},
	})
	require.Contains(t, codes(warnings), "W207")

	ok := Lint([]SpaceLintInput{
		{Key: "a@1", DescriptorDir: ".claude-plugin", ComponentDirs: []string{"commands"}},
	})
	assert.NotContains(t, codes(ok), "W207")
}

func TestLint_CleanInputProducesNoWarnings(t *testing.T) {
	warnings := Lint([]SpaceLintInput{
		{
			Key:               "a@1",
			PluginName:        "frontend-tools",
			CommandNames:      []string{"build"},
			AgentCommandNames: []string{"a:deploy"},
			HookBindings:      []space.HookBinding{{Event: "PreToolUse", Command: "${CLAUDE_PLUGIN_ROOT}/check.sh"}},
			DescriptorDir:     ".claude-plugin",
			ComponentDirs:     []string{"commands", "hooks"},
		},
	})
	assert.Empty(t, warnings)
}

package materializer

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asp/pkg/space"
)

func TestLinkComponents_OnlyLinksKnownDirs(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/snapshot/commands/build.md", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/snapshot/skills/deploy.md", []byte("y"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/snapshot/README.md", []byte("z"), 0o644))

	linked, err := LinkComponents(fs, "/snapshot", "/plugin")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"commands", "skills"}, linked)

	data, err := afero.ReadFile(fs, "/plugin/commands/build.md")
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	exists, _ := afero.Exists(fs, "/plugin/README.md")
	assert.False(t, exists, "non-component files must not be linked")
}

func TestReadHooks_Toml(t *testing.T) {
	fs := afero.NewMemMapFs()
	doc := `
[[hooks]]
event = "PreToolUse"
matcher = "Bash"
command = "${CLAUDE_PLUGIN_ROOT}/scripts/check.sh"

[[hooks]]
event = "PostToolUse"
command = "echo done"
`
	require.NoError(t, afero.WriteFile(fs, "/snapshot/hooks/hooks.toml", []byte(doc), 0o644))

	bindings, legacy, err := ReadHooks(fs, "/snapshot")
	require.NoError(t, err)
	assert.Nil(t, legacy)
	require.Len(t, bindings, 2)
	assert.Equal(t, "PreToolUse", bindings[0].Event)
	assert.Equal(t, "Bash", bindings[0].Matcher)
}

func TestReadHooks_LegacyJSONPassthrough(t *testing.T) {
	fs := afero.NewMemMapFs()
	raw := `{"hooks": {"PreToolUse": []}}`
	require.NoError(t, afero.WriteFile(fs, "/snapshot/hooks/hooks.json", []byte(raw), 0o644))

	bindings, legacy, err := ReadHooks(fs, "/snapshot")
	require.NoError(t, err)
	assert.Nil(t, bindings)
	assert.Equal(t, raw, string(legacy))
}

func TestReadHooks_MalformedTomlIsParseError(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/snapshot/hooks/hooks.toml", []byte("not = [valid"), 0o644))

	_, _, err := ReadHooks(fs, "/snapshot")
	require.Error(t, err)
	var perr *space.ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestReadHooks_NoneReturnsAllNil(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/snapshot", 0o755))
	bindings, legacy, err := ReadHooks(fs, "/snapshot")
	require.NoError(t, err)
	assert.Nil(t, bindings)
	assert.Nil(t, legacy)
}

func TestTranslateHooksNative_GroupsByEventSorted(t *testing.T) {
	bindings := []space.HookBinding{
		{Event: "PostToolUse", Command: "echo post"},
		{Event: "PreToolUse", Matcher: "Bash", Command: "${CLAUDE_PLUGIN_ROOT}/check.sh"},
	}
	out, err := TranslateHooksNative(bindings)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"PostToolUse"`)
	assert.Contains(t, string(out), `"matcher": "Bash"`)
	// encoding/json emits map keys in sorted order; "PostToolUse" < "PreToolUse".
	preIdx := indexOf(t, string(out), "PreToolUse")
	postIdx := indexOf(t, string(out), "PostToolUse")
	assert.Less(t, postIdx, preIdx)
}

func indexOf(t *testing.T, s, substr string) int {
	t.Helper()
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	t.Fatalf("substring %q not found in %q", substr, s)
	return -1
}

func TestHookCommandMissingPlaceholder(t *testing.T) {
	assert.True(t, HookCommandMissingPlaceholder("scripts/check.sh"))
	assert.False(t, HookCommandMissingPlaceholder("${CLAUDE_PLUGIN_ROOT}/scripts/check.sh"))
	assert.False(t, HookCommandMissingPlaceholder("echo hi"), "a command with no path segment is not flagged")
}

func TestReadPermissions(t *testing.T) {
	fs := afero.NewMemMapFs()
	doc := `
[[permissions]]
facet = "allow"
pattern = "Bash(git *)"

[[permissions]]
facet = "deny"
pattern = "Bash(rm -rf *)"
`
	require.NoError(t, afero.WriteFile(fs, "/snapshot/permissions.toml", []byte(doc), 0o644))

	rules, err := ReadPermissions(fs, "/snapshot")
	require.NoError(t, err)
	require.Len(t, rules, 2)

	translated := TranslatePermissionsNative(rules)
	assert.Equal(t, []string{"Bash(git *)"}, translated["allow"])
	assert.Equal(t, []string{"Bash(rm -rf *)"}, translated["deny"])
}

func TestReadPermissions_AbsentReturnsNil(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/snapshot", 0o755))
	rules, err := ReadPermissions(fs, "/snapshot")
	require.NoError(t, err)
	assert.Nil(t, rules)
}

func TestReadMCPAndCompose(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/snapshot-a/mcp/mcp.json", []byte(`{"mcpServers": {"db": {"command": "db-server"}}}`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/snapshot-b/mcp/mcp.json", []byte(`{"mcpServers": {"db": {"command": "other-db-server"}}}`), 0o644))

	mcpA, err := ReadMCP(fs, "/snapshot-a")
	require.NoError(t, err)
	mcpB, err := ReadMCP(fs, "/snapshot-b")
	require.NoError(t, err)

	composed, warnings := ComposeMCP([]MCPServers{mcpA, mcpB})
	require.Len(t, warnings, 1)
	assert.Equal(t, "W206", warnings[0].Code)

	server := composed["db"].(map[string]interface{})
	assert.Equal(t, "other-db-server", server["command"], "later space wins on collision")
}

func TestDeepMergeSettings_ArraysConcatenateMapsMerge(t *testing.T) {
	earlier := map[string]interface{}{
		"permissions": map[string]interface{}{"allow": []interface{}{"a"}},
		"scalar":      "old",
	}
	later := map[string]interface{}{
		"permissions": map[string]interface{}{"allow": []interface{}{"b"}, "deny": []interface{}{"c"}},
		"scalar":      "new",
	}

	merged := DeepMergeSettings([]map[string]interface{}{earlier, later})

	perms := merged["permissions"].(map[string]interface{})
	assert.Equal(t, []interface{}{"a", "b"}, perms["allow"])
	assert.Equal(t, []interface{}{"c"}, perms["deny"])
	assert.Equal(t, "new", merged["scalar"])
}

func TestDeepMergeSettings_Empty(t *testing.T) {
	merged := DeepMergeSettings(nil)
	assert.Equal(t, map[string]interface{}{}, merged)
}

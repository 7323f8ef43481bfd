package gitexec

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asp/pkg/space"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func initRepo(t *testing.T) string {
	t.Helper()
	requireGit(t)
	dir := t.TempDir()
	ctx := context.Background()
	e := New()

	require.NoError(t, e.Init(ctx, dir))
	run(t, dir, "config", "user.email", "test@example.com")
	run(t, dir, "config", "user.name", "Test")

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "spaces", "frontend", "commands"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spaces", "frontend", "space.toml"), []byte("schema = 1\nid = \"frontend\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spaces", "frontend", "commands", "build.md"), []byte("# build\n"), 0o644))

	require.NoError(t, e.Add(ctx, dir))
	_, err := e.Commit(ctx, dir, "initial")
	require.NoError(t, err)
	require.NoError(t, e.Tag(ctx, dir, "space/frontend/v1.0.0", ""))

	return dir
}

func run(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
}

func TestExecutor_ListTagsAndResolveTag(t *testing.T) {
	dir := initRepo(t)
	e := New()
	ctx := context.Background()

	tags, err := e.ListTags(ctx, dir, "space/frontend/v*")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "space/frontend/v1.0.0", tags[0].Name)
	assert.Len(t, string(tags[0].Commit), 40)

	commit, err := e.ResolveTag(ctx, dir, "space/frontend/v1.0.0")
	require.NoError(t, err)
	assert.Equal(t, tags[0].Commit, commit)
}

func TestExecutor_RevParse(t *testing.T) {
	dir := initRepo(t)
	e := New()
	ctx := context.Background()

	commit, err := e.RevParse(ctx, dir, "HEAD")
	require.NoError(t, err)
	assert.Len(t, string(commit), 40)

	_, err = e.RevParse(ctx, dir, "nonexistent-ref")
	require.Error(t, err)
}

func TestExecutor_ListTreeAndReadBlob(t *testing.T) {
	dir := initRepo(t)
	e := New()
	ctx := context.Background()

	commit, err := e.RevParse(ctx, dir, "HEAD")
	require.NoError(t, err)

	entries, err := e.ListTree(ctx, dir, commit, "spaces/frontend")
	require.NoError(t, err)

	var paths []string
	for _, entry := range entries {
		paths = append(paths, entry.Path)
	}
	assert.Contains(t, paths, "space.toml")
	assert.Contains(t, paths, "commands/build.md")

	blob, err := e.ReadBlob(ctx, dir, commit, "spaces/frontend/space.toml")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(blob), "id = \"frontend\""))
}

func TestExecutor_ExtractTree(t *testing.T) {
	dir := initRepo(t)
	e := New()
	ctx := context.Background()

	commit, err := e.RevParse(ctx, dir, "HEAD")
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, e.ExtractTree(ctx, dir, commit, "spaces/frontend", dest))

	data, err := os.ReadFile(filepath.Join(dest, "space.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "frontend")
}

func TestExecutor_CommitIsNoopWhenClean(t *testing.T) {
	dir := initRepo(t)
	e := New()
	ctx := context.Background()

	sha, err := e.Commit(ctx, dir, "nothing to commit")
	require.NoError(t, err)
	assert.Equal(t, space.CommitSha(""), sha)
}

func TestExecutor_ListRemoteTags(t *testing.T) {
	dir := initRepo(t)
	e := New()
	ctx := context.Background()

	tags, err := e.ListRemoteTags(ctx, dir)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "space/frontend/v1.0.0", tags[0].Name)
	assert.Len(t, string(tags[0].Commit), 40)
}

func TestExecutor_GitErrorOnInvalidCommand(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	e := New()
	_, err := e.RevParse(context.Background(), dir, "HEAD")
	require.Error(t, err)
	var gitErr *space.GitError
	assert.ErrorAs(t, err, &gitErr)
}

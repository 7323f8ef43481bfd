package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asp/pkg/space"
)

// fakeGit supplies just enough of space.GitExecutor for store tests:
// ListTree drives EnsureSnapshot's integrity computation, ExtractTree
// populates the staging directory store.EnsureSnapshot promotes.
type fakeGit struct {
	tree    []space.TreeEntry
	fs      afero.Fs
	content map[string]string // relative path -> content, written by ExtractTree

	listTreeFailures    int // fail this many times before succeeding
	extractTreeFailures int

	listTreeCalls    int
	extractTreeCalls int
}

func (g *fakeGit) ListTags(ctx context.Context, repoDir, glob string) ([]space.TagRef, error) {
	return nil, nil
}
func (g *fakeGit) ListRemoteTags(ctx context.Context, url string) ([]space.TagRef, error) {
	return nil, nil
}
func (g *fakeGit) ResolveTag(ctx context.Context, repoDir, tag string) (space.CommitSha, error) {
	return "", nil
}
func (g *fakeGit) RevParse(ctx context.Context, repoDir, committish string) (space.CommitSha, error) {
	return "", nil
}
func (g *fakeGit) ListTree(ctx context.Context, repoDir string, ref space.CommitSha, subpath string) ([]space.TreeEntry, error) {
	g.listTreeCalls++
	if g.listTreeCalls <= g.listTreeFailures {
		return nil, fmt.Errorf("transient listtree failure")
	}
	return g.tree, nil
}
func (g *fakeGit) ExtractTree(ctx context.Context, repoDir string, commit space.CommitSha, subpath, destDir string) error {
	g.extractTreeCalls++
	if g.extractTreeCalls <= g.extractTreeFailures {
		return fmt.Errorf("transient extracttree failure")
	}
	for rel, content := range g.content {
		if err := afero.WriteFile(g.fs, destDir+"/"+rel, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}
func (g *fakeGit) ReadBlob(ctx context.Context, repoDir string, ref space.CommitSha, path string) ([]byte, error) {
	return nil, nil
}
func (g *fakeGit) Init(ctx context.Context, dir string) error                    { return nil }
func (g *fakeGit) Fetch(ctx context.Context, repoDir string) error               { return nil }
func (g *fakeGit) Clone(ctx context.Context, url, destDir string) error          { return nil }
func (g *fakeGit) Add(ctx context.Context, repoDir string, paths ...string) error { return nil }
func (g *fakeGit) Commit(ctx context.Context, repoDir, message string) (space.CommitSha, error) {
	return "", nil
}
func (g *fakeGit) Tag(ctx context.Context, repoDir, name, ref string) error   { return nil }
func (g *fakeGit) Status(ctx context.Context, repoDir string) (string, error) { return "", nil }

var _ space.GitExecutor = (*fakeGit)(nil)

// failRenameFs wraps an afero.Fs and fails Rename onto a specific
// destination, simulating an atomic-replace failure after a successful
// staged build.
type failRenameFs struct {
	afero.Fs
	failDest string
}

func (f *failRenameFs) Rename(oldname, newname string) error {
	if newname == f.failDest {
		return fmt.Errorf("simulated rename failure")
	}
	return f.Fs.Rename(oldname, newname)
}

func TestEnsureSnapshot_CreatesAndReuses(t *testing.T) {
	fs := afero.NewMemMapFs()
	git := &fakeGit{
		fs:      fs,
		tree:    []space.TreeEntry{{Path: "commands/build.md", Type: "blob", OID: "aaa", Mode: "100644"}},
		content: map[string]string{"commands/build.md": "echo hi"},
	}
	s := New(fs, "/home/.asp", git)

	integ, created, err := s.EnsureSnapshot(context.Background(), "frontend", "/repo", "abcdef0123456789abcdef0123456789abcdef01")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, integ)

	exists, err := s.Exists(integ)
	require.NoError(t, err)
	assert.True(t, exists)

	// a second call for the same content must reuse, not re-extract
	integ2, created2, err := s.EnsureSnapshot(context.Background(), "frontend", "/repo", "abcdef0123456789abcdef0123456789abcdef01")
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, integ, integ2)
}

func TestEnsureSnapshot_DevCommitNeverStored(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, "/home/.asp", &fakeGit{fs: fs})

	integ, created, err := s.EnsureSnapshot(context.Background(), "frontend", "/repo", space.DevCommit)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, space.DevIntegrity, integ)
}

func TestVerify_DetectsTampering(t *testing.T) {
	fs := afero.NewMemMapFs()
	// OID is the git blob SHA-1 of "echo hi", so the git-tree and
	// filesystem integrity of the extracted snapshot agree.
	git := &fakeGit{
		fs:      fs,
		tree:    []space.TreeEntry{{Path: "commands/build.md", Type: "blob", OID: "d8a3aa25d82db8e8cf91ddb7dda7f790b509fa4d", Mode: "100644"}},
		content: map[string]string{"commands/build.md": "echo hi"},
	}
	s := New(fs, "/home/.asp", git)

	integ, _, err := s.EnsureSnapshot(context.Background(), "frontend", "/repo", "abcdef0123456789abcdef0123456789abcdef01")
	require.NoError(t, err)
	require.NoError(t, s.Verify(integ))

	require.NoError(t, afero.WriteFile(fs, s.SnapshotPath(integ)+"/commands/build.md", []byte("tampered"), 0o644))
	err = s.Verify(integ)
	require.Error(t, err)
	var integErr *space.IntegrityError
	assert.ErrorAs(t, err, &integErr)
}

func TestEnsureSnapshot_RetriesOnceOnTransientGitFailure(t *testing.T) {
	fs := afero.NewMemMapFs()
	git := &fakeGit{
		fs:                  fs,
		tree:                []space.TreeEntry{{Path: "commands/build.md", Type: "blob", OID: "aaa", Mode: "100644"}},
		content:             map[string]string{"commands/build.md": "echo hi"},
		listTreeFailures:    1,
		extractTreeFailures: 1,
	}
	s := New(fs, "/home/.asp", git)

	integ, created, err := s.EnsureSnapshot(context.Background(), "frontend", "/repo", "abcdef0123456789abcdef0123456789abcdef01")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, integ)
	assert.Equal(t, 2, git.listTreeCalls)
	assert.Equal(t, 2, git.extractTreeCalls)
}

func TestEnsureSnapshot_PersistentGitFailureIsFatal(t *testing.T) {
	fs := afero.NewMemMapFs()
	git := &fakeGit{
		fs:               fs,
		listTreeFailures: 2,
	}
	s := New(fs, "/home/.asp", git)

	_, _, err := s.EnsureSnapshot(context.Background(), "frontend", "/repo", "abcdef0123456789abcdef0123456789abcdef01")
	require.Error(t, err)
	var snapErr *space.SnapshotError
	assert.ErrorAs(t, err, &snapErr)
	assert.Equal(t, 2, git.listTreeCalls, "should not retry a third time")
}

func TestPlaceCache_CleansUpStagedDirOnReplaceFailure(t *testing.T) {
	base := afero.NewMemMapFs()
	cacheKey := "deadbeef"
	fs := &failRenameFs{Fs: base, failDest: "/home/.asp/cache/" + cacheKey}
	s := New(fs, "/home/.asp", &fakeGit{fs: fs})

	stagingDir := s.Tmp() + "/plugin-build"
	require.NoError(t, afero.WriteFile(fs, stagingDir+"/.claude-plugin/plugin.json", []byte("{}"), 0o644))

	err := s.PlaceCache(cacheKey, stagingDir, space.CacheSidecar{PluginName: "frontend-tools", CacheKey: cacheKey})
	require.Error(t, err)

	exists, err := afero.DirExists(fs, stagingDir)
	require.NoError(t, err)
	assert.False(t, exists, "staged dir must be cleaned up on ReplaceDir failure")
}

func TestCacheLifecycle(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, "/home/.asp", &fakeGit{fs: fs})

	stagingDir := s.Tmp() + "/plugin-build"
	require.NoError(t, afero.WriteFile(fs, stagingDir+"/.claude-plugin/plugin.json", []byte("{}"), 0o644))

	cacheKey := "deadbeef"
	sidecar := space.CacheSidecar{PluginName: "frontend-tools", CacheKey: cacheKey}
	require.NoError(t, s.PlaceCache(cacheKey, stagingDir, sidecar))

	hit, err := s.CacheExists(cacheKey)
	require.NoError(t, err)
	assert.True(t, hit)

	list, err := s.ListCache()
	require.NoError(t, err)
	assert.Contains(t, list, cacheKey)

	require.NoError(t, s.DeleteCache(cacheKey))
	hit, err = s.CacheExists(cacheKey)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestListAndDeleteSnapshots(t *testing.T) {
	fs := afero.NewMemMapFs()
	git := &fakeGit{
		fs:      fs,
		tree:    []space.TreeEntry{{Path: "a.md", Type: "blob", OID: "aaa", Mode: "100644"}},
		content: map[string]string{"a.md": "hi"},
	}
	s := New(fs, "/home/.asp", git)

	integ, _, err := s.EnsureSnapshot(context.Background(), "frontend", "/repo", "abcdef0123456789abcdef0123456789abcdef01")
	require.NoError(t, err)

	list, err := s.ListSnapshots()
	require.NoError(t, err)
	assert.Contains(t, list, integ.Hex())

	size, err := s.SnapshotSize(integ.Hex())
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))

	require.NoError(t, s.DeleteSnapshot(integ.Hex()))
	list, err = s.ListSnapshots()
	require.NoError(t, err)
	assert.NotContains(t, list, integ.Hex())
}

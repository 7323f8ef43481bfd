// Package gitexec implements C1: typed git subprocess operations used by
// the resolver, integrity engine, store and orchestrator. Every operation
// spawns the system git binary with an argv array and an explicit working
// directory — never a shell string — and applies a default timeout.
package gitexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"asp/pkg/space"
)

// DefaultTimeout is the per-invocation timeout applied when the caller's
// context carries no deadline of its own.
const DefaultTimeout = 60 * time.Second

// Executor is the default GitExecutor, shelling out to the system git
// binary.
type Executor struct{}

// New creates a new git executor.
func New() *Executor {
	return &Executor{}
}

var _ space.GitExecutor = (*Executor)(nil)

func (e *Executor) run(ctx context.Context, dir string, args ...string) (string, string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return stdout.String(), stderr.String(), &space.GitError{
			Command:  append([]string{"git"}, args...),
			ExitCode: exitCode,
			Stderr:   strings.TrimSpace(stderr.String()),
		}
	}

	return stdout.String(), stderr.String(), nil
}

// ListTags lists tags matching glob with their resolved commits, via
// `git for-each-ref`.
func (e *Executor) ListTags(ctx context.Context, repoDir, glob string) ([]space.TagRef, error) {
	pattern := "refs/tags/" + glob
	out, _, err := e.run(ctx, repoDir, "for-each-ref", "--format=%(refname:short) %(objectname)", pattern)
	if err != nil {
		return nil, err
	}

	var tags []space.TagRef
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			continue
		}
		tags = append(tags, space.TagRef{Name: parts[0], Commit: space.CommitSha(parts[1])})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	return tags, nil
}

// ListRemoteTags lists every tag on url without cloning it, via
// `git ls-remote --tags`. Annotated tags are peeled to the commit they
// point at (the "^{}" dereferenced entry), discarding the tag object sha.
func (e *Executor) ListRemoteTags(ctx context.Context, url string) ([]space.TagRef, error) {
	out, _, err := e.run(ctx, "", "ls-remote", "--tags", url)
	if err != nil {
		return nil, err
	}

	byName := map[string]space.CommitSha{}
	var order []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			continue
		}
		sha, ref := parts[0], parts[1]
		name := strings.TrimPrefix(ref, "refs/tags/")
		peeled := strings.HasSuffix(name, "^{}")
		name = strings.TrimSuffix(name, "^{}")
		if _, seen := byName[name]; !seen {
			order = append(order, name)
		}
		if peeled || byName[name] == "" {
			byName[name] = space.CommitSha(sha)
		}
	}

	tags := make([]space.TagRef, 0, len(order))
	for _, name := range order {
		tags = append(tags, space.TagRef{Name: name, Commit: byName[name]})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	return tags, nil
}

// ResolveTag resolves a single tag to its commit.
func (e *Executor) ResolveTag(ctx context.Context, repoDir, tag string) (space.CommitSha, error) {
	out, _, err := e.run(ctx, repoDir, "rev-parse", "refs/tags/"+tag)
	if err != nil {
		return "", err
	}
	return space.CommitSha(strings.TrimSpace(out)), nil
}

var hexRe = regexp.MustCompile(`^[0-9a-f]+$`)

// RevParse resolves any committish to a full commit SHA, verifying it
// actually exists.
func (e *Executor) RevParse(ctx context.Context, repoDir, committish string) (space.CommitSha, error) {
	out, _, err := e.run(ctx, repoDir, "rev-parse", "--verify", committish+"^{commit}")
	if err != nil {
		return "", err
	}
	sha := strings.TrimSpace(out)
	if !hexRe.MatchString(sha) || len(sha) != 40 {
		return "", fmt.Errorf("git rev-parse returned unexpected output %q", sha)
	}
	return space.CommitSha(sha), nil
}

// ListTree recursively lists entries under subpath at ref via
// `git ls-tree -r`.
func (e *Executor) ListTree(ctx context.Context, repoDir string, ref space.CommitSha, subpath string) ([]space.TreeEntry, error) {
	out, _, err := e.run(ctx, repoDir, "ls-tree", "-r", "-t", string(ref), "--", subpath)
	if err != nil {
		return nil, err
	}

	var entries []space.TreeEntry
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		// "<mode> <type> <oid>\t<path>"
		tab := strings.IndexByte(line, '\t')
		if tab < 0 {
			continue
		}
		meta := strings.Fields(line[:tab])
		if len(meta) != 3 {
			continue
		}
		path := line[tab+1:]
		if subpath != "" {
			path = strings.TrimPrefix(path, subpath+"/")
		}
		entries = append(entries, space.TreeEntry{
			Path: path,
			Type: meta[1],
			OID:  meta[2],
			Mode: meta[0],
		})
	}
	return entries, nil
}

// ExtractTree extracts subpath at commit into destDir via `git archive`
// piped into `tar`; extracted paths are relative to subpath.
func (e *Executor) ExtractTree(ctx context.Context, repoDir string, commit space.CommitSha, subpath, destDir string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	treeish := string(commit)
	if subpath != "" {
		treeish += ":" + subpath
	}
	archiveArgs := []string{"archive", "--format=tar", treeish}

	archiveCmd := exec.CommandContext(ctx, "git", archiveArgs...)
	archiveCmd.Dir = repoDir

	tarCmd := exec.CommandContext(ctx, "tar", "-x", "-C", destDir)

	pipe, err := archiveCmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to pipe git archive: %w", err)
	}
	tarCmd.Stdin = pipe

	var archiveErr, tarErr bytes.Buffer
	archiveCmd.Stderr = &archiveErr
	tarCmd.Stderr = &tarErr

	if err := tarCmd.Start(); err != nil {
		return fmt.Errorf("failed to start tar: %w", err)
	}
	if err := archiveCmd.Run(); err != nil {
		_ = tarCmd.Wait()
		return &space.GitError{Command: append([]string{"git"}, archiveArgs...), ExitCode: 1, Stderr: strings.TrimSpace(archiveErr.String())}
	}
	if err := tarCmd.Wait(); err != nil {
		return fmt.Errorf("tar extraction failed: %s: %w", strings.TrimSpace(tarErr.String()), err)
	}
	return nil
}

// ReadBlob reads the content of <ref>:<path> via `git show`.
func (e *Executor) ReadBlob(ctx context.Context, repoDir string, ref space.CommitSha, path string) ([]byte, error) {
	out, _, err := e.run(ctx, repoDir, "show", fmt.Sprintf("%s:%s", ref, path))
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// Init initializes a new git repository at dir.
func (e *Executor) Init(ctx context.Context, dir string) error {
	_, _, err := e.run(ctx, dir, "init")
	return err
}

// Fetch fetches from origin into repoDir.
func (e *Executor) Fetch(ctx context.Context, repoDir string) error {
	_, _, err := e.run(ctx, repoDir, "fetch", "origin")
	return err
}

// Clone clones url into destDir.
func (e *Executor) Clone(ctx context.Context, url, destDir string) error {
	_, _, err := e.run(ctx, filepath.Dir(destDir), "clone", url, destDir)
	return err
}

// Add stages paths (or "." when none given) in repoDir.
func (e *Executor) Add(ctx context.Context, repoDir string, paths ...string) error {
	if len(paths) == 0 {
		paths = []string{"."}
	}
	_, _, err := e.run(ctx, repoDir, append([]string{"add"}, paths...)...)
	return err
}

// Commit commits staged changes, returning the empty string if there was
// nothing to commit.
func (e *Executor) Commit(ctx context.Context, repoDir, message string) (space.CommitSha, error) {
	status, err := e.Status(ctx, repoDir)
	if err != nil {
		return "", err
	}
	staged := false
	for _, line := range strings.Split(status, "\n") {
		// Porcelain column 1 is the index status; ' ' and '?' mean nothing staged.
		if len(line) > 1 && line[0] != ' ' && line[0] != '?' {
			staged = true
			break
		}
	}
	if !staged {
		return "", nil
	}

	if _, _, err := e.run(ctx, repoDir, "commit", "-m", message); err != nil {
		return "", err
	}
	return e.RevParse(ctx, repoDir, "HEAD")
}

// Tag creates a tag named name, at ref (or HEAD when ref is empty).
func (e *Executor) Tag(ctx context.Context, repoDir, name, ref string) error {
	args := []string{"tag", name}
	if ref != "" {
		args = append(args, ref)
	}
	_, _, err := e.run(ctx, repoDir, args...)
	return err
}

// Status returns `git status --porcelain` output.
func (e *Executor) Status(ctx context.Context, repoDir string) (string, error) {
	out, _, err := e.run(ctx, repoDir, "status", "--porcelain")
	return out, err
}

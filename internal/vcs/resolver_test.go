package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xorwow/serial-pdf/internal/errors"
)

// initRepo builds a throwaway git repository holding one template and
// returns its root. Tests are skipped when git is not installed.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	root := t.TempDir()
	git(t, root, "init", "-q")
	git(t, root, "config", "user.email", "test@example.com")
	git(t, root, "config", "user.name", "test")

	writeFile(t, root, "invoice/main.tex", `\documentclass{article}\placeholder{Name}`)
	writeFile(t, root, "invoice/serial-pdf.sty", "% macros")
	git(t, root, "add", ".")
	git(t, root, "commit", "-q", "-m", "add invoice template")

	return root
}

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return string(out)
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestHeadReturnsShortHash(t *testing.T) {
	root := initRepo(t)
	r := NewResolver(root, nil, nil)

	head, err := r.Head(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(head), 7)
	assert.Regexp(t, "^[0-9a-f]+$", head)
}

func TestResolveDefaultsToHead(t *testing.T) {
	root := initRepo(t)
	r := NewResolver(root, nil, nil)

	head, err := r.Head(context.Background())
	require.NoError(t, err)

	for _, commit := range []string{"", "HEAD", "head"} {
		subpath, resolved, err := r.Resolve(context.Background(), "invoice", commit)
		require.NoError(t, err)
		assert.Equal(t, "invoice", subpath)
		assert.Equal(t, head, resolved)
	}
}

func TestResolveUnknownTemplate(t *testing.T) {
	root := initRepo(t)
	r := NewResolver(root, nil, nil)

	_, _, err := r.Resolve(context.Background(), "no-such-template", "")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestResolveUnknownCommit(t *testing.T) {
	root := initRepo(t)
	r := NewResolver(root, nil, nil)

	_, _, err := r.Resolve(context.Background(), "invoice", "deadbeef12")
	require.Error(t, err)
	assert.True(t, errors.IsCheckout(err))
}

func TestResolveRejectsEscapingIDs(t *testing.T) {
	root := initRepo(t)
	r := NewResolver(root, nil, nil)

	for _, id := range []string{"..", "../outside", "/etc", "."} {
		_, _, err := r.Resolve(context.Background(), id, "")
		require.Error(t, err, "id %q", id)
		assert.True(t, errors.IsNotFound(err), "id %q", id)
	}
}

func TestExists(t *testing.T) {
	root := initRepo(t)
	r := NewResolver(root, nil, nil)
	head, err := r.Head(context.Background())
	require.NoError(t, err)

	exists, err := r.Exists(context.Background(), "invoice/main.tex", head)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = r.Exists(context.Background(), "invoice/missing.tex", head)
	require.NoError(t, err)
	assert.False(t, exists)
}

// A snapshot taken at a pinned commit must show that commit's content even
// after the repository has moved on.
func TestSnapshotIsCommitPinned(t *testing.T) {
	root := initRepo(t)
	r := NewResolver(root, nil, nil)
	ctx := context.Background()

	_, pinned, err := r.Resolve(ctx, "invoice", "")
	require.NoError(t, err)

	writeFile(t, root, "invoice/main.tex", "changed content")
	git(t, root, "add", ".")
	git(t, root, "commit", "-q", "-m", "mutate template")

	snap, err := r.Snapshot(ctx, "invoice", pinned)
	require.NoError(t, err)
	defer snap.Remove()

	content, err := os.ReadFile(filepath.Join(snap.Dir, "main.tex"))
	require.NoError(t, err)
	assert.Contains(t, string(content), `\placeholder{Name}`)
	assert.NotContains(t, string(content), "changed content")
	assert.Equal(t, pinned, snap.Commit)
}

func TestCheckoutPlacesDirectoryContents(t *testing.T) {
	root := initRepo(t)
	r := NewResolver(root, nil, nil)
	ctx := context.Background()

	head, err := r.Head(ctx)
	require.NoError(t, err)

	target := t.TempDir()
	require.NoError(t, r.Checkout(ctx, "invoice", head, target))

	assert.FileExists(t, filepath.Join(target, "main.tex"))
	assert.FileExists(t, filepath.Join(target, "serial-pdf.sty"))
}

func TestCheckoutSingleFile(t *testing.T) {
	root := initRepo(t)
	r := NewResolver(root, nil, nil)
	ctx := context.Background()

	head, err := r.Head(ctx)
	require.NoError(t, err)

	target := t.TempDir()
	require.NoError(t, r.Checkout(ctx, "invoice/main.tex", head, target))

	assert.FileExists(t, filepath.Join(target, "main.tex"))
}

func TestCheckoutKeepsUnrelatedFiles(t *testing.T) {
	root := initRepo(t)
	r := NewResolver(root, nil, nil)
	ctx := context.Background()

	head, err := r.Head(ctx)
	require.NoError(t, err)

	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "keep.txt"), []byte("stay"), 0o644))

	require.NoError(t, r.Checkout(ctx, "invoice", head, target))
	assert.FileExists(t, filepath.Join(target, "keep.txt"))
	assert.FileExists(t, filepath.Join(target, "main.tex"))
}

func TestCheckoutRefusesCollisions(t *testing.T) {
	root := initRepo(t)
	r := NewResolver(root, nil, nil)
	ctx := context.Background()

	head, err := r.Head(ctx)
	require.NoError(t, err)

	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "main.tex"), []byte("mine"), 0o644))

	err = r.Checkout(ctx, "invoice", head, target)
	require.Error(t, err)
	assert.True(t, errors.IsCheckout(err))

	content, readErr := os.ReadFile(filepath.Join(target, "main.tex"))
	require.NoError(t, readErr)
	assert.Equal(t, "mine", string(content))
}

func TestPathResolverInjection(t *testing.T) {
	root := initRepo(t)
	prefixed := func(id string) string { return filepath.Join("invoice", id) }
	r := NewResolver(root, prefixed, nil)

	subpath, _, err := r.Resolve(context.Background(), "main.tex", "")
	require.NoError(t, err)
	assert.Equal(t, "invoice/main.tex", subpath)
}

// Package vcs resolves template identifiers to commit-pinned snapshots of a
// git work tree. Checkouts go through git's own machinery so a job always
// sees the template exactly as committed, regardless of what the live work
// tree looks like by the time a worker runs.
package vcs

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xorwow/serial-pdf/internal/errors"
	"github.com/xorwow/serial-pdf/internal/logging"
)

// PathResolver maps a template ID to a path relative to the template root.
// Injected so deployments can layer their own ID scheme over the tree.
type PathResolver func(templateID string) string

// DefaultPathResolver treats the template ID as a subpath of the root.
func DefaultPathResolver(templateID string) string {
	return templateID
}

// checkoutMu serializes checkouts. git takes an index lock per invocation,
// so parallel checkouts in the same repository fail spuriously.
var checkoutMu sync.Mutex

// Resolver reads template trees out of a git repository.
type Resolver struct {
	root    string
	resolve PathResolver
	log     logging.Logger
}

// Snapshot is an isolated, per-job checkout of a template at a pinned commit.
type Snapshot struct {
	Dir    string
	Commit string
}

// Remove deletes the snapshot tree. Safe to call more than once.
func (s *Snapshot) Remove() error {
	return os.RemoveAll(s.Dir)
}

// NewResolver creates a resolver for the repository rooted at root. A nil
// pathResolver falls back to DefaultPathResolver.
func NewResolver(root string, pathResolver PathResolver, log logging.Logger) *Resolver {
	if pathResolver == nil {
		pathResolver = DefaultPathResolver
	}
	if log == nil {
		log = logging.Nop()
	}

	return &Resolver{
		root:    root,
		resolve: pathResolver,
		log:     log.WithComponent("vcs"),
	}
}

// Root returns the repository root the resolver reads from.
func (r *Resolver) Root() string {
	return r.root
}

// Head returns the short commit hash of the repository's current HEAD.
func (r *Resolver) Head(ctx context.Context) (string, error) {
	stdout, stderr, err := r.runGit(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", errors.NewCheckoutError(errors.ErrCodeCommitUnknown,
			"could not resolve repository HEAD", err).WithOutput(stderr)
	}

	return strings.TrimSpace(stdout), nil
}

// Resolve maps a template ID and an optional commit reference to the
// template's subpath within the root and the pinned commit hash. An empty
// commit (or "HEAD", any case) resolves to the current head. The returned
// commit is recorded on the job so later mutations of the repository cannot
// change what the job renders.
func (r *Resolver) Resolve(ctx context.Context, templateID, commit string) (string, string, error) {
	if commit == "" || strings.EqualFold(commit, "HEAD") {
		head, err := r.Head(ctx)
		if err != nil {
			return "", "", err
		}
		commit = head
	} else if err := r.verifyCommit(ctx, commit); err != nil {
		return "", "", err
	}

	subpath, err := r.subpathFor(templateID)
	if err != nil {
		return "", "", err
	}

	exists, err := r.Exists(ctx, subpath, commit)
	if err != nil {
		return "", "", err
	}
	if !exists {
		return "", "", errors.ErrTemplateNotFound(templateID, commit)
	}

	return subpath, commit, nil
}

// Exists reports whether subpath names a blob or tree at the given commit.
func (r *Resolver) Exists(ctx context.Context, subpath, commit string) (bool, error) {
	_, _, err := r.runGit(ctx, "cat-file", "-e", commit+":"+subpath)
	if err != nil {
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			return false, nil
		}
		return false, errors.NewInternalError(errors.ErrCodeInternal,
			"git cat-file failed to run", err)
	}

	return true, nil
}

// Snapshot materializes the template at the pinned commit into a fresh build
// directory and returns it. The caller owns the snapshot and must Remove it.
func (r *Resolver) Snapshot(ctx context.Context, subpath, commit string) (*Snapshot, error) {
	dir, err := os.MkdirTemp("", "build_*")
	if err != nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternal,
			"could not create snapshot directory", err)
	}

	if err := r.Checkout(ctx, subpath, commit, dir); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	return &Snapshot{Dir: dir, Commit: commit}, nil
}

// Checkout materializes subpath at commit into targetDir. Directory contents
// land directly in targetDir; a single file lands inside it. Pre-existing
// entries in targetDir survive, but a colliding name is an error, never a
// silent merge.
func (r *Resolver) Checkout(ctx context.Context, subpath, commit, targetDir string) error {
	// git recreates the full parent tree below the work-tree root, so the
	// checkout goes through a buffer directory first.
	buffer, err := os.MkdirTemp("", "git_checkout_*")
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeInternal,
			"could not create checkout buffer", err)
	}
	defer os.RemoveAll(buffer)

	checkoutMu.Lock()
	_, stderr, err := r.runGit(ctx, "--work-tree="+buffer, "checkout", commit, "--", subpath)
	checkoutMu.Unlock()
	if err != nil {
		return errors.NewCheckoutError(errors.ErrCodeCheckoutFailed,
			fmt.Sprintf("git checkout failed for %q at %s", subpath, commit), err).
			WithOutput(stderr)
	}

	r.log.Debug(ctx, "checked out template subtree",
		"subpath", subpath, "commit", commit, "target", targetDir)

	// Move the head of the recreated structure into the target:
	// <buffer>/<subpath>/<children> -> <targetDir>/<children>, or the bare
	// file for a single-file subpath.
	head := filepath.Join(buffer, subpath)
	info, err := os.Stat(head)
	if err != nil {
		return errors.NewCheckoutError(errors.ErrCodeCheckoutFailed,
			fmt.Sprintf("checkout produced no tree for %q at %s", subpath, commit), err)
	}

	if !info.IsDir() {
		return moveEntry(head, filepath.Join(targetDir, info.Name()))
	}

	children, err := os.ReadDir(head)
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeInternal, "could not read checkout buffer", err)
	}
	for _, child := range children {
		if err := moveEntry(filepath.Join(head, child.Name()), filepath.Join(targetDir, child.Name())); err != nil {
			return err
		}
	}

	return nil
}

// verifyCommit checks that the reference names a commit known to the
// repository.
func (r *Resolver) verifyCommit(ctx context.Context, commit string) error {
	_, stderr, err := r.runGit(ctx, "cat-file", "-e", commit+"^{commit}")
	if err != nil {
		return errors.NewCheckoutError(errors.ErrCodeCommitUnknown,
			fmt.Sprintf("commit %q is not known to the template repository", commit), err).
			WithOutput(stderr)
	}

	return nil
}

// subpathFor resolves and sanitizes the template ID. IDs that escape the
// repository root are answered as not-found rather than echoed back.
func (r *Resolver) subpathFor(templateID string) (string, error) {
	subpath := path.Clean(r.resolve(templateID))
	if subpath == "" || subpath == "." || path.IsAbs(subpath) ||
		subpath == ".." || strings.HasPrefix(subpath, "../") {
		return "", errors.NewNotFoundError(errors.ErrCodeTemplateNotFound,
			fmt.Sprintf("template id %q does not resolve to a path inside the template root", templateID))
	}

	return subpath, nil
}

func (r *Resolver) runGit(ctx context.Context, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.String(), stderr.String(), err
}

// moveEntry renames src to dest, copying across devices when rename cannot.
// An existing dest is a caller contract violation.
func moveEntry(src, dest string) error {
	if _, err := os.Lstat(dest); err == nil {
		return errors.NewCheckoutError(errors.ErrCodeCheckoutFailed,
			fmt.Sprintf("checkout target already contains %q", filepath.Base(dest)), nil)
	}

	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	if err := copyTree(src, dest); err != nil {
		return errors.NewInternalError(errors.ErrCodeInternal,
			fmt.Sprintf("could not move %q into checkout target", filepath.Base(dest)), err)
	}

	return os.RemoveAll(src)
}

// copyTree copies a file or directory recursively, preserving file modes.
func copyTree(src, dest string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		data, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		return os.WriteFile(dest, data, info.Mode().Perm())
	}

	if err := os.MkdirAll(dest, info.Mode().Perm()); err != nil {
		return err
	}
	children, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := copyTree(filepath.Join(src, child.Name()), filepath.Join(dest, child.Name())); err != nil {
			return err
		}
	}

	return nil
}

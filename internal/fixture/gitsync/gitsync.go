// Package gitsync clones a git-hosted catalog-descriptor repository
// before internal/fixture loads it: a branch clone, falling back to a
// tag clone on failure. The CLI's --git-catalog flag runs it ahead of
// fixture.LoadCatalog; it is never part of the synchronous
// resolve/merge/deploy pass itself, which stays free of I/O.
package gitsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Sync shallow-clones url at ref into dest, trying ref as a branch first
// and falling back to a tag. dest's parent directories are created as
// needed. Sync is a no-op if dest already exists.
func Sync(ctx context.Context, url, ref, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("gitsync: creating %s: %w", filepath.Dir(dest), err)
	}

	cloneOpts := &git.CloneOptions{
		URL:           url,
		Depth:         1,
		SingleBranch:  true,
		ReferenceName: plumbing.NewBranchReferenceName(ref),
	}

	_, err := git.PlainCloneContext(ctx, dest, false, cloneOpts)
	if err != nil {
		cloneOpts.ReferenceName = plumbing.NewTagReferenceName(ref)
		if _, err = git.PlainCloneContext(ctx, dest, false, cloneOpts); err != nil {
			return fmt.Errorf("gitsync: clone %s@%s: %w", url, ref, err)
		}
	}

	return nil
}

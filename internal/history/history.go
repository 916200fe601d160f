// Package history walks the git history of a single file, yielding one
// revision per commit that touched it, oldest first.
package history

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrHistoryUnavailable reports that file history cannot be derived: the
// directory is not a git checkout, or the path was never committed.
var ErrHistoryUnavailable = errors.New("file history unavailable")

// Revision is one recorded change to the tracked file: the commit it was
// recorded in and the file's full content at that commit.
type Revision struct {
	Hash    plumbing.Hash
	When    time.Time
	Content []byte
}

// Walker derives per-file history from an open repository.
type Walker struct {
	repo *git.Repository
}

// Open opens the repository containing dir.
func Open(dir string) (*Walker, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a git checkout", ErrHistoryUnavailable, dir)
	}
	return &Walker{repo: repo}, nil
}

// NewWalker wraps an already-open repository.
func NewWalker(repo *git.Repository) *Walker {
	return &Walker{repo: repo}
}

// Walk returns a forward-only iterator over the revisions of path, oldest
// first. The commit order is buffered up front (git logs newest-first) but
// file content is loaded lazily per step.
//
// A repository with no commits yields an empty iteration; a repository with
// commits where path never appears fails with ErrHistoryUnavailable.
func (w *Walker) Walk(path string) (*Iterator, error) {
	path = filepath.ToSlash(path)

	head, err := w.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// Empty repository: no history yet, which is not an error.
			return &Iterator{path: path}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}

	iter, err := w.repo.Log(&git.LogOptions{From: head.Hash(), FileName: &path})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}
	defer iter.Close()

	var commits []*object.Commit
	if err := iter.ForEach(func(c *object.Commit) error {
		commits = append(commits, c)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}

	if len(commits) == 0 {
		return nil, fmt.Errorf("%w: %s was never committed", ErrHistoryUnavailable, path)
	}

	// Reverse to oldest-first.
	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}

	return &Iterator{path: path, commits: commits}, nil
}

// Iterator yields Revisions oldest first. Produce once, consume once; it is
// re-derived from live history on every invocation, never cached across runs.
type Iterator struct {
	path    string
	commits []*object.Commit
	idx     int
}

// Next returns the next revision, or ok=false when history is exhausted.
// Commits that removed the file are skipped: they carry no content to
// extract a version from.
func (it *Iterator) Next() (*Revision, bool, error) {
	for it.idx < len(it.commits) {
		c := it.commits[it.idx]
		it.idx++

		f, err := c.File(it.path)
		if err != nil {
			if errors.Is(err, object.ErrFileNotFound) {
				continue
			}
			return nil, false, fmt.Errorf("load %s at %s: %w", it.path, c.Hash, err)
		}
		content, err := f.Contents()
		if err != nil {
			return nil, false, fmt.Errorf("read %s at %s: %w", it.path, c.Hash, err)
		}
		return &Revision{
			Hash:    c.Hash,
			When:    c.Author.When,
			Content: []byte(content),
		}, true, nil
	}
	return nil, false, nil
}

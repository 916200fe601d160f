// Package gitrepo is the release-marker side of the version-control
// collaborator: it lists existing tags, creates new ones atomically, commits
// manifest edits, and pushes refs to the remote.
package gitrepo

import (
	"errors"
	"fmt"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/releasemehq/releaseme/pkg/versioning"
)

// ErrDuplicateVersion reports an attempt to create a release marker that
// already exists. Markers are permanent; they are never overwritten.
var ErrDuplicateVersion = errors.New("release marker already exists")

// ErrNotARepository reports that the working tree is not a git checkout.
var ErrNotARepository = errors.New("not a git repository")

// Fallback identity for tags and commits when the repository has no
// user.name configured.
const (
	fallbackName  = "releaseme"
	fallbackEmail = "releaseme@localhost"
)

// Repository wraps an open git repository rooted at a working tree.
type Repository struct {
	repo *git.Repository
	root string
}

// Open opens the repository containing dir.
func Open(dir string) (*Repository, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotARepository, dir)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("%w: %s has no working tree", ErrNotARepository, dir)
	}
	return &Repository{repo: repo, root: wt.Filesystem.Root()}, nil
}

// Underlying exposes the go-git repository for the history walker.
func (r *Repository) Underlying() *git.Repository { return r.repo }

// Root returns the working-tree root directory.
func (r *Repository) Root() string { return r.root }

// Head returns the current HEAD commit hash.
func (r *Repository) Head() (plumbing.Hash, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve HEAD: %w", err)
	}
	return ref.Hash(), nil
}

// Tags returns the names of all existing tags. The set is queried once per
// run and treated as immutable for its duration.
func (r *Repository) Tags() (map[string]struct{}, error) {
	iter, err := r.repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer iter.Close()

	tags := make(map[string]struct{})
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		tags[ref.Name().Short()] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return tags, nil
}

// TagCommit resolves a tag name to the commit it points at, following
// annotated tag objects.
func (r *Repository) TagCommit(name string) (plumbing.Hash, error) {
	ref, err := r.repo.Tag(name)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve tag %s: %w", name, err)
	}
	if tag, err := r.repo.TagObject(ref.Hash()); err == nil {
		commit, err := tag.Commit()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("resolve tag %s: %w", name, err)
		}
		return commit.Hash, nil
	}
	return ref.Hash(), nil
}

// LatestTag returns the name of the most recent tag reachable from HEAD,
// or ok=false when no tag is reachable.
func (r *Repository) LatestTag() (string, bool, error) {
	byCommit := make(map[plumbing.Hash]string)
	iter, err := r.repo.Tags()
	if err != nil {
		return "", false, fmt.Errorf("list tags: %w", err)
	}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		hash, err := r.TagCommit(ref.Name().Short())
		if err != nil {
			return nil // skip unresolvable tags
		}
		name := ref.Name().Short()
		if prev, ok := byCommit[hash]; ok {
			name = preferredTag(prev, name)
		}
		byCommit[hash] = name
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if len(byCommit) == 0 {
		return "", false, nil
	}

	head, err := r.Head()
	if err != nil {
		return "", false, err
	}
	log, err := r.repo.Log(&git.LogOptions{From: head})
	if err != nil {
		return "", false, fmt.Errorf("walk log: %w", err)
	}
	defer log.Close()

	var found string
	err = log.ForEach(func(c *object.Commit) error {
		if name, ok := byCommit[c.Hash]; ok {
			found = name
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return found, found != "", nil
}

// preferredTag picks which of two tags on the same commit counts as the
// latest: the numerically greater one when both are version-shaped,
// otherwise the lexicographically greater name. Tag iteration order is
// unspecified, so the choice must not depend on it.
func preferredTag(a, b string) string {
	switch versioning.Compare(a, b) {
	case versioning.ComparisonGreater:
		return a
	case versioning.ComparisonLess:
		return b
	}
	if a > b {
		return a
	}
	return b
}

// CreateTag creates an annotated tag at the given commit. Tag creation is
// atomic: a name collision is rejected and surfaced as ErrDuplicateVersion.
// The tagger timestamp is the caller's: retro tags carry the anchored
// commit's own date so the marker sits where history says it should.
func (r *Repository) CreateTag(name string, hash plumbing.Hash, message string, when time.Time) error {
	sig := r.signature(when)
	_, err := r.repo.CreateTag(name, hash, &git.CreateTagOptions{
		Tagger:  &sig,
		Message: message,
	})
	if err != nil {
		if errors.Is(err, git.ErrTagExists) {
			return fmt.Errorf("%w: %s", ErrDuplicateVersion, name)
		}
		return fmt.Errorf("create tag %s: %w", name, err)
	}
	return nil
}

// PushTag pushes a single tag to the remote. An up-to-date remote is success.
func (r *Repository) PushTag(remote, name string) error {
	spec := gitconfig.RefSpec(fmt.Sprintf("refs/tags/%s:refs/tags/%s", name, name))
	err := r.repo.Push(&git.PushOptions{
		RemoteName: remote,
		RefSpecs:   []gitconfig.RefSpec{spec},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("push tag %s to %s: %w", name, remote, err)
	}
	return nil
}

// PushBranch pushes the current branch to the remote.
func (r *Repository) PushBranch(remote string) error {
	ref, err := r.repo.Head()
	if err != nil {
		return fmt.Errorf("resolve HEAD: %w", err)
	}
	if !ref.Name().IsBranch() {
		return fmt.Errorf("HEAD is not on a branch, refusing to push")
	}
	spec := gitconfig.RefSpec(fmt.Sprintf("%s:%s", ref.Name(), ref.Name()))
	err = r.repo.Push(&git.PushOptions{
		RemoteName: remote,
		RefSpecs:   []gitconfig.RefSpec{spec},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("push %s to %s: %w", ref.Name().Short(), remote, err)
	}
	return nil
}

// HasStagedChanges reports whether the index differs from HEAD.
func (r *Repository) HasStagedChanges() (bool, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return false, err
	}
	st, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("status: %w", err)
	}
	for _, s := range st {
		if s.Staging != git.Unmodified && s.Staging != git.Untracked {
			return true, nil
		}
	}
	return false, nil
}

// CommitFiles stages the given repo-relative paths and commits them.
func (r *Repository) CommitFiles(paths []string, message string) (plumbing.Hash, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	for _, p := range paths {
		if _, err := wt.Add(p); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("stage %s: %w", p, err)
		}
	}
	sig := r.signature(time.Now())
	hash, err := wt.Commit(message, &git.CommitOptions{Author: &sig})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit: %w", err)
	}
	return hash, nil
}

// LogTitles returns the first line of every commit message in (from, to],
// oldest first. A zero `from` means the whole history up to `to`.
func (r *Repository) LogTitles(from, to plumbing.Hash) ([]string, error) {
	log, err := r.repo.Log(&git.LogOptions{From: to})
	if err != nil {
		return nil, fmt.Errorf("walk log: %w", err)
	}
	defer log.Close()

	var titles []string
	err = log.ForEach(func(c *object.Commit) error {
		if !from.IsZero() && c.Hash == from {
			return storer.ErrStop
		}
		title := strings.SplitN(strings.TrimSpace(c.Message), "\n", 2)[0]
		if title != "" {
			titles = append(titles, title)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Oldest first.
	for i, j := 0, len(titles)-1; i < j; i, j = i+1, j-1 {
		titles[i], titles[j] = titles[j], titles[i]
	}
	return titles, nil
}

// signature builds a tagger/author signature from repository config,
// falling back to a fixed identity when none is set.
func (r *Repository) signature(when time.Time) object.Signature {
	name, email := fallbackName, fallbackEmail
	if cfg, err := r.repo.ConfigScoped(gitconfig.SystemScope); err == nil {
		if cfg.User.Name != "" {
			name = cfg.User.Name
		}
		if cfg.User.Email != "" {
			email = cfg.User.Email
		}
	}
	return object.Signature{Name: name, Email: email, When: when}
}

// Package release drives the two operating modes of releaseme: releasing a
// single requested version at the current snapshot, and retroactively
// reconciling manifest history against existing release tags.
package release

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/releasemehq/releaseme/internal/gitrepo"
	"github.com/releasemehq/releaseme/internal/history"
	"github.com/releasemehq/releaseme/internal/notes"
	"github.com/releasemehq/releaseme/internal/reconcile"
	"github.com/releasemehq/releaseme/pkg/config"
	"github.com/releasemehq/releaseme/pkg/exitcode"
	"github.com/releasemehq/releaseme/pkg/logger"
	"github.com/releasemehq/releaseme/pkg/manifest"
	"github.com/releasemehq/releaseme/pkg/versioning"
)

// ErrNoChanges reports that nothing was committed since the last release,
// so there is nothing to put in a new one.
var ErrNoChanges = errors.New("no changes since the last release")

// ErrVersionNotHigher reports a numeric version that does not advance past
// the latest release.
var ErrVersionNotHigher = errors.New("version is not higher than the latest release")

// ErrAborted reports that the user declined the confirmation prompt. Nothing
// was mutated, but the run did not do what was asked, so it is an error.
var ErrAborted = errors.New("release aborted")

// Driver executes releases against one repository. A Driver is built per
// invocation; nothing is cached across runs.
type Driver struct {
	Repo     *gitrepo.Repository
	Manifest *manifest.Accessor
	Config   *config.Config
	DryRun   bool

	// Confirm, when set, is shown a summary of the pending mutation and can
	// veto it. Nil means proceed without asking.
	Confirm func(summary string) bool
}

// New wires a Driver for the repository at the working tree root.
func New(repo *gitrepo.Repository, cfg *config.Config, dryRun bool) *Driver {
	return &Driver{
		Repo: repo,
		Manifest: &manifest.Accessor{
			Dir:  repo.Root(),
			Path: filepath.Join(repo.Root(), cfg.Manifest),
		},
		Config: cfg,
		DryRun: dryRun,
	}
}

// Result reports what a run released, in order. On a retro failure it holds
// the markers created before the failing one; those are permanent and are
// not rolled back.
type Result struct {
	Released []string
}

// Normal releases one externally supplied version at the current snapshot:
// write the manifest, commit, tag HEAD, push. The tag name and the manifest
// version field are identical by construction.
func (d *Driver) Normal(token string) (*Result, error) {
	current, err := d.Manifest.Read()
	if err != nil {
		return nil, err
	}
	logger.Debug("current manifest version", logger.String("version", current))

	latest, hasLatest, err := d.Repo.LatestTag()
	if err != nil {
		return nil, err
	}

	if d.Config.TagStyle == config.TagStyleAuto {
		precedent := current
		if hasLatest {
			precedent = latest
		}
		token = versioning.InferPrefix(token, precedent)
	}
	if err := versioning.ValidateToken(token); err != nil {
		return nil, err
	}

	if hasLatest {
		switch versioning.Compare(token, latest) {
		case versioning.ComparisonLess, versioning.ComparisonEqual:
			return nil, fmt.Errorf("%w: %s <= %s", ErrVersionNotHigher, token, latest)
		}
	}

	body, err := d.notesSince(latest, hasLatest)
	if err != nil {
		return nil, err
	}
	if body == "" {
		since := "the initial commit"
		if hasLatest {
			since = latest
		}
		return nil, fmt.Errorf("%w (since %s)", ErrNoChanges, since)
	}

	tagMsg, err := notes.Render(d.Config.Notes.TagTemplate, token, body)
	if err != nil {
		return nil, err
	}

	if d.DryRun {
		logger.Info("would release version", logger.String("version", token))
		return &Result{}, nil
	}
	if d.Confirm != nil && !d.Confirm(tagMsg) {
		return nil, ErrAborted
	}

	paths := []string{d.Config.Manifest}
	if err := d.Manifest.Write(token); err != nil {
		return nil, err
	}
	if rv := d.runtimeVariable(); rv != nil {
		updated, err := rv.Rewrite(token)
		if err != nil {
			return nil, err
		}
		if updated {
			rel, err := filepath.Rel(d.Repo.Root(), rv.Path)
			if err == nil {
				paths = append(paths, filepath.ToSlash(rel))
			}
		} else {
			logger.Warn("runtime version variable not updated", logger.String("path", rv.Path))
		}
	}

	commitMsg, err := notes.Render(d.commitTemplate(), token, body)
	if err != nil {
		return nil, err
	}
	head, err := d.Repo.CommitFiles(paths, commitMsg)
	if err != nil {
		return nil, err
	}

	// The manifest write and commit are deliberately not rolled back if tag
	// creation collides: the commit is a valid state, the release just
	// cannot be repeated under this name.
	if err := d.Repo.CreateTag(token, head, tagMsg, time.Now()); err != nil {
		return nil, err
	}

	// An empty remote name means local-only operation: commit and tag,
	// push nothing.
	if d.Config.Remote != "" {
		if err := d.Repo.PushBranch(d.Config.Remote); err != nil {
			return &Result{Released: []string{token}}, err
		}
		if err := d.Repo.PushTag(d.Config.Remote, token); err != nil {
			return &Result{Released: []string{token}}, err
		}
	}

	logger.Info("released version", logger.String("version", token))
	return &Result{Released: []string{token}}, nil
}

// Plan computes the ordered set of versions that appear in manifest history
// but have no release marker. It creates nothing.
func (d *Driver) Plan() (reconcile.Plan, error) {
	walker := history.NewWalker(d.Repo.Underlying())
	iter, err := walker.Walk(filepath.ToSlash(d.Config.Manifest))
	if err != nil {
		return nil, err
	}

	markers, err := d.Repo.Tags()
	if err != nil {
		return nil, err
	}

	extract := func(content []byte) (string, bool) {
		token, err := manifest.ExtractVersion(content)
		return token, err == nil
	}
	return reconcile.Reconcile(&revisionSource{iter: iter}, extract, markers)
}

// Retro creates one release marker per reconciled version, oldest first,
// each anchored at the commit where the version was first declared. The
// first failure aborts the remaining creations; markers already created in
// this run are permanent release points and stay.
func (d *Driver) Retro() (*Result, error) {
	plan, err := d.Plan()
	if err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		logger.Info("history and release markers already agree")
		return &Result{}, nil
	}
	if !d.DryRun && d.Confirm != nil && !d.Confirm(strings.Join(plan.Versions(), "\n")) {
		return nil, ErrAborted
	}

	result := &Result{}
	prev := plumbing.ZeroHash
	for _, decl := range plan {
		titles, err := d.Repo.LogTitles(prev, decl.Hash)
		if err != nil {
			return result, err
		}
		msg, err := notes.Render(d.Config.Notes.TagTemplate, decl.Version, notes.Bullets(titles))
		if err != nil {
			return result, err
		}

		if d.DryRun {
			logger.Info("would tag version retroactively",
				logger.String("version", decl.Version),
				logger.String("commit", decl.Hash.String()))
			prev = decl.Hash
			continue
		}

		if err := d.Repo.CreateTag(decl.Version, decl.Hash, msg, decl.When); err != nil {
			return result, fmt.Errorf("after releasing %d of %d: %w", len(result.Released), len(plan), err)
		}
		if d.Config.Remote != "" {
			if err := d.Repo.PushTag(d.Config.Remote, decl.Version); err != nil {
				return result, fmt.Errorf("after releasing %d of %d: %w", len(result.Released), len(plan), err)
			}
		}
		result.Released = append(result.Released, decl.Version)
		logger.Info("tagged version retroactively",
			logger.String("version", decl.Version),
			logger.String("commit", decl.Hash.String()))
		prev = decl.Hash
	}
	return result, nil
}

// notesSince builds the bulleted commit-title list since the given tag, or
// since the beginning of history when no tag exists.
func (d *Driver) notesSince(latest string, hasLatest bool) (string, error) {
	from := plumbing.ZeroHash
	if hasLatest {
		hash, err := d.Repo.TagCommit(latest)
		if err != nil {
			return "", err
		}
		from = hash
	}
	head, err := d.Repo.Head()
	if err != nil {
		return "", err
	}
	titles, err := d.Repo.LogTitles(from, head)
	if err != nil {
		return "", err
	}
	return notes.Bullets(titles), nil
}

func (d *Driver) commitTemplate() string {
	if d.Config.Notes.CommitTemplate != "" {
		return d.Config.Notes.CommitTemplate
	}
	return notes.DefaultCommitTemplate
}

// runtimeVariable resolves the runtime version file from config or package
// layout. Nil means there is nothing to rewrite, which is not an error.
func (d *Driver) runtimeVariable() *manifest.RuntimeVariable {
	cfg := d.Config.RuntimeVariable
	if cfg.Name == "" {
		cfg.Name = "__version__"
	}
	if cfg.Path != "" {
		return &manifest.RuntimeVariable{
			Dir:  d.Repo.Root(),
			Path: filepath.Join(d.Repo.Root(), cfg.Path),
			Name: cfg.Name,
		}
	}
	dist, err := d.Manifest.Name()
	if err != nil {
		return nil
	}
	dir, ok := manifest.DiscoverPackageDir(d.Repo.Root(), dist)
	if !ok {
		return nil
	}
	return &manifest.RuntimeVariable{
		Dir:  d.Repo.Root(),
		Path: filepath.Join(dir, "__init__.py"),
		Name: cfg.Name,
	}
}

// revisionSource adapts the history iterator to the reconcile engine.
type revisionSource struct {
	iter *history.Iterator
}

func (s *revisionSource) Next() (*reconcile.Revision, bool, error) {
	rev, ok, err := s.iter.Next()
	if err != nil || !ok {
		return nil, ok, err
	}
	return &reconcile.Revision{Hash: rev.Hash, When: rev.When, Content: rev.Content}, true, nil
}

// ExitCode maps a driver error to the CLI exit code taxonomy.
func ExitCode(err error, partial bool) int {
	switch {
	case err == nil:
		return exitcode.Success
	case errors.Is(err, gitrepo.ErrDuplicateVersion):
		if partial {
			return exitcode.PartialFailure
		}
		return exitcode.DuplicateVersion
	case errors.Is(err, manifest.ErrVersionFieldMissing):
		return exitcode.MissingVersion
	case errors.Is(err, history.ErrHistoryUnavailable), errors.Is(err, gitrepo.ErrNotARepository):
		return exitcode.GitError
	case errors.Is(err, ErrVersionNotHigher), errors.Is(err, ErrNoChanges):
		return exitcode.ValidationError
	case errors.Is(err, ErrAborted):
		return exitcode.GeneralError
	case partial:
		return exitcode.PartialFailure
	default:
		return exitcode.GeneralError
	}
}

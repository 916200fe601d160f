package release

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/releasemehq/releaseme/internal/gitrepo"
	"github.com/releasemehq/releaseme/internal/history"
	"github.com/releasemehq/releaseme/pkg/config"
	"github.com/releasemehq/releaseme/pkg/exitcode"
	"github.com/releasemehq/releaseme/pkg/manifest"
)

type fixture struct {
	t     *testing.T
	dir   string
	git   *git.Repository
	repo  *gitrepo.Repository
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	g, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	repo, err := gitrepo.Open(dir)
	require.NoError(t, err)
	return &fixture{
		t:     t,
		dir:   dir,
		git:   g,
		repo:  repo,
		clock: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// commit writes the given files and commits them with a monotonically
// advancing author time.
func (f *fixture) commit(msg string, files map[string]string) plumbing.Hash {
	f.t.Helper()
	wt, err := f.git.Worktree()
	require.NoError(f.t, err)
	for path, content := range files {
		full := filepath.Join(f.dir, path)
		require.NoError(f.t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(f.t, os.WriteFile(full, []byte(content), 0o644))
		_, err := wt.Add(path)
		require.NoError(f.t, err)
	}
	f.clock = f.clock.Add(time.Minute)
	sig := &object.Signature{Name: "dev", Email: "dev@example.com", When: f.clock}
	hash, err := wt.Commit(msg, &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(f.t, err)
	return hash
}

func (f *fixture) tag(name string, hash plumbing.Hash) {
	f.t.Helper()
	_, err := f.git.CreateTag(name, hash, nil)
	require.NoError(f.t, err)
}

func (f *fixture) driver(cfg *config.Config) *Driver {
	if cfg == nil {
		cfg = &config.Config{
			Manifest:        "pyproject.toml",
			TagStyle:        config.TagStyleAuto,
			RuntimeVariable: config.RuntimeVariable{Name: "__version__"},
		}
	}
	return New(f.repo, cfg, false)
}

func (f *fixture) manifestOnDisk() string {
	f.t.Helper()
	data, err := os.ReadFile(filepath.Join(f.dir, "pyproject.toml"))
	require.NoError(f.t, err)
	return string(data)
}

func pyproject(version string) string {
	return "[project]\nname = \"demo\"\nversion = \"" + version + "\"\n"
}

func TestRetroTagsHistoricalVersions(t *testing.T) {
	f := newFixture(t)
	c1 := f.commit("Start project", map[string]string{"pyproject.toml": pyproject("1.0.0")})
	f.commit("Fix parser", map[string]string{"demo.py": "pass\n"})
	c3 := f.commit("Bump to 1.1.0", map[string]string{"pyproject.toml": pyproject("1.1.0")})

	result, err := f.driver(nil).Retro()
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0", "1.1.0"}, result.Released)

	hash, err := f.repo.TagCommit("1.0.0")
	require.NoError(t, err)
	assert.Equal(t, c1, hash)
	hash, err = f.repo.TagCommit("1.1.0")
	require.NoError(t, err)
	assert.Equal(t, c3, hash)
}

func TestRetroAnchorsTaggerAtCommitTime(t *testing.T) {
	f := newFixture(t)
	c1 := f.commit("Start project", map[string]string{"pyproject.toml": pyproject("1.0.0")})

	_, err := f.driver(nil).Retro()
	require.NoError(t, err)

	commit, err := f.git.CommitObject(c1)
	require.NoError(t, err)
	ref, err := f.git.Tag("1.0.0")
	require.NoError(t, err)
	obj, err := f.git.TagObject(ref.Hash())
	require.NoError(t, err)
	assert.Equal(t, commit.Author.When.Unix(), obj.Tagger.When.Unix())
}

func TestRetroCompressesUnchangedRuns(t *testing.T) {
	f := newFixture(t)
	c1 := f.commit("Start project", map[string]string{"pyproject.toml": pyproject("1.0.0")})
	f.commit("Describe package", map[string]string{
		"pyproject.toml": pyproject("1.0.0") + "description = \"demo tool\"\n",
	})
	f.commit("Bump to 1.1.0", map[string]string{"pyproject.toml": pyproject("1.1.0")})

	result, err := f.driver(nil).Retro()
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0", "1.1.0"}, result.Released)

	hash, err := f.repo.TagCommit("1.0.0")
	require.NoError(t, err)
	assert.Equal(t, c1, hash, "run of identical versions anchors at its first commit")
}

func TestRetroSkipsExistingMarkers(t *testing.T) {
	f := newFixture(t)
	c1 := f.commit("Start project", map[string]string{"pyproject.toml": pyproject("1.0.0")})
	f.commit("Bump to 1.1.0", map[string]string{"pyproject.toml": pyproject("1.1.0")})
	f.tag("1.0.0", c1)

	result, err := f.driver(nil).Retro()
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.0"}, result.Released)
}

func TestRetroIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.commit("Start project", map[string]string{"pyproject.toml": pyproject("1.0.0")})
	f.commit("Bump to 1.1.0", map[string]string{"pyproject.toml": pyproject("1.1.0")})

	d := f.driver(nil)
	_, err := d.Retro()
	require.NoError(t, err)

	result, err := d.Retro()
	require.NoError(t, err)
	assert.Empty(t, result.Released)
}

func TestRetroEmptyRepository(t *testing.T) {
	f := newFixture(t)

	result, err := f.driver(nil).Retro()
	require.NoError(t, err)
	assert.Empty(t, result.Released)
}

func TestRetroManifestNeverCommitted(t *testing.T) {
	f := newFixture(t)
	f.commit("Start project", map[string]string{"demo.py": "pass\n"})

	_, err := f.driver(nil).Retro()
	assert.ErrorIs(t, err, history.ErrHistoryUnavailable)
}

func TestRetroNoVersionEverDeclared(t *testing.T) {
	f := newFixture(t)
	f.commit("Start project", map[string]string{
		"pyproject.toml": "[project]\nname = \"demo\"\n",
	})

	result, err := f.driver(nil).Retro()
	require.NoError(t, err)
	assert.Empty(t, result.Released)
}

func TestRetroSkipsUnreadableRevisions(t *testing.T) {
	f := newFixture(t)
	f.commit("Broken manifest", map[string]string{"pyproject.toml": "[project\nname =\n"})
	f.commit("Repair manifest", map[string]string{"pyproject.toml": pyproject("1.0.0")})

	result, err := f.driver(nil).Retro()
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0"}, result.Released)
}

func TestRetroDryRunCreatesNothing(t *testing.T) {
	f := newFixture(t)
	f.commit("Start project", map[string]string{"pyproject.toml": pyproject("1.0.0")})

	d := f.driver(nil)
	d.DryRun = true
	result, err := d.Retro()
	require.NoError(t, err)
	assert.Empty(t, result.Released)

	tags, err := f.repo.Tags()
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestPlanReportsWithoutCreating(t *testing.T) {
	f := newFixture(t)
	c1 := f.commit("Start project", map[string]string{"pyproject.toml": pyproject("1.0.0")})
	f.commit("Bump to 1.1.0", map[string]string{"pyproject.toml": pyproject("1.1.0")})
	f.tag("1.0.0", c1)

	plan, err := f.driver(nil).Plan()
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.0"}, plan.Versions())

	tags, err := f.repo.Tags()
	require.NoError(t, err)
	assert.Len(t, tags, 1)
}

func TestNormalReleaseEndToEnd(t *testing.T) {
	f := newFixture(t)
	c1 := f.commit("Start project", map[string]string{"pyproject.toml": pyproject("1.0.0")})
	f.tag("1.0.0", c1)
	f.commit("Add feature", map[string]string{"demo.py": "pass\n"})

	result, err := f.driver(nil).Normal("1.1.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.0"}, result.Released)

	assert.Contains(t, f.manifestOnDisk(), `version = "1.1.0"`)

	head, err := f.repo.Head()
	require.NoError(t, err)
	hash, err := f.repo.TagCommit("1.1.0")
	require.NoError(t, err)
	assert.Equal(t, head, hash, "marker sits on the release commit")

	commit, err := f.git.CommitObject(head)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(commit.Message, "Release 1.1.0"))
	assert.Contains(t, commit.Message, "- Add feature")
}

func TestNormalInfersPrefixFromLatestTag(t *testing.T) {
	f := newFixture(t)
	c1 := f.commit("Start project", map[string]string{"pyproject.toml": pyproject("v1.0.0")})
	f.tag("v1.0.0", c1)
	f.commit("Add feature", map[string]string{"demo.py": "pass\n"})

	result, err := f.driver(nil).Normal("1.1.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1.1.0"}, result.Released)
	assert.Contains(t, f.manifestOnDisk(), `version = "v1.1.0"`)
}

func TestNormalVerbatimSkipsInference(t *testing.T) {
	f := newFixture(t)
	c1 := f.commit("Start project", map[string]string{"pyproject.toml": pyproject("v1.0.0")})
	f.tag("v1.0.0", c1)
	f.commit("Add feature", map[string]string{"demo.py": "pass\n"})

	cfg := &config.Config{
		Manifest: "pyproject.toml",
		TagStyle: config.TagStyleVerbatim,
	}
	result, err := f.driver(cfg).Normal("1.1.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.0"}, result.Released)
}

func TestNormalDuplicateKeepsManifestWrite(t *testing.T) {
	f := newFixture(t)
	c1 := f.commit("Start project", map[string]string{"pyproject.toml": pyproject("1.0.0")})
	f.tag("1.1.0-beta", c1)
	f.commit("More work", map[string]string{"demo.py": "pass\n"})
	before, err := f.repo.Head()
	require.NoError(t, err)

	cfg := &config.Config{
		Manifest: "pyproject.toml",
		TagStyle: config.TagStyleVerbatim,
	}
	_, err = f.driver(cfg).Normal("1.1.0-beta")
	require.Error(t, err)
	assert.ErrorIs(t, err, gitrepo.ErrDuplicateVersion)

	// The manifest edit and release commit land before marker creation
	// collides; neither is rolled back.
	assert.Contains(t, f.manifestOnDisk(), `version = "1.1.0-beta"`)
	after, err := f.repo.Head()
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestNormalRejectsNonAdvancingVersion(t *testing.T) {
	f := newFixture(t)
	c1 := f.commit("Start project", map[string]string{"pyproject.toml": pyproject("1.1.0")})
	f.tag("1.1.0", c1)
	f.commit("More work", map[string]string{"demo.py": "pass\n"})

	_, err := f.driver(nil).Normal("1.0.0")
	assert.ErrorIs(t, err, ErrVersionNotHigher)
	assert.Contains(t, f.manifestOnDisk(), `version = "1.1.0"`)
}

func TestNormalRejectsEmptyChangeset(t *testing.T) {
	f := newFixture(t)
	c1 := f.commit("Start project", map[string]string{"pyproject.toml": pyproject("1.0.0")})
	f.tag("1.0.0", c1)

	_, err := f.driver(nil).Normal("1.1.0")
	assert.ErrorIs(t, err, ErrNoChanges)
}

func TestNormalMissingVersionField(t *testing.T) {
	f := newFixture(t)
	f.commit("Start project", map[string]string{
		"pyproject.toml": "[project]\nname = \"demo\"\n",
	})

	_, err := f.driver(nil).Normal("1.0.0")
	assert.ErrorIs(t, err, manifest.ErrVersionFieldMissing)
}

func TestNormalDryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.commit("Start project", map[string]string{"pyproject.toml": pyproject("1.0.0")})

	d := f.driver(nil)
	d.DryRun = true
	result, err := d.Normal("1.1.0")
	require.NoError(t, err)
	assert.Empty(t, result.Released)

	assert.Contains(t, f.manifestOnDisk(), `version = "1.0.0"`)
	tags, err := f.repo.Tags()
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestNormalRewritesRuntimeVariable(t *testing.T) {
	f := newFixture(t)
	f.commit("Start project", map[string]string{
		"pyproject.toml":       pyproject("1.0.0"),
		"src/demo/__init__.py": "__version__ = \"1.0.0\"\n",
		"src/demo/cli.py":      "pass\n",
	})
	f.commit("Add feature", map[string]string{"demo.py": "pass\n"})

	cfg := &config.Config{
		Manifest:        "pyproject.toml",
		TagStyle:        config.TagStyleVerbatim,
		RuntimeVariable: config.RuntimeVariable{Path: "src/demo/__init__.py", Name: "__version__"},
	}
	_, err := f.driver(cfg).Normal("1.1.0")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(f.dir, "src", "demo", "__init__.py"))
	require.NoError(t, err)
	assert.Equal(t, "__version__ = \"1.1.0\"\n", string(data))

	// The rewrite rides along in the release commit, leaving nothing staged.
	staged, err := f.repo.HasStagedChanges()
	require.NoError(t, err)
	assert.False(t, staged)
}

func TestNormalDiscoversRuntimeVariable(t *testing.T) {
	f := newFixture(t)
	f.commit("Start project", map[string]string{
		"pyproject.toml":       pyproject("1.0.0"),
		"src/demo/__init__.py": "__version__ = \"1.0.0\"\n",
	})
	f.commit("Add feature", map[string]string{"demo.py": "pass\n"})

	cfg := &config.Config{
		Manifest:        "pyproject.toml",
		TagStyle:        config.TagStyleVerbatim,
		RuntimeVariable: config.RuntimeVariable{Name: "__version__"},
	}
	_, err := f.driver(cfg).Normal("1.1.0")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(f.dir, "src", "demo", "__init__.py"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "1.1.0")
}

func TestConfirmVetoStopsRelease(t *testing.T) {
	f := newFixture(t)
	f.commit("Start project", map[string]string{"pyproject.toml": pyproject("1.0.0")})
	f.commit("Add feature", map[string]string{"demo.py": "pass\n"})

	d := f.driver(nil)
	var shown string
	d.Confirm = func(summary string) bool {
		shown = summary
		return false
	}
	_, err := d.Normal("1.1.0")
	require.ErrorIs(t, err, ErrAborted)
	assert.Contains(t, shown, "1.1.0")

	// A declined run exits with an error but mutates nothing.
	assert.Contains(t, f.manifestOnDisk(), `version = "1.0.0"`)
	tags, err := f.repo.Tags()
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestConfirmVetoStopsRetro(t *testing.T) {
	f := newFixture(t)
	f.commit("Start project", map[string]string{"pyproject.toml": pyproject("1.0.0")})

	d := f.driver(nil)
	d.Confirm = func(string) bool { return false }
	_, err := d.Retro()
	require.ErrorIs(t, err, ErrAborted)

	tags, err := f.repo.Tags()
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestExitCodeMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		partial bool
		want    int
	}{
		{"success", nil, false, exitcode.Success},
		{"duplicate", gitrepo.ErrDuplicateVersion, false, exitcode.DuplicateVersion},
		{"duplicate partial", gitrepo.ErrDuplicateVersion, true, exitcode.PartialFailure},
		{"missing version", manifest.ErrVersionFieldMissing, false, exitcode.MissingVersion},
		{"no history", history.ErrHistoryUnavailable, false, exitcode.GitError},
		{"unclassified", errors.New("boom"), false, exitcode.GeneralError},
		{"not higher", ErrVersionNotHigher, false, exitcode.ValidationError},
		{"no changes", ErrNoChanges, false, exitcode.ValidationError},
		{"not a repo", gitrepo.ErrNotARepository, false, exitcode.GitError},
		{"aborted", ErrAborted, false, exitcode.GeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err, tt.partial))
		})
	}
}

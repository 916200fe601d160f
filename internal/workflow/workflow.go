// Package workflow bootstraps the CI pipeline that builds the package and
// publishes it to PyPI whenever a release tag is pushed.
package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/releasemehq/releaseme/internal/gitrepo"
	"github.com/releasemehq/releaseme/pkg/logger"
	"github.com/releasemehq/releaseme/pkg/safeio"
)

// ErrAlreadyBootstrapped reports an existing workflow file that would be
// overwritten.
var ErrAlreadyBootstrapped = errors.New("workflow file already exists")

// ErrDirtyIndex reports staged changes that would be swept into the
// bootstrap commit.
var ErrDirtyIndex = errors.New("index has staged changes")

// Pipeline is the publish workflow in GitHub Actions form. Struct order is
// the serialization order.
type Pipeline struct {
	Name string         `yaml:"name"`
	On   trigger        `yaml:"on"`
	Jobs map[string]job `yaml:"jobs"`
}

type trigger struct {
	Push pushTrigger `yaml:"push"`
}

type pushTrigger struct {
	Tags []string `yaml:"tags"`
}

type job struct {
	RunsOn      string            `yaml:"runs-on"`
	Environment string            `yaml:"environment,omitempty"`
	Permissions map[string]string `yaml:"permissions,omitempty"`
	Steps       []step            `yaml:"steps"`
}

type step struct {
	Name string            `yaml:"name,omitempty"`
	Uses string            `yaml:"uses,omitempty"`
	With map[string]string `yaml:"with,omitempty"`
	Run  string            `yaml:"run,omitempty"`
}

// Generate renders the publish pipeline. Publishing authenticates through
// PyPI trusted publishing, so the job carries the id-token permission and no
// secrets.
func Generate() ([]byte, error) {
	p := Pipeline{
		Name: "Publish to PyPI",
		On:   trigger{Push: pushTrigger{Tags: []string{"*"}}},
		Jobs: map[string]job{
			"publish": {
				RunsOn:      "ubuntu-latest",
				Environment: "pypi",
				Permissions: map[string]string{"id-token": "write"},
				Steps: []step{
					{Uses: "actions/checkout@v4"},
					{
						Uses: "actions/setup-python@v5",
						With: map[string]string{"python-version": "3.x"},
					},
					{
						Name: "Build distribution",
						Run:  "python -m pip install build && python -m build",
					},
					{
						Name: "Publish",
						Uses: "pypa/gh-action-pypi-publish@release/v1",
					},
				},
			},
		},
	}

	data, err := yaml.Marshal(&p)
	if err != nil {
		return nil, fmt.Errorf("render workflow: %w", err)
	}
	return data, nil
}

// Bootstrap writes the publish workflow at relPath and commits it on its
// own. The index must be clean so the commit carries nothing else.
func Bootstrap(repo *gitrepo.Repository, relPath string, force, dryRun bool) (string, error) {
	rel, err := safeio.CleanUserPath(relPath)
	if err != nil {
		return "", err
	}
	full := filepath.Join(repo.Root(), rel)

	if _, err := os.Stat(full); err == nil && !force {
		return "", fmt.Errorf("%w: %s", ErrAlreadyBootstrapped, rel)
	}

	staged, err := repo.HasStagedChanges()
	if err != nil {
		return "", err
	}
	if staged {
		return "", ErrDirtyIndex
	}

	data, err := Generate()
	if err != nil {
		return "", err
	}

	if dryRun {
		logger.Info("would write publish workflow", logger.String("path", rel))
		return full, nil
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create workflow directory: %w", err)
	}
	if err := safeio.WriteFilePreservePerms(full, data); err != nil {
		return "", fmt.Errorf("write workflow: %w", err)
	}
	if _, err := repo.CommitFiles([]string{rel}, "Add PyPI publish workflow"); err != nil {
		return "", err
	}

	logger.Info("publish workflow ready", logger.String("path", rel))
	return full, nil
}

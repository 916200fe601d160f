// Package config loads releaseme settings from .releaseme.yaml and the
// RELEASEME_* environment, validated against an embedded JSON schema.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all configuration for releaseme. An empty remote means
// local-only operation: commits and tags are created but never pushed.
type Config struct {
	Manifest        string          `mapstructure:"manifest"`
	Remote          string          `mapstructure:"remote"`
	TagStyle        string          `mapstructure:"tag_style"`
	RuntimeVariable RuntimeVariable `mapstructure:"runtime_variable"`
	Notes           NotesConfig     `mapstructure:"notes"`
	Workflow        WorkflowConfig  `mapstructure:"workflow"`
}

// RuntimeVariable configures the runtime version assignment rewrite.
// An empty path means the file is discovered from the package layout.
type RuntimeVariable struct {
	Path string `mapstructure:"path"`
	Name string `mapstructure:"name"`
}

// NotesConfig holds release-note templates.
type NotesConfig struct {
	TagTemplate    string `mapstructure:"tag_template"`
	CommitTemplate string `mapstructure:"commit_template"`
}

// WorkflowConfig locates the CI publish workflow.
type WorkflowConfig struct {
	Path string `mapstructure:"path"`
}

// Tag style values. Auto aligns a numeric version's 'v' prefix with the
// latest release; verbatim uses the token exactly as given.
const (
	TagStyleAuto     = "auto"
	TagStyleVerbatim = "verbatim"
)

const configName = ".releaseme"

var defaultConfig = Config{
	Manifest: "pyproject.toml",
	Remote:   "origin",
	TagStyle: TagStyleAuto,
	RuntimeVariable: RuntimeVariable{
		Path: "",
		Name: "__version__",
	},
	Workflow: WorkflowConfig{
		Path: filepath.Join(".github", "workflows", "publish-to-pypi.yml"),
	},
}

// Load reads configuration for the repository rooted at root. A missing
// config file yields the defaults; a present but invalid one is an error.
func Load(root string) (*Config, error) {
	v := viper.New()

	v.SetDefault("manifest", defaultConfig.Manifest)
	v.SetDefault("remote", defaultConfig.Remote)
	v.SetDefault("tag_style", defaultConfig.TagStyle)
	v.SetDefault("runtime_variable.path", defaultConfig.RuntimeVariable.Path)
	v.SetDefault("runtime_variable.name", defaultConfig.RuntimeVariable.Name)
	v.SetDefault("notes.tag_template", "")
	v.SetDefault("notes.commit_template", "")
	v.SetDefault("workflow.path", defaultConfig.Workflow.Path)

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(root)
	v.SetEnvPrefix("RELEASEME")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		data, err := os.ReadFile(v.ConfigFileUsed())
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := ValidateConfig(data); err != nil {
			return nil, fmt.Errorf("%s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.TagStyle != TagStyleAuto && cfg.TagStyle != TagStyleVerbatim {
		return nil, fmt.Errorf("invalid tag_style %q (must be %s or %s)", cfg.TagStyle, TagStyleAuto, TagStyleVerbatim)
	}
	return &cfg, nil
}

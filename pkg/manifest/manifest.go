// Package manifest reads and rewrites the version field of a Python package
// manifest (pyproject.toml).
//
// Extraction is deliberately tolerant: historical revisions of a manifest
// drift in quoting style and surrounding whitespace, and very old revisions
// may not parse as TOML at all. Rewrites are the opposite: only the version
// value changes, every other byte is preserved.
package manifest

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/releasemehq/releaseme/pkg/safeio"
)

// ErrVersionFieldMissing reports that a manifest has no static version
// declaration. During a history scan this is normal flow; when reading the
// current snapshot for a release it is fatal.
var ErrVersionFieldMissing = errors.New("manifest has no version field")

// ErrNameFieldMissing reports that the manifest declares no project name.
var ErrNameFieldMissing = errors.New("manifest has no project name")

type pyproject struct {
	Project struct {
		Name    string   `toml:"name"`
		Version string   `toml:"version"`
		Dynamic []string `toml:"dynamic"`
	} `toml:"project"`
}

// versionLine matches a `version = "..."` assignment on its own line,
// capturing the pieces around the value so a rewrite can splice the new
// token in without touching anything else.
var versionLine = regexp.MustCompile(`(?m)^([ \t]*version[ \t]*=[ \t]*)(["'])([^"'\n]*)(["'])`)

// projectHeader and tableHeader delimit the [project] table, so rewrites
// never touch a version key belonging to some other table.
var (
	projectHeader = regexp.MustCompile(`(?m)^\[project\][ \t]*(?:#.*)?$`)
	tableHeader   = regexp.MustCompile(`(?m)^\[`)
)

// projectSection returns the byte span of the [project] table body: from the
// end of its header line to the next table header or end of input.
func projectSection(data []byte) (start, end int, ok bool) {
	h := projectHeader.FindIndex(data)
	if h == nil {
		return 0, 0, false
	}
	start = h[1]
	end = len(data)
	if next := tableHeader.FindIndex(data[start:]); next != nil {
		end = start + next[0]
	}
	return start, end, true
}

// ExtractVersion returns the version token declared in manifest text.
//
// Well-formed manifests are parsed as TOML. Revisions that fail to parse
// fall back to a line scan for the version key, so a syntax error elsewhere
// in an old snapshot does not hide a perfectly readable declaration.
// A version listed under project.dynamic counts as not declared.
func ExtractVersion(text []byte) (string, error) {
	var doc pyproject
	if err := toml.Unmarshal(text, &doc); err == nil {
		if doc.Project.Version != "" {
			return doc.Project.Version, nil
		}
		for _, d := range doc.Project.Dynamic {
			if d == "version" {
				return "", ErrVersionFieldMissing
			}
		}
		return "", ErrVersionFieldMissing
	}

	if m := versionLine.FindSubmatch(text); m != nil {
		value := strings.TrimSpace(string(m[3]))
		if value != "" {
			return value, nil
		}
	}
	return "", ErrVersionFieldMissing
}

// Accessor reads and writes the manifest at the current working snapshot.
// It has no history awareness.
type Accessor struct {
	// Dir is the repository root; Path must resolve inside it.
	Dir  string
	Path string
}

// Read returns the version declared in the manifest on disk.
func (a *Accessor) Read() (string, error) {
	data, err := safeio.ReadFileContained(a.Dir, a.Path)
	if err != nil {
		return "", fmt.Errorf("read manifest %s: %w", a.Path, err)
	}
	version, err := ExtractVersion(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", a.Path, err)
	}
	return version, nil
}

// Name returns the distribution name declared in the manifest.
func (a *Accessor) Name() (string, error) {
	data, err := safeio.ReadFileContained(a.Dir, a.Path)
	if err != nil {
		return "", fmt.Errorf("read manifest %s: %w", a.Path, err)
	}
	var doc pyproject
	if err := toml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parse manifest %s: %w", a.Path, err)
	}
	if doc.Project.Name == "" {
		return "", fmt.Errorf("%s: %w", a.Path, ErrNameFieldMissing)
	}
	return doc.Project.Name, nil
}

// Write replaces the version value in place. All other manifest content is
// preserved byte-for-byte, and writing the same token twice is a no-op.
func (a *Accessor) Write(token string) error {
	data, err := safeio.ReadFileContained(a.Dir, a.Path)
	if err != nil {
		return fmt.Errorf("read manifest %s: %w", a.Path, err)
	}

	// Other tables may carry their own version keys (tool.commitizen,
	// tool.poetry); only the [project] one is the release version.
	start, end, ok := projectSection(data)
	if !ok {
		return fmt.Errorf("%s: %w", a.Path, ErrVersionFieldMissing)
	}
	loc := versionLine.FindSubmatchIndex(data[start:end])
	if loc == nil {
		return fmt.Errorf("%s: %w", a.Path, ErrVersionFieldMissing)
	}

	// Splice the token between the opening and closing quote of the version
	// assignment; the quotes themselves are kept as found.
	// loc[6]:loc[7] is the span of the captured value within the section.
	var out []byte
	out = append(out, data[:start+loc[6]]...)
	out = append(out, token...)
	out = append(out, data[start+loc[7]:]...)

	if err := safeio.WriteFilePreservePerms(a.Path, out); err != nil {
		return fmt.Errorf("write manifest %s: %w", a.Path, err)
	}
	return nil
}

package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/releasemehq/releaseme/pkg/safeio"
)

// RuntimeVariable rewrites the version assignment that a package exposes at
// runtime, typically `__version__ = "..."` in the package __init__.py.
type RuntimeVariable struct {
	Dir  string // repository root
	Path string // file holding the assignment
	Name string // variable name, usually __version__
}

// Rewrite updates the variable's value to token. Returns false without error
// when the file does not exist; a package without a runtime version variable
// is not a release blocker.
func (rv *RuntimeVariable) Rewrite(token string) (bool, error) {
	if _, err := os.Stat(rv.Path); err != nil {
		return false, nil
	}
	data, err := safeio.ReadFileContained(rv.Dir, rv.Path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", rv.Path, err)
	}

	pattern, err := regexp.Compile(regexp.QuoteMeta(rv.Name) + `([ \t]*=[ \t]*)(["'])[0-9A-Za-z.\-+]*(["'])`)
	if err != nil {
		return false, fmt.Errorf("variable name %q: %w", rv.Name, err)
	}
	loc := pattern.FindSubmatchIndex(data)
	if loc == nil {
		return false, nil
	}

	// Value sits between group 2 (opening quote) and group 3 (closing quote).
	var out []byte
	out = append(out, data[:loc[5]]...)
	out = append(out, token...)
	out = append(out, data[loc[6]:]...)

	if err := safeio.WriteFilePreservePerms(rv.Path, out); err != nil {
		return false, fmt.Errorf("write %s: %w", rv.Path, err)
	}
	return true, nil
}

// DiscoverPackageDir locates the import-package directory for a distribution
// so the runtime variable file can be found without configuration. It looks
// for __init__.py under src/ first, then at the repository root, preferring
// a directory named after the distribution and otherwise accepting a single
// unambiguous candidate.
func DiscoverPackageDir(root, distribution string) (string, bool) {
	fsys := os.DirFS(root)
	for _, pattern := range []string{"src/*/__init__.py", "*/__init__.py"} {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			continue
		}
		var candidates []string
		for _, m := range matches {
			dir := filepath.Dir(m)
			base := filepath.Base(dir)
			if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "_") || strings.HasSuffix(base, ".egg-info") {
				continue
			}
			candidates = append(candidates, dir)
		}
		for _, c := range candidates {
			if filepath.Base(c) == distribution {
				return filepath.Join(root, c), true
			}
		}
		if len(candidates) == 1 {
			return filepath.Join(root, candidates[0]), true
		}
	}
	return "", false
}

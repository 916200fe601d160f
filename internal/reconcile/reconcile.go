// Package reconcile computes which versions declared in manifest history
// still need a release marker.
//
// The engine is two separate passes over pure data:
//
//  1. Compress scans revisions oldest-first and records a declaration event
//     each time the extracted version differs from the immediately preceding
//     one. Re-commits of the same version collapse into the first; a version
//     that reappears after an intervening different value is a new event.
//  2. Filter removes events whose version already has a marker, regardless
//     of where in the sequence they sit.
//
// Keeping the passes separate is what makes non-adjacent reappearance work:
// adjacency dedup is about declaration events, while the marker set is the
// true uniqueness key for releases.
//
// The engine performs no I/O. Revisions come from a source the caller
// provides and marker sets are queried once before filtering.
package reconcile

import (
	"time"

	"github.com/go-git/go-git/v5/plumbing"
)

// Revision is the engine's view of one historical manifest snapshot.
type Revision struct {
	Hash    plumbing.Hash
	When    time.Time
	Content []byte
}

// Source yields revisions oldest first. ok=false ends the scan.
type Source interface {
	Next() (*Revision, bool, error)
}

// ExtractFunc extracts the declared version token from manifest content.
// ok=false means no version is declared at that revision; the scan skips it.
type ExtractFunc func(content []byte) (token string, ok bool)

// Declaration is one version-declaration event: the token and the commit
// where it was first declared.
type Declaration struct {
	Version string
	Hash    plumbing.Hash
	When    time.Time
}

// Plan is an ordered list of declarations, oldest first.
type Plan []Declaration

// Versions returns just the tokens, in plan order.
func (p Plan) Versions() []string {
	out := make([]string, len(p))
	for i, d := range p {
		out[i] = d.Version
	}
	return out
}

// Compress consumes the source oldest-first and produces the working list of
// declaration events. Revisions without a version are skipped; runs of the
// same consecutive version collapse to their first revision.
func Compress(src Source, extract ExtractFunc) (Plan, error) {
	var plan Plan
	var cursor string
	var seen bool

	for {
		rev, ok, err := src.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		token, declared := extract(rev.Content)
		if !declared {
			continue
		}
		if seen && token == cursor {
			continue
		}
		plan = append(plan, Declaration{Version: token, Hash: rev.Hash, When: rev.When})
		cursor = token
		seen = true
	}
	return plan, nil
}

// Filter removes declarations whose version already has a release marker.
// Position does not matter: a version released out of order is excluded
// wherever it appears. A version that reappears in the working list keeps
// only its first occurrence, since one marker can exist per version. Order
// of the remainder is preserved.
func Filter(plan Plan, markers map[string]struct{}) Plan {
	var out Plan
	kept := make(map[string]struct{})
	for _, d := range plan {
		if _, released := markers[d.Version]; released {
			continue
		}
		if _, dup := kept[d.Version]; dup {
			continue
		}
		kept[d.Version] = struct{}{}
		out = append(out, d)
	}
	return out
}

// Reconcile runs Compress then Filter.
func Reconcile(src Source, extract ExtractFunc, markers map[string]struct{}) (Plan, error) {
	plan, err := Compress(src, extract)
	if err != nil {
		return nil, err
	}
	return Filter(plan, markers), nil
}

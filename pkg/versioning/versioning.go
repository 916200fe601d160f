// Package versioning implements the version-token rules used by releaseme.
//
// Tokens are opaque strings: equality is exact string comparison, and no
// ordering is assumed unless both sides look like dotted numeric versions.
// The only hard requirement is that a token must be a legal git tag name,
// since every released token becomes a tag.
package versioning

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
)

// Comparison is the outcome of comparing two numeric tokens.
type Comparison int

const (
	ComparisonUnknown Comparison = iota
	ComparisonLess
	ComparisonEqual
	ComparisonGreater
)

var numericPattern = regexp.MustCompile(`^v?[0-9.]+$`)

// ValidateToken checks that a token is usable as a git tag name: non-empty,
// no whitespace, and valid under git's reference-name rules.
func ValidateToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("version token cannot be empty")
	}
	if strings.ContainsAny(token, " \t\n") {
		return fmt.Errorf("version token %q contains whitespace", token)
	}
	ref := plumbing.NewTagReferenceName(token)
	if err := ref.Validate(); err != nil {
		return fmt.Errorf("version token %q is not a legal tag name: %w", token, err)
	}
	return nil
}

// IsNumeric reports whether a token is a dotted numeric version, with or
// without a leading 'v'. Tokens with empty segments ("1..2") do not qualify.
func IsNumeric(token string) bool {
	if !numericPattern.MatchString(token) {
		return false
	}
	if strings.Contains(token, "..") {
		return false
	}
	trimmed := strings.TrimPrefix(token, "v")
	return trimmed != "" && !strings.HasPrefix(trimmed, ".") && !strings.HasSuffix(trimmed, ".")
}

// Compare orders two numeric tokens by their dotted integer segments.
// A missing segment counts as zero, so "1.2" equals "1.2.0".
// Returns ComparisonUnknown when either side is not numeric.
func Compare(a, b string) Comparison {
	if !IsNumeric(a) || !IsNumeric(b) {
		return ComparisonUnknown
	}
	as := segments(a)
	bs := segments(b)
	for len(as) < len(bs) {
		as = append(as, 0)
	}
	for len(bs) < len(as) {
		bs = append(bs, 0)
	}
	for i := range as {
		if as[i] < bs[i] {
			return ComparisonLess
		}
		if as[i] > bs[i] {
			return ComparisonGreater
		}
	}
	return ComparisonEqual
}

func segments(token string) []int {
	parts := strings.Split(strings.TrimPrefix(token, "v"), ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, _ := strconv.Atoi(p)
		out = append(out, n)
	}
	return out
}

// InferPrefix aligns a new numeric token's 'v' prefix with an existing
// release token. With no precedent, numeric tokens get a 'v' prefix.
// Non-numeric tokens are returned unchanged.
func InferPrefix(token, precedent string) string {
	if !IsNumeric(token) {
		return token
	}
	if precedent == "" {
		if !strings.HasPrefix(token, "v") {
			return "v" + token
		}
		return token
	}
	if !IsNumeric(precedent) {
		return token
	}
	if strings.HasPrefix(precedent, "v") && !strings.HasPrefix(token, "v") {
		return "v" + token
	}
	return token
}

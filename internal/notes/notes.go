// Package notes builds release notes from commit history and renders the
// messages attached to release tags and commits.
package notes

import (
	"fmt"
	"strings"

	"github.com/aymerick/raymond"
)

// DefaultTagTemplate is the message attached to release tags. Triple-stash
// placeholders keep the output as written; versions and notes are plain
// text, not HTML.
const DefaultTagTemplate = "Release {{{version}}}\n\n{{{notes}}}"

// DefaultCommitTemplate is the message used for the release commit.
const DefaultCommitTemplate = "Release {{{version}}}\n\n{{{notes}}}"

// Bullets formats commit titles as a bulleted list, one line per title.
func Bullets(titles []string) string {
	var b strings.Builder
	for _, title := range titles {
		if title == "" {
			continue
		}
		b.WriteString("- ")
		b.WriteString(title)
		b.WriteString("\n")
	}
	return b.String()
}

// Render fills a message template with the version and notes. An empty
// template falls back to DefaultTagTemplate.
func Render(template, version, body string) (string, error) {
	if template == "" {
		template = DefaultTagTemplate
	}
	out, err := raymond.Render(template, map[string]string{
		"version": version,
		"notes":   strings.TrimRight(body, "\n"),
	})
	if err != nil {
		return "", fmt.Errorf("render release message: %w", err)
	}
	return out, nil
}

// Quote indents text the way the CLI prints generated notes for review.
func Quote(s string) string {
	lines := append([]string{""}, strings.Split(strings.TrimSpace(s), "\n")...)
	lines = append(lines, "")
	for i, line := range lines {
		lines[i] = "   | " + line
	}
	return strings.Join(lines, "\n")
}

// Package buildinfo holds version metadata stamped at link time:
//
//	-X 'github.com/youpin-city/mafueng-bot/core/buildinfo.Version=v1.2.3'
//	-X 'github.com/youpin-city/mafueng-bot/core/buildinfo.Commit=abcdef0'
//	-X 'github.com/youpin-city/mafueng-bot/core/buildinfo.Date=2026-03-01T12:00:00Z'
package buildinfo

import "strings"

var (
	// Version reports the semantic version or tag of the build.
	Version = "dev"
	// Commit reports the source control commit used for the build.
	Commit = "local"
	// Date reports the build timestamp in RFC3339 format.
	Date = ""
)

// String renders the build for version output, omitting unset parts.
func String() string {
	parts := []string{strings.TrimSpace(Version)}
	if c := strings.TrimSpace(Commit); c != "" && c != "local" {
		parts = append(parts, "commit "+c)
	}
	if d := strings.TrimSpace(Date); d != "" {
		parts = append(parts, "built "+d)
	}
	return strings.Join(parts, ", ")
}

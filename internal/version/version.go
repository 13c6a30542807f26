// Package version reports the baton build version.
package version

import (
	_ "embed"
	"fmt"
	"runtime"
	"strings"
)

//go:embed VERSION
var versionContent string

// Commit is set at build time with -ldflags "-X .../version.Commit=<sha>".
var Commit = ""

// Get returns the current version, with whitespace trimmed
func Get() string {
	return strings.TrimSpace(versionContent)
}

// String returns the version line printed by the CLI.
func String() string {
	s := "baton version " + Get()
	if Commit != "" {
		s += fmt.Sprintf(" (%s)", Commit)
	}
	return s + " " + runtime.Version()
}

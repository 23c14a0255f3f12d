// Package version carries build-time version metadata for the dialogue
// orchestrator binary.
package version

import "fmt"

// Version is the orchestrator's released version. Overridable at build
// time:
//
//	go build -ldflags "-X github.com/hrygo/dialogued/internal/version.Version=v0.3.0"
var Version = "0.0.0-dev"

// GitCommit is the git commit hash at build time.
var GitCommit = "unknown"

// BuildTime is the build timestamp in RFC3339 format.
var BuildTime = "unknown"

// GetCurrentVersion returns Version with a "-dev" suffix in dev/demo mode,
// else Version.
func GetCurrentVersion(mode string) string {
	if mode == "dev" || mode == "demo" {
		return Version + "-dev"
	}
	return Version
}

// String renders the version with a short commit suffix when known.
func String() string {
	if GitCommit == "" || GitCommit == "unknown" {
		return Version
	}
	commit := GitCommit
	if len(commit) > 8 {
		commit = commit[:8]
	}
	return fmt.Sprintf("%s-%s", Version, commit)
}

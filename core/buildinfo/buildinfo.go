// Package buildinfo carries version metadata stamped at link time:
//
//	go build -ldflags "-X 'github.com/m3rciful/curatorbot/core/buildinfo.Version=v0.3.0' \
//	  -X 'github.com/m3rciful/curatorbot/core/buildinfo.Commit=abcdef0' \
//	  -X 'github.com/m3rciful/curatorbot/core/buildinfo.Date=2026-05-01T12:00:00Z'" ./cmd/curatorbot
package buildinfo

import "fmt"

var (
	// Version reports the semantic version or tag of the build.
	Version = "dev"
	// Commit reports the source control commit used for the build.
	Commit = "local"
	// Date reports the build timestamp in RFC3339 format.
	Date = ""
)

// String renders the build metadata on one line for --version.
func String() string {
	if Date == "" {
		return fmt.Sprintf("curatorbot %s (%s)", Version, Commit)
	}
	return fmt.Sprintf("curatorbot %s (%s, built %s)", Version, Commit, Date)
}

// Package version holds build-time version information injected via ldflags.
//
// To inject values at build time:
//
//	go build -ldflags "-X github.com/hearthware/auricle/internal/version.Version=v1.0.0 \
//	  -X github.com/hearthware/auricle/internal/version.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/hearthware/auricle/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
)

// These variables are set at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String returns a formatted version string.
func String() string {
	return fmt.Sprintf("auricle %s (%s) built %s %s/%s",
		Version, Commit, Date, runtime.GOOS, runtime.GOARCH)
}

// Spoken returns the version the way the update announcement says it,
// without commit hash or platform noise.
func Spoken() string {
	return Version
}

// Package version exposes build metadata injected at link time.
package version

// Populated via -ldflags "-X github.com/quayside/stevedore/common/version.Version=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

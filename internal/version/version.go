// Package version holds build-time version metadata for the qaserve binary.
// The variables are injected at build time via -ldflags, e.g.
//
//	go build -ldflags "-X .../internal/version.Version=v1.2.0"
package version

// Version is the semantic version of the build ("dev" for local builds).
var Version = "dev"

// Commit is the git commit hash the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC timestamp of the build.
var BuildDate = "unknown"

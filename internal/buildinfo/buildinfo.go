// Package buildinfo provides version and build information for bulkdns.
// It exposes variables that are set at link-time to identify the version
// and commit hash of the build.
package buildinfo

// Version is set at link-time with -ldflags.
var Version = "v0.3.0"

// Commit is set at link-time with -ldflags.
// Default is "unknown" so tests and "go run ." still work.
var Commit = "unknown"

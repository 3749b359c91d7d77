package buildinfo

import "fmt"

// These are intended to be set via -ldflags at build time.
// Example:
// go build -ldflags "-X github.com/vykuang/mh-flight-logs/pkg/buildinfo.Version=v0.3.0 -X github.com/vykuang/mh-flight-logs/pkg/buildinfo.Commit=$(git rev-parse --short HEAD) -X github.com/vykuang/mh-flight-logs/pkg/buildinfo.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"date":    Date,
	}
}

// String formats the build metadata for `version` output and the MCP server handshake.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}

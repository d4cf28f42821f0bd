// Package version holds build information injected at link time:
//
//	go build -ldflags "-X agentcore/pkg/version.Version=v1.2.3 -X agentcore/pkg/version.Commit=$(git rev-parse HEAD)"
package version

import "fmt"

//nolint:gochecknoglobals // ldflags injection
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the build information for --version output.
func String() string {
	return fmt.Sprintf("agentcore %s\n  commit: %s\n  built:  %s", Version, Commit, Date)
}

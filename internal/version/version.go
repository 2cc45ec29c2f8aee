// Package version carries build metadata stamped in with -ldflags.
package version

import "fmt"

var (
	// Version is the release the binary was built from.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is when the binary was built.
	BuildTime = "unknown"
)

// String formats the build metadata for -version output and startup logs.
func String() string {
	return fmt.Sprintf("canbridge %s (%s, built %s)", Version, GitSHA, BuildTime)
}

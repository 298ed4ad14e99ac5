package build

import "runtime"

// Set with -ldflags "-X github.com/G-Research/testcluster/internal/testcluster/build.ReleaseVersion=..." at build time.
var (
	ReleaseVersion = "UNKNOWN"
	GitCommit      = "UNKNOWN"
	BuildTime      = "UNKNOWN"
	GoVersion      = runtime.Version()
)

// Package version holds build metadata stamped in with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the release, set at build time.
	Version = "dev"
	// BuildTime is when the binary was built.
	BuildTime = "unknown"
	// Commit is the git commit SHA the binary was built from.
	Commit = "unknown"
)

func shortCommit() string {
	if len(Commit) > 8 {
		return Commit[:8]
	}
	return Commit
}

// Info returns a one-line description for `lambdeploy version`.
func Info() string {
	return fmt.Sprintf("lambdeploy %s (%s) - %s %s/%s %s",
		Version, shortCommit(), BuildTime, runtime.GOOS, runtime.GOARCH, runtime.Version())
}

// AppID identifies the tool in AWS request user agents.
func AppID() string {
	return "lambdeploy-" + Version
}

// Map returns version information as a map.
func Map() map[string]string {
	return map[string]string{
		"version":   Version,
		"commit":    Commit,
		"buildTime": BuildTime,
		"goVersion": runtime.Version(),
		"os":        runtime.GOOS,
		"arch":      runtime.GOARCH,
	}
}

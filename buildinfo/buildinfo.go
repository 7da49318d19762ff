// Package buildinfo reports how the running binary was built. BuildTime
// and GitCommit are set with -ldflags "-X".
package buildinfo

import "runtime"

// Properties describes the running build.
type Properties struct {
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
}

var (
	buildTime = "unknown"
	gitCommit = "unknown"
)

// Get returns the properties of the running build.
func Get() Properties {
	return Properties{
		BuildTime: buildTime,
		GitCommit: gitCommit,
		GoVersion: runtime.Version(),
	}
}

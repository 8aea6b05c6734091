// Package version exposes the build identity stamped into the binary.
package version

import "runtime"

// Overridden at build time via -ldflags "-X". The zero-value build
// identifies itself as a dev binary.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the shape served on /version and labelled on the build_info
// metric.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

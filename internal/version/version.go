// Package version reports build metadata. Release builds inject it with
// -ldflags; otherwise the module version and VCS stamp recorded by the Go
// toolchain are used.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

const unset = "unknown"

var (
	// Version is the application version, set via ldflags during build.
	Version = "dev"
	// GitCommit is the git commit hash, set via ldflags during build.
	GitCommit = unset
	// BuildDate is the build timestamp, set via ldflags during build.
	BuildDate = unset
)

// Info contains version and build metadata.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns version and build information.
func Get() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fillFromBuildInfo(&info, bi)
	}
	return info
}

// String returns the version with the commit, e.g. "1.2.0 (abc1234)".
func String() string {
	info := Get()
	return fmt.Sprintf("%s (%s)", info.Version, info.GitCommit)
}

// fillFromBuildInfo fills fields that ldflags left at their defaults.
func fillFromBuildInfo(info *Info, bi *debug.BuildInfo) {
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}

	var revision, modified string
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value
		case "vcs.time":
			if info.BuildDate == unset {
				info.BuildDate = s.Value
			}
		}
	}

	if info.GitCommit == unset && revision != "" {
		if len(revision) > 7 {
			revision = revision[:7]
		}
		if modified == "true" {
			revision += "-dirty"
		}
		info.GitCommit = revision
	}
}

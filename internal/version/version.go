// Package version reports what build of serial-pdf is running.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at build time via -ldflags, for example:
//
//	-X github.com/xorwow/serial-pdf/internal/version.Version=v1.2.0
var (
	Version   = "dev"
	GitCommit = ""
	BuildTime = ""
)

// Info is the build identity of the binary.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get assembles the build info. When ldflags were not set, the commit and
// build time come from the Go module build metadata, so plain go install
// builds still identify themselves.
func Get() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, setting := range bi.Settings {
		switch setting.Key {
		case "vcs.revision":
			if info.GitCommit == "" {
				info.GitCommit = setting.Value
			}
		case "vcs.time":
			if info.BuildTime == "" {
				info.BuildTime = setting.Value
			}
		}
	}

	return info
}

// Short returns the version plus an abbreviated commit, "v1.2.0 (8f3a91c)".
func (i Info) Short() string {
	if len(i.GitCommit) >= 7 {
		return fmt.Sprintf("%s (%s)", i.Version, i.GitCommit[:7])
	}
	return i.Version
}

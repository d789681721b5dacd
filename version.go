package sgmailer

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version information for the library.
// These values are injected during build time via ldflags.
var (
	// Version is the semantic version of the library.
	Version = "dev"

	// GitCommit is the git commit hash when the binary was built.
	GitCommit = "unknown"
)

// VersionInfo contains version details sent with API requests.
type VersionInfo struct {
	// Version is the semantic version of the library.
	Version string `json:"version"`

	// GitCommit is the git commit hash.
	GitCommit string `json:"git_commit"`

	// Platform is the target platform (GOOS/GOARCH).
	Platform string `json:"platform"`
}

// GetVersionInfo returns version information, falling back to VCS build
// settings when GitCommit was not injected.
func GetVersionInfo() *VersionInfo {
	info := &VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}

	if buildInfo, ok := debug.ReadBuildInfo(); ok && info.GitCommit == "unknown" {
		for _, setting := range buildInfo.Settings {
			if setting.Key == "vcs.revision" && len(setting.Value) >= 12 {
				info.GitCommit = setting.Value[:12]
			}
		}
	}

	return info
}

// String returns a human-readable version string.
func (v *VersionInfo) String() string {
	parts := []string{"Version: " + v.Version}
	if v.GitCommit != "unknown" && v.GitCommit != "" {
		parts = append(parts, "Commit: "+v.GitCommit)
	}
	parts = append(parts, "Platform: "+v.Platform)
	return strings.Join(parts, ", ")
}

// UserAgent returns a user agent string for HTTP requests.
func (v *VersionInfo) UserAgent() string {
	return fmt.Sprintf("lattiq-sgmailer/%s (%s)", v.Version, v.Platform)
}

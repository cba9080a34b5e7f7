// Package version reports how the framecast binary was built.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// BuildInfo contains version and build information.
type BuildInfo struct {
	Version   string    `json:"version" yaml:"version"`
	GitCommit string    `json:"git_commit" yaml:"git_commit"`
	BuildTime time.Time `json:"build_time" yaml:"build_time"`
	GoVersion string    `json:"go_version" yaml:"go_version"`
	Platform  string    `json:"platform" yaml:"platform"`
	Dirty     bool      `json:"dirty" yaml:"dirty"`
	Release   bool      `json:"release" yaml:"release"`
}

// Set at build time with -ldflags "-X github.com/conneroisu/framecast/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

type vcsInfo struct {
	moduleVersion string
	revision      string
	time          string
	modified      bool
}

var readVCS = sync.OnceValue(func() vcsInfo {
	var vcs vcsInfo
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return vcs
	}
	if info.Main.Version != "(devel)" {
		vcs.moduleVersion = info.Main.Version
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			vcs.revision = setting.Value
		case "vcs.time":
			vcs.time = setting.Value
		case "vcs.modified":
			vcs.modified = setting.Value == "true"
		}
	}
	return vcs
})

// GetBuildInfo returns everything known about the running binary.
func GetBuildInfo() *BuildInfo {
	v := GetVersion()
	return &BuildInfo{
		Version:   v,
		GitCommit: GetGitCommit(),
		BuildTime: GetBuildTime(),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Dirty:     IsDirty(),
		Release:   isRelease(v),
	}
}

// GetVersion prefers the linker-set version, then the module version, then
// a dev-<commit> string.
func GetVersion() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	vcs := readVCS()
	if vcs.moduleVersion != "" {
		return vcs.moduleVersion
	}
	if len(vcs.revision) >= 7 {
		return "dev-" + vcs.revision[:7]
	}
	return "dev"
}

func GetGitCommit() string {
	if GitCommit != "" && GitCommit != "unknown" {
		return GitCommit
	}
	if rev := readVCS().revision; rev != "" {
		return rev
	}
	return "unknown"
}

// GetBuildTime falls back to the commit time when no build time was set.
func GetBuildTime() time.Time {
	if t := parseTime(BuildTime); !t.IsZero() {
		return t
	}
	return parseTime(readVCS().time)
}

// GetShortVersion is the one-line form printed by version --short.
func GetShortVersion() string {
	v := GetVersion()
	commit := GetGitCommit()
	if commit == "unknown" || len(commit) < 7 || strings.HasPrefix(v, "dev-") {
		return v
	}
	return fmt.Sprintf("%s (%s)", v, commit[:7])
}

// GetDetailedVersion returns one "Key: value" line per build attribute.
func GetDetailedVersion() string {
	info := GetBuildInfo()

	lines := []string{"Version: " + info.Version}
	if info.GitCommit != "unknown" {
		lines = append(lines, "Commit: "+info.GitCommit)
	}
	if !info.BuildTime.IsZero() {
		lines = append(lines, "Built: "+info.BuildTime.Format(time.RFC3339))
	}
	lines = append(lines, "Go: "+info.GoVersion, "Platform: "+info.Platform)

	return strings.Join(lines, "\n")
}

func IsRelease() bool {
	return isRelease(GetVersion())
}

func isRelease(v string) bool {
	return v != "dev" && !strings.HasPrefix(v, "dev-")
}

// IsDirty reports whether the working tree had uncommitted changes.
func IsDirty() bool {
	return readVCS().modified
}

func parseTime(s string) time.Time {
	if s == "" || s == "unknown" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

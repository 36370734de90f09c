// Package version holds the version of memctl and of the modules it was
// built with.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version represents the current version of memctl.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// unsetBuild is replaced by the VCS revision found in the build info.
const unsetBuild = "$Id$"

// MemctlVersion is the current version of memctl.
var MemctlVersion = Version{
	Major: "0", Minor: "3", Patch: "0",
	Build: unsetBuild,
}

func (v Version) String() string {
	build := v.Build
	if build == unsetBuild {
		build = vcsRevision()
	}
	ver := fmt.Sprintf("Version: %s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	return ver + "\nBuild: " + build
}

// vcsRevision returns the revision memctl was built from, or "unknown"
// when the binary does not carry one.
func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return "unknown"
}

// BuildInfo returns the Go version followed by one line per module memctl
// was built with.
func BuildInfo() string {
	var b strings.Builder
	b.WriteString(runtime.Version())
	info, ok := debug.ReadBuildInfo()
	if !ok {
		b.WriteString("\nnot built in module mode")
		return b.String()
	}
	fmt.Fprintf(&b, "\n  %s %s", info.Main.Path, info.Main.Version)
	for _, dep := range info.Deps {
		mod := dep
		if dep.Replace != nil {
			mod = dep.Replace
		}
		fmt.Fprintf(&b, "\n  %s %s", mod.Path, mod.Version)
	}
	return b.String()
}

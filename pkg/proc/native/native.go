// Package native implements the proc.Process and proc.Finder interfaces on
// top of the operating system: Windows through the process memory API and
// Linux through process_vm_readv/process_vm_writev and procfs.
package native

import (
	"strings"

	"github.com/memctl/memctl/pkg/logflags"
)

// Finder finds processes running on this machine.
type Finder struct {
	log logflags.Logger
}

// NewFinder returns a Finder for the local machine.
func NewFinder() *Finder {
	return &Finder{log: logflags.AttachLogger()}
}

// matchName reports whether a process known as candidate answers to name.
// The comparison ignores case and an ".exe" suffix on either side.
func matchName(candidate, name string) bool {
	if candidate == "" || name == "" {
		return false
	}
	return strings.EqualFold(trimExe(candidate), trimExe(name))
}

func trimExe(s string) string {
	if len(s) > 4 && strings.EqualFold(s[len(s)-4:], ".exe") {
		return s[:len(s)-4]
	}
	return s
}

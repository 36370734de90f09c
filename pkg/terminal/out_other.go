//go:build !linux && !darwin && !freebsd && !windows

package terminal

func windowSize() (lines, columns int, ok bool) {
	return 0, 0, false
}

//go:build !linux && !windows

package native

import "github.com/memctl/memctl/pkg/proc"

func (f *Finder) FindByName(name string) (proc.Process, error) {
	return nil, proc.ErrUnsupported
}

func (f *Finder) FindByPid(pid int) (proc.Process, error) {
	return nil, proc.ErrUnsupported
}

func (f *Finder) Is64BitOS() bool {
	return true
}

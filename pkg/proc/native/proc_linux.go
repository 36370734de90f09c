package native

import (
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/memctl/memctl/pkg/proc"
)

// nativeProcess is a process on Linux. No handle is held: the process is
// addressed by pid and its start time guards against pid reuse.
type nativeProcess struct {
	pid       int
	name      string
	exe       string
	startTime uint64
	closed    atomic.Bool
}

func openProcess(pid int) (*nativeProcess, error) {
	buf, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return nil, proc.ErrNoSuchProcess{Pid: pid}
	}
	st, err := parseStat(buf)
	if err != nil {
		return nil, err
	}
	if st.state == 'Z' || st.state == 'X' {
		return nil, proc.ErrNoSuchProcess{Pid: pid}
	}
	p := &nativeProcess{pid: pid, name: st.comm, startTime: st.startTime}
	if exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid)); err == nil {
		p.exe = strings.TrimSuffix(exe, " (deleted)")
		p.name = filepath.Base(p.exe)
	}
	return p, nil
}

// FindByName returns the running process with the lowest pid whose
// executable or command name is name.
func (f *Finder) FindByName(name string) (proc.Process, error) {
	des, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, de := range des {
		if !de.IsDir() || !isProcDir(de.Name()) {
			continue
		}
		pid, _ := strconv.Atoi(de.Name())
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	for _, pid := range pids {
		comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
		if err != nil {
			// probably gone already
			continue
		}
		exe, _ := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
		if !matchName(strings.TrimSpace(string(comm)), name) && !matchName(filepath.Base(exe), name) {
			continue
		}
		p, err := openProcess(pid)
		if err != nil {
			f.log.Debugf("skipping %d: %v", pid, err)
			continue
		}
		return p, nil
	}
	return nil, proc.ErrNoSuchProcess{Name: name}
}

// FindByPid returns the process with the given pid.
func (f *Finder) FindByPid(pid int) (proc.Process, error) {
	return openProcess(pid)
}

// Is64BitOS reports whether the kernel is 64-bit.
func (f *Finder) Is64BitOS() bool {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		f.log.Warnf("uname: %v", err)
		return strconv.IntSize == 64
	}
	machine := unix.ByteSliceToString(uts.Machine[:])
	return strings.Contains(machine, "64") || machine == "s390x"
}

func (p *nativeProcess) Pid() int     { return p.pid }
func (p *nativeProcess) Name() string { return p.name }

func (p *nativeProcess) Exited() bool {
	if p.closed.Load() {
		return true
	}
	buf, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", p.pid))
	if err != nil {
		return true
	}
	st, err := parseStat(buf)
	if err != nil {
		return true
	}
	return st.startTime != p.startTime || st.state == 'Z' || st.state == 'X'
}

func (p *nativeProcess) ReadMemory(buf []byte, addr uint64) (int, error) {
	if p.closed.Load() {
		return 0, proc.ErrNotOpen
	}
	if len(buf) == 0 {
		return 0, nil
	}
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	return unix.ProcessVMReadv(p.pid, local, remote, 0)
}

func (p *nativeProcess) WriteMemory(addr uint64, data []byte) (int, error) {
	if p.closed.Load() {
		return 0, proc.ErrNotOpen
	}
	if len(data) == 0 {
		return 0, nil
	}
	local := []unix.Iovec{{Base: &data[0]}}
	local[0].SetLen(len(data))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(data)}}
	return unix.ProcessVMWritev(p.pid, local, remote, 0)
}

// Emulated reports whether the executable is a 32-bit ELF.
func (p *nativeProcess) Emulated() (bool, error) {
	f, err := elf.Open(fmt.Sprintf("/proc/%d/exe", p.pid))
	if err != nil {
		return false, err
	}
	defer f.Close()
	return f.Class == elf.ELFCLASS32, nil
}

func (p *nativeProcess) Modules() ([]proc.Module, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", p.pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseMaps(f)
}

func (p *nativeProcess) MainModule() (proc.Module, error) {
	mods, err := p.Modules()
	if err != nil {
		return proc.Module{}, err
	}
	for _, m := range mods {
		if m.Path == p.exe {
			return m, nil
		}
	}
	if len(mods) > 0 {
		return mods[0], nil
	}
	return proc.Module{}, proc.ErrModuleNotFound
}

// Protect is not available: changing the protection of another process
// requires running code inside it.
func (p *nativeProcess) Protect(addr uint64, size int, prot proc.Protection) (proc.Protection, error) {
	return 0, proc.ErrUnsupported
}

// Allocate is not available for the same reason as Protect.
func (p *nativeProcess) Allocate(size int, typ proc.AllocationType, prot proc.Protection) (uint64, error) {
	return 0, proc.ErrUnsupported
}

func (p *nativeProcess) Close() error {
	p.closed.Store(true)
	return nil
}

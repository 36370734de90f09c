package native

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/memctl/memctl/pkg/proc"
)

var (
	kernel32           = windows.NewLazySystemDLL("kernel32.dll")
	procVirtualAllocEx = kernel32.NewProc("VirtualAllocEx")
)

const processAccess = windows.PROCESS_VM_READ | windows.PROCESS_VM_WRITE | windows.PROCESS_VM_OPERATION |
	windows.PROCESS_QUERY_INFORMATION | windows.SYNCHRONIZE

// nativeProcess is a process handle on Windows.
type nativeProcess struct {
	pid  int
	name string

	mu sync.RWMutex // guards h against Close
	h  windows.Handle
}

func openProcess(pid int, name string) (*nativeProcess, error) {
	h, err := windows.OpenProcess(processAccess, false, uint32(pid))
	if err != nil {
		if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
			return nil, proc.ErrNoSuchProcess{Pid: pid}
		}
		return nil, fmt.Errorf("OpenProcess(%d): %w", pid, err)
	}
	if name == "" {
		var buf [windows.MAX_PATH]uint16
		n := uint32(len(buf))
		if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &n); err == nil {
			name = filepath.Base(windows.UTF16ToString(buf[:n]))
		}
	}
	return &nativeProcess{pid: pid, name: name, h: h}, nil
}

// FindByName walks a toolhelp snapshot and opens the first process whose
// executable is name.
func (f *Finder) FindByName(name string) (proc.Process, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("CreateToolhelp32Snapshot: %w", err)
	}
	defer windows.CloseHandle(snap)

	var pe windows.ProcessEntry32
	pe.Size = uint32(unsafe.Sizeof(pe))
	for err = windows.Process32First(snap, &pe); err == nil; err = windows.Process32Next(snap, &pe) {
		exe := windows.UTF16ToString(pe.ExeFile[:])
		if !matchName(exe, name) {
			continue
		}
		p, err := openProcess(int(pe.ProcessID), exe)
		if err != nil {
			f.log.Debugf("skipping %s (%d): %v", exe, pe.ProcessID, err)
			continue
		}
		return p, nil
	}
	if !errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		return nil, fmt.Errorf("Process32Next: %w", err)
	}
	return nil, proc.ErrNoSuchProcess{Name: name}
}

// FindByPid opens the process with the given pid.
func (f *Finder) FindByPid(pid int) (proc.Process, error) {
	return openProcess(pid, "")
}

// Is64BitOS reports whether Windows is 64-bit, which is the case for 64-bit
// builds and for 32-bit builds running under WOW64.
func (f *Finder) Is64BitOS() bool {
	if runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64" {
		return true
	}
	var wow64 bool
	if err := windows.IsWow64Process(windows.CurrentProcess(), &wow64); err != nil {
		f.log.Warnf("IsWow64Process: %v", err)
		return false
	}
	return wow64
}

func (p *nativeProcess) Pid() int     { return p.pid }
func (p *nativeProcess) Name() string { return p.name }

func (p *nativeProcess) handle() (windows.Handle, func(), error) {
	p.mu.RLock()
	if p.h == 0 {
		p.mu.RUnlock()
		return 0, nil, proc.ErrNotOpen
	}
	return p.h, p.mu.RUnlock, nil
}

func (p *nativeProcess) Exited() bool {
	h, release, err := p.handle()
	if err != nil {
		return true
	}
	defer release()
	ev, err := windows.WaitForSingleObject(h, 0)
	if err != nil {
		return true
	}
	return ev == windows.WAIT_OBJECT_0
}

func (p *nativeProcess) ReadMemory(buf []byte, addr uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	h, release, err := p.handle()
	if err != nil {
		return 0, err
	}
	defer release()
	var n uintptr
	err = windows.ReadProcessMemory(h, uintptr(addr), &buf[0], uintptr(len(buf)), &n)
	return int(n), err
}

func (p *nativeProcess) WriteMemory(addr uint64, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	h, release, err := p.handle()
	if err != nil {
		return 0, err
	}
	defer release()
	var n uintptr
	err = windows.WriteProcessMemory(h, uintptr(addr), &data[0], uintptr(len(data)), &n)
	return int(n), err
}

// Emulated reports whether the process runs under WOW64.
func (p *nativeProcess) Emulated() (bool, error) {
	h, release, err := p.handle()
	if err != nil {
		return false, err
	}
	defer release()
	var wow64 bool
	if err := windows.IsWow64Process(h, &wow64); err != nil {
		return false, err
	}
	return wow64, nil
}

func (p *nativeProcess) Modules() ([]proc.Module, error) {
	h, release, err := p.handle()
	if err != nil {
		return nil, err
	}
	defer release()

	var needed uint32
	err = windows.EnumProcessModulesEx(h, nil, 0, &needed, windows.LIST_MODULES_ALL)
	if err != nil {
		if errno, ok := err.(syscall.Errno); ok && errno == windows.ERROR_PARTIAL_COPY && needed == 0 {
			// not initialized yet or started suspended
			return nil, nil
		}
		return nil, fmt.Errorf("EnumProcessModulesEx: %w", err)
	}
	hmods := make([]windows.Handle, int(needed)/int(unsafe.Sizeof(windows.Handle(0))))
	if len(hmods) == 0 {
		return nil, nil
	}
	err = windows.EnumProcessModulesEx(h, &hmods[0], needed, &needed, windows.LIST_MODULES_ALL)
	if err != nil {
		return nil, fmt.Errorf("EnumProcessModulesEx: %w", err)
	}

	mods := make([]proc.Module, 0, len(hmods))
	for _, hm := range hmods {
		var info windows.ModuleInfo
		if err := windows.GetModuleInformation(h, hm, &info, uint32(unsafe.Sizeof(info))); err != nil {
			continue
		}
		var name, path [windows.MAX_PATH]uint16
		windows.GetModuleBaseName(h, hm, &name[0], windows.MAX_PATH)
		windows.GetModuleFileNameEx(h, hm, &path[0], windows.MAX_PATH)
		mods = append(mods, proc.Module{
			Name: windows.UTF16ToString(name[:]),
			Path: windows.UTF16ToString(path[:]),
			Base: proc.Address(info.BaseOfDll),
			Size: uint64(info.SizeOfImage),
		})
	}
	return mods, nil
}

// MainModule returns the executable image, which EnumProcessModulesEx
// always lists first.
func (p *nativeProcess) MainModule() (proc.Module, error) {
	mods, err := p.Modules()
	if err != nil {
		return proc.Module{}, err
	}
	if len(mods) == 0 {
		return proc.Module{}, proc.ErrModuleNotFound
	}
	return mods[0], nil
}

func (p *nativeProcess) Protect(addr uint64, size int, prot proc.Protection) (proc.Protection, error) {
	h, release, err := p.handle()
	if err != nil {
		return 0, err
	}
	defer release()
	var old uint32
	if err := windows.VirtualProtectEx(h, uintptr(addr), uintptr(size), uint32(prot), &old); err != nil {
		return 0, fmt.Errorf("VirtualProtectEx: %w", err)
	}
	return proc.Protection(old), nil
}

func (p *nativeProcess) Allocate(size int, typ proc.AllocationType, prot proc.Protection) (uint64, error) {
	h, release, err := p.handle()
	if err != nil {
		return 0, err
	}
	defer release()
	ret, _, err := procVirtualAllocEx.Call(uintptr(h), 0, uintptr(size), uintptr(typ), uintptr(prot))
	if ret == 0 {
		return 0, fmt.Errorf("VirtualAllocEx: %w", err)
	}
	return uint64(ret), nil
}

func (p *nativeProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.h == 0 {
		return nil
	}
	err := windows.CloseHandle(p.h)
	p.h = 0
	return err
}

// Package fakeproc implements an in-memory target process for tests.
package fakeproc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/memctl/memctl/pkg/proc"
)

var (
	errClosed   = errors.New("handle closed")
	errExited   = errors.New("process exited")
	errUnmapped = errors.New("only part of a ReadProcessMemory or WriteProcessMemory request was completed")
	errAccess   = errors.New("access denied")
)

const pageSize = 0x1000

type region struct {
	base uint64
	data []byte
	prot proc.Protection
}

func (r *region) end() uint64 {
	return r.base + uint64(len(r.data))
}

// Process is a simulated target. The zero value is not usable, call New.
type Process struct {
	mu sync.Mutex

	pid      int
	name     string
	emulated bool
	emuErr   error
	exited   bool
	closed   bool

	regions   []*region
	modules   []proc.Module
	nextAlloc uint64

	reads, writes, failedWrites int
}

// New returns a running process with no memory mapped.
func New(pid int, name string) *Process {
	return &Process{pid: pid, name: name, nextAlloc: 0x7f0000000000}
}

// SetEmulated makes the process report itself as a 32-bit process running
// under emulation. err, if not nil, is returned by the emulation query.
func (p *Process) SetEmulated(emulated bool, err error) *Process {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emulated, p.emuErr = emulated, err
	if emulated {
		p.nextAlloc = 0x70000000
	}
	return p
}

// Map maps size bytes of zeroed memory at base.
func (p *Process) Map(base uint64, size int, prot proc.Protection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.regions = append(p.regions, &region{base: base, data: make([]byte, size), prot: prot})
	sort.Slice(p.regions, func(i, j int) bool { return p.regions[i].base < p.regions[j].base })
}

// AddModule maps a read/write image for a module. The first module added
// is the main module.
func (p *Process) AddModule(name string, base uint64, size int) proc.Module {
	p.Map(base, size, proc.PageReadWrite)
	m := proc.Module{Name: name, Path: "/fake/" + name, Base: proc.Address(base), Size: uint64(size)}
	p.mu.Lock()
	p.modules = append(p.modules, m)
	p.mu.Unlock()
	return m
}

// Exit terminates the process.
func (p *Process) Exit() {
	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()
}

// find returns the region containing [addr, addr+n).
func (p *Process) find(addr uint64, n int) *region {
	for _, r := range p.regions {
		if addr >= r.base && addr+uint64(n) <= r.end() {
			return r
		}
	}
	return nil
}

// Poke writes data at addr regardless of protection, the way the target
// itself would.
func (p *Process) Poke(addr uint64, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.find(addr, len(data))
	if r == nil {
		panic(fmt.Sprintf("fakeproc: poke of %d bytes at %#x outside mapped memory", len(data), addr))
	}
	copy(r.data[addr-r.base:], data)
}

// Peek returns a copy of n bytes at addr regardless of protection.
func (p *Process) Peek(addr uint64, n int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.find(addr, n)
	if r == nil {
		panic(fmt.Sprintf("fakeproc: peek of %d bytes at %#x outside mapped memory", n, addr))
	}
	return append([]byte(nil), r.data[addr-r.base:addr-r.base+uint64(n)]...)
}

// PokePointer stores ptr at addr using the pointer width of the process.
func (p *Process) PokePointer(addr, ptr uint64) {
	p.mu.Lock()
	emulated := p.emulated
	p.mu.Unlock()
	if emulated {
		p.Poke(addr, binary.LittleEndian.AppendUint32(nil, uint32(ptr)))
		return
	}
	p.Poke(addr, binary.LittleEndian.AppendUint64(nil, ptr))
}

// Stats returns the number of reads, writes and failed writes issued
// through the Process interface.
func (p *Process) Stats() (reads, writes, failedWrites int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads, p.writes, p.failedWrites
}

func (p *Process) Pid() int     { return p.pid }
func (p *Process) Name() string { return p.name }

func (p *Process) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited || p.closed
}

func (p *Process) usable() error {
	switch {
	case p.closed:
		return errClosed
	case p.exited:
		return errExited
	}
	return nil
}

func (p *Process) ReadMemory(buf []byte, addr uint64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	if err := p.usable(); err != nil {
		return 0, err
	}
	r := p.find(addr, len(buf))
	if r == nil {
		return 0, errUnmapped
	}
	if !r.prot.Readable() {
		return 0, errAccess
	}
	return copy(buf, r.data[addr-r.base:]), nil
}

func (p *Process) WriteMemory(addr uint64, data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes++
	if err := p.usable(); err != nil {
		p.failedWrites++
		return 0, err
	}
	r := p.find(addr, len(data))
	if r == nil {
		p.failedWrites++
		return 0, errUnmapped
	}
	if !r.prot.Writable() {
		p.failedWrites++
		return 0, errAccess
	}
	return copy(r.data[addr-r.base:], data), nil
}

func (p *Process) Emulated() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.emulated, p.emuErr
}

func (p *Process) MainModule() (proc.Module, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usable(); err != nil {
		return proc.Module{}, err
	}
	if len(p.modules) == 0 {
		return proc.Module{}, proc.ErrModuleNotFound
	}
	return p.modules[0], nil
}

func (p *Process) Modules() ([]proc.Module, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usable(); err != nil {
		return nil, err
	}
	return append([]proc.Module(nil), p.modules...), nil
}

// Protect changes the protection of the whole region containing addr.
func (p *Process) Protect(addr uint64, size int, prot proc.Protection) (proc.Protection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usable(); err != nil {
		return 0, err
	}
	r := p.find(addr, size)
	if r == nil {
		return 0, errUnmapped
	}
	old := r.prot
	r.prot = prot
	return old, nil
}

func (p *Process) Allocate(size int, typ proc.AllocationType, prot proc.Protection) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usable(); err != nil {
		return 0, err
	}
	if typ&(proc.MemCommit|proc.MemReserve) == 0 {
		return 0, fmt.Errorf("invalid allocation type %v", typ)
	}
	if typ&proc.MemCommit == 0 {
		prot = proc.PageNoAccess
	}
	base := p.nextAlloc
	n := (uint64(size) + pageSize - 1) &^ (pageSize - 1)
	p.nextAlloc += n
	p.regions = append(p.regions, &region{base: base, data: make([]byte, n), prot: prot})
	return base, nil
}

func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// reopen hands out a fresh handle to a process that is still running.
func (p *Process) reopen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return false
	}
	p.closed = false
	return true
}

// Finder finds processes among a fixed set of fake processes.
type Finder struct {
	mu    sync.Mutex
	procs []*Process
	os32  bool
}

// NewFinder returns a finder for a 64-bit OS running procs.
func NewFinder(procs ...*Process) *Finder {
	return &Finder{procs: procs}
}

// Set32BitOS makes the finder report a 32-bit operating system.
func (f *Finder) Set32BitOS(os32 bool) {
	f.mu.Lock()
	f.os32 = os32
	f.mu.Unlock()
}

// Add starts p.
func (f *Finder) Add(p *Process) {
	f.mu.Lock()
	f.procs = append(f.procs, p)
	f.mu.Unlock()
}

func (f *Finder) FindByName(name string) (proc.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.procs {
		if strings.EqualFold(p.name, name) && p.reopen() {
			return p, nil
		}
	}
	return nil, proc.ErrNoSuchProcess{Name: name}
}

func (f *Finder) FindByPid(pid int) (proc.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.procs {
		if p.pid == pid && p.reopen() {
			return p, nil
		}
	}
	return nil, proc.ErrNoSuchProcess{Pid: pid}
}

func (f *Finder) Is64BitOS() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.os32
}

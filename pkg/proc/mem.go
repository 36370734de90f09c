package proc

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of 64-bit memory.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// MemoryReadWriter is a MemoryReader that can also write.
type MemoryReadWriter interface {
	MemoryReader
	WriteMemory(addr uint64, data []byte) (written int, err error)
}

// Process is a handle to a running target process, as provided by an OS
// backend.
type Process interface {
	MemoryReadWriter

	Pid() int
	// Name is the name the process was found under.
	Name() string
	// Exited reports whether the process has terminated or the handle
	// was closed.
	Exited() bool
	// Emulated reports whether the process runs under 32-bit emulation
	// on a 64-bit OS.
	Emulated() (bool, error)
	// MainModule returns the primary executable image.
	MainModule() (Module, error)
	// Modules returns every module loaded in the process.
	Modules() ([]Module, error)
	// Protect changes the protection of size bytes at addr and returns
	// the previous protection.
	Protect(addr uint64, size int, prot Protection) (Protection, error)
	// Allocate reserves and/or commits size bytes in the process.
	Allocate(size int, typ AllocationType, prot Protection) (uint64, error)
	// Close releases the handle.
	Close() error
}

// Finder locates processes.
type Finder interface {
	// FindByName returns the first running process called name. Names are
	// compared case-insensitively. Returns ErrNoSuchProcess if none exists.
	FindByName(name string) (Process, error)
	// FindByPid returns the process with the given pid or ErrNoSuchProcess.
	FindByPid(pid int) (Process, error)
	// Is64BitOS reports whether the operating system is 64-bit.
	Is64BitOS() bool
}

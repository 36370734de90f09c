package native

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/memctl/memctl/pkg/proc"
)

var probe = [8]byte{1, 2, 3, 4, 5, 6, 7, 8}

func skipIfDenied(t *testing.T, err error) {
	t.Helper()
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.ENOSYS) {
		t.Skipf("process_vm_readv not permitted: %v", err)
	}
}

func TestSelf(t *testing.T) {
	f := NewFinder()
	p, err := f.FindByPid(os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if p.Exited() {
		t.Fatal("running process reported as exited")
	}

	addr := uint64(uintptr(unsafe.Pointer(&probe[0])))
	buf := make([]byte, len(probe))
	n, err := p.ReadMemory(buf, addr)
	skipIfDenied(t, err)
	if err != nil || n != len(buf) || buf[7] != 8 {
		t.Fatalf("ReadMemory: %d %v % x", n, err, buf)
	}
	if _, err := p.WriteMemory(addr, []byte{42}); err != nil {
		t.Fatal(err)
	}
	if probe[0] != 42 {
		t.Errorf("probe[0] = %d after write", probe[0])
	}

	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	mm, err := p.MainModule()
	if err != nil {
		t.Fatal(err)
	}
	if exe, _ = filepath.EvalSymlinks(exe); mm.Path != exe {
		t.Errorf("main module %q, want %q", mm.Path, exe)
	}
	if !mm.Contains(proc.Address(addr)) {
		t.Errorf("probe at %#x outside main module %+v", addr, mm)
	}
	emulated, err := p.Emulated()
	if err != nil || emulated != (unsafe.Sizeof(uintptr(0)) == 4 && f.Is64BitOS()) {
		t.Errorf("Emulated() = %v %v", emulated, err)
	}
	if _, err := p.Protect(addr, 1, proc.PageReadOnly); !errors.Is(err, proc.ErrUnsupported) {
		t.Errorf("Protect: %v", err)
	}

	p.Close()
	if !p.Exited() {
		t.Error("closed process not reported as exited")
	}
}

func TestFindMissing(t *testing.T) {
	f := NewFinder()
	var nsp proc.ErrNoSuchProcess
	if _, err := f.FindByName("no-such-process-memctl"); !errors.As(err, &nsp) {
		t.Errorf("FindByName: %v", err)
	}
	if _, err := f.FindByPid(1 << 30); !errors.As(err, &nsp) {
		t.Errorf("FindByPid: %v", err)
	}
}

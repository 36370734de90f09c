package proc_test

import (
	"errors"
	"flag"
	"os"
	"testing"
	"time"

	"github.com/memctl/memctl/pkg/logflags"
	"github.com/memctl/memctl/pkg/proc"
	"github.com/memctl/memctl/pkg/proc/fakeproc"
)

const (
	targetName = "game.exe"
	targetPid  = 4242
	moduleBase = 0x400000
	heapBase   = 0x10000000
	heapSize   = 0x1000
)

func TestMain(m *testing.M) {
	var logConf string
	flag.StringVar(&logConf, "log", "", "configures logging")
	flag.Parse()
	if err := logflags.Setup(logConf != "", logConf, ""); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// newTarget starts a fake process with a main module, a second module and
// a heap, and returns an engine attached to it.
func newTarget(t *testing.T, emulated bool, opts ...proc.Option) (*fakeproc.Process, *fakeproc.Finder, *proc.Engine) {
	t.Helper()
	p := fakeproc.New(targetPid, targetName).SetEmulated(emulated, nil)
	p.AddModule(targetName, moduleBase, 0x2000)
	p.AddModule("engine.dll", 0x600000, 0x1000)
	p.Map(heapBase, heapSize, proc.PageReadWrite)
	finder := fakeproc.NewFinder(p)
	e := proc.New(targetName, finder, opts...)
	t.Cleanup(func() { e.Close() })
	if !e.IsOpen() {
		t.Fatal("engine did not attach")
	}
	return p, finder, e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAttachByName(t *testing.T) {
	_, _, e := newTarget(t, false)
	if e.Pid() != targetPid {
		t.Errorf("Pid() = %d, want %d", e.Pid(), targetPid)
	}
	if e.PtrSize() != 8 {
		t.Errorf("PtrSize() = %d, want 8", e.PtrSize())
	}
}

func TestAttachMissingProcess(t *testing.T) {
	e := proc.New("nothere.exe", fakeproc.NewFinder())
	defer e.Close()
	if e.IsOpen() {
		t.Fatal("engine open without a process")
	}
	if _, err := e.ReadBytes(heapBase, 4); !errors.Is(err, proc.ErrNotOpen) {
		t.Errorf("ReadBytes error = %v, want %v", err, proc.ErrNotOpen)
	}
	if e.Freeze(proc.PointerPath{0x10}, proc.MainModuleName, []byte{1}) {
		t.Error("Freeze succeeded without a process")
	}
}

func TestNewFromPid(t *testing.T) {
	p := fakeproc.New(targetPid, targetName)
	p.AddModule(targetName, moduleBase, 0x1000)
	finder := fakeproc.NewFinder(p)

	_, err := proc.NewFromPid(targetPid+1, finder)
	var nsp proc.ErrNoSuchProcess
	if !errors.As(err, &nsp) {
		t.Fatalf("NewFromPid of missing pid: got %v, want ErrNoSuchProcess", err)
	}
	if nsp.Pid != targetPid+1 {
		t.Errorf("ErrNoSuchProcess.Pid = %d", nsp.Pid)
	}

	e, err := proc.NewFromPid(targetPid, finder)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if e.Name() != targetName || !e.IsOpen() {
		t.Errorf("got name %q open %v", e.Name(), e.IsOpen())
	}
}

func TestBitness(t *testing.T) {
	tests := []struct {
		name     string
		os32     bool
		emulated bool
		emuErr   error
		want     int
	}{
		{"native64", false, false, nil, 8},
		{"emulated", false, true, nil, 4},
		{"queryFailed", false, true, errors.New("access denied"), 8},
		{"os32", true, false, nil, 4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := fakeproc.New(1, "a.exe").SetEmulated(tc.emulated, tc.emuErr)
			f := fakeproc.NewFinder(p)
			f.Set32BitOS(tc.os32)
			e := proc.New("a.exe", f)
			defer e.Close()
			if got := e.PtrSize(); got != tc.want {
				t.Errorf("PtrSize() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestReattachAfterRestart(t *testing.T) {
	p, finder, e := newTarget(t, false)
	if err := proc.Write(e, heapBase, int32(5)); err != nil {
		t.Fatal(err)
	}

	p.Exit()
	if e.IsOpen() {
		t.Fatal("engine still open after the target exited")
	}
	if _, err := proc.Read[int32](e, heapBase); !errors.Is(err, proc.ErrNotOpen) {
		t.Fatalf("read after exit: %v", err)
	}

	p2 := fakeproc.New(targetPid+1, "GAME.EXE").SetEmulated(true, nil)
	p2.AddModule(targetName, moduleBase, 0x1000)
	finder.Add(p2)

	if !e.IsOpen() {
		t.Fatal("engine did not re-attach")
	}
	if e.Pid() != targetPid+1 {
		t.Errorf("Pid() = %d after restart", e.Pid())
	}
	if e.PtrSize() != 4 {
		t.Errorf("PtrSize() = %d after restart as a 32-bit process", e.PtrSize())
	}
}

func TestCloseStopsFreezes(t *testing.T) {
	p := fakeproc.New(targetPid, targetName)
	p.AddModule(targetName, moduleBase, 0x1000)
	e := proc.New(targetName, fakeproc.NewFinder(p), proc.WithFreezeInterval(time.Millisecond))
	if !proc.FreezeValue(e, proc.PointerPath{0x10}, proc.MainModuleName, int32(1)) {
		t.Fatal("freeze failed")
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if n := len(e.Frozen()); n != 0 {
		t.Errorf("%d freezes left after Close", n)
	}
	if e.IsOpen() {
		t.Error("engine open after Close")
	}
}

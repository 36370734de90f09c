package proc_test

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/memctl/memctl/pkg/logflags"
	"github.com/memctl/memctl/pkg/proc"
)

const testInterval = 2 * time.Millisecond

func readInt32(t *testing.T, e *proc.Engine, addr proc.Address) int32 {
	t.Helper()
	v, err := proc.Read[int32](e, addr)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestFreezeRejectsDuplicate(t *testing.T) {
	_, _, e := newTarget(t, false, proc.WithFreezeInterval(testInterval))
	path := proc.PointerPath{0x100}

	if !proc.FreezeValue(e, path, proc.MainModuleName, int32(100)) {
		t.Fatal("first freeze rejected")
	}
	if proc.FreezeValue(e, path, "MAINMODULE", int32(200)) {
		t.Fatal("second freeze of the same location accepted")
	}
	frozen := e.Frozen()
	if len(frozen) != 1 {
		t.Fatalf("%d freezes", len(frozen))
	}
	if !bytes.Equal(frozen[0].Payload, proc.EncodeFixed(int32(100))) {
		t.Errorf("payload changed to % x", frozen[0].Payload)
	}
	time.Sleep(5 * testInterval)
	if v := readInt32(t, e, moduleBase+0x100); v != 100 {
		t.Errorf("frozen value is %d", v)
	}
}

func TestFreezeOverridesExternalWrites(t *testing.T) {
	p, _, e := newTarget(t, false)
	p.PokePointer(moduleBase+0x10, heapBase)
	path := proc.PointerPath{0x10, 0x4}

	if !proc.FreezeValue(e, path, targetName, int32(100)) {
		t.Fatal("freeze rejected")
	}
	p.Poke(heapBase+0x4, proc.EncodeFixed(int32(5)))
	time.Sleep(2 * proc.DefaultFreezeInterval)
	waitFor(t, "frozen value to be restored", func() bool {
		return readInt32(t, e, heapBase+0x4) == 100
	})
}

func TestUnfreezeStopsEnforcement(t *testing.T) {
	p, _, e := newTarget(t, false, proc.WithFreezeInterval(testInterval))
	path := proc.PointerPath{0x200}

	if !proc.FreezeValue(e, path, proc.MainModuleName, int32(100)) {
		t.Fatal("freeze rejected")
	}
	waitFor(t, "first write", func() bool { return readInt32(t, e, moduleBase+0x200) == 100 })
	if !e.Unfreeze(path, proc.MainModuleName) {
		t.Fatal("Unfreeze returned false")
	}
	if e.Unfreeze(path, proc.MainModuleName) {
		t.Error("second Unfreeze returned true")
	}
	// The writer may complete one more write after Unfreeze.
	time.Sleep(5 * testInterval)
	p.Poke(moduleBase+0x200, proc.EncodeFixed(int32(7)))
	time.Sleep(5 * testInterval)
	if v := readInt32(t, e, moduleBase+0x200); v != 7 {
		t.Errorf("value is %d after unfreeze, want 7", v)
	}
}

func TestUnfreezeMissing(t *testing.T) {
	_, _, e := newTarget(t, false)
	if e.Unfreeze(proc.PointerPath{0x10}, proc.MainModuleName) {
		t.Error("Unfreeze of a location that was never frozen returned true")
	}
	if e.Freeze(nil, proc.MainModuleName, []byte{1}) {
		t.Error("Freeze accepted an empty path")
	}
}

func TestAutoUnfreeze(t *testing.T) {
	p, _, e := newTarget(t, false, proc.WithFreezeInterval(testInterval))
	path := proc.PointerPath{0x10}

	if !proc.FreezeValue(e, path, proc.MainModuleName, int32(1)) {
		t.Fatal("freeze rejected")
	}
	waitFor(t, "first write", func() bool { return readInt32(t, e, moduleBase+0x10) == 1 })
	if _, err := p.Protect(moduleBase, 1, proc.PageReadOnly); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "automatic unfreeze", func() bool { return !e.IsFrozen(path, proc.MainModuleName) })

	time.Sleep(5 * testInterval)
	if _, _, failed := p.Stats(); failed != proc.DefaultFreezeThreshold {
		t.Errorf("%d failed writes, want exactly %d", failed, proc.DefaultFreezeThreshold)
	}

	p.Protect(moduleBase, 1, proc.PageReadWrite)
	if !proc.FreezeValue(e, path, proc.MainModuleName, int32(2)) {
		t.Fatal("location not freezable again after automatic unfreeze")
	}
}

func TestFreezeString(t *testing.T) {
	p, _, e := newTarget(t, false, proc.WithFreezeInterval(testInterval))
	path := proc.PointerPath{0x400}
	p.Poke(moduleBase+0x400, []byte("xxxxxx"))
	if !e.FreezeString(path, proc.MainModuleName, "hi", "utf-8") {
		t.Fatal("freeze rejected")
	}
	waitFor(t, "string write", func() bool {
		return bytes.Equal(p.Peek(moduleBase+0x400, 3), []byte("hix"))
	})
}

type writeRecorder struct {
	mu     sync.Mutex
	writes int
	fail   bool
}

func (w *writeRecorder) write(proc.PointerPath, string, []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	if w.fail {
		return errors.New("fail")
	}
	return nil
}

func (w *writeRecorder) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}

func TestFreezeRegistryThreshold(t *testing.T) {
	w := &writeRecorder{fail: true}
	r := proc.NewFreezeRegistry(w.write, time.Millisecond, 3, logflags.FreezeLogger())
	path := proc.PointerPath{1, 2}
	if !r.Freeze(path, "m", []byte{0}) {
		t.Fatal("freeze rejected")
	}
	waitFor(t, "automatic unfreeze", func() bool { return !r.IsFrozen(path, "m") })
	time.Sleep(5 * time.Millisecond)
	if n := w.count(); n != 3 {
		t.Errorf("%d writes, want 3", n)
	}
}

func TestFreezeRegistryUnfreezeAll(t *testing.T) {
	w := &writeRecorder{}
	r := proc.NewFreezeRegistry(w.write, time.Millisecond, 0, logflags.FreezeLogger())
	for i := 0; i < 4; i++ {
		if !r.Freeze(proc.PointerPath{int64(i)}, "m", []byte{byte(i)}) {
			t.Fatalf("freeze %d rejected", i)
		}
	}
	frozen := r.Frozen()
	if len(frozen) != 4 {
		t.Fatalf("%d freezes", len(frozen))
	}
	for i := 1; i < len(frozen); i++ {
		if frozen[i-1].Key >= frozen[i].Key {
			t.Errorf("Frozen not sorted: %q before %q", frozen[i-1].Key, frozen[i].Key)
		}
	}
	r.UnfreezeAll()
	n := w.count()
	time.Sleep(5 * time.Millisecond)
	if w.count() != n {
		t.Error("writes continued after UnfreezeAll returned")
	}
	if len(r.Frozen()) != 0 {
		t.Error("freezes left after UnfreezeAll")
	}
}

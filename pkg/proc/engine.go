package proc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/memctl/memctl/pkg/logflags"
)

// Engine reads, writes and freezes memory of a target process. The target
// is remembered by name: when it exits and a process with the same name
// appears, the engine binds to the new process on its next operation.
//
// An Engine is safe for concurrent use.
type Engine struct {
	name   string
	finder Finder

	log  logflags.Logger // memory
	plog logflags.Logger // pointer
	alog logflags.Logger // attach
	flog logflags.Logger // freeze

	freezeInterval  time.Duration
	freezeThreshold int

	space    atomic.Pointer[AddressSpace]
	attachMu sync.Mutex
	closed   atomic.Bool

	freezes *FreezeRegistry
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sends every diagnostic of the engine to log instead of the
// per layer loggers of package logflags.
func WithLogger(log logflags.Logger) Option {
	return func(e *Engine) {
		e.log, e.plog, e.alog, e.flog = log, log, log, log
	}
}

// WithFreezeInterval sets the delay between two writes of a frozen value.
func WithFreezeInterval(d time.Duration) Option {
	return func(e *Engine) { e.freezeInterval = d }
}

// WithFreezeThreshold sets the number of consecutive failed writes after
// which a freeze cancels itself.
func WithFreezeThreshold(n int) Option {
	return func(e *Engine) { e.freezeThreshold = n }
}

func newEngine(finder Finder, opts []Option) *Engine {
	e := &Engine{
		finder:          finder,
		log:             logflags.MemoryLogger(),
		plog:            logflags.PointerLogger(),
		alog:            logflags.AttachLogger(),
		flog:            logflags.FreezeLogger(),
		freezeInterval:  DefaultFreezeInterval,
		freezeThreshold: DefaultFreezeThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.freezes = NewFreezeRegistry(e.WriteBytesAt, e.freezeInterval, e.freezeThreshold, e.flog)
	return e
}

// New returns an engine for the process called name. The process does not
// need to exist yet, IsOpen reports when it does.
func New(name string, finder Finder, opts ...Option) *Engine {
	e := newEngine(finder, opts)
	e.name = name
	e.current()
	return e
}

// NewFromPid returns an engine bound to the process with the given pid.
// It fails with ErrNoSuchProcess if there is no such process. If the
// process later exits the engine looks for a new one with the same name.
func NewFromPid(pid int, finder Finder, opts ...Option) (*Engine, error) {
	p, err := finder.FindByPid(pid)
	if err != nil {
		return nil, err
	}
	e := newEngine(finder, opts)
	e.name = p.Name()
	e.bind(p)
	return e, nil
}

func (e *Engine) bind(p Process) *AddressSpace {
	s := newAddressSpace(p, e.finder.Is64BitOS(), e.log, e.plog)
	e.space.Store(s)
	e.alog.Infof("attached to %s (pid %d, %d-bit)", p.Name(), p.Pid(), s.ptrSize*8)
	return s
}

// current returns the bound address space, first re-attaching by name if
// the previous target is gone. It returns nil when there is nothing to
// attach to.
func (e *Engine) current() *AddressSpace {
	if e.closed.Load() {
		return nil
	}
	if s := e.space.Load(); s != nil && !s.p.Exited() {
		return s
	}

	e.attachMu.Lock()
	defer e.attachMu.Unlock()
	if e.closed.Load() {
		return nil
	}
	s := e.space.Load()
	if s != nil {
		if !s.p.Exited() {
			return s
		}
		e.alog.Infof("process %s (pid %d) exited, detaching", e.name, s.p.Pid())
		e.space.CompareAndSwap(s, nil)
		s.p.Close()
	}
	p, err := e.finder.FindByName(e.name)
	if err != nil {
		e.alog.Debugf("no process %q: %v", e.name, err)
		return nil
	}
	return e.bind(p)
}

func (e *Engine) open() (*AddressSpace, error) {
	if s := e.current(); s != nil {
		return s, nil
	}
	return nil, ErrNotOpen
}

// IsOpen reports whether a live target is bound, attaching to a new
// process with the remembered name if the previous one exited.
func (e *Engine) IsOpen() bool {
	return e.current() != nil
}

// Name returns the name of the target process.
func (e *Engine) Name() string {
	return e.name
}

// Pid returns the pid of the bound target or 0.
func (e *Engine) Pid() int {
	if s := e.current(); s != nil {
		return s.p.Pid()
	}
	return 0
}

// PtrSize returns the pointer size of the bound target or 0.
func (e *Engine) PtrSize() int {
	if s := e.current(); s != nil {
		return s.ptrSize
	}
	return 0
}

// Modules lists the modules loaded in the target.
func (e *Engine) Modules() ([]Module, error) {
	s, err := e.open()
	if err != nil {
		return nil, err
	}
	return s.Modules()
}

// Module looks up a loaded module by name, see AddressSpace.Module.
func (e *Engine) Module(name string) (Module, bool) {
	s := e.current()
	if s == nil {
		return Module{}, false
	}
	return s.Module(name)
}

// Address resolves path relative to module. It returns 0 if any step of
// the resolution fails.
func (e *Engine) Address(path PointerPath, module string) Address {
	_, addr, err := e.locate(path, module)
	if err != nil {
		return 0
	}
	return addr
}

// AddressOf returns the base of module plus offset, or 0.
func (e *Engine) AddressOf(offset int64, module string) Address {
	return e.Address(PointerPath{offset}, module)
}

// ResolveTrace resolves path relative to module and returns the address
// reached after every offset. On failure the addresses reached so far are
// returned along with the error.
func (e *Engine) ResolveTrace(path PointerPath, module string) ([]Address, error) {
	s, err := e.open()
	if err != nil {
		return nil, err
	}
	_, hops, err := s.resolve(path, module)
	if err != nil {
		return hops, fmt.Errorf("%w: %w", ErrResolve, err)
	}
	return hops, nil
}

// locate resolves path against the current target.
func (e *Engine) locate(path PointerPath, module string) (*AddressSpace, Address, error) {
	s, err := e.open()
	if err != nil {
		return nil, 0, err
	}
	addr, _, err := s.resolve(path, module)
	if err != nil {
		return s, 0, fmt.Errorf("%w: %w", ErrResolve, err)
	}
	return s, addr, nil
}

// Freeze keeps payload written at the location path resolves to until
// Unfreeze is called or writes keep failing. It returns false if the
// location is already frozen or no target is bound.
func (e *Engine) Freeze(path PointerPath, module string, payload []byte) bool {
	if !e.IsOpen() {
		e.flog.Warnf("can not freeze %s: %v", path.Key(module), ErrNotOpen)
		return false
	}
	return e.freezes.Freeze(path, module, payload)
}

// FreezeString freezes s encoded with enc, without a terminator.
func (e *Engine) FreezeString(path PointerPath, module, s, enc string) bool {
	payload, err := EncodeString(s, enc, false)
	if err != nil {
		e.flog.Warnf("can not freeze %s: %v", path.Key(module), err)
		return false
	}
	return e.Freeze(path, module, payload)
}

// Unfreeze stops a freeze started by Freeze. It returns false if the
// location was not frozen.
func (e *Engine) Unfreeze(path PointerPath, module string) bool {
	return e.freezes.Unfreeze(path, module)
}

// IsFrozen reports whether the location is frozen.
func (e *Engine) IsFrozen(path PointerPath, module string) bool {
	return e.freezes.IsFrozen(path, module)
}

// Frozen lists the active freezes.
func (e *Engine) Frozen() []FreezeInfo {
	return e.freezes.Frozen()
}

// Close stops every freeze and releases the target. The engine can not be
// used afterwards.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.freezes.UnfreezeAll()
	e.attachMu.Lock()
	defer e.attachMu.Unlock()
	if s := e.space.Swap(nil); s != nil {
		e.alog.Infof("detaching from %s (pid %d)", e.name, s.p.Pid())
		return s.p.Close()
	}
	return nil
}

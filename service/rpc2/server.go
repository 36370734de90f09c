package rpc2

import (
	"errors"
	"fmt"

	"github.com/memctl/memctl/pkg/proc"
	"github.com/memctl/memctl/service"
	"github.com/memctl/memctl/service/api"
)

type RPCServer struct {
	// config is all the information necessary to start the engine and server.
	config *service.Config
	// engine is the memory engine requests are served from.
	engine *proc.Engine
}

func NewServer(config *service.Config, engine *proc.Engine) *RPCServer {
	return &RPCServer{config, engine}
}

type IsOpenIn struct {
}

type IsOpenOut struct {
	Open bool
}

// IsOpen reports whether the engine is bound to a live process.
func (s *RPCServer) IsOpen(arg IsOpenIn, out *IsOpenOut) error {
	out.Open = s.engine.IsOpen()
	return nil
}

type StateIn struct {
}

type StateOut struct {
	State *api.State
}

// State returns the current state of the target.
func (s *RPCServer) State(arg StateIn, out *StateOut) error {
	st := &api.State{
		Name:   s.engine.Name(),
		Open:   s.engine.IsOpen(),
		Frozen: len(s.engine.Frozen()),
	}
	if st.Open {
		st.Pid = s.engine.Pid()
		st.PtrSize = s.engine.PtrSize()
	}
	out.State = st
	return nil
}

type ListModulesIn struct {
}

type ListModulesOut struct {
	Modules []api.Module
}

// ListModules lists the modules loaded in the target.
func (s *RPCServer) ListModules(arg ListModulesIn, out *ListModulesOut) error {
	mods, err := s.engine.Modules()
	if err != nil {
		return err
	}
	out.Modules = api.ConvertModules(mods)
	return nil
}

type ResolveIn struct {
	Location api.Location
}

type ResolveOut struct {
	Addr uint64
	// Hops is the address reached after each offset of a pointer path.
	Hops []uint64
}

// Resolve returns the address a location refers to.
func (s *RPCServer) Resolve(arg ResolveIn, out *ResolveOut) error {
	if !arg.Location.IsPath() {
		out.Addr = arg.Location.Addr
		return nil
	}
	hops, err := s.engine.ResolveTrace(proc.PointerPath(arg.Location.Path), arg.Location.Module)
	out.Hops = make([]uint64, len(hops))
	for i := range hops {
		out.Hops[i] = uint64(hops[i])
	}
	if err != nil {
		return err
	}
	out.Addr = out.Hops[len(out.Hops)-1]
	return nil
}

type ReadIn struct {
	Location api.Location
	Kind     string
	// Length is the number of characters of a string or the number of
	// bytes of a raw read. It is ignored for fixed size kinds.
	Length   int
	Encoding string
}

type ReadOut struct {
	Value api.Value
}

// Read reads a value of the given kind from the target.
func (s *RPCServer) Read(arg ReadIn, out *ReadOut) error {
	k, err := proc.ParseKind(arg.Kind)
	if err != nil {
		return err
	}
	enc := encodingOrDefault(arg.Encoding)
	n := k.Size()
	switch k {
	case proc.KindString:
		if n, err = proc.StringSpan(arg.Length, enc); err != nil {
			return err
		}
	case proc.KindBytes:
		n = arg.Length
	}
	if n <= 0 {
		return proc.ErrNonPositiveSize
	}
	buf, err := s.readBytes(arg.Location, n)
	if err != nil {
		return err
	}
	text, err := proc.FormatValue(k, buf, enc)
	if err != nil {
		return err
	}
	out.Value = api.Value{Kind: k.String(), Text: text, Bytes: buf}
	return nil
}

type WriteIn struct {
	Location api.Location
	Kind     string
	// Value is the textual form of the value, hex for raw bytes.
	Value    string
	Encoding string
}

type WriteOut struct {
}

// Write writes a value to the target. Strings are written with a
// terminating NUL character.
func (s *RPCServer) Write(arg WriteIn, out *WriteOut) error {
	k, err := proc.ParseKind(arg.Kind)
	if err != nil {
		return err
	}
	enc := encodingOrDefault(arg.Encoding)
	loc := arg.Location
	if k == proc.KindString {
		if loc.IsPath() {
			return s.engine.WriteStringAt(proc.PointerPath(loc.Path), loc.Module, arg.Value, enc)
		}
		return s.engine.WriteString(proc.Address(loc.Addr), arg.Value, enc)
	}
	buf, err := proc.EncodeValue(k, arg.Value, enc)
	if err != nil {
		return err
	}
	if loc.IsPath() {
		return s.engine.WriteBytesAt(proc.PointerPath(loc.Path), loc.Module, buf)
	}
	return s.engine.WriteBytes(proc.Address(loc.Addr), buf)
}

type FreezeIn struct {
	Location api.Location
	Kind     string
	Value    string
	Encoding string
}

type FreezeOut struct {
	// Frozen is false if the location was already frozen or no process is
	// attached.
	Frozen bool
}

// Freeze keeps a value written at a pointer path.
func (s *RPCServer) Freeze(arg FreezeIn, out *FreezeOut) error {
	if !arg.Location.IsPath() {
		return errors.New("only pointer paths can be frozen")
	}
	k, err := proc.ParseKind(arg.Kind)
	if err != nil {
		return err
	}
	payload, err := proc.EncodeValue(k, arg.Value, encodingOrDefault(arg.Encoding))
	if err != nil {
		return fmt.Errorf("could not encode %q as %v: %w", arg.Value, k, err)
	}
	out.Frozen = s.engine.Freeze(proc.PointerPath(arg.Location.Path), arg.Location.Module, payload)
	return nil
}

type UnfreezeIn struct {
	Location api.Location
}

type UnfreezeOut struct {
	// Unfrozen is false if the location was not frozen.
	Unfrozen bool
}

// Unfreeze stops a freeze.
func (s *RPCServer) Unfreeze(arg UnfreezeIn, out *UnfreezeOut) error {
	if !arg.Location.IsPath() {
		return errors.New("only pointer paths can be frozen")
	}
	out.Unfrozen = s.engine.Unfreeze(proc.PointerPath(arg.Location.Path), arg.Location.Module)
	return nil
}

type ListFrozenIn struct {
}

type ListFrozenOut struct {
	Frozen []api.FrozenValue
}

// ListFrozen lists the active freezes, sorted by key.
func (s *RPCServer) ListFrozen(arg ListFrozenIn, out *ListFrozenOut) error {
	frozen := s.engine.Frozen()
	out.Frozen = make([]api.FrozenValue, len(frozen))
	for i := range frozen {
		out.Frozen[i] = api.ConvertFrozen(frozen[i])
	}
	return nil
}

type ProtectIn struct {
	Location   api.Location
	Size       int
	Protection string
}

type ProtectOut struct {
	// Old is the protection in place before the change.
	Old string
}

// Protect changes the protection of a range of memory.
func (s *RPCServer) Protect(arg ProtectIn, out *ProtectOut) error {
	prot, err := proc.ParseProtection(arg.Protection)
	if err != nil {
		return err
	}
	var old proc.Protection
	if loc := arg.Location; loc.IsPath() {
		old, err = s.engine.ChangeProtectionAt(proc.PointerPath(loc.Path), loc.Module, arg.Size, prot)
	} else {
		old, err = s.engine.ChangeProtection(proc.Address(loc.Addr), arg.Size, prot)
	}
	if err != nil {
		return err
	}
	out.Old = old.String()
	return nil
}

type AllocateIn struct {
	Size       int
	Protection string
	// Type is the allocation type, the default commits and reserves.
	Type string
}

type AllocateOut struct {
	Addr uint64
}

// Allocate allocates memory in the target.
func (s *RPCServer) Allocate(arg AllocateIn, out *AllocateOut) error {
	prot, err := proc.ParseProtection(arg.Protection)
	if err != nil {
		return err
	}
	typ, err := proc.ParseAllocationType(arg.Type)
	if err != nil {
		return err
	}
	addr := s.engine.Allocate(arg.Size, prot, typ)
	if addr == 0 {
		return fmt.Errorf("could not allocate %d bytes", arg.Size)
	}
	out.Addr = uint64(addr)
	return nil
}

type DetachIn struct {
}

type DetachOut struct {
}

// Detach stops every freeze and releases the target.
func (s *RPCServer) Detach(arg DetachIn, out *DetachOut) error {
	err := s.engine.Close()
	if s.config.DisconnectChan != nil {
		close(s.config.DisconnectChan)
		s.config.DisconnectChan = nil
	}
	return err
}

func (s *RPCServer) readBytes(loc api.Location, n int) ([]byte, error) {
	if loc.IsPath() {
		return s.engine.ReadBytesAt(proc.PointerPath(loc.Path), loc.Module, n)
	}
	return s.engine.ReadBytes(proc.Address(loc.Addr), n)
}

func encodingOrDefault(enc string) string {
	if enc == "" {
		return proc.DefaultEncoding
	}
	return enc
}

package proc

import (
	"encoding/binary"

	"github.com/memctl/memctl/pkg/logflags"
)

// MaxTransferSize is the largest number of bytes moved by a single read or
// write.
const MaxTransferSize = 1 << 30

// AddressSpace is a bound target process together with its pointer width.
// It is never modified after creation: when the target goes away the
// engine builds a new AddressSpace and swaps it in.
type AddressSpace struct {
	p       Process
	ptrSize int
	log     logflags.Logger // memory layer
	plog    logflags.Logger // pointer layer
}

// newAddressSpace binds p and derives its pointer width. A failed emulation
// query falls back to the bitness of the operating system.
func newAddressSpace(p Process, os64 bool, log, plog logflags.Logger) *AddressSpace {
	s := &AddressSpace{p: p, ptrSize: 4, log: log, plog: plog}
	if !os64 {
		return s
	}
	s.ptrSize = 8
	emulated, err := p.Emulated()
	if err != nil {
		log.Warnf("could not determine whether process %d is emulated, assuming 64-bit: %v", p.Pid(), err)
		return s
	}
	if emulated {
		s.ptrSize = 4
	}
	return s
}

// Process returns the bound process.
func (s *AddressSpace) Process() Process {
	return s.p
}

// PtrSize returns the size of a pointer in the target, 4 or 8.
func (s *AddressSpace) PtrSize() int {
	return s.ptrSize
}

// IsPointerValid reports whether addr may be used for a transfer.
func (s *AddressSpace) IsPointerValid(addr Address) bool {
	return addr.Valid()
}

func (s *AddressSpace) fmtAddr(addr Address) string {
	return addr.Format(s.ptrSize)
}

// ReadMemory reads n bytes at addr. Short reads are errors.
func (s *AddressSpace) ReadMemory(addr Address, n int) ([]byte, error) {
	if !s.IsPointerValid(addr) {
		return nil, ErrInvalidAddress
	}
	switch {
	case n <= 0:
		return nil, ErrNonPositiveSize
	case n > MaxTransferSize:
		return nil, &TransferError{Op: "read", Addr: addr, Want: n, Err: ErrSizeTooLarge}
	}
	if s.p.Exited() {
		return nil, ErrNotOpen
	}
	buf := make([]byte, n)
	got, err := s.p.ReadMemory(buf, uint64(addr))
	if err != nil || got != n {
		return nil, &TransferError{Op: "read", Addr: addr, Want: n, Got: got, Err: err}
	}
	return buf, nil
}

// WriteMemory writes data at addr and returns the number of bytes written.
// Short writes are errors.
func (s *AddressSpace) WriteMemory(addr Address, data []byte) (int, error) {
	if !s.IsPointerValid(addr) {
		return 0, ErrInvalidAddress
	}
	if len(data) > MaxTransferSize {
		return 0, &TransferError{Op: "write", Addr: addr, Want: len(data), Err: ErrSizeTooLarge}
	}
	if s.p.Exited() {
		return 0, ErrNotOpen
	}
	n, err := s.p.WriteMemory(uint64(addr), data)
	if err != nil || n != len(data) {
		return n, &TransferError{Op: "write", Addr: addr, Want: len(data), Got: n, Err: err}
	}
	return n, nil
}

// readPointer reads a pointer sized value at addr. The value is interpreted
// as a signed integer of the target's pointer width, so a 32-bit value with
// the high bit set becomes a negative offset once widened.
func (s *AddressSpace) readPointer(addr Address) (Address, error) {
	buf, err := s.ReadMemory(addr, s.ptrSize)
	if err != nil {
		return 0, err
	}
	if s.ptrSize == 4 {
		return Address(int64(int32(binary.LittleEndian.Uint32(buf)))), nil
	}
	return Address(int64(binary.LittleEndian.Uint64(buf))), nil
}

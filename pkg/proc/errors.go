package proc

import (
	"errors"
	"fmt"
)

var (
	// ErrNotOpen is returned when no live target is bound to the engine.
	ErrNotOpen = errors.New("process is not open")
	// ErrInvalidAddress is returned for addresses below MinValidAddress.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrResolve is returned when a pointer path can not be walked to an address.
	ErrResolve = errors.New("could not resolve pointer path")
	// ErrModuleNotFound is returned when the named module is not loaded.
	ErrModuleNotFound = errors.New("module not found")
	// ErrEmptyPath is returned for pointer paths without offsets.
	ErrEmptyPath = errors.New("empty pointer path")
	// ErrNonPositiveSize is returned when a size argument is zero or negative.
	ErrNonPositiveSize = errors.New("size must be positive")
	// ErrSizeTooLarge is returned for transfers larger than MaxTransferSize.
	ErrSizeTooLarge = errors.New("transfer size too large")
	// ErrUnsupported is returned by backends that lack an operation.
	ErrUnsupported = errors.New("operation not supported on this platform")
)

// ErrNoSuchProcess is returned when a process can not be found.
type ErrNoSuchProcess struct {
	Pid  int
	Name string
}

func (e ErrNoSuchProcess) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("could not find process %q", e.Name)
	}
	return fmt.Sprintf("could not find process %d", e.Pid)
}

// TransferError describes a failed or short memory transfer.
type TransferError struct {
	Op   string // "read" or "write"
	Addr Address
	Want int
	Got  int
	Err  error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s of %d bytes at %#x failed: %v", e.Op, e.Want, uint64(e.Addr), e.Err)
	}
	return fmt.Sprintf("short %s at %#x: %d of %d bytes", e.Op, uint64(e.Addr), e.Got, e.Want)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

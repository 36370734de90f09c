package service

import (
	"github.com/memctl/memctl/service/api"
)

// Client represents a memctl service client. All client methods are
// synchronous.
type Client interface {
	// IsOpen reports whether the server is bound to a live process.
	IsOpen() (bool, error)
	// State returns the current state of the target.
	State() (*api.State, error)
	// ListModules lists the modules loaded in the target.
	ListModules() ([]api.Module, error)

	// Resolve returns the address loc refers to and, for pointer paths,
	// the address reached after every offset.
	Resolve(loc api.Location) (uint64, []uint64, error)
	// Read reads a value of the given kind at loc. length is the number of
	// characters for strings and of bytes for raw buffers, encoding only
	// applies to strings.
	Read(loc api.Location, kind string, length int, encoding string) (*api.Value, error)
	// Write writes value, given in its textual form, at loc.
	Write(loc api.Location, kind, value, encoding string) error

	// Freeze keeps value written at loc, which must be a pointer path.
	Freeze(loc api.Location, kind, value, encoding string) (bool, error)
	// Unfreeze stops a freeze.
	Unfreeze(loc api.Location) (bool, error)
	// ListFrozen lists the active freezes.
	ListFrozen() ([]api.FrozenValue, error)

	// Protect changes the protection of size bytes at loc and returns the
	// previous protection.
	Protect(loc api.Location, size int, protection string) (string, error)
	// Allocate allocates size bytes in the target.
	Allocate(size int, protection, allocType string) (uint64, error)

	// Detach stops every freeze and releases the target.
	Detach() error
	// Disconnect closes the connection to the server without detaching.
	Disconnect() error
}

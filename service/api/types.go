package api

import (
	"strconv"
	"strings"
	"time"
)

// Location is either an absolute address or a pointer path relative to a
// module. A location with a non-empty Path is a pointer path and Addr is
// ignored.
type Location struct {
	Addr   uint64  `json:"addr,omitempty"`
	Module string  `json:"module,omitempty"`
	Path   []int64 `json:"path,omitempty"`
}

// IsPath reports whether loc is a pointer path.
func (loc Location) IsPath() bool {
	return len(loc.Path) > 0
}

func (loc Location) String() string {
	if !loc.IsPath() {
		return "*0x" + strconv.FormatUint(loc.Addr, 16)
	}
	parts := make([]string, len(loc.Path))
	for i, off := range loc.Path {
		if off < 0 {
			parts[i] = "-0x" + strconv.FormatUint(uint64(-off), 16)
		} else {
			parts[i] = "0x" + strconv.FormatUint(uint64(off), 16)
		}
	}
	return loc.Module + "!" + strings.Join(parts, ",")
}

// Module is an executable image loaded in the target.
type Module struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Base uint64 `json:"base"`
	Size uint64 `json:"size"`
}

// State describes the target the server is bound to.
type State struct {
	// Name is the process name the server attaches to.
	Name string `json:"name"`
	// Open is true if a live process is bound.
	Open bool `json:"open"`
	Pid  int  `json:"pid"`
	// PtrSize is the pointer size of the target, 0 when not open.
	PtrSize int `json:"ptrSize"`
	// Frozen is the number of active freezes.
	Frozen int `json:"frozen"`
}

// Value is a value read from the target.
type Value struct {
	Kind string `json:"kind"`
	// Text is the formatted value.
	Text string `json:"text"`
	// Bytes is the raw memory the value was decoded from.
	Bytes []byte `json:"bytes"`
}

// FrozenValue describes an active freeze.
type FrozenValue struct {
	Key      string    `json:"key"`
	Location Location  `json:"location"`
	Payload  []byte    `json:"payload"`
	Since    time.Time `json:"since"`
	Failures int       `json:"failures"`
}

type GetVersionIn struct {
}

type GetVersionOut struct {
	MemctlVersion string
	APIVersion    int
}

package proc

import (
	"fmt"
	"strconv"
	"strings"
)

// Protection is a page protection value. The numbering follows the
// Windows PAGE_* constants, other backends translate from it.
type Protection uint32

const (
	PageNoAccess         Protection = 0x01
	PageReadOnly         Protection = 0x02
	PageReadWrite        Protection = 0x04
	PageWriteCopy        Protection = 0x08
	PageExecute          Protection = 0x10
	PageExecuteRead      Protection = 0x20
	PageExecuteReadWrite Protection = 0x40
	PageExecuteWriteCopy Protection = 0x80
	PageGuard            Protection = 0x100
	PageNoCache          Protection = 0x200
	PageWriteCombine     Protection = 0x400
	PageTargetsInvalid   Protection = 0x40000000
)

const protectionBaseMask Protection = 0xff

var protectionNames = []struct {
	p     Protection
	name  string
	short string
}{
	{PageNoAccess, "noaccess", "none"},
	{PageReadOnly, "readonly", "r"},
	{PageReadWrite, "readwrite", "rw"},
	{PageWriteCopy, "writecopy", "wc"},
	{PageExecute, "execute", "x"},
	{PageExecuteRead, "execute_read", "rx"},
	{PageExecuteReadWrite, "execute_readwrite", "rwx"},
	{PageExecuteWriteCopy, "execute_writecopy", "wcx"},
	{PageGuard, "guard", "guard"},
	{PageNoCache, "nocache", "nocache"},
	{PageWriteCombine, "writecombine", "writecombine"},
	{PageTargetsInvalid, "targets_invalid", "targets_invalid"},
}

// Readable reports whether pages with protection p can be read.
func (p Protection) Readable() bool {
	if p&PageGuard != 0 {
		return false
	}
	switch p & protectionBaseMask {
	case PageReadOnly, PageReadWrite, PageWriteCopy, PageExecuteRead, PageExecuteReadWrite, PageExecuteWriteCopy:
		return true
	}
	return false
}

// Writable reports whether pages with protection p can be written.
func (p Protection) Writable() bool {
	if p&PageGuard != 0 {
		return false
	}
	switch p & protectionBaseMask {
	case PageReadWrite, PageWriteCopy, PageExecuteReadWrite, PageExecuteWriteCopy:
		return true
	}
	return false
}

func (p Protection) String() string {
	var parts []string
	rest := p
	for _, n := range protectionNames {
		if p&n.p == n.p {
			parts = append(parts, strings.ToUpper("page_"+n.name))
			rest &^= n.p
		}
	}
	if rest != 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// ParseProtection parses a protection such as "rwx", "execute_read",
// "PAGE_READWRITE|PAGE_GUARD" or a number.
func ParseProtection(s string) (Protection, error) {
	var p Protection
	for _, f := range strings.Split(s, "|") {
		f = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(f)), "page_")
		if v, err := strconv.ParseUint(f, 0, 32); err == nil {
			p |= Protection(v)
			continue
		}
		found := false
		for _, n := range protectionNames {
			if f == n.name || f == n.short {
				p |= n.p
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown protection %q", f)
		}
	}
	return p, nil
}

// AllocationType selects how memory is allocated. The numbering follows
// the Windows MEM_* constants.
type AllocationType uint32

const (
	MemCommit     AllocationType = 0x1000
	MemReserve    AllocationType = 0x2000
	MemReset      AllocationType = 0x80000
	MemTopDown    AllocationType = 0x100000
	MemPhysical   AllocationType = 0x400000
	MemResetUndo  AllocationType = 0x1000000
	MemLargePages AllocationType = 0x20000000

	// DefaultAllocationType commits and reserves in one step.
	DefaultAllocationType = MemCommit | MemReserve
)

var allocationNames = []struct {
	t    AllocationType
	name string
}{
	{MemCommit, "commit"},
	{MemReserve, "reserve"},
	{MemReset, "reset"},
	{MemTopDown, "top_down"},
	{MemPhysical, "physical"},
	{MemResetUndo, "reset_undo"},
	{MemLargePages, "large_pages"},
}

func (t AllocationType) String() string {
	var parts []string
	rest := t
	for _, n := range allocationNames {
		if t&n.t != 0 {
			parts = append(parts, strings.ToUpper("mem_"+n.name))
			rest &^= n.t
		}
	}
	if rest != 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// ParseAllocationType parses values like "commit|reserve" or "0x3000".
// The empty string is DefaultAllocationType.
func ParseAllocationType(s string) (AllocationType, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultAllocationType, nil
	}
	var t AllocationType
	for _, f := range strings.Split(s, "|") {
		f = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(f)), "mem_")
		if v, err := strconv.ParseUint(f, 0, 32); err == nil {
			t |= AllocationType(v)
			continue
		}
		found := false
		for _, n := range allocationNames {
			if f == n.name {
				t |= n.t
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown allocation type %q", f)
		}
	}
	return t, nil
}

// ChangeProtection sets the protection of size bytes starting at addr and
// returns the protection that was in place before. A non-positive size is
// rejected before the target is touched.
func (e *Engine) ChangeProtection(addr Address, size int, prot Protection) (Protection, error) {
	if size <= 0 {
		return 0, ErrNonPositiveSize
	}
	s, err := e.open()
	if err != nil {
		return 0, err
	}
	return e.protect(s, addr, size, prot)
}

// ChangeProtectionAt is ChangeProtection on the address path resolves to.
func (e *Engine) ChangeProtectionAt(path PointerPath, module string, size int, prot Protection) (Protection, error) {
	if size <= 0 {
		return 0, ErrNonPositiveSize
	}
	s, addr, err := e.locate(path, module)
	if err != nil {
		return 0, err
	}
	return e.protect(s, addr, size, prot)
}

func (e *Engine) protect(s *AddressSpace, addr Address, size int, prot Protection) (Protection, error) {
	if !s.IsPointerValid(addr) {
		e.log.Warnf("refusing to change protection at invalid address %s", s.fmtAddr(addr))
		return 0, ErrInvalidAddress
	}
	old, err := s.p.Protect(uint64(addr), size, prot)
	if err != nil {
		e.log.Errorf("changing protection of %d bytes at %s to %v failed: %v", size, s.fmtAddr(addr), prot, err)
		return 0, err
	}
	e.log.Infof("changed protection of %d bytes at %s from %v to %v", size, s.fmtAddr(addr), old, prot)
	return old, nil
}

// Allocate allocates size bytes in the target and returns their address.
// Zero is returned when size is not positive, when no target is bound or
// when the OS refuses the allocation.
func (e *Engine) Allocate(size int, prot Protection, typ AllocationType) Address {
	if size <= 0 {
		e.log.Warnf("refusing to allocate %d bytes", size)
		return 0
	}
	s, err := e.open()
	if err != nil {
		e.log.Warnf("could not allocate %d bytes: %v", size, err)
		return 0
	}
	addr, err := s.p.Allocate(size, typ, prot)
	if err != nil {
		e.log.Errorf("allocating %d bytes (%v, %v) failed: %v", size, typ, prot, err)
		return 0
	}
	e.log.Infof("allocated %d bytes at %s", size, s.fmtAddr(Address(addr)))
	return Address(addr)
}

package proc

import (
	"fmt"
	"strconv"
	"strings"
)

// PointerPath is a chain of offsets leading from a module base to a value.
// Every offset but the last is added to the current address and followed
// by a pointer dereference. The last offset is only added.
type PointerPath []int64

// ParsePointerPath parses a list of offsets separated by commas or spaces.
// Each offset may be decimal or carry a 0x, 0o or 0b prefix and an
// optional sign.
func ParsePointerPath(s string) (PointerPath, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return nil, ErrEmptyPath
	}
	path := make(PointerPath, 0, len(fields))
	for _, f := range fields {
		off, err := strconv.ParseInt(f, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("bad offset %q: %v", f, err)
		}
		path = append(path, off)
	}
	return path, nil
}

func formatOffset(off int64) string {
	if off < 0 {
		return "-0x" + strconv.FormatUint(uint64(-off), 16)
	}
	return "0x" + strconv.FormatUint(uint64(off), 16)
}

func (path PointerPath) String() string {
	parts := make([]string, len(path))
	for i, off := range path {
		parts[i] = formatOffset(off)
	}
	return strings.Join(parts, ",")
}

// Key returns the identity of path relative to module. Module names are
// folded to lower case. Offsets are written as two's complement hex so
// that every path has exactly one key.
func (path PointerPath) Key(module string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(module))
	b.WriteByte('!')
	for i, off := range path {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(uint64(off), 16))
	}
	return b.String()
}

// resolve walks path starting at the base of module. It returns the final
// address and, in hops, the address reached after every offset.
func (s *AddressSpace) resolve(path PointerPath, module string) (addr Address, hops []Address, err error) {
	if len(path) == 0 {
		return 0, nil, ErrEmptyPath
	}
	m, ok := s.Module(module)
	if !ok {
		return 0, nil, fmt.Errorf("%w: %q", ErrModuleNotFound, module)
	}
	cur := m.Base
	hops = make([]Address, 0, len(path))
	for i, off := range path[:len(path)-1] {
		cur = cur.Add(off)
		hops = append(hops, cur)
		if !s.IsPointerValid(cur) {
			s.plog.Warnf("pointer path %s from %s: hop %d reached invalid address %s", path, module, i, s.fmtAddr(cur))
			return 0, hops, fmt.Errorf("hop %d at %s: %w", i, s.fmtAddr(cur), ErrInvalidAddress)
		}
		next, err := s.readPointer(cur)
		if err != nil {
			s.plog.Warnf("pointer path %s from %s: could not read hop %d at %s: %v", path, module, i, s.fmtAddr(cur), err)
			return 0, hops, fmt.Errorf("hop %d at %s: %w", i, s.fmtAddr(cur), err)
		}
		cur = next
	}
	cur = cur.Add(path[len(path)-1])
	hops = append(hops, cur)
	return cur, hops, nil
}

package proc

import "strings"

// MainModuleName is the module name that always refers to the primary
// executable image of the target, whatever its file name.
const MainModuleName = "mainModule"

// Module is an executable image loaded in the target.
type Module struct {
	Name string
	Path string
	Base Address
	Size uint64
}

// Contains reports whether addr falls inside the module image.
func (m Module) Contains(addr Address) bool {
	return addr >= m.Base && uint64(addr-m.Base) < m.Size
}

// IsMainModule reports whether name is the main module sentinel.
func IsMainModule(name string) bool {
	return strings.EqualFold(name, MainModuleName)
}

// Module looks up a loaded module by name. Names are compared
// case-insensitively and MainModuleName returns the primary image without
// enumerating. A miss is reported through the boolean and logged, it is
// not an error.
func (s *AddressSpace) Module(name string) (Module, bool) {
	if IsMainModule(name) {
		m, err := s.p.MainModule()
		if err != nil {
			s.plog.Warnf("could not find main module of process %d: %v", s.p.Pid(), err)
			return Module{}, false
		}
		return m, true
	}
	mods, err := s.p.Modules()
	if err != nil {
		s.plog.Warnf("could not list modules of process %d: %v", s.p.Pid(), err)
		return Module{}, false
	}
	for _, m := range mods {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	s.plog.Warnf("module %q not loaded in process %d", name, s.p.Pid())
	return Module{}, false
}

// Modules lists the modules loaded in the target.
func (s *AddressSpace) Modules() ([]Module, error) {
	return s.p.Modules()
}

package locspec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/memctl/memctl/pkg/config"
	"github.com/memctl/memctl/pkg/proc"
	"github.com/memctl/memctl/service/api"
)

// LocationSpec is an interface that represents a parsed location spec string.
type LocationSpec interface {
	// Location returns the location described by the spec. Saved pointers
	// are looked up in saved, paths without a module start at
	// defaultModule.
	Location(saved map[string]config.SavedPointer, defaultModule string) (api.Location, error)
}

// AddrLocationSpec represents an absolute address.
type AddrLocationSpec struct {
	Addr uint64
}

// PathLocationSpec represents a pointer path. An empty Module means the
// default module.
type PathLocationSpec struct {
	Module string
	Path   proc.PointerPath
}

// SavedLocationSpec represents a pointer path saved under Name.
type SavedLocationSpec struct {
	Name string
}

// Parse will turn locStr into a parsed LocationSpec.
func Parse(locStr string) (LocationSpec, error) {
	rest := strings.TrimSpace(locStr)

	malformed := func(reason string) error {
		return fmt.Errorf("malformed location %q: %s", locStr, reason)
	}

	if len(rest) == 0 {
		return nil, malformed("empty string")
	}

	switch rest[0] {
	case '*':
		addr, err := strconv.ParseUint(strings.TrimSpace(rest[1:]), 0, 64)
		if err != nil {
			return nil, malformed(err.Error())
		}
		return &AddrLocationSpec{Addr: addr}, nil

	case '@':
		name := rest[1:]
		if name == "" {
			return nil, malformed("missing pointer name")
		}
		return &SavedLocationSpec{Name: name}, nil

	default:
		module, offsets, hasModule := strings.Cut(rest, "!")
		if !hasModule {
			module, offsets = "", rest
		} else if module = strings.TrimSpace(module); module == "" {
			return nil, malformed("empty module name")
		}
		path, err := proc.ParsePointerPath(offsets)
		if err != nil {
			return nil, malformed(err.Error())
		}
		return &PathLocationSpec{Module: module, Path: path}, nil
	}
}

func (loc *AddrLocationSpec) Location(map[string]config.SavedPointer, string) (api.Location, error) {
	return api.Location{Addr: loc.Addr}, nil
}

func (loc *PathLocationSpec) Location(_ map[string]config.SavedPointer, defaultModule string) (api.Location, error) {
	module := loc.Module
	if module == "" {
		module = defaultModule
	}
	if module == "" {
		module = proc.MainModuleName
	}
	return api.Location{Module: module, Path: loc.Path}, nil
}

func (loc *SavedLocationSpec) Location(saved map[string]config.SavedPointer, defaultModule string) (api.Location, error) {
	sp, ok := saved[loc.Name]
	if !ok {
		return api.Location{}, fmt.Errorf("no saved pointer named %q", loc.Name)
	}
	path, err := proc.ParsePointerPath(sp.Path)
	if err != nil {
		return api.Location{}, fmt.Errorf("saved pointer %q: %v", loc.Name, err)
	}
	spec := PathLocationSpec{Module: sp.Module, Path: path}
	return spec.Location(nil, defaultModule)
}

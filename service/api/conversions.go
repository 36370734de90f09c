package api

import "github.com/memctl/memctl/pkg/proc"

// ConvertModule converts a proc.Module into an api.Module.
func ConvertModule(m proc.Module) Module {
	return Module{Name: m.Name, Path: m.Path, Base: uint64(m.Base), Size: m.Size}
}

// ConvertModules converts a slice of proc.Module.
func ConvertModules(mods []proc.Module) []Module {
	r := make([]Module, len(mods))
	for i := range mods {
		r[i] = ConvertModule(mods[i])
	}
	return r
}

// ConvertFrozen converts a proc.FreezeInfo into an api.FrozenValue.
func ConvertFrozen(fi proc.FreezeInfo) FrozenValue {
	return FrozenValue{
		Key:      fi.Key,
		Location: Location{Module: fi.Module, Path: fi.Path},
		Payload:  fi.Payload,
		Since:    fi.Since,
		Failures: fi.Failures,
	}
}

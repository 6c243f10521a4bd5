package binfile

import "fmt"

type formatKey struct {
	marker  string
	version uint16
}

// Registry selects a FormatDecoder by the marker and version at the start of a file.
type Registry struct {
	formats map[formatKey]FormatDecoder
	order   []formatKey
}

// NewRegistry builds a registry from profiles. Duplicate marker/version pairs are rejected.
func NewRegistry(profiles []Profile) (*Registry, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("at least one format profile is required")
	}
	reg := &Registry{formats: make(map[formatKey]FormatDecoder, len(profiles))}
	for _, p := range profiles {
		f, err := NewFormat(p)
		if err != nil {
			return nil, err
		}
		key := formatKey{marker: p.Marker, version: p.Version}
		if prev, ok := reg.formats[key]; ok {
			return nil, fmt.Errorf("profiles %s and %s share marker %q version %d", prev.Profile().Name, p.Name, p.Marker, p.Version)
		}
		reg.formats[key] = f
		reg.order = append(reg.order, key)
	}
	return reg, nil
}

// Lookup returns the decoder registered for marker and version.
func (r *Registry) Lookup(marker string, version uint16) (FormatDecoder, error) {
	f, ok := r.formats[formatKey{marker: marker, version: version}]
	if !ok {
		return nil, &UnsupportedVersionError{Marker: marker, Version: version}
	}
	return f, nil
}

// Profiles lists the registered profiles in registration order.
func (r *Registry) Profiles() []Profile {
	out := make([]Profile, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.formats[k].Profile())
	}
	return out
}

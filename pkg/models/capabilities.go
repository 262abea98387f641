package models

// Capabilities is the snapshot of usable backends for one orchestrator run.
// It is computed once and read-only afterwards.
type Capabilities struct {
	// Available maps a backend to whether its probe succeeded.
	Available map[Backend]bool `json:"available"`
	// Versions holds the first line of each available backend's version output.
	Versions map[Backend]string `json:"versions,omitempty"`
	// Declared lists backends named in the project manifest.
	Declared map[Backend]bool `json:"declared,omitempty"`
	// ManifestPackageManager is the package manager pinned by the manifest.
	ManifestPackageManager Backend `json:"manifest_package_manager,omitempty"`
}

// NewCapabilities returns a snapshot where exactly the given backends are available.
func NewCapabilities(available ...Backend) Capabilities {
	c := Capabilities{
		Available: make(map[Backend]bool),
		Versions:  make(map[Backend]string),
		Declared:  make(map[Backend]bool),
	}
	for _, b := range AllBackends() {
		c.Available[b] = false
	}
	for _, b := range available {
		c.Available[b] = true
	}
	return c
}

// Has reports whether the backend is available.
func (c Capabilities) Has(b Backend) bool {
	return c.Available[b]
}

// AvailableBackends returns available backends in default priority order.
func (c Capabilities) AvailableBackends() []Backend {
	var out []Backend
	for _, b := range defaultPriority {
		if c.Available[b] {
			out = append(out, b)
		}
	}
	return out
}

// Any reports whether at least one backend is available.
func (c Capabilities) Any() bool {
	for _, ok := range c.Available {
		if ok {
			return true
		}
	}
	return false
}

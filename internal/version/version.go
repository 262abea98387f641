// Package version exposes the stackrun release version.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// Get returns the embedded version, or "dev" when the VERSION file is empty.
func Get() string {
	if v := strings.TrimSpace(raw); v != "" {
		return v
	}
	return "dev"
}

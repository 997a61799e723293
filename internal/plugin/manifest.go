package plugin

import (
	"fmt"

	"sigs.k8s.io/yaml"
)

// Manifest is a plugin's immutable self-description. Identifier and version
// are the coordinates the dependency resolver works with; the rest is
// operator-facing metadata.
type Manifest struct {
	// ID is the unique plugin identifier, reverse-DNS or kebab-case.
	ID string `json:"id" validate:"required"`

	// Name is the human-readable plugin name.
	Name string `json:"name" validate:"required"`

	// Version is the plugin's semver version.
	Version string `json:"version" validate:"required"`

	// Description explains what the plugin provides.
	Description string `json:"description" validate:"required"`

	// Author identifies the plugin's maintainer.
	Author string `json:"author" validate:"required"`

	// License is the plugin's license identifier.
	License string `json:"license" validate:"required"`

	// Keywords tag the plugin for discovery.
	Keywords []string `json:"keywords,omitempty"`

	// Dependencies maps required plugin identifiers to semver ranges.
	Dependencies map[string]string `json:"dependencies,omitempty"`

	// Engines constrains the runtime (e.g. objectos: ">=1.0.0").
	Engines map[string]string `json:"engines,omitempty"`

	// Permissions declares the capabilities the plugin intends to use.
	Permissions []string `json:"permissions,omitempty"`
}

// ParseManifest decodes a manifest from YAML (or JSON, which is a YAML
// subset). Shape validation is the validator's job; this only decodes.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return m, nil
}

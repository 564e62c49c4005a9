package plugin

import (
	"fmt"
	"log"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Manifest lists the plugins to load, in order.
type Manifest struct {
	Plugins []Entry `yaml:"plugins"`
}

// Entry is one plugin in a manifest.
type Entry struct {
	Name    string         `yaml:"name"`
	Enabled *bool          `yaml:"enabled,omitempty"`
	Options map[string]any `yaml:"options,omitempty"`
}

// IsEnabled returns whether the entry is enabled (default true).
func (e Entry) IsEnabled() bool {
	if e.Enabled == nil {
		return true
	}
	return *e.Enabled
}

// ParseManifest decodes a YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse plugin manifest: %w", err)
	}
	for i, e := range m.Plugins {
		if e.Name == "" {
			return nil, fmt.Errorf("plugin manifest entry %d: name is required", i)
		}
	}
	return &m, nil
}

// LoadManifest reads and decodes the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin manifest: %w", err)
	}
	return ParseManifest(data)
}

// Factory builds a plugin from its manifest options.
type Factory func(opts map[string]any) (Plugin, error)

// Catalog maps plugin names to factories.
type Catalog map[string]Factory

// Names returns the catalog's plugin names, sorted.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the enabled entries of m in order. Unknown or
// duplicate names are errors; nothing is returned on failure.
func (c Catalog) Build(m *Manifest) ([]Plugin, error) {
	seen := make(map[string]bool)
	var plugins []Plugin
	for _, e := range m.Plugins {
		if !e.IsEnabled() {
			continue
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("plugin %q listed twice", e.Name)
		}
		seen[e.Name] = true

		factory, ok := c[e.Name]
		if !ok {
			return nil, fmt.Errorf("unknown plugin %q", e.Name)
		}
		pl, err := factory(e.Options)
		if err != nil {
			return nil, fmt.Errorf("build plugin %q: %w", e.Name, err)
		}
		plugins = append(plugins, pl)
	}
	return plugins, nil
}

// Reload rebuilds the plugin set from the manifest at path and swaps it in.
// On any error the active set is left untouched.
func (p *Pipeline) Reload(path string, catalog Catalog) error {
	m, err := LoadManifest(path)
	if err != nil {
		return err
	}
	plugins, err := catalog.Build(m)
	if err != nil {
		return err
	}
	p.Replace(plugins)
	log.Printf("[Plugin] 🔄 Loaded %d plugin(s) from %s: %v", len(plugins), path, p.Names())
	return nil
}

package permissions

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Metadata describes a permission for role editors and permission grids
type Metadata struct {
	Key         Key    `json:"key" yaml:"key"`
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description" yaml:"description"`
	Group       string `json:"group" yaml:"group"`
}

// Group is a named section of the catalog with its permissions in catalog order
type Group struct {
	Name        string     `json:"name"`
	Label       string     `json:"label"`
	Permissions []Metadata `json:"permissions"`
}

// Preset is a curated bundle of permissions used to pre-fill new roles
type Preset struct {
	Name        string `json:"name" yaml:"name"`
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description" yaml:"description"`
	Permissions []Key  `json:"permissions" yaml:"permissions"`
}

// Catalog is the parsed, read-only permission catalog
type Catalog struct {
	version     int
	permissions []Metadata
	byKey       map[Key]Metadata
	groups      []Group
	presets     []Preset
	graph       *Graph
}

type catalogFile struct {
	Version int `yaml:"version"`
	Groups  []struct {
		Name  string `yaml:"name"`
		Label string `yaml:"label"`
	} `yaml:"groups"`
	Permissions []struct {
		Metadata `yaml:",inline"`
		Implies  []Key `yaml:"implies"`
	} `yaml:"permissions"`
	Presets []Preset `yaml:"presets"`
}

var (
	defaultCatalog *Catalog
	loadOnce       sync.Once
)

// Default returns the catalog embedded in the binary. It is parsed once; an invalid
// embedded catalog is a build defect and panics.
func Default() *Catalog {
	loadOnce.Do(func() {
		c, err := ParseCatalog(catalogYAML)
		if err != nil {
			panic(fmt.Sprintf("permissions: embedded catalog is invalid: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// ParseCatalog parses and validates a catalog document
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := &Catalog{
		version: file.Version,
		byKey:   make(map[Key]Metadata, len(file.Permissions)),
	}

	groupIndex := make(map[string]int, len(file.Groups))
	for _, g := range file.Groups {
		if _, dup := groupIndex[g.Name]; dup {
			return nil, fmt.Errorf("duplicate group %q", g.Name)
		}
		groupIndex[g.Name] = len(c.groups)
		c.groups = append(c.groups, Group{Name: g.Name, Label: g.Label})
	}

	edges := make(map[Key][]Key)
	for _, p := range file.Permissions {
		if p.Key == "" {
			return nil, fmt.Errorf("permission without key")
		}
		if _, dup := c.byKey[p.Key]; dup {
			return nil, fmt.Errorf("duplicate permission %q", p.Key)
		}
		idx, ok := groupIndex[p.Group]
		if !ok {
			return nil, fmt.Errorf("permission %q references unknown group %q", p.Key, p.Group)
		}
		c.byKey[p.Key] = p.Metadata
		c.permissions = append(c.permissions, p.Metadata)
		c.groups[idx].Permissions = append(c.groups[idx].Permissions, p.Metadata)
		if len(p.Implies) > 0 {
			edges[p.Key] = p.Implies
		}
	}

	for from, to := range edges {
		for _, k := range to {
			if _, ok := c.byKey[k]; !ok {
				return nil, fmt.Errorf("permission %q implies unknown permission %q", from, k)
			}
		}
	}

	for _, preset := range file.Presets {
		for _, k := range preset.Permissions {
			if _, ok := c.byKey[k]; !ok {
				return nil, fmt.Errorf("preset %q references unknown permission %q", preset.Name, k)
			}
		}
		c.presets = append(c.presets, preset)
	}

	c.graph = NewGraph(edges)
	if k, cyclic := c.graph.hasCycle(); cyclic {
		return nil, fmt.Errorf("implication cycle through %q", k)
	}

	return c, nil
}

// Version returns the catalog document version
func (c *Catalog) Version() int {
	return c.version
}

// Keys returns every permission key in catalog order
func (c *Catalog) Keys() []Key {
	keys := make([]Key, len(c.permissions))
	for i, p := range c.permissions {
		keys[i] = p.Key
	}
	return keys
}

// All returns the entire catalog as a set
func (c *Catalog) All() Set {
	return NewSet(c.Keys()...)
}

// Permissions returns metadata for every permission in catalog order
func (c *Catalog) Permissions() []Metadata {
	return append([]Metadata(nil), c.permissions...)
}

// Lookup returns the metadata for key
func (c *Catalog) Lookup(key Key) (Metadata, bool) {
	m, ok := c.byKey[key]
	return m, ok
}

// Known reports whether key is part of the catalog
func (c *Catalog) Known(key Key) bool {
	_, ok := c.byKey[key]
	return ok
}

// Groups returns the catalog grouped for display
func (c *Catalog) Groups() []Group {
	out := make([]Group, len(c.groups))
	for i, g := range c.groups {
		out[i] = Group{
			Name:        g.Name,
			Label:       g.Label,
			Permissions: append([]Metadata(nil), g.Permissions...),
		}
	}
	return out
}

// Presets returns the curated permission bundles
func (c *Catalog) Presets() []Preset {
	out := make([]Preset, len(c.presets))
	for i, p := range c.presets {
		p.Permissions = append([]Key(nil), p.Permissions...)
		out[i] = p
	}
	return out
}

// Graph returns the implication graph built from the catalog
func (c *Catalog) Graph() *Graph {
	return c.graph
}

// Expand expands selected through the default catalog's implication graph
func Expand(selected Set) Set {
	return Default().Graph().Expand(selected)
}

// DependencyWarnings reports what selected will auto-grant under the default catalog
func DependencyWarnings(selected Set) []DependencyWarning {
	return Default().Graph().DependencyWarnings(selected)
}

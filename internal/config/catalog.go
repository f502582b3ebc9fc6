package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Facility is a known parking structure.
type Facility struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Capacity int    `yaml:"capacity,omitempty" json:"capacity,omitempty"`
}

// CatalogFile is the parsed YAML structure of the facility catalog:
// facilities: [{id, name, capacity}]
type CatalogFile struct {
	Facilities []Facility `yaml:"facilities"`
}

// Catalog indexes facilities by id. A nil Catalog knows no facility.
type Catalog struct {
	byID map[string]Facility
}

// NewCatalog builds a catalog from validated facilities.
func NewCatalog(facilities []Facility) *Catalog {
	byID := make(map[string]Facility, len(facilities))
	for _, f := range facilities {
		byID[f.ID] = f
	}
	return &Catalog{byID: byID}
}

// Lookup returns the facility for an id.
func (c *Catalog) Lookup(id string) (Facility, bool) {
	if c == nil {
		return Facility{}, false
	}
	f, ok := c.byID[id]
	return f, ok
}

// Len returns the number of known facilities.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.byID)
}

// Name returns the display name for id, falling back to the id itself.
func (c *Catalog) Name(id string) string {
	if f, ok := c.Lookup(id); ok && f.Name != "" {
		return f.Name
	}
	return id
}

// LoadCatalogFile parses a YAML catalog from the given path.
// Returns nil if path is empty (no catalog). The catalog may not list more facilities than ceiling.
func LoadCatalogFile(path string, ceiling int) (*Catalog, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var cf CatalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}

	if err := validateFacilities(cf.Facilities, ceiling); err != nil {
		return nil, err
	}

	return NewCatalog(cf.Facilities), nil
}

func validateFacilities(facilities []Facility, ceiling int) error {
	if len(facilities) == 0 {
		return fmt.Errorf("catalog file contains no facilities")
	}
	if ceiling > 0 && len(facilities) > ceiling {
		return fmt.Errorf("catalog lists %d facilities, state ceiling is %d", len(facilities), ceiling)
	}

	seen := make(map[string]bool)
	for i := range facilities {
		f := &facilities[i]
		f.ID = strings.TrimSpace(f.ID)
		if f.ID == "" {
			return fmt.Errorf("facility %d: id is required", i)
		}
		if seen[f.ID] {
			return fmt.Errorf("facility %q: duplicate id", f.ID)
		}
		seen[f.ID] = true

		if f.Capacity < 0 {
			return fmt.Errorf("facility %q: capacity cannot be negative", f.ID)
		}
	}

	return nil
}

package cascade

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/dubedad/jobforge/internal/model"
)

// Catalog names the attributes a batch should fill and which tiers may
// fill each one.
type Catalog struct {
	Defaults   CatalogDefaults `yaml:"defaults"`
	Attributes []AttributeSpec `yaml:"attributes"`

	byName map[string]int
}

// CatalogDefaults apply to attributes that do not set their own tiers.
type CatalogDefaults struct {
	Tiers []string `yaml:"tiers"`
}

// AttributeSpec configures one attribute.
type AttributeSpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// Category is the external classification category queried for this
	// attribute. Defaults to the attribute name.
	Category string `yaml:"category"`
	// Tiers lists the tiers allowed to supply a value. Native values are
	// always allowed.
	Tiers []string `yaml:"tiers"`

	allowed map[model.SourceTier]bool
}

var allTiers = []string{
	model.TierAuthoritative.String(),
	model.TierExternalCrosswalk.String(),
	model.TierGenerative.String(),
}

// LoadCatalog reads an attribute catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "cascade: read catalog %s", path)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a catalog document. The YAML has a top-level
// "catalog" key.
func ParseCatalog(data []byte) (*Catalog, error) {
	var wrapper struct {
		Catalog Catalog `yaml:"catalog"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "cascade: parse catalog")
	}
	c := wrapper.Catalog
	if err := c.init(); err != nil {
		return nil, err
	}
	return &c, nil
}

// NewCatalog builds a catalog in code, allowing every tier for each name.
// Empty and repeated names are skipped.
func NewCatalog(names ...string) *Catalog {
	c := &Catalog{}
	seen := make(map[string]bool)
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		c.Attributes = append(c.Attributes, AttributeSpec{Name: n})
	}
	_ = c.init()
	return c
}

func (c *Catalog) init() error {
	if len(c.Defaults.Tiers) == 0 {
		c.Defaults.Tiers = allTiers
	}
	c.byName = make(map[string]int, len(c.Attributes))
	for i := range c.Attributes {
		a := &c.Attributes[i]
		if a.Name == "" {
			return eris.Errorf("cascade: catalog attribute %d has no name", i)
		}
		if _, dup := c.byName[a.Name]; dup {
			return eris.Errorf("cascade: duplicate catalog attribute %q", a.Name)
		}
		c.byName[a.Name] = i
		if a.Category == "" {
			a.Category = a.Name
		}
		tiers := a.Tiers
		if len(tiers) == 0 {
			tiers = c.Defaults.Tiers
		}
		a.allowed = map[model.SourceTier]bool{model.TierNative: true}
		for _, name := range tiers {
			t, err := model.ParseSourceTier(name)
			if err != nil {
				return eris.Wrapf(err, "cascade: attribute %q", a.Name)
			}
			a.allowed[t] = true
		}
	}
	return nil
}

// Names returns the attribute names in catalog order.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.Attributes))
	for i, a := range c.Attributes {
		out[i] = a.Name
	}
	return out
}

// Has reports whether the catalog lists the attribute.
func (c *Catalog) Has(name string) bool {
	if c == nil {
		return false
	}
	_, ok := c.byName[name]
	return ok
}

// Allows reports whether tier may supply a value for the attribute.
// Unlisted attributes allow nothing.
func (c *Catalog) Allows(name string, tier model.SourceTier) bool {
	if c == nil {
		return false
	}
	i, ok := c.byName[name]
	if !ok {
		return false
	}
	return c.Attributes[i].allowed[tier]
}

// Categories maps attribute names to external categories.
func (c *Catalog) Categories() map[string]string {
	out := make(map[string]string)
	if c == nil {
		return out
	}
	for _, a := range c.Attributes {
		out[a.Name] = a.Category
	}
	return out
}

// Descriptions maps attribute names to their descriptions, skipping empty
// ones.
func (c *Catalog) Descriptions() map[string]string {
	out := make(map[string]string)
	if c == nil {
		return out
	}
	for _, a := range c.Attributes {
		if a.Description != "" {
			out[a.Name] = a.Description
		}
	}
	return out
}

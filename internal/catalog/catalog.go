package catalog

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Catalog holds the tariff and feature definitions for the billing engine.
// It is built once at startup and read-only afterwards, so it is safe for
// concurrent use.
type Catalog struct {
	tariffs  map[string]*TariffPlan
	features map[string]*FeatureConfig
}

// file is the YAML shape of a catalog seed file.
type file struct {
	Tariffs  []TariffPlan    `yaml:"tariffs"`
	Features []FeatureConfig `yaml:"features"`
}

// New builds a Catalog from the given definitions, validating every entry.
func New(tariffs []TariffPlan, features []FeatureConfig) (*Catalog, error) {
	v := validator.New()

	c := &Catalog{
		tariffs:  make(map[string]*TariffPlan, len(tariffs)),
		features: make(map[string]*FeatureConfig, len(features)),
	}

	for i := range tariffs {
		t := tariffs[i]
		if err := v.Struct(t); err != nil {
			return nil, fmt.Errorf("invalid tariff %q: %w", t.Name, err)
		}
		if _, exists := c.tariffs[t.Name]; exists {
			return nil, fmt.Errorf("duplicate tariff %q", t.Name)
		}
		c.tariffs[t.Name] = &t
	}

	for i := range features {
		f := features[i]
		if err := v.Struct(f); err != nil {
			return nil, fmt.Errorf("invalid feature %q: %w", f.Name, err)
		}
		if _, exists := c.features[f.Name]; exists {
			return nil, fmt.Errorf("duplicate feature %q", f.Name)
		}
		c.features[f.Name] = &f
	}

	// Allow-lists and included limits must reference known entries.
	for _, f := range c.features {
		for _, tn := range f.AccessTariffs {
			if _, ok := c.tariffs[tn]; !ok {
				return nil, fmt.Errorf("feature %q references unknown tariff %q", f.Name, tn)
			}
		}
	}
	for _, t := range c.tariffs {
		for fn := range t.IncludedLimits {
			if _, ok := c.features[fn]; !ok {
				return nil, fmt.Errorf("tariff %q includes limit for unknown feature %q", t.Name, fn)
			}
		}
	}

	return c, nil
}

// LoadFile reads a YAML catalog seed file and builds a Catalog from it.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog file: %w", err)
	}

	return New(f.Tariffs, f.Features)
}

// Tariff returns the tariff plan with the given name.
func (c *Catalog) Tariff(name string) (*TariffPlan, bool) {
	t, ok := c.tariffs[name]
	return t, ok
}

// Feature returns the feature config with the given name.
func (c *Catalog) Feature(name string) (*FeatureConfig, bool) {
	f, ok := c.features[name]
	return f, ok
}

// Tariffs returns all tariff plans sorted by name.
func (c *Catalog) Tariffs() []*TariffPlan {
	out := make([]*TariffPlan, 0, len(c.tariffs))
	for _, t := range c.tariffs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Features returns all feature configs sorted by name.
func (c *Catalog) Features() []*FeatureConfig {
	out := make([]*FeatureConfig, 0, len(c.features))
	for _, f := range c.features {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FeaturesForTariff returns the features usable by an organization on the
// given tariff name (empty string means no tariff): every ungated feature
// plus any gated feature whose allow-list includes the tariff.
func (c *Catalog) FeaturesForTariff(tariffName string) []*FeatureConfig {
	var out []*FeatureConfig
	for _, f := range c.features {
		if f.AccessibleFrom(tariffName) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

package gate

import (
	_ "embed"
	"fmt"
	"os"
	"reflect"
	"sync"

	"gopkg.in/yaml.v3"

	dErrors "afterimage/pkg/domain-errors"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// Resolver looks up parameter tables by version tag. Implementations must
// return the same table for a tag for the lifetime of the process.
type Resolver interface {
	Weights(version string) (WeightTable, error)
	Thresholds(version string) (ThresholdTable, error)
}

// Catalog is an append-only registry of versioned parameter tables.
// Registering an identical table twice is a no-op; redefining a tag fails.
type Catalog struct {
	mu         sync.RWMutex
	weights    map[string]WeightTable
	thresholds map[string]ThresholdTable
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		weights:    make(map[string]WeightTable),
		thresholds: make(map[string]ThresholdTable),
	}
}

// DefaultCatalog returns a catalog holding the built-in parameter tables.
func DefaultCatalog() (*Catalog, error) {
	c := NewCatalog()
	if err := c.LoadYAML(builtinCatalog); err != nil {
		return nil, fmt.Errorf("load builtin catalog: %w", err)
	}
	return c, nil
}

// RegisterWeights adds a weight table under its version tag.
func (c *Catalog) RegisterWeights(w WeightTable) error {
	if err := w.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.weights[w.Version]; ok {
		if existing == w {
			return nil
		}
		return fmt.Errorf("weights version %s is already defined with different coefficients", w.Version)
	}
	c.weights[w.Version] = w
	return nil
}

// RegisterThresholds adds a threshold table under its version tag.
func (c *Catalog) RegisterThresholds(t ThresholdTable) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t = t.clone()
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.thresholds[t.Version]; ok {
		if reflect.DeepEqual(existing, t) {
			return nil
		}
		return fmt.Errorf("thresholds version %s is already defined with different bounds", t.Version)
	}
	c.thresholds[t.Version] = t
	return nil
}

// Weights resolves a weight table. Unknown tags never fall back to a default.
func (c *Catalog) Weights(version string) (WeightTable, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.weights[version]
	if !ok {
		return WeightTable{}, dErrors.New(dErrors.CodeUnknownVersion, fmt.Sprintf("unknown weights version %q", version))
	}
	return w, nil
}

// Thresholds resolves a threshold table.
func (c *Catalog) Thresholds(version string) (ThresholdTable, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.thresholds[version]
	if !ok {
		return ThresholdTable{}, dErrors.New(dErrors.CodeUnknownVersion, fmt.Sprintf("unknown thresholds version %q", version))
	}
	return t.clone(), nil
}

type catalogFile struct {
	Weights    []WeightTable    `yaml:"weights"`
	Thresholds []ThresholdTable `yaml:"thresholds"`
}

// LoadYAML registers every table in a YAML catalog document.
func (c *Catalog) LoadYAML(data []byte) error {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}
	for _, w := range f.Weights {
		if err := c.RegisterWeights(w); err != nil {
			return err
		}
	}
	for _, t := range f.Thresholds {
		if err := c.RegisterThresholds(t); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile registers the tables of a YAML catalog file.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog %s: %w", path, err)
	}
	return c.LoadYAML(data)
}

func (t ThresholdTable) clone() ThresholdTable {
	rules := make(map[Gate]CooldownRule, len(t.Cooldowns))
	for g, r := range t.Cooldowns {
		rules[g] = r
	}
	t.Cooldowns = rules
	return t
}

// Package catalog holds the static model metadata table.
//
// DESIGN: The catalog is read-only after construction. Tests build small
// catalogs by hand; the gateway uses Builtin(). Pricing is USD per million
// tokens. The synthetic "auto" entry marks "classify and pick" and must
// never be forwarded upstream.
package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// AutoModelID is the synthetic classify-and-pick model id.
const AutoModelID = "auto"

// Capabilities flags what a model can do.
type Capabilities struct {
	Reasoning bool `json:"reasoning"`
	Vision    bool `json:"vision"`
	Agentic   bool `json:"agentic"`
	Tools     bool `json:"tools"`
}

// Model is an immutable metadata record for one upstream model.
type Model struct {
	ID            string       `json:"id"`
	DisplayName   string       `json:"display_name"`
	Family        string       `json:"family"` // provider family, e.g. "openai"
	InputPerMTok  float64      `json:"input_per_mtok"`
	OutputPerMTok float64      `json:"output_per_mtok"`
	ContextWindow int          `json:"context_window"`
	MaxOutput     int          `json:"max_output"`
	Caps          Capabilities `json:"capabilities"`
}

// IsAuto reports whether this is the synthetic routing entry.
func (m Model) IsAuto() bool { return m.ID == AutoModelID }

// Catalog is an id-indexed model table with an alias map.
type Catalog struct {
	models  map[string]Model
	ordered []string // insertion order, for stable listings
	aliases map[string]string
}

// New builds a catalog from a model list and alias table.
// Duplicate ids and aliases pointing at unknown models are rejected.
func New(models []Model, aliases map[string]string) (*Catalog, error) {
	c := &Catalog{
		models:  make(map[string]Model, len(models)),
		ordered: make([]string, 0, len(models)),
		aliases: make(map[string]string, len(aliases)),
	}
	for _, m := range models {
		if m.ID == "" {
			return nil, fmt.Errorf("model with empty id")
		}
		if _, dup := c.models[m.ID]; dup {
			return nil, fmt.Errorf("duplicate model id: %s", m.ID)
		}
		c.models[m.ID] = m
		c.ordered = append(c.ordered, m.ID)
	}
	for alias, target := range aliases {
		if _, ok := c.models[target]; !ok {
			return nil, fmt.Errorf("alias %q points at unknown model %q", alias, target)
		}
		c.aliases[strings.ToLower(alias)] = target
	}
	return c, nil
}

// Get returns the model for an exact id.
func (c *Catalog) Get(id string) (Model, bool) {
	m, ok := c.models[id]
	return m, ok
}

// Has reports whether an exact id exists.
func (c *Catalog) Has(id string) bool {
	_, ok := c.models[id]
	return ok
}

// ResolveAlias normalizes a client-supplied model name: trim, lowercase,
// alias lookup. Unknown names are returned as-is (lowercased), so resolution
// is idempotent: resolve(resolve(x)) == resolve(x).
func (c *Catalog) ResolveAlias(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if target, ok := c.aliases[normalized]; ok {
		return target
	}
	return normalized
}

// All returns every model in insertion order, including the auto entry.
func (c *Catalog) All() []Model {
	out := make([]Model, 0, len(c.ordered))
	for _, id := range c.ordered {
		out = append(out, c.models[id])
	}
	return out
}

// Listable returns the models exposed on /v1/models: everything except auto,
// sorted by id for a stable wire listing.
func (c *Catalog) Listable() []Model {
	out := make([]Model, 0, len(c.models))
	for _, m := range c.models {
		if m.IsAuto() {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of models, auto included.
func (c *Catalog) Len() int { return len(c.models) }

// EstimateCost computes the USD cost of a request against a model.
func EstimateCost(m Model, inputTokens, outputTokens int) float64 {
	in := float64(inputTokens) / 1_000_000 * m.InputPerMTok
	out := float64(outputTokens) / 1_000_000 * m.OutputPerMTok
	return in + out
}

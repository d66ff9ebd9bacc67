package feature

import (
	"fmt"
	"slices"
	"strings"

	"github.com/kailas-cloud/entitled/internal/domain"
)

// Feature is a gated capability in the catalog.
type Feature struct {
	id          string
	name        string
	description string
}

// New creates a Feature. The id must be non-empty.
func New(id, name, description string) (Feature, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Feature{}, fmt.Errorf("%w: feature id is required", domain.ErrInvalidRequest)
	}
	if name == "" {
		name = id
	}
	return Feature{id: id, name: name, description: description}, nil
}

// ID returns the opaque feature identifier.
func (f Feature) ID() string { return f.id }

// Name returns the display name.
func (f Feature) Name() string { return f.name }

// Description returns the catalog description.
func (f Feature) Description() string { return f.description }

// Catalog is an ordered, read-only set of features.
type Catalog struct {
	order []string
	byID  map[string]Feature
}

// NewCatalog builds a Catalog. Duplicate ids are rejected.
func NewCatalog(features ...Feature) (Catalog, error) {
	c := Catalog{byID: make(map[string]Feature, len(features))}
	for _, f := range features {
		if _, dup := c.byID[f.id]; dup {
			return Catalog{}, fmt.Errorf("%w: duplicate feature %q", domain.ErrInvalidRequest, f.id)
		}
		c.byID[f.id] = f
		c.order = append(c.order, f.id)
	}
	return c, nil
}

// Empty reports whether the catalog has no features. An empty catalog accepts any id.
func (c Catalog) Empty() bool { return len(c.order) == 0 }

// Lookup returns a feature by id.
func (c Catalog) Lookup(id string) (Feature, error) {
	f, ok := c.byID[id]
	if !ok {
		return Feature{}, fmt.Errorf("%w: %s", domain.ErrUnknownFeature, id)
	}
	return f, nil
}

// Known reports whether id is accepted by the catalog.
func (c Catalog) Known(id string) bool {
	if c.Empty() {
		return true
	}
	_, ok := c.byID[id]
	return ok
}

// IDs returns feature ids in catalog order.
func (c Catalog) IDs() []string { return slices.Clone(c.order) }

// List returns features in catalog order.
func (c Catalog) List() []Feature {
	out := make([]Feature, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

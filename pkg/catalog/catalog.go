// Package catalog implements the model catalog: a registry of task,
// data-service, composition, and deployment models, threaded explicitly
// through instantiation and dependency injection rather than held as
// global state.
package catalog

import (
	"sort"
	"sync"

	"github.com/davidthor/orochestra/pkg/model"
)

// Catalog is a registry of models, safe for concurrent read access once
// populated. Registration is expected to happen during startup and be
// externally serialized; the mutex exists to make
// concurrent reads safe, not to support concurrent writers racing each
// other.
type Catalog struct {
	mu     sync.RWMutex
	models map[string]*model.Model
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{models: make(map[string]*model.Model)}
}

// Register adds a model under its name, overwriting any prior entry of
// the same name.
func (c *Catalog) Register(m *model.Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[m.Name] = m
}

// RegisterAll registers every given model.
func (c *Catalog) RegisterAll(models []*model.Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range models {
		c.models[m.Name] = m
	}
}

// Lookup returns the model registered under name, if any.
func (c *Catalog) Lookup(name string) (*model.Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[name]
	return m, ok
}

// All returns every registered model, sorted by name for deterministic
// iteration.
func (c *Catalog) All() []*model.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*model.Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Fulfilling returns every registered model that fulfills target,
// sorted by name: the candidate implementations of a data service, or
// the subtypes of a component model. The network fixture uses it to
// expand a data service named as a default into the components that
// implement it.
func (c *Catalog) Fulfilling(target *model.Model) []*model.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*model.Model
	for _, m := range c.models {
		if m.Fulfills(target) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

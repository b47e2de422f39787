package registry

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/poeproxy/poe-openai-proxy/internal/config"
)

// UnknownModelError is returned by Catalog.Lookup for names the catalog does not know.
type UnknownModelError struct {
	Model     string
	Available []string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("Model '%s' not available. Available models: [%s]", e.Model, strings.Join(e.Available, ", "))
}

// StatusCode reports the HTTP status for an unknown model.
func (e *UnknownModelError) StatusCode() int { return http.StatusBadRequest }

// Catalog is the concurrency-safe model lookup table. Entries are addressable by
// catalog id, client name or Poe bot name, case-insensitively.
type Catalog struct {
	mu     sync.RWMutex
	models []*ModelInfo
	index  map[string]*ModelInfo
}

// NewCatalog builds a catalog from the built-in definitions merged with overrides.
func NewCatalog(overrides []config.ModelConfig) *Catalog {
	c := &Catalog{}
	c.Update(overrides)
	return c
}

// Update rebuilds the catalog. Overrides with an id matching a built-in entry replace
// its fields; unknown ids are appended.
func (c *Catalog) Update(overrides []config.ModelConfig) {
	models := builtinModels()
	byID := make(map[string]*ModelInfo, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}
	for _, o := range overrides {
		id := strings.TrimSpace(o.ID)
		if id == "" {
			continue
		}
		m, ok := byID[id]
		if !ok {
			m = &ModelInfo{ID: id, ClientName: id, PoeName: id, OwnedBy: "poe"}
			byID[id] = m
			models = append(models, m)
		}
		if name := strings.TrimSpace(o.ClientName); name != "" {
			m.ClientName = name
		}
		if name := strings.TrimSpace(o.PoeName); name != "" {
			m.PoeName = name
		}
		m.Reasoning = o.Reasoning
		m.NativeTools = o.NativeTools
	}

	index := make(map[string]*ModelInfo, len(models)*3)
	for _, m := range models {
		for _, key := range []string{m.PoeName, m.ClientName, m.ID} {
			index[strings.ToLower(key)] = m
		}
	}

	c.mu.Lock()
	c.models = models
	c.index = index
	c.mu.Unlock()
}

// Resolve returns the catalog entry for name.
func (c *Catalog) Resolve(name string) (*ModelInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.index[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false
	}
	cp := *m
	return &cp, true
}

// Lookup is Resolve with an UnknownModelError for misses.
func (c *Catalog) Lookup(name string) (*ModelInfo, error) {
	if m, ok := c.Resolve(name); ok {
		return m, nil
	}
	return nil, &UnknownModelError{Model: name, Available: c.IDs()}
}

// SupportsNativeTools reports whether model accepts protocol-level tool definitions.
func (c *Catalog) SupportsNativeTools(model string) bool {
	m, ok := c.Resolve(model)
	return ok && m.NativeTools
}

// IsReasoning reports whether model emits a thinking trace.
func (c *Catalog) IsReasoning(model string) bool {
	m, ok := c.Resolve(model)
	return ok && m.Reasoning
}

// List returns copies of all entries in catalog order.
func (c *Catalog) List() []ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ModelInfo, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, *m)
	}
	return out
}

// IDs returns the client-facing names in catalog order.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m.ClientName)
	}
	return out
}

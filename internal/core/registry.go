package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// FieldSpec describes one importable field of an entity.
type FieldSpec struct {
	Key         string    // Record key, e.g. "priceEur"
	Label       string    // Header used in templates, e.g. "Price EUR"
	Type        FieldType // Storage type, used for templates and conversion
	Required    bool
	Example     string // Sample value written to templates
	Description string
}

// EntityDefinition is everything needed to import one kind of record.
type EntityDefinition struct {
	Key   string // URL segment, e.g. "products"
	Label string
	Sheet string // Worksheet name for XLSX templates; defaults to Label

	Fields      []FieldSpec
	ImageFields []string // Passed to SanitizeBulkImportData; nil means DefaultImageFields

	// Validate checks required fields and strips bad payloads in place.
	Validate func(items []Record) ValidationOutcome

	// Upsert writes one record and reports whether it was created or updated.
	Upsert func(ctx context.Context, db DBTX, item Record) (UpsertResult, error)
}

// SheetName returns the worksheet name used for templates.
func (d EntityDefinition) SheetName() string {
	if d.Sheet != "" {
		return d.Sheet
	}
	return d.Label
}

// Field returns the field named key.
func (d EntityDefinition) Field(key string) (FieldSpec, bool) {
	for _, f := range d.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Registry holds entity definitions by key.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]EntityDefinition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]EntityDefinition)}
}

// Register adds an entity definition.
// Panics if the key is empty, already registered, or the definition has no
// Validate or Upsert function.
func (r *Registry) Register(def EntityDefinition) {
	def.Key = normalizeKey(def.Key)
	if def.Key == "" || def.Validate == nil || def.Upsert == nil {
		panic(fmt.Sprintf("incomplete entity definition: %q", def.Key))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[def.Key]; exists {
		panic(fmt.Sprintf("entity already registered: %s", def.Key))
	}
	r.entries[def.Key] = def
}

// Get returns an entity definition by key, case-insensitively.
func (r *Registry) Get(key string) (EntityDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.entries[normalizeKey(key)]
	return def, ok
}

func normalizeKey(key string) string { return strings.ToLower(strings.TrimSpace(key)) }

// All returns every definition sorted by key.
func (r *Registry) All() []EntityDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]EntityDefinition, 0, len(r.entries))
	for _, def := range r.entries {
		result = append(result, def)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

// Keys returns the registered keys, sorted.
func (r *Registry) Keys() []string {
	all := r.All()
	keys := make([]string, len(all))
	for i, def := range all {
		keys[i] = def.Key
	}
	return keys
}

// Len returns the number of registered entities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

var defaultRegistry = NewRegistry()

// Register adds def to the default registry. Entity packages call it from init.
func Register(def EntityDefinition) { defaultRegistry.Register(def) }

// Get looks up key in the default registry.
func Get(key string) (EntityDefinition, bool) { return defaultRegistry.Get(key) }

// All returns every definition in the default registry.
func All() []EntityDefinition { return defaultRegistry.All() }

// DefaultRegistry returns the registry filled by Register.
func DefaultRegistry() *Registry { return defaultRegistry }

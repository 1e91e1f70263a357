package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/atvirokodosprendimai/csvschema/internal/core/domain"
	"github.com/atvirokodosprendimai/csvschema/internal/core/ports"
)

// SchemaRegistry caches every schema known to a repository. Iteration order is
// the order schemas were first seen.
type SchemaRegistry struct {
	repo ports.SchemaRepository

	mu      sync.RWMutex
	schemas map[string]domain.Schema
	order   []string
}

// NewSchemaRegistry drains repo once.
func NewSchemaRegistry(ctx context.Context, repo ports.SchemaRepository) *SchemaRegistry {
	r := &SchemaRegistry{repo: repo, schemas: make(map[string]domain.Schema)}
	for schema := range repo.LoadAll(ctx) {
		r.put(schema)
	}
	return r
}

func (r *SchemaRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

func (r *SchemaRegistry) Get(name string) (domain.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schema, ok := r.schemas[name]
	return schema, ok
}

// Register persists schema and then makes it visible. Nothing changes in
// memory when persistence fails.
func (r *SchemaRegistry) Register(ctx context.Context, schema domain.Schema) error {
	if err := domain.ValidateSchemaName(schema.Name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.repo.Save(ctx, schema); err != nil {
		return fmt.Errorf("save schema %s: %w", schema.Name, err)
	}
	r.put(schema)
	return nil
}

// put must be called with mu held for writing, or before r is shared.
func (r *SchemaRegistry) put(schema domain.Schema) {
	if _, exists := r.schemas[schema.Name]; !exists {
		r.order = append(r.order, schema.Name)
	}
	r.schemas[schema.Name] = schema
}

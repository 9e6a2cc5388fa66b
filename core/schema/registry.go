// Package schema implements the versioned type registry. Type versions are
// immutable once published; evolution is strictly additive, so the property
// set at version N is always a subset of the set at version N+1.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/siherrmann/memoir/helper"
	"github.com/siherrmann/memoir/model"
	"github.com/siherrmann/memoir/store"
)

// Registry holds the authoritative type definitions. Mutations are
// serialized per type name; a concurrent mutation on the same type fails
// fast with model.ErrSchemaBusy instead of interleaving partial versions.
type Registry struct {
	store store.TypeStore
	log   *slog.Logger

	mu    sync.RWMutex
	types map[string][]*model.EntityType // committed versions, ascending

	lockMu    sync.Mutex
	typeLocks map[string]*sync.Mutex
}

// NewRegistry loads all committed type versions from the store.
func NewRegistry(ctx context.Context, typeStore store.TypeStore, logger *slog.Logger) (*Registry, error) {
	if typeStore == nil {
		return nil, helper.NewError("type store validation", fmt.Errorf("type store is nil"))
	}

	registry := &Registry{
		store:     typeStore,
		log:       logger,
		types:     map[string][]*model.EntityType{},
		typeLocks: map[string]*sync.Mutex{},
	}

	versions, err := typeStore.SelectAllTypeVersions(ctx)
	if err != nil {
		return nil, helper.NewError("load type versions", err)
	}
	for _, v := range versions {
		registry.types[v.Name] = append(registry.types[v.Name], v)
	}

	logger.Info("Initialized schema registry", slog.Int("types", len(registry.types)))

	return registry, nil
}

// typeLock returns the single logical writer lock for a type name.
func (r *Registry) typeLock(name string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	lock, ok := r.typeLocks[name]
	if !ok {
		lock = &sync.Mutex{}
		r.typeLocks[name] = lock
	}
	return lock
}

// ProposeType validates a new type definition without committing it.
// Schema growth is never silent: the proposal must be committed explicitly.
func (r *Registry) ProposeType(name string, properties []model.PropertyDef) (*model.TypeProposal, error) {
	if err := model.ValidateIdentifier(name, "type"); err != nil {
		return nil, err
	}
	if len(properties) == 0 {
		return nil, fmt.Errorf("type %q must have at least one property", name)
	}
	seen := map[string]bool{}
	for _, p := range properties {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("property %q defined twice: %w", p.Name, model.ErrDuplicateProperty)
		}
		seen[p.Name] = true
	}

	return &model.TypeProposal{
		Name:       name,
		Properties: append([]model.PropertyDef(nil), properties...),
		ProposedAt: time.Now(),
	}, nil
}

// CommitType publishes version 1 of a proposed type. Fails with
// model.ErrDuplicateType if the name already exists.
func (r *Registry) CommitType(ctx context.Context, proposal *model.TypeProposal) (*model.EntityType, error) {
	lock := r.typeLock(proposal.Name)
	if !lock.TryLock() {
		return nil, fmt.Errorf("type %q: %w", proposal.Name, model.ErrSchemaBusy)
	}
	defer lock.Unlock()

	r.mu.RLock()
	_, exists := r.types[proposal.Name]
	r.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("type %q: %w", proposal.Name, model.ErrDuplicateType)
	}

	// Reference properties must point at committed types or the type
	// being created (self reference).
	for _, p := range proposal.Properties {
		if p.Kind == model.KindReference && p.RefType != proposal.Name {
			if _, err := r.GetType(p.RefType); err != nil {
				return nil, fmt.Errorf("property %q references %q: %w", p.Name, p.RefType, model.ErrUnknownType)
			}
		}
	}

	typ := &model.EntityType{
		Name:       proposal.Name,
		Version:    1,
		Properties: append([]model.PropertyDef(nil), proposal.Properties...),
		CreatedAt:  time.Now(),
	}

	if err := r.persist(ctx, "commit_type", typ); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.types[typ.Name] = []*model.EntityType{typ}
	r.mu.Unlock()

	r.log.Info("Committed type", slog.String("type", typ.Name), slog.Int("properties", len(typ.Properties)))

	return typ.Clone(), nil
}

// AddProperty publishes version N+1 with the new property appended.
// Historical versions are never mutated or removed.
func (r *Registry) AddProperty(ctx context.Context, typeName string, def model.PropertyDef) (*model.EntityType, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if def.Kind == model.KindReference && def.RefType != typeName {
		if _, err := r.GetType(def.RefType); err != nil {
			return nil, fmt.Errorf("property %q references %q: %w", def.Name, def.RefType, model.ErrUnknownType)
		}
	}

	lock := r.typeLock(typeName)
	if !lock.TryLock() {
		return nil, fmt.Errorf("type %q: %w", typeName, model.ErrSchemaBusy)
	}
	defer lock.Unlock()

	r.mu.RLock()
	versions, exists := r.types[typeName]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("type %q: %w", typeName, model.ErrUnknownType)
	}

	current := versions[len(versions)-1]
	if current.Property(def.Name) != nil {
		return nil, fmt.Errorf("type %q property %q: %w", typeName, def.Name, model.ErrDuplicateProperty)
	}

	next := current.Clone()
	next.Version = current.Version + 1
	next.Properties = append(next.Properties, def)
	next.CreatedAt = time.Now()

	if err := r.persist(ctx, "add_property", next); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.types[typeName] = append(r.types[typeName], next)
	r.mu.Unlock()

	r.log.Info("Added property",
		slog.String("type", typeName),
		slog.String("property", def.Name),
		slog.Int("version", next.Version))

	return next.Clone(), nil
}

// DeprecateProperty publishes version N+1 with the property marked
// deprecated. The property is never deleted; historical data stays valid.
func (r *Registry) DeprecateProperty(ctx context.Context, typeName string, propertyName string) (*model.EntityType, error) {
	lock := r.typeLock(typeName)
	if !lock.TryLock() {
		return nil, fmt.Errorf("type %q: %w", typeName, model.ErrSchemaBusy)
	}
	defer lock.Unlock()

	r.mu.RLock()
	versions, exists := r.types[typeName]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("type %q: %w", typeName, model.ErrUnknownType)
	}

	current := versions[len(versions)-1]
	if current.Property(propertyName) == nil {
		return nil, fmt.Errorf("type %q has no property %q", typeName, propertyName)
	}

	next := current.Clone()
	next.Version = current.Version + 1
	next.CreatedAt = time.Now()
	for i := range next.Properties {
		if next.Properties[i].Name == propertyName {
			next.Properties[i].Deprecated = true
		}
	}

	if err := r.persist(ctx, "deprecate_property", next); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.types[typeName] = append(r.types[typeName], next)
	r.mu.Unlock()

	return next.Clone(), nil
}

// GetType returns the current version of a type, or model.ErrUnknownType.
func (r *Registry) GetType(name string) (*model.EntityType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, exists := r.types[name]
	if !exists {
		return nil, fmt.Errorf("type %q: %w", name, model.ErrUnknownType)
	}
	return versions[len(versions)-1].Clone(), nil
}

// GetTypeVersion returns one committed version of a type.
func (r *Registry) GetTypeVersion(name string, version int) (*model.EntityType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, exists := r.types[name]
	if !exists {
		return nil, fmt.Errorf("type %q: %w", name, model.ErrUnknownType)
	}
	if version < 1 || version > len(versions) {
		return nil, fmt.Errorf("type %q has no version %d: %w", name, version, model.ErrUnknownType)
	}
	return versions[version-1].Clone(), nil
}

func (r *Registry) persist(ctx context.Context, opType string, typ *model.EntityType) error {
	if err := r.store.InsertTypeVersion(ctx, typ); err != nil {
		return helper.NewError("insert type version", err)
	}
	payload, err := json.Marshal(typ)
	if err != nil {
		return helper.NewError("marshal schema op", err)
	}
	if err := r.store.RecordSchemaOp(ctx, opType, payload); err != nil {
		return helper.NewError("record schema op", err)
	}
	return nil
}

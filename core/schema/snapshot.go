package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/siherrmann/memoir/model"
)

// Snapshot is an immutable point-in-time view of the registry. A logical
// request pins one snapshot for its whole lifetime so an in-flight schema
// version bump never mixes old and new property sets in one response.
type Snapshot struct {
	types map[string]*model.EntityType
}

// Snapshot returns the current version of every committed type.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := &Snapshot{types: make(map[string]*model.EntityType, len(r.types))}
	for name, versions := range r.types {
		snap.types[name] = versions[len(versions)-1].Clone()
	}
	return snap
}

// Get returns the pinned version of a type, or model.ErrUnknownType.
func (s *Snapshot) Get(name string) (*model.EntityType, error) {
	typ, ok := s.types[name]
	if !ok {
		return nil, fmt.Errorf("type %q: %w", name, model.ErrUnknownType)
	}
	return typ, nil
}

// Has reports whether the snapshot contains a type.
func (s *Snapshot) Has(name string) bool {
	_, ok := s.types[name]
	return ok
}

// TypeNames returns the sorted names of all pinned types.
func (s *Snapshot) TypeNames() []string {
	names := make([]string, 0, len(s.types))
	for name := range s.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary renders a concise schema listing for prompt context, one line
// per type with its property names.
func (s *Snapshot) Summary() string {
	var b strings.Builder
	b.WriteString("Types:")
	names := s.TypeNames()
	if len(names) == 0 {
		b.WriteString("\n(none)")
		return b.String()
	}
	for _, name := range names {
		typ := s.types[name]
		b.WriteString(fmt.Sprintf("\n- %s (%s)", name, strings.Join(typ.PropertyNames(), ", ")))
	}
	return b.String()
}

package table

import "fmt"

// Registry holds tables in registration order. Registration order is a
// contract: when a path matches several tables' patterns, the
// first-registered match owns the path, always.
type Registry struct {
	tables []*Table
	byName map[string]*Table
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Table)}
}

// Register appends a table. Names must be unique.
func (r *Registry) Register(t *Table) error {
	if t.Name == "" {
		return fmt.Errorf("table has no name")
	}
	if t.Pattern == "" {
		return fmt.Errorf("table %s has no path pattern", t.Name)
	}
	if _, exists := r.byName[t.Name]; exists {
		return fmt.Errorf("table %s already registered", t.Name)
	}
	r.tables = append(r.tables, t)
	r.byName[t.Name] = t
	return nil
}

// Resolve returns the first-registered table whose pattern matches path,
// or nil when no table owns it.
func (r *Registry) Resolve(path string) *Table {
	for _, t := range r.tables {
		if t.IsRecordFile(path) {
			return t
		}
	}
	return nil
}

// MatchesAny reports whether any table's pattern matches path. This is
// the cheap first-layer filter applied during history scans, before the
// per-table ownership resolution.
func (r *Registry) MatchesAny(path string) bool {
	return r.Resolve(path) != nil
}

// Patterns returns every table's pattern, in registration order. Used to
// scope archive activity streams.
func (r *Registry) Patterns() []string {
	out := make([]string, len(r.tables))
	for i, t := range r.tables {
		out[i] = t.Pattern
	}
	return out
}

// Tables returns the tables in registration order.
func (r *Registry) Tables() []*Table {
	return r.tables
}

// Get returns the table with the given name, or nil.
func (r *Registry) Get(name string) *Table {
	return r.byName[name]
}

// ClearAll wipes every table's store. Rebuilds are always global.
func (r *Registry) ClearAll() error {
	for _, t := range r.tables {
		if err := t.Store.Clear(); err != nil {
			return fmt.Errorf("clear table %s: %w", t.Name, err)
		}
	}
	return nil
}

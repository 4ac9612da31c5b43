package histories

import (
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm/schema"
)

// Registration binds one source schema to its synthesized history table
type Registration struct {
	// Source is the parsed schema of the audited model
	Source *schema.Schema
	// History is the synthesized history table definition
	History *History
	// JoinOwner and JoinTarget are set only for many2many join tables:
	// the join columns referencing the owning and the target side of the
	// relation, resolved at registration time.
	JoinOwner  string
	JoinTarget string
}

// IsJoin reports whether this registration shadows a many2many join table
func (r *Registration) IsJoin() bool {
	return r.JoinOwner != ""
}

// Registry maps source table names to their registrations. It is written
// only while models are being registered (process startup) and is treated
// as append-only afterwards, so concurrent readers share one RWMutex.
type Registry struct {
	mu      sync.RWMutex
	byTable map[string]*Registration
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{byTable: make(map[string]*Registration)}
}

func (r *Registry) add(reg *Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	table := reg.Source.Table
	if _, ok := r.byTable[table]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, table)
	}
	r.byTable[table] = reg
	return nil
}

// Lookup returns the registration for a source table, if any
func (r *Registry) Lookup(table string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byTable[table]
	return reg, ok
}

// Tables lists the audited source tables in lexical order. External
// tooling (the admin surface) uses this to discover what is audited.
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tables := make([]string, 0, len(r.byTable))
	for table := range r.byTable {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}

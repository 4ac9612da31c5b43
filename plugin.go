package histories

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Plugin wires history recording into a *gorm.DB. Install it once with
// db.Use, then register each audited model.
type Plugin struct {
	registry *Registry
	notifier Notifier
	now      func() time.Time
}

// Option configures the plugin
type Option func(*Plugin)

// WithNotifier publishes a ChangeEvent after every recorded entry.
// Notification is best-effort: failures are logged through the db's
// logger and never fail the audited mutation.
func WithNotifier(n Notifier) Option {
	return func(p *Plugin) { p.notifier = n }
}

// WithClock overrides the history timestamp source
func WithClock(now func() time.Time) Option {
	return func(p *Plugin) { p.now = now }
}

// New creates a plugin with an empty registry
func New(opts ...Option) *Plugin {
	p := &Plugin{
		registry: NewRegistry(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements gorm.Plugin
func (p *Plugin) Name() string {
	return "histories"
}

// Initialize implements gorm.Plugin: it installs the lifecycle callbacks
func (p *Plugin) Initialize(db *gorm.DB) error {
	return p.bindCallbacks(db)
}

// Registry exposes the process-wide source-table registry for tooling
func (p *Plugin) Registry() *Registry {
	return p.registry
}

type registerOptions struct {
	table       string
	displayName string
	m2mFields   []string
	skipMigrate bool
}

// RegisterOption configures one model registration
type RegisterOption func(*registerOptions)

// WithTableName overrides the synthesized history table name
func WithTableName(table string) RegisterOption {
	return func(o *registerOptions) { o.table = table }
}

// WithDisplayName overrides the derived human-readable name
func WithDisplayName(name string) RegisterOption {
	return func(o *registerOptions) { o.displayName = name }
}

// WithManyToMany designates many2many relation fields whose membership
// changes are audited through their join tables
func WithManyToMany(fields ...string) RegisterOption {
	return func(o *registerOptions) { o.m2mFields = append(o.m2mFields, fields...) }
}

// WithoutMigration skips history table creation; the caller owns the DDL
func WithoutMigration() RegisterOption {
	return func(o *registerOptions) { o.skipMigrate = true }
}

// Register synthesizes the history table for model, creates it, and adds
// the model to the registry so the lifecycle callbacks start recording.
// Registration happens once at startup; errors here are configuration or
// synthesis failures and should be treated as fatal by the caller.
func (p *Plugin) Register(db *gorm.DB, model interface{}, opts ...RegisterOption) error {
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}

	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return fmt.Errorf("histories: parse model: %w", err)
	}
	src := stmt.Schema

	hist, err := synthesizeHistory(src, o)
	if err != nil {
		return err
	}

	reg := &Registration{Source: src, History: hist}
	if err := p.registry.add(reg); err != nil {
		return err
	}

	if !o.skipMigrate {
		if err := createHistoryTable(db, hist); err != nil {
			return err
		}
	}

	for _, field := range o.m2mFields {
		if err := p.registerJoin(db, src, field, o); err != nil {
			return err
		}
	}

	return nil
}

// registerJoin recursively registers a many2many join table as a source
// schema of its own, per the through-relation shadow model.
func (p *Plugin) registerJoin(db *gorm.DB, src *schema.Schema, field string, o registerOptions) error {
	rel, ok := src.Relationships.Relations[field]
	if !ok || rel.Type != schema.Many2Many || rel.JoinTable == nil {
		return fmt.Errorf("%w: %s.%s", ErrNotManyToMany, src.Name, field)
	}

	join := rel.JoinTable
	if _, registered := p.registry.Lookup(join.Table); registered {
		// both sides may designate the same relation
		return nil
	}

	ownerCol, targetCol := joinSides(rel)
	if ownerCol == "" || targetCol == "" {
		// Cannot tell the owning from the target side of the relation;
		// membership recording for it is skipped rather than guessed.
		db.Logger.Warn(db.Statement.Context,
			"histories: cannot resolve owner/target sides of %s.%s, membership changes will not be recorded",
			src.Name, field)
		return nil
	}

	hist, err := synthesizeHistory(join, registerOptions{})
	if err != nil {
		return err
	}

	reg := &Registration{
		Source:     join,
		History:    hist,
		JoinOwner:  ownerCol,
		JoinTarget: targetCol,
	}
	if err := p.registry.add(reg); err != nil {
		return err
	}

	if !o.skipMigrate {
		if err := createHistoryTable(db, hist); err != nil {
			return err
		}
	}

	return nil
}

// joinSides inspects the relation's references to resolve which join
// column points at the owning schema and which at the target schema.
func joinSides(rel *schema.Relationship) (ownerCol, targetCol string) {
	for _, ref := range rel.References {
		if ref.ForeignKey == nil {
			continue
		}
		if ref.OwnPrimaryKey {
			ownerCol = ref.ForeignKey.DBName
		} else {
			targetCol = ref.ForeignKey.DBName
		}
	}
	return ownerCol, targetCol
}

// lookupStatement resolves the statement's table in the registry
func (p *Plugin) lookupStatement(db *gorm.DB) *Registration {
	table := db.Statement.Table
	if table == "" && db.Statement.Schema != nil {
		table = db.Statement.Schema.Table
	}
	if table == "" {
		return nil
	}
	reg, ok := p.registry.Lookup(table)
	if !ok {
		return nil
	}
	return reg
}

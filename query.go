package histories

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// ForInstance scopes the history table to one source instance, ordered
// reverse-chronologically with the sequence id breaking ties.
func (p *Plugin) ForInstance(db *gorm.DB, instance interface{}) (*gorm.DB, error) {
	reg, rv, err := p.registrationFor(db, instance)
	if err != nil {
		return nil, err
	}

	q := db.Table(reg.History.Table).Order(reg.History.Ordering())
	ctx := context.Background()
	for _, pf := range reg.Source.PrimaryFields {
		v, zero := pf.ValueOf(ctx, rv)
		if zero {
			return nil, fmt.Errorf("histories: instance of %s has no primary key value", reg.Source.Table)
		}
		q = q.Where(quoteIdent(db.Dialector.Name(), pf.DBName)+" = ?", v)
	}
	return q, nil
}

// Entries returns the instance's history, newest first
func (p *Plugin) Entries(ctx context.Context, db *gorm.DB, instance interface{}) ([]Entry, error) {
	reg, _, err := p.registrationFor(db, instance)
	if err != nil {
		return nil, err
	}
	q, err := p.ForInstance(db.WithContext(ctx), instance)
	if err != nil {
		return nil, err
	}
	return scanEntries(q, reg)
}

// EntriesForKey returns the history of the row identified by the given
// primary-key value, rendered as text. Intended for tooling that only has
// the table name and key, like the admin surface.
func (p *Plugin) EntriesForKey(ctx context.Context, db *gorm.DB, table, key string, limit, offset int) ([]Entry, error) {
	reg, ok := p.registry.Lookup(table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, table)
	}

	pf := reg.Source.PrioritizedPrimaryField
	if pf == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, table)
	}
	keyValue, err := convertKey(pf, key)
	if err != nil {
		return nil, err
	}

	q := db.WithContext(ctx).
		Table(reg.History.Table).
		Where(quoteIdent(db.Dialector.Name(), pf.DBName)+" = ?", keyValue).
		Order(reg.History.Ordering())
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	return scanEntries(q, reg)
}

// EntryByID fetches a single history entry by its sequence id
func (p *Plugin) EntryByID(ctx context.Context, db *gorm.DB, table string, historyID int64) (Entry, error) {
	reg, ok := p.registry.Lookup(table)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotRegistered, table)
	}

	var rows []map[string]interface{}
	err := db.WithContext(ctx).
		Table(reg.History.Table).
		Where(ColumnHistoryID+" = ?", historyID).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return Entry{}, fmt.Errorf("histories: load entry %d of %s: %w", historyID, table, err)
	}
	if len(rows) == 0 {
		return Entry{}, fmt.Errorf("%w: %s/%d", ErrEntryNotFound, table, historyID)
	}
	return entryFromRow(reg, rows[0]), nil
}

// MembershipHistory returns the join-table history of a designated
// many2many relation, scoped to the owning instance, newest first.
func (p *Plugin) MembershipHistory(ctx context.Context, db *gorm.DB, owner interface{}, field string) ([]Entry, error) {
	reg, rv, err := p.registrationFor(db, owner)
	if err != nil {
		return nil, err
	}

	rel, ok := reg.Source.Relationships.Relations[field]
	if !ok || rel.Type != schema.Many2Many || rel.JoinTable == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotManyToMany, reg.Source.Name, field)
	}
	joinReg, ok := p.registry.Lookup(rel.JoinTable.Table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, rel.JoinTable.Table)
	}

	pf := reg.Source.PrioritizedPrimaryField
	if pf == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, reg.Source.Table)
	}
	ownerKey, zero := pf.ValueOf(context.Background(), rv)
	if zero {
		return nil, fmt.Errorf("histories: instance of %s has no primary key value", reg.Source.Table)
	}

	q := db.WithContext(ctx).
		Table(joinReg.History.Table).
		Where(quoteIdent(db.Dialector.Name(), joinReg.JoinOwner)+" = ?", ownerKey).
		Order(joinReg.History.Ordering())
	return scanEntries(q, joinReg)
}

// AsOf materializes a transient source-shaped instance from a single
// entry's stored values, without touching the live table. dest must be a
// pointer to the registered model type. Scalar columns round-trip
// losslessly: re-snapshotting the materialized instance yields the values
// captured at recording time.
func (p *Plugin) AsOf(entry Entry, dest interface{}) error {
	reg, ok := p.registry.Lookup(entry.Table)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, entry.Table)
	}

	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("histories: AsOf destination must be a non-nil pointer")
	}
	if reflect.Indirect(rv).Type() != reg.Source.ModelType {
		return fmt.Errorf("histories: AsOf destination must be *%s", reg.Source.ModelType.Name())
	}

	ctx := context.Background()
	for _, f := range reg.Source.Fields {
		if f.DBName == "" {
			continue
		}
		v, ok := entry.Values[f.DBName]
		if !ok || v == nil {
			continue
		}
		if err := f.Set(ctx, rv, v); err != nil {
			return fmt.Errorf("histories: set %s.%s: %w", reg.Source.Name, f.Name, err)
		}
	}
	return nil
}

// RevertURL computes the admin restore endpoint for an entry
func (e Entry) RevertURL(base string) string {
	return fmt.Sprintf("%s/api/v1/tables/%s/rows/%s/history/%d/revert",
		strings.TrimRight(base, "/"), e.Table, e.SourceKey, e.ID)
}

// registrationFor parses instance and resolves its registration
func (p *Plugin) registrationFor(db *gorm.DB, instance interface{}) (*Registration, reflect.Value, error) {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(instance); err != nil {
		return nil, reflect.Value{}, fmt.Errorf("histories: parse instance: %w", err)
	}
	reg, ok := p.registry.Lookup(stmt.Schema.Table)
	if !ok {
		return nil, reflect.Value{}, fmt.Errorf("%w: %s", ErrNotRegistered, stmt.Schema.Table)
	}
	return reg, reflect.Indirect(reflect.ValueOf(instance)), nil
}

// scanEntries runs the scoped query and converts rows to entries
func scanEntries(q *gorm.DB, reg *Registration) ([]Entry, error) {
	var rows []map[string]interface{}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("histories: load entries of %s: %w", reg.Source.Table, err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, entryFromRow(reg, row))
	}
	return entries, nil
}

// entryFromRow splits one scanned history row into audit metadata and the
// source column snapshot.
func entryFromRow(reg *Registration, row map[string]interface{}) Entry {
	e := Entry{
		Table:  reg.Source.Table,
		Values: make(map[string]interface{}, len(row)),
	}
	for k, v := range row {
		switch k {
		case ColumnHistoryID:
			e.ID = toInt64(v)
		case ColumnHistoryULID:
			e.ULID = toString(v)
		case ColumnHistoryDate:
			e.Date = toTime(v)
		case ColumnHistoryActor:
			if v != nil {
				s := toString(v)
				e.Actor = &s
			}
		case ColumnHistoryType:
			e.Type = ChangeType(toString(v))
		default:
			e.Values[k] = v
		}
	}
	if pf := reg.Source.PrioritizedPrimaryField; pf != nil {
		if v, ok := e.Values[pf.DBName]; ok && v != nil {
			e.SourceKey = toString(v)
		}
	}
	return e
}

// convertKey parses a text-rendered primary key into the field's Go type
func convertKey(f *schema.Field, key string) (interface{}, error) {
	switch f.DataType {
	case schema.Int:
		v, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("histories: key %q is not an integer: %w", key, err)
		}
		return v, nil
	case schema.Uint:
		v, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("histories: key %q is not an integer: %w", key, err)
		}
		return v, nil
	default:
		return key, nil
	}
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

func toTime(v interface{}) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
		return time.Time{}
	default:
		return time.Time{}
	}
}

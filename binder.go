package histories

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// Callback names registered on the db. Registration is idempotent per db.
const (
	callbackBeforeCreate = "histories:before_create"
	callbackAfterCreate  = "histories:after_create"
	callbackBeforeUpdate = "histories:before_update"
	callbackAfterUpdate  = "histories:after_update"
	callbackBeforeDelete = "histories:before_delete"
	callbackAfterDelete  = "histories:after_delete"

	// instance keys stash state between the before and after halves of a
	// statement's callbacks
	instanceKeyDeleted = "histories:pending_deletes"
	instanceKeyUpdated = "histories:pending_updates"
	instanceKeyPresent = "histories:present_joins"
)

// bindCallbacks subscribes the recorder to the db's create, update and
// delete pipeline. Each pipeline also gets a pre-hook: deletes capture
// rows while they still exist, updates capture the keys their predicate
// matches before the update can change the predicate columns, and join
// creates note which pairs were already present before the upsert.
func (p *Plugin) bindCallbacks(db *gorm.DB) error {
	cb := db.Callback()
	if cb.Create().Get(callbackAfterCreate) != nil {
		return nil
	}

	if err := cb.Create().Before("gorm:create").Register(callbackBeforeCreate, p.beforeCreate); err != nil {
		return fmt.Errorf("histories: register create capture callback: %w", err)
	}
	if err := cb.Create().After("gorm:create").Register(callbackAfterCreate, p.afterCreate); err != nil {
		return fmt.Errorf("histories: register create callback: %w", err)
	}
	if err := cb.Update().Before("gorm:update").Register(callbackBeforeUpdate, p.beforeUpdate); err != nil {
		return fmt.Errorf("histories: register update capture callback: %w", err)
	}
	if err := cb.Update().After("gorm:update").Register(callbackAfterUpdate, p.afterUpdate); err != nil {
		return fmt.Errorf("histories: register update callback: %w", err)
	}
	if err := cb.Delete().Before("gorm:delete").Register(callbackBeforeDelete, p.beforeDelete); err != nil {
		return fmt.Errorf("histories: register delete capture callback: %w", err)
	}
	if err := cb.Delete().After("gorm:delete").Register(callbackAfterDelete, p.afterDelete); err != nil {
		return fmt.Errorf("histories: register delete callback: %w", err)
	}
	return nil
}

// beforeCreate notes which of the join pairs the statement carries exist
// already. Membership appends upsert with ON CONFLICT DO NOTHING, so a
// pair that was already present is not inserted and must not produce a
// fresh created entry.
func (p *Plugin) beforeCreate(db *gorm.DB) {
	if db.Error != nil || db.Statement.Schema == nil {
		return
	}
	reg := p.lookupStatement(db)
	if reg == nil || !reg.IsJoin() {
		return
	}

	cols := primaryColumns(reg.Source)
	expr := primaryKeyConditions(db.Statement.Context, reg.Source, db.Statement.ReflectValue)
	if len(cols) == 0 || expr == nil {
		return
	}

	sess := db.Session(&gorm.Session{NewDB: true, SkipHooks: true})
	var rows []map[string]interface{}
	err := sess.Table(db.Statement.Table).
		Select(cols).
		Clauses(clause.Where{Exprs: []clause.Expression{expr}}).
		Find(&rows).Error
	if err != nil {
		_ = db.AddError(fmt.Errorf("histories: read present rows of %s: %w", db.Statement.Table, err))
		return
	}
	if len(rows) == 0 {
		return
	}

	present := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		present[rowKey(cols, row)] = struct{}{}
	}
	db.InstanceSet(instanceKeyPresent, present)
}

// afterCreate records one created entry per inserted row. For join
// tables, rows the upsert skipped over are filtered out.
func (p *Plugin) afterCreate(db *gorm.DB) {
	if db.Error != nil || db.Statement.Schema == nil || db.RowsAffected == 0 {
		return
	}
	reg := p.lookupStatement(db)
	if reg == nil {
		return
	}
	if suppressed(db) {
		return
	}

	snapshots := statementSnapshots(db, reg.Source)
	if present := presentJoinRows(db); present != nil {
		cols := primaryColumns(reg.Source)
		kept := snapshots[:0]
		for _, values := range snapshots {
			if _, ok := present[rowKey(cols, values)]; ok {
				continue
			}
			kept = append(kept, values)
		}
		snapshots = kept
	}
	for _, values := range snapshots {
		p.record(db, reg, values, ChangeTypeCreated)
	}
}

func presentJoinRows(db *gorm.DB) map[string]struct{} {
	v, ok := db.InstanceGet(instanceKeyPresent)
	if !ok {
		return nil
	}
	present, _ := v.(map[string]struct{})
	return present
}

// beforeUpdate resolves the statement's predicate to primary keys while
// the predicate still holds. The update may change the very column the
// predicate filters on, so matching again afterwards is not an option.
func (p *Plugin) beforeUpdate(db *gorm.DB) {
	if db.Error != nil || db.Statement.Schema == nil {
		return
	}
	reg := p.lookupStatement(db)
	if reg == nil {
		return
	}
	if expr := p.affectedKeys(db, reg); expr != nil {
		db.InstanceSet(instanceKeyUpdated, expr)
	}
}

// afterUpdate records one changed entry per affected row. Rows are
// re-read by the keys captured before the update, inside the triggering
// transaction, so map-based and batch updates snapshot what is actually
// stored.
func (p *Plugin) afterUpdate(db *gorm.DB) {
	if db.Error != nil || db.Statement.Schema == nil || db.RowsAffected == 0 {
		return
	}
	reg := p.lookupStatement(db)
	if reg == nil {
		return
	}
	if suppressed(db) {
		return
	}
	v, ok := db.InstanceGet(instanceKeyUpdated)
	if !ok {
		return
	}
	expr, ok := v.(clause.Expression)
	if !ok {
		return
	}
	for _, values := range p.rowsMatching(db, expr) {
		p.record(db, reg, values, ChangeTypeChanged)
	}
}

// beforeDelete captures the rows the statement is about to remove
func (p *Plugin) beforeDelete(db *gorm.DB) {
	if db.Error != nil || db.Statement.Schema == nil {
		return
	}
	reg := p.lookupStatement(db)
	if reg == nil {
		return
	}
	if rows := p.affectedRows(db, reg); len(rows) > 0 {
		db.InstanceSet(instanceKeyDeleted, rows)
	}
}

// afterDelete records a deleted entry per captured row. Deletions are
// always recorded; the suppression marker does not apply.
func (p *Plugin) afterDelete(db *gorm.DB) {
	if db.Error != nil || db.RowsAffected == 0 {
		return
	}
	reg := p.lookupStatement(db)
	if reg == nil {
		return
	}
	v, ok := db.InstanceGet(instanceKeyDeleted)
	if !ok {
		return
	}
	rows, ok := v.([]map[string]interface{})
	if !ok {
		return
	}
	for _, values := range rows {
		p.record(db, reg, values, ChangeTypeDeleted)
	}
}

// affectedKeys selects the primary keys of the rows the current
// statement's predicate matches and folds them into one OR-of-row-keys
// condition. Returns nil when the predicate matches nothing.
func (p *Plugin) affectedKeys(db *gorm.DB, reg *Registration) clause.Expression {
	stmt := db.Statement

	exprs := whereExprs(stmt)
	pkExpr := primaryKeyConditions(stmt.Context, reg.Source, stmt.ReflectValue)
	if len(exprs) == 0 && pkExpr == nil {
		return nil
	}
	cols := primaryColumns(reg.Source)
	if len(cols) == 0 {
		return nil
	}

	sess := db.Session(&gorm.Session{NewDB: true, SkipHooks: true})
	q := sess.Table(stmt.Table).Select(cols)
	if len(exprs) > 0 {
		q = q.Clauses(clause.Where{Exprs: exprs})
	}
	if pkExpr != nil {
		q = q.Clauses(clause.Where{Exprs: []clause.Expression{pkExpr}})
	}

	var rows []map[string]interface{}
	if err := q.Find(&rows).Error; err != nil {
		_ = db.AddError(fmt.Errorf("histories: read affected keys of %s: %w", stmt.Table, err))
		return nil
	}

	var rowConds []clause.Expression
	for _, row := range rows {
		var eqs []clause.Expression
		for _, col := range cols {
			eqs = append(eqs, clause.Eq{Column: clause.Column{Name: col}, Value: row[col]})
		}
		rowConds = append(rowConds, clause.And(eqs...))
	}
	if len(rowConds) == 0 {
		return nil
	}
	return clause.Or(rowConds...)
}

// rowsMatching selects full rows for the given condition. The read
// shares the statement's connection, so inside a transaction it observes
// that transaction's writes.
func (p *Plugin) rowsMatching(db *gorm.DB, expr clause.Expression) []map[string]interface{} {
	stmt := db.Statement
	sess := db.Session(&gorm.Session{NewDB: true, SkipHooks: true})

	var rows []map[string]interface{}
	err := sess.Table(stmt.Table).
		Clauses(clause.Where{Exprs: []clause.Expression{expr}}).
		Find(&rows).Error
	if err != nil {
		_ = db.AddError(fmt.Errorf("histories: read changed rows of %s: %w", stmt.Table, err))
		return nil
	}
	return rows
}

// affectedRows selects the rows the current statement touches, using the
// statement's own conditions plus primary-key values carried by the
// destination value. Used by the delete capture, where the predicate
// still holds at read time.
func (p *Plugin) affectedRows(db *gorm.DB, reg *Registration) []map[string]interface{} {
	stmt := db.Statement

	exprs := whereExprs(stmt)
	pkExpr := primaryKeyConditions(stmt.Context, reg.Source, stmt.ReflectValue)
	if len(exprs) == 0 && pkExpr == nil {
		return nil
	}

	sess := db.Session(&gorm.Session{NewDB: true, SkipHooks: true})
	q := sess.Table(stmt.Table)
	if len(exprs) > 0 {
		q = q.Clauses(clause.Where{Exprs: exprs})
	}
	if pkExpr != nil {
		q = q.Clauses(clause.Where{Exprs: []clause.Expression{pkExpr}})
	}

	var rows []map[string]interface{}
	if err := q.Find(&rows).Error; err != nil {
		_ = db.AddError(fmt.Errorf("histories: read affected rows of %s: %w", stmt.Table, err))
		return nil
	}
	return rows
}

// primaryColumns lists the schema's primary-key column names
func primaryColumns(s *schema.Schema) []string {
	cols := make([]string, 0, len(s.PrimaryFields))
	for _, pf := range s.PrimaryFields {
		cols = append(cols, pf.DBName)
	}
	return cols
}

// rowKey renders a row's key columns into one comparable string. Values
// come back from the driver in driver-specific integer widths, so the
// textual form is the common denominator.
func rowKey(cols []string, values map[string]interface{}) string {
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = fmt.Sprint(values[col])
	}
	return strings.Join(parts, "\x1f")
}

// whereExprs copies the statement's WHERE expressions, if any
func whereExprs(stmt *gorm.Statement) []clause.Expression {
	c, ok := stmt.Clauses["WHERE"]
	if !ok {
		return nil
	}
	where, ok := c.Expression.(clause.Where)
	if !ok || len(where.Exprs) == 0 {
		return nil
	}
	exprs := make([]clause.Expression, len(where.Exprs))
	copy(exprs, where.Exprs)
	return exprs
}

// primaryKeyConditions builds an OR-of-row-keys condition from the
// destination value's populated primary keys, mirroring how the delete
// callback itself derives its conditions.
func primaryKeyConditions(ctx context.Context, s *schema.Schema, rv reflect.Value) clause.Expression {
	var rowConds []clause.Expression

	appendRow := func(row reflect.Value) {
		row = reflect.Indirect(row)
		if row.Kind() != reflect.Struct {
			return
		}
		var eqs []clause.Expression
		for _, pf := range s.PrimaryFields {
			v, zero := pf.ValueOf(ctx, row)
			if zero {
				return
			}
			eqs = append(eqs, clause.Eq{Column: clause.Column{Name: pf.DBName}, Value: v})
		}
		if len(eqs) > 0 {
			rowConds = append(rowConds, clause.And(eqs...))
		}
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			appendRow(rv.Index(i))
		}
	case reflect.Struct, reflect.Ptr:
		appendRow(rv)
	}

	if len(rowConds) == 0 {
		return nil
	}
	return clause.Or(rowConds...)
}

// statementSnapshots reads column values straight from the statement's
// destination, one snapshot per row. Used for creates, where the
// destination carries the final values including generated keys.
func statementSnapshots(db *gorm.DB, s *schema.Schema) []map[string]interface{} {
	rv := db.Statement.ReflectValue
	ctx := db.Statement.Context

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		snapshots := make([]map[string]interface{}, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if m := snapshotStruct(ctx, s, rv.Index(i)); m != nil {
				snapshots = append(snapshots, m)
			}
		}
		return snapshots
	default:
		if m := snapshotStruct(ctx, s, rv); m != nil {
			return []map[string]interface{}{m}
		}
		return nil
	}
}

// snapshotStruct captures every persisted column's current value
func snapshotStruct(ctx context.Context, s *schema.Schema, rv reflect.Value) map[string]interface{} {
	rv = reflect.Indirect(rv)
	if rv.Kind() != reflect.Struct {
		return nil
	}
	values := make(map[string]interface{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.DBName == "" {
			continue
		}
		v, _ := f.ValueOf(ctx, rv)
		values[f.DBName] = v
	}
	return values
}

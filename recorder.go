package histories

import (
	"fmt"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// record snapshots one source row into one history row. One row per
// invocation, no batching, no deduplication: even a no-op update records.
// The insert runs on the statement's own connection, so it shares the
// transaction of the mutation it audits and rolls back with it. Insert
// failures propagate to the caller of the triggering mutation unmodified.
func (p *Plugin) record(db *gorm.DB, reg *Registration, source map[string]interface{}, changeType ChangeType) {
	row := make(map[string]interface{}, len(reg.History.Columns)+5)
	for _, c := range reg.History.Columns {
		if v, ok := source[c.Name]; ok {
			row[c.Name] = v
		}
	}

	occurredAt := p.now()
	changeULID := ulid.Make().String()
	actor := actorFor(db)

	row[ColumnHistoryULID] = changeULID
	row[ColumnHistoryDate] = occurredAt
	row[ColumnHistoryType] = string(changeType)
	if actor != nil {
		row[ColumnHistoryActor] = *actor
	}

	sess := db.Session(&gorm.Session{NewDB: true, SkipHooks: true})
	if err := sess.Table(reg.History.Table).Create(row).Error; err != nil {
		_ = db.AddError(fmt.Errorf("histories: record %s on %s: %w", changeType, reg.Source.Table, err))
		return
	}

	if p.notifier == nil {
		return
	}
	event := &ChangeEvent{
		Table:        reg.Source.Table,
		HistoryTable: reg.History.Table,
		Type:         changeType,
		ULID:         changeULID,
		Actor:        actor,
		OccurredAt:   occurredAt,
		Values:       source,
	}
	if err := p.notifier.NotifyChange(db.Statement.Context, event); err != nil {
		db.Logger.Warn(db.Statement.Context, "histories: notify change on %s: %v", reg.Source.Table, err)
	}
}

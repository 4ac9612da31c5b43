package histories

import (
	"fmt"

	"gorm.io/gorm/schema"
)

// historyTableSuffix is appended to the source table name unless the
// registration overrides the history table name.
const historyTableSuffix = "_history"

// auditColumns is the set of names reserved for audit metadata
var auditColumns = map[string]bool{
	ColumnHistoryID:    true,
	ColumnHistoryULID:  true,
	ColumnHistoryDate:  true,
	ColumnHistoryActor: true,
	ColumnHistoryType:  true,
}

// synthesizeHistory assembles the history table definition for one source
// schema: every persisted column cloned through the field transformer or
// the foreign-key downgrader, ready for the audit columns to be appended
// by the DDL emitter. The source schema is read, never modified.
func synthesizeHistory(src *schema.Schema, opts registerOptions) (*History, error) {
	if len(src.PrimaryFields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, src.Table)
	}

	table := opts.table
	if table == "" {
		table = src.Table + historyTableSuffix
	}
	displayName := opts.displayName
	if displayName == "" {
		displayName = "historical " + src.Name
	}

	columns := make([]Column, 0, len(src.Fields))
	for _, f := range src.Fields {
		if f.DBName == "" {
			// relation navigation fields have no column of their own
			continue
		}
		if auditColumns[f.DBName] {
			return nil, fmt.Errorf("%w: %s.%s", ErrColumnCollision, src.Table, f.DBName)
		}

		if rel := relationForField(src, f); rel != nil {
			c, err := downgradeForeignKey(f, rel)
			if err != nil {
				return nil, err
			}
			columns = append(columns, c)
			continue
		}
		columns = append(columns, transformField(f))
	}

	return &History{
		Table:       table,
		DisplayName: displayName,
		Columns:     columns,
		source:      src,
	}, nil
}

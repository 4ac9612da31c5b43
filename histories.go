package histories

import (
	"time"

	"gorm.io/gorm/schema"
)

// ChangeType identifies what kind of mutation a history row records
type ChangeType string

const (
	// ChangeTypeCreated indicates the source row was inserted
	ChangeTypeCreated ChangeType = "created"
	// ChangeTypeChanged indicates the source row was updated
	ChangeTypeChanged ChangeType = "changed"
	// ChangeTypeDeleted indicates the source row was deleted
	ChangeTypeDeleted ChangeType = "deleted"
)

// Audit column names added to every history table
const (
	// ColumnHistoryID is the monotonic sequence id, primary key of the history table
	ColumnHistoryID = "history_id"
	// ColumnHistoryULID is a process-generated, globally sortable change id
	ColumnHistoryULID = "history_ulid"
	// ColumnHistoryDate is the timestamp of the recording, set at insert time and never updated
	ColumnHistoryDate = "history_date"
	// ColumnHistoryActor names who caused the change, nullable
	ColumnHistoryActor = "history_actor"
	// ColumnHistoryType holds the ChangeType code
	ColumnHistoryType = "history_type"
)

// FilePath marks a column as a file reference. History tables store the
// path as plain text instead of carrying file semantics.
type FilePath string

// Column is a history-safe column descriptor produced by the field
// transformer or the foreign-key downgrader. It is an independent copy;
// building one never mutates the source field.
type Column struct {
	// Name is the column name in the history table
	Name string
	// DataType is the GORM data type the column stores
	DataType schema.DataType
	// RawType overrides the emitted SQL type when the source declared one explicitly
	RawType string
	// Size is the scalar size (string length, integer bits)
	Size int
	// Precision and Scale carry numeric sizing
	Precision int
	Scale     int
	// NotNull is carried over from the source column
	NotNull bool
	// Index requests a plain, non-unique index on the history column
	Index bool
}

// History describes one synthesized history table
type History struct {
	// Table is the history table name
	Table string
	// DisplayName is a human-readable name, derived from the source model
	// name unless overridden at registration
	DisplayName string
	// Columns are the transformed copies of the source model's columns,
	// in source declaration order. Audit columns are appended by the DDL
	// emitter and are not listed here.
	Columns []Column

	source *schema.Schema
}

// SourceTable returns the table name of the model this history shadows
func (h *History) SourceTable() string {
	return h.source.Table
}

// Ordering is the default retrieval order: reverse-chronological with the
// sequence id breaking timestamp ties deterministically.
func (h *History) Ordering() string {
	return ColumnHistoryDate + " DESC, " + ColumnHistoryID + " DESC"
}

// Entry is one immutable history row
type Entry struct {
	// ID is the monotonic sequence id
	ID int64 `json:"id"`
	// ULID is the globally sortable change id
	ULID string `json:"ulid"`
	// Date is when the change was recorded
	Date time.Time `json:"date"`
	// Actor names who caused the change, nil when unattributed
	Actor *string `json:"actor,omitempty"`
	// Type is the change-type code
	Type ChangeType `json:"type"`
	// Table is the source table this entry belongs to
	Table string `json:"table"`
	// SourceKey is the source row's primary-key value, rendered as text
	SourceKey string `json:"source_key"`
	// Values holds the snapshot of the source columns at recording time
	Values map[string]interface{} `json:"values"`
}

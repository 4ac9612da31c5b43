package histories

import (
	"context"
	"time"
)

// ChangeEvent describes one recorded history entry for downstream consumers
type ChangeEvent struct {
	// Table is the audited source table
	Table string `json:"table"`
	// HistoryTable is the shadow table the entry was written to
	HistoryTable string `json:"history_table"`
	// Type is the change-type code
	Type ChangeType `json:"type"`
	// ULID is the entry's globally sortable change id
	ULID string `json:"ulid"`
	// Actor names who caused the change, when attributed
	Actor *string `json:"actor,omitempty"`
	// OccurredAt is the recording timestamp
	OccurredAt time.Time `json:"occurred_at"`
	// Values is the snapshot of the source columns
	Values map[string]interface{} `json:"values"`
}

// Notifier fans recorded entries out to an external consumer. Delivery is
// best-effort: a notifier error never fails the audited mutation.
type Notifier interface {
	// NotifyChange publishes one change event
	NotifyChange(ctx context.Context, event *ChangeEvent) error
	// Close releases the notifier's resources
	Close()
}

package histories

import (
	"context"
	"sync/atomic"

	"gorm.io/gorm"
)

// Marker keys carried through GORM session settings
const (
	settingSuppress = "histories:suppress"
	settingActor    = "histories:actor"
)

type ctxKey int

const (
	ctxKeySuppress ctxKey = iota
	ctxKeyActor
)

// suppressMarker is consumed by the first recorded statement that sees it
type suppressMarker struct {
	used atomic.Bool
}

// Suppress marks the statement chain so the next save is not recorded.
// Deletions are always recorded and ignore the marker.
//
//	histories.Suppress(db).Save(&widget)
//
// The marker lives on the returned chain only; it cannot leak into
// subsequent saves.
func Suppress(tx *gorm.DB) *gorm.DB {
	return tx.Set(settingSuppress, true)
}

// WithActor attributes the statement chain's audit rows to actor
func WithActor(tx *gorm.DB, actor string) *gorm.DB {
	return tx.Set(settingActor, actor)
}

// WithoutRecording returns a context whose next recorded statement is
// excluded from auditing. The marker is read once and cleared on first
// use, regardless of whether the statement succeeds, so it never leaks
// into later saves sharing the context. Unlike Suppress, the context form
// survives into association operations (membership adds).
func WithoutRecording(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKeySuppress, &suppressMarker{})
}

// ActorContext attributes subsequent audited mutations on ctx to actor.
// The actor marker is not cleared after use; it applies until the caller
// drops the context.
func ActorContext(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ctxKeyActor, actor)
}

// suppressed reports whether the current statement asked to skip auditing,
// consuming the context marker if that is where it came from.
func suppressed(db *gorm.DB) bool {
	if v, ok := db.Get(settingSuppress); ok {
		if b, ok := v.(bool); ok && b {
			return true
		}
	}
	if ctx := db.Statement.Context; ctx != nil {
		if m, ok := ctx.Value(ctxKeySuppress).(*suppressMarker); ok {
			return m.used.CompareAndSwap(false, true)
		}
	}
	return false
}

// actorFor resolves the actor marker for the current statement, if any
func actorFor(db *gorm.DB) *string {
	if v, ok := db.Get(settingActor); ok {
		if s, ok := v.(string); ok && s != "" {
			return &s
		}
	}
	if ctx := db.Statement.Context; ctx != nil {
		if s, ok := ctx.Value(ctxKeyActor).(string); ok && s != "" {
			return &s
		}
	}
	return nil
}

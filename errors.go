package histories

import "errors"

var (
	// ErrAlreadyRegistered is returned when a model's table is registered twice
	ErrAlreadyRegistered = errors.New("histories: table already registered")
	// ErrNotRegistered is returned when an operation targets an unregistered model
	ErrNotRegistered = errors.New("histories: table not registered")
	// ErrNotManyToMany is returned when a designated relation field is not a many2many relation
	ErrNotManyToMany = errors.New("histories: field is not a many2many relation")
	// ErrNoPrimaryKey is returned when a source model declares no primary key
	ErrNoPrimaryKey = errors.New("histories: source model has no primary key")
	// ErrColumnCollision is returned when a source column name collides with an audit column
	ErrColumnCollision = errors.New("histories: source column collides with an audit column")
	// ErrEntryNotFound is returned when a history entry lookup matches nothing
	ErrEntryNotFound = errors.New("histories: entry not found")
)

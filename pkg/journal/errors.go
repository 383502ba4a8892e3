package journal

import (
	"errors"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrSchemaConflict is returned when an event type is re-registered with
	// a definition that differs from the existing one.
	ErrSchemaConflict = errors.New("event schema conflict")

	// ErrUnknownEventType is returned when emitting an event whose type has
	// no registered schema.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrLeaseDenied is returned when a non-expired lease is already held by
	// someone else. Losing the acquire race is a normal outcome, not a fault.
	ErrLeaseDenied = errors.New("integration lease denied")

	// ErrStaleLease is returned when a renew, release or fencing check finds
	// the caller's token no longer matches the live lease.
	ErrStaleLease = errors.New("stale integration lease")
)

// IsNotFound returns true if the error is a Redis "key not found" error
// (redis.Nil). Use this to check if GetNotification, GetCursor or
// LoadSnapshot returned "not found".
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}

package reminder

import (
	"errors"
	"fmt"

	"remindbot/internal/storage"
)

// ErrNotFound aliases the store sentinel so callers only import this package.
var ErrNotFound = storage.ErrNotFound

var ErrNotRunning = errors.New("reminder service not running")

// SchedulingError reports a trigger registration failure. The reminder
// stays in the store and is retried on the next reload.
type SchedulingError struct {
	ReminderID int64
	Err        error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("schedule reminder %d: %v", e.ReminderID, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }

// DeliveryError reports a failed platform send. Deliveries are
// at-most-once: this error is logged and never retried or surfaced to the
// reminder owner.
type DeliveryError struct {
	ReminderID int64
	Platform   string
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver reminder %d via %s: %v", e.ReminderID, e.Platform, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

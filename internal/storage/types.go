package storage

import (
	"errors"
	"fmt"
	"time"
)

// TimeLayout is the persisted timestamp format. Times are naive local
// wall-clock values throughout the engine; no timezone conversion happens
// on the way in or out.
const TimeLayout = "2006-01-02T15:04:05"

var ErrNotFound = errors.New("not found")

// ValidationError reports a missing or malformed creation field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return "invalid " + e.Field
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default (5s)
}

// Destination identifies where a notification is delivered.
// Address is treated as pre-normalized by whoever registered the user.
type Destination struct {
	Platform string
	Address  string
}

// User is the owner identity a reminder references. The engine only needs
// the delivery pair; everything else about users lives elsewhere.
type User struct {
	ID          int64
	Platform    string
	Address     string
	DisplayName string
	CreatedAt   time.Time
}

// Reminder is a persisted intent to deliver a notification at/after
// TargetTime, optionally recurring.
type Reminder struct {
	ID            int64
	OwnerID       int64
	Title         string
	Description   string
	TargetTime    time.Time
	RepeatPattern string
	Active        bool
	Completed     bool
	CreatedAt     time.Time

	// Destination is populated on reads that join the owner row.
	Destination Destination
}

// NewReminder is the creation payload. ID and CreatedAt are store-assigned.
type NewReminder struct {
	OwnerID       int64
	Title         string
	Description   string
	TargetTime    time.Time
	RepeatPattern string
}

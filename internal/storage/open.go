package storage

import (
	"context"
	"time"
)

// Store is the persistence API used by the reminder engine.
//
// All writes are immediately durable. There is no implicit deduplication:
// two creates with identical content produce two distinct reminders.
type Store interface {
	CreateReminder(ctx context.Context, n NewReminder) (int64, error)
	// Reminder fetches a single reminder joined with its owner's destination.
	Reminder(ctx context.Context, id int64) (Reminder, error)
	// Due returns all active, non-completed reminders with target_time <= now.
	Due(ctx context.Context, now time.Time) ([]Reminder, error)
	// ForOwner lists an owner's reminders ordered by target_time ascending.
	ForOwner(ctx context.Context, ownerID int64, activeOnly bool) ([]Reminder, error)
	// Active returns every active, non-completed reminder (reload source).
	Active(ctx context.Context) ([]Reminder, error)
	// Complete marks a reminder completed; no-op if already completed.
	Complete(ctx context.Context, id int64) error
	// Deactivate cancels a reminder. ErrNotFound when no such row.
	Deactivate(ctx context.Context, id int64) error
	// PurgeCompletedBefore bulk-deletes completed reminders created before cutoff.
	PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	UpsertUser(ctx context.Context, u User) (int64, error)
	UserByPlatform(ctx context.Context, platform, address string) (User, error)

	Close() error
}

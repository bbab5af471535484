// Package reminder is the scheduling and notification engine: it owns the
// live trigger per active reminder, dispatches due reminders to the
// owner's platform through a bounded worker pool, and prunes old completed
// reminders.
//
// The process is single-instance: all triggers are in-memory and are
// rebuilt from storage via ReloadFromStore after a restart.
package reminder

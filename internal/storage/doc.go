// Package storage persists reminders and their owning users in sqlite.
//
// Timestamps are stored as naive local wall-clock strings (TimeLayout);
// the engine performs no timezone conversion anywhere.
package storage

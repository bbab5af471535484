package reminder

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/storage"
	"remindbot/pkg/logx"
)

// Config controls the trigger scheduler and its dispatch pool.
type Config struct {
	Workers         int           // dispatch pool size (default 20)
	QueueSize       int           // dispatch queue capacity (default 256)
	DispatchTimeout time.Duration // per-dispatch deadline (default 15s)
	CleanupInterval time.Duration // completed-reminder sweep cadence (default 24h)
	Retention       time.Duration // completed-reminder retention (default 720h)
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 20
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 15 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 24 * time.Hour
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	return c
}

// Sender delivers a notification body to a platform address.
// Implementations live outside the engine (see internal/notify).
type Sender interface {
	Send(ctx context.Context, platform, address, body string) error
}

// dispatchJob is one unit of work for the dispatch pool.
type dispatchJob struct {
	reminderID int64
}

// Service owns the live trigger set: one cron entry or timer per active
// reminder, plus the bounded dispatch pool. It is explicitly constructed
// and injected; there is no package-level instance.
type Service struct {
	log    logx.Logger
	store  storage.Store
	sender Sender
	cfg    Config

	mu      sync.Mutex
	started bool
	c       *cron.Cron
	parser  cron.Parser

	// trigger registry, keyed by reminder id.
	// A reminder holds at most one live trigger; register replaces.
	entries  map[int64]cron.EntryID
	timers   map[int64]*time.Timer
	timerAt  map[int64]time.Time
	timerVer map[int64]uint64

	// per-reminder overlap guard: a recurring reminder whose dispatch
	// overruns must not double-fire.
	runMu   sync.Mutex
	running map[int64]bool

	queue     chan dispatchJob
	stopCh    chan struct{}
	runCancel func()
	workerWG  sync.WaitGroup
}

// JobStatus mirrors the listing contract: whether a live trigger exists
// for the reminder inside this process.
type JobStatus string

const (
	JobScheduled    JobStatus = "scheduled"
	JobNotScheduled JobStatus = "not_scheduled"
	JobUnknown      JobStatus = "unknown"
)

// CreateRequest is a reminder-creation request from a collaborator.
// When accepts an ISO timestamp or a free-form expression.
type CreateRequest struct {
	OwnerID       int64
	Title         string
	Description   string
	When          string
	RepeatPattern string
}

// CreateResult is the synchronous creation outcome.
type CreateResult struct {
	Success       bool
	ReminderID    int64
	ScheduledTime time.Time
	Message       string
	Err           error
}

// ListItem is a reminder plus its live trigger state.
type ListItem struct {
	storage.Reminder
	Status  JobStatus
	NextRun time.Time // zero when unknown
}

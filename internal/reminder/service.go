package reminder

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/storage"
	"remindbot/internal/timeparse"
	"remindbot/pkg/logx"
)

func New(cfg Config, store storage.Store, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		store:  store,
		sender: sender,
		cfg:    cfg.withDefaults(),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),

		entries:  map[int64]cron.EntryID{},
		timers:   map[int64]*time.Timer{},
		timerAt:  map[int64]time.Time{},
		timerVer: map[int64]uint64{},
		running:  map[int64]bool{},
	}
}

// Start brings up the cron loop, the dispatch pool and the cleanup sweep.
// It does not register reminders; call ReloadFromStore after Start.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.runCancel = cancel

	// Fresh queue per run so a stop/start cycle never executes stale jobs.
	s.queue = make(chan dispatchJob, s.cfg.QueueSize)
	s.c = cron.New(cron.WithParser(s.parser))

	// Local captures prevent races if fields are swapped during Stop().
	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in dispatch worker",
						logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue)
		}()
	}

	// Lifecycle sweep: prune old completed reminders on a fixed interval.
	// Failures are logged; the next cycle retries naturally.
	_, err := s.c.AddFunc(fmt.Sprintf("@every %s", s.cfg.CleanupInterval), func() {
		s.runCleanup(runCtx)
	})
	if err != nil {
		s.log.Error("cleanup schedule failed", logx.Err(err))
	}

	s.c.Start()
	s.log.Info("reminder service started",
		logx.Int("workers", s.cfg.Workers),
		logx.Duration("cleanup_interval", s.cfg.CleanupInterval),
		logx.Duration("retention", s.cfg.Retention))
}

// Stop halts triggers and waits (bounded by ctx) for in-flight dispatches.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	stopCh := s.stopCh
	cancel := s.runCancel
	c := s.c
	s.c = nil
	s.stopCh = nil
	s.runCancel = nil

	// Stop runtime timers; registry stays so a later Start+Reload rebuilds them.
	for id, t := range s.timers {
		_ = t.Stop()
		delete(s.timers, id)
		delete(s.timerAt, id)
		delete(s.timerVer, id)
	}
	for id := range s.entries {
		delete(s.entries, id)
	}
	s.mu.Unlock()

	close(stopCh)
	if c != nil {
		<-c.Stop().Done()
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("reminder service stopped")
	case <-ctx.Done():
		s.log.Warn("reminder service stop timed out; dispatches finish in background")
	}
}

// Create resolves the target time, persists the reminder and registers its
// trigger. Validation and resolution failures are synchronous; a trigger
// registration failure is logged only, since the reminder is durable and
// will be retried on the next reload.
func (s *Service) Create(ctx context.Context, req CreateRequest) CreateResult {
	if req.OwnerID <= 0 {
		return failure(&storage.ValidationError{Field: "owner_id", Reason: "missing"})
	}
	if strings.TrimSpace(req.Title) == "" {
		return failure(&storage.ValidationError{Field: "title", Reason: "missing"})
	}

	when, err := timeparse.Resolve(req.When, time.Now())
	if err != nil {
		return failure(err)
	}

	// Normalize the pattern string before persisting; unknown patterns are
	// stored as-is and fall back to one-shot at registration time.
	stored := strings.TrimSpace(req.RepeatPattern)
	if p, perr := ParsePattern(stored); perr == nil {
		if p.Kind == PatternNone {
			stored = ""
		} else {
			stored = p.String()
		}
	}

	id, err := s.store.CreateReminder(ctx, storage.NewReminder{
		OwnerID:       req.OwnerID,
		Title:         req.Title,
		Description:   req.Description,
		TargetTime:    when,
		RepeatPattern: stored,
	})
	if err != nil {
		return failure(err)
	}

	r, err := s.store.Reminder(ctx, id)
	if err != nil {
		return failure(err)
	}
	if err := s.Register(r); err != nil {
		s.log.Error("trigger registration failed; will retry on reload",
			logx.Int64("reminder_id", id), logx.Err(err))
	}

	s.log.Info("reminder created",
		logx.Int64("reminder_id", id),
		logx.Int64("owner_id", req.OwnerID),
		logx.Time("target", when),
		logx.String("pattern", orNone(stored)))
	return CreateResult{
		Success:       true,
		ReminderID:    id,
		ScheduledTime: when,
		Message:       fmt.Sprintf("Reminder %q scheduled for %s", req.Title, when.Format("2006-01-02 15:04")),
	}
}

// Cancel removes the trigger (tolerating its absence) and deactivates the
// stored reminder. ErrNotFound when the reminder does not exist.
func (s *Service) Cancel(ctx context.Context, id int64) error {
	s.mu.Lock()
	s.removeTriggerLocked(id)
	s.mu.Unlock()

	if err := s.store.Deactivate(ctx, id); err != nil {
		return err
	}
	s.log.Info("reminder cancelled", logx.Int64("reminder_id", id))
	return nil
}

// List returns the owner's active reminders joined with live trigger state.
func (s *Service) List(ctx context.Context, ownerID int64) ([]ListItem, error) {
	rs, err := s.store.ForOwner(ctx, ownerID, true)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ListItem, 0, len(rs))
	for _, r := range rs {
		item := ListItem{Reminder: r}
		switch {
		case !s.started:
			item.Status = JobUnknown
		case s.hasTriggerLocked(r.ID):
			item.Status = JobScheduled
			item.NextRun = s.nextRunLocked(r.ID)
		default:
			item.Status = JobNotScheduled
		}
		out = append(out, item)
	}
	return out, nil
}

// ReloadFromStore registers a trigger for every active, non-completed
// reminder. Registration is idempotent: an id already scheduled gets its
// trigger replaced, never duplicated. Called once at startup and safe to
// call again.
func (s *Service) ReloadFromStore(ctx context.Context) error {
	rs, err := s.store.Active(ctx)
	if err != nil {
		return err
	}

	registered := 0
	for _, r := range rs {
		if err := s.Register(r); err != nil {
			s.log.Error("reload: trigger registration failed",
				logx.Int64("reminder_id", r.ID), logx.Err(err))
			continue
		}
		registered++
	}
	s.log.Info("reminders reloaded", logx.Int("active", len(rs)), logx.Int("registered", registered))
	return nil
}

func failure(err error) CreateResult {
	return CreateResult{Success: false, Err: err, Message: err.Error()}
}

func orNone(p string) string {
	if p == "" {
		return "none"
	}
	return p
}

// IsValidation reports whether err is a synchronous creation-input error.
func IsValidation(err error) bool {
	var ve *storage.ValidationError
	var re *timeparse.ResolutionError
	return errors.As(err, &ve) || errors.As(err, &re)
}

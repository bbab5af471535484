package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/storage"
	"remindbot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan dispatchJob) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.execDispatch(ctx, j)
		}
	}
}

// execDispatch runs one dispatch with the per-reminder overlap guard: if a
// previous run of the same reminder is still executing, this one is
// skipped so an overrunning recurring reminder cannot double-fire.
func (s *Service) execDispatch(ctx context.Context, j dispatchJob) {
	s.runMu.Lock()
	if s.running[j.reminderID] {
		s.runMu.Unlock()
		s.log.Warn("dispatch still running, skipping overlap", logx.Int64("reminder_id", j.reminderID))
		return
	}
	s.running[j.reminderID] = true
	s.runMu.Unlock()
	defer func() {
		s.runMu.Lock()
		delete(s.running, j.reminderID)
		s.runMu.Unlock()
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	defer cancel()
	s.dispatch(runCtx, j.reminderID)
}

// dispatch delivers one due reminder. Deliveries are best-effort and
// at-most-once: a failed send is logged and never retried, and the
// reminder's lifecycle advances exactly as if delivery had succeeded.
// A failure here must not affect dispatches running concurrently.
func (s *Service) dispatch(ctx context.Context, id int64) {
	log := s.log.With(logx.Int64("reminder_id", id), logx.String("run_id", uuid.NewString()))

	r, err := s.store.Reminder(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn("reminder missing at dispatch time")
		return
	}
	if err != nil {
		log.Error("reminder read failed", logx.Err(err))
		return
	}
	if !r.Active || r.Completed {
		log.Warn("reminder inactive at dispatch time",
			logx.Bool("active", r.Active), logx.Bool("completed", r.Completed))
		return
	}

	body := formatBody(r)
	if err := s.sender.Send(ctx, r.Destination.Platform, r.Destination.Address, body); err != nil {
		derr := &DeliveryError{ReminderID: id, Platform: r.Destination.Platform, Err: err}
		log.Error("delivery failed (no retry)", logx.Err(derr))
	} else {
		log.Info("reminder delivered", logx.String("platform", r.Destination.Platform))
	}

	// Non-repeating reminders complete after their single firing, delivery
	// outcome notwithstanding. Repeating reminders keep their trigger.
	p, _ := ParsePattern(r.RepeatPattern)
	if !p.Recurring() {
		if err := s.store.Complete(ctx, id); err != nil {
			log.Error("complete failed", logx.Err(err))
		}
		s.RemoveTrigger(id)
	}
}

func formatBody(r storage.Reminder) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 *Reminder: %s*\n\n", r.Title)
	if strings.TrimSpace(r.Description) != "" {
		b.WriteString(r.Description)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "⏰ %s", time.Now().Format("2006-01-02 15:04"))
	return b.String()
}

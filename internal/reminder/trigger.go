package reminder

import (
	"time"

	"remindbot/internal/storage"
	"remindbot/pkg/logx"
)

// Register computes and installs the trigger for a reminder, replacing any
// trigger already held for the same id.
//
// Trigger shape per pattern:
//   - none: one-shot timer at target_time (past targets fire soon)
//   - daily/weekly/monthly: cron entry anchored to target_time's
//     minute/hour (and weekday or day-of-month)
//   - every(N, unit): self-rescheduling timer with a fixed period
//     starting at target_time
//   - unrecognized pattern strings: one-shot at target_time (fail-safe,
//     never drop the reminder)
func (s *Service) Register(r storage.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return &SchedulingError{ReminderID: r.ID, Err: ErrNotRunning}
	}

	p, perr := ParsePattern(r.RepeatPattern)
	if perr != nil {
		s.log.Warn("unknown repeat pattern; falling back to one-shot trigger",
			logx.Int64("reminder_id", r.ID), logx.String("pattern", r.RepeatPattern))
	}

	s.removeTriggerLocked(r.ID)

	if spec, ok := p.CronSpec(r.TargetTime); ok {
		id := r.ID
		entryID, err := s.c.AddFunc(spec, func() {
			s.enqueue(dispatchJob{reminderID: id})
		})
		if err != nil {
			return &SchedulingError{ReminderID: r.ID, Err: err}
		}
		s.entries[r.ID] = entryID
		s.log.Debug("trigger registered",
			logx.Int64("reminder_id", r.ID), logx.String("cron", spec))
		return nil
	}

	if p.Kind == PatternEvery {
		next := nextOccurrence(r.TargetTime, p.Interval(), time.Now())
		s.scheduleTimerLocked(r.ID, next, p.Interval())
		s.log.Debug("trigger registered",
			logx.Int64("reminder_id", r.ID),
			logx.Duration("every", p.Interval()), logx.Time("next", next))
		return nil
	}

	// One-shot. Past targets are not rejected; they fire on the next tick.
	s.scheduleTimerLocked(r.ID, r.TargetTime, 0)
	s.log.Debug("trigger registered",
		logx.Int64("reminder_id", r.ID), logx.Time("at", r.TargetTime))
	return nil
}

// RemoveTrigger drops the live trigger for id, tolerating its absence.
func (s *Service) RemoveTrigger(id int64) {
	s.mu.Lock()
	s.removeTriggerLocked(id)
	s.mu.Unlock()
}

func (s *Service) removeTriggerLocked(id int64) {
	if eid, ok := s.entries[id]; ok {
		if s.c != nil {
			s.c.Remove(eid)
		}
		delete(s.entries, id)
	}
	if t, ok := s.timers[id]; ok {
		_ = t.Stop()
		delete(s.timers, id)
	}
	delete(s.timerAt, id)
	delete(s.timerVer, id)
}

func (s *Service) hasTriggerLocked(id int64) bool {
	if _, ok := s.entries[id]; ok {
		return true
	}
	_, ok := s.timers[id]
	return ok
}

func (s *Service) nextRunLocked(id int64) time.Time {
	if eid, ok := s.entries[id]; ok && s.c != nil {
		return s.c.Entry(eid).Next
	}
	if at, ok := s.timerAt[id]; ok {
		return at
	}
	return time.Time{}
}

// scheduleTimerLocked installs a timer for id firing at `at`. interval > 0
// makes the timer self-rescheduling with that period. The version map
// invalidates callbacks of replaced timers.
func (s *Service) scheduleTimerLocked(id int64, at time.Time, interval time.Duration) {
	ver := s.timerVer[id] + 1
	s.timerVer[id] = ver
	s.timerAt[id] = at

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	s.timers[id] = time.AfterFunc(delay, func() {
		s.timerFired(id, ver, interval)
	})
}

func (s *Service) timerFired(id int64, ver uint64, interval time.Duration) {
	s.mu.Lock()
	if !s.started || s.timerVer[id] != ver {
		// replaced, cancelled or stopped since this timer was armed
		s.mu.Unlock()
		return
	}
	if interval > 0 {
		next := nextOccurrence(s.timerAt[id].Add(interval), interval, time.Now())
		s.scheduleTimerLocked(id, next, interval)
	} else {
		delete(s.timers, id)
		delete(s.timerAt, id)
		delete(s.timerVer, id)
	}
	s.mu.Unlock()

	s.enqueue(dispatchJob{reminderID: id})
}

func (s *Service) enqueue(j dispatchJob) {
	s.mu.Lock()
	queue := s.queue
	started := s.started
	s.mu.Unlock()
	if !started || queue == nil {
		return
	}
	select {
	case queue <- j:
	default:
		s.log.Warn("dispatch queue full, dropping job", logx.Int64("reminder_id", j.reminderID))
	}
}

// nextOccurrence returns the first anchor+k*interval that is not in the
// past. The anchor itself is returned when still in the future.
func nextOccurrence(anchor time.Time, interval time.Duration, now time.Time) time.Time {
	if interval <= 0 || anchor.After(now) {
		return anchor
	}
	k := now.Sub(anchor)/interval + 1
	return anchor.Add(k * interval)
}

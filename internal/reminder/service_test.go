package reminder

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"remindbot/internal/storage"
	"remindbot/pkg/logx"
)

// ---- fakes ----

type fakeStore struct {
	mu        sync.Mutex
	nextRemID int64
	nextUsrID int64
	reminders map[int64]storage.Reminder
	users     map[int64]storage.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		reminders: map[int64]storage.Reminder{},
		users:     map[int64]storage.User{},
	}
}

func (f *fakeStore) addUser(platform, address string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextUsrID++
	f.users[f.nextUsrID] = storage.User{ID: f.nextUsrID, Platform: platform, Address: address}
	return f.nextUsrID
}

// seed inserts a reminder row directly, bypassing Create.
func (f *fakeStore) seed(ownerID int64, title string, target time.Time, pattern string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRemID++
	f.reminders[f.nextRemID] = storage.Reminder{
		ID: f.nextRemID, OwnerID: ownerID, Title: title,
		TargetTime: target, RepeatPattern: pattern,
		Active: true, CreatedAt: time.Now(),
	}
	return f.nextRemID
}

func (f *fakeStore) CreateReminder(_ context.Context, n storage.NewReminder) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRemID++
	f.reminders[f.nextRemID] = storage.Reminder{
		ID: f.nextRemID, OwnerID: n.OwnerID, Title: n.Title, Description: n.Description,
		TargetTime: n.TargetTime, RepeatPattern: n.RepeatPattern,
		Active: true, CreatedAt: time.Now(),
	}
	return f.nextRemID, nil
}

func (f *fakeStore) Reminder(_ context.Context, id int64) (storage.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reminders[id]
	if !ok {
		return storage.Reminder{}, storage.ErrNotFound
	}
	if u, ok := f.users[r.OwnerID]; ok {
		r.Destination = storage.Destination{Platform: u.Platform, Address: u.Address}
	}
	return r, nil
}

func (f *fakeStore) Due(_ context.Context, now time.Time) ([]storage.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Reminder
	for _, r := range f.reminders {
		if r.Active && !r.Completed && !r.TargetTime.After(now) {
			out = append(out, r)
		}
	}
	sortByTarget(out)
	return out, nil
}

func (f *fakeStore) ForOwner(_ context.Context, ownerID int64, activeOnly bool) ([]storage.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Reminder
	for _, r := range f.reminders {
		if r.OwnerID != ownerID {
			continue
		}
		if activeOnly && (!r.Active || r.Completed) {
			continue
		}
		out = append(out, r)
	}
	sortByTarget(out)
	return out, nil
}

func (f *fakeStore) Active(_ context.Context) ([]storage.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Reminder
	for _, r := range f.reminders {
		if r.Active && !r.Completed {
			out = append(out, r)
		}
	}
	sortByTarget(out)
	return out, nil
}

func (f *fakeStore) Complete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.reminders[id]; ok {
		r.Completed = true
		f.reminders[id] = r
	}
	return nil
}

func (f *fakeStore) Deactivate(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reminders[id]
	if !ok {
		return storage.ErrNotFound
	}
	r.Active = false
	f.reminders[id] = r
	return nil
}

func (f *fakeStore) PurgeCompletedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, r := range f.reminders {
		if r.Completed && r.CreatedAt.Before(cutoff) {
			delete(f.reminders, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) UpsertUser(_ context.Context, u storage.User) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, have := range f.users {
		if have.Platform == u.Platform && have.Address == u.Address {
			return id, nil
		}
	}
	f.nextUsrID++
	u.ID = f.nextUsrID
	f.users[u.ID] = u
	return u.ID, nil
}

func (f *fakeStore) UserByPlatform(_ context.Context, platform, address string) (storage.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Platform == platform && u.Address == address {
			return u, nil
		}
	}
	return storage.User{}, storage.ErrNotFound
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) completed(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reminders[id].Completed
}

func sortByTarget(rs []storage.Reminder) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].TargetTime.Before(rs[j].TargetTime) })
}

type delivery struct {
	platform, address, body string
}

type fakeSender struct {
	mu        sync.Mutex
	failFor   map[string]error // keyed by address
	delivered []delivery
	attempts  int
}

func newFakeSender() *fakeSender {
	return &fakeSender{failFor: map[string]error{}}
}

func (s *fakeSender) Send(_ context.Context, platform, address, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if err := s.failFor[address]; err != nil {
		return err
	}
	s.delivered = append(s.delivered, delivery{platform: platform, address: address, body: body})
	return nil
}

func (s *fakeSender) deliveredTo(address string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.delivered {
		if d.address == address {
			n++
		}
	}
	return n
}

func (s *fakeSender) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// ---- harness ----

func newTestService(t *testing.T) (*Service, *fakeStore, *fakeSender) {
	t.Helper()
	store := newFakeStore()
	sender := newFakeSender()
	svc := New(Config{
		Workers:         4,
		QueueSize:       32,
		DispatchTimeout: 2 * time.Second,
		CleanupInterval: time.Hour,
		Retention:       time.Hour,
	}, store, sender, logx.Nop())

	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})
	return svc, store, sender
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func iso(t time.Time) string { return t.Format(storage.TimeLayout) }

// ---- tests ----

func TestCreateRoundTrip(t *testing.T) {
	svc, store, _ := newTestService(t)
	owner := store.addUser("telegram", "1001")

	target := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	res := svc.Create(context.Background(), CreateRequest{
		OwnerID:     owner,
		Title:       "Pay bills",
		Description: "electricity and water",
		When:        iso(target),
	})
	if !res.Success {
		t.Fatalf("Create failed: %v", res.Err)
	}
	if !res.ScheduledTime.Equal(target) {
		t.Fatalf("ScheduledTime = %v, want %v", res.ScheduledTime, target)
	}

	items, err := svc.List(context.Background(), owner)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("List len = %d, want 1", len(items))
	}
	got := items[0]
	if got.ID != res.ReminderID || got.Title != "Pay bills" || got.Description != "electricity and water" {
		t.Fatalf("listed reminder does not round-trip: %+v", got)
	}
	if !got.TargetTime.Equal(target) {
		t.Fatalf("TargetTime = %v, want %v", got.TargetTime, target)
	}
	if got.Status != JobScheduled {
		t.Fatalf("Status = %s, want scheduled", got.Status)
	}
	if !got.NextRun.Equal(target) {
		t.Fatalf("NextRun = %v, want %v", got.NextRun, target)
	}
}

func TestCreateNoDeduplication(t *testing.T) {
	svc, store, _ := newTestService(t)
	owner := store.addUser("telegram", "1001")

	req := CreateRequest{OwnerID: owner, Title: "Stretch", When: iso(time.Now().Add(time.Hour))}
	a := svc.Create(context.Background(), req)
	b := svc.Create(context.Background(), req)
	if !a.Success || !b.Success {
		t.Fatalf("creates failed: %v / %v", a.Err, b.Err)
	}
	if a.ReminderID == b.ReminderID {
		t.Fatalf("identical creates shared id %d; want distinct ids", a.ReminderID)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, store, _ := newTestService(t)
	owner := store.addUser("telegram", "1001")

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{name: "missing owner", req: CreateRequest{Title: "x", When: "tomorrow"}},
		{name: "missing title", req: CreateRequest{OwnerID: owner, When: "tomorrow"}},
		{name: "bad time", req: CreateRequest{OwnerID: owner, Title: "x", When: "whenever"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := svc.Create(context.Background(), tt.req)
			if res.Success {
				t.Fatal("expected failure")
			}
			if res.Err == nil || !IsValidation(res.Err) {
				t.Fatalf("err = %v, want validation/resolution error", res.Err)
			}
		})
	}
}

func TestCreateScenarioResult(t *testing.T) {
	svc, store, _ := newTestService(t)
	owner := store.addUser("telegram", "1001")

	res := svc.Create(context.Background(), CreateRequest{
		OwnerID: owner,
		Title:   "Pay bills",
		When:    "2025-01-01T10:00:00",
	})
	if !res.Success {
		t.Fatalf("Create failed: %v", res.Err)
	}
	want := time.Date(2025, 1, 1, 10, 0, 0, 0, time.Local)
	if !res.ScheduledTime.Equal(want) {
		t.Fatalf("ScheduledTime = %v, want literal %v (no rollover)", res.ScheduledTime, want)
	}
	if res.Message == "" {
		t.Fatal("expected a human-readable message")
	}
}

func TestOneShotFiresOnceAndCompletes(t *testing.T) {
	svc, store, sender := newTestService(t)
	owner := store.addUser("telegram", "1001")

	// Past target: not rejected, fires on the next tick.
	res := svc.Create(context.Background(), CreateRequest{
		OwnerID: owner,
		Title:   "Overdue",
		When:    iso(time.Now().Add(-time.Minute)),
	})
	if !res.Success {
		t.Fatalf("Create failed: %v", res.Err)
	}

	waitFor(t, 3*time.Second, func() bool { return sender.deliveredTo("1001") == 1 },
		"reminder never delivered")
	waitFor(t, 3*time.Second, func() bool { return store.completed(res.ReminderID) },
		"one-shot reminder never completed")

	// Completed reminders leave the active listing and hold no trigger.
	items, err := svc.List(context.Background(), owner)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("List after completion = %d items, want 0", len(items))
	}

	time.Sleep(150 * time.Millisecond)
	if n := sender.deliveredTo("1001"); n != 1 {
		t.Fatalf("delivered %d times, want exactly 1", n)
	}
}

func TestDeliveryFailureDoesNotAffectOthers(t *testing.T) {
	svc, store, sender := newTestService(t)
	ownerA := store.addUser("telegram", "900")
	ownerB := store.addUser("telegram", "901")
	sender.mu.Lock()
	sender.failFor["900"] = errors.New("chat not found")
	sender.mu.Unlock()

	past := iso(time.Now().Add(-time.Second))
	a := svc.Create(context.Background(), CreateRequest{OwnerID: ownerA, Title: "A", When: past})
	b := svc.Create(context.Background(), CreateRequest{OwnerID: ownerB, Title: "B", When: past})
	if !a.Success || !b.Success {
		t.Fatalf("creates failed: %v / %v", a.Err, b.Err)
	}

	waitFor(t, 3*time.Second, func() bool { return sender.deliveredTo("901") == 1 },
		"healthy dispatch blocked by failing one")

	// The failed delivery is attempted once, never retried, and the
	// reminder still completes (at-most-once semantics).
	waitFor(t, 3*time.Second, func() bool { return store.completed(a.ReminderID) },
		"failed delivery should still complete the one-shot")
	time.Sleep(150 * time.Millisecond)
	if n := sender.deliveredTo("900"); n != 0 {
		t.Fatalf("failing address delivered %d times, want 0", n)
	}
	if n := sender.attemptCount(); n != 2 {
		t.Fatalf("attempts = %d, want exactly 2 (one per reminder, no retries)", n)
	}
}

func TestCancelRemovesFromListingAndPreventsFiring(t *testing.T) {
	svc, store, sender := newTestService(t)
	owner := store.addUser("telegram", "1001")

	res := svc.Create(context.Background(), CreateRequest{
		OwnerID: owner, Title: "Soon", When: iso(time.Now().Add(300 * time.Millisecond)),
	})
	if !res.Success {
		t.Fatalf("Create failed: %v", res.Err)
	}

	if err := svc.Cancel(context.Background(), res.ReminderID); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}

	items, err := svc.List(context.Background(), owner)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("cancelled reminder still listed: %d items", len(items))
	}

	time.Sleep(600 * time.Millisecond)
	if n := sender.deliveredTo("1001"); n != 0 {
		t.Fatalf("cancelled reminder fired %d times", n)
	}
}

func TestCancelUnknownID(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.Cancel(context.Background(), 424242)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCancelToleratesFiredTimer(t *testing.T) {
	svc, store, sender := newTestService(t)
	owner := store.addUser("telegram", "1001")

	res := svc.Create(context.Background(), CreateRequest{
		OwnerID: owner, Title: "Done already", When: iso(time.Now().Add(-time.Second)),
	})
	waitFor(t, 3*time.Second, func() bool { return sender.deliveredTo("1001") == 1 }, "never fired")

	// Timer is gone; cancel must still deactivate without error.
	if err := svc.Cancel(context.Background(), res.ReminderID); err != nil {
		t.Fatalf("Cancel after fire: %v", err)
	}
}

func TestReloadRegistersExactlyOnce(t *testing.T) {
	svc, store, sender := newTestService(t)
	owner := store.addUser("telegram", "1001")
	store.seed(owner, "Reloaded", time.Now().Add(400*time.Millisecond), "")

	// Simulated restart: reload twice back to back. Re-registration must
	// replace, not duplicate, so the reminder fires exactly once.
	if err := svc.ReloadFromStore(context.Background()); err != nil {
		t.Fatalf("reload 1: %v", err)
	}
	if err := svc.ReloadFromStore(context.Background()); err != nil {
		t.Fatalf("reload 2: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool { return sender.deliveredTo("1001") >= 1 }, "never fired")
	time.Sleep(300 * time.Millisecond)
	if n := sender.deliveredTo("1001"); n != 1 {
		t.Fatalf("fired %d times after double reload, want exactly 1", n)
	}
}

func TestReloadSkipsCompletedAndInactive(t *testing.T) {
	svc, store, sender := newTestService(t)
	owner := store.addUser("telegram", "1001")

	done := store.seed(owner, "Done", time.Now().Add(-time.Hour), "")
	_ = store.Complete(context.Background(), done)
	gone := store.seed(owner, "Cancelled", time.Now().Add(-time.Hour), "")
	_ = store.Deactivate(context.Background(), gone)

	if err := svc.ReloadFromStore(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if n := sender.attemptCount(); n != 0 {
		t.Fatalf("completed/cancelled reminders dispatched %d times", n)
	}
}

func TestDailyAnchorsClockTime(t *testing.T) {
	svc, store, _ := newTestService(t)
	owner := store.addUser("telegram", "1001")

	// Anchored at 08:00; created whenever the test runs. The next run must
	// be the next 08:00 within 24h, never a drifted clock time.
	now := time.Now()
	anchor := time.Date(now.Year(), now.Month(), now.Day(), 8, 0, 0, 0, time.Local)
	res := svc.Create(context.Background(), CreateRequest{
		OwnerID:       owner,
		Title:         "Wake up",
		When:          iso(anchor),
		RepeatPattern: "daily",
	})
	if !res.Success {
		t.Fatalf("Create failed: %v", res.Err)
	}

	items, err := svc.List(context.Background(), owner)
	if err != nil || len(items) != 1 {
		t.Fatalf("List = %v items, err %v", len(items), err)
	}
	next := items[0].NextRun
	if items[0].Status != JobScheduled || next.IsZero() {
		t.Fatalf("daily reminder not scheduled: %+v", items[0])
	}
	if next.Hour() != 8 || next.Minute() != 0 {
		t.Fatalf("NextRun = %v, want an 08:00 slot", next)
	}
	if !next.After(now) || next.Sub(now) > 24*time.Hour {
		t.Fatalf("NextRun = %v, want the next 08:00 within 24h of %v", next, now)
	}
}

func TestRecurringDispatchDoesNotComplete(t *testing.T) {
	svc, store, sender := newTestService(t)
	owner := store.addUser("telegram", "1001")
	id := store.seed(owner, "Hydrate", time.Now().Add(-time.Minute), "every 2 hours")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	svc.dispatch(ctx, id)

	if n := sender.deliveredTo("1001"); n != 1 {
		t.Fatalf("delivered %d, want 1", n)
	}
	if store.completed(id) {
		t.Fatal("recurring reminder must never be marked completed")
	}
}

func TestEveryPatternReschedulesForward(t *testing.T) {
	svc, store, _ := newTestService(t)
	owner := store.addUser("telegram", "1001")
	id := store.seed(owner, "Hydrate", time.Now().Add(-30*time.Minute), "every 2 hours")

	if err := svc.ReloadFromStore(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	items, err := svc.List(context.Background(), owner)
	if err != nil || len(items) != 1 {
		t.Fatalf("List = %d items, err %v", len(items), err)
	}
	next := items[0].NextRun
	if items[0].Status != JobScheduled {
		t.Fatalf("status = %s, want scheduled", items[0].Status)
	}
	// anchor was 30m ago with a 2h period: next slot is 90m out.
	if d := time.Until(next); d < 85*time.Minute || d > 95*time.Minute {
		t.Fatalf("NextRun %v (in %v), want ~90m out for reminder %d", next, d, id)
	}
}

func TestUnknownPatternFallsBackToOneShotTrigger(t *testing.T) {
	svc, store, sender := newTestService(t)
	owner := store.addUser("telegram", "1001")
	store.seed(owner, "Mystery", time.Now().Add(-time.Second), "fortnightly")

	if err := svc.ReloadFromStore(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	// Fail-safe: the reminder is not dropped; it fires once as a one-shot.
	waitFor(t, 3*time.Second, func() bool { return sender.deliveredTo("1001") == 1 },
		"fallback one-shot never fired")
}

func TestDispatchMissingReminderIsNoop(t *testing.T) {
	svc, _, sender := newTestService(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	svc.dispatch(ctx, 999999)

	if n := sender.attemptCount(); n != 0 {
		t.Fatalf("missing reminder triggered %d sends", n)
	}
}

func TestDispatchOverlapSkipped(t *testing.T) {
	svc, store, sender := newTestService(t)
	owner := store.addUser("telegram", "1001")
	id := store.seed(owner, "Slow", time.Now(), "every 1 minute")

	svc.runMu.Lock()
	svc.running[id] = true
	svc.runMu.Unlock()

	svc.execDispatch(context.Background(), dispatchJob{reminderID: id})
	if n := sender.attemptCount(); n != 0 {
		t.Fatalf("overlapping dispatch ran anyway (%d sends)", n)
	}
}

func TestCleanupPurgesOldCompleted(t *testing.T) {
	svc, store, _ := newTestService(t)
	owner := store.addUser("telegram", "1001")

	old := store.seed(owner, "Ancient", time.Now().Add(-3*time.Hour), "")
	_ = store.Complete(context.Background(), old)
	store.mu.Lock()
	r := store.reminders[old]
	r.CreatedAt = time.Now().Add(-3 * time.Hour) // beyond the 1h test retention
	store.reminders[old] = r
	store.mu.Unlock()

	fresh := store.seed(owner, "Recent", time.Now(), "")
	_ = store.Complete(context.Background(), fresh)

	svc.runCleanup(context.Background())

	store.mu.Lock()
	_, oldThere := store.reminders[old]
	_, freshThere := store.reminders[fresh]
	store.mu.Unlock()
	if oldThere {
		t.Fatal("old completed reminder survived cleanup")
	}
	if !freshThere {
		t.Fatal("recently completed reminder purged too early")
	}
}

func TestListStatusUnknownWhenStopped(t *testing.T) {
	store := newFakeStore()
	owner := store.addUser("telegram", "1001")
	store.seed(owner, "Later", time.Now().Add(time.Hour), "")

	svc := New(Config{}, store, newFakeSender(), logx.Nop())
	// never started

	items, err := svc.List(context.Background(), owner)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(items) != 1 || items[0].Status != JobUnknown {
		t.Fatalf("items = %+v, want one item with unknown status", items)
	}
}

func TestRegisterRequiresRunningService(t *testing.T) {
	store := newFakeStore()
	owner := store.addUser("telegram", "1001")
	id := store.seed(owner, "Later", time.Now().Add(time.Hour), "")

	svc := New(Config{}, store, newFakeSender(), logx.Nop())
	r, _ := store.Reminder(context.Background(), id)

	err := svc.Register(r)
	var se *SchedulingError
	if !errors.As(err, &se) || !errors.Is(err, ErrNotRunning) {
		t.Fatalf("err = %v, want SchedulingError wrapping ErrNotRunning", err)
	}
}

func TestBodyFormat(t *testing.T) {
	t.Parallel()
	body := formatBody(storage.Reminder{Title: "Pay bills", Description: "electricity"})
	if !strings.Contains(body, "🔔 *Reminder: Pay bills*") {
		t.Fatalf("body missing header: %q", body)
	}
	if !strings.Contains(body, "electricity") {
		t.Fatalf("body missing description: %q", body)
	}
}

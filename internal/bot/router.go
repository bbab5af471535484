// Package bot is the inbound Telegram command surface. It translates chat
// commands into engine calls; all scheduling and delivery mechanics live
// in internal/reminder.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/timeparse"
	"remindbot/pkg/logx"
)

const handlerTimeout = 10 * time.Second

type Router struct {
	bot    *tele.Bot
	engine *reminder.Service
	store  storage.Store
	log    logx.Logger
}

func NewRouter(bot *tele.Bot, engine *reminder.Service, store storage.Store, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{bot: bot, engine: engine, store: store, log: log}
}

// Attach registers the command handlers. Call once before bot.Start().
func (r *Router) Attach() {
	r.bot.Handle("/start", r.handleStart)
	r.bot.Handle("/remind", r.handleRemind)
	r.bot.Handle("/reminders", r.handleList)
	r.bot.Handle("/cancel", r.handleCancel)
}

func (r *Router) handleStart(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if _, err := r.owner(ctx, c); err != nil {
		r.log.Error("user upsert failed", logx.Err(err))
		return c.Send("Something went wrong, please try again.")
	}
	return c.Send("Hi! I can remind you about things.\n\n" +
		"• /remind pay bills at 2:30pm\n" +
		"• /remind drink water in 45 minutes\n" +
		"• /remind standup at 9am daily\n" +
		"• /reminders — list what's scheduled\n" +
		"• /cancel <id> — cancel one")
}

func (r *Router) handleRemind(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	payload := strings.TrimSpace(c.Message().Payload)
	if payload == "" {
		return c.Send("Usage: /remind <task> at <time>\nFor example: /remind call John tomorrow at 2pm")
	}

	ownerID, err := r.owner(ctx, c)
	if err != nil {
		r.log.Error("user upsert failed", logx.Err(err))
		return c.Send("Something went wrong, please try again.")
	}

	task, when := splitTask(payload)
	when, pattern := extractPattern(when)
	if task == "" {
		return c.Send("I couldn't tell what to remind you about. Try: /remind <task> at <time>")
	}

	// Fallback policy is ours, not the resolver's: unparsable or missing
	// times default to one hour from now.
	note := ""
	target, err := timeparse.Resolve(when, time.Now())
	if err != nil {
		var re *timeparse.ResolutionError
		if when != "" && errors.As(err, &re) {
			note = fmt.Sprintf("\n(I couldn't read %q, so I set it for an hour from now.)", re.Input)
		}
		target = time.Now().Add(time.Hour)
	}

	res := r.engine.Create(ctx, reminder.CreateRequest{
		OwnerID:       ownerID,
		Title:         titleFirst(task),
		Description:   "Reminder: " + task,
		When:          target.Format(storage.TimeLayout),
		RepeatPattern: pattern,
	})
	if !res.Success {
		r.log.Warn("create rejected", logx.Err(res.Err))
		return c.Send("❌ Failed to set reminder: " + res.Message)
	}

	msg := fmt.Sprintf("✅ Reminder #%d set! I'll remind you to %s on %s",
		res.ReminderID, task, res.ScheduledTime.Format("January 2, 2006 at 3:04 PM"))
	if pattern != "" {
		msg += " (" + pattern + ")"
	}
	return c.Send(msg + note)
}

func (r *Router) handleList(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	ownerID, err := r.owner(ctx, c)
	if err != nil {
		r.log.Error("user upsert failed", logx.Err(err))
		return c.Send("Something went wrong, please try again.")
	}

	items, err := r.engine.List(ctx, ownerID)
	if err != nil {
		r.log.Error("list failed", logx.Err(err))
		return c.Send("Couldn't load your reminders, please try again.")
	}
	if len(items) == 0 {
		return c.Send("You have no active reminders.")
	}

	var b strings.Builder
	b.WriteString("Your reminders:\n")
	for _, it := range items {
		fmt.Fprintf(&b, "\n#%d %s — %s", it.ID, it.Title, it.TargetTime.Format("2006-01-02 15:04"))
		if it.RepeatPattern != "" {
			fmt.Fprintf(&b, " (%s)", it.RepeatPattern)
		}
		switch it.Status {
		case reminder.JobScheduled:
			if !it.NextRun.IsZero() {
				fmt.Fprintf(&b, "\n   next: %s", it.NextRun.Format("2006-01-02 15:04"))
			}
		case reminder.JobNotScheduled:
			b.WriteString("\n   not scheduled")
		}
	}
	return c.Send(b.String())
}

func (r *Router) handleCancel(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	arg := strings.TrimSpace(c.Message().Payload)
	id, err := strconv.ParseInt(strings.TrimPrefix(arg, "#"), 10, 64)
	if err != nil {
		return c.Send("Usage: /cancel <id> (see /reminders for ids)")
	}

	if err := r.engine.Cancel(ctx, id); err != nil {
		if errors.Is(err, reminder.ErrNotFound) {
			return c.Send(fmt.Sprintf("Reminder #%d not found.", id))
		}
		r.log.Error("cancel failed", logx.Int64("reminder_id", id), logx.Err(err))
		return c.Send("Couldn't cancel that reminder, please try again.")
	}
	return c.Send(fmt.Sprintf("🗑 Reminder #%d cancelled.", id))
}

func (r *Router) owner(ctx context.Context, c tele.Context) (int64, error) {
	chat := c.Chat()
	name := ""
	if s := c.Sender(); s != nil {
		name = strings.TrimSpace(s.FirstName + " " + s.LastName)
	}
	return r.store.UpsertUser(ctx, storage.User{
		Platform:    "telegram",
		Address:     strconv.FormatInt(chat.ID, 10),
		DisplayName: name,
	})
}

// splitTask separates "<task> at|by|on <time>" on the last connective so
// task text containing those words still parses ("look at mail at 5pm").
// "in" keeps its preposition because the resolver grammar needs it.
func splitTask(payload string) (task, when string) {
	lower := strings.ToLower(payload)
	type cut struct{ idx, skip int }
	best := cut{idx: -1}
	for _, sep := range []string{" at ", " by ", " on "} {
		if i := strings.LastIndex(lower, sep); i > best.idx {
			best = cut{idx: i, skip: len(sep)}
		}
	}
	if i := strings.LastIndex(lower, " in "); i > best.idx {
		best = cut{idx: i, skip: 1} // keep "in ..." for the resolver
	}
	if best.idx < 0 {
		return strings.TrimSpace(payload), ""
	}
	return strings.TrimSpace(payload[:best.idx]), strings.TrimSpace(payload[best.idx+best.skip:])
}

func titleFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// extractPattern peels a trailing repeat pattern off the time text:
// "9am daily", "10:00 every 2 hours".
func extractPattern(when string) (cleaned, pattern string) {
	lower := strings.ToLower(when)
	if i := strings.Index(lower, "every "); i >= 0 {
		if p, err := reminder.ParsePattern(strings.TrimSpace(when[i:])); err == nil {
			return strings.TrimSpace(when[:i]), p.String()
		}
	}
	fields := strings.Fields(when)
	if len(fields) > 0 {
		switch strings.ToLower(fields[len(fields)-1]) {
		case "daily", "weekly", "monthly":
			return strings.TrimSpace(strings.Join(fields[:len(fields)-1], " ")), strings.ToLower(fields[len(fields)-1])
		}
	}
	return when, ""
}

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/scheduler"
	"github.com/BTreeMap/OrderPipe/internal/store"
)

// StartIdleSweep runs SweepIdleSessions every interval. The returned stop
// function cancels the job; it is safe to call more than once.
func (e *Engine) StartIdleSweep(interval time.Duration) (stop func(), err error) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	sched := e.sched
	owned := sched == nil
	if owned {
		sched = scheduler.NewScheduler()
	}

	id, err := sched.Every(interval, func() {
		e.SweepIdleSessions(context.Background())
	})
	if err != nil {
		if owned {
			sched.Stop()
		}
		return nil, fmt.Errorf("schedule idle sweep: %w", err)
	}
	slog.Info("Engine.StartIdleSweep: idle sweep scheduled", "interval", interval,
		"reminder_after", e.reminderAfter, "expire_after", e.expireAfter)

	var once sync.Once
	return func() {
		once.Do(func() {
			if owned {
				sched.Stop()
				return
			}
			sched.Remove(id)
		})
	}, nil
}

// SweepIdleSessions sends reminders to sessions idle past the reminder
// threshold and deletes those idle past the expiry threshold. Channels are
// swept independently; a fault in one does not stop the others.
func (e *Engine) SweepIdleSessions(ctx context.Context) {
	for _, channel := range e.outbox.Channels() {
		e.sweepChannel(ctx, channel)
	}
}

func (e *Engine) sweepChannel(ctx context.Context, channel models.Channel) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Engine.sweepChannel: panic during sweep", "channel", channel, "panic", r)
		}
	}()

	now := e.now()
	reminderCutoff := now.Add(-e.reminderAfter)
	expiryCutoff := now.Add(-e.expireAfter)

	reminded, err := e.sendReminders(ctx, channel, reminderCutoff, expiryCutoff)
	if err != nil {
		slog.Error("Engine.sweepChannel: reminder pass failed", "channel", channel, "error", err)
	}
	expired, err := e.expireSessions(ctx, channel, expiryCutoff)
	if err != nil {
		slog.Error("Engine.sweepChannel: expiry pass failed", "channel", channel, "error", err)
	}
	slog.Debug("Engine.sweepChannel: completed", "channel", channel, "reminded", reminded, "expired", expired)
}

// sendReminders handles sessions idle between the two thresholds that have
// not been reminded yet. The activity stamp is left alone so expiry still
// happens at the expiry threshold.
func (e *Engine) sendReminders(ctx context.Context, channel models.Channel, reminderCutoff, expiryCutoff time.Time) (int, error) {
	idle, err := e.sessions.FindIdle(ctx, reminderCutoff, store.IdleFilter{
		Channel:      channel,
		ReminderSent: models.BoolPtr(false),
		NotOlderThan: expiryCutoff,
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, s := range idle {
		if e.remind(ctx, s.Key, reminderCutoff) {
			n++
		}
	}
	return n, nil
}

func (e *Engine) remind(ctx context.Context, key string, cutoff time.Time) bool {
	unlock := e.locks.Lock(key)
	defer unlock()

	// Re-read under the lock: a message may have arrived since the query.
	sess, err := e.sessions.Get(ctx, key)
	if err != nil {
		slog.Error("Engine.remind: load session failed", "key", key, "error", err)
		return false
	}
	if sess == nil || sess.ReminderSent || !sess.LastActivityAt.Before(cutoff) {
		return false
	}

	e.reply(ctx, sess.Channel, sess.Address, e.reminderMessage)
	if _, err := e.sessions.Update(ctx, key, models.SessionUpdate{ReminderSent: models.BoolPtr(true)}); err != nil {
		slog.Error("Engine.remind: mark reminder sent failed", "key", key, "error", err)
		return false
	}
	slog.Info("Engine.remind: reminder sent", "key", key, "idle_since", sess.LastActivityAt)
	return true
}

func (e *Engine) expireSessions(ctx context.Context, channel models.Channel, cutoff time.Time) (int, error) {
	idle, err := e.sessions.FindIdle(ctx, cutoff, store.IdleFilter{Channel: channel})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, s := range idle {
		if e.expire(ctx, s.Key, cutoff) {
			n++
		}
	}
	return n, nil
}

func (e *Engine) expire(ctx context.Context, key string, cutoff time.Time) bool {
	unlock := e.locks.Lock(key)
	defer unlock()

	sess, err := e.sessions.Get(ctx, key)
	if err != nil {
		slog.Error("Engine.expire: load session failed", "key", key, "error", err)
		return false
	}
	if sess == nil || !sess.LastActivityAt.Before(cutoff) {
		return false
	}

	e.reply(ctx, sess.Channel, sess.Address, e.expiryMessage)
	if err := e.sessions.Delete(ctx, key); err != nil {
		slog.Error("Engine.expire: delete session failed", "key", key, "error", err)
		return false
	}
	slog.Info("Engine.expire: session expired", "key", key, "idle_since", sess.LastActivityAt)
	return true
}

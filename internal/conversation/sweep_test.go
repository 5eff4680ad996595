package conversation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/OrderPipe/internal/config"
	"github.com/BTreeMap/OrderPipe/internal/messaging"
	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/scheduler"
	"github.com/BTreeMap/OrderPipe/internal/store"
)

// ageSession creates a session for address on channel idle for the given duration.
func (h *harness) ageSession(address string, channel models.Channel, idle time.Duration, reminderSent bool) string {
	h.t.Helper()
	ctx := context.Background()
	key := models.SessionKey(address, channel)
	_, err := h.store.GetOrCreate(ctx, key, address, channel)
	require.NoError(h.t, err)
	if reminderSent {
		_, err = h.store.Update(ctx, key, models.SessionUpdate{ReminderSent: models.BoolPtr(true)})
		require.NoError(h.t, err)
	}
	h.store.Touch(key, h.clock().Add(-idle))
	return key
}

func TestSweep_ReminderAt31Minutes(t *testing.T) {
	h := newHarness(t)
	key := h.ageSession(testAddress, models.ChannelWhatsApp, 31*time.Minute, false)

	h.engine.SweepIdleSessions(context.Background())

	s, err := h.store.Get(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, s, "reminded session is not deleted")
	assert.True(t, s.ReminderSent)
	assert.Equal(t, []string{config.DefaultReminderMessage}, h.wa.SentTo(testAddress))

	// a second sweep does not remind again
	h.advance(5 * time.Minute)
	h.engine.SweepIdleSessions(context.Background())
	assert.Len(t, h.wa.SentTo(testAddress), 1)
}

func TestSweep_ExpiryAt61Minutes(t *testing.T) {
	for _, reminderSent := range []bool{false, true} {
		h := newHarness(t)
		key := h.ageSession(testAddress, models.ChannelWhatsApp, 61*time.Minute, reminderSent)

		h.engine.SweepIdleSessions(context.Background())

		s, err := h.store.Get(context.Background(), key)
		require.NoError(t, err)
		assert.Nil(t, s, "session idle past expiry is deleted (reminderSent=%v)", reminderSent)
		assert.Equal(t, []string{config.DefaultExpiryMessage}, h.wa.SentTo(testAddress),
			"expired session gets only the expiry notice")
	}
}

func TestSweep_ReminderThenExpiry(t *testing.T) {
	h := newHarness(t)
	key := h.ageSession(testAddress, models.ChannelWhatsApp, 31*time.Minute, false)

	h.engine.SweepIdleSessions(context.Background())
	h.advance(30 * time.Minute)
	h.engine.SweepIdleSessions(context.Background())

	s, err := h.store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Equal(t, []string{config.DefaultReminderMessage, config.DefaultExpiryMessage}, h.wa.SentTo(testAddress))
}

func TestSweep_ActivityResetsReminder(t *testing.T) {
	h := newHarness(t)
	key := h.ageSession(testAddress, models.ChannelWhatsApp, 31*time.Minute, false)
	h.engine.SweepIdleSessions(context.Background())

	h.send("salut")
	s, err := h.store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, s.ReminderSent, "an inbound message starts a new idle period")
	assert.Equal(t, h.clock(), s.LastActivityAt)
}

func TestSweep_FreshSessionsUntouched(t *testing.T) {
	h := newHarness(t)
	h.ageSession(testAddress, models.ChannelWhatsApp, 10*time.Minute, false)

	h.engine.SweepIdleSessions(context.Background())
	assert.Empty(t, h.wa.SentMessages())
}

func TestSweep_ChannelsSweptIndependently(t *testing.T) {
	h := newHarness(t)
	h.ageSession("40700000001", models.ChannelWhatsApp, 61*time.Minute, false)
	smsKey := h.ageSession("40700000002", models.ChannelSMS, 61*time.Minute, false)

	panicky := &panickyFindIdle{SessionStore: h.store, channel: models.ChannelWhatsApp}
	e, err := NewEngine(Deps{
		Sessions: panicky,
		Orders:   h.store,
		Gateway:  h.gateway,
		Catalog:  h.catalog,
		Parser:   h.parser,
		Outbox:   messaging.NewRegistry(h.wa, h.sms),
	}, WithClock(h.clock))
	require.NoError(t, err)

	e.SweepIdleSessions(context.Background())

	s, err := h.store.Get(context.Background(), smsKey)
	require.NoError(t, err)
	assert.Nil(t, s, "sms sweep runs even though the whatsapp sweep failed")
	assert.Equal(t, []string{config.DefaultExpiryMessage}, h.sms.SentTo("40700000002"))
}

func TestSweep_CustomMessages(t *testing.T) {
	h := newHarness(t)
	e, err := NewEngine(Deps{
		Sessions: h.store,
		Orders:   h.store,
		Gateway:  h.gateway,
		Catalog:  h.catalog,
		Parser:   h.parser,
		Outbox:   messaging.NewRegistry(h.wa),
	},
		WithClock(h.clock),
		WithReminderAfter(10*time.Minute),
		WithExpireAfter(20*time.Minute),
		WithReminderMessage("Sesiunea expira curand."),
		WithExpiryMessage("Sesiunea a expirat."),
	)
	require.NoError(t, err)

	h.ageSession(testAddress, models.ChannelWhatsApp, 11*time.Minute, false)
	e.SweepIdleSessions(context.Background())
	h.advance(10 * time.Minute)
	e.SweepIdleSessions(context.Background())

	assert.Equal(t, []string{"Sesiunea expira curand.", "Sesiunea a expirat."}, h.wa.SentTo(testAddress))
}

// panickyFindIdle panics when asked for idle sessions of one channel.
type panickyFindIdle struct {
	store.SessionStore
	channel models.Channel
}

func (p *panickyFindIdle) FindIdle(ctx context.Context, olderThan time.Time, filter store.IdleFilter) ([]models.Session, error) {
	if filter.Channel == p.channel {
		panic("index corrupted")
	}
	return p.SessionStore.FindIdle(ctx, olderThan, filter)
}

// countingOutbox counts sweeps by counting Channels calls.
type countingOutbox struct {
	Outbox
	calls atomic.Int32
}

func (c *countingOutbox) Channels() []models.Channel {
	c.calls.Add(1)
	return c.Outbox.Channels()
}

func TestStartIdleSweep(t *testing.T) {
	h := newHarness(t)
	out := &countingOutbox{Outbox: messaging.NewRegistry(h.wa)}
	sched := scheduler.NewScheduler()
	defer sched.Stop()

	e, err := NewEngine(Deps{
		Sessions: h.store,
		Orders:   h.store,
		Gateway:  h.gateway,
		Catalog:  h.catalog,
		Parser:   h.parser,
		Outbox:   out,
	}, WithScheduler(sched))
	require.NoError(t, err)

	stop, err := e.StartIdleSweep(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, sched.Len())

	deadline := time.Now().Add(3 * time.Second)
	for out.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	assert.NotZero(t, out.calls.Load(), "sweep ran")

	stop()
	stop()
	assert.Equal(t, 0, sched.Len())
}

func TestStartIdleSweep_OwnScheduler(t *testing.T) {
	h := newHarness(t)
	stop, err := h.engine.StartIdleSweep(time.Hour)
	require.NoError(t, err)
	stop()

	_, err = h.engine.StartIdleSweep(10 * time.Millisecond)
	assert.Error(t, err)
}

func TestKeyedMutex(t *testing.T) {
	km := newKeyedMutex()
	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("k")
			defer unlock()
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, 0, km.size())

	// different keys do not block each other
	u1 := km.Lock("a")
	u2 := km.Lock("b")
	assert.Equal(t, 2, km.size())
	u1()
	u2()
	assert.Equal(t, 0, km.size())
}

package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/evcharge-reservations/internal/catalog"
	"github.com/ariefcatur/evcharge-reservations/internal/reservations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProcessor keeps intents in memory. Webhook payloads are JSON
// fakeEvents; the signature is the literal "ok".
type fakeProcessor struct {
	mu        sync.Mutex
	intents   map[string]*Intent
	creates   int
	retrieves int
	hang      bool
	lastKey   string
}

type fakeEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	IntentRef string    `json:"intent_ref"`
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{intents: map[string]*Intent{}}
}

func (p *fakeProcessor) CreateIntent(ctx context.Context, in IntentParams) (*Intent, error) {
	if p.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates++
	p.lastKey = in.IdempotencyKey
	ref := fmt.Sprintf("pi_%d", p.creates)
	p.intents[ref] = &Intent{
		Ref:          ref,
		Status:       IntentPending,
		ClientSecret: ref + "_secret",
		AmountMinor:  in.AmountMinor,
		Metadata:     in.Metadata,
	}
	cp := *p.intents[ref]
	return &cp, nil
}

func (p *fakeProcessor) RetrieveIntent(ctx context.Context, ref string) (*Intent, error) {
	if p.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retrieves++
	in, ok := p.intents[ref]
	if !ok {
		return nil, fmt.Errorf("no such intent %s", ref)
	}
	cp := *in
	return &cp, nil
}

func (p *fakeProcessor) ParseEvent(payload []byte, signature string) (*Event, error) {
	if signature != "ok" {
		return nil, ErrInvalidSignature
	}
	var fe fakeEvent
	if err := json.Unmarshal(payload, &fe); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ev := &Event{ID: fe.ID, Type: fe.Type, Intent: Intent{Ref: fe.IntentRef}}
	if in, ok := p.intents[fe.IntentRef]; ok {
		ev.Intent = *in
	}
	return ev, nil
}

func (p *fakeProcessor) settle(ref string, s IntentStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents[ref].Status = s
}

func event(id string, typ EventType, ref string) []byte {
	b, _ := json.Marshal(fakeEvent{ID: id, Type: typ, IntentRef: ref})
	return b
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type setDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *setDedup) Seen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[id] {
		return true, nil
	}
	d.seen[id] = true
	return false, nil
}

func (d *setDedup) Forget(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	return nil
}

// flakyStore fails the next SettlePayment calls while down is set.
type flakyStore struct {
	*reservations.MemoryStore
	mu   sync.Mutex
	down bool
}

func (s *flakyStore) setDown(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = v
}

func (s *flakyStore) SettlePayment(ctx context.Context, id, intentRef string, outcome reservations.PaymentStatus, at time.Time) (*reservations.Reservation, bool, error) {
	s.mu.Lock()
	down := s.down
	s.mu.Unlock()
	if down {
		return nil, false, errors.New("connection refused")
	}
	return s.MemoryStore.SettlePayment(ctx, id, intentRef, outcome, at)
}

type recordingCache struct {
	mu      sync.Mutex
	dropped []string
}

func (c *recordingCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped = append(c.dropped, id)
	return nil
}

func (c *recordingCache) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.dropped...)
}

var (
	now    = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	driver = reservations.Actor{ID: "driver-1"}
	owner  = reservations.Actor{ID: "owner-1"}
)

type fixture struct {
	coord *Coordinator
	proc  *fakeProcessor
	eng   *reservations.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := catalog.NewMemoryDirectory()
	dir.PutStation(catalog.Station{ID: "station-a", OwnerRef: owner.ID, PowerKW: 50, PricePerKWh: 0.20, Available: true})
	dir.PutStation(catalog.Station{ID: "station-tiny", OwnerRef: owner.ID, PowerKW: 0.01, PricePerKWh: 0.01, Available: true})

	eng := &reservations.Engine{
		Store:     reservations.NewMemoryStore(),
		Directory: dir,
		Clock:     fixedClock{now},
		Policy:    reservations.DefaultPolicy(),
	}
	proc := newFakeProcessor()
	return &fixture{
		coord: &Coordinator{Engine: eng, Processor: proc, Timeout: 50 * time.Millisecond},
		proc:  proc,
		eng:   eng,
	}
}

func (f *fixture) booking(t *testing.T, stationID string, startHour int) *reservations.Reservation {
	t.Helper()
	r, err := f.eng.ReserveInterval(context.Background(), driver, reservations.IntervalRequest{
		StationID: stationID,
		Start:     time.Date(2026, 5, 1, startHour, 0, 0, 0, time.UTC),
		End:       time.Date(2026, 5, 1, startHour+1, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) bound(t *testing.T) (*reservations.Reservation, string) {
	t.Helper()
	r := f.booking(t, "station-a", 10)
	b, err := f.coord.BindIntent(context.Background(), r.ID, driver)
	require.NoError(t, err)
	return r, b.IntentRef
}

func (f *fixture) state(t *testing.T, id string) (reservations.Status, reservations.PaymentStatus) {
	t.Helper()
	r, err := f.eng.Get(context.Background(), id)
	require.NoError(t, err)
	return r.Status, r.PaymentStatus
}

func TestBindIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.booking(t, "station-a", 10)

	b, err := f.coord.BindIntent(ctx, r.ID, driver)
	require.NoError(t, err)
	assert.Equal(t, "pi_1", b.IntentRef)
	assert.Equal(t, int64(800), b.AmountMinor)
	assert.Equal(t, "pi_1_secret", b.ClientSecret)
	assert.Equal(t, "bind-"+r.ID, f.proc.lastKey)

	in := f.proc.intents["pi_1"]
	assert.Equal(t, r.ID, in.Metadata[MetaReservationID])
	assert.Equal(t, string(reservations.KindBooking), in.Metadata[MetaReservationKind])

	again, err := f.coord.BindIntent(ctx, r.ID, driver)
	require.NoError(t, err)
	assert.Equal(t, "pi_1", again.IntentRef)
	assert.Equal(t, 1, f.proc.creates, "second bind reuses the intent")

	got, err := f.eng.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_1", got.PaymentIntentRef)
}

func TestBindIntentRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tiny := f.booking(t, "station-tiny", 10)
	b, err := f.coord.BindIntent(ctx, tiny.ID, driver)
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.AmountMinor)

	r := f.booking(t, "station-a", 12)
	_, err = f.coord.BindIntent(ctx, r.ID, reservations.Actor{ID: "stranger"})
	assert.ErrorIs(t, err, reservations.ErrUnauthorized)

	_, err = f.coord.BindIntent(ctx, "missing", driver)
	assert.ErrorIs(t, err, reservations.ErrNotFound)

	_, err = f.eng.Transition(ctx, r.ID, reservations.StatusCancelled, driver, reservations.TransitionData{})
	require.NoError(t, err)
	_, err = f.coord.BindIntent(ctx, r.ID, driver)
	assert.ErrorIs(t, err, reservations.ErrInvalidTransition)
}

func TestBindIntentTimeoutLeavesNoRef(t *testing.T) {
	f := newFixture(t)
	r := f.booking(t, "station-a", 10)
	f.proc.hang = true

	_, err := f.coord.BindIntent(context.Background(), r.ID, driver)
	assert.ErrorIs(t, err, reservations.ErrProcessorUnavailable)

	got, err := f.eng.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Empty(t, got.PaymentIntentRef)
}

func TestConfirmByClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, ref := f.bound(t)

	_, err := f.coord.ConfirmByClient(ctx, ref)
	assert.ErrorIs(t, err, reservations.ErrPaymentNotCompleted)
	st, ps := f.state(t, r.ID)
	assert.Equal(t, reservations.StatusPending, st)
	assert.Equal(t, reservations.PaymentPending, ps)

	f.proc.settle(ref, IntentSucceeded)
	got, err := f.coord.ConfirmByClient(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, reservations.StatusConfirmed, got.Status)
	assert.Equal(t, reservations.PaymentPaid, got.PaymentStatus)
}

func TestConfirmByClientTimeout(t *testing.T) {
	f := newFixture(t)
	_, ref := f.bound(t)
	f.proc.hang = true

	_, err := f.coord.ConfirmByClient(context.Background(), ref)
	assert.ErrorIs(t, err, reservations.ErrProcessorUnavailable)
}

func TestSignalsConvergeInEitherOrder(t *testing.T) {
	orders := map[string][]string{
		"confirm then webhook": {"confirm", "webhook", "webhook"},
		"webhook then confirm": {"webhook", "webhook", "confirm"},
	}
	for name, steps := range orders {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			r, ref := f.bound(t)
			f.proc.settle(ref, IntentSucceeded)

			for _, s := range steps {
				if s == "confirm" {
					_, err := f.coord.ConfirmByClient(ctx, ref)
					require.NoError(t, err)
				} else {
					require.NoError(t, f.coord.ReconcileFromWebhook(ctx, event("evt_1", EventSucceeded, ref), "ok"))
				}
			}
			st, ps := f.state(t, r.ID)
			assert.Equal(t, reservations.StatusConfirmed, st)
			assert.Equal(t, reservations.PaymentPaid, ps)
		})
	}
}

func TestWebhookIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, ref := f.bound(t)

	require.NoError(t, f.coord.ReconcileFromWebhook(ctx, event("evt_1", EventSucceeded, ref), "ok"))
	once, err := f.eng.Get(ctx, r.ID)
	require.NoError(t, err)

	require.NoError(t, f.coord.ReconcileFromWebhook(ctx, event("evt_1", EventSucceeded, ref), "ok"))
	twice, err := f.eng.Get(ctx, r.ID)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestWebhookFailureThenRebind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, ref := f.bound(t)

	require.NoError(t, f.coord.ReconcileFromWebhook(ctx, event("evt_f", EventFailed, ref), "ok"))
	st, ps := f.state(t, r.ID)
	assert.Equal(t, reservations.StatusPending, st)
	assert.Equal(t, reservations.PaymentFailed, ps)

	// a stray success for the failed attempt changes nothing
	require.NoError(t, f.coord.ReconcileFromWebhook(ctx, event("evt_s", EventSucceeded, ref), "ok"))
	_, ps = f.state(t, r.ID)
	assert.Equal(t, reservations.PaymentFailed, ps)

	b, err := f.coord.BindIntent(ctx, r.ID, driver)
	require.NoError(t, err)
	assert.Equal(t, ref, b.IntentRef)
	assert.Equal(t, string(reservations.PaymentPending), b.PaymentStatus)

	require.NoError(t, f.coord.ReconcileFromWebhook(ctx, event("evt_s2", EventSucceeded, ref), "ok"))
	st, ps = f.state(t, r.ID)
	assert.Equal(t, reservations.StatusConfirmed, st)
	assert.Equal(t, reservations.PaymentPaid, ps)

	creates := f.proc.creates
	paid, err := f.coord.BindIntent(ctx, r.ID, driver)
	require.NoError(t, err)
	assert.Equal(t, ref, paid.IntentRef)
	assert.Equal(t, creates, f.proc.creates)
}

func TestWebhookDropsWhatItCannotMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, ref := f.bound(t)

	err := f.coord.ReconcileFromWebhook(ctx, event("evt_1", EventSucceeded, ref), "forged")
	assert.ErrorIs(t, err, ErrInvalidSignature)
	_, ps := f.state(t, r.ID)
	assert.Equal(t, reservations.PaymentPending, ps)

	// intent unknown to us: no metadata, dropped
	assert.NoError(t, f.coord.ReconcileFromWebhook(ctx, event("evt_2", EventSucceeded, "pi_999"), "ok"))

	// metadata names a reservation that does not exist
	f.proc.intents["pi_ghost"] = &Intent{Ref: "pi_ghost", Metadata: map[string]string{MetaReservationID: "ghost"}}
	assert.NoError(t, f.coord.ReconcileFromWebhook(ctx, event("evt_3", EventSucceeded, "pi_ghost"), "ok"))

	// metadata names our reservation but a different intent
	f.proc.intents["pi_other"] = &Intent{Ref: "pi_other", Metadata: map[string]string{MetaReservationID: r.ID}}
	assert.NoError(t, f.coord.ReconcileFromWebhook(ctx, event("evt_4", EventSucceeded, "pi_other"), "ok"))
	_, ps = f.state(t, r.ID)
	assert.Equal(t, reservations.PaymentPending, ps)

	assert.NoError(t, f.coord.ReconcileFromWebhook(ctx, event("evt_5", EventIgnored, ref), "ok"))
}

func TestLateSuccessOnCancelledReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, ref := f.bound(t)

	_, err := f.eng.Transition(ctx, r.ID, reservations.StatusCancelled, driver, reservations.TransitionData{})
	require.NoError(t, err)

	require.NoError(t, f.coord.ReconcileFromWebhook(ctx, event("evt_1", EventSucceeded, ref), "ok"))
	st, ps := f.state(t, r.ID)
	assert.Equal(t, reservations.StatusCancelled, st)
	assert.Equal(t, reservations.PaymentPending, ps)
}

func TestPaidBookingThatLostTheWindowStaysPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, ref := f.bound(t)

	rival := f.booking(t, "station-a", 10)
	_, err := f.eng.Transition(ctx, rival.ID, reservations.StatusConfirmed, owner, reservations.TransitionData{})
	require.NoError(t, err)

	require.NoError(t, f.coord.ReconcileFromWebhook(ctx, event("evt_1", EventSucceeded, ref), "ok"))
	st, ps := f.state(t, r.ID)
	assert.Equal(t, reservations.StatusPending, st)
	assert.Equal(t, reservations.PaymentPaid, ps)
}

func TestWebhookDedup(t *testing.T) {
	f := newFixture(t)
	f.coord.Dedup = &setDedup{seen: map[string]bool{"evt_seen": true}}
	r, ref := f.bound(t)

	require.NoError(t, f.coord.ReconcileFromWebhook(context.Background(), event("evt_seen", EventSucceeded, ref), "ok"))
	_, ps := f.state(t, r.ID)
	assert.Equal(t, reservations.PaymentPending, ps)
}

func TestWebhookRedeliveryAfterFailedApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := &flakyStore{MemoryStore: f.eng.Store.(*reservations.MemoryStore)}
	f.eng.Store = store
	dedup := &setDedup{seen: map[string]bool{}}
	f.coord.Dedup = dedup
	r, ref := f.bound(t)

	store.setDown(true)
	err := f.coord.ReconcileFromWebhook(ctx, event("evt_1", EventSucceeded, ref), "ok")
	require.Error(t, err)
	assert.False(t, dedup.seen["evt_1"], "failed apply must not stay marked")

	store.setDown(false)
	require.NoError(t, f.coord.ReconcileFromWebhook(ctx, event("evt_1", EventSucceeded, ref), "ok"))
	st, ps := f.state(t, r.ID)
	assert.Equal(t, reservations.StatusConfirmed, st)
	assert.Equal(t, reservations.PaymentPaid, ps)

	// a further duplicate is skipped again
	require.NoError(t, f.coord.ReconcileFromWebhook(ctx, event("evt_1", EventSucceeded, ref), "ok"))
	assert.True(t, dedup.seen["evt_1"])
}

func TestPaymentOnlyWritesInvalidateStatusCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cache := &recordingCache{}
	f.coord.Cache = cache
	r, ref := f.bound(t)
	assert.Equal(t, []string{r.ID}, cache.ids(), "bind")

	require.NoError(t, f.coord.ReconcileFromWebhook(ctx, event("evt_f", EventFailed, ref), "ok"))
	assert.Equal(t, []string{r.ID, r.ID}, cache.ids(), "failed payment")

	// duplicate signal writes nothing and leaves the cache alone
	require.NoError(t, f.coord.ReconcileFromWebhook(ctx, event("evt_f", EventFailed, ref), "ok"))
	assert.Len(t, cache.ids(), 2)

	_, err := f.coord.BindIntent(ctx, r.ID, driver)
	require.NoError(t, err)
	assert.Len(t, cache.ids(), 3, "reopen")
}

func TestPaymentWritesUseEngineClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, ref := f.bound(t)

	got, err := f.eng.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, now, got.UpdatedAt)

	later := now.Add(30 * time.Minute)
	f.eng.Clock = fixedClock{later}
	require.NoError(t, f.coord.ReconcileFromWebhook(ctx, event("evt_f", EventFailed, ref), "ok"))
	got, err = f.eng.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, later, got.UpdatedAt)
}

func TestConcurrentConfirmAndWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, ref := f.bound(t)
	f.proc.settle(ref, IntentSucceeded)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := f.coord.ConfirmByClient(ctx, ref); err != nil {
				t.Errorf("confirm: %v", err)
			}
		}()
		go func(i int) {
			defer wg.Done()
			if err := f.coord.ReconcileFromWebhook(ctx, event(fmt.Sprintf("evt_%d", i), EventSucceeded, ref), "ok"); err != nil {
				t.Errorf("webhook: %v", err)
			}
		}(i)
	}
	wg.Wait()

	st, ps := f.state(t, r.ID)
	assert.Equal(t, reservations.StatusConfirmed, st)
	assert.Equal(t, reservations.PaymentPaid, ps)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(800), MinorUnits(8.00))
	assert.Equal(t, int64(1235), MinorUnits(12.346))
	assert.Equal(t, int64(1), MinorUnits(0.004))
	assert.Equal(t, int64(1), MinorUnits(0))
}

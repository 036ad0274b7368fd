package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/database"
	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/model"
)

type fakeAlerts struct {
	mu     sync.Mutex
	alerts map[string]*model.Alert
}

func (f *fakeAlerts) Get(_ context.Context, id string) (*model.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alerts[id], nil
}

type fakeNotifications struct {
	mu     sync.Mutex
	byID   map[string]*model.Notification
	byFP   map[string]*model.Notification
	nextID int
}

func newFakeNotifications() *fakeNotifications {
	return &fakeNotifications{byID: map[string]*model.Notification{}, byFP: map[string]*model.Notification{}}
}

func (f *fakeNotifications) Create(_ context.Context, ev *model.TriggerEvent) (*model.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byFP[ev.Fingerprint]; ok {
		return nil, nil
	}
	f.nextID++
	n := &model.Notification{
		ID:          fmt.Sprintf("n%d", f.nextID),
		UserID:      ev.UserID,
		AlertID:     ev.AlertID,
		Fingerprint: ev.Fingerprint,
		Title:       ev.Title,
		Body:        ev.Body,
		CreatedAt:   ev.TriggeredAt,
	}
	f.byID[n.ID] = n
	f.byFP[n.Fingerprint] = n
	return n, nil
}

func (f *fakeNotifications) Get(_ context.Context, id string) (*model.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id], nil
}

type fakeDeliveries struct {
	mu         sync.Mutex
	byID       map[string]*model.NotificationDelivery
	deadReason map[string]string
	nextID     int
	insertErrs int // fail this many Insert calls before succeeding
}

func newFakeDeliveries() *fakeDeliveries {
	return &fakeDeliveries{byID: map[string]*model.NotificationDelivery{}, deadReason: map[string]string{}}
}

func (f *fakeDeliveries) Insert(_ context.Context, d *model.NotificationDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErrs > 0 {
		f.insertErrs--
		return errors.New("delivery store down")
	}
	f.nextID++
	d.ID = fmt.Sprintf("d%d", f.nextID)
	cp := *d
	f.byID[d.ID] = &cp
	return nil
}

func (f *fakeDeliveries) Get(_ context.Context, id string) (*model.NotificationDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDeliveries) MarkAttempt(_ context.Context, id string, status model.DeliveryStatus, attempt int, providerMsgID, lastError string, nextAttemptAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.byID[id]
	if !ok {
		return fmt.Errorf("delivery %s not found", id)
	}
	if d.Status != model.StatusPending && d.Status != model.StatusSent {
		return fmt.Errorf("delivery %s: illegal transition from %s", id, d.Status)
	}
	d.Status = status
	if attempt > d.AttemptCount {
		d.AttemptCount = attempt
	}
	d.ProviderMsgID = providerMsgID
	d.LastError = lastError
	d.NextAttemptAt = nextAttemptAt
	return nil
}

func (f *fakeDeliveries) DeadLetter(_ context.Context, d *model.NotificationDelivery, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadReason[d.ID] = reason
	return nil
}

func (f *fakeDeliveries) single(t *testing.T, ch model.Channel) *model.NotificationDelivery {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var found *model.NotificationDelivery
	for _, d := range f.byID {
		if d.Channel != ch {
			continue
		}
		if found != nil {
			t.Fatalf("multiple deliveries for channel %s", ch)
		}
		found = d
	}
	if found == nil {
		t.Fatalf("no delivery for channel %s", ch)
	}
	cp := *found
	return &cp
}

type fakePrefs struct {
	prefs *database.Preferences
}

func (f *fakePrefs) Get(_ context.Context, userID string) (*database.Preferences, error) {
	if f.prefs != nil {
		return f.prefs, nil
	}
	return &database.Preferences{
		UserID: userID,
		Channels: map[model.Channel]database.ChannelPreference{
			model.ChannelEmail: {Enabled: true, Destination: "user@example.com"},
			model.ChannelSMS:   {Enabled: true, Destination: "+15550100"},
		},
		QuietStart: -1,
		QuietEnd:   -1,
	}, nil
}

type fakeRetry struct {
	mu        sync.Mutex
	scheduled []struct {
		deliveryID string
		at         time.Time
	}
}

func (f *fakeRetry) ScheduleRetry(_ context.Context, deliveryID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, struct {
		deliveryID string
		at         time.Time
	}{deliveryID, at})
	return nil
}

func (f *fakeRetry) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scheduled)
}

type scriptedAdapter struct {
	ch       model.Channel
	provider string
	mu       sync.Mutex
	results  []error // consumed in order; nil means success
	calls    int
}

func (a *scriptedAdapter) Channel() model.Channel { return a.ch }
func (a *scriptedAdapter) Provider() string       { return a.provider }

func (a *scriptedAdapter) Send(_ context.Context, _ string, _ *model.Notification) (SendResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if len(a.results) == 0 {
		return SendResult{MessageID: "msg-1", Delivered: true}, nil
	}
	err := a.results[0]
	a.results = a.results[1:]
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{MessageID: "msg-1", Delivered: true}, nil
}

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type harness struct {
	orch       *Orchestrator
	alerts     *fakeAlerts
	notifs     *fakeNotifications
	deliveries *fakeDeliveries
	retry      *fakeRetry
	adapter    *scriptedAdapter
}

func newHarness(channels []model.Channel, sendResults []error) *harness {
	alert := &model.Alert{
		ID:       "a1",
		UserID:   "u1",
		Type:     model.TypeTransactionLimit,
		Channels: channels,
		Active:   true,
	}
	h := &harness{
		alerts:     &fakeAlerts{alerts: map[string]*model.Alert{"a1": alert}},
		notifs:     newFakeNotifications(),
		deliveries: newFakeDeliveries(),
		retry:      &fakeRetry{},
		adapter:    &scriptedAdapter{ch: model.ChannelEmail, provider: "email-gateway", results: sendResults},
	}
	h.orch = NewOrchestrator(h.alerts, h.notifs, h.deliveries, &fakePrefs{},
		NewMemoryRateLimiter(100, 1000), NewBreaker(5, 2*time.Minute, time.Minute), h.retry)
	h.orch.Backoff = Backoff{Base: 30 * time.Second, Max: time.Hour}
	h.orch.RegisterAdapter(h.adapter)
	return h
}

func event() *model.TriggerEvent {
	return &model.TriggerEvent{
		AlertID:     "a1",
		UserID:      "u1",
		Type:        model.TypeTransactionLimit,
		Fingerprint: "a1|txn=t1",
		Title:       "Large transaction: $600.00",
		Body:        "A transaction of $600.00 met your limit",
		TriggeredAt: time.Now().UTC(),
	}
}

func TestDeliverSuccess(t *testing.T) {
	h := newHarness([]model.Channel{model.ChannelEmail}, nil)
	if err := h.orch.Deliver(context.Background(), event()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	d := h.deliveries.single(t, model.ChannelEmail)
	if d.Status != model.StatusDelivered {
		t.Fatalf("expected delivered, got %s", d.Status)
	}
	if d.AttemptCount != 1 {
		t.Fatalf("expected 1 attempt, got %d", d.AttemptCount)
	}
	if d.ProviderMsgID != "msg-1" {
		t.Fatalf("expected provider message id, got %q", d.ProviderMsgID)
	}
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	transient := model.Transient(errors.New("gateway timeout"))
	h := newHarness([]model.Channel{model.ChannelEmail}, []error{transient, transient, nil})
	ctx := context.Background()

	if err := h.orch.Deliver(ctx, event()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	d := h.deliveries.single(t, model.ChannelEmail)
	if d.Status != model.StatusPending || d.AttemptCount != 1 {
		t.Fatalf("after first attempt: status=%s attempts=%d", d.Status, d.AttemptCount)
	}
	if d.NextAttemptAt == nil {
		t.Fatal("retry must carry a next attempt time")
	}
	if h.retry.count() != 1 {
		t.Fatalf("expected 1 scheduled retry, got %d", h.retry.count())
	}

	if err := h.orch.RetryDelivery(ctx, d.ID); err != nil {
		t.Fatalf("retry 1: %v", err)
	}
	if err := h.orch.RetryDelivery(ctx, d.ID); err != nil {
		t.Fatalf("retry 2: %v", err)
	}
	d = h.deliveries.single(t, model.ChannelEmail)
	if d.Status != model.StatusDelivered {
		t.Fatalf("expected delivered after third attempt, got %s", d.Status)
	}
	if d.AttemptCount != 3 {
		t.Fatalf("expected 3 attempts, got %d", d.AttemptCount)
	}
	if h.adapter.callCount() != 3 {
		t.Fatalf("expected 3 provider calls, got %d", h.adapter.callCount())
	}
}

func TestDeliverPermanentFailureNoRetry(t *testing.T) {
	h := newHarness([]model.Channel{model.ChannelEmail},
		[]error{model.Permanent(errors.New("invalid recipient"))})
	if err := h.orch.Deliver(context.Background(), event()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	d := h.deliveries.single(t, model.ChannelEmail)
	if d.Status != model.StatusFailed {
		t.Fatalf("expected failed, got %s", d.Status)
	}
	if h.retry.count() != 0 {
		t.Fatal("permanent failures must not schedule retries")
	}
	// a conclusive provider answer is not a provider failure
	if h.orch.Breaker.FailureCount("email-gateway") != 0 {
		t.Fatal("permanent rejection must not feed the breaker")
	}
}

func TestDeliverDeadLettersAfterMaxAttempts(t *testing.T) {
	transient := model.Transient(errors.New("boom"))
	h := newHarness([]model.Channel{model.ChannelEmail},
		[]error{transient, transient, transient})
	h.orch.MaxAttempts = 3
	// a generous breaker so exhaustion, not the circuit, ends the delivery
	h.orch.Breaker = NewBreaker(100, time.Minute, time.Minute)
	ctx := context.Background()

	if err := h.orch.Deliver(ctx, event()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	d := h.deliveries.single(t, model.ChannelEmail)
	h.orch.RetryDelivery(ctx, d.ID)
	h.orch.RetryDelivery(ctx, d.ID)

	d = h.deliveries.single(t, model.ChannelEmail)
	if d.Status != model.StatusFailed {
		t.Fatalf("expected failed after exhaustion, got %s", d.Status)
	}
	h.deliveries.mu.Lock()
	reason := h.deliveries.deadReason[d.ID]
	h.deliveries.mu.Unlock()
	if reason == "" {
		t.Fatal("exhausted delivery must be dead-lettered")
	}
	// a further scheduled retry is a no-op on the terminal state
	if err := h.orch.RetryDelivery(ctx, d.ID); err != nil {
		t.Fatalf("retry on terminal state: %v", err)
	}
	if h.adapter.callCount() != 3 {
		t.Fatalf("expected exactly MaxAttempts calls, got %d", h.adapter.callCount())
	}
}

func TestDeliverRateLimited(t *testing.T) {
	h := newHarness([]model.Channel{model.ChannelEmail}, nil)
	h.orch.Limiter = NewMemoryRateLimiter(0, 0)
	if err := h.orch.Deliver(context.Background(), event()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	d := h.deliveries.single(t, model.ChannelEmail)
	if d.Status != model.StatusFailed || d.SkipReason != model.SkipRateLimited {
		t.Fatalf("expected rate_limited skip, got status=%s reason=%s", d.Status, d.SkipReason)
	}
	if h.adapter.callCount() != 0 {
		t.Fatal("rate-limited deliveries must not contact the provider")
	}
	if h.orch.Breaker.FailureCount("email-gateway") != 0 {
		t.Fatal("rate limiting must not feed the breaker")
	}
}

type errLimiter struct{}

func (errLimiter) Check(context.Context, string, model.Channel) (RateLimitResult, error) {
	return RateLimitResult{}, errors.New("redis down")
}

func TestDeliverLimiterOutageAuditedDistinctly(t *testing.T) {
	h := newHarness([]model.Channel{model.ChannelEmail}, nil)
	h.orch.Limiter = errLimiter{}
	if err := h.orch.Deliver(context.Background(), event()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	d := h.deliveries.single(t, model.ChannelEmail)
	if d.Status != model.StatusFailed || d.SkipReason != model.SkipLimiterUnavailable {
		t.Fatalf("a limiter outage is not a quota skip, got status=%s reason=%s", d.Status, d.SkipReason)
	}
	if h.adapter.callCount() != 0 {
		t.Fatal("limiter outage must not contact the provider")
	}
	if h.orch.Breaker.FailureCount("email-gateway") != 0 {
		t.Fatal("limiter outage must not feed the breaker")
	}
}

func TestDeliverBreakerOpenFailsFast(t *testing.T) {
	h := newHarness([]model.Channel{model.ChannelEmail}, nil)
	for i := 0; i < 5; i++ {
		h.orch.Breaker.RecordFailure("email-gateway")
	}
	if err := h.orch.Deliver(context.Background(), event()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	d := h.deliveries.single(t, model.ChannelEmail)
	if d.Status != model.StatusFailed || d.SkipReason != model.SkipProviderDown {
		t.Fatalf("expected provider_unavailable skip, got status=%s reason=%s", d.Status, d.SkipReason)
	}
	if h.adapter.callCount() != 0 {
		t.Fatal("open circuit must fail fast without a provider call")
	}
}

func TestDeliverInsertFailureReleasesBreakerTrial(t *testing.T) {
	h := newHarness([]model.Channel{model.ChannelEmail}, nil)
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	h.orch.Breaker = NewBreaker(5, 2*time.Minute, time.Minute).
		WithClock(func() time.Time { return now })
	for i := 0; i < 5; i++ {
		h.orch.Breaker.RecordFailure("email-gateway")
	}
	now = now.Add(61 * time.Second) // past the cooldown; next Allow admits a trial
	h.deliveries.insertErrs = 1
	ctx := context.Background()

	if err := h.orch.Deliver(ctx, event()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if h.adapter.callCount() != 0 {
		t.Fatal("failed insert must not reach the provider")
	}
	if h.orch.Breaker.StateOf("email-gateway") != BreakerHalfOpen {
		t.Fatalf("expected half_open, got %s", h.orch.Breaker.StateOf("email-gateway"))
	}

	// the unused trial slot must be free for the next delivery
	ev2 := event()
	ev2.Fingerprint = "a1|txn=t2"
	if err := h.orch.Deliver(ctx, ev2); err != nil {
		t.Fatalf("second deliver: %v", err)
	}
	if h.adapter.callCount() != 1 {
		t.Fatalf("expected the trial attempt, got %d calls", h.adapter.callCount())
	}
	if h.orch.Breaker.StateOf("email-gateway") != BreakerClosed {
		t.Fatalf("trial success must close the circuit, got %s", h.orch.Breaker.StateOf("email-gateway"))
	}
}

func TestDeliverInactiveAlertAborts(t *testing.T) {
	h := newHarness([]model.Channel{model.ChannelEmail}, nil)
	h.alerts.alerts["a1"].Active = false
	if err := h.orch.Deliver(context.Background(), event()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(h.notifs.byID) != 0 {
		t.Fatal("deactivated alert must produce no notification")
	}
	if len(h.deliveries.byID) != 0 {
		t.Fatal("deactivated alert must produce no deliveries")
	}
}

func TestDeliverDuplicateFingerprintIsNoop(t *testing.T) {
	h := newHarness([]model.Channel{model.ChannelEmail}, nil)
	ctx := context.Background()
	if err := h.orch.Deliver(ctx, event()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := h.orch.Deliver(ctx, event()); err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if len(h.notifs.byID) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(h.notifs.byID))
	}
	if len(h.deliveries.byID) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(h.deliveries.byID))
	}
}

func TestInAppIsIsolatedFromExternalFailure(t *testing.T) {
	h := newHarness([]model.Channel{model.ChannelInApp, model.ChannelEmail},
		[]error{model.Permanent(errors.New("rejected"))})
	if err := h.orch.Deliver(context.Background(), event()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	inApp := h.deliveries.single(t, model.ChannelInApp)
	if inApp.Status != model.StatusDelivered {
		t.Fatalf("in-app must succeed regardless of email, got %s", inApp.Status)
	}
	email := h.deliveries.single(t, model.ChannelEmail)
	if email.Status != model.StatusFailed {
		t.Fatalf("expected email failure, got %s", email.Status)
	}
}

func TestDeliverNoDestination(t *testing.T) {
	h := newHarness([]model.Channel{model.ChannelSMS}, nil)
	h.orch.Prefs = &fakePrefs{prefs: &database.Preferences{
		UserID:     "u1",
		Channels:   map[model.Channel]database.ChannelPreference{},
		QuietStart: -1, QuietEnd: -1,
	}}
	if err := h.orch.Deliver(context.Background(), event()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	d := h.deliveries.single(t, model.ChannelSMS)
	if d.Status != model.StatusFailed || d.SkipReason != model.SkipNoDestination {
		t.Fatalf("expected no_destination, got status=%s reason=%s", d.Status, d.SkipReason)
	}
}

func TestDeliverQuietHoursDefers(t *testing.T) {
	h := newHarness([]model.Channel{model.ChannelEmail}, nil)
	now := time.Date(2026, 8, 29, 23, 30, 0, 0, time.UTC)
	h.orch.Now = func() time.Time { return now }
	h.orch.Prefs = &fakePrefs{prefs: &database.Preferences{
		UserID: "u1",
		Channels: map[model.Channel]database.ChannelPreference{
			model.ChannelEmail: {Enabled: true, Destination: "user@example.com"},
		},
		QuietStart: 22,
		QuietEnd:   7,
	}}
	if err := h.orch.Deliver(context.Background(), event()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	d := h.deliveries.single(t, model.ChannelEmail)
	if d.Status != model.StatusPending || d.SkipReason != model.SkipQuietHours {
		t.Fatalf("expected quiet-hours deferral, got status=%s reason=%s", d.Status, d.SkipReason)
	}
	if d.NextAttemptAt == nil {
		t.Fatal("deferred delivery must carry a next attempt time")
	}
	want := time.Date(2026, 8, 30, 7, 0, 0, 0, time.UTC)
	if !d.NextAttemptAt.Equal(want) {
		t.Fatalf("expected deferral to %v, got %v", want, d.NextAttemptAt)
	}
	if h.adapter.callCount() != 0 {
		t.Fatal("quiet hours must not contact the provider")
	}
	if h.retry.count() != 1 {
		t.Fatalf("expected the deferred delivery to be scheduled, got %d", h.retry.count())
	}
}

func TestRetryDeliveryAlertDeactivated(t *testing.T) {
	transient := model.Transient(errors.New("timeout"))
	h := newHarness([]model.Channel{model.ChannelEmail}, []error{transient})
	ctx := context.Background()
	if err := h.orch.Deliver(ctx, event()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	d := h.deliveries.single(t, model.ChannelEmail)

	h.alerts.alerts["a1"].Active = false
	if err := h.orch.RetryDelivery(ctx, d.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	d = h.deliveries.single(t, model.ChannelEmail)
	if d.Status != model.StatusFailed {
		t.Fatalf("expected failed after deactivation, got %s", d.Status)
	}
	if h.adapter.callCount() != 1 {
		t.Fatal("retry after deactivation must not contact the provider")
	}
}

func TestRetryDeliveryBreakerOpenDefersWithoutAttempt(t *testing.T) {
	transient := model.Transient(errors.New("timeout"))
	h := newHarness([]model.Channel{model.ChannelEmail}, []error{transient})
	ctx := context.Background()
	if err := h.orch.Deliver(ctx, event()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	d := h.deliveries.single(t, model.ChannelEmail)

	for i := 0; i < 5; i++ {
		h.orch.Breaker.RecordFailure("email-gateway")
	}
	if err := h.orch.RetryDelivery(ctx, d.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	d = h.deliveries.single(t, model.ChannelEmail)
	if d.Status != model.StatusPending {
		t.Fatalf("expected pending while circuit open, got %s", d.Status)
	}
	if d.AttemptCount != 1 {
		t.Fatalf("fast skip must not consume retry budget, got %d attempts", d.AttemptCount)
	}
	if h.adapter.callCount() != 1 {
		t.Fatal("open circuit must skip the provider call")
	}
	if h.retry.count() != 2 {
		t.Fatalf("expected the retry to be re-scheduled, got %d", h.retry.count())
	}
}

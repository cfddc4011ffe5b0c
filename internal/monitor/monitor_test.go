package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"pricewatch/internal/domain"
	"pricewatch/internal/source"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFetcher returns scripted observations per locator.
type fakeFetcher struct {
	family domain.Family

	mu     sync.Mutex
	prices map[string]float64
	errs   map[string]error
	calls  int
}

func (f *fakeFetcher) Family() domain.Family { return f.family }

func (f *fakeFetcher) Fetch(ctx context.Context, locator string) (domain.PriceObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[locator]; ok {
		return domain.PriceObservation{}, err
	}
	amount, ok := f.prices[locator]
	if !ok {
		return domain.PriceObservation{}, &source.FetchError{
			Kind: source.ErrNotFound, Family: f.family, Locator: locator,
		}
	}
	return domain.PriceObservation{
		Title:      "Fake " + locator,
		Price:      domain.Price{Amount: amount, Currency: domain.CurrencyUSD},
		ObservedAt: time.Now(),
	}, nil
}

func (f *fakeFetcher) setPrice(locator string, amount float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[locator] = amount
}

// memRegistry is an in-memory EntityStore.
type memRegistry struct {
	mu       sync.Mutex
	entities map[string]domain.TrackedEntity
	errorsBy map[string]string
}

func newMemRegistry(entities ...domain.TrackedEntity) *memRegistry {
	m := &memRegistry{
		entities: make(map[string]domain.TrackedEntity),
		errorsBy: make(map[string]string),
	}
	for _, e := range entities {
		m.entities[e.ID] = e
	}
	return m
}

func (m *memRegistry) Create(ctx context.Context, e domain.TrackedEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[e.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.entities[e.ID] = e
	return nil
}

func (m *memRegistry) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.entities, id)
	return nil
}

func (m *memRegistry) GetByID(ctx context.Context, id string) (domain.TrackedEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	if !ok {
		return domain.TrackedEntity{}, domain.ErrNotFound
	}
	return e, nil
}

func (m *memRegistry) List(ctx context.Context, opts domain.ListOpts) ([]domain.TrackedEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TrackedEntity
	for _, e := range m.entities {
		if len(opts.Families) > 0 && !containsFamily(opts.Families, e.Family) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func containsFamily(fs []domain.Family, f domain.Family) bool {
	for _, x := range fs {
		if x == f {
			return true
		}
	}
	return false
}

func (m *memRegistry) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.entities)), nil
}

func (m *memRegistry) UpdateObservedPrice(ctx context.Context, id, title string, price domain.Price, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.Title = title
	e.LastPrice = &price
	e.LastChecked = &at
	e.LastError = ""
	m.entities[id] = e
	return nil
}

func (m *memRegistry) UpdateCheckError(ctx context.Context, id, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.LastError = reason
	e.LastChecked = &at
	m.entities[id] = e
	m.errorsBy[id] = reason
	return nil
}

// memConditions is an in-memory ConditionStore backed by a memStates, so
// condition creation seeds the pending status row like the real store does.
type memConditions struct {
	mu     sync.Mutex
	byID   map[string]domain.AlertCondition
	states *memStates
}

func newMemConditions(states *memStates) *memConditions {
	return &memConditions{byID: make(map[string]domain.AlertCondition), states: states}
}

func (m *memConditions) Create(ctx context.Context, c domain.AlertCondition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[c.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.byID[c.ID] = c
	m.states.seed(c.EntityID, c.ID)
	return nil
}

func (m *memConditions) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(m.byID, id)
	m.states.remove(c.EntityID, c.ID)
	return nil
}

func (m *memConditions) ListByEntity(ctx context.Context, entityID string) ([]domain.AlertCondition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AlertCondition
	for _, c := range m.byID {
		if c.EntityID == entityID {
			out = append(out, c)
		}
	}
	return out, nil
}

// memStates is an in-memory AlertStateStore with real compare-and-set
// semantics.
type memStates struct {
	mu   sync.Mutex
	rows map[string]domain.AlertState
}

func newMemStates() *memStates {
	return &memStates{rows: make(map[string]domain.AlertState)}
}

func stateKey(entityID, conditionID string) string { return entityID + "/" + conditionID }

func (m *memStates) seed(entityID, conditionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[stateKey(entityID, conditionID)] = domain.StatePending
}

func (m *memStates) remove(entityID, conditionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, stateKey(entityID, conditionID))
}

func (m *memStates) Get(ctx context.Context, entityID, conditionID string) (domain.AlertStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.rows[stateKey(entityID, conditionID)]
	if !ok {
		return domain.AlertStatus{}, domain.ErrNotFound
	}
	return domain.AlertStatus{EntityID: entityID, ConditionID: conditionID, State: st}, nil
}

func (m *memStates) ListTriggered(ctx context.Context, entityID string) ([]domain.AlertStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AlertStatus
	for k, st := range m.rows {
		if st == domain.StateTriggered && len(k) > len(entityID) && k[:len(entityID)+1] == entityID+"/" {
			out = append(out, domain.AlertStatus{EntityID: entityID, State: st})
		}
	}
	return out, nil
}

func (m *memStates) CompareAndSet(ctx context.Context, entityID, conditionID string, expected, next domain.AlertState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := stateKey(entityID, conditionID)
	cur, ok := m.rows[key]
	if !ok {
		return domain.ErrNotFound
	}
	if cur != expected {
		return domain.ErrStateConflict
	}
	m.rows[key] = next
	return nil
}

// memCooldowns is an in-memory CooldownTracker.
type memCooldowns struct {
	mu    sync.Mutex
	until map[domain.Family]time.Time
}

func newMemCooldowns() *memCooldowns {
	return &memCooldowns{until: make(map[domain.Family]time.Time)}
}

func (m *memCooldowns) SetCooldown(ctx context.Context, f domain.Family, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.until[f] = time.Now().Add(d)
	return nil
}

func (m *memCooldowns) InCooldown(ctx context.Context, f domain.Family) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Now().Before(m.until[f]), nil
}

// recordingDispatcher captures dispatched trigger events.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []domain.TriggerEvent
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, ev domain.TriggerEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

type fixture struct {
	sched      *Scheduler
	registry   *memRegistry
	conditions *memConditions
	states     *memStates
	cooldowns  *memCooldowns
	dispatcher *recordingDispatcher
	fetcher    *fakeFetcher
}

func newFixture(t *testing.T, cfg Config, entities ...domain.TrackedEntity) *fixture {
	t.Helper()

	states := newMemStates()
	f := &fixture{
		registry:   newMemRegistry(entities...),
		conditions: newMemConditions(states),
		states:     states,
		cooldowns:  newMemCooldowns(),
		dispatcher: &recordingDispatcher{},
		fetcher: &fakeFetcher{
			family: domain.FamilyEquity,
			prices: make(map[string]float64),
			errs:   make(map[string]error),
		},
	}
	f.sched = New(cfg, Deps{
		Registry:   f.registry,
		Conditions: f.conditions,
		States:     f.states,
		Resolver:   source.NewResolver(f.fetcher),
		Dispatcher: f.dispatcher,
		Cooldowns:  f.cooldowns,
	}, testLogger())
	return f
}

func equityEntity(id, ticker string) domain.TrackedEntity {
	return domain.TrackedEntity{
		ID:      id,
		Kind:    domain.KindEquity,
		Family:  domain.FamilyEquity,
		Locator: ticker,
		Title:   ticker,
	}
}

func belowCondition(id, entityID string, threshold float64) domain.AlertCondition {
	return domain.AlertCondition{
		ID:        id,
		EntityID:  entityID,
		Kind:      domain.CondAtOrBelowTarget,
		Threshold: threshold,
		Currency:  domain.CurrencyUSD,
	}
}

func TestRunOnceTriggersOnceAndUpdatesRegistry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, equityEntity("e1", "AAPL"))
	f.fetcher.setPrice("AAPL", 95)
	if err := f.conditions.Create(ctx, belowCondition("c1", "e1", 100)); err != nil {
		t.Fatal(err)
	}

	sum, err := f.sched.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sum.Checked != 1 || sum.Succeeded != 1 || sum.NewlyTriggered != 1 {
		t.Fatalf("summary = %+v, want 1 checked, 1 succeeded, 1 triggered", sum)
	}
	if got := f.dispatcher.count(); got != 1 {
		t.Fatalf("dispatched %d events, want 1", got)
	}

	e, err := f.registry.GetByID(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if e.LastPrice == nil || e.LastPrice.Amount != 95 {
		t.Fatalf("LastPrice = %v, want $95", e.LastPrice)
	}
	if e.LastChecked == nil {
		t.Fatal("LastChecked not set")
	}

	// A second cycle with the price still under the target must not
	// re-fire: triggered is sticky.
	f.fetcher.setPrice("AAPL", 90)
	sum, err = f.sched.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if sum.NewlyTriggered != 0 {
		t.Fatalf("second cycle triggered %d, want 0", sum.NewlyTriggered)
	}
	if got := f.dispatcher.count(); got != 1 {
		t.Fatalf("dispatched %d events total, want 1", got)
	}
}

func TestRunOnceNoTriggerAboveTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, equityEntity("e1", "AAPL"))
	f.fetcher.setPrice("AAPL", 130)
	if err := f.conditions.Create(ctx, belowCondition("c1", "e1", 100)); err != nil {
		t.Fatal(err)
	}

	sum, err := f.sched.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sum.NewlyTriggered != 0 || f.dispatcher.count() != 0 {
		t.Fatalf("triggered=%d dispatched=%d, want 0/0", sum.NewlyTriggered, f.dispatcher.count())
	}

	st, err := f.states.Get(ctx, "e1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if st.State != domain.StatePending {
		t.Fatalf("state = %s, want pending", st.State)
	}
}

func TestFailedFetchLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, equityEntity("e1", "AAPL"))
	f.fetcher.errs["AAPL"] = &source.FetchError{
		Kind: source.ErrTimeout, Family: domain.FamilyEquity, Locator: "AAPL",
	}
	if err := f.conditions.Create(ctx, belowCondition("c1", "e1", 100)); err != nil {
		t.Fatal(err)
	}

	sum, err := f.sched.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sum.Failed != 1 || sum.Succeeded != 0 {
		t.Fatalf("summary = %+v, want 1 failed", sum)
	}

	st, _ := f.states.Get(ctx, "e1", "c1")
	if st.State != domain.StatePending {
		t.Fatalf("state = %s, want pending after failed fetch", st.State)
	}
	e, _ := f.registry.GetByID(ctx, "e1")
	if e.LastError == "" {
		t.Fatal("LastError not recorded")
	}
	if e.LastPrice != nil {
		t.Fatalf("LastPrice = %v, want nil after failed fetch", e.LastPrice)
	}
}

func TestRateLimitedFetchCoolsFamilyDown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Cooldown: time.Hour},
		equityEntity("e1", "AAPL"), equityEntity("e2", "MSFT"))
	f.fetcher.errs["AAPL"] = &source.FetchError{
		Kind: source.ErrRateLimited, Family: domain.FamilyEquity, Locator: "AAPL",
	}
	f.fetcher.errs["MSFT"] = &source.FetchError{
		Kind: source.ErrRateLimited, Family: domain.FamilyEquity, Locator: "MSFT",
	}

	if _, err := f.sched.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	in, err := f.cooldowns.InCooldown(ctx, domain.FamilyEquity)
	if err != nil || !in {
		t.Fatalf("InCooldown = %v, %v, want true", in, err)
	}

	// Subsequent cycles skip the cooled family entirely.
	sum, err := f.sched.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if sum.Checked != 0 || sum.Skipped != 2 {
		t.Fatalf("summary = %+v, want 0 checked, 2 skipped", sum)
	}
}

func TestDeletedEntityResultDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, equityEntity("e1", "AAPL"))
	f.fetcher.setPrice("AAPL", 95)
	if err := f.conditions.Create(ctx, belowCondition("c1", "e1", 100)); err != nil {
		t.Fatal(err)
	}

	// Simulate a deletion racing the cycle: the snapshot is taken, then the
	// entity and its condition rows vanish before the worker writes back.
	if err := f.conditions.Delete(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if err := f.registry.Delete(ctx, "e1"); err != nil {
		t.Fatal(err)
	}
	// Re-list returns nothing, so check the worker path directly.
	res := f.sched.checkEntity(ctx, equityEntity("e1", "AAPL"))
	if res.outcome != outcomeDiscarded {
		t.Fatalf("outcome = %d, want discarded", res.outcome)
	}
	if f.dispatcher.count() != 0 {
		t.Fatalf("dispatched %d events for a deleted entity, want 0", f.dispatcher.count())
	}
}

func TestConcurrentTransitionFiresExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, equityEntity("e1", "AAPL"))
	f.fetcher.setPrice("AAPL", 95)
	if err := f.conditions.Create(ctx, belowCondition("c1", "e1", 100)); err != nil {
		t.Fatal(err)
	}

	e, _ := f.registry.GetByID(ctx, "e1")
	cond := belowCondition("c1", "e1", 100)
	obs := domain.PriceObservation{
		EntityID:   "e1",
		Title:      "AAPL",
		Price:      domain.Price{Amount: 95, Currency: domain.CurrencyUSD},
		ObservedAt: time.Now(),
	}

	const workers = 8
	var wg sync.WaitGroup
	fired := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.sched.evaluateCondition(ctx, e, cond, obs)
			if err != nil {
				t.Errorf("evaluateCondition: %v", err)
				return
			}
			fired <- ok
		}()
	}
	wg.Wait()
	close(fired)

	var total int
	for ok := range fired {
		if ok {
			total++
		}
	}
	if total != 1 {
		t.Fatalf("condition fired %d times across concurrent workers, want exactly 1", total)
	}
	if f.dispatcher.count() != 1 {
		t.Fatalf("dispatched %d events, want 1", f.dispatcher.count())
	}
}

func TestStartStopLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Tick: time.Hour})

	if err := f.sched.Stop(); !errors.Is(err, domain.ErrNotRunning) {
		t.Fatalf("Stop before Start = %v, want ErrNotRunning", err)
	}
	if err := f.sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.sched.Start(ctx); !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if !f.sched.Status().Running {
		t.Fatal("Status().Running = false while started")
	}
	if err := f.sched.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if f.sched.Status().Running {
		t.Fatal("Status().Running = true after Stop")
	}
	// Start/Stop again to make sure the lifecycle is reusable.
	if err := f.sched.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := f.sched.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestRunOnceRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, equityEntity("e1", "AAPL"))

	release := make(chan struct{})
	started := make(chan struct{})
	f.fetcher.setPrice("AAPL", 95)

	blocking := &blockingFetcher{inner: f.fetcher, started: started, release: release}
	f.sched.deps.Resolver = source.NewResolver(blocking)

	done := make(chan error, 1)
	go func() {
		_, err := f.sched.RunOnce(ctx)
		done <- err
	}()

	<-started
	if _, err := f.sched.RunOnce(ctx); !errors.Is(err, domain.ErrCycleRunning) {
		t.Fatalf("overlapping RunOnce = %v, want ErrCycleRunning", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}
}

// blockingFetcher signals when Fetch begins and waits for release.
type blockingFetcher struct {
	inner   *fakeFetcher
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingFetcher) Family() domain.Family { return b.inner.Family() }

func (b *blockingFetcher) Fetch(ctx context.Context, locator string) (domain.PriceObservation, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return domain.PriceObservation{}, ctx.Err()
	}
	return b.inner.Fetch(ctx, locator)
}

// haltingFetcher serves a fixed number of fetches, then signals and parks
// until the cycle context is cancelled.
type haltingFetcher struct {
	inner *fakeFetcher
	limit int

	mu      sync.Mutex
	served  int
	blocked chan struct{}
	once    sync.Once
}

func (h *haltingFetcher) Family() domain.Family { return h.inner.Family() }

func (h *haltingFetcher) Fetch(ctx context.Context, locator string) (domain.PriceObservation, error) {
	h.mu.Lock()
	if h.served < h.limit {
		h.served++
		h.mu.Unlock()
		return h.inner.Fetch(ctx, locator)
	}
	h.mu.Unlock()

	h.once.Do(func() { close(h.blocked) })
	<-ctx.Done()
	return domain.PriceObservation{}, ctx.Err()
}

func TestStopMidCycleLeavesRemainingUntouched(t *testing.T) {
	ctx := context.Background()

	entities := make([]domain.TrackedEntity, 0, 10)
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("e%d", i)
		entities = append(entities, equityEntity(id, id))
	}
	f := newFixture(t, Config{Tick: time.Hour, MaxConcurrent: 1}, entities...)
	for _, e := range entities {
		f.fetcher.setPrice(e.Locator, 95)
		if err := f.conditions.Create(ctx, belowCondition("c-"+e.ID, e.ID, 100)); err != nil {
			t.Fatal(err)
		}
	}

	// Three entities check cleanly, the fourth parks the single worker.
	halting := &haltingFetcher{inner: f.fetcher, limit: 3, blocked: make(chan struct{})}
	f.sched.deps.Resolver = source.NewResolver(halting)

	if err := f.sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-halting.blocked
	if err := f.sched.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	var checked, untouched int
	for _, e := range entities {
		got, err := f.registry.GetByID(ctx, e.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.LastPrice != nil {
			checked++
			if got.LastError != "" {
				t.Fatalf("checked entity %s has error %q", e.ID, got.LastError)
			}
			continue
		}

		// Everything the cancelled cycle never finished must look exactly
		// as it did before the cycle: no price, no error, still pending.
		untouched++
		if got.LastError != "" || got.LastChecked != nil {
			t.Fatalf("unchecked entity %s looks modified: error=%q checked=%v",
				e.ID, got.LastError, got.LastChecked)
		}
		st, err := f.states.Get(ctx, e.ID, "c-"+e.ID)
		if err != nil {
			t.Fatal(err)
		}
		if st.State != domain.StatePending {
			t.Fatalf("unchecked entity %s state = %s, want pending", e.ID, st.State)
		}
	}
	if checked != 3 || untouched != 7 {
		t.Fatalf("checked=%d untouched=%d, want 3 and 7", checked, untouched)
	}
	if got := f.dispatcher.count(); got != 3 {
		t.Fatalf("dispatched %d events, want one per completed check", got)
	}
}

// Package monitor contains the background check engine: a scheduler that
// periodically snapshots the tracked-entity registry, fans the snapshot out
// to source adapters with bounded concurrency, evaluates alert conditions
// against the fetched prices, and hands new trigger events to the dispatcher.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"pricewatch/internal/domain"
	"pricewatch/internal/source"
)

// Cycle occupancy states. The explicit IDLE/RUNNING machine, entered only by
// compare-and-swap, replaces the kind of ad hoc "is a check running" boolean
// that ends up read and written from several call sites.
const (
	stateIdle int32 = iota
	stateRunning
)

// cycleLockKey is the distributed lock held for the duration of a cycle so
// that two service replicas never run overlapping cycles.
const cycleLockKey = "monitor:cycle"

// Dispatcher delivers one trigger event, retrying internally as needed.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev domain.TriggerEvent) error
}

// Config holds the scheduler's tunables.
type Config struct {
	// Tick is the loop wake-up interval; each tick runs the families that
	// are due per Intervals.
	Tick time.Duration

	// Intervals is the per-family check cadence. Families without an entry
	// use DefaultInterval.
	Intervals       map[domain.Family]time.Duration
	DefaultInterval time.Duration

	// MaxConcurrent bounds the number of entities checked in parallel.
	MaxConcurrent int

	// FetchTimeout bounds a single source-adapter call.
	FetchTimeout time.Duration

	// Cooldown is how long a source family is left alone after a
	// rate-limited fetch.
	Cooldown time.Duration

	// LockTTL caps how long the cycle lock may outlive a crashed holder.
	LockTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = time.Minute
	}
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = 5 * time.Minute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 15 * time.Minute
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Minute
	}
	return c
}

// interval returns the check cadence for a family.
func (c Config) interval(f domain.Family) time.Duration {
	if d, ok := c.Intervals[f]; ok && d > 0 {
		return d
	}
	return c.DefaultInterval
}

// Deps are the collaborators the scheduler drives. Registry, Conditions,
// States, Resolver and Dispatcher are required; the rest may be nil and the
// corresponding side effects are skipped.
type Deps struct {
	Registry   domain.EntityStore
	Conditions domain.ConditionStore
	States     domain.AlertStateStore
	Resolver   *source.Resolver
	Dispatcher Dispatcher

	History   domain.HistoryStore
	Prices    domain.PriceCache
	Cooldowns domain.CooldownTracker
	Locks     domain.LockManager
	Bus       domain.EventBus
}

// Status is a snapshot of the scheduler's externally visible state.
type Status struct {
	Running           bool          `json:"running"`
	LastCycleStart    time.Time     `json:"last_cycle_start"`
	LastCycleDuration time.Duration `json:"last_cycle_duration"`
	LastError         string        `json:"last_error"`
}

// Scheduler drives periodic check cycles. It is the only component with a
// notion of time and cycle-wide state.
type Scheduler struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	// cycleState guards cycle occupancy: exactly one cycle runs at a time,
	// whether scheduled or manual.
	cycleState atomic.Int32

	mu                sync.Mutex // guards everything below
	running           bool
	cancel            context.CancelFunc
	done              chan struct{}
	lastCycleStart    time.Time
	lastCycleDuration time.Duration
	lastErr           error
	lastFamilyRun     map[domain.Family]time.Time
}

// New creates a Scheduler. It does not start the loop.
func New(cfg Config, deps Deps, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:           cfg.withDefaults(),
		deps:          deps,
		logger:        logger.With(slog.String("component", "scheduler")),
		lastFamilyRun: make(map[domain.Family]time.Time),
	}
}

// Start begins periodic execution. It returns ErrAlreadyRunning when the
// loop is already active; this is deliberately an error rather than a silent
// no-op so callers notice double-start bugs. The loop stops when Stop is
// called or when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return domain.ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx, s.done)

	s.logger.InfoContext(ctx, "monitor started",
		slog.Duration("tick", s.cfg.Tick),
		slog.Int("max_concurrent", s.cfg.MaxConcurrent),
	)
	return nil
}

// Stop cancels the loop and any in-flight cycle cooperatively: workers abort
// at their next context check and their results are discarded, so entities
// not yet checked simply keep their pre-cycle status. Stop blocks until the
// loop goroutine has exited.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return domain.ErrNotRunning
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done

	s.logger.Info("monitor stopped")
	return nil
}

// Status reports whether the loop is active and how the last cycle went.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:           s.running,
		LastCycleStart:    s.lastCycleStart,
		LastCycleDuration: s.lastCycleDuration,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// RunOnce runs one full check cycle out-of-band, covering every family
// regardless of cadence. It returns ErrCycleRunning when a cycle is already
// in flight; the caller can simply wait for that cycle's result instead.
func (s *Scheduler) RunOnce(ctx context.Context) (CycleSummary, error) {
	return s.guardedCycle(ctx, allFamilies)
}

// loop is the periodic driver. The first cycle runs immediately on start.
func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	s.tickOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickOnce(ctx)
		}
	}
}

// tickOnce runs the families that are due. A tick that fires while a cycle
// is still running is skipped and logged, never run in parallel with it.
func (s *Scheduler) tickOnce(ctx context.Context) {
	families := s.dueFamilies(time.Now())
	if len(families) == 0 {
		return
	}

	_, err := s.guardedCycle(ctx, families)
	switch {
	case err == domain.ErrCycleRunning:
		s.logger.Warn("tick skipped: previous cycle still running")
	case err == domain.ErrLockHeld:
		s.logger.Info("tick skipped: cycle lock held by another instance")
	case err != nil && ctx.Err() == nil:
		s.logger.Error("cycle failed", slog.String("error", err.Error()))
	}
}

// guardedCycle enters the IDLE -> RUNNING state machine, takes the
// distributed cycle lock when configured, runs the cycle, and records the
// outcome for Status.
func (s *Scheduler) guardedCycle(ctx context.Context, families []domain.Family) (CycleSummary, error) {
	if !s.cycleState.CompareAndSwap(stateIdle, stateRunning) {
		return CycleSummary{}, domain.ErrCycleRunning
	}
	defer s.cycleState.Store(stateIdle)

	if s.deps.Locks != nil {
		unlock, err := s.deps.Locks.Acquire(ctx, cycleLockKey, s.cfg.LockTTL)
		if err != nil {
			return CycleSummary{}, err
		}
		defer unlock()
	}

	start := time.Now()
	summary, err := s.runCycle(ctx, families)

	s.mu.Lock()
	s.lastCycleStart = start
	s.lastCycleDuration = time.Since(start)
	s.lastErr = err
	if err == nil {
		for _, f := range families {
			s.lastFamilyRun[f] = start
		}
	}
	s.mu.Unlock()

	return summary, err
}

// dueFamilies returns the families whose cadence has elapsed at now.
func (s *Scheduler) dueFamilies(now time.Time) []domain.Family {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.Family
	for _, f := range allFamilies {
		last, ok := s.lastFamilyRun[f]
		if !ok || now.Sub(last) >= s.cfg.interval(f) {
			due = append(due, f)
		}
	}
	return due
}

// allFamilies lists every source family in check order.
var allFamilies = []domain.Family{
	domain.FamilyEquity,
	domain.FamilyFlight,
	domain.FamilyShop,
	domain.FamilySoftMarket,
}

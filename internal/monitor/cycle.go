package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"pricewatch/internal/domain"
	"pricewatch/internal/evaluate"
	"pricewatch/internal/source"
)

// CycleSummary aggregates one cycle's per-entity outcomes.
type CycleSummary struct {
	StartedAt      time.Time       `json:"started_at"`
	Duration       time.Duration   `json:"duration"`
	Families       []domain.Family `json:"families"`
	Checked        int64           `json:"checked"`
	Succeeded      int64           `json:"succeeded"`
	Failed         int64           `json:"failed"`
	Skipped        int64           `json:"skipped"`
	Discarded      int64           `json:"discarded"`
	NewlyTriggered int64           `json:"newly_triggered"`
}

// runCycle checks every entity in the given families. The entity list is a
// snapshot: entities created after this point are picked up next cycle, and
// entities deleted mid-cycle are caught by the tombstone check on write-back.
func (s *Scheduler) runCycle(ctx context.Context, families []domain.Family) (CycleSummary, error) {
	start := time.Now()
	summary := CycleSummary{StartedAt: start, Families: families}

	entities, err := s.deps.Registry.List(ctx, domain.ListOpts{Families: families})
	if err != nil {
		return summary, err
	}

	cooled := s.cooledFamilies(ctx, families)

	var checked, succeeded, failed, skipped, discarded, triggered atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrent)
	for _, e := range entities {
		if cooled[e.Family] {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			checked.Add(1)
			res := s.checkEntity(gctx, e)
			switch res.outcome {
			case outcomeOK:
				succeeded.Add(1)
			case outcomeFailed:
				failed.Add(1)
			case outcomeDiscarded:
				discarded.Add(1)
			}
			triggered.Add(res.newlyTriggered)
			return nil
		})
	}
	err = g.Wait()

	summary.Duration = time.Since(start)
	summary.Checked = checked.Load()
	summary.Succeeded = succeeded.Load()
	summary.Failed = failed.Load()
	summary.Skipped = skipped.Load()
	summary.Discarded = discarded.Load()
	summary.NewlyTriggered = triggered.Load()

	s.logger.Info("cycle complete",
		slog.Int64("checked", summary.Checked),
		slog.Int64("succeeded", summary.Succeeded),
		slog.Int64("failed", summary.Failed),
		slog.Int64("skipped", summary.Skipped),
		slog.Int64("newly_triggered", summary.NewlyTriggered),
		slog.Duration("duration", summary.Duration),
	)

	s.publishSummary(ctx, summary)
	return summary, err
}

// cooledFamilies returns the subset of families currently in rate-limit
// cooldown. A tracker error is treated as "not cooled": checking anyway is
// at worst one more rate-limited fetch.
func (s *Scheduler) cooledFamilies(ctx context.Context, families []domain.Family) map[domain.Family]bool {
	cooled := make(map[domain.Family]bool, len(families))
	if s.deps.Cooldowns == nil {
		return cooled
	}
	for _, f := range families {
		in, err := s.deps.Cooldowns.InCooldown(ctx, f)
		if err != nil {
			s.logger.Warn("cooldown lookup failed",
				slog.String("family", string(f)), slog.String("error", err.Error()))
			continue
		}
		if in {
			cooled[f] = true
		}
	}
	return cooled
}

type checkOutcome int

const (
	outcomeOK checkOutcome = iota
	outcomeFailed
	outcomeDiscarded
)

type checkResult struct {
	outcome        checkOutcome
	newlyTriggered int64
}

// checkEntity fetches, evaluates, dispatches and writes back for one entity.
// A failed fetch records the error and leaves price, state and history
// untouched. Write-backs that hit ErrNotFound mean the entity was deleted
// mid-cycle; the whole result is discarded, triggers included.
func (s *Scheduler) checkEntity(ctx context.Context, e domain.TrackedEntity) checkResult {
	log := s.logger.With(
		slog.String("entity_id", e.ID),
		slog.String("family", string(e.Family)),
	)

	fetcher, err := s.deps.Resolver.Resolve(e.Locator)
	if err != nil {
		return s.recordFetchFailure(ctx, log, e, err)
	}

	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	obs, err := fetcher.Fetch(fctx, e.Locator)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return checkResult{outcome: outcomeDiscarded}
		}
		if fe := source.AsFetchError(err); fe != nil && fe.Kind == source.ErrRateLimited {
			s.coolDown(ctx, log, e.Family)
		}
		return s.recordFetchFailure(ctx, log, e, err)
	}
	obs.EntityID = e.ID
	if obs.Title == "" {
		obs.Title = e.Title
	}

	conds, err := s.deps.Conditions.ListByEntity(ctx, e.ID)
	if err != nil {
		log.Error("condition lookup failed", slog.String("error", err.Error()))
		return checkResult{outcome: outcomeFailed}
	}

	var newlyTriggered int64
	for _, cond := range conds {
		fired, err := s.evaluateCondition(ctx, e, cond, obs)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return checkResult{outcome: outcomeDiscarded, newlyTriggered: newlyTriggered}
			}
			log.Error("condition evaluation failed",
				slog.String("condition_id", cond.ID), slog.String("error", err.Error()))
			continue
		}
		if fired {
			newlyTriggered++
		}
	}

	// The registry write-back comes after state transitions so a deletion
	// racing the cycle is caught here at the latest.
	err = s.deps.Registry.UpdateObservedPrice(ctx, e.ID, obs.Title, obs.Price, obs.ObservedAt)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info("entity deleted mid-cycle, result discarded")
		return checkResult{outcome: outcomeDiscarded, newlyTriggered: newlyTriggered}
	}
	if err != nil {
		log.Error("price write-back failed", slog.String("error", err.Error()))
		return checkResult{outcome: outcomeFailed, newlyTriggered: newlyTriggered}
	}

	s.recordObservation(ctx, log, obs)
	return checkResult{outcome: outcomeOK, newlyTriggered: newlyTriggered}
}

// evaluateCondition runs one condition through the evaluator and, on a fresh
// PENDING -> TRIGGERED transition, claims it via CompareAndSet before
// dispatching. A lost CompareAndSet race is retried once against the fresh
// state; losing means another worker already fired the alert, so this one
// stays silent. It reports whether this call fired the condition, and
// ErrNotFound when the status row vanished under it.
func (s *Scheduler) evaluateCondition(ctx context.Context, e domain.TrackedEntity, cond domain.AlertCondition, obs domain.PriceObservation) (bool, error) {
	status, err := s.deps.States.Get(ctx, e.ID, cond.ID)
	if err != nil {
		return false, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		res, err := evaluate.Evaluate(cond, status.State, obs)
		if err != nil {
			return false, err
		}
		if !res.Triggered {
			return false, nil
		}

		err = s.deps.States.CompareAndSet(ctx, e.ID, cond.ID, status.State, domain.StateTriggered)
		if err == nil {
			s.fireTrigger(ctx, e, cond, obs)
			return true, nil
		}
		if !errors.Is(err, domain.ErrStateConflict) {
			return false, err
		}
		status, err = s.deps.States.Get(ctx, e.ID, cond.ID)
		if err != nil {
			return false, err
		}
	}
	return false, nil
}

// fireTrigger builds the trigger event, hands it to the dispatcher and
// publishes it on the event bus. Dispatch failures are logged, never rolled
// back: the state transition is the source of truth and the alert will not
// re-fire.
func (s *Scheduler) fireTrigger(ctx context.Context, e domain.TrackedEntity, cond domain.AlertCondition, obs domain.PriceObservation) {
	ev := domain.TriggerEvent{
		EntityID:    e.ID,
		ConditionID: cond.ID,
		Title:       obs.Title,
		Locator:     e.Locator,
		Condition:   cond.Describe(),
		OldPrice:    e.LastPrice,
		NewPrice:    obs.Price,
		At:          obs.ObservedAt,
	}

	s.logger.Info("alert triggered",
		slog.String("entity_id", e.ID),
		slog.String("condition_id", cond.ID),
		slog.String("condition", ev.Condition),
		slog.String("price", obs.Price.String()),
	)

	if s.deps.Dispatcher != nil {
		if err := s.deps.Dispatcher.Dispatch(ctx, ev); err != nil {
			s.logger.Error("alert dispatch failed",
				slog.String("condition_id", cond.ID), slog.String("error", err.Error()))
		}
	}

	if s.deps.Bus != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			err = s.deps.Bus.Publish(ctx, domain.ChannelAlerts, payload)
		}
		if err != nil {
			s.logger.Warn("alert publish failed", slog.String("error", err.Error()))
		}
	}
}

// recordFetchFailure writes the failure reason to the registry. The
// tombstone rule applies here too: a deleted entity's failure is discarded.
func (s *Scheduler) recordFetchFailure(ctx context.Context, log *slog.Logger, e domain.TrackedEntity, fetchErr error) checkResult {
	log.Warn("check failed", slog.String("error", fetchErr.Error()))

	err := s.deps.Registry.UpdateCheckError(ctx, e.ID, fetchErr.Error(), time.Now())
	if errors.Is(err, domain.ErrNotFound) {
		return checkResult{outcome: outcomeDiscarded}
	}
	if err != nil {
		log.Error("error write-back failed", slog.String("error", err.Error()))
	}
	return checkResult{outcome: outcomeFailed}
}

// recordObservation appends to price history and refreshes the latest-price
// cache. Both are best-effort: the registry row already carries the price.
func (s *Scheduler) recordObservation(ctx context.Context, log *slog.Logger, obs domain.PriceObservation) {
	if s.deps.History != nil {
		if err := s.deps.History.Append(ctx, obs); err != nil {
			log.Warn("history append failed", slog.String("error", err.Error()))
		}
	}
	if s.deps.Prices != nil {
		if err := s.deps.Prices.SetPrice(ctx, obs.EntityID, obs.Price, obs.ObservedAt); err != nil {
			log.Warn("price cache update failed", slog.String("error", err.Error()))
		}
	}
}

// coolDown marks a family rate-limited for the configured window.
func (s *Scheduler) coolDown(ctx context.Context, log *slog.Logger, f domain.Family) {
	if s.deps.Cooldowns == nil {
		return
	}
	log.Warn("rate limited, cooling family down", slog.Duration("cooldown", s.cfg.Cooldown))
	if err := s.deps.Cooldowns.SetCooldown(ctx, f, s.cfg.Cooldown); err != nil {
		log.Warn("cooldown set failed", slog.String("error", err.Error()))
	}
}

// publishSummary broadcasts the cycle summary on the event bus.
func (s *Scheduler) publishSummary(ctx context.Context, summary CycleSummary) {
	if s.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(summary)
	if err == nil {
		err = s.deps.Bus.Publish(ctx, domain.ChannelCycles, payload)
	}
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("cycle summary publish failed", slog.String("error", err.Error()))
	}
}

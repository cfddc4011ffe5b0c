// Package evaluate decides whether a fresh price observation newly satisfies
// an alert condition. Evaluation is a pure function over (previous state,
// condition, observation); all persistence and dispatch happens in the
// monitor, which makes every trigger rule directly testable.
package evaluate

import (
	"fmt"

	"pricewatch/internal/domain"
)

// Result is the outcome of evaluating one condition against one observation.
type Result struct {
	// State is the alert state after evaluation.
	State domain.AlertState

	// Triggered is true only on the PENDING -> TRIGGERED transition. It is
	// never true twice for the same condition: once triggered, the state is
	// sticky and later observations cannot re-fire it.
	Triggered bool
}

// Evaluate applies cond to obs given the condition's previous state.
//
// A failed observation (no price) leaves the state untouched: absence of data
// is never interpreted as a price change. A currency mismatch between the
// observation and the condition is a caller error; it is returned as an error
// and the state is left untouched.
func Evaluate(cond domain.AlertCondition, prev domain.AlertState, obs domain.PriceObservation) (Result, error) {
	if prev == domain.StateTriggered {
		return Result{State: domain.StateTriggered}, nil
	}
	if obs.Failed {
		return Result{State: prev}, nil
	}
	if obs.Price.Currency != cond.Currency {
		return Result{State: prev}, fmt.Errorf(
			"evaluate: observation currency %s does not match condition currency %s",
			obs.Price.Currency, cond.Currency)
	}

	met, err := conditionMet(cond, obs.Price.Amount)
	if err != nil {
		return Result{State: prev}, err
	}
	if !met {
		return Result{State: domain.StatePending}, nil
	}
	return Result{State: domain.StateTriggered, Triggered: true}, nil
}

// conditionMet checks the raw numeric rule against the observed amount.
func conditionMet(cond domain.AlertCondition, observed float64) (bool, error) {
	switch cond.Kind {
	case domain.CondAtOrBelowTarget:
		return observed <= cond.Threshold, nil
	case domain.CondAboveThreshold:
		return observed >= cond.Threshold, nil
	case domain.CondBelowThreshold:
		return observed <= cond.Threshold, nil
	case domain.CondPercentIncrease, domain.CondPercentDecrease:
		if cond.Baseline == nil || cond.Baseline.Amount == 0 {
			return false, fmt.Errorf("evaluate: %s condition %s has no usable baseline", cond.Kind, cond.ID)
		}
		move := PercentMove(cond.Baseline.Amount, observed)
		if cond.Kind == domain.CondPercentIncrease {
			return move >= cond.Threshold, nil
		}
		return move <= -cond.Threshold, nil
	default:
		return false, fmt.Errorf("evaluate: unknown condition kind %q", cond.Kind)
	}
}

// PercentMove returns the signed percentage change from baseline to observed.
func PercentMove(baseline, observed float64) float64 {
	return (observed - baseline) / baseline * 100
}

package domain

import (
	"fmt"
	"time"
)

// ConditionKind enumerates supported alert rules.
type ConditionKind string

const (
	CondAtOrBelowTarget ConditionKind = "price_at_or_below_target"
	CondAboveThreshold  ConditionKind = "price_above_threshold"
	CondBelowThreshold  ConditionKind = "price_below_threshold"
	CondPercentIncrease ConditionKind = "percent_increase"
	CondPercentDecrease ConditionKind = "percent_decrease"
)

// IsPercent reports whether the kind compares a percentage move rather than
// an absolute price.
func (k ConditionKind) IsPercent() bool {
	return k == CondPercentIncrease || k == CondPercentDecrease
}

// AlertCondition is one trigger rule attached to a tracked entity.
//
// For percent kinds, Baseline is the price captured when the condition was
// created and is never recomputed: the percentage move is always measured
// against that original value, so the trigger rule stays deterministic no
// matter how the price wanders between checks.
type AlertCondition struct {
	ID        string
	EntityID  string
	Kind      ConditionKind
	Threshold float64 // target price, or percent for percent kinds
	Currency  Currency
	Baseline  *Price
	CreatedAt time.Time
}

// Validate checks the creation-time invariants: positive threshold, a
// baseline for percent kinds, and a baseline unit matching the condition's.
func (c AlertCondition) Validate() error {
	switch c.Kind {
	case CondAtOrBelowTarget, CondAboveThreshold, CondBelowThreshold,
		CondPercentIncrease, CondPercentDecrease:
	default:
		return fmt.Errorf("condition: unknown kind %q", c.Kind)
	}
	if c.Threshold <= 0 {
		return fmt.Errorf("condition: threshold must be positive, got %v", c.Threshold)
	}
	if c.Currency == "" {
		return fmt.Errorf("condition: currency must be set")
	}
	if c.Kind.IsPercent() {
		if c.Baseline == nil {
			return fmt.Errorf("condition: %s requires a baseline price", c.Kind)
		}
		if c.Baseline.Currency != c.Currency {
			return fmt.Errorf("condition: baseline currency %s does not match condition currency %s",
				c.Baseline.Currency, c.Currency)
		}
	}
	return nil
}

// Describe renders the rule for alert messages and the API, e.g.
// "price at or below $100.00" or "down 5% or more from $120.00".
func (c AlertCondition) Describe() string {
	threshold := Price{Amount: c.Threshold, Currency: c.Currency}
	switch c.Kind {
	case CondAtOrBelowTarget:
		return fmt.Sprintf("price at or below %s", threshold)
	case CondAboveThreshold:
		return fmt.Sprintf("price above %s", threshold)
	case CondBelowThreshold:
		return fmt.Sprintf("price below %s", threshold)
	case CondPercentIncrease:
		return fmt.Sprintf("up %g%% or more from %s", c.Threshold, c.Baseline)
	case CondPercentDecrease:
		return fmt.Sprintf("down %g%% or more from %s", c.Threshold, c.Baseline)
	default:
		return string(c.Kind)
	}
}

// AlertState is the trigger status of one (entity, condition) pair.
// The transition PENDING -> TRIGGERED is one-way for the life of the
// condition; re-arming requires deleting and recreating the condition.
type AlertState string

const (
	StatePending   AlertState = "pending"
	StateTriggered AlertState = "triggered"
)

// AlertStatus is the persisted trigger status row for one condition.
type AlertStatus struct {
	EntityID    string
	ConditionID string
	State       AlertState
	UpdatedAt   time.Time
}

package evaluate

import (
	"testing"
	"time"

	"pricewatch/internal/domain"
)

func usd(amount float64) domain.Price {
	return domain.Price{Amount: amount, Currency: domain.CurrencyUSD}
}

func obsUSD(amount float64) domain.PriceObservation {
	return domain.PriceObservation{
		EntityID:   "e1",
		Price:      usd(amount),
		ObservedAt: time.Now(),
	}
}

func TestEvaluateConditionKinds(t *testing.T) {
	baseline := usd(50)

	tests := []struct {
		name      string
		kind      domain.ConditionKind
		threshold float64
		baseline  *domain.Price
		observed  float64
		triggered bool
	}{
		{"at_or_below not reached", domain.CondAtOrBelowTarget, 100, nil, 110, false},
		{"at_or_below reached", domain.CondAtOrBelowTarget, 100, nil, 95, true},
		{"at_or_below exact", domain.CondAtOrBelowTarget, 100, nil, 100, true},
		{"above not crossed", domain.CondAboveThreshold, 200, nil, 150, false},
		{"above crossed", domain.CondAboveThreshold, 200, nil, 201, true},
		{"below not crossed", domain.CondBelowThreshold, 40, nil, 41, false},
		{"below crossed", domain.CondBelowThreshold, 40, nil, 39.5, true},
		{"percent up 4% of 5% threshold", domain.CondPercentIncrease, 5, &baseline, 52, false},
		{"percent up 6% of 5% threshold", domain.CondPercentIncrease, 5, &baseline, 53, true},
		{"percent down 4% of 10% threshold", domain.CondPercentDecrease, 10, &baseline, 48, false},
		{"percent down exactly 10%", domain.CondPercentDecrease, 10, &baseline, 45, true},
		{"percent down: rise never triggers", domain.CondPercentDecrease, 10, &baseline, 60, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := domain.AlertCondition{
				ID:        "c1",
				EntityID:  "e1",
				Kind:      tt.kind,
				Threshold: tt.threshold,
				Currency:  domain.CurrencyUSD,
				Baseline:  tt.baseline,
			}
			res, err := Evaluate(cond, domain.StatePending, obsUSD(tt.observed))
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if res.Triggered != tt.triggered {
				t.Errorf("triggered: got %v, want %v", res.Triggered, tt.triggered)
			}
			wantState := domain.StatePending
			if tt.triggered {
				wantState = domain.StateTriggered
			}
			if res.State != wantState {
				t.Errorf("state: got %s, want %s", res.State, wantState)
			}
		})
	}
}

// The target-price scenario: $110 leaves the condition pending, $95 fires it
// exactly once, and a later bounce to $130 neither re-fires nor resets it.
func TestEvaluateTargetPriceLifecycle(t *testing.T) {
	cond := domain.AlertCondition{
		ID:        "c1",
		EntityID:  "e1",
		Kind:      domain.CondAtOrBelowTarget,
		Threshold: 100,
		Currency:  domain.CurrencyUSD,
	}

	res, err := Evaluate(cond, domain.StatePending, obsUSD(110))
	if err != nil {
		t.Fatal(err)
	}
	if res.Triggered || res.State != domain.StatePending {
		t.Fatalf("cycle 1: got %+v, want pending/no trigger", res)
	}

	res, err = Evaluate(cond, res.State, obsUSD(95))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Triggered || res.State != domain.StateTriggered {
		t.Fatalf("cycle 2: got %+v, want triggered once", res)
	}

	res, err = Evaluate(cond, res.State, obsUSD(130))
	if err != nil {
		t.Fatal(err)
	}
	if res.Triggered {
		t.Error("cycle 3: re-fired after bounce above target")
	}
	if res.State != domain.StateTriggered {
		t.Errorf("cycle 3: state reset to %s", res.State)
	}
}

func TestEvaluateNoRefireOnOscillation(t *testing.T) {
	cond := domain.AlertCondition{
		ID:        "c1",
		EntityID:  "e1",
		Kind:      domain.CondBelowThreshold,
		Threshold: 40,
		Currency:  domain.CurrencyUSD,
	}

	state := domain.StatePending
	fires := 0
	for _, price := range []float64{39, 45, 38, 50, 30} {
		res, err := Evaluate(cond, state, obsUSD(price))
		if err != nil {
			t.Fatal(err)
		}
		if res.Triggered {
			fires++
		}
		state = res.State
	}
	if fires != 1 {
		t.Errorf("fired %d times across oscillation, want exactly 1", fires)
	}
}

func TestEvaluateFailedObservationLeavesStateUntouched(t *testing.T) {
	cond := domain.AlertCondition{
		ID:        "c1",
		EntityID:  "e1",
		Kind:      domain.CondAtOrBelowTarget,
		Threshold: 100,
		Currency:  domain.CurrencyUSD,
	}
	failed := domain.PriceObservation{EntityID: "e1", Failed: true, ErrorDetail: "timeout"}

	for _, prev := range []domain.AlertState{domain.StatePending, domain.StateTriggered} {
		res, err := Evaluate(cond, prev, failed)
		if err != nil {
			t.Fatal(err)
		}
		if res.Triggered {
			t.Errorf("prev=%s: failed fetch produced a trigger", prev)
		}
		if res.State != prev {
			t.Errorf("prev=%s: state changed to %s on failed fetch", prev, res.State)
		}
	}
}

func TestEvaluateCurrencyMismatchIsError(t *testing.T) {
	cond := domain.AlertCondition{
		ID:        "c1",
		EntityID:  "e1",
		Kind:      domain.CondAtOrBelowTarget,
		Threshold: 100,
		Currency:  domain.CurrencyUSD,
	}
	obs := domain.PriceObservation{
		EntityID:   "e1",
		Price:      domain.Price{Amount: 90, Currency: domain.CurrencyRobux},
		ObservedAt: time.Now(),
	}

	res, err := Evaluate(cond, domain.StatePending, obs)
	if err == nil {
		t.Fatal("expected error for mismatched currency")
	}
	if res.Triggered || res.State != domain.StatePending {
		t.Errorf("mismatch changed state: %+v", res)
	}
}

func TestEvaluatePercentDecreaseUsesFixedBaseline(t *testing.T) {
	baseline := usd(200)
	cond := domain.AlertCondition{
		ID:        "c1",
		EntityID:  "e1",
		Kind:      domain.CondPercentDecrease,
		Threshold: 25,
		Currency:  domain.CurrencyUSD,
		Baseline:  &baseline,
	}

	// A drop measured against the most recent price would be >25%, but
	// against the fixed baseline of 200 it is only 20%.
	state := domain.StatePending
	res, err := Evaluate(cond, state, obsUSD(210))
	if err != nil {
		t.Fatal(err)
	}
	if res.Triggered {
		t.Fatal("rise triggered a decrease condition")
	}

	res, err = Evaluate(cond, res.State, obsUSD(160))
	if err != nil {
		t.Fatal(err)
	}
	if res.Triggered {
		t.Error("20% drop from fixed baseline must not trigger a 25% condition")
	}

	// 200 * (1 - 25/100) = 150 is the exact trigger boundary.
	res, err = Evaluate(cond, res.State, obsUSD(150))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Triggered {
		t.Error("observed == baseline*(1-T/100) must trigger")
	}
}

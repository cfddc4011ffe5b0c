package domain

import "time"

// TriggerEvent is emitted exactly once per PENDING -> TRIGGERED transition.
// It is the sole input to notification dispatch; the monotonic state
// transition behind it is what deduplicates alerts.
type TriggerEvent struct {
	EntityID    string    `json:"entity_id"`
	ConditionID string    `json:"condition_id"`
	Title       string    `json:"title"`
	Locator     string    `json:"locator"`
	Condition   string    `json:"condition"`
	OldPrice    *Price    `json:"old_price,omitempty"`
	NewPrice    Price     `json:"new_price"`
	At          time.Time `json:"at"`
}

// Event bus channels consumed by the WebSocket hub.
const (
	ChannelAlerts = "events:alerts"
	ChannelCycles = "events:cycles"
)

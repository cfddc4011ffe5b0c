// Package domain defines the core types of the price monitoring engine:
// tracked entities, price observations, alert conditions and their status,
// plus the store and cache interfaces implemented by the infrastructure
// packages.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Kind classifies what a tracked entity is, derived from its locator at
// creation time and immutable afterwards.
type Kind string

const (
	KindMarketplaceItem Kind = "marketplace-item"
	KindFlightSearch    Kind = "flight-search"
	KindEquity          Kind = "equity"
)

// Family identifies the source-adapter family that serves an entity. Several
// families can map to the same Kind (e-commerce shops and the Roblox catalog
// are both marketplace items) but each family has its own fetch strategy,
// check cadence, and rate-limit cooldown.
type Family string

const (
	FamilyShop       Family = "shop"
	FamilySoftMarket Family = "softmarket"
	FamilyFlight     Family = "flight"
	FamilyEquity     Family = "equity"
)

// Kind returns the entity kind that entities of this family carry.
func (f Family) Kind() Kind {
	switch f {
	case FamilyFlight:
		return KindFlightSearch
	case FamilyEquity:
		return KindEquity
	default:
		return KindMarketplaceItem
	}
}

// TrackedEntity is one registered item, flight search, or ticker. The
// registry (web API) owns creation and deletion; the monitor only writes the
// observation fields (Title, LastPrice, LastChecked, LastError).
type TrackedEntity struct {
	ID          string
	OwnerID     string
	Kind        Kind
	Family      Family
	Locator     string // URL, or ticker symbol for equities
	Title       string
	LastPrice   *Price
	LastChecked *time.Time
	LastError   string
	CreatedAt   time.Time
}

// CheckState is the user-visible status of an entity, derived from the
// observation fields. The four values are rendered distinctly by the UI.
type CheckState string

const (
	CheckNever     CheckState = "never_checked"
	CheckPending   CheckState = "pending"
	CheckTriggered CheckState = "triggered"
	CheckFailed    CheckState = "failed"
)

// CheckStateOf derives the user-visible state of an entity given whether any
// of its conditions has triggered.
func CheckStateOf(e TrackedEntity, anyTriggered bool) CheckState {
	switch {
	case anyTriggered:
		return CheckTriggered
	case e.LastError != "":
		return CheckFailed
	case e.LastChecked == nil:
		return CheckNever
	default:
		return CheckPending
	}
}

// Validate checks the invariants that hold for every stored entity.
func (e TrackedEntity) Validate() error {
	if strings.TrimSpace(e.Locator) == "" {
		return fmt.Errorf("entity: locator must not be empty")
	}
	switch e.Kind {
	case KindMarketplaceItem, KindFlightSearch, KindEquity:
	default:
		return fmt.Errorf("entity: unknown kind %q", e.Kind)
	}
	switch e.Family {
	case FamilyShop, FamilySoftMarket, FamilyFlight, FamilyEquity:
	default:
		return fmt.Errorf("entity: unknown family %q", e.Family)
	}
	if e.Family.Kind() != e.Kind {
		return fmt.Errorf("entity: family %q does not produce kind %q", e.Family, e.Kind)
	}
	return nil
}

// Package source implements the pluggable price-fetch adapters, one per
// platform family, plus the resolver that maps an entity locator to the
// adapter serving it.
package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"pricewatch/internal/domain"
)

// FetchErrorKind classifies adapter failures. The monitor reacts differently
// per kind: RateLimited cools the whole family down, NotFound is a terminal
// signal surfaced to the user, the rest leave the entity's prior observation
// untouched until the next cycle.
type FetchErrorKind string

const (
	ErrNotFound     FetchErrorKind = "not_found"
	ErrRateLimited  FetchErrorKind = "rate_limited"
	ErrParseFailure FetchErrorKind = "parse_failure"
	ErrTimeout      FetchErrorKind = "timeout"
	ErrUnreachable  FetchErrorKind = "unreachable"
)

// FetchError is the error type returned by every Fetcher.
type FetchError struct {
	Kind    FetchErrorKind
	Family  domain.Family
	Locator string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: fetch %s: %s: %v", e.Family, e.Locator, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: fetch %s: %s", e.Family, e.Locator, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// errNoPriceNode is the parse-failure detail when a page loads but none of
// the configured selectors yields a price.
var errNoPriceNode = errors.New("no selector matched a price")

// AsFetchError unwraps err into a *FetchError, or nil if it is not one.
func AsFetchError(err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return nil
}

// classifyTransportError maps an HTTP client error to Timeout or Unreachable.
func classifyTransportError(family domain.Family, locator string, err error) *FetchError {
	kind := ErrUnreachable
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = ErrTimeout
	}
	return &FetchError{Kind: kind, Family: family, Locator: locator, Err: err}
}

// statusError maps a non-2xx HTTP status to a FetchError kind.
func statusError(family domain.Family, locator string, status int) *FetchError {
	var kind FetchErrorKind
	switch {
	case status == 404 || status == 410:
		kind = ErrNotFound
	case status == 429:
		kind = ErrRateLimited
	case status >= 500:
		kind = ErrUnreachable
	default:
		kind = ErrParseFailure
	}
	return &FetchError{
		Kind: kind, Family: family, Locator: locator,
		Err: fmt.Errorf("unexpected status %d", status),
	}
}

// Fetcher is the capability every platform family implements: given a
// locator, return the current price. Implementations must honor ctx and
// apply their own bounded timeout below it.
type Fetcher interface {
	// Family identifies the adapter for cooldown and scheduling purposes.
	Family() domain.Family
	// Fetch returns the current observation for locator. On failure it
	// returns a *FetchError.
	Fetch(ctx context.Context, locator string) (domain.PriceObservation, error)
}

// tickerExpr matches bare equity symbols such as "AAPL" or "BRK.B".
var tickerExpr = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,9}$`)

// Resolver maps locators to fetchers by domain signature. An unmatched
// locator is a configuration error surfaced at entity creation, never at
// check time.
type Resolver struct {
	byFamily map[domain.Family]Fetcher
}

// NewResolver builds a resolver over the given fetchers. Later fetchers with
// a duplicate family overwrite earlier ones.
func NewResolver(fetchers ...Fetcher) *Resolver {
	byFamily := make(map[domain.Family]Fetcher, len(fetchers))
	for _, f := range fetchers {
		byFamily[f.Family()] = f
	}
	return &Resolver{byFamily: byFamily}
}

// DetectFamily classifies a locator into a platform family without consulting
// the registered fetchers. It returns ErrNoAdapter for unrecognized locators.
func DetectFamily(locator string) (domain.Family, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", domain.ErrNoAdapter
	}

	// Bare uppercase symbols are equity tickers.
	if !strings.Contains(locator, "/") && tickerExpr.MatchString(locator) {
		return domain.FamilyEquity, nil
	}

	u, err := url.Parse(locator)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q", domain.ErrNoAdapter, locator)
	}
	host := strings.ToLower(u.Hostname())

	switch {
	case hostMatches(host, "roblox.com"):
		return domain.FamilySoftMarket, nil
	case hostMatches(host, "kayak.com") || hostMatches(host, "google.com") && strings.Contains(u.Path, "/travel/flights"),
		hostMatches(host, "expedia.com") && strings.Contains(u.Path, "Flights"),
		hostMatches(host, "skyscanner.com") || hostMatches(host, "skyscanner.net"):
		return domain.FamilyFlight, nil
	}

	for _, platform := range shopPlatforms {
		for _, pattern := range platform.domains {
			if hostMatches(host, pattern) {
				return domain.FamilyShop, nil
			}
		}
	}

	return "", fmt.Errorf("%w: %q", domain.ErrNoAdapter, locator)
}

// Resolve returns the fetcher serving the given locator.
func (r *Resolver) Resolve(locator string) (Fetcher, error) {
	family, err := DetectFamily(locator)
	if err != nil {
		return nil, err
	}
	f, ok := r.byFamily[family]
	if !ok {
		return nil, fmt.Errorf("%w: family %s not registered", domain.ErrNoAdapter, family)
	}
	return f, nil
}

// hostMatches reports whether host equals pattern or is a subdomain of it.
func hostMatches(host, pattern string) bool {
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

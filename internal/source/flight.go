package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"pricewatch/internal/domain"
)

// flightPriceSels are tried against search-result pages of the supported
// flight meta-searches. Results pages contain many fares; every match is
// parsed and the lowest fare is the observation.
var flightPriceSels = []string{
	`div[class*="price-text"]`,
	`span[class*="price-text"]`,
	`div[data-resultid] span[class*="price"]`,
	`span[data-gs]`,
	`div[aria-label*="price"]`,
	`.YMlIz`, // google flights fare cell
}

// routeExpr pulls IATA-style "JFK-LAX" pairs out of search URLs for a
// readable title, e.g. kayak.com/flights/JFK-LAX/2026-03-01.
var routeExpr = regexp.MustCompile(`([A-Z]{3})[-/]([A-Z]{3})`)

// FlightFetcher prices a saved flight search by scraping its results page and
// keeping the cheapest fare found.
type FlightFetcher struct {
	client   *http.Client
	currency domain.Currency
}

// NewFlightFetcher wires an HTTP client; a nil client gets a default with a
// bounded timeout.
func NewFlightFetcher(client *http.Client) *FlightFetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &FlightFetcher{client: client, currency: domain.CurrencyUSD}
}

// Family identifies the adapter.
func (f *FlightFetcher) Family() domain.Family { return domain.FamilyFlight }

// Fetch loads the search-results page and returns the lowest fare on it.
func (f *FlightFetcher) Fetch(ctx context.Context, locator string) (domain.PriceObservation, error) {
	doc, ferr := fetchDocument(ctx, f.client, f.Family(), locator)
	if ferr != nil {
		return domain.PriceObservation{}, ferr
	}

	lowest := 0.0
	for _, sel := range flightPriceSels {
		doc.Find(sel).Each(func(_ int, node *goquery.Selection) {
			amount, err := ParsePrice(node.Text())
			if err != nil {
				return
			}
			// Fares under $20 are almost always per-leg fragments or ads.
			if amount < 20 {
				return
			}
			if lowest == 0 || amount < lowest {
				lowest = amount
			}
		})
	}

	if lowest == 0 {
		return domain.PriceObservation{}, &FetchError{
			Kind: ErrParseFailure, Family: f.Family(), Locator: locator,
			Err: errNoPriceNode,
		}
	}

	return domain.PriceObservation{
		Title:      RouteTitle(locator),
		Price:      domain.Price{Amount: lowest, Currency: f.currency},
		ObservedAt: time.Now().UTC(),
	}, nil
}

// RouteTitle derives a human-readable title like "Flight JFK → LAX" from the
// search URL, falling back to the host name when no route is recognizable.
func RouteTitle(locator string) string {
	if m := routeExpr.FindStringSubmatch(strings.ToUpper(locator)); m != nil {
		return fmt.Sprintf("Flight %s → %s", m[1], m[2])
	}
	if u, err := url.Parse(locator); err == nil && u.Host != "" {
		return "Flight search on " + u.Hostname()
	}
	return "Flight search"
}

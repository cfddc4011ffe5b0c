package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"pricewatch/internal/domain"
)

// robloxEconomyURL is the catalog details endpoint; %s is the asset id.
const robloxEconomyURL = "https://economy.roblox.com/v2/assets/%s/details"

var robloxAssetExpr = regexp.MustCompile(`roblox\.com/catalog/(\d+)`)

// RobloxFetcher prices Roblox catalog items in the Robux soft currency via
// the public economy API rather than scraping the storefront HTML.
type RobloxFetcher struct {
	client  *http.Client
	baseURL string // overridable in tests
}

// NewRobloxFetcher wires an HTTP client; a nil client gets a default with a
// bounded timeout.
func NewRobloxFetcher(client *http.Client) *RobloxFetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &RobloxFetcher{client: client, baseURL: robloxEconomyURL}
}

// Family identifies the adapter.
func (r *RobloxFetcher) Family() domain.Family { return domain.FamilySoftMarket }

// robloxDetails is the subset of the economy API response we read.
type robloxDetails struct {
	Name         string   `json:"Name"`
	PriceInRobux *float64 `json:"PriceInRobux"`
	IsForSale    bool     `json:"IsForSale"`
	IsLimited    bool     `json:"IsLimited"`
	LowestPrice  *float64 `json:"LowestPrice"` // resale price for limiteds
}

// Fetch resolves the asset id from the catalog URL and queries the economy
// API for its current Robux price. Limited items that are only available on
// resale report their lowest resale price.
func (r *RobloxFetcher) Fetch(ctx context.Context, locator string) (domain.PriceObservation, error) {
	m := robloxAssetExpr.FindStringSubmatch(locator)
	if m == nil {
		return domain.PriceObservation{}, &FetchError{
			Kind: ErrParseFailure, Family: r.Family(), Locator: locator,
			Err: fmt.Errorf("no asset id in locator"),
		}
	}
	assetID := m[1]

	req, err := newScrapeRequest(ctx, fmt.Sprintf(r.baseURL, assetID))
	if err != nil {
		return domain.PriceObservation{}, &FetchError{Kind: ErrUnreachable, Family: r.Family(), Locator: locator, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return domain.PriceObservation{}, classifyTransportError(r.Family(), locator, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.PriceObservation{}, statusError(r.Family(), locator, resp.StatusCode)
	}

	var details robloxDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return domain.PriceObservation{}, &FetchError{Kind: ErrParseFailure, Family: r.Family(), Locator: locator, Err: err}
	}

	price := details.PriceInRobux
	if price == nil && details.IsLimited {
		price = details.LowestPrice
	}
	if price == nil {
		if !details.IsForSale {
			return domain.PriceObservation{}, &FetchError{
				Kind: ErrNotFound, Family: r.Family(), Locator: locator,
				Err: fmt.Errorf("item %s is off sale", assetID),
			}
		}
		return domain.PriceObservation{}, &FetchError{
			Kind: ErrParseFailure, Family: r.Family(), Locator: locator,
			Err: fmt.Errorf("item %s has no price", assetID),
		}
	}

	return domain.PriceObservation{
		Title:      CleanTitle(details.Name),
		Price:      domain.Price{Amount: *price, Currency: domain.CurrencyRobux},
		ObservedAt: time.Now().UTC(),
	}, nil
}

package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"pricewatch/internal/domain"
)

const storenvyPage = `<!doctype html>
<html><body>
  <div class="product-header"><h1 class="product-name">  Enamel   Pin </h1></div>
  <div class="price vprice">$14.50</div>
</body></html>`

const storenvyNoPrice = `<!doctype html>
<html><body><h1 class="product-name">Enamel Pin</h1><p>Sold out</p></body></html>`

func TestShopFetcherParsesListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, storenvyPage)
	}))
	defer srv.Close()

	f := NewShopFetcher(srv.Client())
	// The selector table is keyed on the locator host, so point a storenvy
	// locator at the test server via a rewriting transport.
	f.client.Transport = rewriteHost(srv)

	obs, err := f.Fetch(context.Background(), "https://myshop.storenvy.com/products/1-pin")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if obs.Title != "Enamel Pin" {
		t.Errorf("title: got %q", obs.Title)
	}
	if obs.Price.Amount != 14.50 || obs.Price.Currency != domain.CurrencyUSD {
		t.Errorf("price: got %v", obs.Price)
	}
}

func TestShopFetcherErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   FetchErrorKind
	}{
		{"missing listing", http.StatusNotFound, "gone", ErrNotFound},
		{"rate limited", http.StatusTooManyRequests, "slow down", ErrRateLimited},
		{"server error", http.StatusBadGateway, "oops", ErrUnreachable},
		{"layout changed", http.StatusOK, storenvyNoPrice, ErrParseFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			f := NewShopFetcher(srv.Client())
			f.client.Transport = rewriteHost(srv)

			_, err := f.Fetch(context.Background(), "https://myshop.storenvy.com/products/1-pin")
			fe := AsFetchError(err)
			if fe == nil {
				t.Fatalf("expected *FetchError, got %v", err)
			}
			if fe.Kind != tt.want {
				t.Errorf("kind: got %s, want %s", fe.Kind, tt.want)
			}
		})
	}
}

func TestRobloxFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Name":"Red Cap","PriceInRobux":450,"IsForSale":true}`)
	}))
	defer srv.Close()

	f := NewRobloxFetcher(srv.Client())
	f.baseURL = srv.URL + "/%s"

	obs, err := f.Fetch(context.Background(), "https://www.roblox.com/catalog/116540996/Red-Cap")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if obs.Price.Currency != domain.CurrencyRobux || obs.Price.Amount != 450 {
		t.Errorf("price: got %v", obs.Price)
	}
	if obs.Title != "Red Cap" {
		t.Errorf("title: got %q", obs.Title)
	}
}

func TestRobloxFetcherOffSaleIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Name":"Retired Hat","PriceInRobux":null,"IsForSale":false}`)
	}))
	defer srv.Close()

	f := NewRobloxFetcher(srv.Client())
	f.baseURL = srv.URL + "/%s"

	_, err := f.Fetch(context.Background(), "https://www.roblox.com/catalog/1/Retired-Hat")
	fe := AsFetchError(err)
	if fe == nil || fe.Kind != ErrNotFound {
		t.Errorf("want NotFound, got %v", err)
	}
}

func TestEquityFetcherYahoo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":[{"meta":{"symbol":"AAPL","shortName":"Apple Inc.","currency":"USD","regularMarketPrice":187.44}}],"error":null}}`)
	}))
	defer srv.Close()

	f := NewEquityFetcher(srv.Client())
	f.chartURL = srv.URL + "/%s"

	obs, err := f.Fetch(context.Background(), "aapl")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if obs.Price.Amount != 187.44 {
		t.Errorf("price: got %v", obs.Price.Amount)
	}
	if obs.Title != "Apple Inc." {
		t.Errorf("title: got %q", obs.Title)
	}
}

func TestEquityFetcherFallsBackToGoogle(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer primary.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div class="YMlKec fxKbKc">$321.09</div></body></html>`)
	}))
	defer fallback.Close()

	f := NewEquityFetcher(http.DefaultClient)
	f.chartURL = primary.URL + "/%s"
	f.fallbackURL = fallback.URL + "/%s"

	obs, err := f.Fetch(context.Background(), "MSFT")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if obs.Price.Amount != 321.09 {
		t.Errorf("price: got %v", obs.Price.Amount)
	}
}

func TestFlightFetcherKeepsLowestFare(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<div class="price-text">$412</div>
			<div class="price-text">$388</div>
			<div class="price-text">$519</div>
			<div class="price-text">$7</div>
		</body></html>`)
	}))
	defer srv.Close()

	f := NewFlightFetcher(srv.Client())
	f.client.Transport = rewriteHost(srv)

	obs, err := f.Fetch(context.Background(), "https://www.kayak.com/flights/JFK-LAX/2026-03-01")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if obs.Price.Amount != 388 {
		t.Errorf("lowest fare: got %v, want 388", obs.Price.Amount)
	}
	if obs.Title != "Flight JFK → LAX" {
		t.Errorf("title: got %q", obs.Title)
	}
}

// rewriteHost redirects every request to the test server regardless of the
// request URL's host, so fetchers can be exercised with realistic locators.
func rewriteHost(srv *httptest.Server) http.RoundTripper {
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		req.URL.Scheme = "http"
		req.URL.Host = srv.Listener.Addr().String()
		return http.DefaultTransport.RoundTrip(req)
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

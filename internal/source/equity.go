package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pricewatch/internal/domain"
)

const (
	yahooChartURL    = "https://query1.finance.yahoo.com/v8/finance/chart/%s"
	googleFinanceURL = "https://www.google.com/finance/quote/%s:NASDAQ"
)

// EquityFetcher quotes stock tickers. The primary source is the Yahoo
// Finance chart API; when it fails for anything other than an unknown
// symbol, the Google Finance quote page is scraped as a fallback.
type EquityFetcher struct {
	client      *http.Client
	chartURL    string // overridable in tests
	fallbackURL string
}

// NewEquityFetcher wires an HTTP client; a nil client gets a default with a
// bounded timeout.
func NewEquityFetcher(client *http.Client) *EquityFetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &EquityFetcher{
		client:      client,
		chartURL:    yahooChartURL,
		fallbackURL: googleFinanceURL,
	}
}

// Family identifies the adapter.
func (e *EquityFetcher) Family() domain.Family { return domain.FamilyEquity }

// yahooChart is the subset of the chart API response we read.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				LongName           string  `json:"longName"`
				ShortName          string  `json:"shortName"`
				Currency           string  `json:"currency"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Fetch quotes the ticker symbol given as locator.
func (e *EquityFetcher) Fetch(ctx context.Context, locator string) (domain.PriceObservation, error) {
	symbol := strings.ToUpper(strings.TrimSpace(locator))

	obs, ferr := e.fetchYahoo(ctx, symbol)
	if ferr == nil {
		return obs, nil
	}
	// An unknown symbol is terminal; there is nothing for the fallback to
	// find either.
	if ferr.Kind == ErrNotFound {
		return domain.PriceObservation{}, ferr
	}

	obs, fallbackErr := e.fetchGoogle(ctx, symbol)
	if fallbackErr != nil {
		// Report the primary source's failure; it is the more meaningful one.
		return domain.PriceObservation{}, ferr
	}
	return obs, nil
}

func (e *EquityFetcher) fetchYahoo(ctx context.Context, symbol string) (domain.PriceObservation, *FetchError) {
	req, err := newScrapeRequest(ctx, fmt.Sprintf(e.chartURL, symbol))
	if err != nil {
		return domain.PriceObservation{}, &FetchError{Kind: ErrUnreachable, Family: e.Family(), Locator: symbol, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return domain.PriceObservation{}, classifyTransportError(e.Family(), symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.PriceObservation{}, statusError(e.Family(), symbol, resp.StatusCode)
	}

	var chart yahooChart
	if err := json.NewDecoder(resp.Body).Decode(&chart); err != nil {
		return domain.PriceObservation{}, &FetchError{Kind: ErrParseFailure, Family: e.Family(), Locator: symbol, Err: err}
	}

	if chart.Chart.Error != nil {
		kind := ErrParseFailure
		if chart.Chart.Error.Code == "Not Found" {
			kind = ErrNotFound
		}
		return domain.PriceObservation{}, &FetchError{
			Kind: kind, Family: e.Family(), Locator: symbol,
			Err: fmt.Errorf("%s: %s", chart.Chart.Error.Code, chart.Chart.Error.Description),
		}
	}
	if len(chart.Chart.Result) == 0 {
		return domain.PriceObservation{}, &FetchError{
			Kind: ErrNotFound, Family: e.Family(), Locator: symbol,
			Err: fmt.Errorf("no result for symbol"),
		}
	}

	meta := chart.Chart.Result[0].Meta
	if meta.RegularMarketPrice <= 0 {
		return domain.PriceObservation{}, &FetchError{
			Kind: ErrParseFailure, Family: e.Family(), Locator: symbol,
			Err: fmt.Errorf("no market price in quote"),
		}
	}

	title := meta.LongName
	if title == "" {
		title = meta.ShortName
	}
	if title == "" {
		title = symbol
	}
	currency := domain.Currency(meta.Currency)
	if currency == "" {
		currency = domain.CurrencyUSD
	}

	return domain.PriceObservation{
		Title:      CleanTitle(title),
		Price:      domain.Price{Amount: meta.RegularMarketPrice, Currency: currency},
		ObservedAt: time.Now().UTC(),
	}, nil
}

func (e *EquityFetcher) fetchGoogle(ctx context.Context, symbol string) (domain.PriceObservation, *FetchError) {
	doc, ferr := fetchDocument(ctx, e.client, e.Family(), fmt.Sprintf(e.fallbackURL, symbol))
	if ferr != nil {
		return domain.PriceObservation{}, ferr
	}

	text := doc.Find(".YMlKec.fxKbKc").First().Text()
	amount, err := ParsePrice(text)
	if err != nil {
		return domain.PriceObservation{}, &FetchError{Kind: ErrParseFailure, Family: e.Family(), Locator: symbol, Err: err}
	}

	return domain.PriceObservation{
		Title:      symbol,
		Price:      domain.Price{Amount: amount, Currency: domain.CurrencyUSD},
		ObservedAt: time.Now().UTC(),
	}, nil
}

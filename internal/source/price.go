package source

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// browserUserAgent is sent on every scrape request. Several of the shop
// frontends refuse requests with the default Go user agent outright.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// defaultFetchTimeout bounds a single fetch when the caller supplies no
// client of its own.
const defaultFetchTimeout = 30 * time.Second

var (
	amountExpr = regexp.MustCompile(`(\d{1,3}(?:,\d{3})*|\d+)(?:\.(\d{1,4}))?`)
	robuxExpr  = regexp.MustCompile(`(?i)(?:R\$|robux)\s*(\d{1,3}(?:,\d{3})*|\d+)`)
)

// ParsePrice extracts the first money amount from free-form text such as
// "$1,299.99", "USD 45.00" or "from €89". Every call site that needs an
// amount out of scraped text goes through here.
func ParsePrice(text string) (float64, error) {
	m := amountExpr.FindStringSubmatch(strings.ReplaceAll(text, " ", " "))
	if m == nil {
		return 0, fmt.Errorf("no price in %q", truncate(text, 80))
	}
	raw := strings.ReplaceAll(m[1], ",", "")
	if m[2] != "" {
		raw += "." + m[2]
	}
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", raw, err)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("non-positive price %v in %q", amount, truncate(text, 80))
	}
	return amount, nil
}

// ParseRobux extracts a Robux amount like "R$ 1,250" from catalog text.
func ParseRobux(text string) (float64, error) {
	m := robuxExpr.FindStringSubmatch(text)
	if m == nil {
		// Fall back to a bare number; the catalog API returns plain ints.
		return ParsePrice(text)
	}
	raw := strings.ReplaceAll(m[1], ",", "")
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse robux %q: %w", raw, err)
	}
	return amount, nil
}

// CleanTitle collapses whitespace in a scraped product title.
func CleanTitle(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// newScrapeRequest builds a GET request with the browser headers the shop
// frontends expect.
func newScrapeRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	return req, nil
}

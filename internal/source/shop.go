package source

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"pricewatch/internal/domain"
)

// shopPlatform describes one e-commerce frontend: the domains it serves and
// the CSS selectors that locate the product title and price on a listing
// page. Selectors are tried in order; the first one yielding a parseable
// price wins.
type shopPlatform struct {
	name      string
	domains   []string
	titleSels []string
	priceSels []string
}

// shopPlatforms is the lookup table of supported shop frontends. Keeping the
// selectors in one table (rather than one scraper type per shop) means a
// layout change on one site is a one-line fix.
var shopPlatforms = []shopPlatform{
	{
		name:    "amazon",
		domains: []string{"amazon.com", "amazon.co.uk", "amazon.ca", "amazon.in", "amazon.de", "amazon.fr"},
		titleSels: []string{
			"span#productTitle",
			"h1#title span",
			"h1.a-size-large span",
		},
		priceSels: []string{
			"span.a-price.apexPriceToPay span.a-offscreen",
			"span.a-price-current span.a-offscreen",
			"#priceblock_dealprice",
			"#priceblock_ourprice",
			".a-price .a-offscreen",
		},
	},
	{
		name:    "walmart",
		domains: []string{"walmart.com"},
		titleSels: []string{
			`h1[data-automation-id="product-title"]`,
			`h1[itemprop="name"]`,
			"main h1",
		},
		priceSels: []string{
			`div[data-testid="price-wrap"] span[itemprop="price"]`,
			`span[data-automation-id="buybox-price"]`,
			`span[itemprop="price"]`,
		},
	},
	{
		name:    "etsy",
		domains: []string{"etsy.com"},
		titleSels: []string{
			"h1[data-buy-box-listing-title]",
			`h1[data-test-id="listing-page-title"]`,
		},
		priceSels: []string{
			`p[data-testid="price"] span.currency-value`,
			`div[data-buy-box-region="price"] p[data-selector="price-only"]`,
			"p.currency span.currency-value",
		},
	},
	{
		name:    "ebay",
		domains: []string{"ebay.com", "ebay.co.uk", "ebay.ca", "ebay.de"},
		titleSels: []string{
			"h1.x-item-title__mainTitle span",
			`h1[data-testid="x-item-title-textual"]`,
			"h1.it-ttl",
		},
		priceSels: []string{
			"div.x-price-primary span.ux-textspans",
			"#prcIsum",
			`span[itemprop="price"]`,
		},
	},
	{
		name:    "storenvy",
		domains: []string{"storenvy.com"},
		titleSels: []string{
			"h1.product-name",
			`h1[itemprop="name"]`,
			".product-header h1",
		},
		priceSels: []string{
			"div.price.vprice",
			`span[itemprop="price"]`,
			".product-price",
		},
	},
}

// ShopFetcher fetches current prices from e-commerce product pages.
type ShopFetcher struct {
	client   *http.Client
	currency domain.Currency
}

// NewShopFetcher wires an HTTP client; a nil client gets a default with a
// bounded timeout.
func NewShopFetcher(client *http.Client) *ShopFetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &ShopFetcher{client: client, currency: domain.CurrencyUSD}
}

// Family identifies the adapter.
func (s *ShopFetcher) Family() domain.Family { return domain.FamilyShop }

// Fetch loads the product page and extracts title and price using the
// platform's selector table.
func (s *ShopFetcher) Fetch(ctx context.Context, locator string) (domain.PriceObservation, error) {
	platform, ok := platformFor(locator)
	if !ok {
		return domain.PriceObservation{}, &FetchError{
			Kind: ErrParseFailure, Family: s.Family(), Locator: locator,
			Err: domain.ErrNoAdapter,
		}
	}

	doc, ferr := fetchDocument(ctx, s.client, s.Family(), locator)
	if ferr != nil {
		return domain.PriceObservation{}, ferr
	}

	title := firstText(doc, platform.titleSels)

	for _, sel := range platform.priceSels {
		var amount float64
		found := false
		doc.Find(sel).EachWithBreak(func(_ int, node *goquery.Selection) bool {
			text := node.Text()
			if text == "" {
				text, _ = node.Attr("content")
			}
			a, err := ParsePrice(text)
			if err != nil {
				return true // keep scanning nodes under this selector
			}
			amount = a
			found = true
			return false
		})
		if found {
			return domain.PriceObservation{
				Title:      CleanTitle(title),
				Price:      domain.Price{Amount: amount, Currency: s.currency},
				ObservedAt: time.Now().UTC(),
			}, nil
		}
	}

	// Page loaded but no selector produced a price: the site layout changed,
	// which is distinct from the listing being gone.
	return domain.PriceObservation{}, &FetchError{
		Kind: ErrParseFailure, Family: s.Family(), Locator: locator,
		Err: errNoPriceNode,
	}
}

// platformFor finds the shop platform serving the locator's host.
func platformFor(locator string) (shopPlatform, bool) {
	u, err := url.Parse(locator)
	if err != nil {
		return shopPlatform{}, false
	}
	host := strings.ToLower(u.Hostname())
	for _, p := range shopPlatforms {
		for _, d := range p.domains {
			if hostMatches(host, d) {
				return p, true
			}
		}
	}
	return shopPlatform{}, false
}

// fetchDocument performs the GET and hands the body to goquery, translating
// transport and status failures into the fetch-error taxonomy.
func fetchDocument(ctx context.Context, client *http.Client, family domain.Family, rawURL string) (*goquery.Document, *FetchError) {
	req, err := newScrapeRequest(ctx, rawURL)
	if err != nil {
		return nil, &FetchError{Kind: ErrUnreachable, Family: family, Locator: rawURL, Err: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransportError(family, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(family, rawURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: ErrParseFailure, Family: family, Locator: rawURL, Err: err}
	}
	return doc, nil
}

// firstText returns the first non-empty trimmed text among the selectors.
func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

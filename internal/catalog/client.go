package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/mkaneko/worksync/internal/work"
)

const (
	defaultTimeout           = 30 * time.Second
	defaultRequestsPerSecond = 2
)

type ClientConfig struct {
	// BaseURL is the root of the marketplace API, e.g. https://market.example.com.
	BaseURL string
	// Referer sent with every request; the API rejects requests without one.
	Referer string
	// Timeout bounds a single fetch including body read.
	Timeout time.Duration
	// RequestsPerSecond caps the client-side request rate. Zero uses the default.
	RequestsPerSecond float64
}

// Client fetches single items from the remote catalog API. It performs no
// retries itself; failures come back as *FetchError and the caller decides
// what to do with each kind.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    *headerRotator
	limiter    *rate.Limiter
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("catalog: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("catalog: invalid BaseURL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	referer := cfg.Referer
	if referer == "" {
		referer = cfg.BaseURL + "/"
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		headers:    newHeaderRotator(referer),
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

// FetchWork retrieves and parses one item's metadata. On failure the returned
// error is always a *FetchError carrying the classification.
func (c *Client) FetchWork(ctx context.Context, workID string) (*work.Record, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{WorkID: workID, Kind: KindNetworkError, Err: err}
	}

	u := fmt.Sprintf("%s/api/product.json?workno=%s", c.baseURL, url.QueryEscape(workID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{WorkID: workID, Kind: KindNetworkError, Err: err}
	}
	c.headers.apply(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{WorkID: workID, Kind: KindNetworkError, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &FetchError{WorkID: workID, Kind: KindNotFound, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return nil, &FetchError{WorkID: workID, Kind: KindRateLimited, StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, &FetchError{
			WorkID:     workID,
			Kind:       KindNetworkError,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{WorkID: workID, Kind: KindNetworkError, Err: err}
	}

	rec, err := parseProductPayload(workID, body, time.Now())
	if err != nil {
		return nil, &FetchError{WorkID: workID, Kind: KindMalformed, Err: err}
	}

	return rec, nil
}

// productPayload is the subset of the remote API's per-item response the
// pipeline consumes. The API returns a one-element array per item.
type productPayload struct {
	Workno        string   `json:"workno"`
	WorkName      string   `json:"work_name"`
	MakerName     string   `json:"maker_name"`
	Genres        []string `json:"genres"`
	Price         *float64 `json:"price"`
	OfficialPrice *float64 `json:"official_price"`
	DiscountRate  int      `json:"discount_rate"`
	CampaignID    *int64   `json:"campaign_id"`
	LocalePrice   []struct {
		Currency string  `json:"currency"`
		Price    float64 `json:"price"`
	} `json:"locale_price"`
	LocaleOfficialPrice []struct {
		Currency string  `json:"currency"`
		Price    float64 `json:"price"`
	} `json:"locale_official_price"`
	RegistDate string `json:"regist_date"`
	UpdateDate string `json:"update_date"`
	OnSale     int    `json:"on_sale"`
}

func parseProductPayload(workID string, body []byte, fetchedAt time.Time) (*work.Record, error) {
	var items []productPayload
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("empty payload for %s", workID)
	}

	p := items[0]
	if p.Workno == "" {
		return nil, fmt.Errorf("payload missing workno for %s", workID)
	}

	rec := &work.Record{
		ID:                   p.Workno,
		Title:                p.WorkName,
		Circle:               p.MakerName,
		Genres:               p.Genres,
		Price:                p.Price,
		OfficialPrice:        p.OfficialPrice,
		DiscountRate:         clampDiscount(p.DiscountRate),
		CampaignID:           p.CampaignID,
		LocalePrices:         localeMap(p.LocalePrice),
		LocaleOfficialPrices: localeMap(p.LocaleOfficialPrice),
		OnSale:               p.OnSale == 1,
		LastFetchedAt:        fetchedAt,
		Source:               "catalog_api",
	}
	if t, err := time.Parse("2006-01-02 15:04:05", p.RegistDate); err == nil {
		rec.RegisteredAt = &t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", p.UpdateDate); err == nil {
		rec.UpdatedAt = &t
	}

	return rec, nil
}

func clampDiscount(rate int) int {
	if rate < 0 {
		return 0
	}
	if rate > 100 {
		return 100
	}
	return rate
}

func localeMap(entries []struct {
	Currency string  `json:"currency"`
	Price    float64 `json:"price"`
}) map[string]*float64 {
	out := make(map[string]*float64)
	for _, e := range entries {
		if !supportedCurrency(e.Currency) || e.Price <= 0 {
			continue
		}
		price := e.Price
		out[e.Currency] = &price
	}
	return out
}

func supportedCurrency(code string) bool {
	for _, c := range work.LocaleCurrencies {
		if c == code {
			return true
		}
	}
	return false
}

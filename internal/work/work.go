// Package work defines the catalog work domain model shared by the ingestion
// pipeline and persistence layers. It contains the mirrored work record, the
// daily price snapshot, and serialization helpers.
package work

import (
	"encoding/json"
	"time"
)

// Locale currencies tracked alongside the marketplace's default currency.
const (
	CurrencyUSD = "USD"
	CurrencyEUR = "EUR"
	CurrencyCNY = "CNY"
	CurrencyTWD = "TWD"
	CurrencyKRW = "KRW"
)

// LocaleCurrencies lists every supported locale currency in a stable order.
var LocaleCurrencies = []string{CurrencyUSD, CurrencyEUR, CurrencyCNY, CurrencyTWD, CurrencyKRW}

// Record is one mirrored catalog item. It is created on the first successful
// fetch and overwritten on every subsequent one; records are never deleted by
// the pipeline.
type Record struct {
	ID                   string              `json:"id"`
	Title                string              `json:"title"`
	Circle               string              `json:"circle"`
	Genres               []string            `json:"genres"`
	Price                *float64            `json:"price"`
	OfficialPrice        *float64            `json:"official_price"`
	DiscountRate         int                 `json:"discount_rate"`
	CampaignID           *int64              `json:"campaign_id,omitempty"`
	LocalePrices         map[string]*float64 `json:"locale_prices"`
	LocaleOfficialPrices map[string]*float64 `json:"locale_official_prices"`
	OnSale               bool                `json:"on_sale"`
	RegisteredAt         *time.Time          `json:"registered_at,omitempty"`
	UpdatedAt            *time.Time          `json:"updated_at,omitempty"`
	LastFetchedAt        time.Time           `json:"last_fetched_at"`
	Source               string              `json:"source"`
}

func (r *Record) ToJSON() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func RecordFromJSON(data string) (*Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, err
	}

	return &r, nil
}

// LocalePrice returns the current price in the given currency, or nil when
// the source payload did not carry one. Missing currencies stay nil so that
// downstream statistics never see a fabricated zero.
func (r *Record) LocalePrice(currency string) *float64 {
	if r.LocalePrices == nil {
		return nil
	}
	return r.LocalePrices[currency]
}

// LocaleOfficialPrice returns the list price in the given currency, or nil.
func (r *Record) LocaleOfficialPrice(currency string) *float64 {
	if r.LocaleOfficialPrices == nil {
		return nil
	}
	return r.LocaleOfficialPrices[currency]
}

package work

import "time"

// PriceSnapshot is one immutable price-history entry per (work, calendar
// day). Re-ingesting on the same day overwrites the entry; across days the
// history is append-only.
type PriceSnapshot struct {
	WorkID              string              `json:"work_id"`
	Date                string              `json:"date"`
	Price               *float64            `json:"price"`
	OfficialPrice       *float64            `json:"official_price"`
	LocalePrice         map[string]*float64 `json:"locale_price"`
	LocaleOfficialPrice map[string]*float64 `json:"locale_official_price"`
	DiscountRate        int                 `json:"discount_rate"`
	CampaignID          *int64              `json:"campaign_id,omitempty"`
	CapturedAt          time.Time           `json:"captured_at"`
}

// SnapshotDate formats the calendar day for t in the display timezone.
// The date key must follow the zone the site renders in, not UTC, so a run
// just after local midnight lands on the new day.
func SnapshotDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// NewPriceSnapshot derives the daily snapshot for a freshly fetched record.
// Prices are copied verbatim per currency; a currency absent from the source
// payload stays nil in the snapshot.
func NewPriceSnapshot(r *Record, capturedAt time.Time, loc *time.Location) *PriceSnapshot {
	locale := make(map[string]*float64, len(LocaleCurrencies))
	localeOfficial := make(map[string]*float64, len(LocaleCurrencies))
	for _, currency := range LocaleCurrencies {
		locale[currency] = r.LocalePrice(currency)
		localeOfficial[currency] = r.LocaleOfficialPrice(currency)
	}

	return &PriceSnapshot{
		WorkID:              r.ID,
		Date:                SnapshotDate(capturedAt, loc),
		Price:               r.Price,
		OfficialPrice:       r.OfficialPrice,
		LocalePrice:         locale,
		LocaleOfficialPrice: localeOfficial,
		DiscountRate:        r.DiscountRate,
		CampaignID:          r.CampaignID,
		CapturedAt:          capturedAt,
	}
}

// EffectivePrice returns the price a buyer pays on the snapshot day: the sale
// price while a discount is active, the list price otherwise. Nil means the
// source never reported a price for that day.
func (s *PriceSnapshot) EffectivePrice() *float64 {
	if s.DiscountRate > 0 {
		return s.Price
	}
	return s.OfficialPrice
}

// EffectiveLocalePrice applies the same discount rule independently for one
// locale currency.
func (s *PriceSnapshot) EffectiveLocalePrice(currency string) *float64 {
	if s.DiscountRate > 0 {
		if s.LocalePrice == nil {
			return nil
		}
		return s.LocalePrice[currency]
	}
	if s.LocaleOfficialPrice == nil {
		return nil
	}
	return s.LocaleOfficialPrice[currency]
}

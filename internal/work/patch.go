package work

import "time"

// Patch is a typed partial update for a Record. Only non-nil fields are
// applied, which keeps partial writes checked at compile time instead of
// passing around loose field maps.
type Patch struct {
	Title                *string
	Circle               *string
	Genres               *[]string
	Price                **float64
	OfficialPrice        **float64
	DiscountRate         *int
	CampaignID           **int64
	LocalePrices         *map[string]*float64
	LocaleOfficialPrices *map[string]*float64
	OnSale               *bool
	UpdatedAt            **time.Time
	LastFetchedAt        *time.Time
}

// Apply mutates r with every field the patch carries and reports whether
// anything changed.
func (p Patch) Apply(r *Record) bool {
	changed := false

	if p.Title != nil {
		r.Title = *p.Title
		changed = true
	}
	if p.Circle != nil {
		r.Circle = *p.Circle
		changed = true
	}
	if p.Genres != nil {
		r.Genres = *p.Genres
		changed = true
	}
	if p.Price != nil {
		r.Price = *p.Price
		changed = true
	}
	if p.OfficialPrice != nil {
		r.OfficialPrice = *p.OfficialPrice
		changed = true
	}
	if p.DiscountRate != nil {
		r.DiscountRate = *p.DiscountRate
		changed = true
	}
	if p.CampaignID != nil {
		r.CampaignID = *p.CampaignID
		changed = true
	}
	if p.LocalePrices != nil {
		r.LocalePrices = *p.LocalePrices
		changed = true
	}
	if p.LocaleOfficialPrices != nil {
		r.LocaleOfficialPrices = *p.LocaleOfficialPrices
		changed = true
	}
	if p.OnSale != nil {
		r.OnSale = *p.OnSale
		changed = true
	}
	if p.UpdatedAt != nil {
		r.UpdatedAt = *p.UpdatedAt
		changed = true
	}
	if p.LastFetchedAt != nil {
		r.LastFetchedAt = *p.LastFetchedAt
		changed = true
	}

	return changed
}

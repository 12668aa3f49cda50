// Package transform cleans a raw listings batch and derives the pricing
// columns.
package transform

import (
	"log/slog"
	"math"
	"time"

	"listings-etl/logging"
	"listings-etl/schema"
)

// DateLayout is the accepted last_review format.
const DateLayout = "2006-01-02"

// EpochFallback fills last_review when no row in the batch has a valid date.
var EpochFallback = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// Stats counts what each step did to the batch.
type Stats struct {
	Input        int
	DroppedPrice int
	DroppedGeo   int
	DatesFilled  int
	RPMFilled    int
	EarliestDate time.Time
	DateFallback bool
	Output       int
}

// Expected is the row count the batch must have if only the documented
// filters removed rows.
func (s Stats) Expected() int {
	return s.Input - s.DroppedPrice - s.DroppedGeo
}

type Result struct {
	Listings []schema.Listing
	Stats    Stats
}

type Transformer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Transformer {
	return &Transformer{logger: logging.OrDiscard(logger)}
}

// Transform applies, in order: drop non-positive or missing price, parse
// last_review, fill missing dates with the batch's earliest date, default
// reviews_per_month to 0, drop rows without coordinates, derive price_range
// and price_per_review. The input slice is not modified.
func (t *Transformer) Transform(in []schema.Listing) Result {
	stats := Stats{Input: len(in)}

	priced := make([]schema.Listing, 0, len(in))
	for _, l := range in {
		if l.Price == nil || *l.Price <= 0 {
			stats.DroppedPrice++
			continue
		}
		priced = append(priced, l)
	}

	var earliest *time.Time
	for i := range priced {
		d := parseDate(priced[i].RawLastReview)
		priced[i].LastReview = d
		if d != nil && (earliest == nil || d.Before(*earliest)) {
			earliest = d
		}
	}
	if earliest == nil {
		fallback := EpochFallback
		earliest = &fallback
		stats.DateFallback = true
		if len(priced) > 0 {
			t.logger.Warn("no valid last_review in batch; filling with fallback date",
				"fallback", EpochFallback.Format(DateLayout))
		}
	}
	stats.EarliestDate = *earliest

	out := make([]schema.Listing, 0, len(priced))
	for _, l := range priced {
		filled := l.LastReview == nil
		if filled {
			d := *earliest
			l.LastReview = &d
		}

		rpmFilled := l.ReviewsPerMonth == nil
		if rpmFilled {
			zero := 0.0
			l.ReviewsPerMonth = &zero
		} else {
			rounded := math.Round(*l.ReviewsPerMonth*100) / 100
			l.ReviewsPerMonth = &rounded
		}

		if l.Latitude == nil || l.Longitude == nil {
			stats.DroppedGeo++
			continue
		}

		if filled {
			stats.DatesFilled++
		}
		if rpmFilled {
			stats.RPMFilled++
		}
		l.PriceRange = PriceRange(*l.Price)
		l.PricePerReview = PricePerReview(*l.Price, *l.ReviewsPerMonth)
		out = append(out, l)
	}
	stats.Output = len(out)

	t.logger.Info("transformed batch",
		"input", stats.Input,
		"dropped_price", stats.DroppedPrice,
		"dropped_geo", stats.DroppedGeo,
		"dates_filled", stats.DatesFilled,
		"earliest_date", stats.EarliestDate.Format(DateLayout),
		"date_fallback", stats.DateFallback,
		"output", stats.Output,
	)

	return Result{Listings: out, Stats: stats}
}

// PriceRange buckets a price: up to 100 is budget, up to 300 midrange,
// above that luxury.
func PriceRange(price float64) string {
	switch {
	case price <= 100:
		return schema.PriceBudget
	case price <= 300:
		return schema.PriceMidrange
	default:
		return schema.PriceLuxury
	}
}

// PricePerReview is price divided by reviews per month, or 0 without reviews.
func PricePerReview(price, reviewsPerMonth float64) float64 {
	if reviewsPerMonth <= 0 {
		return 0
	}
	return price / reviewsPerMonth
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return nil
	}
	return &d
}

// Package schema defines the listing record, its column metadata and the
// CSV reader that produces it.
package schema

import (
	"time"
)

// Listing is one row of the listings dataset. Pointer fields are nullable in
// the source; after transformation Price, Latitude, Longitude, LastReview and
// ReviewsPerMonth are always set.
type Listing struct {
	ID                          int64      `parquet:"id"`
	Name                        string     `parquet:"name"`
	HostID                      *int64     `parquet:"host_id,optional"`
	HostName                    string     `parquet:"host_name"`
	NeighbourhoodGroup          string     `parquet:"neighbourhood_group"`
	Neighbourhood               string     `parquet:"neighbourhood"`
	Latitude                    *float64   `parquet:"latitude,optional"`
	Longitude                   *float64   `parquet:"longitude,optional"`
	RoomType                    string     `parquet:"room_type"`
	Price                       *float64   `parquet:"price,optional"`
	MinimumNights               *int64     `parquet:"minimum_nights,optional"`
	NumberOfReviews             *int64     `parquet:"number_of_reviews,optional"`
	LastReview                  *time.Time `parquet:"last_review,optional"`
	ReviewsPerMonth             *float64   `parquet:"reviews_per_month,optional"`
	CalculatedHostListingsCount *int64     `parquet:"calculated_host_listings_count,optional"`
	Availability365             *int64     `parquet:"availability_365,optional"`

	// Derived by the transformer.
	PriceRange     string  `parquet:"price_range"`
	PricePerReview float64 `parquet:"price_per_review"`

	// RawLastReview is the unparsed last_review cell as read from the input.
	RawLastReview string `parquet:"-"`
}

// Price ranges.
const (
	PriceBudget   = "budget"
	PriceMidrange = "midrange"
	PriceLuxury   = "luxury"
)

type Column struct {
	Name     string
	Type     string // warehouse type
	Nullable bool
	Required bool // must appear in the input header
	Derived  bool
	value    func(*Listing) any
}

// Value returns the column's value for l, or nil when it is null.
func (c Column) Value(l *Listing) any {
	return c.value(l)
}

// TableSchema describes the listings table.
type TableSchema struct {
	Name    string
	Columns []Column
}

// Listings is the schema of every listings table the job reads or writes.
var Listings = TableSchema{
	Name: "listings",
	Columns: []Column{
		{Name: "id", Type: "BIGINT", Required: true, value: func(l *Listing) any { return l.ID }},
		{Name: "name", Type: "TEXT", Nullable: true, value: func(l *Listing) any { return l.Name }},
		{Name: "host_id", Type: "BIGINT", Nullable: true, value: func(l *Listing) any { return nullable(l.HostID) }},
		{Name: "host_name", Type: "TEXT", Nullable: true, value: func(l *Listing) any { return l.HostName }},
		{Name: "neighbourhood_group", Type: "TEXT", Nullable: true, Required: true, value: func(l *Listing) any { return l.NeighbourhoodGroup }},
		{Name: "neighbourhood", Type: "TEXT", Nullable: true, value: func(l *Listing) any { return l.Neighbourhood }},
		{Name: "latitude", Type: "DOUBLE PRECISION", Nullable: true, Required: true, value: func(l *Listing) any { return nullable(l.Latitude) }},
		{Name: "longitude", Type: "DOUBLE PRECISION", Nullable: true, Required: true, value: func(l *Listing) any { return nullable(l.Longitude) }},
		{Name: "room_type", Type: "TEXT", Nullable: true, Required: true, value: func(l *Listing) any { return l.RoomType }},
		{Name: "price", Type: "DOUBLE PRECISION", Nullable: true, Required: true, value: func(l *Listing) any { return nullable(l.Price) }},
		{Name: "minimum_nights", Type: "BIGINT", Nullable: true, Required: true, value: func(l *Listing) any { return nullable(l.MinimumNights) }},
		{Name: "number_of_reviews", Type: "BIGINT", Nullable: true, value: func(l *Listing) any { return nullable(l.NumberOfReviews) }},
		{Name: "last_review", Type: "DATE", Nullable: true, Required: true, value: func(l *Listing) any { return nullable(l.LastReview) }},
		{Name: "reviews_per_month", Type: "DOUBLE PRECISION", Nullable: true, Required: true, value: func(l *Listing) any { return nullable(l.ReviewsPerMonth) }},
		{Name: "calculated_host_listings_count", Type: "BIGINT", Nullable: true, value: func(l *Listing) any { return nullable(l.CalculatedHostListingsCount) }},
		{Name: "availability_365", Type: "BIGINT", Nullable: true, Required: true, value: func(l *Listing) any { return nullable(l.Availability365) }},
		{Name: "price_range", Type: "TEXT", Derived: true, value: func(l *Listing) any { return l.PriceRange }},
		{Name: "price_per_review", Type: "DOUBLE PRECISION", Derived: true, value: func(l *Listing) any { return l.PricePerReview }},
	},
}

// Column looks up a column by name.
func (s TableSchema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Names returns the column names in table order.
func (s TableSchema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Row returns l's values in column order, nil for nulls.
func (s TableSchema) Row(l *Listing) []any {
	row := make([]any, len(s.Columns))
	for i, c := range s.Columns {
		row[i] = c.value(l)
	}
	return row
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

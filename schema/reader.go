package schema

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"listings-etl/apperr"
)

const utf8BOM = "\uFEFF"

// ReadFile parses a listings CSV file.
func ReadFile(path string) ([]Listing, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	listings, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return listings, nil
}

// Read parses CSV with a header row into listings. Columns are matched by
// header name. Empty or unparseable optional cells become null; a missing
// required column, a bad id or a file with at most one data row is malformed.
func Read(r io.Reader) ([]Listing, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file", apperr.ErrMalformed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", apperr.ErrMalformed, err)
	}

	idx, err := indexHeader(header)
	if err != nil {
		return nil, err
	}

	var listings []Listing
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return nil, fmt.Errorf("%w: %v", apperr.ErrMalformed, err)
			}
			return nil, fmt.Errorf("reading line %d: %w", line, err)
		}

		l, err := idx.parse(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", apperr.ErrMalformed, line, err)
		}
		listings = append(listings, l)
	}

	if len(listings) <= 1 {
		return nil, fmt.Errorf("%w: %d data rows, need at least 2", apperr.ErrMalformed, len(listings))
	}
	return listings, nil
}

// headerIndex maps column name to record position, -1 when absent.
type headerIndex map[string]int

func indexHeader(header []string) (headerIndex, error) {
	idx := make(headerIndex, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}

	var missing []string
	for _, c := range Listings.Columns {
		if !c.Required {
			continue
		}
		if _, ok := idx[c.Name]; !ok {
			missing = append(missing, c.Name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", apperr.ErrMalformed, strings.Join(missing, ", "))
	}
	return idx, nil
}

func (h headerIndex) cell(rec []string, name string) string {
	i, ok := h[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func (h headerIndex) parse(rec []string) (Listing, error) {
	rawID := h.cell(rec, "id")
	id, ok := parseInt(rawID)
	if !ok {
		return Listing{}, fmt.Errorf("invalid id %q", rawID)
	}

	return Listing{
		ID:                          *id,
		Name:                        h.cell(rec, "name"),
		HostID:                      optInt(h.cell(rec, "host_id")),
		HostName:                    h.cell(rec, "host_name"),
		NeighbourhoodGroup:          h.cell(rec, "neighbourhood_group"),
		Neighbourhood:               h.cell(rec, "neighbourhood"),
		Latitude:                    optFloat(h.cell(rec, "latitude")),
		Longitude:                   optFloat(h.cell(rec, "longitude")),
		RoomType:                    h.cell(rec, "room_type"),
		Price:                       optFloat(h.cell(rec, "price")),
		MinimumNights:               optInt(h.cell(rec, "minimum_nights")),
		NumberOfReviews:             optInt(h.cell(rec, "number_of_reviews")),
		RawLastReview:               h.cell(rec, "last_review"),
		ReviewsPerMonth:             optFloat(h.cell(rec, "reviews_per_month")),
		CalculatedHostListingsCount: optInt(h.cell(rec, "calculated_host_listings_count")),
		Availability365:             optInt(h.cell(rec, "availability_365")),
	}, nil
}

func optFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func optInt(s string) *int64 {
	v, _ := parseInt(s)
	return v
}

// parseInt accepts integers and whole-valued decimals such as "3.0".
func parseInt(s string) (*int64, bool) {
	if s == "" {
		return nil, false
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &v, true
	}
	f := optFloat(s)
	if f == nil || *f != math.Trunc(*f) || math.Abs(*f) >= math.MaxInt64 {
		return nil, false
	}
	v := int64(*f)
	return &v, true
}

package transform

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listings-etl/schema"
	"listings-etl/testutil"
)

func listing(id int64, price *float64, date string, rpm *float64) schema.Listing {
	return schema.Listing{
		ID:                 id,
		NeighbourhoodGroup: "Brooklyn",
		Latitude:           testutil.Ptr(40.7),
		Longitude:          testutil.Ptr(-73.9),
		Price:              price,
		RawLastReview:      date,
		ReviewsPerMonth:    rpm,
		MinimumNights:      testutil.Ptr(int64(1)),
		Availability365:    testutil.Ptr(int64(365)),
	}
}

func TestTransform_DropsNonPositivePrice(t *testing.T) {
	var rows []string
	for i := 1; i <= 10; i++ {
		price := "150"
		if i == 3 {
			price = "0"
		}
		if i == 7 {
			price = "-20"
		}
		rows = append(rows, testutil.Row(i, "Manhattan", price, "2019-05-01", "1.2"))
	}
	in, err := schema.Read(strings.NewReader(testutil.Header + "\n" + strings.Join(rows, "\n")))
	require.NoError(t, err)

	res := New(testutil.NewLogger(t)).Transform(in)

	assert.Len(t, res.Listings, 8)
	assert.Equal(t, 10, res.Stats.Input)
	assert.Equal(t, 2, res.Stats.DroppedPrice)
	assert.Equal(t, 8, res.Stats.Expected())
	for _, l := range res.Listings {
		require.NotNil(t, l.Price)
		assert.Greater(t, *l.Price, 0.0)
	}
}

func TestTransform_OutputGuarantees(t *testing.T) {
	in := []schema.Listing{
		listing(1, testutil.Ptr(50.0), "2019-06-01", testutil.Ptr(2.0)),
		listing(2, nil, "2019-06-01", nil),
		listing(3, testutil.Ptr(500.0), "", nil),
		listing(4, testutil.Ptr(250.0), "garbage", testutil.Ptr(0.333)),
		listing(5, testutil.Ptr(99.0), "2018-01-15", testutil.Ptr(1.0)),
	}
	in[4].Latitude = nil
	in[2].Longitude = nil

	res := New(nil).Transform(in)

	require.Len(t, res.Listings, 2)
	assert.Equal(t, int64(1), res.Listings[0].ID)
	assert.Equal(t, int64(4), res.Listings[1].ID)
	assert.Equal(t, 1, res.Stats.DroppedPrice)
	assert.Equal(t, 2, res.Stats.DroppedGeo)
	assert.Equal(t, res.Stats.Expected(), res.Stats.Output)

	for _, l := range res.Listings {
		assert.NotNil(t, l.Latitude)
		assert.NotNil(t, l.Longitude)
		assert.NotNil(t, l.LastReview)
		assert.NotNil(t, l.ReviewsPerMonth)
	}

	// earliest valid date in the priced batch is 2018-01-15, from a row later dropped for geo
	assert.Equal(t, "2018-01-15", res.Listings[1].LastReview.Format(DateLayout))
	assert.Equal(t, 0.33, *res.Listings[1].ReviewsPerMonth)
	assert.Equal(t, schema.PriceMidrange, res.Listings[1].PriceRange)
	assert.InDelta(t, 250.0/0.33, res.Listings[1].PricePerReview, 1e-9)

	assert.Equal(t, schema.PriceBudget, res.Listings[0].PriceRange)
	assert.Equal(t, 25.0, res.Listings[0].PricePerReview)

	assert.Equal(t, "", in[0].PriceRange, "input must not be modified")
	assert.Nil(t, in[0].LastReview)
}

func TestTransform_FillCountsExcludeDroppedRows(t *testing.T) {
	in := []schema.Listing{
		listing(1, testutil.Ptr(80.0), "", nil),
		listing(2, testutil.Ptr(90.0), "", nil),
		listing(3, testutil.Ptr(70.0), "2019-03-02", testutil.Ptr(1.5)),
		listing(4, nil, "", nil),
	}
	in[1].Latitude = nil

	res := New(nil).Transform(in)

	require.Len(t, res.Listings, 2)
	assert.Equal(t, 1, res.Stats.DroppedPrice)
	assert.Equal(t, 1, res.Stats.DroppedGeo)
	assert.Equal(t, 1, res.Stats.DatesFilled)
	assert.Equal(t, 1, res.Stats.RPMFilled)
	assert.Equal(t, "2019-03-02", res.Listings[0].LastReview.Format(DateLayout))
}

func TestTransform_AllDatesNull(t *testing.T) {
	in := []schema.Listing{
		listing(1, testutil.Ptr(10.0), "", nil),
		listing(2, testutil.Ptr(20.0), "bad", nil),
	}

	for i := 0; i < 2; i++ {
		res := New(nil).Transform(in)
		assert.True(t, res.Stats.DateFallback)
		assert.True(t, res.Stats.EarliestDate.Equal(EpochFallback))
		for _, l := range res.Listings {
			require.NotNil(t, l.LastReview)
			assert.True(t, l.LastReview.Equal(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)))
			assert.Equal(t, 0.0, *l.ReviewsPerMonth)
			assert.Equal(t, 0.0, l.PricePerReview)
		}
	}
}

func TestTransform_Empty(t *testing.T) {
	res := New(nil).Transform(nil)
	assert.Empty(t, res.Listings)
	assert.Equal(t, 0, res.Stats.Expected())
}

func TestPriceRange(t *testing.T) {
	tests := []struct {
		price float64
		want  string
	}{
		{1, schema.PriceBudget},
		{100, schema.PriceBudget},
		{100.01, schema.PriceMidrange},
		{300, schema.PriceMidrange},
		{300.5, schema.PriceLuxury},
		{10000, schema.PriceLuxury},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PriceRange(tt.price), "price %v", tt.price)
	}
}

func TestPricePerReview(t *testing.T) {
	assert.Equal(t, 0.0, PricePerReview(200, 0))
	assert.Equal(t, 100.0, PricePerReview(200, 2))
}

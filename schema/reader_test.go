package schema

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listings-etl/apperr"
	"listings-etl/testutil"
)

func TestRead(t *testing.T) {
	in := testutil.Header + "\n" +
		`2539,"Clean & quiet apt, home",2787,John,Brooklyn,Kensington,40.64749,-73.97237,Private room,149,1,9,2018-10-19,0.21,6,365` + "\n" +
		`3647,THE VILLAGE OF HARLEM,4632,Elisabeth,Manhattan,Harlem,40.80902,-73.9419,Private room,150,3,0,,,1,365` + "\n"

	listings, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, listings, 2)

	l := listings[0]
	assert.Equal(t, int64(2539), l.ID)
	assert.Equal(t, "Clean & quiet apt, home", l.Name)
	assert.Equal(t, "Brooklyn", l.NeighbourhoodGroup)
	require.NotNil(t, l.Price)
	assert.Equal(t, 149.0, *l.Price)
	require.NotNil(t, l.Latitude)
	assert.InDelta(t, 40.64749, *l.Latitude, 1e-9)
	assert.Equal(t, "2018-10-19", l.RawLastReview)
	require.NotNil(t, l.ReviewsPerMonth)
	assert.Equal(t, 0.21, *l.ReviewsPerMonth)
	assert.Nil(t, l.LastReview, "dates are parsed by the transformer")

	h := listings[1]
	assert.Equal(t, "", h.RawLastReview)
	assert.Nil(t, h.ReviewsPerMonth)
	require.NotNil(t, h.NumberOfReviews)
	assert.Equal(t, int64(0), *h.NumberOfReviews)
}

func TestRead_BOMAndColumnOrder(t *testing.T) {
	in := "\uFEFFprice,ID,latitude,longitude,neighbourhood_group,room_type,last_review,reviews_per_month,minimum_nights,availability_365\n" +
		"10,1,40.1,-73.1,Queens,Shared room,2019-01-01,1.5,1,30\n" +
		"abc,2,,-73.2,Queens,Shared room,not-a-date,x,2.0,\n"

	listings, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, listings, 2)

	assert.Equal(t, int64(1), listings[0].ID)
	assert.Equal(t, 10.0, *listings[0].Price)

	second := listings[1]
	assert.Nil(t, second.Price, "unparseable numbers become null")
	assert.Nil(t, second.Latitude)
	assert.Nil(t, second.ReviewsPerMonth)
	assert.Nil(t, second.Availability365)
	require.NotNil(t, second.MinimumNights)
	assert.Equal(t, int64(2), *second.MinimumNights)
	assert.Equal(t, "not-a-date", second.RawLastReview)
}

func TestRead_Malformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"missing columns", "id,name\n1,a\n2,b\n"},
		{"bad id", testutil.Header + "\n" + testutil.Row(1, "Bronx", "10", "", "") + "\n" + strings.Replace(testutil.Row(2, "Bronx", "10", "", ""), "2,", "x,", 1) + "\n"},
		{"single row", testutil.Header + "\n" + testutil.Row(1, "Bronx", "10", "", "") + "\n"},
		{"ragged", testutil.Header + "\n" + testutil.Row(1, "Bronx", "10", "", "") + "\n1,2,3\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrMalformed), "got %v", err)
			assert.Equal(t, apperr.KindPermanent, apperr.KindOf(err))
		})
	}
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile("/does/not/exist.csv")
	require.Error(t, err)
	assert.Equal(t, apperr.KindRetryable, apperr.KindOf(err))
}

func TestTableSchema(t *testing.T) {
	price := 120.0
	l := &Listing{ID: 7, Price: &price, PriceRange: PriceMidrange}

	col, ok := Listings.Column("price")
	require.True(t, ok)
	assert.Equal(t, 120.0, col.Value(l))

	col, ok = Listings.Column("latitude")
	require.True(t, ok)
	assert.Nil(t, col.Value(l))

	_, ok = Listings.Column("nope")
	assert.False(t, ok)

	row := Listings.Row(l)
	require.Len(t, row, len(Listings.Columns))
	assert.Equal(t, int64(7), row[0])
	assert.Equal(t, "id", Listings.Names()[0])
	assert.Equal(t, "price_per_review", Listings.Names()[len(Listings.Columns)-1])
}

func TestParseInt(t *testing.T) {
	v, ok := parseInt("3.0")
	require.True(t, ok)
	assert.Equal(t, int64(3), *v)

	v, ok = parseInt("-12")
	require.True(t, ok)
	assert.Equal(t, int64(-12), *v)

	for _, s := range []string{"", "2.5", "abc", "9223372036854775808.0", "-9223372036854775808.0", "1e19"} {
		v, ok := parseInt(s)
		assert.False(t, ok, s)
		assert.Nil(t, v, s)
	}
}

package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Header is the column layout of the NYC listings dataset.
const Header = "id,name,host_id,host_name,neighbourhood_group,neighbourhood,latitude,longitude,room_type,price,minimum_nights,number_of_reviews,last_review,reviews_per_month,calculated_host_listings_count,availability_365"

// Row renders one CSV line with sensible defaults for the columns a test does
// not care about.
func Row(id int, group string, price string, lastReview string, rpm string) string {
	return fmt.Sprintf("%d,Listing %d,%d,Host,%s,Somewhere,40.7%d,-73.9%d,Private room,%s,2,5,%s,%s,1,120",
		id, id, 1000+id, group, id, id, price, lastReview, rpm)
}

// WriteCSV writes header plus rows to dir/name and returns the path.
func WriteCSV(t testing.TB, dir, name string, rows ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	body := Header + "\n" + strings.Join(rows, "\n") + "\n"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("creating %s: %v", dir, err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

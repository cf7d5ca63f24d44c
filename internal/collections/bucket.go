package collections

import "time"

// Bucket is the time window that groups items for display and quota counting.
type Bucket int

const (
	// BucketDay groups items by calendar day.
	BucketDay Bucket = iota
	// BucketYear groups items by calendar year.
	BucketYear
)

func (b Bucket) String() string {
	if b == BucketYear {
		return "year"
	}
	return "day"
}

// Key renders the bucket containing instant in location. Time of day is discarded.
func (b Bucket) Key(instant time.Time, location *time.Location) string {
	if location == nil {
		location = time.UTC
	}
	local := instant.In(location)
	if b == BucketYear {
		return local.Format("2006")
	}
	return local.Format("2006-01-02")
}

// Contains reports whether both instants fall into the same bucket.
func (b Bucket) Contains(anchor, instant time.Time, location *time.Location) bool {
	return b.Key(anchor, location) == b.Key(instant, location)
}

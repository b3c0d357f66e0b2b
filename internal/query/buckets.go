package query

import (
	"fmt"
	"time"
)

// DateBucket names a relative date range filter.
type DateBucket string

const (
	BucketToday     DateBucket = "today"
	BucketYesterday DateBucket = "yesterday"
	BucketThisWeek  DateBucket = "this-week"
	BucketLastWeek  DateBucket = "last-week"
	BucketThisMonth DateBucket = "this-month"
	BucketLastMonth DateBucket = "last-month"
	BucketThisYear  DateBucket = "this-year"
	BucketLastYear  DateBucket = "last-year"
	BucketAll       DateBucket = "all"
)

// ParseDateBucket validates a bucket name. The empty string means "all".
func ParseDateBucket(s string) (DateBucket, error) {
	switch DateBucket(s) {
	case "", BucketAll:
		return BucketAll, nil
	case BucketToday, BucketYesterday, BucketThisWeek, BucketLastWeek,
		BucketThisMonth, BucketLastMonth, BucketThisYear, BucketLastYear:
		return DateBucket(s), nil
	}
	return "", fmt.Errorf("unknown date bucket %q", s)
}

// Range resolves the bucket to a half-open interval [from, to) relative to
// now. Weeks start on Monday. The second return is false for BucketAll, which
// is unbounded.
func (b DateBucket) Range(now time.Time) (time.Time, time.Time, bool) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch b {
	case BucketToday:
		return day, day.AddDate(0, 0, 1), true
	case BucketYesterday:
		return day.AddDate(0, 0, -1), day, true
	case BucketThisWeek:
		start := startOfWeek(day)
		return start, start.AddDate(0, 0, 7), true
	case BucketLastWeek:
		start := startOfWeek(day).AddDate(0, 0, -7)
		return start, start.AddDate(0, 0, 7), true
	case BucketThisMonth:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 1, 0), true
	case BucketLastMonth:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -1, 0)
		return start, start.AddDate(0, 1, 0), true
	case BucketThisYear:
		start := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
		return start, start.AddDate(1, 0, 0), true
	case BucketLastYear:
		start := time.Date(now.Year()-1, 1, 1, 0, 0, 0, 0, now.Location())
		return start, start.AddDate(1, 0, 0), true
	}
	return time.Time{}, time.Time{}, false
}

// Contains reports whether t falls in the bucket relative to now.
func (b DateBucket) Contains(t, now time.Time) bool {
	from, to, bounded := b.Range(now)
	if !bounded {
		return true
	}
	return !t.Before(from) && t.Before(to)
}

func startOfWeek(day time.Time) time.Time {
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return day.AddDate(0, 0, 1-weekday)
}

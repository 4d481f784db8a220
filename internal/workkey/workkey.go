package workkey

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Key is one unit of query scope. Keys are immutable once generated.
type Key interface {
	// ID is stable across runs and safe to use in file names.
	ID() string
}

// Date is a single calendar day, used by hearing-date searches.
type Date struct {
	Day time.Time
}

// NewDate truncates t to its calendar day in UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Day: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) ID() string { return d.Day.Format("2006-01-02") }

// Format renders the day using a site-specific layout, e.g. "01/02/2006".
func (d Date) Format(layout string) string { return d.Day.Format(layout) }

// County identifies a county the way report sites number them (1-based).
type County struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
}

// CountyMonth is one county's report for one calendar month.
type CountyMonth struct {
	County County
	Year   int
	Month  time.Month
}

func (c CountyMonth) ID() string {
	return fmt.Sprintf("%s-%04d-%02d", c.County.Name, c.Year, int(c.Month))
}

const (
	minYear = 1900
	maxYear = 2100
)

// Years returns the inclusive range from..to, ascending. An inverted range
// yields nil.
func Years(from, to int) []int {
	if to < from {
		return nil
	}
	out := make([]int, 0, to-from+1)
	for y := from; y <= to; y++ {
		out = append(out, y)
	}
	return out
}

// Weekdays returns every Monday through Friday of the given years in
// ascending order, minus any holidays. Years are deduplicated. Years outside
// the supported range are skipped and reported through the returned error;
// the keys for the valid years are still returned.
func Weekdays(years []int, holidays ...time.Time) ([]Key, error) {
	valid, errs := cleanYears(years)

	skip := make(map[string]struct{}, len(holidays))
	for _, h := range holidays {
		skip[h.Format("2006-01-02")] = struct{}{}
	}

	var keys []Key
	for _, y := range valid {
		for d := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC); d.Year() == y; d = d.AddDate(0, 0, 1) {
			if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
				continue
			}
			if _, ok := skip[d.Format("2006-01-02")]; ok {
				continue
			}
			keys = append(keys, Date{Day: d})
		}
	}
	return keys, errors.Join(errs...)
}

// CountyMonths returns the cartesian product county x year x month ordered
// by county ID, then year, then month. Duplicate counties (by ID) and years
// are collapsed. Invalid counties and years are skipped and reported.
func CountyMonths(counties []County, years []int) ([]Key, error) {
	valid, errs := cleanYears(years)

	seen := make(map[int]struct{}, len(counties))
	cs := make([]County, 0, len(counties))
	for _, c := range counties {
		if c.ID <= 0 || c.Name == "" {
			errs = append(errs, fmt.Errorf("invalid county %d %q", c.ID, c.Name))
			continue
		}
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		cs = append(cs, c)
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })

	keys := make([]Key, 0, len(cs)*len(valid)*12)
	for _, c := range cs {
		for _, y := range valid {
			for m := time.January; m <= time.December; m++ {
				keys = append(keys, CountyMonth{County: c, Year: y, Month: m})
			}
		}
	}
	return keys, errors.Join(errs...)
}

func cleanYears(years []int) ([]int, []error) {
	var errs []error
	seen := make(map[int]struct{}, len(years))
	out := make([]int, 0, len(years))
	for _, y := range years {
		if y < minYear || y > maxYear {
			errs = append(errs, fmt.Errorf("year %d out of range [%d, %d]", y, minYear, maxYear))
			continue
		}
		if _, ok := seen[y]; ok {
			continue
		}
		seen[y] = struct{}{}
		out = append(out, y)
	}
	sort.Ints(out)
	return out, errs
}

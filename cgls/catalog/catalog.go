// Package catalog holds the in-memory, date-sorted table of observation
// records for one product collection and resolves date selectors into
// concrete download tasks.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/example/go-cgls/cgls/download"
	"github.com/example/go-cgls/cgls/manifest"
)

var (
	// ErrEmptyCatalog is returned when an operation needs records and the
	// catalog (or the filtered view of it) has none.
	ErrEmptyCatalog = errors.New("catalog: no records")
	// ErrDateOutOfRange is returned when a requested date lies outside the
	// catalog's valid period.
	ErrDateOutOfRange = errors.New("catalog: date outside the valid range")
	// ErrInvalidRange is returned for inverted or degenerate date intervals.
	ErrInvalidRange = errors.New("catalog: invalid date interval")
)

// Catalog is the parsed observation table for one product collection. It
// lives only for the duration of the process and is not safe for concurrent
// use; resolve it into download tasks before starting concurrent work.
type Catalog struct {
	name     string
	records  []manifest.Record
	realTime bool

	sensors  []string
	versions []string
	tags     []string
}

// New builds a catalog over records already sorted by manifest.Parse. The
// real-time dimension exists iff any record is a real-time release.
func New(name string, records []manifest.Record) *Catalog {
	c := &Catalog{name: name, records: records}
	for _, rec := range records {
		if rec.IsRealTime() {
			c.realTime = true
			break
		}
	}
	return c
}

// Name returns the product collection name.
func (c *Catalog) Name() string {
	return c.name
}

// Len returns the number of records in the catalog.
func (c *Catalog) Len() int {
	return len(c.records)
}

// HasRealTime reports whether the collection carries real-time releases.
func (c *Catalog) HasRealTime() bool {
	return c.realTime
}

// DateRange returns the first and last observation dates.
func (c *Catalog) DateRange() (time.Time, time.Time, error) {
	if len(c.records) == 0 {
		return time.Time{}, time.Time{}, ErrEmptyCatalog
	}
	return c.records[0].Date, c.records[len(c.records)-1].Date, nil
}

// Sensors returns the distinct sensors in first-appearance order.
func (c *Catalog) Sensors() []string {
	if c.sensors == nil {
		c.sensors = distinct(c.records, func(r manifest.Record) string { return r.Sensor })
	}
	return c.sensors
}

// AlgorithmVersions returns the distinct algorithm versions in
// first-appearance order.
func (c *Catalog) AlgorithmVersions() []string {
	if c.versions == nil {
		c.versions = distinct(c.records, func(r manifest.Record) string { return r.Version })
	}
	return c.versions
}

// RealTimeTags returns the distinct real-time tags, or nil when the
// collection has no real-time dimension.
func (c *Catalog) RealTimeTags() []string {
	if !c.realTime {
		return nil
	}
	if c.tags == nil {
		c.tags = distinct(c.records, func(r manifest.Record) string { return r.RealTimeTag })
	}
	return c.tags
}

// Summary renders a human-readable projection of the catalog.
func (c *Catalog) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product name:      %s\n", c.name)
	fmt.Fprintf(&b, "Sensors:           %s\n", strings.Join(c.Sensors(), ", "))
	if start, end, err := c.DateRange(); err == nil {
		fmt.Fprintf(&b, "Valid time period: [%s : %s]\n",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	} else {
		b.WriteString("Valid time period: (empty)\n")
	}
	fmt.Fprintf(&b, "Algorithms:        %s\n", strings.Join(c.AlgorithmVersions(), ", "))
	if tags := c.RealTimeTags(); tags != nil {
		fmt.Fprintf(&b, "RT list:           %s\n", strings.Join(tags, ", "))
	}
	return b.String()
}

// Resolve maps a date selector onto download tasks, in resolution order.
//
// For real-time collections the tag filter (or, absent a tag, the
// keep-most-recent-per-date collapse) is applied before any date lookup,
// for every selector kind.
func (c *Catalog) Resolve(sel Selector, opts ...ResolveOption) ([]download.Task, error) {
	var o resolveOptions
	for _, opt := range opts {
		opt(&o)
	}

	view, err := c.view(o)
	if err != nil {
		return nil, err
	}

	var picked []manifest.Record
	switch sel.kind {
	case selectLatest:
		picked = []manifest.Record{view[len(view)-1]}

	case selectSingle, selectMany:
		for _, date := range sel.dates {
			i, err := floor(view, date)
			if err != nil {
				return nil, err
			}
			picked = append(picked, view[i])
		}

	case selectSpan:
		if !sel.start.Before(sel.end) {
			return nil, fmt.Errorf("%w: start %s, end %s", ErrInvalidRange,
				sel.start.Format("2006-01-02"), sel.end.Format("2006-01-02"))
		}
		if !within(view, sel.start) && !within(view, sel.end) {
			return nil, fmt.Errorf("%w: [%s, %s]", ErrDateOutOfRange,
				sel.start.Format("2006-01-02"), sel.end.Format("2006-01-02"))
		}
		lo, err := floor(view, sel.start)
		if errors.Is(err, ErrDateOutOfRange) {
			lo = 0 // start precedes the catalog: the interval begins at the first record
		} else if err != nil {
			return nil, err
		}
		hi, err := floor(view, sel.end)
		if errors.Is(err, ErrDateOutOfRange) {
			hi = len(view) - 1 // end exceeds the catalog: the interval runs to the last record
		} else if err != nil {
			return nil, err
		}
		picked = view[lo : hi+1]
	}

	tasks := make([]download.Task, 0, len(picked))
	for _, rec := range picked {
		tasks = append(tasks, download.Task{
			URL:      rec.URL,
			FileName: rec.FileName,
			SubPath:  rec.SubPath,
		})
	}
	return tasks, nil
}

// view applies the real-time dimension handling on a copy, leaving the
// catalog's own table untouched.
func (c *Catalog) view(o resolveOptions) ([]manifest.Record, error) {
	if len(c.records) == 0 {
		return nil, ErrEmptyCatalog
	}
	if !c.realTime {
		return c.records, nil
	}

	if o.realTimeTag != "" {
		var filtered []manifest.Record
		for _, rec := range c.records {
			if rec.RealTimeTag == o.realTimeTag {
				filtered = append(filtered, rec)
			}
		}
		if len(filtered) == 0 {
			return nil, fmt.Errorf("%w: no records with real-time tag %q", ErrEmptyCatalog, o.realTimeTag)
		}
		return filtered, nil
	}

	if o.keepAllRealTime {
		return c.records, nil
	}

	// Keep, per date, the most recently listed record.
	byDate := make(map[time.Time]int)
	var collapsed []manifest.Record
	for _, rec := range c.records {
		if i, ok := byDate[rec.Date]; ok {
			collapsed[i] = rec
			continue
		}
		byDate[rec.Date] = len(collapsed)
		collapsed = append(collapsed, rec)
	}
	return collapsed, nil
}

// floor returns the index of the latest record whose date does not exceed
// the requested date. Dates outside [first, last] fail.
func floor(view []manifest.Record, date time.Time) (int, error) {
	if !within(view, date) {
		return 0, fmt.Errorf("%w: %s not in [%s, %s]", ErrDateOutOfRange,
			date.Format("2006-01-02"),
			view[0].Date.Format("2006-01-02"),
			view[len(view)-1].Date.Format("2006-01-02"))
	}
	// First record strictly after the date; the floor sits just before it.
	i := sort.Search(len(view), func(i int) bool {
		return view[i].Date.After(date)
	})
	return i - 1, nil
}

func within(view []manifest.Record, date time.Time) bool {
	return !date.Before(view[0].Date) && !date.After(view[len(view)-1].Date)
}

func distinct(records []manifest.Record, key func(manifest.Record) string) []string {
	seen := make(map[string]struct{})
	values := make([]string, 0, 4)
	for _, rec := range records {
		v := key(rec)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}
	return values
}

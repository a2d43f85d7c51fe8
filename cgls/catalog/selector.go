package catalog

import "time"

type selectorKind int

const (
	selectLatest selectorKind = iota
	selectSingle
	selectMany
	selectSpan
)

// Selector describes which observation dates a Resolve call should match.
// Construct one with Latest, On, Dates or Between.
type Selector struct {
	kind  selectorKind
	dates []time.Time
	start time.Time
	end   time.Time
}

// Latest selects the chronologically last record.
func Latest() Selector {
	return Selector{kind: selectLatest}
}

// On selects the record at the given date, falling back to the nearest
// earlier record.
func On(date time.Time) Selector {
	return Selector{kind: selectSingle, dates: []time.Time{date}}
}

// Dates selects one record per given date, each resolved independently like
// On.
func Dates(dates ...time.Time) Selector {
	return Selector{kind: selectMany, dates: append([]time.Time(nil), dates...)}
}

// Between selects every record from the floor of start through the floor of
// end, inclusive. The interval must be non-empty and non-degenerate.
func Between(start, end time.Time) Selector {
	return Selector{kind: selectSpan, start: start, end: end}
}

// ResolveOption adjusts how real-time collections are resolved.
type ResolveOption func(*resolveOptions)

type resolveOptions struct {
	realTimeTag     string
	keepAllRealTime bool
}

// WithRealTimeTag restricts resolution to records carrying the given
// real-time tag (e.g. "RT0"). Without it, real-time collections collapse to
// the most recently listed record per date.
func WithRealTimeTag(tag string) ResolveOption {
	return func(o *resolveOptions) {
		o.realTimeTag = tag
	}
}

// WithAllRealTimeRecords disables the per-date collapse, resolving against
// every listed real-time release.
func WithAllRealTimeRecords() ResolveOption {
	return func(o *resolveOptions) {
		o.keepAllRealTime = true
	}
}

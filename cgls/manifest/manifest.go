// Package manifest parses the plain-text file manifests published by the
// Copernicus Global Land Service portal. Each manifest line is the absolute
// URL of one observation file; the directory layout encodes the product
// name, sensor, algorithm version and observation date.
package manifest

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

var datePattern = regexp.MustCompile(`\d{4}/\d{2}/\d{2}`)

// subPathSegments is how many trailing path segments, filename excluded,
// make up a record's local sub-path.
const subPathSegments = 7

// Record is one observation file derived from one manifest line.
type Record struct {
	// Name is the product directory name, e.g.
	// NDVI_202001050000_GLOBE_PROBAV_V3.0.1.
	Name string
	// SubPath is the local directory layout mirrored from the source,
	// joined with the platform path separator.
	SubPath string
	// FileName is the final path segment.
	FileName string
	// URL is the manifest line verbatim.
	URL string
	// Sensor is the second-to-last underscore token of Name.
	Sensor string
	// Version is the last five characters of the last underscore token.
	Version string
	// RealTimeTag is set only for real-time releases (Name contains "-RT"):
	// the last three characters of the first underscore token, e.g. "RT0".
	RealTimeTag string
	// Date is the observation date encoded in the directory layout.
	Date time.Time
}

// IsRealTime reports whether the record is a provisional real-time release.
func (r Record) IsRealTime() bool {
	return r.RealTimeTag != ""
}

// FormatError describes a manifest line that cannot be parsed. Any such
// line invalidates the whole manifest: no partial catalog is built.
type FormatError struct {
	LineNo int
	Line   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("manifest: line %d: %s: %q", e.LineNo, e.Reason, e.Line)
}

// Parse converts the full manifest text into records sorted ascending by
// date. When any record is a real-time release, records sharing a date are
// tie-broken by ascending real-time tag. The final line of the manifest is
// an artifact terminator and is ignored.
func Parse(text string) ([]Record, error) {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}

	records := make([]Record, 0, len(lines))
	realTime := false
	for i, line := range lines {
		rec, err := parseLine(i+1, line)
		if err != nil {
			return nil, err
		}
		if rec.IsRealTime() {
			realTime = true
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if realTime && records[i].Date.Equal(records[j].Date) {
			return records[i].RealTimeTag < records[j].RealTimeTag
		}
		return records[i].Date.Before(records[j].Date)
	})

	return records, nil
}

func parseLine(lineNo int, line string) (Record, error) {
	match := datePattern.FindString(line)
	if match == "" {
		return Record{}, &FormatError{LineNo: lineNo, Line: line, Reason: "no observation date"}
	}
	date, err := time.Parse("2006/01/02", match)
	if err != nil {
		return Record{}, &FormatError{LineNo: lineNo, Line: line, Reason: "invalid observation date"}
	}

	segments := strings.Split(line, "/")
	if len(segments) < 2 {
		return Record{}, &FormatError{LineNo: lineNo, Line: line, Reason: "not a file path"}
	}
	name := segments[len(segments)-2]
	fileName := segments[len(segments)-1]

	start := len(segments) - 1 - subPathSegments
	if start < 0 {
		start = 0
	}
	subPath := filepath.Join(segments[start : len(segments)-1]...)

	tokens := strings.Split(name, "_")
	if len(tokens) < 2 {
		return Record{}, &FormatError{LineNo: lineNo, Line: line, Reason: "unrecognized product name"}
	}
	sensor := tokens[len(tokens)-2]
	version := tokens[len(tokens)-1]
	if len(version) > 5 {
		version = version[len(version)-5:]
	}

	rec := Record{
		Name:     name,
		SubPath:  subPath,
		FileName: fileName,
		URL:      line,
		Sensor:   sensor,
		Version:  version,
		Date:     date,
	}
	if strings.Contains(name, "-RT") {
		first := tokens[0]
		if len(first) > 3 {
			first = first[len(first)-3:]
		}
		rec.RealTimeTag = first
	}
	return rec, nil
}

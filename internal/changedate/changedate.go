// Package changedate derives the declared change instant of a source record.
//
// The declared change instant is what the tracker compares against the stored
// last_record_change. Sources are tried in order of precision:
//
//  1. A precise modification stamp, yyyyMMddHHmmss with an optional
//     fractional second (MARC 005 style, e.g. "20200101120000.0").
//  2. A coarse creation/modification date, the first six characters as
//     yyMMdd (MARC 008 style, e.g. "200101").
//  3. The epoch, so a record with no usable date always compares as changed
//     against genuine data.
//
// Parse failures never surface as errors; they fall through to the next
// source. All instants are UTC.
package changedate

import (
	"strings"
	"time"
)

const (
	preciseLayout = "20060102150405"
	coarseLayout  = "060102"
)

// Epoch is the fallback instant used when nothing parses.
var Epoch = time.Unix(0, 0).UTC()

// Source names which input produced a declared instant.
type Source string

const (
	SourcePrecise Source = "precise"
	SourceCoarse  Source = "coarse"
	SourceEpoch   Source = "epoch"

	// SourceDeclared marks an instant the caller supplied in RFC 3339 form.
	SourceDeclared Source = "declared"
)

// Fields holds the raw date fields extracted from a source record.
type Fields struct {
	Precise string
	Coarse  string
}

// Derive returns the declared change instant for f and the source it came
// from, windowing two-digit years against the current time.
func Derive(f Fields) (time.Time, Source) {
	return DeriveAt(f, time.Now())
}

// DeriveAt is Derive with an explicit reference instant. A coarse two-digit
// year resolves into the century starting 80 years before now, so with now
// in 2024 "680101" is 1968 and "430101" is 2043.
func DeriveAt(f Fields, now time.Time) (time.Time, Source) {
	if t, ok := parsePrecise(f.Precise); ok {
		return t, SourcePrecise
	}
	if t, ok := parseCoarse(f.Coarse, now); ok {
		return t, SourceCoarse
	}
	return Epoch, SourceEpoch
}

// Resolve prefers an explicit RFC 3339 instant and falls back to Derive when
// declared is empty or malformed.
func Resolve(declared string, f Fields) (time.Time, Source) {
	return ResolveAt(declared, f, time.Now())
}

// ResolveAt is Resolve with an explicit reference instant for DeriveAt.
func ResolveAt(declared string, f Fields, now time.Time) (time.Time, Source) {
	if t, ok := parseISO(declared); ok {
		return t, SourceDeclared
	}
	return DeriveAt(f, now)
}

// ParseISO parses an RFC 3339 instant, returning Epoch when s is empty or
// malformed.
func ParseISO(s string) time.Time {
	if t, ok := parseISO(s); ok {
		return t
	}
	return Epoch
}

func parseISO(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func parsePrecise(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < len(preciseLayout) {
		return time.Time{}, false
	}
	// time.Parse accepts a fractional second after the seconds field even
	// though the layout does not carry one.
	t, err := time.Parse(preciseLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func parseCoarse(s string, now time.Time) (time.Time, bool) {
	if len(s) < len(coarseLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(coarseLayout, s[:len(coarseLayout)])
	if err != nil {
		return time.Time{}, false
	}
	year := windowYear(t.Year()%100, now.UTC().Year())
	return time.Date(year, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
}

// windowYear places a two-digit year in [nowYear-80, nowYear+20).
func windowYear(yy, nowYear int) int {
	start := nowYear - 80
	year := start - start%100 + yy
	if year < start {
		year += 100
	}
	return year
}

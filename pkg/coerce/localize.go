// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package coerce

import (
	"sort"
	"time"

	// Embedded zone database so Europe/Brussels resolves on minimal images.
	_ "time/tzdata"
)

// DefaultTimezone is the zone naive upstream timestamps are assumed to be in.
const DefaultTimezone = "Europe/Brussels"

// AmbiguousPolicy picks an offset for a wall-clock time that occurs twice
// (the hour repeated when daylight saving time ends).
type AmbiguousPolicy int

const (
	// AmbiguousEarlier picks the first occurrence (daylight saving offset).
	AmbiguousEarlier AmbiguousPolicy = iota
	// AmbiguousLater picks the second occurrence (standard offset).
	AmbiguousLater
)

// Resolution describes how Localize mapped a wall clock onto an instant.
type Resolution int

const (
	// ResolvedExact means exactly one instant matched.
	ResolvedExact Resolution = iota
	// ResolvedShifted means the wall clock fell into a spring-forward gap and
	// was moved to the first valid instant after it.
	ResolvedShifted
	// ResolvedAmbiguous means two instants matched and the policy chose one.
	ResolvedAmbiguous
)

// LoadLocation resolves a zone name, falling back to DefaultTimezone for "".
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	return time.LoadLocation(name)
}

// Localize places ts in loc.
//
// Zoned values keep their instant. Naive values keep their wall clock, which
// is read from ts's own fields regardless of ts.Location().
func Localize(ts time.Time, hasZone bool, loc *time.Location, policy AmbiguousPolicy) (time.Time, Resolution) {
	if loc == nil {
		loc = time.UTC
	}
	if hasZone {
		return ts.In(loc), ResolvedExact
	}

	candidates, before := wallClockCandidates(ts, loc)
	switch len(candidates) {
	case 0:
		return shiftForward(ts, loc, before), ResolvedShifted
	case 1:
		return candidates[0], ResolvedExact
	default:
		if policy == AmbiguousLater {
			return candidates[len(candidates)-1], ResolvedAmbiguous
		}
		return candidates[0], ResolvedAmbiguous
	}
}

// OverlapStart returns the transition instant of the repeated hour that the
// wall clock of ts falls into. ok is false outside an overlap.
func OverlapStart(ts time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		return time.Time{}, false
	}
	candidates, _ := wallClockCandidates(ts, loc)
	if len(candidates) < 2 {
		return time.Time{}, false
	}
	start, _ := candidates[len(candidates)-1].ZoneBounds()
	return start, true
}

// wallClockCandidates returns every instant whose wall clock in loc equals the
// fields of ts, in ascending order, plus the offset in force one day earlier.
func wallClockCandidates(ts time.Time, loc *time.Location) ([]time.Time, int) {
	wall := time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), ts.Nanosecond(), time.UTC)

	_, before := wall.Add(-24 * time.Hour).In(loc).Zone()
	_, here := wall.In(loc).Zone()
	_, after := wall.Add(24 * time.Hour).In(loc).Zone()

	seen := make(map[int]bool, 3)
	var out []time.Time
	for _, offset := range []int{before, here, after} {
		if seen[offset] {
			continue
		}
		seen[offset] = true

		instant := wall.Add(-time.Duration(offset) * time.Second).In(loc)
		if _, got := instant.Zone(); got == offset {
			out = append(out, instant)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, before
}

// shiftForward maps a wall clock inside a gap to the transition instant.
func shiftForward(ts time.Time, loc *time.Location, before int) time.Time {
	wall := time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), ts.Nanosecond(), time.UTC)
	past := wall.Add(-time.Duration(before) * time.Second).In(loc)
	start, _ := past.ZoneBounds()
	if start.IsZero() {
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), ts.Nanosecond(), loc)
	}
	return start.In(loc)
}

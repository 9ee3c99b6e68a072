// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package telemetry

import (
	"sort"
	"time"

	"github.com/soothill/hvac-supervisor/pkg/coerce"
)

// DisplayLayout is the date format shown to operators.
const DisplayLayout = "02/01/2006 15:04:05"

// HistoryRecord is one row of the history series.
type HistoryRecord struct {
	ID    int64 `json:"id"`
	HasID bool  `json:"-"`
	Reading

	// Resolved is the record date in the display zone; nil when the upstream
	// date could not be parsed.
	Resolved *time.Time `json:"date_local,omitempty"`
}

// HistorySeries is an ordered list of records in upstream order.
type HistorySeries struct {
	Records []HistoryRecord `json:"records"`
	Zone    string          `json:"zone"`
}

// Len returns the number of records.
func (s HistorySeries) Len() int {
	return len(s.Records)
}

// Empty reports whether the series holds no records.
func (s HistorySeries) Empty() bool {
	return len(s.Records) == 0
}

// Normalizer parses history rows and places their dates in a display zone.
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer creates a normalizer for loc; nil means UTC.
func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// Location returns the display zone.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Normalize converts raw rows into a series. Output order and length match
// the input; rows whose date cannot be parsed keep RawDate and a nil Resolved.
//
// Naive dates falling in the repeated hour at the end of daylight saving time
// are resolved from context: rows are walked in ascending id order, the first
// pass through the hour gets the daylight offset, and once the wall clock goes
// backwards the standard offset is used.
func (n *Normalizer) Normalize(raw []map[string]any) HistorySeries {
	series := HistorySeries{
		Records: make([]HistoryRecord, len(raw)),
		Zone:    n.loc.String(),
	}

	allIDs := true
	for i, row := range raw {
		rec := HistoryRecord{Reading: ParseReading(row)}
		if id := coerce.IntPtr(row[FieldID]); id != nil {
			rec.ID = int64(*id)
			rec.HasID = true
		} else {
			allIDs = false
		}
		series.Records[i] = rec
	}

	order := make([]int, len(raw))
	for i := range order {
		order[i] = i
	}
	if allIDs {
		sort.SliceStable(order, func(a, b int) bool {
			return series.Records[order[a]].ID < series.Records[order[b]].ID
		})
	}

	type overlapState struct {
		lastWall time.Time
		later    bool
	}
	overlaps := make(map[int64]*overlapState)

	for _, i := range order {
		rec := &series.Records[i]
		if rec.Date == nil {
			continue
		}
		if rec.DateHasZone {
			rec.Resolved = n.localize(*rec.Date, true, coerce.AmbiguousEarlier)
			continue
		}

		key, ambiguous := coerce.OverlapStart(*rec.Date, n.loc)
		if !ambiguous {
			rec.Resolved = n.localize(*rec.Date, false, coerce.AmbiguousEarlier)
			continue
		}

		wall := *rec.Date
		policy := coerce.AmbiguousEarlier
		st, seen := overlaps[key.Unix()]
		if seen && (st.later || wall.Before(st.lastWall)) {
			policy = coerce.AmbiguousLater
		}
		overlaps[key.Unix()] = &overlapState{lastWall: wall, later: policy == coerce.AmbiguousLater}
		rec.Resolved = n.localize(wall, false, policy)
	}

	return series
}

// LocalizeReading places the date of a single reading in the display zone.
// Ambiguous wall times take the daylight saving offset.
func (n *Normalizer) LocalizeReading(r Reading) *time.Time {
	if r.Date == nil {
		return nil
	}
	return n.localize(*r.Date, r.DateHasZone, coerce.AmbiguousEarlier)
}

func (n *Normalizer) localize(ts time.Time, hasZone bool, policy coerce.AmbiguousPolicy) *time.Time {
	local, _ := coerce.Localize(ts, hasZone, n.loc, policy)
	return &local
}

// FormatDate renders a resolved date, falling back to the raw upstream text
// and then to the placeholder.
func FormatDate(resolved *time.Time, raw string) string {
	if resolved != nil {
		return resolved.Format(DisplayLayout)
	}
	if raw != "" {
		return raw
	}
	return coerce.Placeholder
}

// SortForDisplay returns a copy of the records ordered by resolved date, then
// id. Records without a resolved date always come last.
func SortForDisplay(series HistorySeries, newestFirst bool) []HistoryRecord {
	out := make([]HistoryRecord, len(series.Records))
	copy(out, series.Records)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.Resolved == nil) != (b.Resolved == nil) {
			return a.Resolved != nil
		}
		if a.Resolved != nil && !a.Resolved.Equal(*b.Resolved) {
			if newestFirst {
				return a.Resolved.After(*b.Resolved)
			}
			return a.Resolved.Before(*b.Resolved)
		}
		if newestFirst {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
	return out
}

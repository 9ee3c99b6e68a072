// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package coerce

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// offsetZone is an arbitrary non-UTC offset. A string that parses to the same
// instant in UTC and in offsetZone carried its own offset.
var offsetZone = time.FixedZone("offset", 5*3600+30*60)

// zoneAbbreviations names a location defining each abbreviation the parser
// cannot resolve on its own.
var zoneAbbreviations = map[string]string{
	"CET": "Europe/Brussels", "CEST": "Europe/Brussels",
	"WET": "Europe/Lisbon", "WEST": "Europe/Lisbon",
	"EET": "Europe/Athens", "EEST": "Europe/Athens",
	"BST": "Europe/London",
	"EST": "America/New_York", "EDT": "America/New_York",
	"CST": "America/Chicago", "CDT": "America/Chicago",
	"MST": "America/Denver", "MDT": "America/Denver",
	"PST": "America/Los_Angeles", "PDT": "America/Los_Angeles",
}

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 1e12

// ToTimestamp parses an upstream date in any of the formats gateways emit:
// ISO 8601 with or without "T", fraction or offset, RFC 1123, MySQL datetime,
// and epoch seconds or milliseconds.
//
// hasZone reports whether the value pinned an instant (explicit offset, zone
// name or epoch). When it is false, ts holds the naive wall clock in UTC fields
// and the caller decides which zone it belongs to (see Localize).
func ToTimestamp(raw any) (ts time.Time, hasZone bool, ok bool) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, false, false
	case time.Time:
		return v, true, !v.IsZero()
	case *time.Time:
		if v == nil {
			return time.Time{}, false, false
		}
		return *v, true, !v.IsZero()
	case string:
		return parseDateString(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return fromEpoch(f)
		}
		return parseDateString(v.String())
	}

	if f, isNum := number(raw); isNum {
		if _, isBool := raw.(bool); isBool {
			return time.Time{}, false, false
		}
		return fromEpoch(f)
	}
	return time.Time{}, false, false
}

func parseDateString(s string) (time.Time, bool, bool) {
	s = strings.TrimSpace(s)
	if isAbsentText(s) {
		return time.Time{}, false, false
	}

	inUTC, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false, false
	}
	inOffset, err := dateparse.ParseIn(s, offsetZone)
	if err != nil {
		return time.Time{}, false, false
	}

	if !inUTC.Equal(inOffset) {
		return inUTC, false, true
	}
	if name, offset := inUTC.Zone(); offset == 0 && unknownZoneName(name) {
		return resolveAbbreviation(s, name, inUTC)
	}
	return inUTC, true, true
}

// unknownZoneName reports whether name is an abbreviation the parser could not
// place, which it represents as a zero offset.
func unknownZoneName(name string) bool {
	switch {
	case name == "", name == "UTC", name == "UT", name == "Z":
		return false
	case strings.HasPrefix(name, "GMT"):
		return false
	}
	return true
}

// resolveAbbreviation re-reads s in a location that defines the abbreviation.
// An abbreviation nobody defines leaves the value naive.
func resolveAbbreviation(s, name string, parsed time.Time) (time.Time, bool, bool) {
	if locName, known := zoneAbbreviations[strings.ToUpper(name)]; known {
		if loc, err := time.LoadLocation(locName); err == nil {
			if ts, err := dateparse.ParseIn(s, loc); err == nil {
				return ts.UTC(), true, true
			}
		}
	}
	naive := time.Date(parsed.Year(), parsed.Month(), parsed.Day(),
		parsed.Hour(), parsed.Minute(), parsed.Second(), parsed.Nanosecond(), time.UTC)
	return naive, false, true
}

func fromEpoch(f float64) (time.Time, bool, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return time.Time{}, false, false
	}
	if f >= epochMillisThreshold {
		return time.UnixMilli(int64(f)).UTC(), true, true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true, true
}

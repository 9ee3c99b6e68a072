// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soothill/hvac-supervisor/pkg/coerce"
)

func newBrusselsNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	loc, err := coerce.LoadLocation("Europe/Brussels")
	require.NoError(t, err)
	return NewNormalizer(loc)
}

func TestNormalizePreservesCountAndOrder(t *testing.T) {
	n := newBrusselsNormalizer(t)
	raw := []map[string]any{
		{"id": 3, "date": "2025-01-15 10:10:00", "temperature_lt": 21},
		{"id": 1, "date": "garbage", "temperature_lt": 20},
		{"id": 2, "temperature_lt": "—"},
		{"id": 4, "date": "2025-01-15T09:20:00Z"},
	}

	series := n.Normalize(raw)

	require.Equal(t, len(raw), series.Len())
	assert.Equal(t, "Europe/Brussels", series.Zone)
	assert.Equal(t, []int64{3, 1, 2, 4}, []int64{
		series.Records[0].ID, series.Records[1].ID, series.Records[2].ID, series.Records[3].ID,
	})

	require.NotNil(t, series.Records[0].Resolved)
	assert.Equal(t, "15/01/2025 10:10:00", series.Records[0].Resolved.Format(DisplayLayout))

	assert.Nil(t, series.Records[1].Resolved)
	assert.Equal(t, "garbage", series.Records[1].RawDate)
	assert.Equal(t, "garbage", FormatDate(series.Records[1].Resolved, series.Records[1].RawDate))

	assert.Nil(t, series.Records[2].Resolved)
	assert.Nil(t, series.Records[2].Temperature)
	assert.Equal(t, coerce.Placeholder, FormatDate(nil, ""))

	require.NotNil(t, series.Records[3].Resolved)
	assert.Equal(t, "15/01/2025 10:20:00", series.Records[3].Resolved.Format(DisplayLayout))
}

func TestNormalizeEmpty(t *testing.T) {
	n := newBrusselsNormalizer(t)
	series := n.Normalize(nil)
	assert.True(t, series.Empty())
	assert.Equal(t, 0, series.Len())
}

func TestNormalizeInfersAmbiguousHour(t *testing.T) {
	n := newBrusselsNormalizer(t)
	// Clocks fall back from 03:00 CEST to 02:00 CET on 2025-10-26.
	raw := []map[string]any{
		{"id": 1, "date": "2025-10-26 01:50:00"},
		{"id": 2, "date": "2025-10-26 02:20:00"},
		{"id": 3, "date": "2025-10-26 02:50:00"},
		{"id": 4, "date": "2025-10-26 02:20:00"},
		{"id": 5, "date": "2025-10-26 02:50:00"},
		{"id": 6, "date": "2025-10-26 03:20:00"},
	}

	series := n.Normalize(raw)

	want := []time.Time{
		time.Date(2025, 10, 25, 23, 50, 0, 0, time.UTC),
		time.Date(2025, 10, 26, 0, 20, 0, 0, time.UTC),
		time.Date(2025, 10, 26, 0, 50, 0, 0, time.UTC),
		time.Date(2025, 10, 26, 1, 20, 0, 0, time.UTC),
		time.Date(2025, 10, 26, 1, 50, 0, 0, time.UTC),
		time.Date(2025, 10, 26, 2, 20, 0, 0, time.UTC),
	}
	require.Equal(t, len(want), series.Len())
	for i, rec := range series.Records {
		require.NotNil(t, rec.Resolved, "record %d", rec.ID)
		assert.True(t, want[i].Equal(*rec.Resolved), "record %d: got %s want %s", rec.ID, rec.Resolved.UTC(), want[i])
	}
}

func TestNormalizeInfersInIDOrder(t *testing.T) {
	n := newBrusselsNormalizer(t)
	// Same rows as above, delivered newest first.
	raw := []map[string]any{
		{"id": 4, "date": "2025-10-26 02:20:00"},
		{"id": 3, "date": "2025-10-26 02:50:00"},
		{"id": 2, "date": "2025-10-26 02:20:00"},
	}

	series := n.Normalize(raw)

	assert.True(t, time.Date(2025, 10, 26, 1, 20, 0, 0, time.UTC).Equal(*series.Records[0].Resolved))
	assert.True(t, time.Date(2025, 10, 26, 0, 50, 0, 0, time.UTC).Equal(*series.Records[1].Resolved))
	assert.True(t, time.Date(2025, 10, 26, 0, 20, 0, 0, time.UTC).Equal(*series.Records[2].Resolved))
}

func TestNormalizeShiftsNonexistentTime(t *testing.T) {
	n := newBrusselsNormalizer(t)
	series := n.Normalize([]map[string]any{{"id": 1, "date": "2025-03-30 02:30:00"}})

	require.NotNil(t, series.Records[0].Resolved)
	assert.Equal(t, "30/03/2025 03:00:00", series.Records[0].Resolved.Format(DisplayLayout))
}

func TestLocalizeReading(t *testing.T) {
	n := newBrusselsNormalizer(t)

	assert.Nil(t, n.LocalizeReading(Reading{}))

	r := ParseReading(map[string]any{"date": "2025-07-01T08:00:00Z"})
	got := n.LocalizeReading(r)
	require.NotNil(t, got)
	assert.Equal(t, "01/07/2025 10:00:00", got.Format(DisplayLayout))
}

func TestSortForDisplay(t *testing.T) {
	n := newBrusselsNormalizer(t)
	series := n.Normalize([]map[string]any{
		{"id": 1, "date": "2025-01-15 10:00:00"},
		{"id": 2, "date": "bad"},
		{"id": 3, "date": "2025-01-15 12:00:00"},
		{"id": 4, "date": "2025-01-15 11:00:00"},
	})

	ids := func(recs []HistoryRecord) []int64 {
		out := make([]int64, len(recs))
		for i, r := range recs {
			out[i] = r.ID
		}
		return out
	}

	assert.Equal(t, []int64{3, 4, 1, 2}, ids(SortForDisplay(series, true)))
	assert.Equal(t, []int64{1, 4, 3, 2}, ids(SortForDisplay(series, false)))
	// The series itself is untouched.
	assert.Equal(t, []int64{1, 2, 3, 4}, ids(series.Records))
}

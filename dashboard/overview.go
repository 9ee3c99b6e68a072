// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/soothill/hvac-supervisor/pkg/errors"
	"github.com/soothill/hvac-supervisor/telemetry"
)

// NoHistoryNotice is shown in place of charts when no history is available.
const NoHistoryNotice = "No history available"

// Snapshot is what one render sees: the latest reading and history series,
// each with the error of its last fetch. A stale value is the last good one,
// served because the fresh fetch failed.
type Snapshot struct {
	Latest       *telemetry.Reading
	LatestAt     time.Time
	LatestStale  bool
	LatestErr    error
	History      *telemetry.HistorySeries
	HistoryAt    time.Time
	HistoryStale bool
	HistoryErr   error
	HistoryOff   bool
}

// ChartPoint is one sample of a series.
type ChartPoint struct {
	Time  time.Time `json:"t"`
	Value float64   `json:"y"`
}

// Chart is a time series ready for plotting.
type Chart struct {
	Field  string       `json:"field"`
	Title  string       `json:"title"`
	XLabel string       `json:"x_label"`
	YLabel string       `json:"y_label"`
	YRange [2]float64   `json:"y_range"`
	Points []ChartPoint `json:"points"`
}

// Overview is the main page model.
type Overview struct {
	KPIs        []KPI    `json:"kpis"`
	Gauges      []Gauge  `json:"gauges"`
	Charts      []Chart  `json:"charts"`
	LastMeasure string   `json:"last_measure"`
	Notice      string   `json:"notice,omitempty"`
	Errors      []string `json:"errors,omitempty"`
	Stale       bool     `json:"stale"`
	HasData     bool     `json:"has_data"`
}

// Overview renders the main page from a snapshot. Dates are shown in the
// normalizer's zone.
func (v *View) Overview(snap Snapshot, norm *telemetry.Normalizer) Overview {
	var latest telemetry.Reading
	if snap.Latest != nil {
		latest = *snap.Latest
	}

	out := Overview{
		KPIs:        v.KPIs(v.spec.KPIs, latest),
		Gauges:      v.Gauges(latest),
		LastMeasure: telemetry.FormatDate(norm.LocalizeReading(latest), latest.RawDate),
		HasData:     snap.Latest != nil,
		Stale:       snap.LatestStale || snap.HistoryStale,
	}
	if snap.LatestErr != nil {
		out.Errors = append(out.Errors, UserMessage(snap.LatestErr))
	}

	switch {
	case snap.History != nil && !snap.History.Empty():
		out.Charts = v.Charts(v.spec.OverviewCharts, *snap.History)
	default:
		out.Notice = NoHistoryNotice
	}
	if snap.HistoryErr != nil && !snap.HistoryOff {
		out.Errors = append(out.Errors, UserMessage(snap.HistoryErr))
	}
	return out
}

// Charts builds one chart per spec from the series, oldest sample first.
// Records without a resolved date or without the field are skipped.
func (v *View) Charts(specs []ChartSpec, series telemetry.HistorySeries) []Chart {
	ordered := telemetry.SortForDisplay(series, false)
	charts := make([]Chart, 0, len(specs))
	for _, s := range specs {
		c := Chart{
			Field:  s.Field,
			Title:  s.Title,
			XLabel: TimeAxisLabel,
			YLabel: s.YLabel,
			YRange: [2]float64{s.Min, s.Max},
			Points: []ChartPoint{},
		}
		for _, rec := range ordered {
			if rec.Resolved == nil {
				continue
			}
			value, ok := rec.Value(s.Field)
			if !ok {
				continue
			}
			c.Points = append(c.Points, ChartPoint{Time: *rec.Resolved, Value: value})
		}
		charts = append(charts, c)
	}
	return charts
}

// UserMessage turns a fetch or dispatch failure into operator-facing text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var fe *apperrors.FetchError
	var de *apperrors.DispatchError
	switch {
	case errors.Is(err, apperrors.ErrNotConfigured):
		return fmt.Sprintf("Not configured: %v", err)
	case errors.Is(err, apperrors.ErrCircuitOpen):
		return "Upstream temporarily unavailable, retrying shortly"
	case errors.Is(err, apperrors.ErrNoData):
		return "No data received yet"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, apperrors.ErrTimeout):
		return "Upstream did not answer in time"
	case apperrors.IsParseError(err):
		return fmt.Sprintf("Unreadable upstream payload: %v", err)
	case errors.As(err, &de):
		if de.Kind == apperrors.DispatchUpstream {
			return fmt.Sprintf("Command rejected (HTTP %d): %s", de.Status, de.Body)
		}
		return fmt.Sprintf("Command not delivered: %v", de.Err)
	case errors.As(err, &fe):
		if fe.Status != 0 {
			return fmt.Sprintf("Upstream error on %s (HTTP %d)", fe.Key, fe.Status)
		}
		return fmt.Sprintf("Upstream unreachable on %s: %v", fe.Key, fe.Err)
	default:
		return err.Error()
	}
}

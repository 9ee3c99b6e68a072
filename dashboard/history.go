// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package dashboard

import (
	"fmt"
	"strings"

	apperrors "github.com/soothill/hvac-supervisor/pkg/errors"
	"github.com/soothill/hvac-supervisor/telemetry"
)

// Table orders accepted by ParseOrder.
const (
	OrderNewest = "newest"
	OrderOldest = "oldest"
)

// HistoryColumns are the table columns, in display order.
var HistoryColumns = []string{
	telemetry.FieldID,
	"date_local",
	telemetry.FieldMode,
	telemetry.FieldTemperature,
	telemetry.FieldHumidity,
	telemetry.FieldGas,
	telemetry.FieldMotorSpeed,
	telemetry.FieldAlarm,
}

// HistoryRow is one table row. Absent numbers stay nil.
type HistoryRow struct {
	ID          *int64   `json:"id"`
	Date        string   `json:"date_local"`
	Mode        string   `json:"mode"`
	Temperature *float64 `json:"temperature_lt"`
	Humidity    *float64 `json:"humidite_lt"`
	Gas         *int     `json:"gaz"`
	MotorSpeed  *int     `json:"motor_speed"`
	Alarm       int      `json:"alarme"`
}

// HistoryPage is the history page model.
type HistoryPage struct {
	Order  string       `json:"order"`
	Rows   []HistoryRow `json:"rows"`
	Charts []Chart      `json:"charts"`
	Notice string       `json:"notice,omitempty"`
	Errors []string     `json:"errors,omitempty"`
	Stale  bool         `json:"stale"`
}

// ParseOrder validates a table order. Empty means newest first.
func ParseOrder(order string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(order)) {
	case "", OrderNewest:
		return OrderNewest, nil
	case OrderOldest:
		return OrderOldest, nil
	}
	return "", apperrors.NewValidationError("order", order, fmt.Sprintf("must be %q or %q", OrderNewest, OrderOldest))
}

// HistoryRows renders the series as table rows in the requested order.
func HistoryRows(series telemetry.HistorySeries, order string) []HistoryRow {
	records := telemetry.SortForDisplay(series, order != OrderOldest)
	rows := make([]HistoryRow, 0, len(records))
	for _, rec := range records {
		row := HistoryRow{
			Date:        telemetry.FormatDate(rec.Resolved, rec.RawDate),
			Mode:        rec.ModeDisplay(),
			Temperature: rec.Temperature,
			Humidity:    rec.Humidity,
			Gas:         rec.Gas,
			MotorSpeed:  rec.MotorSpeed,
		}
		if rec.HasID {
			id := rec.ID
			row.ID = &id
		}
		if rec.Alarm {
			row.Alarm = 1
		}
		rows = append(rows, row)
	}
	return rows
}

// History renders the history page: every configured chart plus the table.
func (v *View) History(snap Snapshot, order string) HistoryPage {
	page := HistoryPage{Order: order, Rows: []HistoryRow{}, Stale: snap.HistoryStale}
	if snap.HistoryErr != nil && !snap.HistoryOff {
		page.Errors = append(page.Errors, UserMessage(snap.HistoryErr))
	}
	if snap.History == nil || snap.History.Empty() {
		page.Notice = NoHistoryNotice
		return page
	}
	page.Charts = v.Charts(v.spec.HistoryCharts, *snap.History)
	page.Rows = HistoryRows(*snap.History, order)
	return page
}

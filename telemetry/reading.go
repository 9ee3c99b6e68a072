// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package telemetry turns raw upstream payloads into typed HVAC readings and
// history series.
//
// Parsing is tolerant at the field level: a malformed field degrades to
// absent, never to an error. Only a payload that is not a JSON object (or
// array of objects, for history) is rejected, and that happens in the source
// adapters.
package telemetry

import (
	"strings"
	"time"

	"github.com/soothill/hvac-supervisor/pkg/coerce"
)

// Upstream field names.
const (
	FieldID          = "id"
	FieldDate        = "date"
	FieldTemperature = "temperature_lt"
	FieldHumidity    = "humidite_lt"
	FieldGas         = "gaz"
	FieldMotorSpeed  = "motor_speed"
	FieldAlarm       = "alarme"
	FieldMode        = "mode"
	FieldModeConfort = "mode_confort"
	FieldLampMode    = "lampMode"
	FieldBrightness  = "brightness"
	FieldTempT1      = "tempT1"
	FieldTempT2      = "tempT2"
	FieldTempT3      = "tempT3"
	FieldHumH1       = "humH1"
	FieldHumH2       = "humH2"
)

// Mode is the canonical operating mode of the installation.
type Mode string

const (
	ModeUnspecified Mode = ""
	ModeAuto        Mode = "AUTO"
	ModeEco         Mode = "ECO"
	ModeConfort     Mode = "CONFORT"
)

// ParseMode canonicalizes the two upstream mode encodings. A non-empty "mode"
// text wins; otherwise "mode_confort" 1 means CONFORT and anything else ECO.
// The returned text is what the dashboard displays: the upper-cased free text
// when it did not match a known mode, the canonical name when it did.
func ParseMode(raw map[string]any) (Mode, string) {
	if text, ok := coerce.ToText(raw[FieldMode]); ok {
		upper := strings.ToUpper(text)
		switch Mode(upper) {
		case ModeAuto, ModeEco, ModeConfort:
			return Mode(upper), upper
		}
		return ModeUnspecified, upper
	}
	if v, present := raw[FieldModeConfort]; present {
		if coerce.ToInt(v, 0) == 1 {
			return ModeConfort, string(ModeConfort)
		}
		return ModeEco, string(ModeEco)
	}
	return ModeUnspecified, ""
}

// Reading is one sensor snapshot. Pointer fields are nil when the upstream
// omitted them or sent something unusable.
type Reading struct {
	Temperature *float64 `json:"temperature_lt"`
	Humidity    *float64 `json:"humidite_lt"`
	Gas         *int     `json:"gaz"`
	MotorSpeed  *int     `json:"motor_speed"`
	Alarm       bool     `json:"alarme"`
	Mode        Mode     `json:"mode"`
	ModeText    string   `json:"mode_text,omitempty"`

	// Date is the parsed upstream date, not yet placed in the display zone.
	Date        *time.Time `json:"date,omitempty"`
	DateHasZone bool       `json:"-"`
	RawDate     string     `json:"raw_date,omitempty"`

	LampMode   *string  `json:"lampMode,omitempty"`
	Brightness *int     `json:"brightness,omitempty"`
	TempT1     *float64 `json:"tempT1,omitempty"`
	TempT2     *float64 `json:"tempT2,omitempty"`
	TempT3     *float64 `json:"tempT3,omitempty"`
	HumH1      *float64 `json:"humH1,omitempty"`
	HumH2      *float64 `json:"humH2,omitempty"`
}

// ParseReading builds a Reading from a decoded JSON object.
func ParseReading(raw map[string]any) Reading {
	r := Reading{
		Temperature: coerce.ToFloat(raw[FieldTemperature], nil),
		Humidity:    coerce.ToFloat(raw[FieldHumidity], nil),
		Gas:         coerce.IntPtr(raw[FieldGas]),
		MotorSpeed:  coerce.IntPtr(raw[FieldMotorSpeed]),
		Alarm:       coerce.ToInt(raw[FieldAlarm], 0) == 1,
		Brightness:  coerce.IntPtr(raw[FieldBrightness]),
		TempT1:      coerce.ToFloat(raw[FieldTempT1], nil),
		TempT2:      coerce.ToFloat(raw[FieldTempT2], nil),
		TempT3:      coerce.ToFloat(raw[FieldTempT3], nil),
		HumH1:       coerce.ToFloat(raw[FieldHumH1], nil),
		HumH2:       coerce.ToFloat(raw[FieldHumH2], nil),
	}
	r.Mode, r.ModeText = ParseMode(raw)

	if lamp, ok := coerce.ToText(raw[FieldLampMode]); ok {
		lamp = strings.ToLower(lamp)
		r.LampMode = &lamp
	}

	if text, ok := coerce.ToText(raw[FieldDate]); ok {
		r.RawDate = text
	}
	if ts, hasZone, ok := coerce.ToTimestamp(raw[FieldDate]); ok {
		r.Date = &ts
		r.DateHasZone = hasZone
	}
	return r
}

// AlarmText is the display text of the alarm flag.
func (r Reading) AlarmText() string {
	if r.Alarm {
		return "ACTIVE"
	}
	return "INACTIVE"
}

// ModeDisplay is the mode text, or the placeholder when unspecified.
func (r Reading) ModeDisplay() string {
	if r.ModeText != "" {
		return r.ModeText
	}
	if r.Mode != ModeUnspecified {
		return string(r.Mode)
	}
	return coerce.Placeholder
}

// Value returns the numeric value of an upstream field by name, for the
// declarative view. The alarm reads as 0 or 1.
func (r Reading) Value(field string) (float64, bool) {
	switch field {
	case FieldTemperature:
		return floatValue(r.Temperature)
	case FieldHumidity:
		return floatValue(r.Humidity)
	case FieldGas:
		return intValue(r.Gas)
	case FieldMotorSpeed:
		return intValue(r.MotorSpeed)
	case FieldAlarm:
		if r.Alarm {
			return 1, true
		}
		return 0, true
	case FieldBrightness:
		return intValue(r.Brightness)
	case FieldTempT1:
		return floatValue(r.TempT1)
	case FieldTempT2:
		return floatValue(r.TempT2)
	case FieldTempT3:
		return floatValue(r.TempT3)
	case FieldHumH1:
		return floatValue(r.HumH1)
	case FieldHumH2:
		return floatValue(r.HumH2)
	}
	return 0, false
}

// NumericFields lists the fields Value understands.
func NumericFields() []string {
	return []string{
		FieldTemperature, FieldHumidity, FieldGas, FieldMotorSpeed, FieldAlarm,
		FieldBrightness, FieldTempT1, FieldTempT2, FieldTempT3, FieldHumH1, FieldHumH2,
	}
}

func floatValue(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}

func intValue(p *int) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return float64(*p), true
}

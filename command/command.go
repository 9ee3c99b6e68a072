// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package command builds the payloads sent to the actuator gateway.
//
// Builders are pure: the same inputs always produce the same payload, so a
// retried submission is byte-identical to the first one.
package command

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/soothill/hvac-supervisor/telemetry"
)

// Motor speed bounds (PWM duty).
const (
	MinMotorSpeed = 0
	MaxMotorSpeed = 255
)

// Brightness bounds (percent).
const (
	MinBrightness = 0
	MaxBrightness = 100
)

// MotorCommand sets the fan motor speed and the alarm buzzer mute.
type MotorCommand struct {
	TargetSpeed int `json:"target_speed"`
	Mute        int `json:"mute"`
}

// BuildMotorCommand clamps speed into [0,255] and encodes mute as 0 or 1.
func BuildMotorCommand(speed int, mute bool) MotorCommand {
	return MotorCommand{TargetSpeed: clamp(speed, MinMotorSpeed, MaxMotorSpeed), Mute: boolToInt(mute)}
}

// StopMotorCommand stops the motor while preserving the mute setting.
func StopMotorCommand(mute bool) MotorCommand {
	return BuildMotorCommand(0, mute)
}

// RoomCommand configures the room lamp and the climate thresholds.
type RoomCommand struct {
	LampMode   string  `json:"lampMode" validate:"oneof=auto on off"`
	Brightness int     `json:"brightness" validate:"gte=0,lte=100"`
	TempT1     float64 `json:"tempT1" validate:"gte=0,lte=60"`
	TempT2     float64 `json:"tempT2" validate:"gte=0,lte=60"`
	TempT3     float64 `json:"tempT3" validate:"gte=0,lte=60"`
	HumH1      float64 `json:"humH1" validate:"gte=0,lte=100"`
	HumH2      float64 `json:"humH2" validate:"gte=0,lte=100"`
}

// Lamp choices as presented to operators.
const (
	LampChoiceAuto = "Auto"
	LampChoiceOn   = "ON"
	LampChoiceOff  = "OFF"
)

// LampModeFromChoice maps an operator choice onto the wire value. Unknown
// choices fall back to auto.
func LampModeFromChoice(choice string) string {
	switch strings.ToLower(strings.TrimSpace(choice)) {
	case telemetry.LampOn:
		return telemetry.LampOn
	case telemetry.LampOff:
		return telemetry.LampOff
	default:
		return telemetry.LampAuto
	}
}

// LampChoiceFromMode is the inverse of LampModeFromChoice for display.
func LampChoiceFromMode(mode string) string {
	switch mode {
	case telemetry.LampOn:
		return LampChoiceOn
	case telemetry.LampOff:
		return LampChoiceOff
	default:
		return LampChoiceAuto
	}
}

// BuildRoomCommand assembles and validates a room payload. The payload is
// returned even when validation fails so callers can preview it.
func BuildRoomCommand(lampChoice string, brightness int, t1, t2, t3, h1, h2 float64) (RoomCommand, error) {
	cmd := RoomCommand{
		LampMode:   LampModeFromChoice(lampChoice),
		Brightness: clamp(brightness, MinBrightness, MaxBrightness),
		TempT1:     t1,
		TempT2:     t2,
		TempT3:     t3,
		HumH1:      h1,
		HumH2:      h2,
	}
	return cmd, cmd.Validate()
}

// DefaultRoomCommand is the factory reset payload.
func DefaultRoomCommand() RoomCommand {
	return FromSettings(telemetry.DefaultRoomSettings())
}

// FromSettings converts read-back settings into a payload.
func FromSettings(s telemetry.RoomSettings) RoomCommand {
	return RoomCommand{
		LampMode:   s.LampMode,
		Brightness: s.Brightness,
		TempT1:     s.TempT1,
		TempT2:     s.TempT2,
		TempT3:     s.TempT3,
		HumH1:      s.HumH1,
		HumH2:      s.HumH2,
	}
}

// Constraint names reported in a ValidationError.
const (
	ConstraintTemperatureOrder = "T1 < T2 < T3"
	ConstraintHumidityOrder    = "H1 < H2"
	ConstraintLampMode         = "lamp mode"
	ConstraintBrightnessRange  = "brightness 0-100"
	ConstraintTemperatureRange = "temperature 0-60"
	ConstraintHumidityRange    = "humidity 0-100"
)

// Violation is one failed constraint.
type Violation struct {
	Constraint string `json:"constraint"`
	Field      string `json:"field"`
	Message    string `json:"message"`
}

// ValidationError lists every constraint a room payload breaks.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return "invalid room command: " + strings.Join(msgs, "; ")
}

// Has reports whether the named constraint was violated.
func (e *ValidationError) Has(constraint string) bool {
	for _, v := range e.Violations {
		if v.Constraint == constraint {
			return true
		}
	}
	return false
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks ranges and threshold ordering. Range failures are reported
// per field; each ordering constraint is reported once, whatever the ranges.
func (c RoomCommand) Validate() error {
	verr := &ValidationError{}

	if err := getValidator().Struct(c); err != nil {
		fieldErrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("validate room command: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.Violations = append(verr.Violations, violationFor(fe))
		}
	}

	switch {
	case c.TempT1 >= c.TempT2:
		verr.Violations = append(verr.Violations, temperatureOrder("TempT2"))
	case c.TempT2 >= c.TempT3:
		verr.Violations = append(verr.Violations, temperatureOrder("TempT3"))
	}
	if c.HumH1 >= c.HumH2 {
		verr.Violations = append(verr.Violations, Violation{
			Constraint: ConstraintHumidityOrder,
			Field:      "HumH2",
			Message:    "humidity thresholds must satisfy H1 < H2",
		})
	}

	if len(verr.Violations) == 0 {
		return nil
	}
	return verr
}

func temperatureOrder(field string) Violation {
	return Violation{
		Constraint: ConstraintTemperatureOrder,
		Field:      field,
		Message:    "temperature thresholds must satisfy T1 < T2 < T3",
	}
}

func violationFor(fe validator.FieldError) Violation {
	field := fe.StructField()
	switch {
	case field == "LampMode":
		return Violation{ConstraintLampMode, field, fmt.Sprintf("lamp mode must be one of auto, on, off (got %v)", fe.Value())}
	case field == "Brightness":
		return Violation{ConstraintBrightnessRange, field, fmt.Sprintf("brightness must be between 0 and 100 (got %v)", fe.Value())}
	case strings.HasPrefix(field, "Temp"):
		return Violation{ConstraintTemperatureRange, field, fmt.Sprintf("%s must be between 0 and 60 (got %v)", field, fe.Value())}
	default:
		return Violation{ConstraintHumidityRange, field, fmt.Sprintf("%s must be between 0 and 100 (got %v)", field, fe.Value())}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

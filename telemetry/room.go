// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package telemetry

// Lamp modes understood by the room controller.
const (
	LampAuto = "auto"
	LampOn   = "on"
	LampOff  = "off"
)

// RoomSettings is the lamp and threshold configuration the room controller
// currently reports, with defaults filled in for anything it did not send.
type RoomSettings struct {
	LampMode   string  `json:"lampMode"`
	Brightness int     `json:"brightness"`
	TempT1     float64 `json:"tempT1"`
	TempT2     float64 `json:"tempT2"`
	TempT3     float64 `json:"tempT3"`
	HumH1      float64 `json:"humH1"`
	HumH2      float64 `json:"humH2"`
}

// DefaultRoomSettings is the factory configuration of the room controller.
func DefaultRoomSettings() RoomSettings {
	return RoomSettings{
		LampMode:   LampAuto,
		Brightness: 30,
		TempT1:     18.0,
		TempT2:     24.0,
		TempT3:     28.0,
		HumH1:      40.0,
		HumH2:      70.0,
	}
}

// RoomSettings reads the current room configuration back from the reading.
// A lamp mode other than auto or on is shown as off.
func (r Reading) RoomSettings() RoomSettings {
	s := DefaultRoomSettings()

	if r.LampMode != nil {
		switch *r.LampMode {
		case LampAuto, LampOn:
			s.LampMode = *r.LampMode
		default:
			s.LampMode = LampOff
		}
	}
	if r.Brightness != nil {
		s.Brightness = *r.Brightness
	}
	if r.TempT1 != nil {
		s.TempT1 = *r.TempT1
	}
	if r.TempT2 != nil {
		s.TempT2 = *r.TempT2
	}
	if r.TempT3 != nil {
		s.TempT3 = *r.TempT3
	}
	if r.HumH1 != nil {
		s.HumH1 = *r.HumH1
	}
	if r.HumH2 != nil {
		s.HumH2 = *r.HumH2
	}
	return s
}

package models

import (
	"encoding/json"
	"math"
)

// Settings mirrors the camera parameters the device reports on GET /status.
type Settings struct {
	Quality      int `json:"quality"`
	Brightness   int `json:"brightness"`
	Contrast     int `json:"contrast"`
	Saturation   int `json:"saturation"`
	FrameSize    int `json:"framesize"`
	LEDIntensity int `json:"led_intensity"`
}

// DefaultSettings returns the record used before the device has answered.
func DefaultSettings() Settings {
	var s Settings
	for _, v := range Variables {
		s.set(v.Name, v.Default)
	}
	return s
}

// Get returns the value of the named control variable.
func (s Settings) Get(name string) (int, error) {
	switch name {
	case VarQuality:
		return s.Quality, nil
	case VarBrightness:
		return s.Brightness, nil
	case VarContrast:
		return s.Contrast, nil
	case VarSaturation:
		return s.Saturation, nil
	case VarFrameSize:
		return s.FrameSize, nil
	case VarLEDIntensity:
		return s.LEDIntensity, nil
	}
	return 0, ErrUnknownVariable
}

// With returns a copy of s with the named variable replaced.
func (s Settings) With(name string, value int) (Settings, error) {
	if !s.set(name, value) {
		return s, ErrUnknownVariable
	}
	return s, nil
}

func (s *Settings) set(name string, value int) bool {
	switch name {
	case VarQuality:
		s.Quality = value
	case VarBrightness:
		s.Brightness = value
	case VarContrast:
		s.Contrast = value
	case VarSaturation:
		s.Saturation = value
	case VarFrameSize:
		s.FrameSize = value
	case VarLEDIntensity:
		s.LEDIntensity = value
	default:
		return false
	}
	return true
}

// ParseStatus maps a /status body onto Settings. The firmware reports many
// more keys than we track; those are ignored. A tracked key that is absent,
// null, not a number or too large for a control value falls back to the
// variable's default.
func ParseStatus(body []byte) (Settings, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Settings{}, err
	}

	s := DefaultSettings()
	for _, v := range Variables {
		n, ok := raw[v.Name].(float64)
		if !ok || math.IsNaN(n) || n < math.MinInt32 || n > math.MaxInt32 {
			continue
		}
		s.set(v.Name, int(n))
	}
	return s, nil
}

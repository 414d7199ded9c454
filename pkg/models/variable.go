package models

import (
	"github.com/pkg/errors"
)

// Control variable names as the firmware expects them in ?var=.
const (
	VarQuality      = "quality"
	VarBrightness   = "brightness"
	VarContrast     = "contrast"
	VarSaturation   = "saturation"
	VarFrameSize    = "framesize"
	VarLEDIntensity = "led_intensity"
)

var (
	ErrUnknownVariable = errors.New("unknown control variable")
	ErrOutOfRange      = errors.New("value out of range")
)

// Variable describes one settable camera parameter.
type Variable struct {
	Name    string `json:"name"`
	Title   string `json:"title"`
	Min     int    `json:"min"`
	Max     int    `json:"max"`
	Step    int    `json:"step"`
	Default int    `json:"default"`
}

// Variables lists every control variable in display order.
var Variables = []Variable{
	{Name: VarQuality, Title: "Quality", Min: 4, Max: 63, Step: 1, Default: 10},
	{Name: VarBrightness, Title: "Brightness", Min: -2, Max: 2, Step: 1, Default: 0},
	{Name: VarContrast, Title: "Contrast", Min: -2, Max: 2, Step: 1, Default: 0},
	{Name: VarSaturation, Title: "Saturation", Min: -2, Max: 2, Step: 1, Default: 0},
	{Name: VarFrameSize, Title: "Resolution", Min: 0, Max: 13, Step: 1, Default: 10},
	// The firmware accepts any byte; the step only matters for UI sliders.
	{Name: VarLEDIntensity, Title: "LED", Min: 0, Max: 255, Step: 25, Default: 0},
}

// LookupVariable finds a variable by name.
func LookupVariable(name string) (Variable, error) {
	for _, v := range Variables {
		if v.Name == name {
			return v, nil
		}
	}
	return Variable{}, errors.Wrapf(ErrUnknownVariable, "%q", name)
}

// Validate checks that value lies within [Min, Max].
func (v Variable) Validate(value int) error {
	if value < v.Min || value > v.Max {
		return errors.Wrapf(ErrOutOfRange, "%s must be between %d and %d, got %d", v.Name, v.Min, v.Max, value)
	}
	return nil
}

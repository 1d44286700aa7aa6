package sensor

import (
	"errors"

	"github.com/ericogr/water-monitor/pkg/hal"
)

var ErrNotCalibratable = errors.New("sensor: rtd front end cannot be calibrated")

// RTD is the temperature channel. Its device sits on a dedicated bus and is
// never arbitrated.
type RTD struct {
	dev hal.ResistanceTemperatureDevice
}

func NewRTD(dev hal.ResistanceTemperatureDevice) *RTD {
	return &RTD{dev: dev}
}

// Read returns the water temperature in °C.
func (r *RTD) Read() (float32, error) {
	return r.dev.Read()
}

// Calibrate trims the front end so the current reading maps to celsius.
func (r *RTD) Calibrate(celsius float32) error {
	c, ok := r.dev.(hal.CalibratableRTD)
	if !ok {
		return ErrNotCalibratable
	}
	return c.Calibrate(celsius)
}

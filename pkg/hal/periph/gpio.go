package periph

import (
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/ericogr/water-monitor/pkg/hal"
)

// SelectLine drives one gain multiplexer address line.
type SelectLine struct {
	pin gpio.PinOut
}

func NewSelectLine(pin gpio.PinOut) *SelectLine {
	return &SelectLine{pin: pin}
}

func (s *SelectLine) Set(high bool) error {
	if err := s.pin.Out(gpio.Level(high)); err != nil {
		return &hal.TransportError{Device: s.pin.Name(), Op: "out", Err: err}
	}
	return nil
}

// PWM is an excitation channel with fixed duty and frequency. Disable parks
// the pin low.
type PWM struct {
	pin  gpio.PinOut
	duty gpio.Duty
	freq physic.Frequency
}

func NewPWM(pin gpio.PinOut, duty gpio.Duty, freq physic.Frequency) *PWM {
	return &PWM{pin: pin, duty: duty, freq: freq}
}

func (p *PWM) Enable() error {
	if err := p.pin.PWM(p.duty, p.freq); err != nil {
		return &hal.TransportError{Device: p.pin.Name(), Op: "pwm", Err: err}
	}
	return nil
}

func (p *PWM) Disable() error {
	if err := p.pin.Out(gpio.Low); err != nil {
		return &hal.TransportError{Device: p.pin.Name(), Op: "out", Err: err}
	}
	return nil
}

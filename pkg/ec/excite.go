package ec

import (
	"time"

	"github.com/chewxy/math32"
	"go.uber.org/multierr"

	"github.com/ericogr/water-monitor/pkg/hal"
)

// Exciter runs the three excitation PWM channels. The third one is started
// half a period after the first two.
type Exciter struct {
	pulse [3]hal.PulseOutput
	delay hal.Delay
	freq  float32
}

func NewExciter(pulse [3]hal.PulseOutput, delay hal.Delay, freqHz float32) *Exciter {
	return &Exciter{pulse: pulse, delay: delay, freq: freqHz}
}

// PhaseOffset is half a period of the excitation frequency.
func (e *Exciter) PhaseOffset() time.Duration {
	return time.Duration(float64(time.Second) / float64(2*e.freq))
}

func (e *Exciter) Start() error {
	if err := e.pulse[0].Enable(); err != nil {
		return err
	}
	if err := e.pulse[1].Enable(); err != nil {
		return err
	}
	e.delay.Sleep(e.PhaseOffset())
	return e.pulse[2].Enable()
}

// Stop disables every channel even when one of them fails.
func (e *Exciter) Stop() error {
	var err error
	for _, p := range e.pulse {
		err = multierr.Append(err, p.Disable())
	}
	return err
}

// Dac sets the excitation amplitude.
type Dac struct {
	out hal.AnalogOutput
	ref float32
}

func NewDac(out hal.AnalogOutput, ref float32) *Dac {
	return &Dac{out: out, ref: ref}
}

// Counts converts volts to the nearest 12-bit count, clamped to range.
func (d *Dac) Counts(v float32) uint16 {
	c := math32.Floor(v/d.ref*hal.DacMaxCount + 0.5)
	c = math32.Max(0, math32.Min(hal.DacMaxCount, c))
	return uint16(c)
}

// Voltage is the output for a count.
func (d *Dac) Voltage(counts uint16) float32 {
	return float32(counts) / hal.DacMaxCount * d.ref
}

func (d *Dac) Wake() error     { return d.out.Send(hal.Wake(hal.DacA)) }
func (d *Dac) Shutdown() error { return d.out.Send(hal.Sleep(hal.DacA)) }

// SetVoltage programs v and returns the voltage actually produced.
func (d *Dac) SetVoltage(v float32) (float32, error) {
	c := d.Counts(v)
	if err := d.out.Send(hal.Wake(hal.DacA).WithValue(c)); err != nil {
		return 0, err
	}
	return d.Voltage(c), nil
}

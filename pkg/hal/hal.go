// Package hal declares the hardware collaborators the measurement core talks
// to. Real implementations live in hal/periph, the simulated board in hal/sim.
package hal

import (
	"fmt"
	"io"
	"time"
)

// Input selects the multiplexer setting of a converter read.
type Input uint8

const (
	DiffA0A1 Input = iota
	DiffA0A3
	DiffA1A3
	DiffA2A3
	SingleA0
	SingleA1
	SingleA2
	SingleA3
)

func (i Input) String() string {
	switch i {
	case DiffA0A1:
		return "A0-A1"
	case DiffA0A3:
		return "A0-A3"
	case DiffA1A3:
		return "A1-A3"
	case DiffA2A3:
		return "A2-A3"
	case SingleA0:
		return "A0"
	case SingleA1:
		return "A1"
	case SingleA2:
		return "A2"
	case SingleA3:
		return "A3"
	default:
		return fmt.Sprintf("input(%d)", uint8(i))
	}
}

// AnalogConverter performs one blocking single-shot conversion.
type AnalogConverter interface {
	Read(in Input) (int16, error)
}

// SharedBus is the raw transport several converters hang off. Converter binds
// the bus to the converter answering at addr.
type SharedBus interface {
	Converter(addr uint16) AnalogConverter
}

// ConverterSource yields the converter a channel currently owns, or an
// error when it does not own one.
type ConverterSource interface {
	Converter() (AnalogConverter, error)
}

// AnalogOutput is a DAC accepting encoded commands.
type AnalogOutput interface {
	Send(cmd DacCommand) error
}

// DigitalOutput is one binary select line.
type DigitalOutput interface {
	Set(high bool) error
}

// PulseOutput is a pre-provisioned PWM channel that can only be switched.
type PulseOutput interface {
	Enable() error
	Disable() error
}

// ResistanceTemperatureDevice reads a temperature in °C from its own bus.
type ResistanceTemperatureDevice interface {
	Read() (float32, error)
}

// CalibratableRTD is implemented by RTD front-ends that can trim their
// reference resistor against a known temperature.
type CalibratableRTD interface {
	ResistanceTemperatureDevice
	Calibrate(celsius float32) error
}

// Delay blocks the caller. It stands in for wait_ms / wait_us.
type Delay interface {
	Sleep(d time.Duration)
}

// SleepDelay implements Delay with time.Sleep.
type SleepDelay struct{}

func (SleepDelay) Sleep(d time.Duration) { time.Sleep(d) }

// Board bundles every collaborator of one instrument.
type Board struct {
	ADC    SharedBus
	RTD    ResistanceTemperatureDevice
	DAC    AnalogOutput
	Gain   [3]DigitalOutput
	Pulse  [3]PulseOutput
	Delay  Delay
	Closer io.Closer
}

// Close releases the underlying buses, if any.
func (b *Board) Close() error {
	if b.Closer == nil {
		return nil
	}
	return b.Closer.Close()
}

// TransportError is a bus level failure reported by a collaborator.
type TransportError struct {
	Device string
	Op     string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Device, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

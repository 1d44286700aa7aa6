// Package ec measures conductivity with a two-electrode cell driven by a
// symmetric square wave. Each measurement ranges the gain resistor and the
// excitation amplitude before taking the final reading.
package ec

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/chewxy/math32"
	"go.uber.org/multierr"

	"github.com/ericogr/water-monitor/pkg/convert"
	"github.com/ericogr/water-monitor/pkg/filter"
	"github.com/ericogr/water-monitor/pkg/hal"
)

// ErrOutOfRange is returned when the cell voltage collapses to zero even on
// the lowest rung, i.e. the cell is shorted or beyond the measurable range.
var ErrOutOfRange = errors.New("ec: conductivity out of range")

// Leg inputs on the ORP/EC converter.
const (
	legPlus  = hal.SingleA2
	legMinus = hal.SingleA3
)

type State int

const (
	Idle State = iota
	Exciting
	Ranging
	Measuring
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Exciting:
		return "exciting"
	case Ranging:
		return "ranging"
	case Measuring:
		return "measuring"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Config struct {
	// Reference is the converter full-scale voltage.
	Reference    float32
	DacReference float32
	FrequencyHz  float32
	// InitialExcitation is the amplitude ranging starts at, in volts.
	InitialExcitation float32
	// TargetVoltage is the cell voltage the final amplitude aims for.
	TargetVoltage float32
	// RangeFraction of twice the excitation the cell voltage must reach
	// before ranging stops dropping rungs.
	RangeFraction float32
	Settle        time.Duration
	// CellConstant in 1/cm.
	CellConstant float32
	// TempCoefficient is the fractional conductivity change per °C.
	TempCoefficient float32
}

func DefaultConfig() Config {
	return Config{
		Reference:         convert.DefaultReference,
		DacReference:      2.048,
		FrequencyHz:       94,
		InitialExcitation: 0.4,
		TargetVoltage:     0.1,
		RangeFraction:     0.6,
		Settle:            200 * time.Millisecond,
		CellConstant:      1,
		TempCoefficient:   0.02,
	}
}

// Measurement is one completed cycle.
type Measurement struct {
	Gain       Gain
	Excitation float32
	VPlus      float32
	VMinus     float32
	// CellResistance in ohms; +Inf for an open cell.
	CellResistance float32
	// Conductivity at the measured temperature, µS/cm.
	Conductivity float32
	// Compensated is Conductivity referred to 25 °C.
	Compensated float32
}

// Sensor runs the measurement cycle.
type Sensor struct {
	src   hal.ConverterSource
	sw    *Switch
	exc   *Exciter
	dac   *Dac
	delay hal.Delay
	cfg   Config
	filt  *filter.Smoother

	state State
	last  Gain
}

// New wires the EC circuit of board. src is the ORP/EC converter owner.
func New(src hal.ConverterSource, board *hal.Board, cfg Config, params filter.Params) *Sensor {
	return &Sensor{
		src:   src,
		sw:    NewSwitch(board.Gain),
		exc:   NewExciter(board.Pulse, board.Delay, cfg.FrequencyHz),
		dac:   NewDac(board.DAC, cfg.DacReference),
		delay: board.Delay,
		cfg:   cfg,
		filt:  filter.NewSmoother(params),
	}
}

func (s *Sensor) State() State { return s.state }

// Gain returns the rung the last cycle settled on.
func (s *Sensor) Gain() Gain { return s.sw.Gain() }

func (s *Sensor) legs(conv hal.AnalogConverter) (float32, float32, error) {
	rp, err := conv.Read(legPlus)
	if err != nil {
		return 0, 0, err
	}
	rm, err := conv.Read(legMinus)
	if err != nil {
		return 0, 0, err
	}
	return convert.VoltageFromSample(rp, s.cfg.Reference), convert.VoltageFromSample(rm, s.cfg.Reference), nil
}

func (s *Sensor) shutdown() error {
	return multierr.Combine(s.exc.Stop(), s.dac.Shutdown())
}

// Measure runs one full cycle. Whatever happens, the cycle ends with the
// excitation stopped and the DAC shut down; a bus error aborts the cycle and
// is returned together with any shutdown error.
func (s *Sensor) Measure(celsius float32) (Measurement, error) {
	conv, err := s.src.Converter()
	if err != nil {
		return Measurement{}, err
	}
	m, err := s.cycle(conv)
	stopErr := s.shutdown()
	s.state = Idle
	if err = multierr.Append(err, stopErr); err != nil {
		return Measurement{}, err
	}
	if m.Gain != s.last {
		log.Printf("ec: ranged to %s, excitation %.3f V", m.Gain, m.Excitation)
		s.last = m.Gain
	}
	return s.conductivity(m, celsius)
}

func (s *Sensor) cycle(conv hal.AnalogConverter) (Measurement, error) {
	s.state = Exciting
	if err := s.dac.Wake(); err != nil {
		return Measurement{}, err
	}
	if err := s.exc.Start(); err != nil {
		return Measurement{}, err
	}

	s.state = Ranging
	gain, vexc, sum, err := s.autoRange(conv)
	if err != nil {
		return Measurement{}, err
	}

	s.state = Measuring
	if sum > 0 {
		if vexc, err = s.dac.SetVoltage(s.cfg.TargetVoltage * vexc / sum); err != nil {
			return Measurement{}, err
		}
	}
	s.delay.Sleep(s.cfg.Settle)
	vp, vm, err := s.legs(conv)
	if err != nil {
		return Measurement{}, err
	}
	return Measurement{Gain: gain, Excitation: vexc, VPlus: vp, VMinus: vm}, nil
}

// autoRange starts at the top rung and drops while the cell voltage is
// below RangeFraction of twice the excitation. The bottom rung is accepted
// whatever it reads.
func (s *Sensor) autoRange(conv hal.AnalogConverter) (Gain, float32, float32, error) {
	gain := GainEight
	if err := s.sw.Set(gain); err != nil {
		return 0, 0, 0, err
	}
	vexc, err := s.dac.SetVoltage(s.cfg.InitialExcitation)
	if err != nil {
		return 0, 0, 0, err
	}
	for {
		vp, vm, err := s.legs(conv)
		if err != nil {
			return 0, 0, 0, err
		}
		sum := vp + vm
		if sum >= s.cfg.RangeFraction*2*vexc {
			return gain, vexc, sum, nil
		}
		next, err := gain.Drop()
		if err != nil {
			return gain, vexc, sum, nil
		}
		if err := s.sw.Set(next); err != nil {
			return 0, 0, 0, err
		}
		gain = next
	}
}

// conductivity solves the bridge for the cell resistance:
// Vcell = 2·Vexc·Rcell/(Rgain+Rcell).
func (s *Sensor) conductivity(m Measurement, celsius float32) (Measurement, error) {
	vcell := m.VPlus + m.VMinus
	span := 2 * m.Excitation
	if vcell >= span {
		// open cell
		m.CellResistance = math32.Inf(1)
		return m, nil
	}
	if vcell <= 0 {
		return m, ErrOutOfRange
	}
	m.CellResistance = m.Gain.Resistance() * vcell / (span - vcell)
	m.Conductivity = s.cfg.CellConstant / m.CellResistance * 1e6
	m.Compensated = m.Conductivity / (1 + s.cfg.TempCoefficient*(celsius-25))
	return m, nil
}

// ReadRaw returns the temperature compensated conductivity in µS/cm
// without filtering.
func (s *Sensor) ReadRaw(celsius float32) (float32, error) {
	m, err := s.Measure(celsius)
	if err != nil {
		return 0, err
	}
	return m.Compensated, nil
}

// Read returns the filtered, temperature compensated conductivity in µS/cm.
func (s *Sensor) Read(celsius float32) (float32, error) {
	raw, err := s.ReadRaw(celsius)
	if err != nil {
		return 0, err
	}
	return s.filt.Step(raw), nil
}

func (s *Sensor) Filter() *filter.Smoother { return s.filt }

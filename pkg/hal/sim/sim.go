// Package sim is a simulated instrument. It answers converter reads from a
// water Environment so the whole measurement path runs without hardware.
package sim

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/chewxy/math32"

	"github.com/ericogr/water-monitor/pkg/hal"
)

const (
	PHAddress    uint16 = 0x48
	ORPECAddress uint16 = 0x49

	phSlope   float32 = -3 / 0.17
	phOffset  float32 = 7
	phTempK   float32 = -0.05694
	ecTempK   float32 = 0.02
	fullScale float32 = 32767
)

var errNoDevice = errors.New("no device at address")

// Environment is the water the probes sit in.
type Environment struct {
	PH float32
	// ORP in mV.
	ORP float32
	// Temperature in °C, seen by the RTD and the onboard taps.
	Temperature float32
	// Conductivity at 25 °C in µS/cm.
	Conductivity float32
	// CellConstant of the EC probe in 1/cm.
	CellConstant float32
}

func DefaultEnvironment() Environment {
	return Environment{PH: 7, ORP: 250, Temperature: 25, Conductivity: 1413, CellConstant: 1}
}

// Board holds the state every simulated collaborator reads and writes.
type Board struct {
	mu  sync.Mutex
	env Environment

	// Reference is the converter full-scale voltage.
	Reference float32
	// DacReference is the DAC output at full count.
	DacReference float32
	// Noise is the standard deviation, in volts, added to each conversion.
	Noise float32
	// GainResistors maps the 3-bit select code to the gain resistor in ohms.
	GainResistors [8]float32

	gain      [3]bool
	pulse     [3]bool
	dacActive bool
	dacCount  uint16
	rtdOffset float32

	sent   []hal.DacCommand
	slept  time.Duration
	reads  map[uint16]int
	faults map[string]error
}

func New(env Environment) *Board {
	b := &Board{
		env:          env,
		Reference:    2.048,
		DacReference: 2.048,
		reads:        map[uint16]int{},
		faults:       map[string]error{},
	}
	r := float32(1)
	for i := range b.GainResistors {
		b.GainResistors[i] = r
		r *= 10
	}
	return b
}

// Hal wires the simulated collaborators into a hal.Board.
func (b *Board) Hal() *hal.Board {
	hb := &hal.Board{
		ADC:   bus{b},
		RTD:   rtd{b},
		DAC:   dac{b},
		Delay: b,
	}
	for i := range hb.Gain {
		hb.Gain[i] = gainPin{b, i}
		hb.Pulse[i] = pulse{b, i}
	}
	return hb
}

func (b *Board) SetEnvironment(env Environment) {
	b.mu.Lock()
	b.env = env
	b.mu.Unlock()
}

func (b *Board) Environment() Environment {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.env
}

// Fail makes every operation on device return err until cleared with a nil
// error. Devices are "adc:0x48", "adc:0x49", "rtd", "dac", "gain" and "pulse".
func (b *Board) Fail(device string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.faults, device)
		return
	}
	b.faults[device] = err
}

func (b *Board) fault(device, op string) error {
	if err, ok := b.faults[device]; ok {
		return &hal.TransportError{Device: device, Op: op, Err: err}
	}
	return nil
}

// Sleep records the delay without blocking.
func (b *Board) Sleep(d time.Duration) {
	b.mu.Lock()
	b.slept += d
	b.mu.Unlock()
}

func (b *Board) Slept() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slept
}

// PulseEnabled reports whether PWM channel i is running.
func (b *Board) PulseEnabled(i int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pulse[i]
}

// DacActive reports whether the DAC is out of shutdown.
func (b *Board) DacActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dacActive
}

// DacCommands returns every command the DAC received.
func (b *Board) DacCommands() []hal.DacCommand {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]hal.DacCommand(nil), b.sent...)
}

// GainCode returns the 3-bit code on the select lines, line 0 as LSB.
func (b *Board) GainCode() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gainCode()
}

// Reads counts conversions per address.
func (b *Board) Reads(addr uint16) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads[addr]
}

func (b *Board) gainCode() uint8 {
	var c uint8
	for i, on := range b.gain {
		if on {
			c |= 1 << i
		}
	}
	return c
}

func (b *Board) excitation() float32 {
	if !b.dacActive || !(b.pulse[0] && b.pulse[1] && b.pulse[2]) {
		return 0
	}
	return float32(b.dacCount) / hal.DacMaxCount * b.DacReference
}

// cellVoltage is the bridge output: the cell and the gain resistor divide
// twice the excitation amplitude. A dry probe is an open cell.
func (b *Board) cellVoltage() float32 {
	vexc := b.excitation()
	if vexc == 0 {
		return 0
	}
	if b.env.Conductivity <= 0 {
		return 2 * vexc
	}
	k := b.env.Conductivity * (1 + ecTempK*(b.env.Temperature-25))
	rCell := b.env.CellConstant / (k * 1e-6)
	rGain := b.GainResistors[b.gainCode()]
	return 2 * vexc * rCell / (rGain + rCell)
}

func tapVoltage(celsius float32) float32 {
	return (celsius + 60) / 100
}

func (b *Board) voltage(addr uint16, in hal.Input) (float32, error) {
	switch addr {
	case PHAddress:
		switch in {
		case hal.DiffA0A1:
			slope := phSlope + phTempK*(b.env.Temperature-25)
			return (b.env.PH - phOffset) / slope, nil
		case hal.SingleA2, hal.SingleA3:
			return tapVoltage(b.env.Temperature), nil
		}
	case ORPECAddress:
		switch in {
		case hal.DiffA0A1:
			return b.env.ORP / 1000, nil
		case hal.SingleA2:
			if b.excitation() == 0 {
				return tapVoltage(b.env.Temperature), nil
			}
			return b.cellVoltage() / 2, nil
		case hal.SingleA3:
			return b.cellVoltage() / 2, nil
		}
	default:
		return 0, errNoDevice
	}
	return 0, nil
}

func (b *Board) convert(addr uint16, in hal.Input) (int16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	dev := fmt.Sprintf("adc:%#x", addr)
	if err := b.fault(dev, "read "+in.String()); err != nil {
		return 0, err
	}
	v, err := b.voltage(addr, in)
	if err != nil {
		return 0, &hal.TransportError{Device: dev, Op: "read " + in.String(), Err: err}
	}
	b.reads[addr]++
	if b.Noise > 0 {
		v += float32(rand.NormFloat64()) * b.Noise
	}
	counts := math32.Floor(v/b.Reference*fullScale + 0.5)
	counts = math32.Max(-fullScale-1, math32.Min(fullScale, counts))
	return int16(counts), nil
}

type bus struct{ b *Board }

func (s bus) Converter(addr uint16) hal.AnalogConverter { return converter{s.b, addr} }

type converter struct {
	b    *Board
	addr uint16
}

func (c converter) Read(in hal.Input) (int16, error) { return c.b.convert(c.addr, in) }

type rtd struct{ b *Board }

func (r rtd) Read() (float32, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if err := r.b.fault("rtd", "read"); err != nil {
		return 0, err
	}
	return r.b.env.Temperature + r.b.rtdOffset, nil
}

// Calibrate trims the simulated RTD so the current water reads celsius.
func (r rtd) Calibrate(celsius float32) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if err := r.b.fault("rtd", "calibrate"); err != nil {
		return err
	}
	r.b.rtdOffset = celsius - r.b.env.Temperature
	return nil
}

type dac struct{ b *Board }

func (d dac) Send(cmd hal.DacCommand) error {
	d.b.mu.Lock()
	defer d.b.mu.Unlock()
	if err := d.b.fault("dac", "send"); err != nil {
		return err
	}
	d.b.sent = append(d.b.sent, cmd)
	d.b.dacActive = !cmd.Shutdown
	d.b.dacCount = cmd.Value
	return nil
}

type gainPin struct {
	b *Board
	i int
}

func (g gainPin) Set(high bool) error {
	g.b.mu.Lock()
	defer g.b.mu.Unlock()
	if err := g.b.fault("gain", fmt.Sprintf("set line %d", g.i)); err != nil {
		return err
	}
	g.b.gain[g.i] = high
	return nil
}

type pulse struct {
	b *Board
	i int
}

func (p pulse) Enable() error {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	if err := p.b.fault("pulse", fmt.Sprintf("enable %d", p.i)); err != nil {
		return err
	}
	p.b.pulse[p.i] = true
	return nil
}

// Disable always switches the channel off; an injected fault is still
// reported.
func (p pulse) Disable() error {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	p.b.pulse[p.i] = false
	return p.b.fault("pulse", fmt.Sprintf("disable %d", p.i))
}

package ec

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/water-monitor/pkg/arbiter"
	"github.com/ericogr/water-monitor/pkg/filter"
	"github.com/ericogr/water-monitor/pkg/hal"
	"github.com/ericogr/water-monitor/pkg/hal/sim"
)

func TestGainBounds(t *testing.T) {
	g, err := GainEight.Raise()
	assert.ErrorIs(t, err, ErrGainLimit)
	assert.Equal(t, GainEight, g)

	g, err = GainTwo.Drop()
	assert.ErrorIs(t, err, ErrGainLimit)
	assert.Equal(t, GainTwo, g)

	g = GainTwo
	for i := 0; i < 6; i++ {
		g, err = g.Raise()
		require.NoError(t, err)
	}
	assert.Equal(t, GainEight, g)
	g, err = g.Drop()
	require.NoError(t, err)
	assert.Equal(t, GainSeven, g)
}

func TestGainEncoding(t *testing.T) {
	assert.Equal(t, uint8(0b001), GainTwo.Bits())
	assert.Equal(t, uint8(0b111), GainEight.Bits())
	assert.Equal(t, float32(10), GainTwo.Resistance())
	assert.Equal(t, float32(1e7), GainEight.Resistance())
	assert.Equal(t, "S5", GainFive.String())
	assert.Equal(t, "gain(9)", Gain(9).String())
}

func TestSwitchDrivesLines(t *testing.T) {
	b := sim.New(sim.DefaultEnvironment())
	sw := NewSwitch(b.Hal().Gain)
	for g := GainTwo; g <= GainEight; g++ {
		require.NoError(t, sw.Set(g))
		assert.Equal(t, g.Bits(), b.GainCode())
	}
	assert.Error(t, sw.Set(Gain(1)))
	assert.Equal(t, GainEight, sw.Gain())
}

func TestExciterPhaseOffset(t *testing.T) {
	b := sim.New(sim.DefaultEnvironment())
	h := b.Hal()
	e := NewExciter(h.Pulse, h.Delay, 94)
	assert.InDelta(t, 5319*time.Microsecond, e.PhaseOffset(), float64(time.Microsecond))

	require.NoError(t, e.Start())
	for i := 0; i < 3; i++ {
		assert.True(t, b.PulseEnabled(i))
	}
	assert.Equal(t, e.PhaseOffset(), b.Slept())
	require.NoError(t, e.Stop())
	for i := 0; i < 3; i++ {
		assert.False(t, b.PulseEnabled(i))
	}
}

func TestDacCounts(t *testing.T) {
	d := NewDac(nil, 2.048)
	assert.Equal(t, uint16(800), d.Counts(0.4))
	assert.Equal(t, uint16(0), d.Counts(-1))
	assert.Equal(t, uint16(hal.DacMaxCount), d.Counts(5))
	assert.InDelta(t, 0.4, d.Voltage(800), 1e-3)
}

type rig struct {
	board  *sim.Board
	client *arbiter.Client
	sensor *Sensor
}

func newRig(t *testing.T, env sim.Environment) rig {
	t.Helper()
	b := sim.New(env)
	h := b.Hal()
	arb := arbiter.New(h.ADC)
	c := arb.Register("orp-ec", sim.ORPECAddress)
	require.NoError(t, c.Take())
	return rig{board: b, client: c, sensor: New(c, h, DefaultConfig(), filter.ECParams(1))}
}

func TestAutoRangeConverges(t *testing.T) {
	r := newRig(t, sim.Environment{Conductivity: 1413, CellConstant: 1, Temperature: 25})
	m, err := r.sensor.Measure(25)
	require.NoError(t, err)

	// 708 ohm cell: S4 (1 kohm) reads too low, S3 (100 ohm) is the first rung
	// above 60% of the bridge span
	assert.Equal(t, GainThree, m.Gain)
	assert.Equal(t, GainThree, r.sensor.Gain())
	assert.InDelta(t, 0.1, m.VPlus+m.VMinus, 0.005)
	assert.InDelta(t, 1413, m.Conductivity, 1413*0.02)
	assert.InDelta(t, 1413, m.Compensated, 1413*0.02)
	assert.Equal(t, Idle, r.sensor.State())

	// the cycle leaves the circuit off
	for i := 0; i < 3; i++ {
		assert.False(t, r.board.PulseEnabled(i))
	}
	assert.False(t, r.board.DacActive())
	cmds := r.board.DacCommands()
	assert.True(t, cmds[len(cmds)-1].Shutdown)
	assert.Equal(t, uint16(800), cmds[1].Value)
}

func TestRangingRestartsFromTop(t *testing.T) {
	r := newRig(t, sim.Environment{Conductivity: 1413, CellConstant: 1, Temperature: 25})
	_, err := r.sensor.Measure(25)
	require.NoError(t, err)

	before := len(r.board.DacCommands())
	r.board.SetEnvironment(sim.Environment{Conductivity: 50, CellConstant: 1, Temperature: 25})
	m, err := r.sensor.Measure(25)
	require.NoError(t, err)
	// wake, 400 mV at S8, final amplitude, shutdown
	cmds := r.board.DacCommands()[before:]
	require.Len(t, cmds, 4)
	assert.Equal(t, uint16(800), cmds[1].Value)
	// 20 kohm cell ranges to S5 (10 kohm)
	assert.Equal(t, GainFive, m.Gain)
	assert.InDelta(t, 50, m.Compensated, 1)
}

func TestTemperatureCompensation(t *testing.T) {
	r := newRig(t, sim.Environment{Conductivity: 1000, CellConstant: 1, Temperature: 35})
	m, err := r.sensor.Measure(35)
	require.NoError(t, err)
	assert.InDelta(t, 1200, m.Conductivity, 1200*0.02)
	assert.InDelta(t, 1000, m.Compensated, 1000*0.02)
}

func TestOpenCellReadsZero(t *testing.T) {
	r := newRig(t, sim.Environment{Conductivity: 0, Temperature: 25})
	got, err := r.sensor.ReadRaw(25)
	require.NoError(t, err)
	assert.Equal(t, GainEight, r.sensor.Gain())
	assert.InDelta(t, 0, got, 0.01)
}

func TestAutoRangeAcceptsBottomRung(t *testing.T) {
	// 0.5 ohm cell never reaches 60% of the span, ranging stops at S2
	r := newRig(t, sim.Environment{Conductivity: 2e6, CellConstant: 1, Temperature: 25})
	m, err := r.sensor.Measure(25)
	require.NoError(t, err)
	assert.Equal(t, GainTwo, m.Gain)
	assert.Equal(t, GainTwo, r.sensor.Gain())
	assert.InDelta(t, 0.5, m.CellResistance, 0.01)
	assert.InDelta(t, 2e6, m.Conductivity, 2e6*0.02)
	assert.Equal(t, Idle, r.sensor.State())
}

func TestShortedCellOutOfRange(t *testing.T) {
	r := newRig(t, sim.Environment{Conductivity: 1e12, CellConstant: 1, Temperature: 25})
	_, err := r.sensor.Measure(25)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Equal(t, GainTwo, r.sensor.Gain())
	assert.Equal(t, Idle, r.sensor.State())
	for i := 0; i < 3; i++ {
		assert.False(t, r.board.PulseEnabled(i))
	}
	assert.False(t, r.board.DacActive())
	assert.Equal(t, float32(0), r.sensor.Filter().Value())
}

func TestBusErrorForcesShutdown(t *testing.T) {
	r := newRig(t, sim.DefaultEnvironment())
	nack := errors.New("nack")
	r.board.Fail("adc:0x49", nack)

	_, err := r.sensor.Read(25)
	assert.ErrorIs(t, err, nack)
	var te *hal.TransportError
	assert.ErrorAs(t, err, &te)
	assert.Equal(t, Idle, r.sensor.State())
	for i := 0; i < 3; i++ {
		assert.False(t, r.board.PulseEnabled(i))
	}
	assert.False(t, r.board.DacActive())
	// the filter never saw the failed cycle
	assert.Equal(t, float32(0), r.sensor.Filter().Value())
}

func TestPulseFailureCombinesErrors(t *testing.T) {
	r := newRig(t, sim.DefaultEnvironment())
	r.board.Fail("pulse", errors.New("timer busy"))

	_, err := r.sensor.Measure(25)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enable 0")
	assert.Contains(t, err.Error(), "disable 2")
	assert.False(t, r.board.DacActive())
}

func TestMeasureNeedsOwnership(t *testing.T) {
	r := newRig(t, sim.DefaultEnvironment())
	require.NoError(t, r.client.Give())
	_, err := r.sensor.Measure(25)
	assert.ErrorIs(t, err, arbiter.ErrDeviceNotHeld)
	assert.Empty(t, r.board.DacCommands())
}

func TestReadFilters(t *testing.T) {
	r := newRig(t, sim.Environment{Conductivity: 1413, CellConstant: 1, Temperature: 25})
	var got float32
	for i := 0; i < 5; i++ {
		v, err := r.sensor.Read(25)
		require.NoError(t, err)
		got = v
	}
	assert.InDelta(t, 1413, got, 1413*0.02)
}

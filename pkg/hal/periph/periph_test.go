package periph

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/ericogr/water-monitor/pkg/hal"
)

type tx struct {
	addr uint16
	w    []byte
}

// fakeI2C records writes and answers reads from a queue.
type fakeI2C struct {
	txs     []tx
	replies [][]byte
	err     error
}

func (f *fakeI2C) String() string                  { return "fake-i2c" }
func (f *fakeI2C) SetSpeed(physic.Frequency) error { return nil }
func (f *fakeI2C) Tx(addr uint16, w, r []byte) error {
	if f.err != nil {
		return f.err
	}
	f.txs = append(f.txs, tx{addr, append([]byte(nil), w...)})
	if len(r) > 0 && len(f.replies) > 0 {
		copy(r, f.replies[0])
		f.replies = f.replies[1:]
	}
	return nil
}

type fakeSPI struct {
	writes  [][]byte
	replies map[byte][]byte
	err     error
}

func (f *fakeSPI) String() string               { return "fake-spi" }
func (f *fakeSPI) Duplex() conn.Duplex          { return conn.Full }
func (f *fakeSPI) TxPackets([]spi.Packet) error { return errors.New("not supported") }
func (f *fakeSPI) Tx(w, r []byte) error {
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, append([]byte(nil), w...))
	if len(r) > 0 {
		copy(r, f.replies[w[0]])
	}
	return nil
}

type recordDelay struct{ total time.Duration }

func (d *recordDelay) Sleep(t time.Duration) { d.total += t }

func TestConfigWordBytes(t *testing.T) {
	tests := []struct {
		in       hal.Input
		pga      byte
		sps      int
		msb, lsb byte
	}{
		// ±4.096V single ended, as used by plain voltage loggers
		{hal.SingleA0, 0x1, 128, 0xC3, 0x83},
		{hal.SingleA1, 0x1, 128, 0xD3, 0x83},
		{hal.SingleA0, 0x1, 8, 0xC3, 0x03},
		// ±2.048V, the instrument default
		{hal.DiffA0A1, 0x2, 128, 0x85, 0x83},
		{hal.SingleA2, 0x2, 128, 0xE5, 0x83},
		{hal.SingleA3, 0x2, 860, 0xF5, 0xE3},
	}
	for _, tt := range tests {
		msb, lsb, err := configWord(tt.in, tt.pga, tt.sps)
		require.NoError(t, err)
		assert.Equal(t, tt.msb, msb, "%s@%d", tt.in, tt.sps)
		assert.Equal(t, tt.lsb, lsb, "%s@%d", tt.in, tt.sps)
	}

	_, _, err := configWord(hal.Input(9), 0x2, 128)
	assert.Error(t, err)
	_, _, err = configWord(hal.SingleA0, 0x2, 100)
	assert.Error(t, err)
}

func TestNewADS1115BusValidates(t *testing.T) {
	_, err := NewADS1115Bus(&fakeI2C{}, 3.3, 128, nil)
	assert.Error(t, err)
	_, err = NewADS1115Bus(&fakeI2C{}, 2.048, 100, nil)
	assert.Error(t, err)
}

func TestADS1115Read(t *testing.T) {
	bus := &fakeI2C{replies: [][]byte{{0x12, 0x34}, {0xff, 0xfe}}}
	delay := &recordDelay{}
	b, err := NewADS1115Bus(bus, 2.048, 128, delay)
	require.NoError(t, err)

	v, err := b.Converter(0x49).Read(hal.DiffA0A1)
	require.NoError(t, err)
	assert.Equal(t, int16(0x1234), v)
	require.Len(t, bus.txs, 2)
	assert.Equal(t, tx{0x49, []byte{pointerConfig, 0x85, 0x83}}, bus.txs[0])
	assert.Equal(t, tx{0x49, []byte{pointerConv}}, bus.txs[1])
	assert.Equal(t, 9*time.Millisecond, delay.total)

	v, err = b.Converter(0x48).Read(hal.SingleA2)
	require.NoError(t, err)
	assert.Equal(t, int16(-2), v)
	assert.Equal(t, uint16(0x48), bus.txs[2].addr)
}

func TestADS1115TransportError(t *testing.T) {
	nack := errors.New("nack")
	b, err := NewADS1115Bus(&fakeI2C{err: nack}, 2.048, 128, &recordDelay{})
	require.NoError(t, err)
	_, err = b.Converter(0x48).Read(hal.DiffA0A1)
	var te *hal.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "ads1115@0x48", te.Device)
	assert.Equal(t, "write config", te.Op)
	assert.ErrorIs(t, err, nack)
}

func TestMCP4921Send(t *testing.T) {
	c := &fakeSPI{}
	d := NewMCP4921(c)
	require.NoError(t, d.Send(hal.Wake(hal.DacA).WithValue(800)))
	require.NoError(t, d.Send(hal.Sleep(hal.DacA)))
	assert.Equal(t, [][]byte{{0x33, 0x20}, {0x20, 0x00}}, c.writes)

	c.err = errors.New("bus")
	assert.Error(t, d.Send(hal.Sleep(hal.DacA)))
}

func TestMAX31865(t *testing.T) {
	c := &fakeSPI{replies: map[byte][]byte{
		// 8192 counts of 32768 at 400 ohm reference is 100 ohm, 0 °C
		regRtdMsb: {0, 0x40, 0x00},
	}}
	d, err := NewMAX31865(c, MAX31865Config{Type: PT100, Wires: 3, MainsHz: 50})
	require.NoError(t, err)
	assert.Equal(t, []byte{regWrite | regConfig, cfgBias | cfgModeAuto | cfg3Wire | cfgFilt50Hz}, c.writes[0])
	assert.Equal(t, float32(400), d.Reference())

	r, err := d.Resistance()
	require.NoError(t, err)
	assert.InDelta(t, 100, r, 1e-3)
	temp, err := d.Read()
	require.NoError(t, err)
	assert.InDelta(t, 0, temp, 1e-2)

	// trim the reference so the same reading means 100 °C
	require.NoError(t, d.Calibrate(100))
	temp, err = d.Read()
	require.NoError(t, err)
	assert.InDelta(t, 100, temp, 1e-2)
}

func TestMAX31865BeyondCurve(t *testing.T) {
	c := &fakeSPI{replies: map[byte][]byte{regRtdMsb: {0, 0x40, 0x00}}}
	d, err := NewMAX31865(c, MAX31865Config{Type: PT100, Wires: 2})
	require.NoError(t, err)

	// a trim at 800 °C inflates the reference past 1.5 kohm, so a near full
	// scale reading is far above the top of the curve
	require.NoError(t, d.Calibrate(800))
	c.replies[regRtdMsb] = []byte{0, 0xff, 0xfe}
	_, err = d.Read()
	assert.ErrorIs(t, err, ErrRtdRange)
}

func TestMAX31865Fault(t *testing.T) {
	c := &fakeSPI{replies: map[byte][]byte{
		regRtdMsb:    {0, 0x40, 0x01},
		regFaultStat: {0, 0x20},
	}}
	d, err := NewMAX31865(c, MAX31865Config{Type: PT1000, Wires: 4, MainsHz: 60})
	require.NoError(t, err)
	assert.Equal(t, float32(4000), d.Reference())

	_, err = d.Read()
	var fe *FaultError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, byte(0x20), fe.Status)
	// the fault is cleared through the config register
	last := c.writes[len(c.writes)-1]
	assert.Equal(t, []byte{regWrite | regConfig, cfgBias | cfgModeAuto | cfgFaultStat}, last)
}

type fakePin struct {
	level gpio.Level
	duty  gpio.Duty
	freq  physic.Frequency
	err   error
}

func (p *fakePin) String() string   { return "GPIO0" }
func (p *fakePin) Halt() error      { return nil }
func (p *fakePin) Name() string     { return "GPIO0" }
func (p *fakePin) Number() int      { return 0 }
func (p *fakePin) Function() string { return "" }
func (p *fakePin) Out(l gpio.Level) error {
	if p.err != nil {
		return p.err
	}
	p.level, p.duty = l, 0
	return nil
}
func (p *fakePin) PWM(d gpio.Duty, f physic.Frequency) error {
	if p.err != nil {
		return p.err
	}
	p.duty, p.freq = d, f
	return nil
}

func TestSelectLineAndPWM(t *testing.T) {
	p := &fakePin{}
	require.NoError(t, NewSelectLine(p).Set(true))
	assert.Equal(t, gpio.High, p.level)

	duty, err := gpio.ParseDuty("50%")
	require.NoError(t, err)
	pwm := NewPWM(p, duty, 94*physic.Hertz)
	require.NoError(t, pwm.Enable())
	assert.Equal(t, duty, p.duty)
	assert.Equal(t, 94*physic.Hertz, p.freq)
	require.NoError(t, pwm.Disable())
	assert.Equal(t, gpio.Low, p.level)

	p.err = errors.New("busy")
	var te *hal.TransportError
	assert.ErrorAs(t, pwm.Enable(), &te)
	assert.Equal(t, "GPIO0", te.Device)
}

package periph

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"
	"periph.io/x/conn/v3/spi"

	"github.com/ericogr/water-monitor/pkg/convert"
	"github.com/ericogr/water-monitor/pkg/hal"
)

const (
	regConfig    = 0x00
	regRtdMsb    = 0x01
	regFaultStat = 0x07
	regWrite     = 0x80

	cfgBias      = 0x80
	cfgModeAuto  = 0x40
	cfg3Wire     = 0x10
	cfgFaultStat = 0x02
	cfgFilt50Hz  = 0x01

	rtdFullScale = 32768
)

var (
	errZeroReading = errors.New("max31865: zero resistance reading")

	// ErrRtdRange is returned when the resistance has no temperature on the
	// platinum curve, usually after a bad reference trim.
	ErrRtdRange = errors.New("max31865: resistance outside rtd range")
)

// RTDType is the nominal resistance of the platinum element at 0 °C.
type RTDType float32

const (
	PT100  RTDType = 100
	PT1000 RTDType = 1000
)

// MAX31865Config describes the RTD front end wiring.
type MAX31865Config struct {
	Type RTDType
	// Wires is 2, 3 or 4.
	Wires int
	// Reference is the reference resistor in ohms.
	Reference float32
	// MainsHz selects the 50 or 60 Hz notch filter.
	MainsHz int
}

// MAX31865 reads an RTD in automatic conversion mode.
type MAX31865 struct {
	conn spi.Conn
	cfg  MAX31865Config
}

// FaultError carries the fault status register.
type FaultError struct {
	Status byte
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("max31865: fault status %#02x", e.Status)
}

// NewMAX31865 writes the configuration register and returns the device.
func NewMAX31865(conn spi.Conn, cfg MAX31865Config) (*MAX31865, error) {
	if cfg.Type == 0 {
		cfg.Type = PT100
	}
	if cfg.Reference == 0 {
		cfg.Reference = 4 * float32(cfg.Type)
	}
	d := &MAX31865{conn: conn, cfg: cfg}
	if err := d.writeConfig(0); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *MAX31865) configByte() byte {
	c := byte(cfgBias | cfgModeAuto)
	if d.cfg.Wires == 3 {
		c |= cfg3Wire
	}
	if d.cfg.MainsHz == 50 {
		c |= cfgFilt50Hz
	}
	return c
}

func (d *MAX31865) writeConfig(extra byte) error {
	if err := d.conn.Tx([]byte{regWrite | regConfig, d.configByte() | extra}, nil); err != nil {
		return &hal.TransportError{Device: "max31865", Op: "write config", Err: err}
	}
	return nil
}

// raw returns the 15-bit resistance ratio. A set fault bit reads the fault
// status, clears it and fails.
func (d *MAX31865) raw() (uint16, error) {
	r := make([]byte, 3)
	if err := d.conn.Tx([]byte{regRtdMsb, 0, 0}, r); err != nil {
		return 0, &hal.TransportError{Device: "max31865", Op: "read rtd", Err: err}
	}
	v := uint16(r[1])<<8 | uint16(r[2])
	if v&1 == 0 {
		return v >> 1, nil
	}
	f := make([]byte, 2)
	if err := d.conn.Tx([]byte{regFaultStat, 0}, f); err != nil {
		return 0, &hal.TransportError{Device: "max31865", Op: "read fault", Err: err}
	}
	if err := d.writeConfig(cfgFaultStat); err != nil {
		return 0, err
	}
	return 0, &FaultError{Status: f[1]}
}

// Resistance returns the RTD resistance in ohms.
func (d *MAX31865) Resistance() (float32, error) {
	adc, err := d.raw()
	if err != nil {
		return 0, err
	}
	return float32(adc) * d.cfg.Reference / rtdFullScale, nil
}

func (d *MAX31865) Read() (float32, error) {
	r, err := d.Resistance()
	if err != nil {
		return 0, err
	}
	t := convert.RtdTemperature(r, float32(d.cfg.Type))
	if math32.IsNaN(t) {
		return 0, fmt.Errorf("%w: %.1f ohm", ErrRtdRange, r)
	}
	return t, nil
}

// Calibrate adjusts the reference resistance so the current reading maps
// to celsius, e.g. 100 in boiling water at sea level.
func (d *MAX31865) Calibrate(celsius float32) error {
	adc, err := d.raw()
	if err != nil {
		return err
	}
	if adc == 0 {
		return errZeroReading
	}
	d.cfg.Reference = convert.RtdResistance(celsius, float32(d.cfg.Type)) * rtdFullScale / float32(adc)
	return nil
}

// Reference returns the reference resistance in use.
func (d *MAX31865) Reference() float32 { return d.cfg.Reference }

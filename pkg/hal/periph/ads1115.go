package periph

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"

	"github.com/ericogr/water-monitor/pkg/hal"
)

const (
	pointerConv   = 0x00
	pointerConfig = 0x01
)

// ADS1115Bus is the I2C bus the converters share. Each Converter call binds
// it to one address.
type ADS1115Bus struct {
	bus        i2c.Bus
	sampleRate int
	pga        byte
	delay      hal.Delay
}

// NewADS1115Bus validates the full-scale reference and data rate once for
// every converter on the bus.
func NewADS1115Bus(bus i2c.Bus, reference float32, sampleRate int, delay hal.Delay) (*ADS1115Bus, error) {
	pga, err := pgaForReference(reference)
	if err != nil {
		return nil, err
	}
	if _, err := dataRate(sampleRate); err != nil {
		return nil, err
	}
	if delay == nil {
		delay = hal.SleepDelay{}
	}
	return &ADS1115Bus{bus: bus, sampleRate: sampleRate, pga: pga, delay: delay}, nil
}

func (b *ADS1115Bus) Converter(addr uint16) hal.AnalogConverter {
	return &ADS1115{dev: &i2c.Dev{Addr: addr, Bus: b.bus}, bus: b}
}

// ADS1115 is one converter in single-shot mode.
type ADS1115 struct {
	dev *i2c.Dev
	bus *ADS1115Bus
}

func (a *ADS1115) device() string {
	return fmt.Sprintf("ads1115@%#x", a.dev.Addr)
}

func (a *ADS1115) Read(in hal.Input) (int16, error) {
	msb, lsb, err := configWord(in, a.bus.pga, a.bus.sampleRate)
	if err != nil {
		return 0, err
	}
	// write config, which starts the conversion
	if err := a.dev.Tx([]byte{pointerConfig, msb, lsb}, nil); err != nil {
		return 0, &hal.TransportError{Device: a.device(), Op: "write config", Err: err}
	}
	delayMs := 1000/a.bus.sampleRate + 2
	a.bus.delay.Sleep(time.Duration(delayMs) * time.Millisecond)
	readBuf := make([]byte, 2)
	if err := a.dev.Tx([]byte{pointerConv}, readBuf); err != nil {
		return 0, &hal.TransportError{Device: a.device(), Op: "read conv", Err: err}
	}
	return int16(readBuf[0])<<8 | int16(readBuf[1]), nil
}

// configWord builds the config register for a single-shot conversion. The
// hal.Input order matches the MUX field.
func configWord(in hal.Input, pga byte, sampleRate int) (byte, byte, error) {
	if in > hal.SingleA3 {
		return 0, 0, fmt.Errorf("ads1115: invalid input %s", in)
	}
	dr, err := dataRate(sampleRate)
	if err != nil {
		return 0, 0, err
	}
	var config uint16 = 0x8000 // OS = 1 (start single conversion)
	config |= uint16(in) << 12
	config |= uint16(pga) << 9
	config |= 1 << 8 // single-shot mode
	config |= uint16(dr) << 5
	// comparator disabled (bits 1:0 = 11)
	config |= 0x3
	return byte(config >> 8), byte(config & 0xFF), nil
}

func pgaForReference(ref float32) (byte, error) {
	switch ref {
	case 6.144:
		return 0x0, nil
	case 4.096:
		return 0x1, nil
	case 2.048:
		return 0x2, nil
	case 1.024:
		return 0x3, nil
	case 0.512:
		return 0x4, nil
	case 0.256:
		return 0x5, nil
	default:
		return 0, fmt.Errorf("ads1115: unsupported full-scale range %gV", ref)
	}
}

func dataRate(sps int) (byte, error) {
	switch sps {
	case 8:
		return 0x0, nil
	case 16:
		return 0x1, nil
	case 32:
		return 0x2, nil
	case 64:
		return 0x3, nil
	case 128:
		return 0x4, nil
	case 250:
		return 0x5, nil
	case 475:
		return 0x6, nil
	case 860:
		return 0x7, nil
	default:
		return 0, fmt.Errorf("ads1115: unsupported sample rate %d", sps)
	}
}

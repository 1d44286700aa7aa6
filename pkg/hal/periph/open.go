// Package periph implements the hal collaborators on top of periph.io:
// ADS1115 converters on I2C, an MCP4921 DAC and a MAX31865 RTD front end on
// SPI, and GPIO select lines and PWM channels for the EC circuit.
package periph

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/ericogr/water-monitor/pkg/config"
	"github.com/ericogr/water-monitor/pkg/hal"
)

const (
	rtdSPIFreq = 1 * physic.MegaHertz
	dacSPIFreq = 10 * physic.MegaHertz
)

type closers []io.Closer

func (c closers) Close() error {
	var err error
	for i := len(c) - 1; i >= 0; i-- {
		err = multierr.Append(err, c[i].Close())
	}
	return err
}

// Open initializes the host drivers and opens every bus and pin named in
// cfg. On failure the already opened buses are closed.
func Open(cfg config.Config) (board *hal.Board, err error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}

	var cs closers
	defer func() {
		if err != nil {
			err = multierr.Append(err, cs.Close())
		}
	}()

	delay := hal.SleepDelay{}
	board = &hal.Board{Delay: delay, Closer: &cs}

	bus, err := i2creg.Open(cfg.I2C.Bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	cs = append(cs, bus)
	adc, err := NewADS1115Bus(bus, cfg.ADC.Reference, cfg.ADC.SampleRate, delay)
	if err != nil {
		return nil, err
	}
	board.ADC = adc

	rtdPort, err := spireg.Open(cfg.RTD.SPI)
	if err != nil {
		return nil, fmt.Errorf("open rtd spi: %w", err)
	}
	cs = append(cs, rtdPort)
	rtdConn, err := rtdPort.Connect(rtdSPIFreq, spi.Mode1, 8)
	if err != nil {
		return nil, fmt.Errorf("connect rtd spi: %w", err)
	}
	rtdType := PT100
	if strings.EqualFold(cfg.RTD.Type, "pt1000") {
		rtdType = PT1000
	}
	rtd, err := NewMAX31865(rtdConn, MAX31865Config{
		Type:      rtdType,
		Wires:     cfg.RTD.Wires,
		Reference: cfg.RTD.ReferenceOhms,
		MainsHz:   cfg.RTD.MainsHz,
	})
	if err != nil {
		return nil, err
	}
	board.RTD = rtd

	if !cfg.EC.Enabled {
		return board, nil
	}

	dacPort, err := spireg.Open(cfg.EC.DacSPI)
	if err != nil {
		return nil, fmt.Errorf("open dac spi: %w", err)
	}
	cs = append(cs, dacPort)
	dacConn, err := dacPort.Connect(dacSPIFreq, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("connect dac spi: %w", err)
	}
	board.DAC = NewMCP4921(dacConn)

	for i, name := range cfg.EC.GainPins {
		pin, err := pinByName(name)
		if err != nil {
			return nil, err
		}
		board.Gain[i] = NewSelectLine(pin)
	}
	freq := physic.Frequency(cfg.EC.FrequencyHz) * physic.Hertz
	for i, name := range cfg.EC.PulsePins {
		pin, err := pinByName(name)
		if err != nil {
			return nil, err
		}
		duty, err := gpio.ParseDuty(cfg.EC.PulseDuty[i])
		if err != nil {
			return nil, fmt.Errorf("pulse duty %q: %w", cfg.EC.PulseDuty[i], err)
		}
		board.Pulse[i] = NewPWM(pin, duty, freq)
	}
	return board, nil
}

func pinByName(name string) (gpio.PinIO, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio %q not found", name)
	}
	return pin, nil
}

// Package monitor coordinates the channels of one instrument. It owns the
// converter arbitration: pH and ORP/EC sit on the same bus at different
// addresses and the monitor hands the bus between them around every read.
//
// A Monitor is not safe for concurrent use.
package monitor

import (
	"errors"
	"fmt"
	"log"
	"time"

	"go.uber.org/multierr"

	"github.com/ericogr/water-monitor/pkg/arbiter"
	"github.com/ericogr/water-monitor/pkg/calibration"
	"github.com/ericogr/water-monitor/pkg/config"
	"github.com/ericogr/water-monitor/pkg/ec"
	"github.com/ericogr/water-monitor/pkg/filter"
	"github.com/ericogr/water-monitor/pkg/hal"
	"github.com/ericogr/water-monitor/pkg/sensor"
)

const (
	ChannelPH    arbiter.ChannelID = "ph"
	ChannelORPEC arbiter.ChannelID = "orp-ec"
)

var (
	ErrECDisabled    = errors.New("monitor: ec channel disabled")
	ErrSharedAddress = errors.New("monitor: ph and orp/ec converters share an address")
)

type Options struct {
	PHAddress    uint16
	ORPECAddress uint16
	// Reference is the converter full-scale voltage.
	Reference float32
	// Dt is the read period the filters are tuned for, in seconds.
	Dt float32
	// FallbackTemperature compensates pH and EC in ReadAll when the RTD fails.
	FallbackTemperature float32
	// EC configures the conductivity channel; nil leaves it out.
	EC *ec.Config
}

func DefaultOptions() Options {
	ecCfg := ec.DefaultConfig()
	return Options{
		PHAddress:           0x48,
		ORPECAddress:        0x49,
		Reference:           ecCfg.Reference,
		Dt:                  1,
		FallbackTemperature: 20,
		EC:                  &ecCfg,
	}
}

// OptionsFromConfig maps the file and flag configuration onto Options.
func OptionsFromConfig(cfg config.Config) Options {
	opts := Options{
		PHAddress:           uint16(cfg.I2C.PHAddress),
		ORPECAddress:        uint16(cfg.I2C.ORPECAddress),
		Reference:           cfg.ADC.Reference,
		Dt:                  cfg.Filter.DtSeconds,
		FallbackTemperature: cfg.FallbackTemperature,
	}
	if cfg.EC.Enabled {
		opts.EC = &ec.Config{
			Reference:         cfg.ADC.Reference,
			DacReference:      cfg.EC.DacReference,
			FrequencyHz:       float32(cfg.EC.FrequencyHz),
			InitialExcitation: cfg.EC.InitialExcitation,
			TargetVoltage:     cfg.EC.TargetVoltage,
			RangeFraction:     ec.DefaultConfig().RangeFraction,
			Settle:            time.Duration(cfg.EC.SettleMs) * time.Millisecond,
			CellConstant:      cfg.EC.CellConstant,
			TempCoefficient:   cfg.EC.TempCoefficient,
		}
	}
	return opts
}

// Voltages are the raw probe voltages used while calibrating.
type Voltages struct {
	PH          sensor.Result `json:"ph"`
	Temperature sensor.Result `json:"temperature"`
	ORP         sensor.Result `json:"orp"`
}

type Monitor struct {
	board     *hal.Board
	arb       *arbiter.Arbiter
	phClient  *arbiter.Client
	orpClient *arbiter.Client

	ph  *sensor.PH
	orp *sensor.ORP
	rtd *sensor.RTD
	ec  *ec.Sensor

	fallback float32
	now      func() time.Time
}

// New builds every channel on board. The pH channel starts out holding
// the converter bus.
func New(board *hal.Board, opts Options) (*Monitor, error) {
	if opts.PHAddress == opts.ORPECAddress {
		return nil, fmt.Errorf("%w: %#x", ErrSharedAddress, opts.PHAddress)
	}
	arb := arbiter.New(board.ADC)
	m := &Monitor{
		board:     board,
		arb:       arb,
		phClient:  arb.Register(ChannelPH, opts.PHAddress),
		orpClient: arb.Register(ChannelORPEC, opts.ORPECAddress),
		rtd:       sensor.NewRTD(board.RTD),
		fallback:  opts.FallbackTemperature,
		now:       time.Now,
	}
	m.ph = sensor.NewPH(m.phClient, opts.Reference, filter.PHParams(opts.Dt))
	m.orp = sensor.NewORP(m.orpClient, opts.Reference, filter.ORPParams(opts.Dt))
	if opts.EC != nil {
		m.ec = ec.New(m.orpClient, board, *opts.EC, filter.ECParams(opts.Dt))
	}
	if err := m.phClient.Take(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Monitor) PH() *sensor.PH   { return m.ph }
func (m *Monitor) ORP() *sensor.ORP { return m.orp }
func (m *Monitor) EC() *ec.Sensor   { return m.ec }

// Holder reports which channel owns the converter bus.
func (m *Monitor) Holder() arbiter.ChannelID { return m.arb.Holder() }

func take(want, other *arbiter.Client) error {
	if want.Held() {
		return nil
	}
	if other.Held() {
		return arbiter.Transfer(other, want)
	}
	return want.Take()
}

func (m *Monitor) takePH() error    { return take(m.phClient, m.orpClient) }
func (m *Monitor) takeORPEC() error { return take(m.orpClient, m.phClient) }

func result(v float32, err error) sensor.Result {
	if err != nil {
		return sensor.Failed(err)
	}
	return sensor.OK(v)
}

// ReadAll takes one composite reading. Each field carries its own error;
// when the RTD fails, pH and EC are compensated at the fallback temperature.
// The bus is handed to ORP/EC for its part and back to pH afterwards.
func (m *Monitor) ReadAll() sensor.Readings {
	r := sensor.Readings{Timestamp: m.now()}

	temp, err := m.rtd.Read()
	r.Temperature = result(temp, err)
	if err != nil {
		log.Printf("temperature read failed, compensating at %.1f °C: %v", m.fallback, err)
		temp = m.fallback
	}

	if err := m.takePH(); err != nil {
		r.PH = sensor.Failed(err)
	} else {
		r.PH = result(m.ph.Read(sensor.OffBoard(temp)))
	}

	if err := m.takeORPEC(); err != nil {
		r.ORP = sensor.Failed(err)
		r.EC = sensor.Failed(err)
	} else {
		r.ORP = result(m.orp.Read())
		if m.ec == nil {
			r.EC = sensor.Failed(ErrECDisabled)
		} else {
			r.EC = result(m.ec.Read(temp))
		}
	}

	if err := m.takePH(); err != nil {
		log.Printf("handoff to ph failed: %v", err)
	}
	return r
}

// ReadTemp reads the RTD in °C.
func (m *Monitor) ReadTemp() (float32, error) {
	return m.rtd.Read()
}

// ReadPH reads pH compensated with the RTD temperature.
func (m *Monitor) ReadPH() (float32, error) {
	temp, err := m.rtd.Read()
	if err != nil {
		return 0, err
	}
	if err := m.takePH(); err != nil {
		return 0, err
	}
	return m.ph.Read(sensor.OffBoard(temp))
}

// ReadORP reads ORP in mV.
func (m *Monitor) ReadORP() (float32, error) {
	if err := m.takeORPEC(); err != nil {
		return 0, err
	}
	return m.orp.Read()
}

// ReadEC reads conductivity in µS/cm compensated with the RTD temperature.
func (m *Monitor) ReadEC() (float32, error) {
	if m.ec == nil {
		return 0, ErrECDisabled
	}
	temp, err := m.rtd.Read()
	if err != nil {
		return 0, err
	}
	if err := m.takeORPEC(); err != nil {
		return 0, err
	}
	return m.ec.Read(temp)
}

func (m *Monitor) ReadPHVoltage() (float32, error) {
	if err := m.takePH(); err != nil {
		return 0, err
	}
	return m.ph.ReadVoltage()
}

// ReadTempVoltage reads the auxiliary temperature input on the pH converter.
func (m *Monitor) ReadTempVoltage() (float32, error) {
	if err := m.takePH(); err != nil {
		return 0, err
	}
	return m.ph.ReadTempVoltage()
}

func (m *Monitor) ReadORPVoltage() (float32, error) {
	if err := m.takeORPEC(); err != nil {
		return 0, err
	}
	return m.orp.ReadVoltage()
}

// ReadVoltages reads every probe voltage, pH side first.
func (m *Monitor) ReadVoltages() Voltages {
	var v Voltages
	v.PH = result(m.ReadPHVoltage())
	v.Temperature = result(m.ReadTempVoltage())
	v.ORP = result(m.ReadORPVoltage())
	if err := m.takePH(); err != nil {
		log.Printf("handoff to ph failed: %v", err)
	}
	return v
}

// CalibratePH captures a pH calibration point at the RTD temperature.
func (m *Monitor) CalibratePH(slot calibration.Slot, ph float32) (calibration.Point, error) {
	temp, err := m.rtd.Read()
	if err != nil {
		return calibration.Point{}, err
	}
	if err := m.takePH(); err != nil {
		return calibration.Point{}, err
	}
	return m.ph.Calibrate(slot, ph, sensor.OffBoard(temp))
}

func (m *Monitor) CalibrateORP(orp float32) (calibration.Point, error) {
	if err := m.takeORPEC(); err != nil {
		return calibration.Point{}, err
	}
	return m.orp.Calibrate(orp)
}

// CalibrateTemp trims the RTD front end against a known temperature.
func (m *Monitor) CalibrateTemp(celsius float32) error {
	return m.rtd.Calibrate(celsius)
}

func (m *Monitor) CalibrateAllPH(pts ...calibration.Point) error {
	return m.ph.CalibrateAll(pts...)
}

func (m *Monitor) CalibrateAllORP(pt calibration.Point) error {
	return m.orp.CalibrateAll(pt)
}

// ResetCalibration restores the factory calibration of pH and ORP.
func (m *Monitor) ResetCalibration() {
	m.ph.ResetCalibration()
	m.orp.ResetCalibration()
}

// Close releases the bus and closes the board.
func (m *Monitor) Close() error {
	var err error
	for _, c := range []*arbiter.Client{m.phClient, m.orpClient} {
		if c.Held() {
			err = multierr.Append(err, c.Give())
		}
	}
	return multierr.Append(err, m.board.Close())
}

package sensor

import (
	"github.com/ericogr/water-monitor/pkg/calibration"
	"github.com/ericogr/water-monitor/pkg/convert"
	"github.com/ericogr/water-monitor/pkg/filter"
	"github.com/ericogr/water-monitor/pkg/hal"
)

// Converter inputs of the pH board.
const (
	phProbeInput   = hal.DiffA0A1
	phTempInput    = hal.SingleA2
	phAuxTempInput = hal.SingleA3
)

// DefaultPHCalibration is the factory two-point calibration.
func DefaultPHCalibration() []calibration.Point {
	return []calibration.Point{
		calibration.NewPoint(0, 7, 25),
		calibration.NewPoint(0.17, 4, 25),
	}
}

// PH is the pH probe channel.
type PH struct {
	src  hal.ConverterSource
	ref  float32
	cal  *calibration.Store
	filt *filter.Smoother
}

func NewPH(src hal.ConverterSource, ref float32, params filter.Params) *PH {
	return &PH{
		src:  src,
		ref:  ref,
		cal:  calibration.NewStore(calibration.PHTempCoefficient, DefaultPHCalibration()...),
		filt: filter.NewSmoother(params),
	}
}

func readVoltage(src hal.ConverterSource, ref float32, in hal.Input) (float32, error) {
	c, err := src.Converter()
	if err != nil {
		return 0, err
	}
	raw, err := c.Read(in)
	if err != nil {
		return 0, err
	}
	return convert.VoltageFromSample(raw, ref), nil
}

// ReadVoltage returns the probe voltage.
func (p *PH) ReadVoltage() (float32, error) {
	return readVoltage(p.src, p.ref, phProbeInput)
}

// ReadTemp returns the onboard temperature tap in °C.
func (p *PH) ReadTemp() (float32, error) {
	v, err := readVoltage(p.src, p.ref, phTempInput)
	if err != nil {
		return 0, err
	}
	return convert.OnboardTemperature(v), nil
}

// ReadTempVoltage returns the auxiliary temperature input voltage.
func (p *PH) ReadTempVoltage() (float32, error) {
	return readVoltage(p.src, p.ref, phAuxTempInput)
}

func (p *PH) temperature(t TempSource) (float32, error) {
	if t.IsOnBoard() {
		return p.ReadTemp()
	}
	return t.Celsius(), nil
}

// ReadRaw returns the calibrated pH without filtering.
func (p *PH) ReadRaw(t TempSource) (float32, error) {
	temp, err := p.temperature(t)
	if err != nil {
		return 0, err
	}
	v, err := p.ReadVoltage()
	if err != nil {
		return 0, err
	}
	return p.cal.Quantity(v, temp)
}

// Read takes one filtered reading. A failed read leaves the filter untouched.
func (p *PH) Read(t TempSource) (float32, error) {
	raw, err := p.ReadRaw(t)
	if err != nil {
		return 0, err
	}
	return p.filt.Step(raw), nil
}

func (p *PH) Predict()                 { p.filt.Predict() }
func (p *PH) Update(raw float32) bool  { return p.filt.Update(raw) }
func (p *PH) Estimate() float32        { return p.filt.Value() }
func (p *PH) Filter() *filter.Smoother { return p.filt }

// Calibrate captures the probe voltage and temperature for a buffer of
// known pH and stores them in slot.
func (p *PH) Calibrate(slot calibration.Slot, ph float32, t TempSource) (calibration.Point, error) {
	temp, err := p.temperature(t)
	if err != nil {
		return calibration.Point{}, err
	}
	v, err := p.ReadVoltage()
	if err != nil {
		return calibration.Point{}, err
	}
	pt := calibration.NewPoint(v, ph, temp)
	if err := p.cal.Set(slot, pt); err != nil {
		return calibration.Point{}, err
	}
	return pt, nil
}

// CalibrateAll replaces the calibration with two or three known points.
func (p *PH) CalibrateAll(pts ...calibration.Point) error {
	if len(pts) < 2 {
		return calibration.ErrCalibrationUnset
	}
	return p.cal.SetAll(pts...)
}

func (p *PH) ResetCalibration() { p.cal.Reset() }

func (p *PH) Calibration() *calibration.Store { return p.cal }

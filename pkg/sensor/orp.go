package sensor

import (
	"github.com/ericogr/water-monitor/pkg/calibration"
	"github.com/ericogr/water-monitor/pkg/convert"
	"github.com/ericogr/water-monitor/pkg/filter"
	"github.com/ericogr/water-monitor/pkg/hal"
)

const (
	orpProbeInput = hal.DiffA0A1
	orpTempInput  = hal.SingleA2
)

// DefaultORPCalibration maps 0.4 V to 400 mV.
func DefaultORPCalibration() calibration.Point {
	return calibration.NewPoint(0.4, 400, 0)
}

// ORP is the oxidation-reduction potential channel, in mV. It has no
// temperature compensation.
type ORP struct {
	src  hal.ConverterSource
	ref  float32
	cal  *calibration.Store
	filt *filter.Smoother
}

func NewORP(src hal.ConverterSource, ref float32, params filter.Params) *ORP {
	return &ORP{
		src:  src,
		ref:  ref,
		cal:  calibration.NewStore(0, DefaultORPCalibration()),
		filt: filter.NewSmoother(params),
	}
}

func (o *ORP) ReadVoltage() (float32, error) {
	return readVoltage(o.src, o.ref, orpProbeInput)
}

// ReadTemp returns the onboard temperature tap in °C. The tap shares its
// input with the EC V+ leg and is only meaningful while EC is idle.
func (o *ORP) ReadTemp() (float32, error) {
	v, err := readVoltage(o.src, o.ref, orpTempInput)
	if err != nil {
		return 0, err
	}
	return convert.OnboardTemperature(v), nil
}

func (o *ORP) ReadRaw() (float32, error) {
	v, err := o.ReadVoltage()
	if err != nil {
		return 0, err
	}
	return o.cal.Quantity(v, 0)
}

func (o *ORP) Read() (float32, error) {
	raw, err := o.ReadRaw()
	if err != nil {
		return 0, err
	}
	return o.filt.Step(raw), nil
}

func (o *ORP) Predict()                 { o.filt.Predict() }
func (o *ORP) Update(raw float32) bool  { return o.filt.Update(raw) }
func (o *ORP) Estimate() float32        { return o.filt.Value() }
func (o *ORP) Filter() *filter.Smoother { return o.filt }

// Calibrate captures the probe voltage in a solution of known ORP (mV).
func (o *ORP) Calibrate(orp float32) (calibration.Point, error) {
	v, err := o.ReadVoltage()
	if err != nil {
		return calibration.Point{}, err
	}
	pt := calibration.NewPoint(v, orp, 0)
	if err := o.cal.SetAll(pt); err != nil {
		return calibration.Point{}, err
	}
	return pt, nil
}

func (o *ORP) CalibrateAll(pt calibration.Point) error {
	return o.cal.SetAll(pt)
}

func (o *ORP) ResetCalibration() { o.cal.Reset() }

func (o *ORP) Calibration() *calibration.Store { return o.cal }

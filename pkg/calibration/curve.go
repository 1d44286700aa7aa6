package calibration

import "github.com/ericogr/water-monitor/pkg/convert"

// Model names the curve family selected by the populated slots.
type Model int

const (
	ModelUnset Model = iota
	ModelRatio
	ModelLinear
	ModelQuadratic
)

func (m Model) String() string {
	switch m {
	case ModelRatio:
		return "ratio"
	case ModelLinear:
		return "linear"
	case ModelQuadratic:
		return "quadratic"
	default:
		return "unset"
	}
}

// Curve maps a voltage at a temperature to a quantity.
type Curve interface {
	Model() Model
	Quantity(v, t float32) float32
}

type ratioCurve struct {
	cal Point
}

func (c ratioCurve) Model() Model { return ModelRatio }

func (c ratioCurve) Quantity(v, _ float32) float32 {
	return convert.Ratio(v, c.cal.Voltage, c.cal.Quantity)
}

type linearCurve struct {
	p0, p1    Point
	tempCoeff float32
}

func (c linearCurve) Model() Model { return ModelLinear }

func (c linearCurve) Quantity(v, t float32) float32 {
	trim := c.tempCoeff * (t - c.p0.Temperature)
	return convert.Linear(v, c.p0.Voltage, c.p0.Quantity, c.p1.Voltage, c.p1.Quantity, trim)
}

type quadraticCurve struct {
	xs, ys    [3]float32
	tRef      float32
	tempCoeff float32
}

func (c quadraticCurve) Model() Model { return ModelQuadratic }

func (c quadraticCurve) Quantity(v, t float32) float32 {
	return convert.Lagrange(c.xs, c.ys, v) + c.tempCoeff*(t-c.tRef)*v
}

func build(m Model, pts [3]Point, tempCoeff float32) (Curve, error) {
	switch m {
	case ModelRatio:
		if pts[First].Voltage == 0 {
			return nil, ErrDegenerate
		}
		return ratioCurve{cal: pts[First]}, nil
	case ModelLinear:
		if pts[First].Voltage == pts[Second].Voltage {
			return nil, ErrDegenerate
		}
		return linearCurve{p0: pts[First], p1: pts[Second], tempCoeff: tempCoeff}, nil
	case ModelQuadratic:
		if err := validate(pts[:]); err != nil {
			return nil, err
		}
		return quadraticCurve{
			xs:        [3]float32{pts[0].Voltage, pts[1].Voltage, pts[2].Voltage},
			ys:        [3]float32{pts[0].Quantity, pts[1].Quantity, pts[2].Quantity},
			tRef:      pts[First].Temperature,
			tempCoeff: tempCoeff,
		}, nil
	default:
		return nil, ErrCalibrationUnset
	}
}

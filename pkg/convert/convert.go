// Package convert holds the stateless mappings from converter counts to
// voltages and from voltages to physical quantities.
package convert

import "github.com/chewxy/math32"

const (
	// DefaultReference is the ADS1115 full-scale range the instrument runs at.
	// It is wider than the probes need, but the onboard temperature tap needs it.
	DefaultReference float32 = 2.048

	fullScaleCounts = 32767
)

// Callendar-Van Dusen coefficients for platinum RTDs (IEC 60751).
const (
	rtdA float32 = 3.9083e-3
	rtdB float32 = -5.775e-7
)

// VoltageFromSample maps a signed 16-bit sample to volts for a converter
// running at the given full-scale reference.
func VoltageFromSample(raw int16, ref float32) float32 {
	return float32(raw) / fullScaleCounts * ref
}

// OnboardTemperature maps the LM61 temperature tap voltage to °C.
func OnboardTemperature(v float32) float32 {
	return 100*v - 60
}

// Linear evaluates the line through (v0, q0) and (v1, q1) at v, with slopeTrim
// added to the slope. v0 and v1 must differ.
func Linear(v, v0, q0, v1, q1, slopeTrim float32) float32 {
	a := (q1 - q0) / (v1 - v0)
	b := q1 - a*v1
	return (a+slopeTrim)*v + b
}

// Lagrange evaluates the degree-2 polynomial through the three points at x.
// The xs must be pairwise distinct.
func Lagrange(xs, ys [3]float32, x float32) float32 {
	var result float32
	for j := 0; j < 3; j++ {
		c := float32(1)
		for i := 0; i < 3; i++ {
			if i == j {
				continue
			}
			c *= (x - xs[i]) / (xs[j] - xs[i])
		}
		result += ys[j] * c
	}
	return result
}

// Ratio evaluates the line through the origin and (vCal, qCal) at v.
func Ratio(v, vCal, qCal float32) float32 {
	return qCal / vCal * v
}

// RtdResistance returns the resistance of a platinum RTD with nominal
// resistance r0 at the given temperature (°C, range 0..850).
func RtdResistance(celsius, r0 float32) float32 {
	return r0 * (1 + rtdA*celsius + rtdB*celsius*celsius)
}

// RtdTemperature inverts RtdResistance.
func RtdTemperature(r, r0 float32) float32 {
	disc := rtdA*rtdA - 4*rtdB*(1-r/r0)
	if disc < 0 {
		return math32.NaN()
	}
	return (-rtdA + math32.Sqrt(disc)) / (2 * rtdB)
}

package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVoltageFromSample(t *testing.T) {
	assert.InDelta(t, 2.048, VoltageFromSample(32767, DefaultReference), 1e-6)
	assert.InDelta(t, 0, VoltageFromSample(0, DefaultReference), 1e-9)
	assert.InDelta(t, -2.048, VoltageFromSample(-32767, DefaultReference), 1e-6)
	assert.InDelta(t, 1.024, VoltageFromSample(16384, DefaultReference), 1e-4)
	assert.InDelta(t, 4.096, VoltageFromSample(32767, 4.096), 1e-6)
}

func TestOnboardTemperature(t *testing.T) {
	assert.InDelta(t, 25, OnboardTemperature(0.85), 1e-4)
	assert.InDelta(t, -60, OnboardTemperature(0), 1e-6)
}

func TestLinearPassesThroughPoints(t *testing.T) {
	points := [][4]float32{
		{0, 7, 0.17, 4},
		{-0.2, 10, 0.25, 2},
		{0.01, 100, 1.5, 900},
	}
	for _, p := range points {
		assert.InDelta(t, p[1], Linear(p[0], p[0], p[1], p[2], p[3], 0), 1e-4)
		assert.InDelta(t, p[3], Linear(p[2], p[0], p[1], p[2], p[3], 0), 1e-4)
	}
}

func TestLinearMidpoint(t *testing.T) {
	assert.InDelta(t, 5.5, Linear(0.085, 0, 7, 0.17, 4, 0), 1e-4)
}

func TestLinearSlopeTrim(t *testing.T) {
	// at v=0 the intercept is unaffected by the slope trim
	assert.InDelta(t, 7, Linear(0, 0, 7, 0.17, 4, -0.5), 1e-5)
	assert.InDelta(t, 5.5-0.5*0.085, Linear(0.085, 0, 7, 0.17, 4, -0.5), 1e-4)
}

func TestLagrangeInterpolates(t *testing.T) {
	xs := [3]float32{-0.17, 0, 0.18}
	ys := [3]float32{10, 7, 4}
	for i := range xs {
		assert.InDelta(t, ys[i], Lagrange(xs, ys, xs[i]), 1e-4)
	}

	// held-out point against the explicit basis sum
	x := float32(0.1)
	l0 := (x - xs[1]) * (x - xs[2]) / ((xs[0] - xs[1]) * (xs[0] - xs[2]))
	l1 := (x - xs[0]) * (x - xs[2]) / ((xs[1] - xs[0]) * (xs[1] - xs[2]))
	l2 := (x - xs[0]) * (x - xs[1]) / ((xs[2] - xs[0]) * (xs[2] - xs[1]))
	want := ys[0]*l0 + ys[1]*l1 + ys[2]*l2
	assert.InDelta(t, want, Lagrange(xs, ys, x), 1e-4)
}

func TestLagrangeReproducesQuadratic(t *testing.T) {
	f := func(x float32) float32 { return 2*x*x - 3*x + 1 }
	xs := [3]float32{0, 1, 3}
	ys := [3]float32{f(0), f(1), f(3)}
	assert.InDelta(t, f(2), Lagrange(xs, ys, 2), 1e-4)
	assert.InDelta(t, f(-1), Lagrange(xs, ys, -1), 1e-4)
}

func TestRatio(t *testing.T) {
	assert.InDelta(t, 400, Ratio(0.4, 0.4, 400), 1e-3)
	assert.InDelta(t, 200, Ratio(0.2, 0.4, 400), 1e-3)
	assert.InDelta(t, 0, Ratio(0, 0.4, 400), 1e-6)
	assert.InDelta(t, -100, Ratio(-0.1, 0.4, 400), 1e-3)
}

func TestRtdRoundTrip(t *testing.T) {
	assert.InDelta(t, 100, RtdResistance(0, 100), 1e-4)
	assert.InDelta(t, 138.5055, RtdResistance(100, 100), 1e-2)
	for _, c := range []float32{0, 20, 25.5, 60, 100} {
		assert.InDelta(t, c, RtdTemperature(RtdResistance(c, 1000), 1000), 1e-2)
	}
}

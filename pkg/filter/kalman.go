// Package filter implements the per-channel recursive estimator: a two state
// (value, rate) Kalman filter observed through the value only, and a
// Smoother that bypasses it on discrete jumps.
package filter

// Params configures one channel's filter.
type Params struct {
	// Dt is the time between reads in seconds.
	Dt float32
	// MeasurementStd is the observation noise standard deviation in quantity units.
	MeasurementStd float32
	// ProcessVar is the white-noise acceleration variance driving Q.
	ProcessVar float32
	// InitialValue is the prior estimate the filter starts from and resets to.
	InitialValue float32
	// InitialVar is the prior variance of both states. Zero picks a prior
	// wide enough that the first update lands on the observation.
	InitialVar float32
	// JumpThreshold is the raw step, in quantity units, that resets the filter.
	JumpThreshold float32
}

// Per-channel defaults.
func PHParams(dt float32) Params {
	return Params{Dt: dt, MeasurementStd: 0.1, ProcessVar: 1e-4, InitialValue: 7, JumpThreshold: 0.2}
}

func ORPParams(dt float32) Params {
	return Params{Dt: dt, MeasurementStd: 10, ProcessVar: 1e-2, JumpThreshold: 30}
}

func ECParams(dt float32) Params {
	return Params{Dt: dt, MeasurementStd: 10, ProcessVar: 1e-2, JumpThreshold: 100}
}

func (p Params) r() float32 {
	return p.MeasurementStd * p.MeasurementStd
}

func (p Params) p0() float32 {
	if p.InitialVar > 0 {
		return p.InitialVar
	}
	r := p.r()
	if r == 0 {
		return 1e3
	}
	return 1e4 * r
}

// Kalman is a constant-velocity filter with state x = [value, rate].
type Kalman struct {
	params Params
	x      [2]float32
	p      [2][2]float32
	q      [2][2]float32
}

func NewKalman(params Params) *Kalman {
	k := &Kalman{params: params}
	dt := params.Dt
	v := params.ProcessVar
	// discrete white noise model, dim 2
	k.q = [2][2]float32{
		{dt * dt * dt * dt / 4 * v, dt * dt * dt / 2 * v},
		{dt * dt * dt / 2 * v, dt * dt * v},
	}
	k.Reset()
	return k
}

// Reset re-initializes the state to the prior.
func (k *Kalman) Reset() {
	p0 := k.params.p0()
	k.x = [2]float32{k.params.InitialValue, 0}
	k.p = [2][2]float32{{p0, 0}, {0, p0}}
}

// Predict advances x by F = [[1, dt], [0, 1]] and inflates P by Q.
func (k *Kalman) Predict() {
	dt := k.params.Dt
	k.x[0] += dt * k.x[1]

	p := k.p
	k.p[0][0] = p[0][0] + dt*(p[1][0]+p[0][1]) + dt*dt*p[1][1] + k.q[0][0]
	k.p[0][1] = p[0][1] + dt*p[1][1] + k.q[0][1]
	k.p[1][0] = p[1][0] + dt*p[1][1] + k.q[1][0]
	k.p[1][1] = p[1][1] + k.q[1][1]
}

// Update folds one scalar observation of the value into the estimate.
func (k *Kalman) Update(z float32) {
	s := k.p[0][0] + k.params.r()
	if s == 0 {
		return
	}
	k0 := k.p[0][0] / s
	k1 := k.p[1][0] / s
	y := z - k.x[0]
	k.x[0] += k0 * y
	k.x[1] += k1 * y

	p := k.p
	k.p[0][0] = p[0][0] - k0*p[0][0]
	k.p[0][1] = p[0][1] - k0*p[0][1]
	k.p[1][0] = p[1][0] - k1*p[0][0]
	k.p[1][1] = p[1][1] - k1*p[0][1]
}

// Value returns the value component of the estimate.
func (k *Kalman) Value() float32 { return k.x[0] }

// Rate returns the rate-of-change component of the estimate.
func (k *Kalman) Rate() float32 { return k.x[1] }

// Covariance returns a copy of P.
func (k *Kalman) Covariance() [2][2]float32 { return k.p }

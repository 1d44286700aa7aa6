package filter

import "github.com/chewxy/math32"

// Smoother wraps a Kalman filter with discrete jump detection: a raw reading
// further than the threshold from the previous raw reading resets the filter
// before it is applied, so step changes show up at once.
type Smoother struct {
	kf        *Kalman
	threshold float32
	last      float32
	resets    int
}

func NewSmoother(params Params) *Smoother {
	return &Smoother{
		kf:        NewKalman(params),
		threshold: params.JumpThreshold,
		last:      params.InitialValue,
	}
}

// Predict runs the prediction half of a cycle.
func (s *Smoother) Predict() {
	s.kf.Predict()
}

// Update runs jump detection and then the correction half of a cycle. It
// reports whether the filter was reset. NaN and infinite readings are
// dropped without touching the estimate.
func (s *Smoother) Update(raw float32) bool {
	if math32.IsNaN(raw) || math32.IsInf(raw, 0) {
		return false
	}
	jumped := s.threshold > 0 && math32.Abs(raw-s.last) > s.threshold
	if jumped {
		s.kf.Reset()
		s.resets++
	}
	s.last = raw
	s.kf.Update(raw)
	return jumped
}

// Step runs predict, jump check and update once and returns the estimate.
func (s *Smoother) Step(raw float32) float32 {
	s.Predict()
	s.Update(raw)
	return s.kf.Value()
}

// Value returns the current estimate.
func (s *Smoother) Value() float32 { return s.kf.Value() }

// Last returns the most recent raw reading.
func (s *Smoother) Last() float32 { return s.last }

// Resets counts the jump resets since construction.
func (s *Smoother) Resets() int { return s.resets }

// Reset drops the estimate back to the prior.
func (s *Smoother) Reset() {
	s.kf.Reset()
	s.last = s.kf.params.InitialValue
}

// Package calibration keeps the per-channel calibration points and turns
// them into a voltage to quantity curve.
//
// A store has three slots. Which slots are populated decides the curve:
//
//	First               ratio through the origin (ORP)
//	First, Second       straight line, optional temperature slope trim (pH)
//	First, Second, Third quadratic Lagrange polynomial
package calibration

import (
	"errors"
	"fmt"
)

// PHTempCoefficient is the pH probe sensitivity drift in pH per volt per °C.
const PHTempCoefficient float32 = -0.05694

var (
	ErrCalibrationUnset = errors.New("calibration: required calibration points are not set")
	ErrDegenerate       = errors.New("calibration: calibration points share a voltage")
	ErrTooManyPoints    = errors.New("calibration: at most three points are supported")
	errSlotOutOfRange   = errors.New("calibration: slot out of range")
)

// Slot identifies a calibration point by position, not by value.
type Slot int

const (
	First Slot = iota
	Second
	Third
)

func (s Slot) String() string {
	switch s {
	case First:
		return "first"
	case Second:
		return "second"
	case Third:
		return "third"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

// Point is one captured (voltage, quantity) pair. Temperature is the probe
// temperature at capture time in °C; it is ignored by curves without a
// temperature term.
type Point struct {
	Voltage     float32 `json:"voltage" yaml:"voltage"`
	Quantity    float32 `json:"quantity" yaml:"quantity"`
	Temperature float32 `json:"temperature" yaml:"temperature"`
}

func NewPoint(v, q, t float32) Point {
	return Point{Voltage: v, Quantity: q, Temperature: t}
}

// Store holds the calibration slots of one channel.
type Store struct {
	points    [3]Point
	set       [3]bool
	defaults  []Point
	tempCoeff float32
	curve     Curve
}

// NewStore returns a store populated with defaults, which Reset restores.
// tempCoeff is the slope trim per °C away from the first point's capture
// temperature; zero disables temperature compensation.
func NewStore(tempCoeff float32, defaults ...Point) *Store {
	s := &Store{
		defaults:  append([]Point(nil), defaults...),
		tempCoeff: tempCoeff,
	}
	s.Reset()
	return s
}

// Set overwrites one slot.
func (s *Store) Set(slot Slot, p Point) error {
	if slot < First || slot > Third {
		return errSlotOutOfRange
	}
	s.points[slot] = p
	s.set[slot] = true
	s.curve = nil
	return nil
}

// Clear empties one slot.
func (s *Store) Clear(slot Slot) {
	if slot < First || slot > Third {
		return
	}
	s.points[slot] = Point{}
	s.set[slot] = false
	s.curve = nil
}

// SetAll replaces every slot: points fill First onward and the remaining
// slots are cleared. The points must have pairwise distinct voltages, and a
// single point must not sit at 0 V.
func (s *Store) SetAll(points ...Point) error {
	if len(points) == 0 {
		return ErrCalibrationUnset
	}
	if len(points) > 3 {
		return ErrTooManyPoints
	}
	if err := validate(points); err != nil {
		return err
	}
	s.points = [3]Point{}
	s.set = [3]bool{}
	for i, p := range points {
		s.points[i] = p
		s.set[i] = true
	}
	s.curve = nil
	return nil
}

// Reset restores the factory defaults.
func (s *Store) Reset() {
	s.points = [3]Point{}
	s.set = [3]bool{}
	for i, p := range s.defaults {
		if i > 2 {
			break
		}
		s.points[i] = p
		s.set[i] = true
	}
	s.curve = nil
}

// Point returns the content of a slot.
func (s *Store) Point(slot Slot) (Point, bool) {
	if slot < First || slot > Third {
		return Point{}, false
	}
	return s.points[slot], s.set[slot]
}

// Points returns the populated slots in order.
func (s *Store) Points() []Point {
	out := make([]Point, 0, 3)
	for i := range s.points {
		if s.set[i] {
			out = append(out, s.points[i])
		}
	}
	return out
}

// Model reports which curve the populated slots select.
func (s *Store) Model() Model {
	switch {
	case !s.set[First]:
		return ModelUnset
	case s.set[Second] && s.set[Third]:
		return ModelQuadratic
	case s.set[Second]:
		return ModelLinear
	case s.set[Third]:
		return ModelUnset
	default:
		return ModelRatio
	}
}

// Curve returns the curve for the current slots, building it on first use.
func (s *Store) Curve() (Curve, error) {
	if s.curve != nil {
		return s.curve, nil
	}
	c, err := build(s.Model(), s.points, s.tempCoeff)
	if err != nil {
		return nil, err
	}
	s.curve = c
	return c, nil
}

// Quantity maps a probe voltage at temperature t (°C) to the calibrated quantity.
func (s *Store) Quantity(v, t float32) (float32, error) {
	c, err := s.Curve()
	if err != nil {
		return 0, err
	}
	return c.Quantity(v, t), nil
}

func validate(points []Point) error {
	if len(points) == 1 {
		if points[0].Voltage == 0 {
			return ErrDegenerate
		}
		return nil
	}
	for i := range points {
		for j := i + 1; j < len(points); j++ {
			if points[i].Voltage == points[j].Voltage {
				return ErrDegenerate
			}
		}
	}
	return nil
}

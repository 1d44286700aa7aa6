package ec

import (
	"errors"
	"fmt"

	"github.com/ericogr/water-monitor/pkg/hal"
)

var ErrGainLimit = errors.New("ec: gain already at limit")

// Gain is a rung of the gain resistor ladder, S2 through S8 on the
// multiplexer. Higher rungs switch in larger resistors.
type Gain uint8

const (
	GainTwo Gain = iota + 2
	GainThree
	GainFour
	GainFive
	GainSix
	GainSeven
	GainEight
)

func (g Gain) Valid() bool { return g >= GainTwo && g <= GainEight }

// Raise moves one rung up.
func (g Gain) Raise() (Gain, error) {
	if g >= GainEight {
		return g, ErrGainLimit
	}
	return g + 1, nil
}

// Drop moves one rung down.
func (g Gain) Drop() (Gain, error) {
	if g <= GainTwo {
		return g, ErrGainLimit
	}
	return g - 1, nil
}

// Bits is the multiplexer address: S2 is 001, S8 is 111.
func (g Gain) Bits() uint8 { return uint8(g) - 1 }

// Resistance is the gain resistor in ohms, one decade per rung from 10 Ω.
func (g Gain) Resistance() float32 {
	r := float32(1)
	for i := uint8(0); i < g.Bits(); i++ {
		r *= 10
	}
	return r
}

func (g Gain) String() string {
	if !g.Valid() {
		return fmt.Sprintf("gain(%d)", uint8(g))
	}
	return fmt.Sprintf("S%d", uint8(g))
}

// Switch drives the three multiplexer select lines, line 0 as LSB.
type Switch struct {
	pins [3]hal.DigitalOutput
	gain Gain
}

func NewSwitch(pins [3]hal.DigitalOutput) *Switch {
	return &Switch{pins: pins}
}

func (s *Switch) Set(g Gain) error {
	if !g.Valid() {
		return fmt.Errorf("ec: invalid %s", g)
	}
	bits := g.Bits()
	for i, p := range s.pins {
		if err := p.Set(bits>>i&1 == 1); err != nil {
			return err
		}
	}
	s.gain = g
	return nil
}

// Gain returns the last rung set successfully.
func (s *Switch) Gain() Gain { return s.gain }

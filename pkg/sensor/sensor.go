// Package sensor implements the probe channels read through the shared
// converter (pH, ORP) and the RTD channel on its own bus.
package sensor

import (
	"encoding/json"
	"errors"
	"time"
)

// Result is one channel's outcome. Exactly one of Value and Err is meaningful.
type Result struct {
	Value float32
	Err   error
}

func OK(v float32) Result     { return Result{Value: v} }
func Failed(err error) Result { return Result{Err: err} }
func (r Result) Valid() bool  { return r.Err == nil }

type resultJSON struct {
	Value *float32 `json:"value,omitempty"`
	Error string   `json:"error,omitempty"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(resultJSON{Error: r.Err.Error()})
	}
	v := r.Value
	return json.Marshal(resultJSON{Value: &v})
}

func (r *Result) UnmarshalJSON(b []byte) error {
	var rj resultJSON
	if err := json.Unmarshal(b, &rj); err != nil {
		return err
	}
	*r = Result{}
	if rj.Error != "" {
		r.Err = errors.New(rj.Error)
		return nil
	}
	if rj.Value != nil {
		r.Value = *rj.Value
	}
	return nil
}

// Readings is a composite reading. Every field is independent: one
// channel failing never hides another.
type Readings struct {
	Timestamp   time.Time `json:"timestamp"`
	PH          Result    `json:"ph"`
	Temperature Result    `json:"temperature"`
	EC          Result    `json:"ec"`
	ORP         Result    `json:"orp"`
}

// TempSource says where temperature compensation comes from.
type TempSource struct {
	onBoard bool
	celsius float32
}

// OnBoard compensates with the channel's own LM61 tap.
func OnBoard() TempSource { return TempSource{onBoard: true} }

// OffBoard compensates with a temperature measured elsewhere, usually the RTD.
func OffBoard(celsius float32) TempSource { return TempSource{celsius: celsius} }

func (t TempSource) IsOnBoard() bool  { return t.onBoard }
func (t TempSource) Celsius() float32 { return t.celsius }

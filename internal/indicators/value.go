package indicators

import (
	"encoding/json"
	"math"
	"strconv"
)

// Value is an indicator result that may be unavailable because the input
// history is too short. An unavailable value never carries a number, so a
// missing RSI can't be mistaken for RSI=0.
type Value struct {
	V  float64
	OK bool
}

// Unavailable is the zero Value.
var Unavailable = Value{}

// Available wraps a computed number. NaN and Inf are reported as unavailable.
func Available(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Unavailable
	}
	return Value{V: v, OK: true}
}

// Or returns the value, or def when unavailable.
func (v Value) Or(def float64) float64 {
	if !v.OK {
		return def
	}
	return v.V
}

// MarshalJSON encodes an unavailable value as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.OK {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(v.V, 'f', -1, 64)), nil
}

// UnmarshalJSON accepts a number or null.
func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Unavailable
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*v = Available(f)
	return nil
}

// NeutralRSI is the substitute used by consumers that need a number when
// RSI is unavailable.
const NeutralRSI = 50.0

// RSIOrNeutral returns the RSI value, or 50 when unavailable.
func RSIOrNeutral(v Value) float64 {
	return v.Or(NeutralRSI)
}

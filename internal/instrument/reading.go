// internal/instrument/reading.go
package instrument

import (
	"errors"
	"strconv"
	"time"
)

// Code addresses one measured or configuration quantity within an
// instrument's protocol. Numeric parameter ids ("1635000") and symbolic
// field names ("o3") share this one type.
type Code string

// NumCode renders a numeric parameter id as a Code.
func NumCode(id int32) Code {
	return Code(strconv.FormatInt(int64(id), 10))
}

// Int reports the numeric form of the code, if it has one.
func (c Code) Int() (int32, bool) {
	v, err := strconv.ParseInt(string(c), 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(v), true
}

// Value is one scalar parameter value: numeric or short text.
type Value struct {
	Num     float64
	Text    string
	Numeric bool
}

// Num makes a numeric Value.
func Num(v float64) Value { return Value{Num: v, Numeric: true} }

// Text makes a textual Value.
func Text(s string) Value { return Value{Text: s} }

// Reading is one time-stamped set of parameter values. Exactly one
// timestamp, at least one data parameter, codes unique within the reading,
// insertion order preserved.
type Reading struct {
	Timestamp time.Time
	Codes     []Code
	Values    map[Code]Value
}

// NewReading starts an empty reading at the given timestamp.
func NewReading(ts time.Time) *Reading {
	return &Reading{Timestamp: ts, Values: make(map[Code]Value)}
}

// Add appends one parameter value, rejecting duplicate codes.
func (r *Reading) Add(c Code, v Value) error {
	if _, dup := r.Values[c]; dup {
		return errors.New("instrument: duplicate code " + string(c))
	}
	r.Codes = append(r.Codes, c)
	r.Values[c] = v
	return nil
}

// Valid reports whether the reading satisfies its invariants.
func (r *Reading) Valid() bool {
	return r != nil && !r.Timestamp.IsZero() && len(r.Codes) > 0
}

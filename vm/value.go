package vm

import (
	"math"
	"strconv"

	"github.com/josharian/intern"
)

// Value is the tagged sum of every runtime value golox knows about: nil,
// booleans, numbers, and heap-allocated strings.
type Value interface{ isValue() }

func NewValue() Value { return VNil{} }

type VBool bool

func (VBool) isValue()         {}
func (v VBool) String() string { return strconv.FormatBool(bool(v)) }

type VNil struct{}

func (VNil) isValue()        {}
func (VNil) String() string  { return "nil" }

type VNum float64

func (VNum) isValue() {}

// String renders the number the way `print` does: plain decimal, with no
// trailing ".0" for integral values.
func (v VNum) String() string {
	f := float64(v)
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// VStr is golox's only heap object. The backing Go string is interned so
// that repeated occurrences of the same identifier or literal - the
// overwhelmingly common case for globals-table keys - share one allocation,
// the role clox's string interning table plays without needing a
// hand-rolled intern set here.
type VStr string

func NewVStr(s string) VStr { return VStr(intern.String(s)) }

func (VStr) isValue()         {}
func (v VStr) String() string { return string(v) }

// VAdd implements `+`: numeric addition, or string concatenation when both
// operands are strings. Any other pairing is rejected by the caller.
func VAdd(v, w Value) (res Value, ok bool) {
	res = NewValue()
	switch v := v.(type) {
	case VNum:
		if w, ok := w.(VNum); ok {
			return v + w, true
		}
	case VStr:
		if w, ok := w.(VStr); ok {
			return NewVStr(string(v) + string(w)), true
		}
	}
	return
}

func VSub(v, w Value) (res Value, ok bool) {
	res = NewValue()
	switch v := v.(type) {
	case VNum:
		if w, ok := w.(VNum); ok {
			return v - w, true
		}
	}
	return
}

func VMul(v, w Value) (res Value, ok bool) {
	res = NewValue()
	switch v := v.(type) {
	case VNum:
		if w, ok := w.(VNum); ok {
			return v * w, true
		}
	}
	return
}

func VDiv(v, w Value) (res Value, ok bool) {
	res = NewValue()
	switch v := v.(type) {
	case VNum:
		if w, ok := w.(VNum); ok {
			return v / w, true
		}
	}
	return
}

func VGreater(v, w Value) (res Value, ok bool) {
	res = NewValue()
	switch v := v.(type) {
	case VNum:
		if w, ok := w.(VNum); ok {
			return VBool(v > w), true
		}
	}
	return
}

func VLess(v, w Value) (res Value, ok bool) {
	res = NewValue()
	switch v := v.(type) {
	case VNum:
		if w, ok := w.(VNum); ok {
			return VBool(v < w), true
		}
	}
	return
}

func VNeg(v Value) (res Value, ok bool) {
	res = NewValue()
	switch v := v.(type) {
	case VNum:
		return -v, true
	}
	return
}

// VTruthy reports whether v is truthy. Nil and false are the only falsy
// values; everything else, including the number 0, is truthy.
func VTruthy(v Value) VBool {
	switch v := v.(type) {
	case VBool:
		return v
	case VNil:
		return false
	default:
		return true
	}
}

func VFalsy(v Value) bool { return !bool(VTruthy(v)) }

// VEq implements the corrected equality rule: same-type structural/IEEE/
// byte-wise comparison, and false across any two different types. No
// numeric coercion, unlike the aborted iteration this was distilled from.
func VEq(v, w Value) VBool {
	switch v := v.(type) {
	case VNil:
		_, ok := w.(VNil)
		return VBool(ok)
	case VBool:
		w, ok := w.(VBool)
		return VBool(ok && v == w)
	case VNum:
		w, ok := w.(VNum)
		return VBool(ok && v == w)
	case VStr:
		w, ok := w.(VStr)
		return VBool(ok && v == w)
	default:
		return false
	}
}

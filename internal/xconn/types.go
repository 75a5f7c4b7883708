package xconn

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// Window is an X window id
type Window uint32

func (w Window) String() string {
	return fmt.Sprintf("0x%x", uint32(w))
}

// Atom is an interned X atom id
type Atom uint32

// Opacity is the raw CARDINAL stored in _NET_WM_WINDOW_OPACITY, widened so
// that a missing property has a value of its own
type Opacity int64

// MaxOpacity is the fully opaque value accepted by X
const MaxOpacity Opacity = math.MaxUint32

// OpacityUnset is reported for windows without an opacity property. It never
// equals a value read from the server.
const OpacityUnset Opacity = -1

// IsSet reports whether o came from an actual property value
func (o Opacity) IsSet() bool {
	return o >= 0 && o <= MaxOpacity
}

// Fraction converts the raw value to the 0..1 range. An unset property reads
// as 1, since EWMH treats it as fully opaque.
func (o Opacity) Fraction() float64 {
	if !o.IsSet() {
		return 1
	}
	return float64(o) / float64(MaxOpacity)
}

func (o Opacity) String() string {
	if !o.IsSet() {
		return "unset"
	}
	return strconv.FormatInt(int64(o), 10)
}

// MarshalJSON encodes an unset opacity as null and anything else as the raw
// CARDINAL
func (o Opacity) MarshalJSON() ([]byte, error) {
	if !o.IsSet() {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, int64(o), 10), nil
}

// OpacityFromFraction converts a 0..1 fraction to the raw value, clamping
func OpacityFromFraction(f float64) Opacity {
	switch {
	case f <= 0:
		return 0
	case f >= 1:
		return MaxOpacity
	}
	return Opacity(f * float64(MaxOpacity))
}

// EventKind distinguishes the notifications the harness cares about
type EventKind int

const (
	EventOther EventKind = iota
	EventPropertyNotify
)

// Event is a protocol notification
type Event struct {
	Kind    EventKind
	Window  Window
	Atom    Atom
	Deleted bool
	// Detail describes events of kind EventOther
	Detail string
}

// DecodeCardinal reads the first 32-bit little-endian value of a property.
// ok is false when the property holds fewer than four bytes.
func DecodeCardinal(value []byte) (v uint32, ok bool) {
	if len(value) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(value), true
}

// EncodeCardinal packs a value the way ChangeProperty expects for format 32
func EncodeCardinal(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}

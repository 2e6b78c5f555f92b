package lwm2m

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ResourceType is the declared data type of a resource.
// It is fixed when the resource is created.
type ResourceType int

// Resource data types.
const (
	TypeString ResourceType = iota + 1
	TypeInteger
	TypeFloat
	TypeBoolean
	TypeOpaque
)

// String returns the upper-case LwM2M name of the type.
func (t ResourceType) String() string {
	switch t {
	case TypeString:
		return "STRING"
	case TypeInteger:
		return "INTEGER"
	case TypeFloat:
		return "FLOAT"
	case TypeBoolean:
		return "BOOLEAN"
	case TypeOpaque:
		return "OPAQUE"
	default:
		return "UNKNOWN"
	}
}

// Operations is the set of operations a resource allows.
type Operations uint8

// Resource operations.
const (
	OpRead Operations = 1 << iota
	OpWrite

	OpReadWrite = OpRead | OpWrite
)

// String returns R, W or RW.
func (o Operations) String() string {
	var b strings.Builder
	if o&OpRead != 0 {
		b.WriteByte('R')
	}
	if o&OpWrite != 0 {
		b.WriteByte('W')
	}
	return b.String()
}

// Value is a typed resource value.
type Value struct {
	typ ResourceType
	s   string
	i   int64
	f   float64
	b   bool
	o   []byte
}

// StringValue returns a STRING value.
func StringValue(s string) Value { return Value{typ: TypeString, s: s} }

// IntegerValue returns an INTEGER value.
func IntegerValue(i int64) Value { return Value{typ: TypeInteger, i: i} }

// FloatValue returns a FLOAT value.
func FloatValue(f float64) Value { return Value{typ: TypeFloat, f: f} }

// BooleanValue returns a BOOLEAN value.
func BooleanValue(b bool) Value { return Value{typ: TypeBoolean, b: b} }

// OpaqueValue returns an OPAQUE value. The slice is copied.
func OpaqueValue(o []byte) Value {
	return Value{typ: TypeOpaque, o: append([]byte(nil), o...)}
}

// Type returns the value's data type.
func (v Value) Type() ResourceType { return v.typ }

// IsZero reports whether the value was never set.
func (v Value) IsZero() bool { return v.typ == 0 }

// Str returns the value of a STRING.
func (v Value) Str() string { return v.s }

// Int returns the value of an INTEGER.
func (v Value) Int() int64 { return v.i }

// Bool returns the value of a BOOLEAN.
func (v Value) Bool() bool { return v.b }

// Bytes returns a copy of an OPAQUE value.
func (v Value) Bytes() []byte { return append([]byte(nil), v.o...) }

// Number returns the value as float64 for INTEGER and FLOAT values.
func (v Value) Number() (float64, bool) {
	switch v.typ {
	case TypeInteger:
		return float64(v.i), true
	case TypeFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Equal reports whether two values have the same type and content.
func (v Value) Equal(other Value) bool {
	if v.typ != other.typ {
		return false
	}
	switch v.typ {
	case TypeString:
		return v.s == other.s
	case TypeInteger:
		return v.i == other.i
	case TypeFloat:
		return v.f == other.f
	case TypeBoolean:
		return v.b == other.b
	case TypeOpaque:
		return bytes.Equal(v.o, other.o)
	default:
		return true
	}
}

// String renders the value for logs and MQTT payloads.
func (v Value) String() string {
	switch v.typ {
	case TypeString:
		return v.s
	case TypeInteger:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeBoolean:
		return strconv.FormatBool(v.b)
	case TypeOpaque:
		return base64.StdEncoding.EncodeToString(v.o)
	default:
		return ""
	}
}

// convertTo adapts v to the declared type t where the conversion is lossless.
// SenML carries INTEGER and FLOAT in the same field, so an integral float is
// accepted for an INTEGER resource.
func (v Value) convertTo(t ResourceType) (Value, error) {
	if v.typ == t {
		return v, nil
	}
	if t == TypeInteger && v.typ == TypeFloat && v.f == math.Trunc(v.f) &&
		v.f >= -(1<<63) && v.f < 1<<63 {
		return IntegerValue(int64(v.f)), nil
	}
	if t == TypeFloat && v.typ == TypeInteger {
		return FloatValue(float64(v.i)), nil
	}
	return Value{}, fmt.Errorf("%w: have %s, want %s", ErrTypeMismatch, v.typ, t)
}

// Resource is a single LwM2M resource with its declared metadata.
type Resource struct {
	ID         uint16
	Type       ResourceType
	Operations Operations
	Observable bool
	Value      Value
}

// ResourceDef describes a resource to create.
type ResourceDef struct {
	Type       ResourceType
	Operations Operations
	Observable bool
	Initial    Value
}

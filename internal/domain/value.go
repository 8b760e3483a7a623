package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cast"
)

// Kind enumerates the value kinds an event field can hold
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindTime:
		return "timestamp"
	default:
		return "null"
	}
}

// Value is a single loosely typed event field
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	t    time.Time
}

func NullValue() Value { return Value{} }

func StringValue(s string) Value { return Value{kind: KindString, str: s} }

func NumberValue(f float64) Value { return Value{kind: KindNumber, num: f} }

func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

func TimeValue(t time.Time) Value { return Value{kind: KindTime, t: t} }

// Kind returns the kind of the value
func (v Value) Kind() Kind { return v.kind }

// Time returns the timestamp held by a KindTime value
func (v Value) Time() (time.Time, bool) { return v.t, v.kind == KindTime }

// ValueOf converts a decoded Go value into a Value.
// Nested arrays and objects keep their JSON text as a string.
func ValueOf(x any) Value {
	switch t := x.(type) {
	case nil:
		return NullValue()
	case Value:
		return t
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case time.Time:
		return TimeValue(t)
	case *time.Time:
		if t == nil {
			return NullValue()
		}
		return TimeValue(*t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return StringValue(t.String())
		}
		return NumberValue(f)
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return NumberValue(cast.ToFloat64(t))
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return StringValue(fmt.Sprint(t))
		}
		return StringValue(string(raw))
	}
}

// IsNull reports a missing value; NaN numbers count as missing
func (v Value) IsNull() bool {
	return v.kind == KindNull || (v.kind == KindNumber && math.IsNaN(v.num))
}

// IsEmpty reports a null value or an empty string
func (v Value) IsEmpty() bool {
	return v.IsNull() || (v.kind == KindString && v.str == "")
}

// String renders the value as text; null renders as the empty string
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		if math.IsNaN(v.num) {
			return ""
		}
		return cast.ToString(v.num)
	case KindBool:
		return cast.ToString(v.b)
	case KindTime:
		return FormatISO(v.t)
	default:
		return ""
	}
}

// Interface returns the plain Go representation
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		if math.IsNaN(v.num) {
			return nil
		}
		return v.num
	case KindBool:
		return v.b
	case KindTime:
		return v.t
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case v.IsNull():
		return []byte("null"), nil
	case v.kind == KindTime:
		return json.Marshal(FormatISO(v.t))
	default:
		return json.Marshal(v.Interface())
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return err
	}
	*v = ValueOf(x)
	return nil
}

// FormatISO renders a timestamp as ISO-8601, omitting the offset for UTC
func FormatISO(t time.Time) string {
	if t.Location() == time.UTC {
		return t.Format("2006-01-02T15:04:05.999999")
	}
	return t.Format("2006-01-02T15:04:05.999999-07:00")
}

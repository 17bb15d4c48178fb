package iceberg

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	jsonpkg "github.com/Vadoid/iceberg-explorer/pkg/json"
)

// Kind is the variant held by a Value.
type Kind uint8

// Value kinds.
const (
	KindNull Kind = iota
	KindString
	KindInteger
	KindFloat
	KindBool
	KindTimestamp
	KindList
	KindMap
)

// Value is a partition or statistics value decoded from a manifest. It has
// one canonical JSON encoding regardless of whether it came from Avro or JSON.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	t    time.Time
	list []Value
	m    map[string]Value
}

// NullValue returns the null Value.
func NullValue() Value { return Value{} }

// StringValue wraps s.
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// IntValue wraps i.
func IntValue(i int64) Value { return Value{kind: KindInteger, i: i} }

// FloatValue wraps f.
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

// BoolValue wraps b.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// TimestampValue wraps t in UTC.
func TimestampValue(t time.Time) Value { return Value{kind: KindTimestamp, t: t.UTC()} }

// ListValue wraps items.
func ListValue(items ...Value) Value { return Value{kind: KindList, list: items} }

// MapValue wraps m.
func MapValue(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// ValueOf converts a decoded container value into a Value. Avro unions must
// already be unwrapped.
func ValueOf(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return NullValue()
	case Value:
		return t
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case int:
		return IntValue(int64(t))
	case int32:
		return IntValue(int64(t))
	case int64:
		return IntValue(t)
	case uint32:
		return IntValue(int64(t))
	case float32:
		return FloatValue(float64(t))
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return IntValue(int64(t))
		}
		return FloatValue(t)
	case jsonpkg.Number:
		if i, err := t.Int64(); err == nil {
			return IntValue(i)
		}
		if f, err := t.Float64(); err == nil {
			return FloatValue(f)
		}
		return StringValue(t.String())
	case time.Time:
		return TimestampValue(t)
	case []byte:
		if utf8.Valid(t) {
			return StringValue(string(t))
		}
		return StringValue(base64.StdEncoding.EncodeToString(t))
	case *big.Rat:
		return StringValue(decimalString(t))
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = ValueOf(item)
		}
		return ListValue(items...)
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = ValueOf(item)
		}
		return MapValue(m)
	default:
		return StringValue(fmt.Sprint(t))
	}
}

// decimalString renders an Avro decimal with the fewest digits that keep it
// exact. Rationals from Avro always have a power-of-ten scale of at most 38.
func decimalString(r *big.Rat) string {
	ten := big.NewInt(10)
	pow := big.NewInt(1)
	rem := new(big.Int)
	for scale := 0; scale <= 38; scale++ {
		if rem.Mod(pow, r.Denom()).Sign() == 0 {
			return r.FloatString(scale)
		}
		pow.Mul(pow, ten)
	}
	return r.FloatString(38)
}

// Kind returns the variant.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string payload.
func (v Value) Str() string { return v.s }

// Int returns the integer payload.
func (v Value) Int() int64 { return v.i }

// Float returns the float payload.
func (v Value) Float() float64 { return v.f }

// Bool returns the boolean payload.
func (v Value) Bool() bool { return v.b }

// Time returns the timestamp payload.
func (v Value) Time() time.Time { return v.t }

// List returns the list payload.
func (v Value) List() []Value { return v.list }

// Map returns the map payload.
func (v Value) Map() map[string]Value { return v.m }

// Normalized replaces timestamps, at any depth, with their ISO-8601 string.
func (v Value) Normalized() Value {
	switch v.kind {
	case KindTimestamp:
		return StringValue(formatISO(v.t))
	case KindList:
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			items[i] = item.Normalized()
		}
		return ListValue(items...)
	case KindMap:
		m := make(map[string]Value, len(v.m))
		for k, item := range v.m {
			m[k] = item.Normalized()
		}
		return MapValue(m)
	default:
		return v
	}
}

// String renders v for display.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return v.s
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTimestamp:
		return formatISO(v.t)
	default:
		data, _ := v.MarshalJSON()
		return string(data)
	}
}

// MarshalJSON implements json.Marshaler. Map keys are written in sorted order
// and timestamps as RFC 3339 UTC strings. Non-finite floats encode as null.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindString:
		return writeJSONString(buf, v.s)
	case KindInteger:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			buf.WriteString("null")
			return nil
		}
		buf.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindTimestamp:
		return writeJSONString(buf, formatISO(v.t))
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		return writeJSONMap(buf, v.m)
	}
	return nil
}

func writeJSONMap(buf *bytes.Buffer, m map[string]Value) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := m[k].writeJSON(buf); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	data, err := jsonpkg.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}

// CanonicalPartitionKey is the compact, key-sorted JSON encoding of a
// partition map. Maps with the same pairs produce the same key whatever their
// insertion order; an empty or nil map is "{}".
func CanonicalPartitionKey(partition map[string]Value) string {
	if len(partition) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := writeJSONMap(&buf, partition); err != nil {
		return "{}"
	}
	return buf.String()
}

func formatISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

package container

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/linkedin/goavro/v2"
)

// NativeDecoder reads Avro object container files with their embedded schema.
type NativeDecoder struct{}

// Strategy implements Decoder.
func (NativeDecoder) Strategy() Strategy { return StrategyNative }

// Decode implements Decoder. A stream that fails part way is a failure; records
// decoded before the error are discarded.
func (NativeDecoder) Decode(data []byte) ([]Record, error) {
	ocfReader, err := goavro.NewOCFReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create Avro reader: %w", err)
	}

	normalize := NormalizerFor(ocfReader.Codec().Schema())
	var records []Record
	for ocfReader.Scan() {
		datum, err := ocfReader.Read()
		if err != nil {
			return nil, fmt.Errorf("failed to read Avro datum: %w", err)
		}
		rec, ok := normalize(datum).(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("avro datum is %T, not a record", datum)
		}
		records = append(records, rec)
	}
	if err := ocfReader.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan Avro blocks: %w", err)
	}
	return records, nil
}

// Normalize unwraps goavro union encodings recursively without a schema.
// goavro represents a non-null union value as a single entry map keyed by the
// branch type name, e.g. {"long": 7} or {"long.timestamp-micros": t}; only
// primitive, array and map branches are recognized here. Decoders that have
// the writer schema use Schema.Normalize instead.
func Normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if len(t) == 1 {
			for k, inner := range t {
				if isUnionBranch(k) {
					return Normalize(inner)
				}
			}
		}
		out := make(map[string]interface{}, len(t))
		for k, inner := range t {
			out[k] = Normalize(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, inner := range t {
			out[i] = Normalize(inner)
		}
		return out
	default:
		return v
	}
}

func isUnionBranch(key string) bool {
	if avroPrimitives[key] || key == "array" || key == "map" {
		return true
	}
	if i := strings.IndexByte(key, '.'); i > 0 {
		return avroPrimitives[key[:i]]
	}
	return false
}

package container

import (
	"errors"
	"fmt"

	jsonpkg "github.com/Vadoid/iceberg-explorer/pkg/json"
)

var errNotRecords = errors.New("json value is neither an object nor an array of objects")

// JSONDecoder reads records written as JSON. Numbers keep their literal form.
type JSONDecoder struct{}

// Strategy implements Decoder.
func (JSONDecoder) Strategy() Strategy { return StrategyJSON }

// Decode implements Decoder. Array elements that are not objects are skipped.
func (JSONDecoder) Decode(data []byte) ([]Record, error) {
	var v interface{}
	if err := jsonpkg.UnmarshalStrict(data, &v); err != nil {
		return nil, fmt.Errorf("invalid JSON container: %w", err)
	}

	switch t := v.(type) {
	case []interface{}:
		records := make([]Record, 0, len(t))
		for _, item := range t {
			if rec, ok := item.(map[string]interface{}); ok {
				records = append(records, rec)
			}
		}
		return records, nil
	case map[string]interface{}:
		return []Record{t}, nil
	default:
		return nil, errNotRecords
	}
}

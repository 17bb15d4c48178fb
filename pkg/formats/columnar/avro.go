package columnar

import (
	"bytes"
	"context"

	"github.com/linkedin/goavro/v2"

	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
	"github.com/Vadoid/iceberg-explorer/pkg/formats/container"
	jsonpkg "github.com/Vadoid/iceberg-explorer/pkg/json"
)

// AvroReader reads Avro data files.
type AvroReader struct{}

// Format implements RowReader.
func (AvroReader) Format() Format { return Avro }

// ReadRows implements RowReader. Columns follow the record schema's field order.
func (AvroReader) ReadRows(ctx context.Context, data []byte, limit int) (*Rows, error) {
	ocfReader, err := goavro.NewOCFReader(bytes.NewReader(data))
	if err != nil {
		return nil, explorererrors.Wrap(err, explorererrors.ErrorTypeData, "failed to create Avro reader")
	}

	schema := ocfReader.Codec().Schema()
	normalize := container.NormalizerFor(schema)
	out := &Rows{Columns: recordFieldNames(schema)}
	for len(out.Rows) < limit && ocfReader.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, explorererrors.Wrap(err, explorererrors.ErrorTypeTimeout, "sample read cancelled")
		}
		datum, err := ocfReader.Read()
		if err != nil {
			return nil, explorererrors.Wrap(err, explorererrors.ErrorTypeData, "failed to read Avro datum")
		}
		if row, ok := normalize(datum).(map[string]interface{}); ok {
			out.Rows = append(out.Rows, row)
		}
	}
	if err := ocfReader.Err(); err != nil {
		return nil, explorererrors.Wrap(err, explorererrors.ErrorTypeData, "failed to scan Avro blocks")
	}
	return out, nil
}

func recordFieldNames(schema string) []string {
	var parsed struct {
		Fields []struct {
			Name string `json:"name"`
		} `json:"fields"`
	}
	if err := jsonpkg.Unmarshal([]byte(schema), &parsed); err != nil {
		return nil
	}
	names := make([]string, 0, len(parsed.Fields))
	for _, f := range parsed.Fields {
		names = append(names, f.Name)
	}
	return names
}

package columnar

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
)

// ParquetReader reads Parquet data files through Arrow record batches.
type ParquetReader struct{}

// Format implements RowReader.
func (ParquetReader) Format() Format { return Parquet }

// ReadRows implements RowReader.
func (ParquetReader) ReadRows(ctx context.Context, data []byte, limit int) (*Rows, error) {
	fr, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, explorererrors.Wrap(err, explorererrors.ErrorTypeData, "failed to create Parquet reader")
	}
	defer fr.Close()

	batchSize := int64(limit)
	if batchSize <= 0 {
		batchSize = 1
	}
	pool := memory.NewGoAllocator()
	arrowReader, err := pqarrow.NewFileReader(fr, pqarrow.ArrowReadProperties{BatchSize: batchSize}, pool)
	if err != nil {
		return nil, explorererrors.Wrap(err, explorererrors.ErrorTypeData, "failed to create Arrow reader")
	}

	schema, err := arrowReader.Schema()
	if err != nil {
		return nil, explorererrors.Wrap(err, explorererrors.ErrorTypeData, "failed to get Arrow schema")
	}
	out := &Rows{Columns: make([]string, 0, schema.NumFields())}
	for _, f := range schema.Fields() {
		out.Columns = append(out.Columns, f.Name)
	}
	if limit <= 0 || fr.NumRows() == 0 {
		return out, nil
	}

	rr, err := arrowReader.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return nil, explorererrors.Wrap(err, explorererrors.ErrorTypeData, "failed to create record reader")
	}
	defer rr.Release()

	for len(out.Rows) < limit && rr.Next() {
		if err := ctx.Err(); err != nil {
			return nil, explorererrors.Wrap(err, explorererrors.ErrorTypeTimeout, "sample read cancelled")
		}
		rec := rr.Record()
		for rowIdx := 0; rowIdx < int(rec.NumRows()) && len(out.Rows) < limit; rowIdx++ {
			row := make(map[string]interface{}, rec.NumCols())
			for colIdx := 0; colIdx < int(rec.NumCols()); colIdx++ {
				row[rec.ColumnName(colIdx)] = extractValue(rec.Column(colIdx), rowIdx)
			}
			out.Rows = append(out.Rows, row)
		}
	}
	if err := rr.Err(); err != nil {
		return nil, explorererrors.Wrap(err, explorererrors.ErrorTypeData, "failed to read Parquet rows")
	}
	return out, nil
}

// extractValue converts one Arrow cell into a Go value.
func extractValue(arr arrow.Array, index int) interface{} {
	if arr.IsNull(index) {
		return nil
	}

	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(index)
	case *array.Int8:
		return int64(a.Value(index))
	case *array.Int16:
		return int64(a.Value(index))
	case *array.Int32:
		return a.Value(index)
	case *array.Int64:
		return a.Value(index)
	case *array.Uint32:
		return int64(a.Value(index))
	case *array.Uint64:
		return a.Value(index)
	case *array.Float32:
		return a.Value(index)
	case *array.Float64:
		return a.Value(index)
	case *array.String:
		return a.Value(index)
	case *array.LargeString:
		return a.Value(index)
	case *array.Binary:
		return a.Value(index)
	case *array.FixedSizeBinary:
		return a.Value(index)
	case *array.Decimal128:
		dt := a.DataType().(*arrow.Decimal128Type)
		return a.Value(index).ToString(dt.Scale)
	case *array.Date32:
		return a.Value(index).ToTime().UTC()
	case *array.Date64:
		return a.Value(index).ToTime().UTC()
	case *array.Timestamp:
		ts := a.Value(index)
		tsType := a.DataType().(*arrow.TimestampType)
		switch tsType.Unit {
		case arrow.Second:
			return time.Unix(int64(ts), 0).UTC()
		case arrow.Millisecond:
			return time.Unix(0, int64(ts)*1e6).UTC()
		case arrow.Microsecond:
			return time.Unix(0, int64(ts)*1e3).UTC()
		case arrow.Nanosecond:
			return time.Unix(0, int64(ts)).UTC()
		}
	case *array.List:
		start, end := a.ValueOffsets(index)
		valueArr := a.ListValues()
		values := make([]interface{}, end-start)
		for i := start; i < end; i++ {
			values[i-start] = extractValue(valueArr, int(i))
		}
		return values
	case *array.Map:
		start, end := a.ValueOffsets(index)
		keys, items := a.Keys(), a.Items()
		result := make(map[string]interface{}, end-start)
		for i := start; i < end; i++ {
			result[fmt.Sprint(extractValue(keys, int(i)))] = extractValue(items, int(i))
		}
		return result
	case *array.Struct:
		structType := a.DataType().(*arrow.StructType)
		result := make(map[string]interface{})
		for i, field := range structType.Fields() {
			result[field.Name] = extractValue(a.Field(i), index)
		}
		return result
	default:
		return a.ValueStr(index)
	}

	return nil
}

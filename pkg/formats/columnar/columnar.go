// Package columnar decodes the leading rows of Iceberg data files for sampling.
package columnar

import (
	"context"
	"strings"

	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
)

// Format represents a data file format
type Format string

const (
	// Parquet is Apache Parquet format
	Parquet Format = "parquet"
	// Avro is Apache Avro format
	Avro Format = "avro"
	// ORC is Apache ORC format
	ORC Format = "orc"
)

// Rows is a decoded sample. Columns keeps file schema order.
type Rows struct {
	Columns []string
	Rows    []map[string]interface{}
}

// RowReader decodes rows from the full content of one data file.
type RowReader interface {
	// ReadRows returns at most limit rows. limit <= 0 returns no rows but still
	// reports the columns.
	ReadRows(ctx context.Context, data []byte, limit int) (*Rows, error)
	// Format returns the format this reader decodes
	Format() Format
}

// ParseFormat maps an Iceberg file_format value ("PARQUET", "parquet") onto a
// Format. An empty value means Parquet.
func ParseFormat(s string) Format {
	if s == "" {
		return Parquet
	}
	return Format(strings.ToLower(s))
}

// NewRowReader returns the reader for format.
func NewRowReader(format Format) (RowReader, error) {
	switch format {
	case Parquet, "":
		return ParquetReader{}, nil
	case Avro:
		return AvroReader{}, nil
	default:
		return nil, explorererrors.Newf(explorererrors.ErrorTypeCapability, "unsupported data file format: %s", format)
	}
}

package iceberg

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"

	icebergo "github.com/apache/iceberg-go"
	"go.uber.org/zap"
)

// libraryStrategy reads manifest lists and manifests with iceberg-go. It
// gives up on the whole list at the first manifest it cannot read so the
// manual strategy can try the same input.
type libraryStrategy struct {
	w *Walker
}

func (libraryStrategy) name() string { return "library" }

func (s libraryStrategy) dataFiles(ctx context.Context, bucket string, list []byte) ([]DataFile, bool, error) {
	manifests, err := icebergo.ReadManifestList(bytes.NewReader(list))
	if err != nil {
		s.w.logger.Debug("iceberg-go could not read manifest list", zap.Error(err))
		return nil, false, nil
	}

	results, err := fanOut(ctx, s.w.workers, len(manifests), func(ctx context.Context, i int) ([]DataFile, error) {
		m := manifests[i]
		data, err := s.w.read(ctx, bucket, NormalizeRef(m.FilePath(), bucket), "manifest")
		if err != nil {
			return nil, err
		}
		if data == nil {
			return []DataFile{}, nil
		}
		entries, err := icebergo.ReadManifest(m, bytes.NewReader(data), true)
		if err != nil {
			s.w.logger.Debug("iceberg-go could not read manifest",
				zap.String("manifest", m.FilePath()),
				zap.Error(err))
			return nil, errLibraryFallback
		}
		files := make([]DataFile, 0, len(entries))
		for _, e := range entries {
			files = append(files, s.convert(e.DataFile()))
		}
		return files, nil
	})
	if errors.Is(err, errLibraryFallback) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return concat(results), true, nil
}

var errLibraryFallback = errors.New("fall back to manual manifest reading")

func (s libraryStrategy) convert(df icebergo.DataFile) DataFile {
	f := DataFile{
		FilePath:        df.FilePath(),
		FileFormat:      strings.ToLower(string(df.FileFormat())),
		Partition:       map[string]Value{},
		RecordCount:     df.Count(),
		FileSizeInBytes: df.FileSizeBytes(),
		ColumnSizes:     idMap(df.ColumnSizes()),
		ValueCounts:     idMap(df.ValueCounts()),
		NullValueCounts: idMap(df.NullValueCounts()),
	}
	if f.FileFormat == "" {
		f.FileFormat = "parquet"
	}
	for id, v := range df.Partition() {
		name, ok := s.w.partitionNames[id]
		if !ok {
			name = strconv.Itoa(id)
		}
		f.Partition[name] = ValueOf(v).Normalized()
	}
	return f
}

func idMap(m map[int]int64) map[string]int64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[strconv.Itoa(k)] = v
	}
	return out
}

// partitionFieldNames maps partition field ids to names across every spec of md.
func partitionFieldNames(md *TableMetadata) map[int]string {
	names := map[int]string{}
	if md == nil {
		return names
	}
	add := func(fields []interface{}) {
		for _, raw := range fields {
			field, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			id, okID := toInt64(field["field-id"])
			name, okName := field["name"].(string)
			if okID && okName {
				names[int(id)] = name
			}
		}
	}
	for _, spec := range md.PartitionSpecs {
		if fields, ok := spec["fields"].([]interface{}); ok {
			add(fields)
		}
	}
	add(legacyFields(md.PartitionSpec))
	return names
}

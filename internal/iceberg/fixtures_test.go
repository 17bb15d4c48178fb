package iceberg

import (
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/Vadoid/iceberg-explorer/pkg/testutil"
)

const tablePath = "warehouse/orders"

// Snapshot ids above 2^53 so a float64 round trip would corrupt them.
const (
	rootID int64 = 9007199254740993
	aID    int64 = 9007199254740995
	bID    int64 = 9007199254740997
)

func metadataKey(name string) string {
	return testutil.Key(tablePath, "metadata", name)
}

func dataPath(category string, i int) string {
	return testutil.URI(testutil.Key(tablePath, "data", "category="+category, fmt.Sprintf("file-%d.parquet", i)))
}

// chain writes root -> A -> B. The root has no files, A has 5 files holding
// 500 records and B keeps A's manifest and adds 3 files holding 400 records.
func writeChain(t *testing.T, lake *testutil.Lake) {
	t.Helper()

	var filesA []testutil.DataFile
	for i := 0; i < 5; i++ {
		category := "a"
		if i >= 3 {
			category = "b"
		}
		filesA = append(filesA, testutil.DataFile{
			Status:      1,
			Path:        dataPath(category, i),
			Partition:   map[string]interface{}{"category": category},
			RecordCount: 100,
			SizeBytes:   1000,
			ColumnSizes: map[int32]int64{1: 400, 4: 600},
		})
	}
	filesB := []testutil.DataFile{
		{Status: 1, Path: dataPath("c", 5), Partition: map[string]interface{}{"category": "c"}, RecordCount: 100, SizeBytes: 1100},
		{Status: 1, Path: dataPath("c", 6), Partition: map[string]interface{}{"category": "c"}, RecordCount: 150, SizeBytes: 1200},
		{Status: 1, Path: dataPath("a", 7), Partition: map[string]interface{}{"category": "a"}, RecordCount: 150, SizeBytes: 1300},
		{Status: 2, Path: dataPath("a", 0), Partition: map[string]interface{}{"category": "a"}, RecordCount: 100, SizeBytes: 1000},
	}

	lake.PutManifest(metadataKey("m-a.avro"), filesA...)
	lake.PutManifest(metadataKey("m-b.avro"), filesB...)

	manifestA := testutil.ManifestFile{Path: testutil.URI(metadataKey("m-a.avro")), Length: 4096, AddedSnapshotID: aID}
	manifestB := testutil.ManifestFile{Path: testutil.URI(metadataKey("m-b.avro")), Length: 2048, AddedSnapshotID: bID}
	lake.PutManifestList(metadataKey("snap-root.avro"))
	lake.PutManifestList(metadataKey("snap-a.avro"), manifestA)
	lake.PutManifestList(metadataKey("snap-b.avro"), manifestA, manifestB)

	lake.PutJSON(metadataKey("v1.metadata.json"), testutil.Metadata("gs://lake/"+tablePath, bID,
		testutil.Snapshot{ID: rootID, TimestampMs: 1700000000000, ManifestList: testutil.URI(metadataKey("snap-root.avro"))},
		testutil.Snapshot{ID: aID, ParentID: rootID, TimestampMs: 1700000100000, ManifestList: testutil.URI(metadataKey("snap-a.avro"))},
		testutil.Snapshot{ID: bID, ParentID: aID, TimestampMs: 1700000200000, ManifestList: testutil.URI(metadataKey("snap-b.avro"))},
	))
}

type components struct {
	resolver   *Resolver
	walker     *Walker
	aggregator *Aggregator
	differ     *Differ
}

func newComponents(t *testing.T, lake *testutil.Lake, opts ...WalkerOption) components {
	logger := testutil.TestLogger(t)
	resolver := NewResolver(lake.Store, logger)
	walker := NewWalker(lake.Store, logger, append([]WalkerOption{WithWorkers(4)}, opts...)...)
	return components{
		resolver:   resolver,
		walker:     walker,
		aggregator: NewAggregator(resolver, walker, logger),
		differ:     NewDiffer(resolver, walker, zap.NewNop()),
	}
}

func paths(files []DataFile) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.FilePath)
	}
	return out
}

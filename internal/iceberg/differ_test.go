package iceberg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
	jsonpkg "github.com/Vadoid/iceberg-explorer/pkg/json"
	"github.com/Vadoid/iceberg-explorer/pkg/testutil"
)

func TestDiffSnapshotWithItself(t *testing.T) {
	lake := testutil.NewLake(t)
	writeChain(t, lake)
	c := newComponents(t, lake)

	for _, id := range []int64{rootID, aID, bID} {
		diff, err := c.differ.Diff(testutil.TestContext(t), testutil.Bucket, tablePath, formatID(id), formatID(id))
		require.NoError(t, err)
		assert.Empty(t, diff.AddedFiles)
		assert.Empty(t, diff.RemovedFiles)
		assert.Empty(t, diff.ModifiedFiles)
		assert.Equal(t, SideTotals{}, diff.Statistics.Delta)
		assert.Equal(t, DiffSummary{}, diff.Summary)
	}
}

func TestDiffFromEmptyStart(t *testing.T) {
	lake := testutil.NewLake(t)
	writeChain(t, lake)
	c := newComponents(t, lake)

	diff, err := c.differ.Diff(testutil.TestContext(t), testutil.Bucket, tablePath, "", formatID(bID))
	require.NoError(t, err)

	assert.Len(t, diff.AddedFiles, 8)
	assert.Empty(t, diff.RemovedFiles)
	assert.Empty(t, diff.ModifiedFiles)
	assert.Equal(t, "0", diff.Snapshot1.SnapshotID)
	assert.Equal(t, "0001-01-01T00:00:00Z", diff.Snapshot1.Timestamp)
	assert.Equal(t, "", diff.Snapshot1.ManifestList)
	assert.Equal(t, SnapshotTotals{}, diff.Statistics.Snapshot1)
	assert.Equal(t, SnapshotTotals{FileCount: 8, RecordCount: 900, TotalSize: 8600}, diff.Statistics.Snapshot2)
	assert.Equal(t, SideTotals{Files: 8, Records: 900, Size: 8600}, diff.Statistics.Delta)
}

func TestDiffBetweenSnapshots(t *testing.T) {
	lake := testutil.NewLake(t)
	writeChain(t, lake)
	c := newComponents(t, lake)

	diff, err := c.differ.Diff(testutil.TestContext(t), testutil.Bucket, tablePath, formatID(aID), formatID(bID))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{dataPath("c", 5), dataPath("c", 6), dataPath("a", 7)}, paths(diff.AddedFiles))
	assert.Empty(t, diff.RemovedFiles)
	assert.Equal(t, DiffSummary{AddedCount: 3}, diff.Summary)
	assert.Equal(t, SideTotals{Files: 3, Records: 400, Size: 3600}, diff.Statistics.Delta)

	reverse, err := c.differ.Diff(testutil.TestContext(t), testutil.Bucket, tablePath, formatID(bID), formatID(aID))
	require.NoError(t, err)
	assert.ElementsMatch(t, paths(diff.AddedFiles), paths(reverse.RemovedFiles))
	assert.Equal(t, SideTotals{Files: -3, Records: -400, Size: -3600}, reverse.Statistics.Delta)
}

func TestDiffReportsModifiedFiles(t *testing.T) {
	before := []DataFile{
		{FilePath: "f1", RecordCount: 10, FileSizeInBytes: 100},
		{FilePath: "f2", RecordCount: 5, FileSizeInBytes: 50},
	}
	after := []DataFile{
		{FilePath: "f1", RecordCount: 12, FileSizeInBytes: 90},
		{FilePath: "f2", RecordCount: 5, FileSizeInBytes: 50},
		{FilePath: "f3", RecordCount: 1, FileSizeInBytes: 1},
	}

	diff := compareFiles(before, after)
	require.Len(t, diff.ModifiedFiles, 1)
	change := diff.ModifiedFiles[0]
	assert.Equal(t, "f1", change.FilePath)
	assert.Equal(t, FileDeltas{SizeDelta: -10, RecordDelta: 2}, change.Changes)
	assert.Equal(t, int64(10), change.Before.RecordCount)
	assert.Equal(t, int64(12), change.After.RecordCount)
	assert.Equal(t, []string{"f3"}, paths(diff.AddedFiles))
	assert.Equal(t, DiffSummary{AddedCount: 1, ModifiedCount: 1}, diff.Summary)
}

func TestDiffDuplicatePathsKeepLastValue(t *testing.T) {
	before := []DataFile{{FilePath: "f1", RecordCount: 1}}
	after := []DataFile{
		{FilePath: "f1", RecordCount: 1},
		{FilePath: "f1", RecordCount: 3},
	}

	diff := compareFiles(before, after)
	require.Len(t, diff.ModifiedFiles, 1)
	assert.Equal(t, int64(3), diff.ModifiedFiles[0].After.RecordCount)
	// statistics count raw occurrences
	assert.Equal(t, int64(2), diff.Statistics.Snapshot2.FileCount)
}

func TestDiffMissingSnapshotIsNotFound(t *testing.T) {
	lake := testutil.NewLake(t)
	writeChain(t, lake)
	c := newComponents(t, lake)

	_, err := c.differ.Diff(testutil.TestContext(t), testutil.Bucket, tablePath, "123", "999999")
	require.Error(t, err)
	assert.True(t, explorererrors.IsType(err, explorererrors.ErrorTypeNotFound))
	assert.Contains(t, err.Error(), "999999")
	assert.Equal(t, "999999", explorererrors.DetailsOf(err)["snapshot_id"])

	_, err = c.differ.Diff(testutil.TestContext(t), testutil.Bucket, tablePath, "123", formatID(bID))
	require.Error(t, err)
	assert.Equal(t, "123", explorererrors.DetailsOf(err)["snapshot_id"])
}

func TestDiffStatisticsJSON(t *testing.T) {
	before := []DataFile{{FilePath: "f1", RecordCount: 10, FileSizeInBytes: 100}}
	after := []DataFile{
		{FilePath: "f1", RecordCount: 10, FileSizeInBytes: 100},
		{FilePath: "f2", RecordCount: 5, FileSizeInBytes: 40},
	}

	data, err := jsonpkg.Marshal(compareFiles(before, after).Statistics)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"snapshot1": {"fileCount": 1, "recordCount": 10, "totalSize": 100},
		"snapshot2": {"fileCount": 2, "recordCount": 15, "totalSize": 140},
		"delta": {"files": 1, "records": 5, "size": 40}
	}`, string(data))
}

package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-spark/internal/operators"
	"mini-spark/internal/records"
)

func countRecords() []records.Record {
	words := []string{"a", "b", "a", "c", "b", "a"}
	recs := make([]records.Record, len(words))
	for i, w := range words {
		recs[i] = records.Text(w)
	}
	return recs
}

func toMap(recs []records.Record) map[string]string {
	m := make(map[string]string)
	for _, r := range recs {
		m[r.K] = r.V
	}
	return m
}

func TestReduceWithSpillNoSpillNeeded(t *testing.T) {
	fn, ok := operators.ReduceFunc("count")
	require.True(t, ok)

	out, err := ReduceWithSpill(context.Background(), t.TempDir(), "job1", "stage1", 0, countRecords(), fn, 0)
	require.NoError(t, err)
	m := toMap(out)
	assert.Equal(t, "3", m["a"])
	assert.Equal(t, "2", m["b"])
	assert.Equal(t, "1", m["c"])
}

func TestReduceWithSpillForcesSpillAndMergesAcrossRuns(t *testing.T) {
	fn, ok := operators.ReduceFunc("count")
	require.True(t, ok)

	out, err := ReduceWithSpill(context.Background(), t.TempDir(), "job1", "stage1", 0, countRecords(), fn, 1)
	require.NoError(t, err)
	m := toMap(out)
	assert.Equal(t, "3", m["a"])
	assert.Equal(t, "2", m["b"])
	assert.Equal(t, "1", m["c"])
}

func TestReduceWithSpillMatchesAcrossDifferentBounds(t *testing.T) {
	fn, ok := operators.ReduceFunc("sum")
	require.True(t, ok)

	recs := []records.Record{
		records.KV("x", "1"),
		records.KV("y", "2"),
		records.KV("x", "3"),
		records.KV("y", "4"),
		records.KV("x", "5"),
	}

	noSpill, err := ReduceWithSpill(context.Background(), t.TempDir(), "job1", "stage1", 0, recs, fn, 0)
	require.NoError(t, err)
	withSpill, err := ReduceWithSpill(context.Background(), t.TempDir(), "job1", "stage1", 1, recs, fn, 2)
	require.NoError(t, err)

	assert.Equal(t, toMap(noSpill), toMap(withSpill))
	assert.Equal(t, "9", toMap(noSpill)["x"])
	assert.Equal(t, "6", toMap(noSpill)["y"])
}

func TestReduceWithSpillMissingKeyErrors(t *testing.T) {
	fn, ok := operators.ReduceFunc("count")
	require.True(t, ok)

	_, err := ReduceWithSpill(context.Background(), t.TempDir(), "job1", "stage1", 0, []records.Record{records.Tuple(records.Text("x"))}, fn, 0)
	assert.Error(t, err)
}

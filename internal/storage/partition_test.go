package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-spark/internal/common"
)

func writeTempFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
}

func TestAssignPartitionsRoundRobinBySortedName(t *testing.T) {
	dir := t.TempDir()
	writeTempFiles(t, dir, "c.csv", "a.csv", "b.csv", "d.csv")

	parts, err := AssignPartitions(filepath.Join(dir, "*.csv"), 2)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, []string{filepath.Join(dir, "a.csv"), filepath.Join(dir, "c.csv")}, parts[0])
	assert.Equal(t, []string{filepath.Join(dir, "b.csv"), filepath.Join(dir, "d.csv")}, parts[1])
}

func TestAssignPartitionsClampsToOne(t *testing.T) {
	dir := t.TempDir()
	writeTempFiles(t, dir, "a.csv")

	parts, err := AssignPartitions(filepath.Join(dir, "*.csv"), 0)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Len(t, parts[0], 1)
}

func TestAssignPartitionsNoMatchesIsInputNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := AssignPartitions(filepath.Join(dir, "*.csv"), 2)
	require.Error(t, err)
	kind, _ := common.AsTaskError(err)
	assert.Equal(t, common.KindInputNotFound, kind)
}

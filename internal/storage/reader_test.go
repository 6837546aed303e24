package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-spark/internal/common"
	"mini-spark/internal/records"
)

func TestReadCSVFilesDispatchesKVAndText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.csv")
	require.NoError(t, os.WriteFile(path, []byte("1,apple,red\nsingle\n"), 0o644))

	var got []records.Record
	err := ReadCSVFiles([]string{path}, func(r records.Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, records.KindKV, got[0].Kind)
	assert.Equal(t, "1", got[0].K)
	assert.Equal(t, "apple,red", got[0].V)
	assert.Equal(t, records.KindText, got[1].Kind)
	assert.Equal(t, "single", got[1].S)
}

func TestReadCSVFilesMissingFileIsInputNotFound(t *testing.T) {
	err := ReadCSVFiles([]string{"/no/such/file.csv"}, func(records.Record) error { return nil })
	require.Error(t, err)
	kind, _ := common.AsTaskError(err)
	assert.Equal(t, common.KindInputNotFound, kind)
}

func TestReadCSVFilesMalformedRowIsReaderError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("\"unterminated\n"), 0o644))

	err := ReadCSVFiles([]string{path}, func(records.Record) error { return nil })
	require.Error(t, err)
	kind, _ := common.AsTaskError(err)
	assert.Equal(t, common.KindReaderError, kind)
}

func TestReadCSVFilesEmitErrorAborts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.csv")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\n"), 0o644))

	seen := 0
	err := ReadCSVFiles([]string{path}, func(records.Record) error {
		seen++
		if seen == 2 {
			return assert.AnError
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 2, seen)
}

func TestReadTextFilesEmitsOneRecordPerLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lines.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha\nbeta\n\ngamma\n"), 0o644))

	var got []string
	err := ReadTextFiles([]string{path}, func(r records.Record) error {
		got = append(got, r.S)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "", "gamma"}, got)
}

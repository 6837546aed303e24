package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"mini-spark/internal/common"
	"mini-spark/internal/records"
)

// OutputPath builds the unique output filename keyed by (job, stage,
// partition, attempt) required for idempotent
// re-execution: <output_dir>/<job>-<stage>-<partition>-<attempt>.jsonl.
func OutputPath(outputDir, jobID, stageID string, partition, attempt int) string {
	name := fmt.Sprintf("%s-%s-%d-%d.jsonl", jobID, stageID, partition, attempt)
	return filepath.Join(outputDir, name)
}

// WriteJSONL writes recs as newline-delimited JSON to path, via a
// temp-file-then-rename so partial output is never visible under the final
// name: the file appears under path only once every record is written.
func WriteJSONL(path string, recs []records.Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return common.NewError(common.KindIoError, err, "creating output dir for "+path)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return common.NewError(common.KindIoError, err, "creating "+tmp)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			f.Close()
			os.Remove(tmp)
			return common.NewError(common.KindIoError, err, "encoding record")
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return common.NewError(common.KindIoError, err, "flushing "+tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return common.NewError(common.KindIoError, err, "closing "+tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return common.NewError(common.KindIoError, err, "renaming "+tmp)
	}
	return nil
}

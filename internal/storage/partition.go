// Package storage is the leaf IO layer: it reads input partitions off the
// shared filesystem mount, assigns input files to partitions round-robin
// across a glob, and writes final JSONL outputs.
package storage

import (
	"path/filepath"
	"sort"

	"mini-spark/internal/common"
)

// AssignPartitions globs input and deterministically assigns matched files
// to p partitions round-robin by sorted filename.
func AssignPartitions(inputGlob string, p int) ([][]string, error) {
	matches, err := filepath.Glob(inputGlob)
	if err != nil {
		return nil, common.NewError(common.KindInvalidDag, err, "invalid input_glob")
	}
	if len(matches) == 0 {
		return nil, common.Errorf(common.KindInputNotFound, "input_glob %q matched no files", inputGlob)
	}
	sort.Strings(matches)

	if p < 1 {
		p = 1
	}
	out := make([][]string, p)
	for i, f := range matches {
		part := i % p
		out[part] = append(out[part], f)
	}
	return out, nil
}

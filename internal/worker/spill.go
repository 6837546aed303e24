// Bounded-memory reduce_by_key aggregation: accumulate in an in-memory map
// up to MaxInMemKeys entries, spill the map to a sorted on-disk run when
// the bound is hit, then k-way merge every run plus whatever remains in
// memory. Spill files share the shuffle-bucket wire format via
// records.Writer/Reader.
package worker

import (
	"container/heap"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"mini-spark/internal/common"
	"mini-spark/internal/metrics"
	"mini-spark/internal/operators"
	"mini-spark/internal/records"
)

// ReduceWithSpill consumes recs through reducer fn, bounding live
// accumulator memory to maxInMemKeys entries. Once the bound is hit the
// current map is sorted by key and flushed to a spill file under tmpDir;
// the final result merges every spill run with whatever stayed resident.
func ReduceWithSpill(ctx context.Context, tmpDir, jobID, stageID string, partition int, recs []records.Record, fn operators.ReduceFn, maxInMemKeys int) ([]records.Record, error) {
	acc := make(map[string]string)
	var spillFiles []string

	flush := func() error {
		if len(acc) == 0 {
			return nil
		}
		path, err := spillSortedRun(tmpDir, jobID, stageID, partition, len(spillFiles), acc)
		if err != nil {
			return err
		}
		spillFiles = append(spillFiles, path)
		acc = make(map[string]string)
		metrics.SpillEvents.Inc()
		return nil
	}

	for _, r := range recs {
		if err := ctx.Err(); err != nil {
			return nil, common.NewError(common.KindCancelled, err, "task cancelled during reduce")
		}
		key, err := r.Key()
		if err != nil {
			return nil, common.NewError(common.KindMissingKey, err, "reduce_by_key: record has no key")
		}
		val, err := operators.ReduceValue(r)
		if err != nil {
			return nil, err
		}
		cur, present := acc[key]
		next, err := fn(cur, present, val)
		if err != nil {
			return nil, err
		}
		acc[key] = next

		if maxInMemKeys > 0 && len(acc) >= maxInMemKeys {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}

	if len(spillFiles) == 0 {
		return sortedKVRecords(acc), nil
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return mergeSpillRuns(spillFiles, fn)
}

func sortedKVRecords(m map[string]string) []records.Record {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]records.Record, len(keys))
	for i, k := range keys {
		out[i] = records.KV(k, m[k])
	}
	return out
}

func spillSortedRun(tmpDir, jobID, stageID string, partition, runIdx int, acc map[string]string) (string, error) {
	dir := filepath.Join(tmpDir, "spill", jobID, stageID, fmt.Sprintf("%d", partition))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", common.NewError(common.KindIoError, err, "creating spill dir "+dir)
	}
	path := filepath.Join(dir, fmt.Sprintf("run-%d.bin", runIdx))

	f, err := os.Create(path)
	if err != nil {
		return "", common.NewError(common.KindIoError, err, "creating spill run "+path)
	}
	defer f.Close()

	fw := records.NewWriter(f)
	for _, rec := range sortedKVRecords(acc) {
		if err := fw.Write(rec); err != nil {
			return "", common.NewError(common.KindIoError, err, "writing spill run")
		}
	}
	if err := fw.Flush(); err != nil {
		return "", common.NewError(common.KindIoError, err, "flushing spill run")
	}
	return path, nil
}

// runCursor tracks one spill run's current front record during the k-way
// merge.
type runCursor struct {
	reader *records.Reader
	file   *os.File
	cur    records.Record
	done   bool
}

// mergeHeap orders active cursors by their current key for the k-way merge.
type mergeHeap []*runCursor

func (h mergeHeap) Len() int            { return len(h) }
func (h mergeHeap) Less(i, j int) bool  { return h[i].cur.K < h[j].cur.K }
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(*runCursor)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// mergeSpillRuns k-way merges every sorted spill run, re-applying fn across
// runs so a key split between two runs still combines correctly.
func mergeSpillRuns(paths []string, fn operators.ReduceFn) ([]records.Record, error) {
	cursors := make([]*runCursor, 0, len(paths))
	defer func() {
		for _, c := range cursors {
			c.file.Close()
			os.Remove(c.file.Name())
		}
	}()

	h := &mergeHeap{}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, common.NewError(common.KindIoError, err, "opening spill run "+p)
		}
		c := &runCursor{reader: records.NewReader(f), file: f}
		cursors = append(cursors, c)
		if err := advanceCursor(c); err != nil {
			return nil, err
		}
		if !c.done {
			heap.Push(h, c)
		}
	}
	heap.Init(h)

	var out []records.Record
	for h.Len() > 0 {
		front := (*h)[0]
		key := front.cur.K
		acc, present := "", false

		for h.Len() > 0 && (*h)[0].cur.K == key {
			c := heap.Pop(h).(*runCursor)
			next, err := fn(acc, present, c.cur.V)
			if err != nil {
				return nil, err
			}
			acc, present = next, true
			if err := advanceCursor(c); err != nil {
				return nil, err
			}
			if !c.done {
				heap.Push(h, c)
			}
		}
		out = append(out, records.KV(key, acc))
	}
	return out, nil
}

func advanceCursor(c *runCursor) error {
	rec, err := c.reader.Next()
	if err == io.EOF {
		c.done = true
		return nil
	}
	if err != nil {
		return common.NewError(common.KindIoError, err, "reading spill run")
	}
	c.cur = rec
	return nil
}

// Task execution pipeline: source read or shuffle fetch, fused narrow
// operators, terminal operator, then either a JSONL write or a
// re-partitioned shuffle write, over in-memory slices of records.Record.
package worker

import (
	"context"
	"net/http"

	"mini-spark/internal/common"
	"mini-spark/internal/operators"
	"mini-spark/internal/records"
	"mini-spark/internal/storage"
)

// RunTask executes one TaskAssignment end to end and returns the output
// references to report to the master (file paths for sink stages; empty
// for pure shuffle stages, since the master tracks shuffle producers from
// its own compiled graph, not from the report body).
func RunTask(ctx context.Context, a common.TaskAssignment, client *http.Client, tmpDir string, maxInMemKeys int) ([]string, error) {
	if len(a.Nodes) == 0 {
		return nil, common.Errorf(common.KindInvalidDag, "task assignment carries no nodes")
	}
	first := a.Nodes[0]
	jobID := a.Task.JobID
	stageID := a.Task.StageID
	partition := a.Task.Partition

	recs, err := runFirstNode(ctx, a, first, client, tmpDir, maxInMemKeys, jobID, stageID, partition)
	if err != nil {
		return nil, err
	}

	for _, node := range a.Nodes[1:] {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		recs, err = applyNarrow(node, recs)
		if err != nil {
			return nil, err
		}
	}

	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	var outputs []string
	if a.StageInfo.IsTerminal {
		path := storage.OutputPath(a.OutputDir, jobID, stageID, partition, a.Task.Attempt)
		if err := storage.WriteJSONL(path, recs); err != nil {
			return nil, err
		}
		outputs = append(outputs, path)
	}

	for _, so := range a.StageInfo.ShuffleOuts {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		if _, err := WriteShuffleBuckets(tmpDir, jobID, so.ShuffleID, recs, a.NumPartitions, partition); err != nil {
			return nil, err
		}
	}

	return outputs, nil
}

// checkCancelled reports ctx's cancellation as a KindCancelled TaskError so
// a task interrupted mid-pipeline reports the right error_kind instead of
// running to completion and reporting success.
func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return common.NewError(common.KindCancelled, err, "task cancelled")
	}
	return nil
}

func runFirstNode(ctx context.Context, a common.TaskAssignment, first common.DAGNode, client *http.Client, tmpDir string, maxInMemKeys int, jobID, stageID string, partition int) ([]records.Record, error) {
	switch {
	case first.Op.IsSource():
		return readSource(ctx, first, a.InputFiles)

	case first.Op == common.OpJoin:
		left, err := FetchShuffleInputs(ctx, client, a.Producers, jobID, a.ShuffleID, partition)
		if err != nil {
			return nil, err
		}
		right, err := FetchShuffleInputs(ctx, client, a.JoinProducers, jobID, a.JoinShuffleID, partition)
		if err != nil {
			return nil, err
		}
		return operators.InnerJoin(left, right)

	case first.Op == common.OpReduceByKey:
		fetched, err := FetchShuffleInputs(ctx, client, a.Producers, jobID, a.ShuffleID, partition)
		if err != nil {
			return nil, err
		}
		fn, ok := operators.ReduceFunc(first.Params["fn"])
		if !ok {
			return nil, common.Errorf(common.KindUnknownFunc, "reduce_by_key: unknown reducer %q", first.Params["fn"])
		}
		return ReduceWithSpill(ctx, tmpDir, jobID, stageID, partition, fetched, fn, maxInMemKeys)

	case first.Op == common.OpShuffle:
		return FetchShuffleInputs(ctx, client, a.Producers, jobID, a.ShuffleID, partition)

	default:
		return nil, common.Errorf(common.KindInvalidDag, "node %q cannot open a stage", first.ID)
	}
}

func readSource(ctx context.Context, node common.DAGNode, files []string) ([]records.Record, error) {
	var out []records.Record
	emit := func(r records.Record) error {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	}
	var err error
	switch node.Op {
	case common.OpReadCSV:
		err = storage.ReadCSVFiles(files, emit)
	case common.OpReadText:
		err = storage.ReadTextFiles(files, emit)
	default:
		err = common.Errorf(common.KindInvalidDag, "unknown source op %q", node.Op)
	}
	return out, err
}

func applyNarrow(node common.DAGNode, in []records.Record) ([]records.Record, error) {
	switch node.Op {
	case common.OpMap:
		fn, ok := operators.MapFunc(node.Params["fn"])
		if !ok {
			return nil, common.Errorf(common.KindUnknownFunc, "map: unknown function %q", node.Params["fn"])
		}
		out := make([]records.Record, 0, len(in))
		for _, r := range in {
			mapped, err := fn(r)
			if err != nil {
				return nil, err
			}
			out = append(out, mapped)
		}
		return out, nil

	case common.OpFilter:
		fn, ok := operators.FilterFunc(node.Params["fn"])
		if !ok {
			return nil, common.Errorf(common.KindUnknownFunc, "filter: unknown function %q", node.Params["fn"])
		}
		out := make([]records.Record, 0, len(in))
		for _, r := range in {
			keep, err := fn(r)
			if err != nil {
				return nil, err
			}
			if keep {
				out = append(out, r)
			}
		}
		return out, nil

	case common.OpFlatMap:
		fn, ok := operators.FlatMapFunc(node.Params["fn"])
		if !ok {
			return nil, common.Errorf(common.KindUnknownFunc, "flat_map: unknown function %q", node.Params["fn"])
		}
		var out []records.Record
		for _, r := range in {
			expanded, err := fn(r)
			if err != nil {
				return nil, err
			}
			out = append(out, expanded...)
		}
		return out, nil

	case common.OpWriteJSONL:
		return in, nil // marker node; the sink write happens once per stage in RunTask

	default:
		return nil, common.Errorf(common.KindInvalidDag, "node %q cannot fuse into a stage", node.ID)
	}
}

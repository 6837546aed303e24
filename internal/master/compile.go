// Package master implements the Master scheduler: DAG admission and
// compilation into stages, heartbeat-driven dispatch, liveness tracking,
// and job-state aggregation.
package master

import (
	"fmt"

	"mini-spark/internal/common"
	"mini-spark/internal/operators"
)

// ShuffleSource names one upstream feed a stage reads via shuffle fetch.
type ShuffleSource struct {
	ShuffleID       string // unique id of the shuffle boundary
	ProducerStageID string
	Role            string // "single", "left", "right"
	KeyParam        string // hash-partition key used when this was written
}

// ShuffleOut names one downstream shuffle a stage must write after
// computing its local, per-partition record set.
type ShuffleOut struct {
	ShuffleID string
	KeyParam  string
}

// CompiledStage is one maximal run of narrow operators, opened at a source
// or a wide operator, closed at a sink or immediately before a shuffle
// boundary.
type CompiledStage struct {
	ID          string
	Nodes       []common.DAGNode
	FileSource  bool // true only for the stage(s) opened at read_csv/read_text
	Sources     []ShuffleSource
	ShuffleOuts []ShuffleOut
	IsSink      bool
}

// CompiledGraph is the result of DAG compilation for one job.
type CompiledGraph struct {
	Stages   []*CompiledStage
	StageByID map[string]*CompiledStage
	NodeByID map[string]common.DAGNode
}

// Compile validates and compiles a DAG. It returns
// InvalidDag/UnknownFunction errors via common.TaskError so admission can
// surface the right error_kind.
func Compile(dag common.DAG) (*CompiledGraph, error) {
	nodeByID := make(map[string]common.DAGNode, len(dag.Nodes))
	for _, n := range dag.Nodes {
		if _, dup := nodeByID[n.ID]; dup {
			return nil, common.Errorf(common.KindInvalidDag, "duplicate node id %q", n.ID)
		}
		nodeByID[n.ID] = n
	}

	parents := make(map[string][]common.DAGNode)
	children := make(map[string][]string)
	indeg := make(map[string]int, len(dag.Nodes))
	for id := range nodeByID {
		indeg[id] = 0
	}
	for _, e := range dag.Edges {
		src, dst := e[0], e[1]
		if _, ok := nodeByID[src]; !ok {
			return nil, common.Errorf(common.KindInvalidDag, "edge references unknown node %q", src)
		}
		if _, ok := nodeByID[dst]; !ok {
			return nil, common.Errorf(common.KindInvalidDag, "edge references unknown node %q", dst)
		}
		parents[dst] = append(parents[dst], nodeByID[src])
		children[src] = append(children[src], dst)
		indeg[dst]++
	}

	if err := validateOps(dag, nodeByID, parents); err != nil {
		return nil, err
	}

	topo, err := topoSort(dag, indeg, children)
	if err != nil {
		return nil, err
	}

	stages := make([]*CompiledStage, 0, len(dag.Nodes))
	stageByID := make(map[string]*CompiledStage)
	stageOf := make(map[string]string, len(dag.Nodes))

	for _, id := range topo {
		node := nodeByID[id]
		ps := parents[id]

		switch {
		case node.Op.IsSource():
			if len(ps) != 0 {
				return nil, common.Errorf(common.KindInvalidDag, "source node %q must not have parents", id)
			}
			if node.Params["path"] == "" {
				return nil, common.Errorf(common.KindInvalidDag, "source node %q missing path param", id)
			}
			st := &CompiledStage{ID: id, Nodes: []common.DAGNode{node}, FileSource: true}
			stages = append(stages, st)
			stageByID[id] = st
			stageOf[id] = id

		case len(ps) != 1:
			if len(ps) == 0 {
				return nil, common.Errorf(common.KindInvalidDag, "node %q has no parents and is not a source", id)
			}
			if node.Op != common.OpJoin {
				return nil, common.Errorf(common.KindInvalidDag, "node %q has %d parents, only join_by_key supports more than one", id, len(ps))
			}
			if len(ps) != 2 {
				return nil, common.Errorf(common.KindInvalidDag, "join_by_key node %q requires exactly 2 inputs, got %d", id, len(ps))
			}
			key := node.Params["key"]
			if key == "" {
				return nil, common.Errorf(common.KindInvalidDag, "join_by_key node %q missing key param", id)
			}
			st := &CompiledStage{ID: id, Nodes: []common.DAGNode{node}}
			roles := []string{"left", "right"}
			for i, p := range ps {
				st.Sources = append(st.Sources, ShuffleSource{
					ShuffleID:       shuffleID(id, roles[i]),
					ProducerStageID: stageOf[p.ID],
					Role:            roles[i],
					KeyParam:        key,
				})
			}
			stages = append(stages, st)
			stageByID[id] = st
			stageOf[id] = id

		default:
			parent := ps[0]
			parentStageID := stageOf[parent.ID]

			if node.Op.IsWide() {
				key := node.Params["key"]
				if key == "" {
					return nil, common.Errorf(common.KindInvalidDag, "%s node %q missing key param", node.Op, id)
				}
				st := &CompiledStage{
					ID:    id,
					Nodes: []common.DAGNode{node},
					Sources: []ShuffleSource{{
						ShuffleID:       shuffleID(id, "single"),
						ProducerStageID: parentStageID,
						Role:            "single",
						KeyParam:        key,
					}},
				}
				stages = append(stages, st)
				stageByID[id] = st
				stageOf[id] = id
			} else {
				if len(children[parent.ID]) > 1 {
					// parent feeds more than one node; fusing id into
					// parent's stage would silently linearize sibling
					// branches into a single sequential pipeline.
					return nil, common.Errorf(common.KindInvalidDag, "node %q has %d children, narrow fan-out is not supported", parent.ID, len(children[parent.ID]))
				}
				parentStage := stageByID[parentStageID]
				parentStage.Nodes = append(parentStage.Nodes, node)
				stageOf[id] = parentStageID
			}
		}
	}

	// Second pass: determine sinks vs shuffle-outs now that fusion settled.
	for _, st := range stages {
		last := st.Nodes[len(st.Nodes)-1]
		kids := children[last.ID]
		if len(kids) == 0 {
			st.IsSink = true
			continue
		}
		for _, childID := range kids {
			child := nodeByID[childID]
			if !child.Op.IsWide() {
				// Narrow children with a single parent were already fused
				// in the pass above, so a surviving narrow child here means
				// a fan-out this compiler does not support.
				return nil, common.Errorf(common.KindInvalidDag, "node %q has unsupported narrow fan-out to %q", last.ID, childID)
			}
			role := "single"
			if child.Op == common.OpJoin {
				for i, p := range parents[childID] {
					if p.ID == last.ID {
						role = []string{"left", "right"}[i]
					}
				}
			}
			st.ShuffleOuts = append(st.ShuffleOuts, ShuffleOut{
				ShuffleID: shuffleID(childID, role),
				KeyParam:  child.Params["key"],
			})
		}
	}

	return &CompiledGraph{Stages: stages, StageByID: stageByID, NodeByID: nodeByID}, nil
}

func shuffleID(consumerNodeID, role string) string {
	if role == "single" {
		return consumerNodeID
	}
	return fmt.Sprintf("%s:%s", consumerNodeID, role)
}

func validateOps(dag common.DAG, nodeByID map[string]common.DAGNode, parents map[string][]common.DAGNode) error {
	for _, n := range dag.Nodes {
		switch n.Op {
		case common.OpReadCSV, common.OpReadText, common.OpMap, common.OpFilter,
			common.OpFlatMap, common.OpReduceByKey, common.OpShuffle, common.OpJoin, common.OpWriteJSONL:
		default:
			return common.Errorf(common.KindInvalidDag, "unknown op %q on node %q", n.Op, n.ID)
		}
		if n.Op == common.OpMap || n.Op == common.OpFilter || n.Op == common.OpFlatMap {
			fn := n.Params["fn"]
			if fn == "" || !operators.KnownFunction(fn) {
				return common.Errorf(common.KindUnknownFunc, "node %q references unknown function %q", n.ID, fn)
			}
		}
		if n.Op == common.OpReduceByKey {
			fn := n.Params["fn"]
			if _, ok := operators.ReduceFunc(fn); !ok {
				return common.Errorf(common.KindUnknownFunc, "reduce_by_key node %q references unknown reducer %q", n.ID, fn)
			}
		}
	}
	return nil
}

func topoSort(dag common.DAG, indeg map[string]int, children map[string][]string) ([]string, error) {
	indegCopy := make(map[string]int, len(indeg))
	for k, v := range indeg {
		indegCopy[k] = v
	}
	var queue []string
	for _, n := range dag.Nodes {
		if indegCopy[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, c := range children[id] {
			indegCopy[c]--
			if indegCopy[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	if len(order) != len(dag.Nodes) {
		return nil, common.Errorf(common.KindInvalidDag, "DAG contains a cycle")
	}
	return order, nil
}

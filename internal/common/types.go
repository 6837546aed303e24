// Package common holds the types shared between the master, the worker,
// and the wire protocol that connects them: the DAG/Stage/Task/Job data
// model and the JSON request/response shapes of the control protocol.
package common

import (
	"runtime"
	"strconv"
	"time"
)

// Tunable defaults for scheduling, spill, and the control protocol.
const (
	DefaultHeartbeatMS   = 3000
	DefaultDeadTimeoutMS = 15000
	DefaultMaxAttempts   = 3
	DefaultTaskTimeoutMS = 10 * 60 * 1000
	DefaultMaxInMemKeys  = 200000
	ShuffleFetchRetries  = 3
	ShuffleFetchConcurrency = 4
)

// DefaultWorkerSlots is the worker's concurrency default when no explicit
// slots value is configured: one task slot per available CPU.
func DefaultWorkerSlots() int {
	return runtime.NumCPU()
}

// Op is a DAG node / operator kind.
type Op string

const (
	OpReadCSV      Op = "read_csv"
	OpReadText     Op = "read_text"
	OpMap          Op = "map"
	OpFilter       Op = "filter"
	OpFlatMap      Op = "flat_map"
	OpReduceByKey  Op = "reduce_by_key"
	OpShuffle      Op = "shuffle"
	OpJoin         Op = "join_by_key"
	OpWriteJSONL   Op = "write_jsonl"
)

// NarrowOps fuse into the current stage; WideOps open a new stage on their
// downstream side.
func (o Op) IsWide() bool {
	return o == OpReduceByKey || o == OpShuffle || o == OpJoin
}

func (o Op) IsSource() bool {
	return o == OpReadCSV || o == OpReadText
}

// --- DAG submission shapes (client -> master) ---

// DAGNode is one operator invocation. Params are named strings, e.g.
// fn=tokenize, key=product_id, path=...
type DAGNode struct {
	ID     string            `json:"id"`
	Op     Op                `json:"op"`
	Params map[string]string `json:"params"`
}

// DAG is the nodes+edges graph submitted by the client.
type DAG struct {
	Nodes []DAGNode  `json:"nodes"`
	Edges [][2]string `json:"edges"`
}

// JobRequest is the POST /api/v1/jobs body.
type JobRequest struct {
	Name        string `json:"name"`
	DAG         DAG    `json:"dag"`
	Parallelism int    `json:"parallelism"`
	InputGlob   string `json:"input_glob"`
	OutputDir   string `json:"output_dir"`
}

// --- Compiled stage graph (master-internal, echoed back in JobInfo) ---

// ShuffleOutInfo tells a worker one downstream shuffle id it must
// hash-partition its stage output into. KeyParam echoes the consuming
// node's key param; the worker partitions by each record's own Key() and
// does not read KeyParam.
type ShuffleOutInfo struct {
	ShuffleID string `json:"shuffle_id"`
	KeyParam  string `json:"key_param"`
}

// StageInfo describes one compiled stage.
type StageInfo struct {
	ID           string           `json:"id"`
	NodeIDs      []string         `json:"node_ids"`
	InputShuffle string           `json:"input_shuffle,omitempty"` // "" for stage 0
	ShuffleOuts  []ShuffleOutInfo `json:"shuffle_outs,omitempty"`
	IsTerminal   bool             `json:"is_terminal"`
	Parallelism  int              `json:"parallelism"`
}

// --- Task & Job lifecycle ---

type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskSucceeded TaskStatus = "SUCCEEDED"
	TaskFailed    TaskStatus = "FAILED"
)

type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
)

// TaskID identifies one (stage, partition) execution unit; the attempt
// number travels separately.
type TaskID struct {
	StageID   string `json:"stage_id"`
	Partition int    `json:"partition"`
}

func (t TaskID) String() string {
	return t.StageID + "/" + strconv.Itoa(t.Partition)
}

// Task is one Stage applied to one partition.
type Task struct {
	JobID      string     `json:"job_id"`
	StageID    string     `json:"stage_id"`
	Partition  int        `json:"partition"`
	Attempt    int        `json:"attempt"`
	Status     TaskStatus `json:"status"`
	WorkerID   string     `json:"worker_id,omitempty"`
	StartedAt  time.Time  `json:"started_at,omitempty"`
	EndedAt    time.Time  `json:"ended_at,omitempty"`
}

// LastError describes why a job ended FAILED.
type LastError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	TaskID  string     `json:"task_id"`
}

// JobInfo is the GET /api/v1/jobs/{id} response.
type JobInfo struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Status         JobStatus   `json:"status"`
	TotalTasks     int         `json:"total_tasks"`
	CompletedTasks int         `json:"completed_tasks"`
	FailedTasks    int         `json:"failed_tasks"`
	Stages         []StageInfo `json:"stages"`
	DAG            DAG         `json:"dag"`
	StartedAt      time.Time   `json:"started_at"`
	EndedAt        time.Time  `json:"ended_at,omitempty"`
	LastError      *LastError  `json:"last_error,omitempty"`
}

// JobResultsResponse is the GET /api/v1/jobs/{id}/results response.
type JobResultsResponse struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`
	Files  []string  `json:"files"`
}

// --- Worker <-> Master control protocol ---

type RegisterRequest struct {
	Addr  string `json:"addr"`
	Slots int    `json:"slots"`
}

type RegisterResponse struct {
	WorkerID      string `json:"worker_id"`
	HeartbeatMS   int    `json:"heartbeat_ms"`
	DeadTimeoutMS int    `json:"dead_timeout_ms"`
}

type HeartbeatRequest struct {
	WorkerID string   `json:"worker_id"`
	MemBytes uint64   `json:"mem_bytes"`
	Running  []string `json:"running"`
}

// TaskAssignment tells a worker what to run and, for non-stage-0 stages,
// where to fetch each upstream shuffle bucket from.
type TaskAssignment struct {
	Task          Task              `json:"task"`
	StageInfo     StageInfo         `json:"stage"`
	Nodes         []DAGNode         `json:"nodes"`
	InputFiles    []string          `json:"input_files,omitempty"`     // stage 0: glob-assigned local files
	ShuffleID     string            `json:"shuffle_id,omitempty"`      // non-zero stages: upstream shuffle id
	Producers     map[int]string    `json:"producers,omitempty"`       // src partition -> producer worker addr
	JoinShuffleID string            `json:"join_shuffle_id,omitempty"` // join's right-hand shuffle id
	JoinProducers map[int]string    `json:"join_producers,omitempty"`
	OutputDir     string            `json:"output_dir"`
	NumPartitions int               `json:"num_partitions"`
}

type HeartbeatResponse struct {
	Assignments []TaskAssignment `json:"assignments"`
	CancelTasks []string         `json:"cancel_tasks"`
	CleanupJobs []string         `json:"cleanup_jobs"`
}

// TaskOutcome is the worker -> master report of a finished task.
type TaskOutcome struct {
	Succeeded bool       `json:"succeeded"`
	Outputs   []string   `json:"outputs,omitempty"`
	ErrorKind ErrorKind  `json:"error_kind,omitempty"`
	Message   string     `json:"message,omitempty"`
}

type TaskReportRequest struct {
	WorkerID string      `json:"worker_id"`
	JobID    string      `json:"job_id"`
	TaskID   TaskID      `json:"task_id"`
	Attempt  int         `json:"attempt"`
	Outcome  TaskOutcome `json:"outcome"`
}

type TaskReportResponse struct {
	Ack bool `json:"ack"`
}

// WorkerView is one row of GET /api/v1/workers.
type WorkerView struct {
	WorkerID     string `json:"worker_id"`
	Addr         string `json:"addr"`
	Slots        int    `json:"slots"`
	Running      int    `json:"running"`
	MemBytes     uint64 `json:"mem_bytes"`
	Dead         bool   `json:"dead"`
	Failures     int    `json:"failures"`
	Retries      int    `json:"retries"`
	LastHBMsAgo  int64  `json:"last_hb_ms_ago"`
}

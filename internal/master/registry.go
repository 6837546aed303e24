package master

import (
	"sync"
	"time"

	"mini-spark/internal/common"
	"mini-spark/internal/metrics"
)

// WorkerEntry is the master-side view of one worker.
type WorkerEntry struct {
	ID            string
	Addr          string
	Slots         int
	LastHeartbeat time.Time
	Running       map[string]bool // taskStrKey(taskKey) -> true
	Dead          bool
	MemBytes      uint64
	Failures      int
	Retries       int
}

// taskKey identifies one task slot (stage, partition) independent of
// attempt, since a task is re-created with a new attempt id on retry but
// occupies the same logical slot.
type taskKey struct {
	StageID   string
	Partition int
}

// Job is one user submission: its compiled stage graph, per-task state,
// and terminal outputs.
type Job struct {
	ID          string
	Name        string
	DAG         common.DAG
	Graph       *CompiledGraph
	Parallelism int
	InputGlob   string
	OutputDir   string
	Status      common.JobStatus
	StartedAt   time.Time
	EndedAt     time.Time
	LastError   *common.LastError

	// stageInputFiles[stageID][partition] = files assigned to that
	// partition for file-source stages (round-robin glob assignment).
	stageInputFiles map[string][][]string

	tasks map[taskKey]*common.Task
	// createdStages tracks which stages currently have tasks instantiated;
	// downstream stages get their tasks lazily once all producer stages
	// succeed.
	createdStages map[string]bool
	stageDone     map[string]bool

	// producers[shuffleID][srcPartition] = producing worker's addr, always
	// the latest known producer; re-execution updates this.
	producers map[string]map[int]string

	outputs []string

	cancelled bool
}

// Registry is the single mutex-guarded table of jobs, tasks, and workers.
type Registry struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	jobOrder []string
	workers map[string]*WorkerEntry

	MaxAttempts   int
	DeadTimeoutMS int
	HeartbeatMS   int
}

func NewRegistry(maxAttempts, deadTimeoutMS, heartbeatMS int) *Registry {
	return &Registry{
		jobs:          make(map[string]*Job),
		workers:       make(map[string]*WorkerEntry),
		MaxAttempts:   maxAttempts,
		DeadTimeoutMS: deadTimeoutMS,
		HeartbeatMS:   heartbeatMS,
	}
}

// --- Worker registry ---

func (r *Registry) RegisterWorker(id, addr string, slots int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[id] = &WorkerEntry{
		ID: id, Addr: addr, Slots: slots,
		LastHeartbeat: time.Now(), Running: make(map[string]bool),
	}
	r.updateActiveWorkersMetric()
}

// updateActiveWorkersMetric recomputes the gauge of live (non-dead) workers.
// Callers must already hold r.mu.
func (r *Registry) updateActiveWorkersMetric() {
	n := 0
	for _, w := range r.workers {
		if !w.Dead {
			n++
		}
	}
	metrics.ActiveWorkers.Set(float64(n))
}

func (r *Registry) TouchHeartbeat(workerID string, memBytes uint64) (*WorkerEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[workerID]
	if !ok {
		return nil, false
	}
	w.LastHeartbeat = time.Now()
	w.MemBytes = memBytes
	revived := w.Dead
	w.Dead = false
	if revived {
		w.Retries++
		r.updateActiveWorkersMetric()
	}
	return w, true
}

func (r *Registry) Workers() []WorkerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]WorkerEntry, 0, len(r.workers))
	for _, w := range r.workers {
		cp := *w
		out = append(out, cp)
	}
	return out
}

// --- Job admission ---

func (r *Registry) AddJob(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
	r.jobOrder = append(r.jobOrder, job.ID)
}

func (r *Registry) Job(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return j, ok
}

func newJobState(graph *CompiledGraph, stageInputFiles map[string][][]string) *Job {
	return &Job{
		Graph:           graph,
		stageInputFiles: stageInputFiles,
		tasks:           make(map[taskKey]*common.Task),
		createdStages:   make(map[string]bool),
		stageDone:       make(map[string]bool),
		producers:       make(map[string]map[int]string),
	}
}

// initTasks creates PENDING tasks for every file-source stage; downstream
// stages are created lazily as their producers finish.
func (j *Job) initTasks(parallelism int) {
	for _, st := range j.Graph.Stages {
		if st.FileSource {
			j.createStageTasks(st, parallelism)
		}
	}
}

func (j *Job) createStageTasks(st *CompiledStage, parallelism int) {
	if j.createdStages[st.ID] {
		return
	}
	j.createdStages[st.ID] = true
	for p := 0; p < parallelism; p++ {
		k := taskKey{StageID: st.ID, Partition: p}
		j.tasks[k] = &common.Task{
			JobID: j.ID, StageID: st.ID, Partition: p, Attempt: 1, Status: common.TaskPending,
		}
	}
}

// JobView builds the GET /api/v1/jobs/{id} response from current state.
func (r *Registry) JobView(id string) (common.JobInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return common.JobInfo{}, false
	}

	stages := make([]common.StageInfo, len(j.Graph.Stages))
	for i, st := range j.Graph.Stages {
		stages[i] = stageInfo(st, j.Parallelism)
	}

	completed, failed := 0, 0
	for _, t := range j.tasks {
		switch t.Status {
		case common.TaskSucceeded:
			completed++
		case common.TaskFailed:
			failed++
		}
	}

	return common.JobInfo{
		ID: j.ID, Name: j.Name, Status: j.Status,
		TotalTasks: len(j.tasks), CompletedTasks: completed, FailedTasks: failed,
		Stages: stages, DAG: j.DAG, StartedAt: j.StartedAt, EndedAt: j.EndedAt, LastError: j.LastError,
	}, true
}

// JobResults builds the GET /api/v1/jobs/{id}/results response.
func (r *Registry) JobResults(id string) (common.JobResultsResponse, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return common.JobResultsResponse{}, false
	}
	files := make([]string, len(j.outputs))
	copy(files, j.outputs)
	return common.JobResultsResponse{ID: j.ID, Status: j.Status, Files: files}, true
}

// WorkerViews builds the GET /api/v1/workers response rows.
func (r *Registry) WorkerViews() []common.WorkerView {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]common.WorkerView, 0, len(r.workers))
	now := time.Now()
	for _, w := range r.workers {
		out = append(out, common.WorkerView{
			WorkerID: w.ID, Addr: w.Addr, Slots: w.Slots, Running: len(w.Running),
			MemBytes: w.MemBytes, Dead: w.Dead, Failures: w.Failures, Retries: w.Retries,
			LastHBMsAgo: now.Sub(w.LastHeartbeat).Milliseconds(),
		})
	}
	return out
}

// consumers computes, for a producer stage, which stages consume its
// shuffle output (built lazily from the CompiledGraph on demand).
func (g *CompiledGraph) consumers(producerStageID string) []*CompiledStage {
	var out []*CompiledStage
	for _, st := range g.Stages {
		for _, src := range st.Sources {
			if src.ProducerStageID == producerStageID {
				out = append(out, st)
				break
			}
		}
	}
	return out
}

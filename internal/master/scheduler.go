// Scheduler: admits compiled jobs, dispatches ready tasks on each worker
// heartbeat, applies task reports, and sweeps dead workers / timed-out
// tasks.
package master

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"mini-spark/internal/common"
	"mini-spark/internal/metrics"
	"mini-spark/internal/storage"
)

// SubmitJob validates, compiles, and admits one job. It
// assigns stage-0 partitions via the glob-partitioning rule before the job
// is ever visible to dispatch.
func (r *Registry) SubmitJob(id string, req common.JobRequest) (*Job, error) {
	graph, err := Compile(req.DAG)
	if err != nil {
		return nil, err
	}

	p := req.Parallelism
	if p < 1 {
		p = 1
	}

	stageInputFiles := make(map[string][][]string)
	for _, st := range graph.Stages {
		if !st.FileSource {
			continue
		}
		glob := req.InputGlob
		if glob == "" {
			glob = st.Nodes[0].Params["path"]
		}
		assigned, err := storage.AssignPartitions(glob, p)
		if err != nil {
			return nil, err
		}
		stageInputFiles[st.ID] = assigned
	}

	job := newJobState(graph, stageInputFiles)
	job.ID = id
	job.Name = req.Name
	job.DAG = req.DAG
	job.Parallelism = p
	job.InputGlob = req.InputGlob
	job.OutputDir = req.OutputDir
	job.Status = common.JobRunning
	job.StartedAt = time.Now()
	job.initTasks(p)

	r.AddJob(job)
	metrics.JobsAdmitted.Inc()
	return job, nil
}

func taskStrKey(k taskKey) string { return k.StageID + "/" + strconv.Itoa(k.Partition) }

// Dispatch implements the heartbeat dispatch policy:
// free_slots = slots - running, pop ready tasks in (compiled stage order,
// partition) order.
func (r *Registry) Dispatch(workerID string, log zerolog.Logger) (common.HeartbeatResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return common.HeartbeatResponse{}, fmt.Errorf("unknown worker %s", workerID)
	}

	free := w.Slots - len(w.Running)
	var assignments []common.TaskAssignment
	var cancel []string
	var cleanup []string

	for _, jobID := range r.jobOrder {
		job := r.jobs[jobID]
		if job.Status == common.JobSucceeded || job.Status == common.JobFailed {
			cleanup = append(cleanup, jobID)
		}
		if job.cancelled {
			for k := range w.Running {
				if task, ok := job.taskByStrKey(k); ok && task.Status == common.TaskRunning {
					cancel = append(cancel, k)
				}
			}
			continue
		}
		if job.Status != common.JobRunning || free <= 0 {
			continue
		}

		for _, st := range job.Graph.Stages {
			if !job.createdStages[st.ID] {
				continue
			}
			for _, p := range job.sortedPartitions(st.ID) {
				if free <= 0 {
					break
				}
				k := taskKey{StageID: st.ID, Partition: p}
				task := job.tasks[k]
				if task.Status != common.TaskPending {
					continue
				}
				task.Status = common.TaskRunning
				task.WorkerID = workerID
				task.StartedAt = time.Now()
				task.JobID = job.ID
				w.Running[taskStrKey(k)] = true
				assignments = append(assignments, job.buildAssignment(task, st, w.Addr))
				free--
				metrics.TasksDispatched.Inc()
				log.Info().Str("job_id", jobID).Str("stage_id", st.ID).Int("partition", p).
					Str("worker_id", workerID).Msg("task dispatched")
			}
		}
	}

	return common.HeartbeatResponse{Assignments: assignments, CancelTasks: cancel, CleanupJobs: cleanup}, nil
}

func (j *Job) sortedPartitions(stageID string) []int {
	var out []int
	for k := range j.tasks {
		if k.StageID == stageID {
			out = append(out, k.Partition)
		}
	}
	sort.Ints(out)
	return out
}

func (j *Job) taskByStrKey(s string) (*common.Task, bool) {
	for k, t := range j.tasks {
		if taskStrKey(k) == s {
			return t, true
		}
	}
	return nil, false
}

func (j *Job) buildAssignment(task *common.Task, st *CompiledStage, workerAddr string) common.TaskAssignment {
	a := common.TaskAssignment{
		Task:          *task,
		StageInfo:     stageInfo(st, j.Parallelism),
		Nodes:         st.Nodes,
		OutputDir:     j.OutputDir,
		NumPartitions: j.Parallelism,
	}
	if st.FileSource {
		files := j.stageInputFiles[st.ID]
		if task.Partition < len(files) {
			a.InputFiles = files[task.Partition]
		}
		return a
	}
	for _, src := range st.Sources {
		producers := cloneProducers(j.producers[src.ShuffleID])
		if src.Role == "right" {
			a.JoinShuffleID = src.ShuffleID
			a.JoinProducers = producers
		} else {
			a.ShuffleID = src.ShuffleID
			a.Producers = producers
		}
	}
	return a
}

func cloneProducers(m map[int]string) map[int]string {
	out := make(map[int]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func stageInfo(st *CompiledStage, parallelism int) common.StageInfo {
	ids := make([]string, len(st.Nodes))
	for i, n := range st.Nodes {
		ids[i] = n.ID
	}
	inputShuffle := ""
	if len(st.Sources) > 0 {
		inputShuffle = st.Sources[0].ShuffleID
	}
	outs := make([]common.ShuffleOutInfo, len(st.ShuffleOuts))
	for i, so := range st.ShuffleOuts {
		outs[i] = common.ShuffleOutInfo{ShuffleID: so.ShuffleID, KeyParam: so.KeyParam}
	}
	return common.StageInfo{
		ID: st.ID, NodeIDs: ids, InputShuffle: inputShuffle, ShuffleOuts: outs,
		IsTerminal: st.IsSink, Parallelism: parallelism,
	}
}

// ReportTask applies the Task state transition for one
// worker report: SUCCEEDED records outputs/shuffle producers and may open
// downstream stages or finish the job; FAILED requeues under the retry
// budget or fails the job.
func (r *Registry) ReportTask(req common.TaskReportRequest, log zerolog.Logger) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[req.JobID]
	if !ok {
		return false
	}
	k := taskKey{StageID: req.TaskID.StageID, Partition: req.TaskID.Partition}
	task, ok := job.tasks[k]
	if !ok || task.Status != common.TaskRunning || task.Attempt != req.Attempt {
		return false // stale or duplicate report
	}
	if job.Status != common.JobRunning {
		// The job already reached a terminal state (e.g. a sibling task
		// exhausted its retry budget) before this report arrived; a late
		// report must not reopen it.
		return false
	}

	producerAddr := ""
	if w, ok := r.workers[task.WorkerID]; ok {
		delete(w.Running, taskStrKey(k))
		producerAddr = w.Addr
	}

	st := job.Graph.StageByID[req.TaskID.StageID]

	if req.Outcome.Succeeded {
		task.Status = common.TaskSucceeded
		task.EndedAt = time.Now()
		metrics.TasksSucceeded.Inc()
		job.recordOutputs(st, k.Partition, producerAddr, req.Outcome.Outputs)
		job.maybeAdvance(st)
		return true
	}

	metrics.TasksFailed.Inc()
	if task.Attempt < r.MaxAttempts {
		task.Attempt++
		task.Status = common.TaskPending
		task.WorkerID = ""
		log.Warn().Str("job_id", job.ID).Str("stage_id", st.ID).Int("partition", k.Partition).
			Int("attempt", task.Attempt).Str("error_kind", string(req.Outcome.ErrorKind)).
			Msg("task failed, requeueing")
		return true
	}

	task.Status = common.TaskFailed
	task.EndedAt = time.Now()
	job.fail(req.Outcome.ErrorKind, req.Outcome.Message, req.TaskID.String())
	return true
}

// recordOutputs records shuffle-bucket producer addresses or final output
// file paths, depending on whether st feeds a shuffle or is a sink.
func (j *Job) recordOutputs(st *CompiledStage, partition int, workerAddr string, outputs []string) {
	for _, out := range st.ShuffleOuts {
		if j.producers[out.ShuffleID] == nil {
			j.producers[out.ShuffleID] = make(map[int]string)
		}
		j.producers[out.ShuffleID][partition] = workerAddr
	}
	if st.IsSink {
		j.outputs = append(j.outputs, outputs...)
	}
}

// maybeAdvance marks st done once every partition has succeeded, and lazily
// creates tasks for any consumer stage whose producers are all now done
// (the implicit stage ordering from compilation).
func (j *Job) maybeAdvance(st *CompiledStage) {
	if j.Status != common.JobRunning {
		return
	}
	for _, p := range j.sortedPartitions(st.ID) {
		if j.tasks[taskKey{StageID: st.ID, Partition: p}].Status != common.TaskSucceeded {
			return
		}
	}
	j.stageDone[st.ID] = true

	for _, consumer := range j.Graph.consumers(st.ID) {
		ready := true
		for _, src := range consumer.Sources {
			if !j.stageDone[src.ProducerStageID] {
				ready = false
				break
			}
		}
		if ready {
			j.createStageTasks(consumer, j.Parallelism)
		}
	}

	for _, s := range j.Graph.Stages {
		if !j.stageDone[s.ID] {
			return
		}
	}
	j.Status = common.JobSucceeded
	j.EndedAt = time.Now()
	metrics.JobsSucceeded.Inc()
}

func (j *Job) fail(kind common.ErrorKind, msg, taskID string) {
	if j.Status == common.JobFailed {
		return
	}
	j.Status = common.JobFailed
	j.EndedAt = time.Now()
	j.cancelled = true
	j.LastError = &common.LastError{Kind: kind, Message: msg, TaskID: taskID}
	metrics.JobsFailed.Inc()
}

// SweepDeadWorkers marks workers silent for longer than DeadTimeoutMS as
// dead, and requeues (or fails) whatever tasks they were running.
func (r *Registry) SweepDeadWorkers(log zerolog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deadline := time.Duration(r.DeadTimeoutMS) * time.Millisecond
	now := time.Now()
	anyNewlyDead := false

	for _, w := range r.workers {
		if w.Dead || now.Sub(w.LastHeartbeat) <= deadline {
			continue
		}
		w.Dead = true
		anyNewlyDead = true
		w.Failures++
		metrics.WorkersDead.Inc()
		log.Warn().Str("worker_id", w.ID).Msg("worker declared dead")

		for strKey := range w.Running {
			j, task := r.findRunningTask(w.ID, strKey)
			if j == nil || task == nil {
				continue
			}
			if task.Attempt < r.MaxAttempts {
				task.Attempt++
				task.Status = common.TaskPending
				task.WorkerID = ""
			} else {
				task.Status = common.TaskFailed
				task.EndedAt = now
				j.fail(common.KindTimeout, fmt.Sprintf("worker %s declared dead", w.ID), strKey)
			}
		}
		w.Running = make(map[string]bool)
	}

	if anyNewlyDead {
		r.updateActiveWorkersMetric()
	}
}

// RunMaintenanceLoop periodically sweeps dead workers and timed-out tasks
// until ctx is cancelled.
func (r *Registry) RunMaintenanceLoop(ctx context.Context, taskTimeoutMS int, log zerolog.Logger) {
	interval := time.Duration(r.DeadTimeoutMS/3) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepDeadWorkers(log)
			r.SweepTimedOutTasks(taskTimeoutMS, log)
		}
	}
}

func (r *Registry) findRunningTask(workerID, strKey string) (*Job, *common.Task) {
	for _, j := range r.jobs {
		if task, ok := j.taskByStrKey(strKey); ok && task.WorkerID == workerID && task.Status == common.TaskRunning {
			return j, task
		}
	}
	return nil, nil
}

// SweepTimedOutTasks fails (not retries) tasks RUNNING longer than
// taskTimeoutMS even though their worker is still alive: a per-task
// wall-clock timeout is marked FAILED{Timeout} outright, unlike the
// worker-dead path above, which does consume the retry budget.
func (r *Registry) SweepTimedOutTasks(taskTimeoutMS int, log zerolog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(taskTimeoutMS) * time.Millisecond
	now := time.Now()

	for _, j := range r.jobs {
		if j.Status != common.JobRunning {
			continue
		}
		for k, task := range j.tasks {
			if task.Status != common.TaskRunning || now.Sub(task.StartedAt) <= timeout {
				continue
			}
			if w, ok := r.workers[task.WorkerID]; ok {
				delete(w.Running, taskStrKey(k))
			}
			log.Warn().Str("job_id", j.ID).Str("stage_id", k.StageID).Int("partition", k.Partition).
				Msg("task timed out")
			task.Status = common.TaskFailed
			task.EndedAt = now
			j.fail(common.KindTimeout, "task exceeded timeout", taskStrKey(k))
		}
	}
}

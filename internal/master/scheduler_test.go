package master

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-spark/internal/common"
)

func testLog() zerolog.Logger { return zerolog.Nop() }

func singleStageDAG(glob string) common.DAG {
	return common.DAG{
		Nodes: []common.DAGNode{
			{ID: "src", Op: common.OpReadText, Params: map[string]string{"path": glob}},
			{ID: "sink", Op: common.OpWriteJSONL, Params: map[string]string{}},
		},
		Edges: [][2]string{{"src", "sink"}},
	}
}

func writeInputFiles(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, filepath0(i)), []byte("line\n"), 0o644))
	}
	return filepath.Join(dir, "*.txt")
}

func filepath0(i int) string { return "part" + string(rune('0'+i)) + ".txt" }

func TestSubmitJobAssignsPartitionsAndAdmits(t *testing.T) {
	r := NewRegistry(3, 15000, 3000)
	glob := writeInputFiles(t, 2)

	job, err := r.SubmitJob("job1", common.JobRequest{
		Name: "test", DAG: singleStageDAG(glob), Parallelism: 2, OutputDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, common.JobRunning, job.Status)
	assert.Len(t, job.tasks, 2, "2 partitions x 1 file-source stage")
}

func TestSubmitJobRejectsInvalidDag(t *testing.T) {
	r := NewRegistry(3, 15000, 3000)
	_, err := r.SubmitJob("job1", common.JobRequest{
		DAG: common.DAG{Nodes: []common.DAGNode{{ID: "m", Op: common.OpMap, Params: map[string]string{"fn": "to_lower"}}}},
		Parallelism: 1,
	})
	require.Error(t, err)
}

func TestDispatchAssignsUpToFreeSlotsAndMarksRunning(t *testing.T) {
	r := NewRegistry(3, 15000, 3000)
	glob := writeInputFiles(t, 3)
	_, err := r.SubmitJob("job1", common.JobRequest{DAG: singleStageDAG(glob), Parallelism: 3, OutputDir: t.TempDir()})
	require.NoError(t, err)

	r.RegisterWorker("w1", "http://w1", 2)
	resp, err := r.Dispatch("w1", testLog())
	require.NoError(t, err)
	assert.Len(t, resp.Assignments, 2, "only 2 free slots even though 3 tasks are pending")

	resp2, err := r.Dispatch("w1", testLog())
	require.NoError(t, err)
	assert.Empty(t, resp2.Assignments, "no free slots left")
}

func TestDispatchUnknownWorkerErrors(t *testing.T) {
	r := NewRegistry(3, 15000, 3000)
	_, err := r.Dispatch("ghost", testLog())
	assert.Error(t, err)
}

func TestReportTaskSuccessAdvancesJobToSucceeded(t *testing.T) {
	r := NewRegistry(3, 15000, 3000)
	glob := writeInputFiles(t, 1)
	_, err := r.SubmitJob("job1", common.JobRequest{DAG: singleStageDAG(glob), Parallelism: 1, OutputDir: t.TempDir()})
	require.NoError(t, err)

	r.RegisterWorker("w1", "http://w1", 1)
	resp, err := r.Dispatch("w1", testLog())
	require.NoError(t, err)
	require.Len(t, resp.Assignments, 1)
	a := resp.Assignments[0]

	ok := r.ReportTask(common.TaskReportRequest{
		WorkerID: "w1", JobID: "job1", TaskID: common.TaskID{StageID: a.Task.StageID, Partition: a.Task.Partition},
		Attempt: a.Task.Attempt, Outcome: common.TaskOutcome{Succeeded: true, Outputs: []string{"/out/f.jsonl"}},
	}, testLog())
	require.True(t, ok)

	info, ok := r.JobView("job1")
	require.True(t, ok)
	assert.Equal(t, common.JobSucceeded, info.Status)
	assert.Equal(t, 1, info.CompletedTasks)
}

func TestReportTaskFailureRequeuesUnderRetryBudget(t *testing.T) {
	r := NewRegistry(2, 15000, 3000)
	glob := writeInputFiles(t, 1)
	_, err := r.SubmitJob("job1", common.JobRequest{DAG: singleStageDAG(glob), Parallelism: 1, OutputDir: t.TempDir()})
	require.NoError(t, err)

	r.RegisterWorker("w1", "http://w1", 1)
	resp, err := r.Dispatch("w1", testLog())
	require.NoError(t, err)
	a := resp.Assignments[0]

	ok := r.ReportTask(common.TaskReportRequest{
		WorkerID: "w1", JobID: "job1", TaskID: common.TaskID{StageID: a.Task.StageID, Partition: a.Task.Partition},
		Attempt: a.Task.Attempt, Outcome: common.TaskOutcome{Succeeded: false, ErrorKind: common.KindIoError, Message: "disk error"},
	}, testLog())
	require.True(t, ok)

	info, _ := r.JobView("job1")
	assert.Equal(t, common.JobRunning, info.Status, "still under retry budget")

	resp2, err := r.Dispatch("w1", testLog())
	require.NoError(t, err)
	require.Len(t, resp2.Assignments, 1)
	assert.Equal(t, 2, resp2.Assignments[0].Task.Attempt)
}

func TestReportTaskFailureExhaustsRetriesAndFailsJob(t *testing.T) {
	r := NewRegistry(1, 15000, 3000)
	glob := writeInputFiles(t, 1)
	_, err := r.SubmitJob("job1", common.JobRequest{DAG: singleStageDAG(glob), Parallelism: 1, OutputDir: t.TempDir()})
	require.NoError(t, err)

	r.RegisterWorker("w1", "http://w1", 1)
	resp, err := r.Dispatch("w1", testLog())
	require.NoError(t, err)
	a := resp.Assignments[0]

	ok := r.ReportTask(common.TaskReportRequest{
		WorkerID: "w1", JobID: "job1", TaskID: common.TaskID{StageID: a.Task.StageID, Partition: a.Task.Partition},
		Attempt: a.Task.Attempt, Outcome: common.TaskOutcome{Succeeded: false, ErrorKind: common.KindTypeError, Message: "bad value"},
	}, testLog())
	require.True(t, ok)

	info, _ := r.JobView("job1")
	assert.Equal(t, common.JobFailed, info.Status)
	require.NotNil(t, info.LastError)
	assert.Equal(t, common.KindTypeError, info.LastError.Kind)
}

func TestReportTaskStaleAttemptIsIgnored(t *testing.T) {
	r := NewRegistry(3, 15000, 3000)
	glob := writeInputFiles(t, 1)
	_, err := r.SubmitJob("job1", common.JobRequest{DAG: singleStageDAG(glob), Parallelism: 1, OutputDir: t.TempDir()})
	require.NoError(t, err)

	r.RegisterWorker("w1", "http://w1", 1)
	resp, err := r.Dispatch("w1", testLog())
	require.NoError(t, err)
	a := resp.Assignments[0]

	ok := r.ReportTask(common.TaskReportRequest{
		WorkerID: "w1", JobID: "job1", TaskID: common.TaskID{StageID: a.Task.StageID, Partition: a.Task.Partition},
		Attempt: a.Task.Attempt + 99, Outcome: common.TaskOutcome{Succeeded: true},
	}, testLog())
	assert.False(t, ok)
}

func TestReportTaskLateSuccessDoesNotReopenAFailedJob(t *testing.T) {
	r := NewRegistry(1, 15000, 3000)
	glob := writeInputFiles(t, 2)
	_, err := r.SubmitJob("job1", common.JobRequest{DAG: singleStageDAG(glob), Parallelism: 2, OutputDir: t.TempDir()})
	require.NoError(t, err)

	r.RegisterWorker("w1", "http://w1", 2)
	resp, err := r.Dispatch("w1", testLog())
	require.NoError(t, err)
	require.Len(t, resp.Assignments, 2)
	failing, lagging := resp.Assignments[0], resp.Assignments[1]

	ok := r.ReportTask(common.TaskReportRequest{
		WorkerID: "w1", JobID: "job1", TaskID: common.TaskID{StageID: failing.Task.StageID, Partition: failing.Task.Partition},
		Attempt: failing.Task.Attempt, Outcome: common.TaskOutcome{Succeeded: false, ErrorKind: common.KindTypeError, Message: "bad value"},
	}, testLog())
	require.True(t, ok)

	info, _ := r.JobView("job1")
	require.Equal(t, common.JobFailed, info.Status, "retry budget of 1 is exhausted on first failure")

	ok = r.ReportTask(common.TaskReportRequest{
		WorkerID: "w1", JobID: "job1", TaskID: common.TaskID{StageID: lagging.Task.StageID, Partition: lagging.Task.Partition},
		Attempt: lagging.Task.Attempt, Outcome: common.TaskOutcome{Succeeded: true, Outputs: []string{"/out/f.jsonl"}},
	}, testLog())
	assert.False(t, ok, "a late report against an already-terminal job is rejected")

	info, _ = r.JobView("job1")
	assert.Equal(t, common.JobFailed, info.Status, "a late success report must not reopen an already-failed job")
}

func TestSweepDeadWorkersRequeuesRunningTasks(t *testing.T) {
	r := NewRegistry(3, 1, 3000) // DeadTimeoutMS=1ms so it trips immediately
	glob := writeInputFiles(t, 1)
	_, err := r.SubmitJob("job1", common.JobRequest{DAG: singleStageDAG(glob), Parallelism: 1, OutputDir: t.TempDir()})
	require.NoError(t, err)

	r.RegisterWorker("w1", "http://w1", 1)
	_, err = r.Dispatch("w1", testLog())
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	r.SweepDeadWorkers(testLog())

	workers := r.Workers()
	require.Len(t, workers, 1)
	assert.True(t, workers[0].Dead)

	info, _ := r.JobView("job1")
	assert.Equal(t, common.JobRunning, info.Status, "task requeued, budget not exhausted")
}

func TestSweepTimedOutTasksFailsJobDirectlyWithoutRetry(t *testing.T) {
	r := NewRegistry(3, 15000, 3000)
	glob := writeInputFiles(t, 1)
	_, err := r.SubmitJob("job1", common.JobRequest{DAG: singleStageDAG(glob), Parallelism: 1, OutputDir: t.TempDir()})
	require.NoError(t, err)

	r.RegisterWorker("w1", "http://w1", 1)
	_, err = r.Dispatch("w1", testLog())
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	r.SweepTimedOutTasks(1, testLog())

	info, ok := r.JobView("job1")
	require.True(t, ok)
	assert.Equal(t, common.JobFailed, info.Status, "a wall-clock timeout fails the job, it does not consume the retry budget")
	require.NotNil(t, info.LastError)
	assert.Equal(t, common.KindTimeout, info.LastError.Kind)

	resp, err := r.Dispatch("w1", testLog())
	require.NoError(t, err)
	assert.Empty(t, resp.Assignments, "no task should be re-assigned once the job has failed")
}

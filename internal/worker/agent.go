// Agent owns one worker's lifecycle: registration with retry, the
// heartbeat loop that reports liveness and pulls task assignments, and
// task execution, one goroutine per assignment (the agent itself does not
// cap how many run; the master hands out at most the free slots).
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"mini-spark/internal/common"
	"mini-spark/internal/metrics"
)

// Agent is the runtime state of one worker process.
type Agent struct {
	ID            string
	Addr          string
	MasterURL     string
	Slots         int
	TmpDir        string
	MaxInMemKeys  int
	HeartbeatMS   int
	DeadTimeoutMS int
	Log           zerolog.Logger

	client *http.Client

	mu      sync.Mutex
	running map[string]*runningTask
}

type runningTask struct {
	assignment common.TaskAssignment
	cancel     context.CancelFunc
}

// CleanupOrphans removes tmp-dir subtrees older than maxAge, for job
// directories left behind by a worker that crashed before it ever saw the
// owning job's cleanup_jobs notice.
func CleanupOrphans(tmpDir string, maxAge time.Duration, log zerolog.Logger) {
	now := time.Now()
	for _, kind := range []string{"shuffle", "spill"} {
		root := filepath.Join(tmpDir, kind)
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil || now.Sub(info.ModTime()) < maxAge {
				continue
			}
			path := filepath.Join(root, e.Name())
			if err := os.RemoveAll(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("orphan cleanup failed")
			} else {
				log.Info().Str("path", path).Msg("removed orphaned job tmp dir")
			}
		}
	}
}

// NewAgent builds an Agent ready to Run; the worker id is assigned by the
// master on registration.
func NewAgent(addr, masterURL string, slots int, tmpDir string, maxInMemKeys, heartbeatMS int, log zerolog.Logger) *Agent {
	return &Agent{
		Addr: addr, MasterURL: masterURL, Slots: slots, TmpDir: tmpDir,
		MaxInMemKeys: maxInMemKeys, HeartbeatMS: heartbeatMS,
		Log:     log,
		client:  newShuffleClient(),
		running: make(map[string]*runningTask),
	}
}

// ShuffleServer mounts the GET /shuffle/:job/:shuffle/:src/:dst endpoint of
// the shuffle fetch route onto e.
func (a *Agent) ShuffleServer(e *echo.Echo) {
	e.GET("/shuffle/:job/:shuffle/:src/:dst", a.handleShuffleGet)
}

func (a *Agent) handleShuffleGet(c echo.Context) error {
	job := c.Param("job")
	shuffleID := c.Param("shuffle")
	src := c.Param("src")
	dst := c.Param("dst")
	path := filepath.Join(a.TmpDir, "shuffle", job, shuffleID, fmt.Sprintf("%s-%s.bin", src, dst))
	if _, err := os.Stat(path); err != nil {
		return c.NoContent(http.StatusNotFound)
	}
	return c.File(path)
}

// Run registers with the master (retrying with backoff) and then blocks,
// driving the heartbeat loop until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.registerWithRetry(ctx); err != nil {
		return err
	}
	a.Log.Info().Str("worker_id", a.ID).Str("addr", a.Addr).Msg("registered with master")

	ticker := time.NewTicker(time.Duration(a.HeartbeatMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.heartbeatOnce(ctx)
		}
	}
}

func (a *Agent) registerWithRetry(ctx context.Context) error {
	var resp common.RegisterResponse
	op := func() error {
		r, err := a.register()
		if err != nil {
			a.Log.Warn().Err(err).Msg("registration failed, retrying")
			return err
		}
		resp = r
		return nil
	}
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return err
	}
	a.ID = resp.WorkerID
	if resp.HeartbeatMS > 0 {
		a.HeartbeatMS = resp.HeartbeatMS
	}
	a.DeadTimeoutMS = resp.DeadTimeoutMS
	return nil
}

func (a *Agent) register() (common.RegisterResponse, error) {
	var resp common.RegisterResponse
	body, _ := json.Marshal(common.RegisterRequest{Addr: a.Addr, Slots: a.Slots})
	r, err := a.client.Post(a.MasterURL+"/api/v1/internal/register", "application/json", bytes.NewReader(body))
	if err != nil {
		return resp, err
	}
	defer r.Body.Close()
	if r.StatusCode != http.StatusOK {
		return resp, fmt.Errorf("register: master returned status %d", r.StatusCode)
	}
	err = json.NewDecoder(r.Body).Decode(&resp)
	return resp, err
}

func (a *Agent) heartbeatOnce(ctx context.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	req := common.HeartbeatRequest{WorkerID: a.ID, MemBytes: memStats.Alloc, Running: a.runningTaskIDs()}
	body, _ := json.Marshal(req)

	r, err := a.client.Post(a.MasterURL+"/api/v1/internal/heartbeat", "application/json", bytes.NewReader(body))
	if err != nil {
		a.Log.Warn().Err(err).Msg("heartbeat failed")
		return
	}
	defer r.Body.Close()
	if r.StatusCode != http.StatusOK {
		a.Log.Warn().Int("status", r.StatusCode).Msg("heartbeat rejected")
		return
	}

	var resp common.HeartbeatResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		a.Log.Warn().Err(err).Msg("decoding heartbeat response")
		return
	}

	for _, id := range resp.CancelTasks {
		a.cancelTask(id)
	}
	for _, jobID := range resp.CleanupJobs {
		a.cleanupJob(jobID)
	}
	for _, assignment := range resp.Assignments {
		a.launchTask(ctx, assignment)
	}
}

func (a *Agent) runningTaskIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.running))
	for id := range a.running {
		out = append(out, id)
	}
	return out
}

func (a *Agent) cancelTask(taskID string) {
	a.mu.Lock()
	t, ok := a.running[taskID]
	a.mu.Unlock()
	if ok {
		t.cancel()
	}
}

func (a *Agent) cleanupJob(jobID string) {
	_ = os.RemoveAll(filepath.Join(a.TmpDir, "shuffle", jobID))
	_ = os.RemoveAll(filepath.Join(a.TmpDir, "spill", jobID))
}

func (a *Agent) launchTask(ctx context.Context, assignment common.TaskAssignment) {
	key := assignment.Task.StageID + "/" + fmt.Sprintf("%d", assignment.Task.Partition)
	taskCtx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	a.running[key] = &runningTask{assignment: assignment, cancel: cancel}
	a.mu.Unlock()

	go func() {
		defer func() {
			a.mu.Lock()
			delete(a.running, key)
			a.mu.Unlock()
			cancel()
		}()
		a.execute(taskCtx, assignment)
	}()
}

func (a *Agent) execute(ctx context.Context, assignment common.TaskAssignment) {
	log := a.Log.With().Str("job_id", assignment.Task.JobID).Str("stage_id", assignment.Task.StageID).
		Int("partition", assignment.Task.Partition).Logger()
	log.Info().Msg("task started")

	outputs, err := RunTask(ctx, assignment, a.client, a.TmpDir, a.MaxInMemKeys)
	metrics.TasksExecuted.Inc()

	outcome := common.TaskOutcome{Succeeded: err == nil, Outputs: outputs}
	if err != nil {
		kind, msg := common.AsTaskError(err)
		outcome.ErrorKind = kind
		outcome.Message = msg
		log.Warn().Str("error_kind", string(kind)).Str("message", msg).Msg("task failed")
	} else {
		log.Info().Msg("task succeeded")
	}

	a.reportTask(assignment, outcome, log)
}

func (a *Agent) reportTask(assignment common.TaskAssignment, outcome common.TaskOutcome, log zerolog.Logger) {
	req := common.TaskReportRequest{
		WorkerID: a.ID,
		JobID:    assignment.Task.JobID,
		TaskID:   common.TaskID{StageID: assignment.Task.StageID, Partition: assignment.Task.Partition},
		Attempt:  assignment.Task.Attempt,
		Outcome:  outcome,
	}
	body, _ := json.Marshal(req)

	for attempt := 0; attempt < 3; attempt++ {
		r, err := a.client.Post(a.MasterURL+"/api/v1/internal/task_report", "application/json", bytes.NewReader(body))
		if err == nil {
			r.Body.Close()
			return
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("reporting task outcome failed, retrying")
		time.Sleep(time.Second)
	}
	log.Error().Msg("giving up reporting task outcome")
}

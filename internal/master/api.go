// HTTP handlers for the master's public job API and the internal
// worker<->master control protocol, built on echo so request
// binding/validation/error responses follow one convention across routes.
package master

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"mini-spark/internal/common"
)

// Server wires the Registry to echo routes.
type Server struct {
	Reg           *Registry
	Log           zerolog.Logger
	HeartbeatMS   int
	DeadTimeoutMS int
}

func NewServer(reg *Registry, log zerolog.Logger, heartbeatMS, deadTimeoutMS int) *Server {
	return &Server{Reg: reg, Log: log, HeartbeatMS: heartbeatMS, DeadTimeoutMS: deadTimeoutMS}
}

// Register mounts every route onto e.
func (s *Server) Register(e *echo.Echo) {
	api := e.Group("/api/v1")
	api.POST("/jobs", s.submitJob)
	api.GET("/jobs/:id", s.getJob)
	api.GET("/jobs/:id/results", s.getResults)
	api.GET("/workers", s.listWorkers)

	internal := api.Group("/internal")
	internal.POST("/register", s.registerWorker)
	internal.POST("/heartbeat", s.heartbeat)
	internal.POST("/task_report", s.taskReport)
}

type errorBody struct {
	ErrorKind common.ErrorKind `json:"error_kind"`
	Message   string           `json:"message"`
}

func taskErrResponse(c echo.Context, err error) error {
	kind, msg := common.AsTaskError(err)
	status := http.StatusBadRequest
	if kind == common.KindInputNotFound {
		status = http.StatusNotFound
	}
	return c.JSON(status, errorBody{ErrorKind: kind, Message: msg})
}

func (s *Server) submitJob(c echo.Context) error {
	var req common.JobRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{ErrorKind: common.KindInvalidDag, Message: err.Error()})
	}

	id := uuid.New().String()
	job, err := s.Reg.SubmitJob(id, req)
	if err != nil {
		return taskErrResponse(c, err)
	}

	s.Log.Info().Str("job_id", job.ID).Str("name", job.Name).Int("parallelism", job.Parallelism).
		Msg("job admitted")

	view, _ := s.Reg.JobView(job.ID)
	return c.JSON(http.StatusOK, view)
}

func (s *Server) getJob(c echo.Context) error {
	view, ok := s.Reg.JobView(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody{Message: "job not found"})
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) getResults(c echo.Context) error {
	res, ok := s.Reg.JobResults(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody{Message: "job not found"})
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) listWorkers(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Reg.WorkerViews())
}

func (s *Server) registerWorker(c echo.Context) error {
	var req common.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Message: err.Error()})
	}
	id := uuid.New().String()
	s.Reg.RegisterWorker(id, req.Addr, req.Slots)
	s.Log.Info().Str("worker_id", id).Str("addr", req.Addr).Int("slots", req.Slots).Msg("worker registered")
	return c.JSON(http.StatusOK, common.RegisterResponse{
		WorkerID: id, HeartbeatMS: s.HeartbeatMS, DeadTimeoutMS: s.DeadTimeoutMS,
	})
}

func (s *Server) heartbeat(c echo.Context) error {
	var req common.HeartbeatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Message: err.Error()})
	}
	if _, ok := s.Reg.TouchHeartbeat(req.WorkerID, req.MemBytes); !ok {
		return c.JSON(http.StatusNotFound, errorBody{Message: "unknown worker"})
	}
	resp, err := s.Reg.Dispatch(req.WorkerID, s.Log)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Message: err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) taskReport(c echo.Context) error {
	var req common.TaskReportRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Message: err.Error()})
	}
	ok := s.Reg.ReportTask(req, s.Log)
	return c.JSON(http.StatusOK, common.TaskReportResponse{Ack: ok})
}

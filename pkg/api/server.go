// Package api exposes the HTTP surface: the worker callback endpoint, the
// WebSocket upgrade, job management and health.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pinnokio/orchestrator/pkg/models"
)

// CallbackSink resumes suspended agent loops from worker callbacks.
// Implemented by orchestrator.Orchestrator.
type CallbackSink interface {
	HandleCallback(ctx context.Context, cb *models.WorkerCallback) error
}

// JobManager persists and removes recurring job definitions. Implemented by
// scheduler.Scheduler, which derives the cron schedule on save.
type JobManager interface {
	SaveJob(ctx context.Context, job *models.SchedulerJob, schedule models.JobSchedule) error
	DeleteJob(ctx context.Context, jobID string) error
}

// JobDirectory reads stored job definitions. Implemented by
// services.JobService.
type JobDirectory interface {
	ListJobsForUser(ctx context.Context, userID string) ([]*models.SchedulerJob, error)
}

// Pinger reports backing store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	callbacks CallbackSink
	scheduler JobManager
	jobs      JobDirectory
	mongo     Pinger
	redis     Pinger
	wsHandler http.HandlerFunc
}

// NewServer wires the routes. The WebSocket handler is passed as a plain
// http.HandlerFunc so the ws package stays framework-free.
func NewServer(port string, callbacks CallbackSink, scheduler JobManager, jobs JobDirectory, mongo, redis Pinger, wsHandler http.HandlerFunc) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), securityHeaders())

	s := &Server{
		router:    router,
		callbacks: callbacks,
		scheduler: scheduler,
		jobs:      jobs,
		mongo:     mongo,
		redis:     redis,
		wsHandler: wsHandler,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/ws", func(c *gin.Context) {
		s.wsHandler(c.Writer, c.Request)
	})
	s.router.POST("/lpt/callback", s.callbackHandler)

	jobs := s.router.Group("/jobs")
	jobs.POST("", s.saveJobHandler)
	jobs.GET("", s.listJobsHandler)
	jobs.DELETE("", s.deleteJobHandler)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

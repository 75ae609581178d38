// Package api provides the HTTP API for the reconnaissance service,
// wired onto every route in spec.md §6. Router construction, recovery
// middleware, and the request-logging middleware are kept wholesale
// from the teacher's internal/api/api.go; routes and handlers are
// rewritten for the scan/task/cache domain.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/reconscan/reconscan/internal/cache"
	"github.com/reconscan/reconscan/internal/config"
	"github.com/reconscan/reconscan/internal/metrics"
	"github.com/reconscan/reconscan/internal/prober"
	"github.com/reconscan/reconscan/internal/queue"
	"github.com/reconscan/reconscan/internal/scheduler"
	"github.com/reconscan/reconscan/internal/sink"
	"github.com/reconscan/reconscan/internal/target"
)

// Server is the HTTP API server: every route's shared dependencies.
type Server struct {
	cfg       config.ScanConfig
	resolver  *target.Resolver
	scheduler *scheduler.Scheduler
	cache     *cache.Cache
	queueMgr  *queue.Manager
	sink      sink.Sink
	dialer    prober.Dialer
	logger    *zap.SugaredLogger
	router    *gin.Engine
}

// New creates a new API server. dialer is the transport the pre-scan
// gate dials through (a nil dialer makes real TCP connections); the
// scheduler dials through the dialer it was given by scheduler.New.
func New(cfg config.ScanConfig, resolver *target.Resolver, sched *scheduler.Scheduler, c *cache.Cache, queueMgr *queue.Manager, sk sink.Sink, dialer prober.Dialer, logger *zap.SugaredLogger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:       cfg,
		resolver:  resolver,
		scheduler: sched,
		cache:     c,
		queueMgr:  queueMgr,
		sink:      sk,
		dialer:    dialer,
		logger:    logger,
		router:    gin.New(),
	}

	s.setupRoutes()
	return s
}

// Router returns the gin router.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	s.router.GET("/api/status", s.statusHandler)
	s.router.GET("/api/stream/scan/:target", s.streamScanHandler)
	s.router.GET("/api/ws/scan/:target", s.wsScanHandler)
	s.router.POST("/api/scan", s.enqueueScanHandler)
	s.router.GET("/api/scan/:task_id", s.pollTaskHandler)
	s.router.GET("/api/scans", s.listScansHandler)
	s.router.GET("/api/scans/:scan_id", s.getScanHandler)
	s.router.GET("/api/cache/stats", s.cacheStatsHandler)

	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path

		c.Next()

		s.logger.Debugw("request completed",
			"path", path,
			"status", c.Writer.Status(),
			"method", c.Request.Method,
		)
	}
}

func (s *Server) statusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// errorResponse is the `{error, message, request_id}` shape spec.md §7
// mandates for every 4xx/5xx response.
func errorResponse(c *gin.Context, status int, errKind, message string) {
	c.JSON(status, gin.H{
		"error":      errKind,
		"message":    message,
		"request_id": requestID(c),
	})
}

func requestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return newID()
}

// Package api exposes the snapshot, per-account usage and the
// administrative monitoring switches over HTTP.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/usagedeck/usagedeck/internal/aggregate"
	"github.com/usagedeck/usagedeck/internal/config"
	"github.com/usagedeck/usagedeck/internal/history"
	"github.com/usagedeck/usagedeck/internal/logging"
	"github.com/usagedeck/usagedeck/internal/metrics"
)

// Server is the HTTP API server.
type Server struct {
	router        *gin.Engine
	config        config.ServerConfig
	aggregator    *aggregate.Aggregator
	historyLog    *history.Log
	metrics       *metrics.Metrics
	logger        *logging.Logger
	defaultWindow time.Duration
	httpServer    *http.Server
}

// Router returns the gin router for testing purposes.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// NewServer wires the API over the aggregator. historyLog may be nil
// when the rolling log is disabled.
func NewServer(cfg config.ServerConfig, aggregator *aggregate.Aggregator, historyLog *history.Log, m *metrics.Metrics, logger *logging.Logger, defaultWindow time.Duration) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		router:        gin.New(),
		config:        cfg,
		aggregator:    aggregator,
		historyLog:    historyLog,
		metrics:       m,
		logger:        logger,
		defaultWindow: defaultWindow,
	}
	server.router.HandleMethodNotAllowed = true
	server.router.Use(gin.Recovery())
	server.router.Use(loggingMiddleware(logger, m))

	server.setupRoutes()
	return server
}

// loggingMiddleware provides structured logs and request metrics with
// per-request correlation IDs.
func loggingMiddleware(logger *logging.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = logging.GenerateCorrelationID()
		}
		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		if m != nil {
			m.RecordHTTPRequest(c.FullPath(), c.Request.Method, strconv.Itoa(status))
		}
		logger.InfoWithContext(ctx, "request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_seconds", time.Since(start).Seconds(),
		)
	}
}

func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	s.router.GET("/healthz", s.handleHealth)

	v1 := s.router.Group("/v1")
	{
		v1.GET("/snapshot", s.handleSnapshot)
		v1.GET("/accounts", s.handleListAccounts)
		v1.GET("/accounts/:id/usage", s.handleAccountUsage)
		v1.GET("/accounts/:id/history", s.handleAccountHistory)
	}

	admin := s.router.Group("/v1/admin")
	{
		admin.GET("/monitoring", s.handleGetMonitoring)
		admin.PUT("/monitoring", s.handleSetMonitoring)
		admin.POST("/monitoring/allowed", s.handleAllowAccount)
		admin.DELETE("/monitoring/allowed/:id", s.handleDisallowAccount)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// window parses the optional ?window= query, falling back to the
// configured default.
func (s *Server) window(c *gin.Context) (time.Duration, bool) {
	raw := c.Query("window")
	if raw == "" {
		return s.defaultWindow, true
	}
	window, err := time.ParseDuration(raw)
	if err != nil || window <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid window, expected a positive duration like 24h"})
		return 0, false
	}
	return window, true
}

func (s *Server) handleSnapshot(c *gin.Context) {
	window, ok := s.window(c)
	if !ok {
		return
	}
	snapshot := s.aggregator.FetchAll(c.Request.Context(), window)
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handleListAccounts(c *gin.Context) {
	monitor := s.aggregator.Monitor()
	ids := s.aggregator.AccountIDs()
	out := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		out = append(out, gin.H{
			"id":        id,
			"monitored": monitor.Enabled() && monitor.Allows(id),
		})
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

func (s *Server) handleAccountUsage(c *gin.Context) {
	window, ok := s.window(c)
	if !ok {
		return
	}
	record, err := s.aggregator.GetAccount(c.Request.Context(), c.Param("id"), window)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleAccountHistory(c *gin.Context) {
	if s.historyLog == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is disabled"})
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	entries, err := s.historyLog.Recent(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) handleGetMonitoring(c *gin.Context) {
	monitor := s.aggregator.Monitor()
	c.JSON(http.StatusOK, gin.H{
		"enabled": monitor.Enabled(),
		"allowed": monitor.AllowedIDs(),
	})
}

type setMonitoringRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetMonitoring(c *gin.Context) {
	var req setMonitoringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected {\"enabled\": bool}"})
		return
	}
	s.aggregator.Monitor().SetEnabled(req.Enabled)
	s.aggregator.InvalidateSnapshots(s.defaultWindow)
	s.logger.InfoWithContext(c.Request.Context(), "monitoring toggled", "enabled", req.Enabled)
	c.JSON(http.StatusOK, gin.H{"enabled": req.Enabled})
}

type allowAccountRequest struct {
	AccountID string `json:"account_id"`
}

func (s *Server) handleAllowAccount(c *gin.Context) {
	var req allowAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AccountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected {\"account_id\": string}"})
		return
	}
	s.aggregator.Monitor().Allow(req.AccountID)
	s.aggregator.InvalidateSnapshots(s.defaultWindow)
	c.JSON(http.StatusOK, gin.H{"allowed": s.aggregator.Monitor().AllowedIDs()})
}

func (s *Server) handleDisallowAccount(c *gin.Context) {
	id := c.Param("id")
	s.aggregator.Monitor().Disallow(id)
	s.aggregator.InvalidateSnapshots(s.defaultWindow)
	c.JSON(http.StatusOK, gin.H{"allowed": s.aggregator.Monitor().AllowedIDs()})
}

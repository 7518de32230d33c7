package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pinnokio/orchestrator/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /healthz. Only the backing stores are checked;
// the LLM provider and worker fleet are external and excluded so their
// outages do not trigger restarts of this service.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	checks := gin.H{}

	if err := s.mongo.Ping(ctx); err != nil {
		status = healthStatusUnhealthy
		checks["document_store"] = gin.H{"status": healthStatusUnhealthy, "message": err.Error()}
	} else {
		checks["document_store"] = gin.H{"status": healthStatusHealthy}
	}

	if err := s.redis.Ping(ctx); err != nil {
		status = healthStatusUnhealthy
		checks["ephemeral_store"] = gin.H{"status": healthStatusUnhealthy, "message": err.Error()}
	} else {
		checks["ephemeral_store"] = gin.H{"status": healthStatusHealthy}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{"status": status, "version": version.Full(), "checks": checks})
}

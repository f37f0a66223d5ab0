package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/reviso/reviso/pkg/database"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
	healthStatusSkipped   = "skipped"
)

// healthHandler handles GET /health. Only the server's own database is
// checked; deployments on an embedded store report the check as
// skipped.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := gin.H{}
	status := healthStatusHealthy

	if s.db == nil {
		checks["database"] = gin.H{"status": healthStatusSkipped}
	} else if _, err := database.Health(ctx, s.db); err != nil {
		status = healthStatusUnhealthy
		checks["database"] = gin.H{"status": healthStatusUnhealthy, "message": err.Error()}
	} else {
		checks["database"] = gin.H{"status": healthStatusHealthy}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{"status": status, "checks": checks})
}

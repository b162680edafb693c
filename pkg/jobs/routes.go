package jobs

import (
	"time"

	"github.com/labstack/echo/v4"
)

// RegisterRoutesWithGroup mounts the job queue endpoints. cleanupMaxAge is
// used for cleanup jobs that don't name their own max_age.
func RegisterRoutesWithGroup(g *echo.Group, jobService *Service, cleanupMaxAge time.Duration) {
	h := &handler{
		jobService:    jobService,
		defaultMaxAge: cleanupMaxAge,
	}

	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.retrieve)
	g.POST("/:id/retry", h.retry)
}

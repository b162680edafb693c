package ingest

import (
	"github.com/labstack/echo/v4"
	"github.com/shishobooks/spines/pkg/jobs"
	"github.com/shishobooks/spines/pkg/progress"
)

// RegisterRoutesWithGroup registers the routes that start ingest runs and
// stream their progress.
func RegisterRoutesWithGroup(g *echo.Group, jobService *jobs.Service, hub *progress.Hub) {
	h := &handler{
		jobService: jobService,
		hub:        hub,
	}

	g.POST("", h.start)
	g.GET("/stream", h.stream)
}

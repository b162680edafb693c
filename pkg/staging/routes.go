package staging

import (
	"time"

	"github.com/labstack/echo/v4"
)

// RegisterRoutesWithGroup registers the staging intake routes.
func RegisterRoutesWithGroup(g *echo.Group, stagingService *Service, cleanupMaxAge time.Duration) {
	h := &handler{
		stagingService: stagingService,
		defaultMaxAge:  cleanupMaxAge,
	}

	g.GET("", h.list)
	g.POST("", h.upload)
	g.POST("/cleanup", h.cleanup)
}

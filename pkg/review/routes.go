package review

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutesWithGroup registers the review queue routes.
func RegisterRoutesWithGroup(g *echo.Group, reviewService *Service) {
	h := &handler{
		reviewService: reviewService,
	}

	g.GET("", h.list)
	g.GET("/:id", h.retrieve)
	g.GET("/:id/similar", h.similar)
	g.POST("/:id/approve", h.approve)
	g.POST("/:id/reject", h.reject)
}

package catalog

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutesWithGroup registers the read-only catalog routes.
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB) {
	h := &handler{
		catalogService: NewService(db),
	}

	g.GET("", h.list)
	g.GET("/:id", h.retrieve)
}

package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/health"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/echo/v4/middleware/recovery"
	"github.com/shishobooks/spines/pkg/binder"
	"github.com/shishobooks/spines/pkg/catalog"
	"github.com/shishobooks/spines/pkg/config"
	"github.com/shishobooks/spines/pkg/errcodes"
	"github.com/shishobooks/spines/pkg/ingest"
	"github.com/shishobooks/spines/pkg/joblogs"
	"github.com/shishobooks/spines/pkg/jobs"
	"github.com/shishobooks/spines/pkg/progress"
	"github.com/shishobooks/spines/pkg/review"
	"github.com/shishobooks/spines/pkg/staging"
	"github.com/uptrace/bun"
)

// New builds the HTTP server. There's no server-wide write timeout because
// progress streams stay open for the length of a run; they set a deadline per
// frame instead.
func New(cfg *config.Config, db *bun.DB, services *ingest.Services, hub *progress.Hub) (*http.Server, error) {
	e := echo.New()

	b, err := binder.New()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.Binder = b

	e.Use(logger.Middleware())
	e.Use(recovery.Middleware())
	e.Use(middleware.CORS())

	health.RegisterRoutes(e)

	registerRoutes(e, cfg, db, services, hub)

	echo.NotFoundHandler = notFoundHandler
	e.HTTPErrorHandler = errcodes.NewHandler().Handle

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:           e,
		ReadHeaderTimeout: 3 * time.Second,
	}

	return srv, nil
}

func registerRoutes(e *echo.Echo, cfg *config.Config, db *bun.DB, services *ingest.Services, hub *progress.Hub) {
	staging.RegisterRoutesWithGroup(e.Group("/staging"), services.Staging, cfg.TempCleanupMaxAge)
	ingest.RegisterRoutesWithGroup(e.Group("/ingest"), services.Jobs, hub)
	review.RegisterRoutesWithGroup(e.Group("/review"), services.Review)
	catalog.RegisterRoutesWithGroup(e.Group("/books"), db)

	jobsGroup := e.Group("/jobs")
	jobs.RegisterRoutesWithGroup(jobsGroup, services.Jobs, cfg.TempCleanupMaxAge)
	joblogs.RegisterRoutes(jobsGroup, joblogs.NewService(db), services.Jobs)
}

func notFoundHandler(c echo.Context) error {
	c.SetPath("/:path")
	return errcodes.NotFound("Page")
}

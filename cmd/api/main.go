package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
	"github.com/shishobooks/spines/pkg/config"
	"github.com/shishobooks/spines/pkg/database"
	"github.com/shishobooks/spines/pkg/ingest"
	"github.com/shishobooks/spines/pkg/migrations"
	"github.com/shishobooks/spines/pkg/progress"
	"github.com/shishobooks/spines/pkg/server"
	"github.com/shishobooks/spines/pkg/version"
	"github.com/shishobooks/spines/pkg/worker"
)

func main() {
	ctx := context.Background()
	log := logger.New()

	log.Info("starting spines", logger.Data{"version": version.Version})

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	if err := initDirs(cfg); err != nil {
		log.Err(err).Fatal("data directory error")
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}

	group, err := migrations.BringUpToDate(ctx, db)
	if err != nil {
		log.Err(err).Fatal("migrations error")
	}
	if group.ID == 0 {
		log.Info("no new migrations to run")
	} else {
		log.Info("migrated to new group", logger.Data{"group_id": group.ID, "migration_names": group.Migrations.String()})
	}

	services := ingest.NewServices(cfg, db)

	// Approvals that were mid-flight when the last process died go back to
	// pending so they can be retried.
	released, err := services.Review.ReleaseStaleClaims(ctx)
	if err != nil {
		log.Err(err).Fatal("review claim release error")
	}
	if released > 0 {
		log.Warn("released stale review claims", logger.Data{"count": released})
	}

	hub := progress.NewHub(cfg.ProgressPingInterval, cfg.ProgressIdleTimeout)
	wrkr := worker.New(cfg, db, services, hub)

	srv, err := server.New(cfg, db, services, hub)
	if err != nil {
		log.Err(err).Fatal("server error")
	}

	graceful := signals.Setup()

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
		lc := net.ListenConfig{}
		listener, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			log.Err(err).Fatal("failed to bind port")
		}

		log.Info("server started", logger.Data{"addr": listener.Addr().String()})

		err = srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Fatal("server stopped")
		}
		log.Info("server stopped")
	}()

	wrkr.Start()
	log.Info("worker started", logger.Data{"processes": cfg.WorkerProcesses})

	<-graceful
	log.Info("starting graceful shutdown")

	err = srv.Shutdown(ctx)
	if err != nil {
		log.Err(err).Error("server shutdown error")
	}
	log.Info("server shutdown")

	wrkr.Shutdown()
	log.Info("worker shutdown")

	err = db.Close()
	if err != nil {
		log.Err(err).Error("database close error")
	}
	log.Info("database closed")
}

// initDirs creates the library, temp and holding directories.
func initDirs(cfg *config.Config) error {
	for _, dir := range []string{cfg.BooksPath, cfg.TempPath, cfg.HoldingPath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create directory: %s", dir)
		}
	}
	return nil
}

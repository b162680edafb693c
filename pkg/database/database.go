package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/spines/pkg/config"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const memoryPath = ":memory:"

// queryLogger logs every statement at debug level when DATABASE_DEBUG is on.
type queryLogger struct {
	log logger.Logger
}

func (*queryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (q *queryLogger) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	data := logger.Data{
		"operation":   event.Operation(),
		"duration_ms": time.Since(event.StartTime).Milliseconds(),
	}
	if event.Err != nil {
		data["error"] = event.Err.Error()
	}
	q.log.Debug(event.Query, data)
}

// New opens the catalog database. Every connection retries on SQLite lock
// contention, and the handle is limited to one connection so writers queue
// instead of failing. In-memory databases skip WAL.
func New(cfg *config.Config) (*bun.DB, error) {
	connector, err := openConnector(cfg.DatabaseFilePath)
	if err != nil {
		return nil, err
	}

	sqldb := sql.OpenDB(newRetryConnector(connector, cfg.DatabaseMaxRetries))
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if cfg.DatabaseDebug {
		db.AddQueryHook(&queryLogger{logger.NewWithLevel("debug")})
	}

	if err := waitForDB(db, cfg.DatabaseConnectRetryCount, cfg.DatabaseConnectRetryDelay); err != nil {
		db.Close()
		return nil, err
	}
	for _, p := range pragmas(cfg) {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to apply %q", p)
		}
	}

	return db, nil
}

func openConnector(path string) (driver.Connector, error) {
	return connectorFor(sqliteshim.Driver(), path)
}

// connectorFor uses the driver's own connector when it has one and opens
// plain connections by DSN otherwise. The pure-Go sqlite driver is the
// latter.
func connectorFor(drv driver.Driver, dsn string) (driver.Connector, error) {
	drvCtx, ok := drv.(driver.DriverContext)
	if !ok {
		return &dsnConnector{driver: drv, dsn: dsn}, nil
	}
	connector, err := drvCtx.OpenConnector(dsn)
	return connector, errors.WithStack(err)
}

func waitForDB(db *bun.DB, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < max(attempts, 1); i++ {
		if _, err = db.Exec("SELECT 1"); err == nil {
			return nil
		}
		time.Sleep(delay)
	}
	return errors.Wrap(err, "database never became reachable")
}

func pragmas(cfg *config.Config) []string {
	p := []string{
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.DatabaseBusyTimeout.Milliseconds()),
	}
	if cfg.DatabaseFilePath != memoryPath {
		p = append(p, "PRAGMA journal_mode=WAL")
	}
	return p
}

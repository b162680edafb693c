package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/spines/pkg/config"
	"github.com/shishobooks/spines/pkg/database"
	"github.com/shishobooks/spines/pkg/errcodes"
	"github.com/shishobooks/spines/pkg/ingest"
	"github.com/shishobooks/spines/pkg/migrations"
	"github.com/shishobooks/spines/pkg/version"
	"github.com/uptrace/bun"
	"github.com/urfave/cli/v2"
)

// cliApp holds what every command needs once the database is open.
type cliApp struct {
	log      logger.Logger
	db       *bun.DB
	services *ingest.Services
	cfg      *config.Config
	out      io.Writer
	colorize bool
}

func main() {
	log := logger.New()
	a := &cliApp{log: log, out: os.Stdout, colorize: shouldColorize(os.Stdout)}

	app := &cli.App{
		Name:    "spines",
		Usage:   "Stage, ingest and review ebooks from the command line",
		Version: version.Version,
		Before: func(c *cli.Context) error {
			return a.open(c)
		},
		After: func(_ *cli.Context) error {
			if a.db == nil {
				return nil
			}
			return errors.WithStack(a.db.Close())
		},
		Commands: []*cli.Command{
			a.stageCommand(),
			a.stagedCommand(),
			a.ingestCommand(),
			a.reviewCommand(),
			a.cleanupCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// Client-side problems (unknown item, bad transition, invalid input)
		// are the user's to fix and don't need a stack trace.
		var ec *errcodes.Error
		if errors.As(err, &ec) && ec.HTTPCode < 500 {
			fmt.Fprintf(os.Stderr, "spines: %s\n", ec.Message)
			os.Exit(1)
		}
		log.Err(err).Fatal("spines error")
	}
}

func (a *cliApp) open(c *cli.Context) error {
	cfg, err := config.New()
	if err != nil {
		return errors.WithStack(err)
	}
	db, err := database.New(cfg)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := migrations.BringUpToDate(c.Context, db); err != nil {
		db.Close()
		return errors.WithStack(err)
	}

	a.cfg = cfg
	a.db = db
	a.services = ingest.NewServices(cfg, db)
	return nil
}

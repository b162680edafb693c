package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/spines/pkg/config"
	"github.com/shishobooks/spines/pkg/database"
	"github.com/shishobooks/spines/pkg/migrations"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v2"
)

// schemaTool holds the database the subcommands work on. It's opened in the
// app's Before hook once --database is known.
type schemaTool struct {
	cfg *config.Config
	db  *bun.DB
}

func main() {
	log := logger.New()

	// The database path may come from --database alone, so a config that's
	// only missing it is not fatal here.
	cfg, err := config.New()
	if err != nil {
		cfg = config.Defaults()
	}
	tool := &schemaTool{cfg: cfg}

	app := &cli.App{
		Name:        "migrations",
		Usage:       "Manage the spines database schema",
		Description: "Applies, rolls back and inspects the bun migrations that define the catalog, staging, review and job tables.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database",
				Usage:   "database file to operate on",
				Value:   cfg.DatabaseFilePath,
				EnvVars: []string{"DATABASE_FILE_PATH"},
			},
		},
		Before: tool.open,
		After:  tool.close,
		Commands: []*cli.Command{
			{Name: "init", Usage: "create bun's bookkeeping tables", Action: tool.initTables},
			{
				Name:  "migrate",
				Usage: "apply every pending migration as one group",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "dry-run", Usage: "list what would be applied and stop"},
				},
				Action: tool.migrate,
			},
			{Name: "rollback", Usage: "roll back the last migration group", Action: tool.rollback},
			{Name: "create", Usage: "create a migration file", ArgsUsage: "NAME...", Action: tool.create},
			{Name: "status", Usage: "show every migration and the group that applied it", Action: tool.status},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Err(err).Fatal("app run error")
	}
}

func (t *schemaTool) open(c *cli.Context) error {
	t.cfg.DatabaseFilePath = c.String("database")
	if t.cfg.DatabaseFilePath == "" {
		return errors.New("no database: pass --database or set DATABASE_FILE_PATH")
	}
	db, err := database.New(t.cfg)
	if err != nil {
		return errors.WithStack(err)
	}
	t.db = db
	return nil
}

func (t *schemaTool) close(_ *cli.Context) error {
	if t.db == nil {
		return nil
	}
	return errors.WithStack(t.db.Close())
}

func (t *schemaTool) initTables(c *cli.Context) error {
	return errors.WithStack(migrations.NewMigrator(t.db).Init(c.Context))
}

func (t *schemaTool) migrate(c *cli.Context) error {
	if c.Bool("dry-run") {
		pending, err := migrations.Pending(c.Context, t.db)
		if err != nil {
			return errors.WithStack(err)
		}
		if len(pending) == 0 {
			fmt.Println("Schema is up to date")
			return nil
		}
		for _, m := range pending {
			fmt.Printf("would apply %s\n", m.Name)
		}
		return nil
	}

	group, err := migrations.BringUpToDate(c.Context, t.db)
	if err != nil {
		return errors.WithStack(err)
	}
	if group.ID == 0 {
		fmt.Println("Schema is up to date")
		return nil
	}
	fmt.Printf("Applied %s\n", group)
	return nil
}

func (t *schemaTool) rollback(c *cli.Context) error {
	group, err := migrations.NewMigrator(t.db).Rollback(c.Context)
	if err != nil {
		return errors.WithStack(err)
	}
	if group.ID == 0 {
		fmt.Println("Nothing to roll back")
		return nil
	}
	fmt.Printf("Rolled back %s\n", group)
	return nil
}

func (t *schemaTool) create(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("create needs a migration name")
	}
	name := strings.ToLower(strings.Join(c.Args().Slice(), "_"))
	mf, err := migrations.NewMigrator(t.db).CreateGoMigration(c.Context, name, migrate.WithGoTemplate(migrationTemplate))
	if err != nil {
		return errors.WithStack(err)
	}
	fmt.Printf("Created %s\n", mf.Path)
	return nil
}

func (t *schemaTool) status(c *cli.Context) error {
	ms, err := migrations.NewMigrator(t.db).MigrationsWithStatus(c.Context)
	if err != nil {
		return errors.WithStack(err)
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Migration", "Group", "Applied"})
	for _, m := range ms {
		group, applied := "-", "pending"
		if m.GroupID != 0 {
			group = fmt.Sprint(m.GroupID)
			applied = m.MigratedAt.Format("2006-01-02 15:04")
		}
		tw.AppendRow(table.Row{m.Name, group, applied})
	}
	tw.AppendFooter(table.Row{"unapplied", len(ms.Unapplied()), ""})
	fmt.Println(tw.Render())
	return nil
}

// migrationTemplate matches the statement-list style of the existing
// migrations.
const migrationTemplate = `package %s

func init() {
	Migrations.MustRegister(execAll([]string{
		` + "``" + `,
	}), execAll([]string{
		` + "``" + `,
	}))
}
`

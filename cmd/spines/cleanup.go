package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

func (a *cliApp) cleanupCommand() *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "remove orphaned files and stale rows from the temp area",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "max-age", Usage: "only touch files older than this"},
		},
		Action: func(c *cli.Context) error {
			maxAge := a.cfg.TempCleanupMaxAge
			if c.IsSet("max-age") {
				maxAge = c.Duration("max-age")
			}

			result, err := a.services.Staging.Cleanup(c.Context, maxAge)
			if err != nil {
				return errors.WithStack(err)
			}

			fmt.Fprintf(a.out, "Cleaned %d item(s)\n", result.Cleaned)
			for _, msg := range result.Errors {
				fmt.Fprintln(a.out, "  "+msg)
			}
			return nil
		},
	}
}

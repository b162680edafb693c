package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/signals"
	"github.com/shishobooks/spines/pkg/ingest"
	"github.com/shishobooks/spines/pkg/progress"
	"github.com/urfave/cli/v2"
)

func (a *cliApp) ingestCommand() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "run the staged files through extraction, matching and review",
		Flags: []cli.Flag{contributorFlag()},
		Action: func(c *cli.Context) error {
			contributor := c.String("contributor")

			// The server's worker could be running this contributor's batch.
			active, err := a.services.Jobs.ActiveIngestJob(c.Context, contributor)
			if err != nil {
				return errors.WithStack(err)
			}
			if active != nil {
				return errors.Errorf("ingest job %d for %s is already queued on the server", active.ID, contributor)
			}

			files, err := a.services.Staging.List(c.Context, contributor)
			if err != nil {
				return errors.WithStack(err)
			}

			ctx, cancel := context.WithCancel(a.log.WithContext(c.Context))
			defer cancel()
			graceful := signals.Setup()
			go func() {
				select {
				case <-graceful:
					fmt.Fprintln(a.out, "Stopping after the current file...")
					cancel()
				case <-ctx.Done():
				}
			}()

			summary, err := a.services.Orchestrator.ProcessBatch(ctx, files, contributor, a.printEvent)
			if summary != nil && len(summary.Outcomes) > 0 {
				fmt.Fprintln(a.out, renderSummary(summary, a.colorize))
			}
			if errors.Is(err, ingest.ErrCancelled) {
				return nil
			}
			return errors.WithStack(err)
		},
	}
}

func (a *cliApp) printEvent(ev progress.Event) {
	if line := formatEvent(ev, a.colorize); line != "" {
		fmt.Fprintln(a.out, line)
	}
}

func renderSummary(summary *ingest.Summary, fancy bool) string {
	rows := make([][]string, 0, len(summary.Outcomes)+1)
	for _, o := range summary.Outcomes {
		result := o.Error
		switch {
		case o.BookID != nil:
			result = "book " + strconv.Itoa(*o.BookID)
		case o.ReviewItemID != nil:
			result = "review " + *o.ReviewItemID
		}
		rows = append(rows, []string{o.Filename, o.Status, o.Reason, result})
	}
	table := renderTable([]string{"File", "Status", "Reason", "Result"}, rows, nil, fancy)
	return fmt.Sprintf("%s\n%d processed, %d queued for review, %d failed",
		table, summary.ProcessedCount, summary.ReviewQueueCount, summary.FailedCount)
}

package main

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/shishobooks/spines/pkg/models"
	"github.com/shishobooks/spines/pkg/review"
	"github.com/urfave/cli/v2"
)

func (a *cliApp) reviewCommand() *cli.Command {
	return &cli.Command{
		Name:  "review",
		Usage: "work the review queue",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list items waiting for a decision",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "status", Usage: "only items in these statuses"},
					&cli.StringFlag{Name: "contributor", Aliases: []string{"c"}, Usage: "only items from this contributor"},
					&cli.IntFlag{Name: "limit", Value: 50},
				},
				Action: a.reviewList,
			},
			{
				Name:      "show",
				Usage:     "print one item with its extracted metadata",
				ArgsUsage: "ID",
				Action:    a.reviewShow,
			},
			{
				Name:      "approve",
				Usage:     "add an item to the catalog",
				ArgsUsage: "ID",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "action", Value: review.CopyActionAuto, Usage: "auto, separate_copy or add_to_existing"},
					&cli.IntFlag{Name: "book", Usage: "book to add the copy to (add_to_existing)"},
					&cli.StringFlag{Name: "title"},
					&cli.StringFlag{Name: "author"},
					&cli.IntFlag{Name: "year"},
					&cli.StringFlag{Name: "isbn"},
					&cli.StringFlag{Name: "publisher"},
					&cli.StringSliceFlag{Name: "tag"},
					contributorFlag(),
				},
				Action: a.reviewApprove,
			},
			{
				Name:      "reject",
				Usage:     "discard an item and its file",
				ArgsUsage: "ID",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "reason"},
				},
				Action: a.reviewReject,
			},
		},
	}
}

func (a *cliApp) reviewList(c *cli.Context) error {
	limit := c.Int("limit")
	opts := review.ListItemsOptions{
		Limit:    &limit,
		Statuses: c.StringSlice("status"),
	}
	if c.IsSet("contributor") {
		contributor := c.String("contributor")
		opts.Contributor = &contributor
	}

	items, total, err := a.services.Review.ListWithTotal(c.Context, opts)
	if err != nil {
		return errors.WithStack(err)
	}
	summary, err := a.services.Review.Summary(c.Context)
	if err != nil {
		return errors.WithStack(err)
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		title := ""
		if item.ExtractionParsed != nil && item.ExtractionParsed.Title != nil {
			title = *item.ExtractionParsed.Title
		}
		rows = append(rows, []string{
			item.ID,
			item.Filename,
			title,
			item.Reason,
			item.Status,
			strconv.FormatFloat(item.ExtractionConfidence, 'f', 2, 64),
		})
	}
	fmt.Fprintln(a.out, renderTable([]string{"ID", "File", "Title", "Reason", "Status", "Confidence"}, rows, map[int]bool{5: true}, a.colorize))
	fmt.Fprintf(a.out, "%d shown of %d. %d pending, %d file missing, %d processing failed\n",
		len(items), total, summary.PendingReview, summary.FileMissing, summary.ProcessingFailed)
	return nil
}

func (a *cliApp) reviewShow(c *cli.Context) error {
	id := c.Args().First()
	item, err := a.services.Review.Retrieve(c.Context, review.RetrieveItemOptions{ID: &id})
	if err != nil {
		return errors.WithStack(err)
	}
	similar, err := a.services.Review.Similar(c.Context, id)
	if err != nil {
		return errors.WithStack(err)
	}

	out := struct {
		*models.ReviewItem
		Similar []*models.SimilarBookMatch `json:"similar"`
	}{item, similar.Matches}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	fmt.Fprintln(a.out, string(b))
	return nil
}

func (a *cliApp) reviewApprove(c *cli.Context) error {
	var bookID *int
	if c.IsSet("book") {
		id := c.Int("book")
		bookID = &id
	}
	action, err := review.ParseCopyAction(c.String("action"), bookID)
	if err != nil {
		return errors.WithStack(err)
	}

	result, err := a.services.Review.Approve(c.Context, review.ApproveOptions{
		ItemID: c.Args().First(),
		Metadata: review.Corrections{
			Title:     stringFlag(c, "title"),
			Author:    stringFlag(c, "author"),
			Year:      intFlag(c, "year"),
			ISBN:      stringFlag(c, "isbn"),
			Publisher: stringFlag(c, "publisher"),
			Tags:      c.StringSlice("tag"),
		},
		Contributor: c.String("contributor"),
		Action:      action,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	verb := "Created"
	if !result.Created {
		verb = "Added to"
	}
	fmt.Fprintf(a.out, "%s book %d (%s)\n", verb, result.BookID, result.Action)
	return nil
}

func (a *cliApp) reviewReject(c *cli.Context) error {
	item, err := a.services.Review.Reject(c.Context, review.RejectOptions{
		ItemID: c.Args().First(),
		Reason: c.String("reason"),
	})
	if err != nil {
		return errors.WithStack(err)
	}
	fmt.Fprintf(a.out, "Rejected %s\n", item.Filename)
	return nil
}

func stringFlag(c *cli.Context, name string) *string {
	if !c.IsSet(name) {
		return nil
	}
	v := c.String(name)
	return &v
}

func intFlag(c *cli.Context, name string) *int {
	if !c.IsSet(name) {
		return nil
	}
	v := c.Int(name)
	return &v
}

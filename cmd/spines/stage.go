package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/shishobooks/spines/pkg/models"
	"github.com/shishobooks/spines/pkg/staging"
	"github.com/urfave/cli/v2"
)

func contributorFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "contributor",
		Aliases: []string{"c"},
		Usage:   "who the files come from",
		Value:   models.DefaultContributor,
	}
}

func (a *cliApp) stageCommand() *cli.Command {
	return &cli.Command{
		Name:      "stage",
		Usage:     "copy local files into the staging area",
		ArgsUsage: "FILE...",
		Flags:     []cli.Flag{contributorFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return errors.New("at least one file is required")
			}
			rows := [][]string{}
			for _, path := range c.Args().Slice() {
				sf, err := a.stageFile(c, path)
				if err != nil {
					return errors.Wrapf(err, "staging %s", path)
				}
				rows = append(rows, []string{sf.ID, sf.Filename, sf.Format, formatBytes(sf.SizeBytes)})
			}
			fmt.Fprintln(a.out, renderTable([]string{"ID", "File", "Format", "Size"}, rows, map[int]bool{3: true}, a.colorize))
			return nil
		},
	}
}

func (a *cliApp) stageFile(c *cli.Context, path string) (*models.StagedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	return a.services.Staging.Stage(c.Context, staging.StageOptions{
		Filename:    filepath.Base(path),
		Contributor: c.String("contributor"),
		Content:     f,
	})
}

func (a *cliApp) stagedCommand() *cli.Command {
	return &cli.Command{
		Name:  "staged",
		Usage: "list files waiting to be ingested",
		Flags: []cli.Flag{contributorFlag()},
		Action: func(c *cli.Context) error {
			files, err := a.services.Staging.List(c.Context, c.String("contributor"))
			if err != nil {
				return errors.WithStack(err)
			}
			if len(files) == 0 {
				fmt.Fprintln(a.out, "Nothing staged.")
				return nil
			}
			rows := make([][]string, 0, len(files))
			for i, sf := range files {
				rows = append(rows, []string{strconv.Itoa(i + 1), sf.Filename, sf.Format, formatBytes(sf.SizeBytes), sf.CreatedAt.Local().Format("2006-01-02 15:04")})
			}
			fmt.Fprintln(a.out, renderTable([]string{"#", "File", "Format", "Size", "Staged"}, rows, map[int]bool{0: true, 3: true}, a.colorize))
			return nil
		},
	}
}

package extraction

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/shishobooks/spines/pkg/fileutils"
	"github.com/shishobooks/spines/pkg/models"
)

// sortName strips the "[Last, First]" sort key ebook-meta prints after names.
var sortName = regexp.MustCompile(`\s*\[[^\]]*\]\s*$`)

// ToolReader shells out to calibre's ebook-meta for formats we don't parse
// ourselves (MOBI, AZW, AZW3, DJVU).
type ToolReader struct {
	path string
}

func NewToolReader(path string) *ToolReader {
	return &ToolReader{path}
}

func (r *ToolReader) Read(ctx context.Context, path string) (*Metadata, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.path, path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.WithStack(ctxErr)
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, errors.Wrap(ErrUnsupportedFormat, "ebook-meta is not installed")
		}
		return nil, errors.Wrapf(ErrUnreadable, "ebook-meta: %v: %s", err, strings.TrimSpace(stderr.String()))
	}

	return parseToolOutput(stdout.String()), nil
}

// parseToolOutput reads ebook-meta's "Key : value" listing.
func parseToolOutput(out string) *Metadata {
	md := &Metadata{Method: models.ExtractionMethodCalibre}

	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lastKey := ""
	for scanner.Scan() {
		line := scanner.Text()
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.HasPrefix(line, " ") {
			// Comments wrap onto continuation lines.
			if lastKey == "comments" {
				md.Description = strings.TrimSpace(md.Description + "\n" + strings.TrimSpace(line))
			}
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		lastKey = key

		switch key {
		case "title":
			md.Title = value
		case "author(s)":
			var authors []string
			for _, name := range strings.Split(value, "&") {
				if name = strings.TrimSpace(sortName.ReplaceAllString(name, "")); name != "" {
					authors = append(authors, name)
				}
			}
			md.Author = strings.Join(fileutils.SplitNames(strings.Join(authors, " & ")), ", ")
		case "publisher":
			md.Publisher = value
		case "published":
			md.Year = ParseYear(value)
		case "identifiers":
			for _, id := range strings.Split(value, ",") {
				scheme, v, ok := strings.Cut(strings.TrimSpace(id), ":")
				if ok && strings.EqualFold(scheme, "isbn") && md.ISBN == "" {
					md.ISBN = strings.TrimSpace(v)
				}
			}
		case "comments":
			md.Description = value
		}
	}

	return md
}

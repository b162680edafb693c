package extraction

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/shishobooks/spines/pkg/epub"
	"github.com/shishobooks/spines/pkg/models"
)

// EPUBReader reads the OPF package metadata and scans the strategic content
// documents, treating each spine document as a page.
type EPUBReader struct{}

func NewEPUBReader() *EPUBReader {
	return &EPUBReader{}
}

func (r *EPUBReader) Read(ctx context.Context, path string) (*Metadata, error) {
	opf, err := epub.Parse(path)
	if err != nil {
		return nil, errors.Wrap(ErrUnreadable, err.Error())
	}

	md := &Metadata{
		Title:       opf.Title,
		Author:      strings.Join(opf.Authors, ", "),
		Publisher:   opf.Publisher,
		Description: opf.Description,
		Year:        ParseYear(opf.Date),
		Method:      models.ExtractionMethodBasic,
	}
	if isbn, ok := opf.ISBN(); ok {
		md.ISBN = isbn
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	// A broken spine doesn't make the metadata unusable.
	docs, err := epub.ContentText(path)
	if err != nil || len(docs) == 0 {
		return md, nil
	}

	md.Scanned = true
	md.PageCount = len(docs)
	texts := make([]string, 0, maxScanned)
	for _, page := range StrategicPages(len(docs)) {
		texts = append(texts, docs[page-1])
	}
	md.ScanText = strings.Join(texts, "\n")

	return md, nil
}

// Package extraction turns a staged file into scored bibliographic metadata.
// Tool failures never surface as errors: they come back as a result with zero
// confidence and a failure reason so the file can still be reviewed.
package extraction

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/spines/pkg/config"
	"github.com/shishobooks/spines/pkg/models"
)

var (
	// ErrUnsupportedFormat is returned by readers that can't handle a file.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrUnreadable is returned by readers for corrupt or truncated files.
	ErrUnreadable = errors.New("unreadable file")
)

// Metadata is what a reader found in a file, before scoring.
type Metadata struct {
	Title       string
	Author      string
	Publisher   string
	Description string
	ISBN        string
	Year        *int
	PageCount   int
	Method      string
	// Scanned is set when the reader looked at the document's own text.
	Scanned bool
	// ScanText is the text of the strategic pages.
	ScanText string
	// ImageOnly means the document has pages but no text layer at all.
	ImageOnly bool
}

// Reader pulls embedded metadata out of one family of formats.
type Reader interface {
	Read(ctx context.Context, path string) (*Metadata, error)
}

// ReaderFunc adapts a function to the Reader interface.
type ReaderFunc func(ctx context.Context, path string) (*Metadata, error)

func (f ReaderFunc) Read(ctx context.Context, path string) (*Metadata, error) {
	return f(ctx, path)
}

type Service struct {
	readers map[string]Reader
	weights Weights
	timeout time.Duration
}

// NewService builds a service from format -> reader routes.
func NewService(readers map[string]Reader, weights Weights, timeout time.Duration) *Service {
	return &Service{readers, weights, timeout}
}

// NewServiceFromConfig wires the built-in readers: pdfcpu for PDF, the OPF
// parser for EPUB and ebook-meta for everything else.
func NewServiceFromConfig(cfg *config.Config) *Service {
	tool := NewToolReader(cfg.EbookMetaPath)
	readers := map[string]Reader{
		models.FileFormatPDF:  NewPDFReader(),
		models.FileFormatEPUB: NewEPUBReader(),
		models.FileFormatMOBI: tool,
		models.FileFormatAZW:  tool,
		models.FileFormatAZW3: tool,
		models.FileFormatDJVU: tool,
	}
	return NewService(readers, WeightsFromConfig(cfg), cfg.ExtractionTimeout)
}

func WeightsFromConfig(cfg *config.Config) Weights {
	return Weights{
		ISBN:         cfg.ExtractionWeightISBN,
		TitleAuthor:  cfg.ExtractionWeightTitleAuthor,
		Agreement:    cfg.ExtractionWeightAgreement,
		Plausibility: cfg.ExtractionWeightPlausibility,
	}
}

// Extract runs extraction for a staged file.
func (svc *Service) Extract(ctx context.Context, sf *models.StagedFile) *models.ExtractionResult {
	return svc.ExtractPath(ctx, sf.Filepath, sf.Format, sf.Filename)
}

// ExtractPath runs the reader for format against path. The returned result
// is never nil.
func (svc *Service) ExtractPath(ctx context.Context, path, format, filename string) *models.ExtractionResult {
	log := logger.FromContext(ctx)

	reader, ok := svc.readers[format]
	if !ok {
		return failed(models.ExtractionFailureUnsupportedFormat)
	}

	if _, err := os.Stat(path); err != nil {
		log.Err(err).Warn("staged file can't be read", logger.Data{"path": path})
		return failed(models.ExtractionFailureUnreadable)
	}

	md, err := svc.read(ctx, reader, path)
	if err != nil {
		reason := failureReason(err)
		log.Err(err).Warn("extraction failed", logger.Data{"path": path, "format": format, "reason": reason})
		return failed(reason)
	}

	result := buildResult(md, filename, svc.weights)
	log.Info("extracted metadata", logger.Data{
		"path":       path,
		"method":     result.Method,
		"confidence": result.Confidence,
		"isbn_found": result.ISBNFound,
	})
	return result
}

type readResult struct {
	md  *Metadata
	err error
}

// read runs the reader under the extraction timeout. Readers that don't watch
// the context are abandoned when it expires; their result is discarded.
func (svc *Service) read(ctx context.Context, reader Reader, path string) (*Metadata, error) {
	if svc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, svc.timeout)
		defer cancel()
	}

	done := make(chan readResult, 1)
	go func() {
		defer func() {
			// Parsers of hostile files can panic; that's just an unreadable file.
			if r := recover(); r != nil {
				done <- readResult{err: errors.Wrapf(ErrUnreadable, "reader panic: %v", r)}
			}
		}()
		md, err := reader.Read(ctx, path)
		done <- readResult{md, err}
	}()

	select {
	case res := <-done:
		if res.err == nil && res.md == nil {
			return nil, errors.WithStack(ErrUnreadable)
		}
		return res.md, res.err
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.ExtractionFailureTimeout
	case errors.Is(err, ErrUnsupportedFormat):
		return models.ExtractionFailureUnsupportedFormat
	default:
		return models.ExtractionFailureUnreadable
	}
}

func failed(reason string) *models.ExtractionResult {
	return &models.ExtractionResult{
		Method:        models.ExtractionMethodNone,
		Confidence:    0,
		FailureReason: &reason,
	}
}

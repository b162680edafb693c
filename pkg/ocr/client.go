// Package ocr recognizes text on the pages of image-only PDFs by sending the
// page images to a vision model behind an Ollama-style generate endpoint.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/shishobooks/spines/pkg/config"
)

var (
	// ErrNotConfigured is returned when no OCR endpoint is set.
	ErrNotConfigured = errors.New("ocr endpoint not configured")
	// ErrNoImages is returned when none of the requested pages carry an
	// image to recognize.
	ErrNoImages = errors.New("no page images to recognize")
)

const prompt = `Transcribe all visible text on this book page exactly as it appears.
Preserve line breaks, capitalization and punctuation.
Output only the transcribed text with no commentary.`

var disablePDFConfigDir sync.Once

// PageRange selects the leading and trailing pages of a document.
type PageRange struct {
	First int
	Last  int
}

// DefaultPageRange covers the title and copyright pages up front and the
// back matter.
func DefaultPageRange() PageRange {
	return PageRange{First: 7, Last: 3}
}

// Pages returns the 1-based pages the range selects in a document of
// pageCount pages, in order and without repeats.
func (r PageRange) Pages(pageCount int) []int {
	pages := []int{}
	seen := map[int]bool{}
	add := func(p int) {
		if p >= 1 && p <= pageCount && !seen[p] {
			seen[p] = true
			pages = append(pages, p)
		}
	}
	for p := 1; p <= r.First; p++ {
		add(p)
	}
	for p := pageCount - r.Last + 1; p <= pageCount; p++ {
		add(p)
	}
	return pages
}

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	images     func(path string, pages PageRange) ([]pageImage, error)
}

func NewClient(baseURL, model string, timeout time.Duration) *Client {
	disablePDFConfigDir.Do(api.DisableConfigDir)
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		images:     pageImages,
	}
}

func NewClientFromConfig(cfg *config.Config) *Client {
	return NewClient(cfg.OCRURL, cfg.OCRModel, cfg.OCRTimeout)
}

// Configured reports whether the client has an endpoint to talk to.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

type generateRequest struct {
	Model   string             `json:"model"`
	Prompt  string             `json:"prompt"`
	Images  []string           `json:"images"`
	Stream  bool               `json:"stream"`
	Options map[string]float64 `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// RecognizeText OCRs the images on the selected pages of the PDF at path and
// returns the text of each page joined by blank lines. Pages whose request
// fails are skipped; an error is returned only if no page produced text.
func (c *Client) RecognizeText(ctx context.Context, path string, pages PageRange) (string, error) {
	log := logger.FromContext(ctx)
	if !c.Configured() {
		return "", errors.WithStack(ErrNotConfigured)
	}

	images, err := c.images(path, pages)
	if err != nil {
		return "", err
	}
	if len(images) == 0 {
		return "", errors.WithStack(ErrNoImages)
	}

	var texts []string
	var lastErr error
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return "", errors.WithStack(err)
		}
		text, err := c.generate(ctx, img.data)
		if err != nil {
			log.Err(err).Warn("page ocr failed", logger.Data{"path": path, "page": img.page})
			lastErr = err
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			texts = append(texts, text)
		}
	}

	if len(texts) == 0 && lastErr != nil {
		return "", lastErr
	}

	log.Info("recognized page text", logger.Data{"path": path, "pages": len(images), "length": len(strings.Join(texts, ""))})
	return strings.Join(texts, "\n\n"), nil
}

func (c *Client) generate(ctx context.Context, image []byte) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Images:  []string{base64.StdEncoding.EncodeToString(image)},
		Stream:  false,
		Options: map[string]float64{"temperature": 0},
	})
	if err != nil {
		return "", errors.WithStack(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "failed to call ocr endpoint")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", errors.Errorf("ocr endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "failed to decode ocr response")
	}
	return out.Response, nil
}

type pageImage struct {
	page int
	data []byte
}

// pageImages pulls the embedded images off the selected pages. Scanned books
// carry one full-page image per page.
func pageImages(path string, pages PageRange) ([]pageImage, error) {
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read pdf")
	}

	var out []pageImage
	for _, page := range pages.Pages(pdfCtx.PageCount) {
		imgs, err := pdfcpu.ExtractPageImages(pdfCtx, page, false)
		if err != nil {
			continue
		}
		for _, img := range imgs {
			if img.Reader == nil {
				continue
			}
			data, err := io.ReadAll(img)
			if err != nil || len(data) == 0 {
				continue
			}
			out = append(out, pageImage{page: page, data: data})
		}
	}
	return out, nil
}

// Package lookup resolves ISBNs against the Open Library books API.
package lookup

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/shishobooks/spines/pkg/config"
	"github.com/shishobooks/spines/pkg/extraction"
	"github.com/shishobooks/spines/pkg/identifiers"
	"github.com/shishobooks/spines/pkg/models"
)

const source = "openlibrary"

var (
	// ErrNotFound is returned when the registry has no record for the ISBN.
	ErrNotFound = errors.New("isbn not found")
	// ErrInvalidISBN is returned for values that don't checksum as an ISBN.
	ErrInvalidISBN = errors.New("invalid isbn")
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func NewClientFromConfig(cfg *config.Config) *Client {
	return NewClient(cfg.ISBNLookupURL, cfg.ISBNLookupTimeout)
}

type named struct {
	Name string `json:"name"`
}

type bookRecord struct {
	Title       string  `json:"title"`
	Subtitle    string  `json:"subtitle"`
	Authors     []named `json:"authors"`
	Publishers  []named `json:"publishers"`
	PublishDate string  `json:"publish_date"`
}

// Lookup fetches the registry record for an ISBN. The ISBN may be in either
// form and may carry hyphens.
func (c *Client) Lookup(ctx context.Context, isbn string) (*models.LookupMetadata, error) {
	canonical, ok := identifiers.CanonicalISBN(isbn)
	if !ok {
		return nil, errors.Wrap(ErrInvalidISBN, isbn)
	}

	key := "ISBN:" + canonical
	q := url.Values{}
	q.Set("bibkeys", key)
	q.Set("format", "json")
	q.Set("jscmd", "data")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/books?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to call isbn registry")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.Errorf("isbn registry returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var records map[string]bookRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, errors.Wrap(err, "failed to decode isbn registry response")
	}

	rec, ok := records[key]
	if !ok || strings.TrimSpace(rec.Title) == "" {
		return nil, errors.Wrap(ErrNotFound, canonical)
	}

	md := &models.LookupMetadata{
		ISBN:   canonical,
		Title:  strings.TrimSpace(rec.Title),
		Source: source,
	}
	if sub := strings.TrimSpace(rec.Subtitle); sub != "" {
		md.Title += ": " + sub
	}

	authors := make([]string, 0, len(rec.Authors))
	for _, a := range rec.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			authors = append(authors, name)
		}
	}
	md.Author = strings.Join(authors, ", ")

	if len(rec.Publishers) > 0 {
		if name := strings.TrimSpace(rec.Publishers[0].Name); name != "" {
			md.Publisher = &name
		}
	}
	md.Year = extraction.ParseYear(rec.PublishDate)

	return md, nil
}

package lookup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const earthseaResponse = `{
  "ISBN:9780306406157": {
    "title": "A Wizard of Earthsea",
    "authors": [{"name": "Ursula K. Le Guin", "url": "https://openlibrary.org/authors/OL1A"}],
    "publishers": [{"name": "Parnassus Press"}],
    "publish_date": "1968",
    "number_of_pages": 205
  }
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second)
}

func TestLookup_Found(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/books", r.URL.Path)
		assert.Equal(t, "ISBN:9780306406157", r.URL.Query().Get("bibkeys"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "data", r.URL.Query().Get("jscmd"))
		_, _ = w.Write([]byte(earthseaResponse))
	})

	// ISBN-10 with hyphens resolves to the same record.
	md, err := c.Lookup(context.Background(), "0-306-40615-2")
	require.NoError(t, err)

	assert.Equal(t, "9780306406157", md.ISBN)
	assert.Equal(t, "A Wizard of Earthsea", md.Title)
	assert.Equal(t, "Ursula K. Le Guin", md.Author)
	require.NotNil(t, md.Publisher)
	assert.Equal(t, "Parnassus Press", *md.Publisher)
	require.NotNil(t, md.Year)
	assert.Equal(t, 1968, *md.Year)
	assert.Equal(t, "openlibrary", md.Source)
}

func TestLookup_JoinsAuthorsAndSubtitle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ISBN:9780306406157": {
			"title": "Good Omens",
			"subtitle": "The Nice and Accurate Prophecies",
			"authors": [{"name": "Terry Pratchett"}, {"name": "Neil Gaiman"}],
			"publish_date": "May 1990"
		}}`))
	})

	md, err := c.Lookup(context.Background(), "9780306406157")
	require.NoError(t, err)
	assert.Equal(t, "Good Omens: The Nice and Accurate Prophecies", md.Title)
	assert.Equal(t, "Terry Pratchett, Neil Gaiman", md.Author)
	assert.Nil(t, md.Publisher)
	assert.Equal(t, 1990, *md.Year)
}

func TestLookup_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := c.Lookup(context.Background(), "9780306406157")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookup_InvalidISBN(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := c.Lookup(context.Background(), "9780306406158")
	assert.ErrorIs(t, err, ErrInvalidISBN)
	assert.False(t, called)
}

func TestLookup_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := c.Lookup(context.Background(), "9780306406157")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
	assert.NotErrorIs(t, err, ErrNotFound)
}

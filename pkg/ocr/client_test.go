package ocr

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shishobooks/spines/internal/testgen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageRange_Pages(t *testing.T) {
	tests := []struct {
		name      string
		r         PageRange
		pageCount int
		want      []int
	}{
		{"short document", DefaultPageRange(), 4, []int{1, 2, 3, 4}},
		{"overlap", DefaultPageRange(), 9, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{"long document", DefaultPageRange(), 200, []int{1, 2, 3, 4, 5, 6, 7, 198, 199, 200}},
		{"first only", PageRange{First: 2}, 10, []int{1, 2}},
		{"empty", DefaultPageRange(), 0, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.Pages(tt.pageCount))
		})
	}
}

type fakeModel struct {
	mu       sync.Mutex
	requests []generateRequest
	failFor  string
}

func (f *fakeModel) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		image, err := base64.StdEncoding.DecodeString(req.Images[0])
		require.NoError(t, err)
		if string(image) == f.failFor {
			http.Error(w, "model exploded", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "text of " + string(image) + "\n"})
	}
}

func newTestClient(t *testing.T, model *fakeModel, images ...string) *Client {
	t.Helper()
	srv := httptest.NewServer(model.handler(t))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL+"/", "vision-model", 5*time.Second)
	c.images = func(string, PageRange) ([]pageImage, error) {
		out := make([]pageImage, 0, len(images))
		for i, img := range images {
			out = append(out, pageImage{page: i + 1, data: []byte(img)})
		}
		return out, nil
	}
	return c
}

func TestRecognizeText_JoinsPages(t *testing.T) {
	model := &fakeModel{}
	c := newTestClient(t, model, "title page", "copyright page")

	text, err := c.RecognizeText(context.Background(), "book.pdf", DefaultPageRange())
	require.NoError(t, err)
	assert.Equal(t, "text of title page\n\ntext of copyright page", text)

	require.Len(t, model.requests, 2)
	assert.Equal(t, "vision-model", model.requests[0].Model)
	assert.False(t, model.requests[0].Stream)
	assert.Equal(t, float64(0), model.requests[0].Options["temperature"])
}

func TestRecognizeText_SkipsFailedPages(t *testing.T) {
	model := &fakeModel{failFor: "smudged"}
	c := newTestClient(t, model, "smudged", "copyright page")

	text, err := c.RecognizeText(context.Background(), "book.pdf", DefaultPageRange())
	require.NoError(t, err)
	assert.Equal(t, "text of copyright page", text)
}

func TestRecognizeText_AllPagesFail(t *testing.T) {
	model := &fakeModel{failFor: "smudged"}
	c := newTestClient(t, model, "smudged")

	_, err := c.RecognizeText(context.Background(), "book.pdf", DefaultPageRange())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestRecognizeText_NotConfigured(t *testing.T) {
	c := NewClient("", "vision-model", time.Second)
	assert.False(t, c.Configured())

	_, err := c.RecognizeText(context.Background(), "book.pdf", DefaultPageRange())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRecognizeText_PDFWithoutImages(t *testing.T) {
	path := testgen.GenerateImageOnlyPDF(t, t.TempDir(), "scan.pdf", 3)
	c := NewClient("http://127.0.0.1:1", "vision-model", time.Second)

	_, err := c.RecognizeText(context.Background(), path, DefaultPageRange())
	assert.ErrorIs(t, err, ErrNoImages)
}

package staging

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/shishobooks/spines/pkg/binder"
	"github.com/shishobooks/spines/pkg/errcodes"
	"github.com/shishobooks/spines/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEcho(t *testing.T) *echo.Echo {
	t.Helper()
	e := echo.New()
	b, err := binder.New()
	require.NoError(t, err)
	e.Binder = b
	return e
}

func multipartRequest(t *testing.T, contributor string, files map[string]string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if contributor != "" {
		require.NoError(t, w.WriteField("contributor", contributor))
	}
	for name, content := range files {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/staging", body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func TestHandler_Upload(t *testing.T) {
	svc, temp, _ := newTestService(t)
	h := &handler{stagingService: svc, defaultMaxAge: time.Hour}
	e := newEcho(t)

	req := multipartRequest(t, " alice ", map[string]string{"dune.epub": "spice"})
	rec := httptest.NewRecorder()
	require.NoError(t, h.upload(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Files []*models.StagedFile `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "alice", resp.Files[0].Contributor)
	assert.Equal(t, models.StagedFileStatusStaged, resp.Files[0].Status)
	assert.FileExists(t, filepath.Join(temp, "dune.epub"))
}

func TestHandler_UploadRejectsUnknownExtension(t *testing.T) {
	svc, _, _ := newTestService(t)
	h := &handler{stagingService: svc}
	e := newEcho(t)

	req := multipartRequest(t, "alice", map[string]string{"notes.docx": "hello"})
	err := h.upload(e.NewContext(req, httptest.NewRecorder()))

	var ec *errcodes.Error
	require.True(t, errors.As(err, &ec))
	assert.Equal(t, http.StatusUnprocessableEntity, ec.HTTPCode)
}

func TestHandler_UploadNeedsAFile(t *testing.T) {
	svc, _, _ := newTestService(t)
	h := &handler{stagingService: svc}
	e := newEcho(t)

	req := multipartRequest(t, "alice", nil)
	err := h.upload(e.NewContext(req, httptest.NewRecorder()))

	var ec *errcodes.Error
	require.True(t, errors.As(err, &ec))
	assert.Contains(t, ec.Message, "At least one file")
}

func TestHandler_List(t *testing.T) {
	svc, _, _ := newTestService(t)
	h := &handler{stagingService: svc}
	e := newEcho(t)
	stage(t, svc, "a.epub", "alice", "a")
	stage(t, svc, "b.epub", "bob", "b")

	req := httptest.NewRequest(http.MethodGet, "/staging?contributor=alice", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.list(e.NewContext(req, rec)))

	var resp struct {
		Files []*models.StagedFile `json:"files"`
		Total int                  `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "a.epub", resp.Files[0].Filename)
}

func TestHandler_Cleanup(t *testing.T) {
	svc, temp, _ := newTestService(t)
	h := &handler{stagingService: svc, defaultMaxAge: time.Hour}
	e := newEcho(t)

	require.NoError(t, os.MkdirAll(temp, 0755))
	orphan := filepath.Join(temp, "orphan.pdf")
	require.NoError(t, os.WriteFile(orphan, []byte("x"), 0644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(orphan, old, old))

	req := httptest.NewRequest(http.MethodPost, "/staging/cleanup", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.cleanup(e.NewContext(req, rec)))

	var result CleanupResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Cleaned)
	assert.NoFileExists(t, orphan)
}

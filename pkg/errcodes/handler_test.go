package errcodes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrom(t *testing.T) {
	tcs := []struct {
		name string
		err  error
		code int
		slug string
	}{
		{"coded", errors.WithStack(NotFound("Book")), http.StatusNotFound, "not_found"},
		{"echo", echo.NewHTTPError(http.StatusMethodNotAllowed, "Method Not Allowed"), http.StatusMethodNotAllowed, "method_not_allowed"},
		{"deadline", errors.Wrap(context.DeadlineExceeded, "lookup"), http.StatusGatewayTimeout, "timeout"},
		{"cancelled", context.Canceled, StatusClientClosedRequest, "request_cancelled"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal_server_error"},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(tt *testing.T) {
			e := From(tc.err)
			assert.Equal(tt, tc.code, e.HTTPCode)
			assert.Equal(tt, tc.slug, e.Code)
		})
	}
}

func TestHandler_Handle(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	NewHandler().Handle(Conflict("Already running."), e.NewContext(req, rec))

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body struct {
		Error struct {
			Code       string `json:"code"`
			Message    string `json:"message"`
			StatusCode int    `json:"status_code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "conflict", body.Error.Code)
	assert.Equal(t, "Already running.", body.Error.Message)
	assert.Equal(t, http.StatusConflict, body.Error.StatusCode)
}

func TestHandler_HandleCommittedResponse(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Response().WriteHeader(http.StatusOK)
	_, _ = c.Response().Write([]byte("data: {}\n\n"))

	NewHandler().Handle(errors.New("stream broke"), c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "data: {}\n\n", rec.Body.String())
}

package errcodes

import (
	"context"
	"fmt"
	"net/http"

	"github.com/iancoleman/strcase"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/errutils"
	golog "github.com/robinjoseph08/golib/logger"
)

// StatusClientClosedRequest is what a request renders as when the client
// went away before the handler finished.
const StatusClientClosedRequest = 499

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

// Handle is an Echo error handler. Errors render as
// {"error": {"code", "message", "status_code"}}; anything that isn't an *Error
// or an echo error is logged and rendered as a 500.
func (h *Handler) Handle(err error, c echo.Context) {
	log := logger.FromEchoContext(c)

	if errutils.IsIgnorableErr(err) {
		log.Err(err).Warn("broken pipe")
		return
	}

	coded := From(err)
	if coded.HTTPCode >= http.StatusInternalServerError {
		log.Err(err).Error("server error", golog.Data{"code": coded.Code})
	}

	// Streaming handlers can fail after the headers are out.
	if c.Response().Committed {
		log.Err(err).Warn("error after response was committed")
		return
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(coded.HTTPCode)
	} else {
		err = c.JSON(coded.HTTPCode, payload(coded))
	}
	if err != nil {
		log.Err(errors.WithStack(err)).Error("error handler response error")
	}
}

// From converts any error into the *Error it renders as.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := fmt.Sprint(he.Message)
		return &Error{he.Code, msg, strcase.ToSnake(msg)}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return GatewayTimeout("The request timed out.").(*Error)
	case errors.Is(err, context.Canceled):
		return &Error{StatusClientClosedRequest, "The request was cancelled.", CodeRequestCancelled}
	}

	return &Error{http.StatusInternalServerError, "Internal Server Error", CodeInternal}
}

func payload(e *Error) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":        e.Code,
			"message":     e.Message,
			"status_code": e.HTTPCode,
		},
	}
}

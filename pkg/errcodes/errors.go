package errcodes

import (
	"fmt"
	"net/http"
)

// Codes clients can switch on. Echo errors get a code derived from their
// message instead.
const (
	CodeNotFound             = "not_found"
	CodeConflict             = "conflict"
	CodeInvalidTransition    = "invalid_transition"
	CodeServiceUnavailable   = "service_unavailable"
	CodeTimeout              = "timeout"
	CodeUnsupportedMediaType = "unsupported_media_type"
	CodeUnknownParameter     = "unknown_parameter"
	CodeValidationType       = "validation_type_error"
	CodeValidation           = "validation_error"
	CodeMalformedPayload     = "malformed_payload"
	CodeEmptyRequestBody     = "empty_request_body"
	CodeRequestCancelled     = "request_cancelled"
	CodeInternal             = "internal_server_error"
)

// Error is an error that renders as a JSON body with its own status.
type Error struct {
	HTTPCode int
	Message  string
	Code     string
}

func (err *Error) Error() string {
	return err.Message
}

// Is matches on all three fields, so errors.Is(err, NotFound("Book")) works.
func (err *Error) Is(target error) bool {
	te, ok := target.(*Error)
	return ok && *te == *err
}

func newError(status int, code, msg string) error {
	return &Error{HTTPCode: status, Message: msg, Code: code}
}

func NotFound(resource string) error {
	return newError(http.StatusNotFound, CodeNotFound, resource+" not found.")
}

// Conflict is for requests that are valid but clash with current state, like
// a second cleanup while one is queued.
func Conflict(msg string) error {
	return newError(http.StatusConflict, CodeConflict, msg)
}

// InvalidTransition rejects a status change the resource's current status
// doesn't allow, e.g. approving an item that was already rejected.
func InvalidTransition(resource, status string) error {
	return newError(http.StatusConflict, CodeInvalidTransition, fmt.Sprintf("%s is %s and can't be changed.", resource, status))
}

// ServiceUnavailable names an external dependency (OCR, ISBN lookup) that
// couldn't be reached.
func ServiceUnavailable(dependency string) error {
	return newError(http.StatusServiceUnavailable, CodeServiceUnavailable, dependency+" is unavailable.")
}

func GatewayTimeout(msg string) error {
	return newError(http.StatusGatewayTimeout, CodeTimeout, msg)
}

func UnsupportedMediaType() error {
	return newError(http.StatusUnsupportedMediaType, CodeUnsupportedMediaType, "Unsupported Media Type")
}

func UnknownParameter(param string) error {
	return newError(http.StatusUnprocessableEntity, CodeUnknownParameter, fmt.Sprintf("Unknown Parameter %q", param))
}

func ValidationTypeError(msg string) error {
	return newError(http.StatusUnprocessableEntity, CodeValidationType, msg)
}

func ValidationError(msg string) error {
	return newError(http.StatusUnprocessableEntity, CodeValidation, msg)
}

func MalformedPayload() error {
	return newError(http.StatusBadRequest, CodeMalformedPayload, "Malformed Payload")
}

func EmptyRequestBody() error {
	return newError(http.StatusBadRequest, CodeEmptyRequestBody, "Request body can't be empty.")
}

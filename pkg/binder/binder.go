package binder

import (
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/mold/v4"
	"github.com/go-playground/mold/v4/modifiers"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/schema"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/shishobooks/spines/pkg/errcodes"
)

const (
	allowEmptyBodyKey     = "binder.allow_empty_body"
	allowUnknownFieldsKey = "binder.allow_unknown_fields"
)

var unknownFieldRE = regexp.MustCompile(`^json: unknown field "(.*)"$`)

// AllowEmptyBody lets a POST or PUT with no body bind to the zero value of its
// payload, which then gets defaults applied like any other request.
func AllowEmptyBody(c echo.Context) {
	c.Set(allowEmptyBodyKey, true)
}

// AllowUnknownFields turns off strict JSON decoding for one request.
func AllowUnknownFields(c echo.Context) {
	c.Set(allowUnknownFieldsKey, true)
}

func flag(c echo.Context, key string) bool {
	v, _ := c.Get(key).(bool)
	return v
}

// Binder implements echo.Binder. Payloads are decoded from JSON, form or
// multipart bodies (or the query string for GET and DELETE), trimmed by mold,
// filled with defaults and finally validated.
type Binder struct {
	query    *schema.Decoder
	form     *schema.Decoder
	conform  *mold.Transformer
	validate *validator.Validate
}

func New() (*Binder, error) {
	validate := validator.New()
	validate.RegisterTagNameFunc(jsonFieldName)
	for tag, fn := range map[string]validator.Func{
		isbn:        isbnValidator,
		contributor: contributorValidator,
	} {
		if err := validate.RegisterValidation(tag, fn); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	return &Binder{
		query:    newDecoder("query"),
		form:     newDecoder("form"),
		conform:  modifiers.New(),
		validate: validate,
	}, nil
}

func newDecoder(tag string) *schema.Decoder {
	d := schema.NewDecoder()
	d.SetAliasTag(tag)
	return d
}

func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

func (b *Binder) Bind(i interface{}, c echo.Context) error {
	req := c.Request()

	switch {
	case req.ContentLength > 0:
		if err := b.bindBody(i, c); err != nil {
			return err
		}
	case req.Method == http.MethodGet || req.Method == http.MethodDelete:
		if err := decodeValues(b.query, i, c.QueryParams()); err != nil {
			return err
		}
	case !flag(c, allowEmptyBodyKey):
		return errcodes.EmptyRequestBody()
	}

	if err := b.conform.Struct(req.Context(), i); err != nil {
		return errors.WithStack(err)
	}
	if err := defaults.Set(i); err != nil {
		return errors.WithStack(err)
	}
	if err := b.validate.Struct(i); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return errcodes.ValidationError(formatValidationError(verrs[0]))
		}
		return errors.WithStack(err)
	}
	return nil
}

func (b *Binder) bindBody(i interface{}, c echo.Context) error {
	ctype := c.Request().Header.Get(echo.HeaderContentType)
	switch {
	case strings.HasPrefix(ctype, echo.MIMEApplicationJSON):
		return bindJSON(i, c)
	case strings.HasPrefix(ctype, echo.MIMEMultipartForm):
		if err := b.bindForm(i, c); err != nil {
			return err
		}
		form, err := c.MultipartForm()
		if err != nil {
			return errcodes.MalformedPayload()
		}
		bindFormFiles(i, form.File)
		return nil
	case strings.HasPrefix(ctype, echo.MIMEApplicationForm):
		return b.bindForm(i, c)
	default:
		return errcodes.UnsupportedMediaType()
	}
}

func bindJSON(i interface{}, c echo.Context) error {
	body := c.Request().Body
	defer body.Close()

	dec := json.NewDecoder(body)
	if !flag(c, allowUnknownFieldsKey) {
		dec.DisallowUnknownFields()
	}
	err := dec.Decode(i)
	if err == nil {
		return nil
	}

	if m := unknownFieldRE.FindStringSubmatch(err.Error()); m != nil {
		return errcodes.UnknownParameter(m[1])
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return errcodes.ValidationTypeError(formatUnmarshalTypeError(typeErr))
	}

	logger.FromEchoContext(c).Err(err).Warn("undecodable json body")
	return errcodes.MalformedPayload()
}

func (b *Binder) bindForm(i interface{}, c echo.Context) error {
	params, err := c.FormParams()
	if err != nil {
		return errcodes.MalformedPayload()
	}
	return decodeValues(b.form, i, params)
}

func decodeValues(d *schema.Decoder, i interface{}, values url.Values) error {
	err := d.Decode(i, values)
	if err == nil {
		return nil
	}

	var multi schema.MultiError
	if !errors.As(err, &multi) {
		return errors.WithStack(err)
	}
	// Report the first problem only; map order makes "first" arbitrary but
	// there is usually just one.
	for _, e := range multi {
		var conv schema.ConversionError
		if errors.As(e, &conv) {
			return errcodes.ValidationTypeError(formatSchemaConversionError(conv))
		}
		var unknown schema.UnknownKeyError
		if errors.As(e, &unknown) {
			return errcodes.UnknownParameter(unknown.Key)
		}
		return errors.WithStack(e)
	}
	return errors.WithStack(err)
}

// bindFormFiles hands uploads to a FormFiles map field when the payload
// declares one.
func bindFormFiles(i interface{}, files map[string][]*multipart.FileHeader) {
	if len(files) == 0 {
		return
	}
	v := reflect.ValueOf(i)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return
	}
	field := v.Elem().FieldByName("FormFiles")
	if field.IsValid() && field.CanSet() && field.Type() == reflect.TypeOf(files) {
		field.Set(reflect.ValueOf(files))
	}
}

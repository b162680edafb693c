package binder

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/schema"
	"github.com/iancoleman/strcase"
	"github.com/segmentio/encoding/json"
)

// Validation tags with a tailored message. Custom tags registered in New are
// listed first.
const (
	contributor = "contributor"
	isbn        = "isbn"

	gt         = "gt"
	gte        = "gte"
	lte        = "lte"
	mx         = "max"
	mn         = "min"
	ne         = "ne"
	oneof      = "oneof"
	required   = "required"
	requiredIf = "required_if"
)

var timeType = reflect.TypeOf(time.Time{})

func formatUnmarshalTypeError(err *json.UnmarshalTypeError) string {
	return fmt.Sprintf("%q should be of type %s", strings.Trim(err.Field, "."), err.Type)
}

func formatSchemaConversionError(err schema.ConversionError) string {
	return fmt.Sprintf("%q should be of type %s", err.Key, err.Type)
}

func formatValidationError(err validator.FieldError) string {
	field := err.Field()
	param := err.Param()

	switch err.Tag() {
	case contributor:
		return fmt.Sprintf("%q can't contain slashes or control characters", field)
	case isbn:
		return fmt.Sprintf("%q is not a valid ISBN", field)
	case gt, gte:
		if param == "" && err.Type() == timeType {
			param = "now"
		}
		cmp := "greater than"
		if err.Tag() == gte {
			cmp += " or equal to"
		}
		return fmt.Sprintf("%q must be %s %s", field, cmp, param)
	case lte:
		return fmt.Sprintf("%q must be less than or equal to %s", field, param)
	case mx:
		return boundMessage(field, "less than or equal to", param, err.Kind())
	case mn:
		return boundMessage(field, "greater than or equal to", param, err.Kind())
	case ne:
		return fmt.Sprintf("%q can't be %q", field, param)
	case oneof:
		quoted := strings.Fields(param)
		for i, p := range quoted {
			quoted[i] = fmt.Sprintf("%q", p)
		}
		return fmt.Sprintf("%q must be one of the following: %s", field, strings.Join(quoted, ", "))
	case required:
		return fmt.Sprintf("%q is required", field)
	case requiredIf:
		// Param is "<StructField> <value>".
		if parts := strings.Fields(param); len(parts) == 2 {
			return fmt.Sprintf("%q is required when %s is %q", field, strcase.ToSnake(parts[0]), parts[1])
		}
		return fmt.Sprintf("%q is required", field)
	default:
		return fmt.Sprintf("%q is invalid", field)
	}
}

// boundMessage phrases min/max failures. Numbers are compared by value;
// strings and slices by length.
func boundMessage(field, cmp, param string, kind reflect.Kind) string {
	//exhaustive:ignore
	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return fmt.Sprintf("%q must be %s %s", field, cmp, param)
	}

	unit := "character"
	if kind == reflect.Slice || kind == reflect.Map {
		unit = "element"
	}
	if param != "1" {
		unit += "s"
	}
	return fmt.Sprintf("%q length must be %s %s %s", field, cmp, param, unit)
}

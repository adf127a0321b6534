package completion

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/namikmesic/chatkit/apierror"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// Decode unmarshals a request body, reporting malformed JSON as a client error.
func Decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return apierror.InvalidRequest("Your request contained invalid JSON: " + err.Error())
	}
	return nil
}

// Validate checks the structural constraints of a decoded request.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apierror.InvalidRequest("Your request contained invalid structure. " + err.Error())
	}

	fe := verrs[0]
	return apierror.InvalidRequest(fmt.Sprintf(
		"Your request contained invalid structure on path %s. %s", fieldPath(fe.Namespace()), describe(fe)))
}

// fieldPath drops the root type and embedded struct names from a namespace.
func fieldPath(namespace string) string {
	segments := strings.Split(namespace, ".")
	if len(segments) > 0 {
		segments = segments[1:]
	}
	kept := segments[:0]
	for _, s := range segments {
		if s == "ChatCompletionRequest" || s == "Parameters" {
			continue
		}
		kept = append(kept, s)
	}
	return strings.Join(kept, ".")
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "field required"
	case "oneof":
		return fmt.Sprintf("value is not one of [%s]", fe.Param())
	case "eq":
		return fmt.Sprintf("unexpected value; permitted: '%s'", fe.Param())
	case "gte":
		return "ensure this value is greater than or equal to " + fe.Param()
	case "lte":
		return "ensure this value is less than or equal to " + fe.Param()
	case "gt":
		return "ensure this value is greater than " + fe.Param()
	case "max":
		return fmt.Sprintf("ensure this value has at most %s items", fe.Param())
	}
	return fmt.Sprintf("failed on the '%s' constraint", fe.Tag())
}

package validate

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct runs the validate tags on a request struct and flattens the failures
// into one error message suitable for a 400 response body.
func Struct(data any) error {
	err := validate.Struct(data)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	fields := make([]string, 0, len(verrs))
	for _, verr := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", verr.StructNamespace(), verr.Tag()))
	}
	return fmt.Errorf("invalid fields: %s", strings.Join(fields, ", "))
}

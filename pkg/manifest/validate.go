package manifest

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateStruct(value any) error {
	if err := validate.Struct(value); err != nil {
		return validationErrorToString(value, err)
	}
	return nil
}

func validationErrorToString(input any, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msg := ""
	for _, fe := range verrs {
		msg += fmt.Sprintf("\n • Failed %T validation for field '%s': rule '%s' expected '%s', got '%v'.", input, fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
	}
	return errors.New(msg)
}

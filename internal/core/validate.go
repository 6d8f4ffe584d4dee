package core

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ValidationError reports the first invalid field of an input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

var (
	validate     *validator.Validate
	validateOnce sync.Once

	accountNameRe = regexp.MustCompile(`^[A-Za-z0-9 ]+$`)
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		// Only .com and .net addresses are accepted at signup.
		_ = v.RegisterValidation("comnet", func(fl validator.FieldLevel) bool {
			s := strings.ToLower(fl.Field().String())
			return strings.HasSuffix(s, ".com") || strings.HasSuffix(s, ".net")
		})
		_ = v.RegisterValidation("accountname", func(fl validator.FieldLevel) bool {
			return accountNameRe.MatchString(fl.Field().String())
		})
		validate = v
	})
	return validate
}

// validateStruct runs the struct tags of s and converts the first failure
// into a *ValidationError with a readable message.
func validateStruct(s any) error {
	err := validatorInstance().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validate: %w", err)
	}
	fe := verrs[0]
	return &ValidationError{Field: fe.Field(), Message: describe(fe)}
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters long", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", field, fe.Param())
	case "alphanum", "accountname":
		return fmt.Sprintf("%s must only contain alpha-numeric characters", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "comnet":
		return fmt.Sprintf("%s must end in .com or .net", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

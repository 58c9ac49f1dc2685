package records

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid record")

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// "whole" rejects fractional numbers.
		_ = validate.RegisterValidation("whole", func(fl validator.FieldLevel) bool {
			v := fl.Field().Float()
			return v == math.Trunc(v)
		})
	})
	return validate
}

// Validate checks a record's struct tags. Field errors are flattened into
// one message.
func Validate(v any) error {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "gte", "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte", "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "whole":
		return fe.Field() + " must be a whole number"
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}

// ValidQuality reports whether q is a whole rating from 1 to 5.
func ValidQuality(q float64) bool {
	return q >= 1 && q <= 5 && q == math.Trunc(q)
}

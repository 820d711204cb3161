// Package validate wires go-playground/validator into echo and registers the
// field rules shared by the request DTOs.
package validate

import (
	"errors"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var (
	phonePattern    = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
	clockPattern    = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
	frequencyTokens = map[string]bool{
		"OD": true, "BD": true, "TDS": true, "QID": true,
		"HS": true, "SOS": true, "STAT": true,
	}
	dosePattern = regexp.MustCompile(`^[0-9](\.5)?(-[0-9](\.5)?){2,3}$`)
)

// Validator implements echo.Validator.
type Validator struct {
	v *validator.Validate
}

// New returns a validator with the custom rules registered:
//
//	phone     10 to 15 digits, optional leading '+'
//	password  at least 8 characters with a letter and a digit
//	clock     24h "HH:MM"
//	date      "YYYY-MM-DD"
//	frequency dose pattern (1-0-1, 1-1-1-1) or OD/BD/TDS/QID/HS/SOS/STAT
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return IsPhone(fl.Field().String())
	})
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return IsStrongPassword(fl.Field().String())
	})
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		return clockPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("date", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(time.DateOnly, fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("frequency", func(fl validator.FieldLevel) bool {
		return IsFrequency(fl.Field().String())
	})
	return &Validator{v: v}
}

// Validate satisfies echo.Validator. Failures come back as a 400 whose message
// maps each offending field to the rule it broke.
func (cv *Validator) Validate(i interface{}) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fieldPath(fe)] = fe.Tag()
		}
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"message": "validation failed",
			"fields":  fields,
		})
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

// BindAndValidate binds the request body into dst and validates it.
func BindAndValidate(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.Validate(dst)
}

func IsPhone(s string) bool {
	return phonePattern.MatchString(s)
}

func IsStrongPassword(s string) bool {
	if len(s) < 8 {
		return false
	}
	var letter, digit bool
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return letter && digit
}

func IsFrequency(s string) bool {
	s = strings.TrimSpace(s)
	return frequencyTokens[strings.ToUpper(s)] || dosePattern.MatchString(s)
}

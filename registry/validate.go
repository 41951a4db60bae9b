package registry

import (
	"errors"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	mustRegister("nonewline", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), "\r\n")
	})
	mustRegister("exporthost", func(fl validator.FieldLevel) bool {
		return validHost(fl.Field().String())
	})
	mustRegister("exportpath", func(fl validator.FieldLevel) bool {
		return validPath(fl.Field().String())
	})
}

func mustRegister(tag string, fn validator.Func) {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		panic("registry: register validation " + tag + ": " + err.Error())
	}
}

// validHost rejects anything that would not survive the `host(options)` grammar.
func validHost(h string) bool {
	if h == "" {
		return false
	}
	return !strings.ContainsFunc(h, func(r rune) bool {
		return r == '(' || r == ')' || unicode.IsSpace(r)
	})
}

func validPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.ContainsAny(p, "\"\r\n")
}

// Validate checks every invariant a record must satisfy before it is written.
func Validate(rec ExportRecord) error {
	if err := validate.Struct(rec); err != nil {
		return formatValidationError(rec, err)
	}
	return nil
}

func formatValidationError(rec ExportRecord, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return newError(ErrInvalid, err, "invalid export %q", rec.Name)
	}
	e := verrs[0]
	var msg string
	switch e.Tag() {
	case "required":
		msg = "must not be empty"
	case "nonewline":
		msg = "must not contain a newline"
	case "exporthost":
		msg = "must be a non-empty host without whitespace or parentheses"
	case "exportpath":
		msg = "must be an absolute path without quotes or newlines"
	case "excludesall":
		msg = "must not contain ')'"
	case "min":
		msg = "must contain at least one client"
	default:
		msg = "failed '" + e.Tag() + "' check"
	}
	return newError(ErrInvalid, nil, "invalid export %q: %s %s (value: %v)", rec.Name, e.Namespace(), msg, e.Value())
}

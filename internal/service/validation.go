package service

import (
	"errors"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const (
	passwordMinLen = 8
	passwordMaxLen = 100
)

// ValidatePassword exige longitud 8-100 con mayúscula, minúscula, dígito y símbolo.
func ValidatePassword(password string) bool {
	n := len([]rune(password))
	if n < passwordMinLen || n > passwordMaxLen {
		return false
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}

// RegisterPasswordRule añade la regla "password" a un validator (el del servicio o el de gin).
func RegisterPasswordRule(v *validator.Validate) error {
	return v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return ValidatePassword(fl.Field().String())
	})
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterPasswordRule(v); err != nil {
		panic(err)
	}
	return v
}

// toValidationError traduce los errores de validator a la taxonomía del servicio.
func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Fields: map[string]string{"input": err.Error()}}
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return &ValidationError{Fields: fields}
}

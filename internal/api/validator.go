package api

import "github.com/go-playground/validator/v10"

type requestValidator struct {
	validator *validator.Validate
}

func newRequestValidator() *requestValidator {
	return &requestValidator{validator: validator.New()}
}

func (v *requestValidator) Validate(i interface{}) error {
	return v.validator.Struct(i)
}

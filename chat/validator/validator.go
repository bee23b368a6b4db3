// Package validator wraps go-playground/validator behind the small surface
// the dispatcher needs to check inbound event shape.
package validator

import (
	"github.com/go-playground/validator/v10"
)

// A FieldError names one struct field that failed validation.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// A Validator checks structs against their validate tags.
type Validator struct {
	v *validator.Validate
}

// New returns a ready Validator.
func New() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Struct validates s and returns one FieldError per failing field, or nil
// when s is valid.
func (va *Validator) Struct(s any) []FieldError {
	err := va.v.Struct(s)
	if err == nil {
		return nil
	}
	var out []FieldError
	for _, fe := range err.(validator.ValidationErrors) {
		out = append(out, FieldError{Field: fe.StructField(), Reason: fe.Tag()})
	}
	return out
}

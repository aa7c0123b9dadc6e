package graph

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/you/blogql/internal/apperr"
	"github.com/you/blogql/internal/auth"
)

// passwordBytesTag limits a string to what the password hasher accepts.
// The built-in max tag counts runes, not bytes.
const passwordBytesTag = "hashable"

// UserInputData mirrors the GraphQL input of the same name.
type UserInputData struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name"`
	Password string `json:"password" validate:"min=5,hashable"`
}

// PostInputData mirrors the GraphQL input of the same name.
type PostInputData struct {
	Title    string `json:"title" validate:"required,min=5"`
	Content  string `json:"content" validate:"required,min=5"`
	ImageURL string `json:"imageUrl"`
}

// violationMessages holds the client-facing message per input field. A
// "field.tag" entry overrides the field's message for that failed rule.
var violationMessages = map[string]string{
	"email":                        "E-Mail is invalid.",
	"password":                     "Password too short!",
	"password." + passwordBytesTag: "Password too long!",
	"title":                        "Title is invalid.",
	"content":                      "Content is invalid.",
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation(passwordBytesTag, func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= auth.MaxPasswordBytes
	})
	return v
}

// check validates in against its struct tags and reports every failed
// field at once as a validation error.
func (r *Resolver) check(ctx context.Context, in any) error {
	err := r.validate.StructCtx(ctx, in)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	violations := make([]apperr.Violation, 0, len(fieldErrs))
	seen := make(map[string]bool, len(fieldErrs))
	for _, fe := range fieldErrs {
		if seen[fe.Field()] {
			continue
		}
		seen[fe.Field()] = true

		msg, ok := violationMessages[fe.Field()+"."+fe.Tag()]
		if !ok {
			msg, ok = violationMessages[fe.Field()]
		}
		if !ok {
			msg = fe.Field() + " is invalid."
		}
		violations = append(violations, apperr.Violation{Message: msg, Field: fe.Field()})
	}
	return apperr.Invalid(violations)
}

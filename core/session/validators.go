package session

import (
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-portal/core"
)

var (
	userWithTokenTag  = "user_with_token"
	userWithTokenText = "a user is required with an access token"
)

// register custom validators
func init() {
	core.Validate.RegisterStructValidation(recordStructValidation, Record{})
	core.RegisterCustomTranslation(userWithTokenTag, userWithTokenText)
}

// recordStructValidation enforces: access token present => user present
func recordStructValidation(sl validator.StructLevel) {
	if rec, ok := sl.Current().Interface().(Record); ok {
		if rec.AccessToken != "" && rec.User == nil {
			sl.ReportError(rec.User, "data", "User", userWithTokenTag, "")
		}
	}
}

func validateRecord(rec Record) error {
	if err := core.Validate.Struct(rec); err != nil {
		return core.NewValidationError(ErrMalformedSession, core.FieldErrors(err)...)
	}
	return nil
}

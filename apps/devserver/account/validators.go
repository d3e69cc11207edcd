package account

import (
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-portal/core"
)

var (
	anyRoleTag  = "anyrole"
	anyRoleText = "{0} must be one of the known roles"
)

func init() {
	_ = core.Validate.RegisterValidation(anyRoleTag, anyRoleValidation)
	core.RegisterCustomTranslation(anyRoleTag, anyRoleText)
}

func anyRoleValidation(fl validator.FieldLevel) bool {
	role := fl.Field().String()
	for _, r := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

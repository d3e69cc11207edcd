package account

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/permission"
	"github.com/trezcool/masomo-portal/core/session"
)

// Roles
const (
	// Admin
	RoleAdmin          = "admin:"
	RoleAdminOwner     = "admin:owner"
	RoleAdminPrincipal = "admin:principal"

	// Teacher
	RoleTeacher = "teacher:"

	// Student
	RoleStudent = "student:"
)

var AllRoles = []string{RoleAdmin, RoleAdminOwner, RoleAdminPrincipal, RoleTeacher, RoleStudent}

type Account struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Username     string            `json:"username"`
	IsActive     bool              `json:"is_active"`
	Role         string            `json:"role"`
	Permissions  []permission.Code `json:"permissions"`
	PasswordHash []byte            `json:"-"`
}

func (a *Account) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	a.PasswordHash = hash
	return nil
}

func (a *Account) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(pwd))
}

// RoleType is the portal-facing role, e.g. "admin:owner" -> ADMIN.
func (a Account) RoleType() session.RoleType {
	return session.NormalizeRole(a.Role)
}

func (a Account) IsAdmin() bool {
	return strings.HasPrefix(a.Role, RoleAdmin)
}

// PermissionSet returns the account's permissions, duplicates folded.
func (a Account) PermissionSet() permission.Set {
	return permission.NewSet(a.Permissions...)
}

// NewAccount contains information needed to create a new Account.
type NewAccount struct {
	Name        string   `json:"name" validate:"required"`
	Username    string   `json:"username" validate:"required,min=3,alphanum"`
	Password    string   `json:"password" validate:"required,min=6"`
	Role        string   `json:"role" validate:"required,anyrole"`
	Permissions []string `json:"permissions" validate:"dive,permcode"`
}

func (na *NewAccount) Validate() error {
	na.Name = core.CleanString(na.Name)
	na.Username = core.CleanString(na.Username, true /* lower */)
	na.Role = core.CleanString(na.Role, true /* lower */)

	if err := core.Validate.Struct(na); err != nil {
		return core.NewValidationError(ErrInvalidAccount, core.FieldErrors(err)...)
	}
	return nil
}

func (na NewAccount) build() (Account, error) {
	acc := Account{
		ID:       uuid.New().String(),
		Name:     na.Name,
		Username: na.Username,
		IsActive: true,
		Role:     na.Role,
	}
	for _, raw := range na.Permissions {
		code, err := permission.Parse(raw)
		if err != nil {
			return Account{}, err
		}
		acc.Permissions = append(acc.Permissions, code)
	}
	if err := acc.SetPassword(na.Password); err != nil {
		return Account{}, err
	}
	return acc, nil
}

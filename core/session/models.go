package session

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core/permission"
)

// RoleType is the canonical portal role of a user.
type RoleType string

const (
	RoleAdmin   RoleType = "ADMIN"
	RoleTeacher RoleType = "TEACHER"
	RoleStudent RoleType = "STUDENT"
	RoleGuest   RoleType = "GUEST"
)

var roleTypes = []RoleType{RoleAdmin, RoleTeacher, RoleStudent, RoleGuest}

// NormalizeRole maps a raw backend role to a RoleType, case-insensitively.
// Prefixed roles such as "admin:owner" or "teacher:" resolve by their prefix.
// Anything else is GUEST.
func NormalizeRole(raw string) RoleType {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if i := strings.IndexByte(raw, ':'); i >= 0 {
		raw = raw[:i]
	}
	for _, rt := range roleTypes {
		if raw == string(rt) {
			return rt
		}
	}
	return RoleGuest
}

func (rt RoleType) String() string {
	return string(rt)
}

type UserProfile struct {
	ID          string            `json:"id" validate:"notblank"`
	DisplayName string            `json:"name"`
	RoleType    RoleType          `json:"type" validate:"required,oneof=ADMIN TEACHER STUDENT GUEST"`
	Permissions []permission.Code `json:"permissions" validate:"dive"`
}

// PermissionSet returns the user's permissions, duplicates folded.
func (u UserProfile) PermissionSet() permission.Set {
	return permission.NewSet(u.Permissions...)
}

// Record is the single persisted unit of an authenticated session.
type Record struct {
	AccessToken string       `json:"accessToken" validate:"notblank"`
	User        *UserProfile `json:"data"`
}

// Equal reports whether both records hold the same token and profile.
func (r Record) Equal(o Record) bool {
	if r.AccessToken != o.AccessToken {
		return false
	}
	if r.User == nil || o.User == nil {
		return r.User == o.User
	}
	a, b := r.User, o.User
	if a.ID != b.ID || a.DisplayName != b.DisplayName || a.RoleType != b.RoleType || len(a.Permissions) != len(b.Permissions) {
		return false
	}
	for i := range a.Permissions {
		if a.Permissions[i] != b.Permissions[i] {
			return false
		}
	}
	return true
}

// wire layout, shared with the backend login payload:
// {"accessToken": "...", "data": {"id", "name", "type", "role": {"name", "permissions": [...]}}}
type (
	wireRecord struct {
		AccessToken string    `json:"accessToken"`
		Data        *wireUser `json:"data"`
	}

	wireUser struct {
		ID          flexString        `json:"id"`
		Name        string            `json:"name,omitempty"`
		DisplayName string            `json:"displayName,omitempty"`
		Type        string            `json:"type,omitempty"`
		RoleName    string            `json:"roleName,omitempty"`
		Role        *wireRole         `json:"role,omitempty"`
		Permissions []permission.Code `json:"permissions,omitempty"`
	}

	wireRole struct {
		Name        string            `json:"name,omitempty"`
		Permissions []permission.Code `json:"permissions"`
	}
)

// flexString accepts both JSON strings and numbers.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = flexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return errors.Wrap(err, "id")
	}
	*s = flexString(num.String())
	return nil
}

// role is either a bare string or an object.
func (r *wireRole) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &r.Name)
	}
	type plain wireRole
	return json.Unmarshal(b, (*plain)(r))
}

func (u wireUser) roleType() RoleType {
	for _, raw := range []string{u.Type, u.RoleName, u.roleName()} {
		if strings.TrimSpace(raw) != "" {
			return NormalizeRole(raw)
		}
	}
	return RoleGuest
}

func (u wireUser) roleName() string {
	if u.Role == nil {
		return ""
	}
	return u.Role.Name
}

func (u wireUser) permissions() []permission.Code {
	if u.Role != nil && u.Role.Permissions != nil {
		return u.Role.Permissions
	}
	return u.Permissions
}

// Decode reads a serialized session record, either persisted by the Manager or returned by the
// backend on login. Role normalization happens here and nowhere else.
func Decode(raw []byte) (Record, error) {
	var wr wireRecord
	if err := json.Unmarshal(raw, &wr); err != nil {
		return Record{}, errors.Wrap(ErrCorruptSession, err.Error())
	}
	rec := Record{AccessToken: wr.AccessToken}
	if wr.Data != nil {
		usr := wr.Data.profile()
		rec.User = &usr
	}
	return rec, nil
}

// DecodeProfile reads a bare user payload, as served by the backend "me" endpoint.
func DecodeProfile(raw []byte) (UserProfile, error) {
	var wu wireUser
	if err := json.Unmarshal(raw, &wu); err != nil {
		return UserProfile{}, errors.Wrap(ErrCorruptSession, err.Error())
	}
	return wu.profile(), nil
}

func (u wireUser) profile() UserProfile {
	name := u.Name
	if name == "" {
		name = u.DisplayName
	}
	return UserProfile{
		ID:          string(u.ID),
		DisplayName: name,
		RoleType:    u.roleType(),
		Permissions: append([]permission.Code(nil), u.permissions()...),
	}
}

// Encode serializes a record in the persisted layout.
func Encode(rec Record) ([]byte, error) {
	wr := wireRecord{AccessToken: rec.AccessToken}
	if rec.User != nil {
		perms := rec.User.Permissions
		if perms == nil {
			perms = []permission.Code{}
		}
		wr.Data = &wireUser{
			ID:   flexString(rec.User.ID),
			Name: rec.User.DisplayName,
			Type: string(rec.User.RoleType),
			Role: &wireRole{Permissions: perms},
		}
	}
	b, err := json.Marshal(wr)
	return b, errors.Wrap(err, "encode session")
}

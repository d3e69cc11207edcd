// Package permission evaluates (resource, action) permission codes.
//
// Evaluation is exact: no wildcards, no resource hierarchy and no role shortcuts.
package permission

import (
	"errors"
	"sort"
	"strings"
)

var ErrInvalidCode = errors.New("invalid permission code")

// Code grants the capability to perform Action on Resource, e.g. (STUDENT, add).
type Code struct {
	Resource string `json:"resource" yaml:"resource" validate:"notblank"`
	Action   string `json:"action" yaml:"action" validate:"notblank"`
}

func New(resource, action string) Code {
	return Code{Resource: resource, Action: action}
}

// Parse reads the textual form "RESOURCE:action".
func Parse(s string) (Code, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return Code{}, ErrInvalidCode
	}
	code := Code{Resource: strings.TrimSpace(parts[0]), Action: strings.TrimSpace(parts[1])}
	if code.Resource == "" || code.Action == "" {
		return Code{}, ErrInvalidCode
	}
	return code, nil
}

func (c Code) String() string {
	return c.Resource + ":" + c.Action
}

// Set holds each (resource, action) pair at most once.
// The zero value is an empty set ready for reads.
type Set struct {
	codes map[Code]struct{}
}

// NewSet builds a Set; duplicates are idempotent.
func NewSet(codes ...Code) Set {
	s := Set{codes: make(map[Code]struct{}, len(codes))}
	for _, c := range codes {
		s.codes[c] = struct{}{}
	}
	return s
}

func (s Set) Has(c Code) bool {
	_, ok := s.codes[c]
	return ok
}

func (s Set) Len() int {
	return len(s.codes)
}

// Codes returns the codes sorted by resource then action.
func (s Set) Codes() []Code {
	codes := make([]Code, 0, len(s.codes))
	for c := range s.codes {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool {
		if codes[i].Resource != codes[j].Resource {
			return codes[i].Resource < codes[j].Resource
		}
		return codes[i].Action < codes[j].Action
	})
	return codes
}

// HasPermission is true iff perms holds the exact (resource, action) pair.
func HasPermission(perms Set, resource, action string) bool {
	return perms.Has(Code{Resource: resource, Action: action})
}

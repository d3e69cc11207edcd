package permission

import (
	"testing"

	"pgregory.net/rapid"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Code
		wantErr error
	}{
		{name: "valid", in: "STUDENT:add", want: Code{Resource: "STUDENT", Action: "add"}},
		{name: "spaces", in: "  FEES : view ", want: Code{Resource: "FEES", Action: "view"}},
		{name: "action with colon", in: "REPORT:export:pdf", want: Code{Resource: "REPORT", Action: "export:pdf"}},
		{name: "empty", in: "", wantErr: ErrInvalidCode},
		{name: "no separator", in: "STUDENT", wantErr: ErrInvalidCode},
		{name: "no resource", in: ":add", wantErr: ErrInvalidCode},
		{name: "no action", in: "STUDENT:", wantErr: ErrInvalidCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if err != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Parse() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasPermission(t *testing.T) {
	perms := NewSet(New("STUDENT", "add"), New("STUDENT", "add"), New("FEES", "view"))

	tests := []struct {
		name             string
		resource, action string
		want             bool
	}{
		{name: "granted", resource: "STUDENT", action: "add", want: true},
		{name: "other granted", resource: "FEES", action: "view", want: true},
		{name: "same resource, other action", resource: "STUDENT", action: "delete"},
		{name: "same action, other resource", resource: "TEACHER", action: "add"},
		{name: "case sensitive", resource: "student", action: "add"},
		{name: "no wildcard", resource: "*", action: "*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasPermission(perms, tt.resource, tt.action); got != tt.want {
				t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.resource, tt.action, got, tt.want)
			}
		})
	}

	if perms.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (duplicates are idempotent)", perms.Len())
	}
	var zero Set
	if HasPermission(zero, "STUDENT", "add") {
		t.Error("HasPermission() on the zero Set must be false")
	}
}

func codeGen() *rapid.Generator[Code] {
	word := rapid.SampledFrom([]string{"STUDENT", "TEACHER", "FEES", "CLASS", "add", "view", "delete", "edit"})
	return rapid.Custom(func(t *rapid.T) Code {
		return Code{Resource: word.Draw(t, "resource"), Action: word.Draw(t, "action")}
	})
}

func TestHasPermission_membership(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		codes := rapid.SliceOf(codeGen()).Draw(t, "codes")
		query := codeGen().Draw(t, "query")

		member := false
		for _, c := range codes {
			if c == query {
				member = true
			}
		}

		if got := HasPermission(NewSet(codes...), query.Resource, query.Action); got != member {
			t.Fatalf("HasPermission(%v, %v) = %v, want %v", codes, query, got, member)
		}

		// ordering and duplicates do not matter
		shuffled := rapid.Permutation(append(codes, codes...)).Draw(t, "shuffled")
		if got := HasPermission(NewSet(shuffled...), query.Resource, query.Action); got != member {
			t.Fatalf("HasPermission(shuffled) = %v, want %v", got, member)
		}
	})
}

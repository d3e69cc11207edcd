package core_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-portal/core"
)

var errInvalid = errors.New("invalid thing")

func TestValidationError(t *testing.T) {
	err := errors.Wrap(core.NewValidationError(errInvalid,
		core.FieldError{Field: "Thing.name", Error: "this field is required"},
		core.FieldError{Field: "Thing.name", Error: "this field cannot be blank"},
		core.FieldError{Field: "Thing.code", Error: "invalid permission code"},
	), "saving thing")

	assert.True(t, errors.Is(err, errInvalid))
	assert.Equal(t, "saving thing: invalid thing", err.Error())

	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, map[string]string{
		"Thing.name": "this field is required",
		"Thing.code": "invalid permission code",
	}, vErr.FieldMap())

	assert.Empty(t, core.ValidationError{}.FieldMap())
	assert.Equal(t, "", core.ValidationError{}.Error())
}

func TestIsShutdown(t *testing.T) {
	assert.True(t, core.IsShutdown(core.NewShutdownError("bye")))
	assert.True(t, core.IsShutdown(errors.Wrap(core.NewShutdownError("bye"), "handling request")))
	assert.False(t, core.IsShutdown(errInvalid))
	assert.False(t, core.IsShutdown(nil))
}

func TestIsSet(t *testing.T) {
	var nilPtr *core.ValidationError
	var nilIface core.Logger
	var nilFunc func()

	tests := []struct {
		name string
		arg  interface{}
		want bool
	}{
		{name: "nil", arg: nil, want: false},
		{name: "nil interface", arg: nilIface, want: false},
		{name: "typed nil pointer", arg: nilPtr, want: false},
		{name: "nil func", arg: nilFunc, want: false},
		{name: "pointer", arg: &core.ValidationError{}, want: true},
		{name: "struct value", arg: core.NopLogger{}, want: true},
		{name: "string", arg: "", want: true},
		{name: "int", arg: 0, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ok bool
			var msg string
			require.NotPanics(t, func() { ok, msg = core.IsSet(tt.arg, "arg")() })
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, "Parameter was nil: arg", msg)
		})
	}
}

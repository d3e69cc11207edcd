package session

import "github.com/pkg/errors"

var (
	// ErrMalformedSession is returned by SetSession for records breaking the session invariant.
	// It comes wrapped in a *core.ValidationError carrying the offending fields.
	ErrMalformedSession = errors.New("malformed session")

	// ErrCorruptSession is returned by Decode; Load treats it as "no session".
	ErrCorruptSession = errors.New("corrupt session")
)

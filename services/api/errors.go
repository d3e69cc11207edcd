package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ResponseError is a non-2xx answer of the backend.
type ResponseError struct {
	StatusCode int
	Message    string
	Fields     map[string]string // field validation errors, if any
}

func (e *ResponseError) Error() string {
	msg := e.Message
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+e.Fields[k])
		}
		msg = strings.Join(parts, ", ")
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("api: %d %s", e.StatusCode, msg)
}

// IsAuthorizationFailure reports whether err is a 401 answer. By the time the caller sees it, the
// session has already been cleared.
func IsAuthorizationFailure(err error) bool {
	var rErr *ResponseError
	return errors.As(err, &rErr) && rErr.StatusCode == http.StatusUnauthorized
}

// newResponseError reads the backend error body: {"error": "..."}, {"message": "..."} or a map
// of field errors.
func newResponseError(resp *http.Response) *ResponseError {
	rErr := &ResponseError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err == nil {
		for _, k := range []string{"error", "message"} {
			if msg, ok := fields[k].(string); ok && msg != "" {
				rErr.Message = msg
				return rErr
			}
		}
		rErr.Fields = make(map[string]string, len(fields))
		for k, v := range fields {
			if s, ok := v.(string); ok {
				rErr.Fields[k] = s
			}
		}
		return rErr
	}

	var msg string
	if err := json.Unmarshal(body, &msg); err == nil {
		rErr.Message = msg
		return rErr
	}
	rErr.Message = strings.TrimSpace(string(body))
	return rErr
}

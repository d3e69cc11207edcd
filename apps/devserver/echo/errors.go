package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/apps/devserver/account"
	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/permission"
)

var (
	errUnauthorized         = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errInvalidClaims        = echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
	errAuthenticationFailed = echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	errAccountDeactivated   = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errRefreshExpired       = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound         = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// deniedError is returned by permissionMiddleware when the token lacks the route's code.
type deniedError struct {
	required permission.Code
}

func (e deniedError) Error() string {
	return "permission denied: requires " + e.required.String()
}

// resolveHTTPError maps err to a status and a JSON body.
// Only errors ending in a 500 report unexpected=true.
func resolveHTTPError(err error) (code int, message interface{}, unexpected bool) {
	var (
		denied deniedError
		vErr   *core.ValidationError
	)
	switch {
	case errors.As(err, &denied):
		return errHttpForbidden.Code, errHttpForbidden.Message, false
	case errors.Is(err, permission.ErrInvalidCode):
		// the token was signed by us, but carries a code nothing can evaluate
		return errInvalidClaims.Code, errInvalidClaims.Message, false
	case errors.Is(err, account.ErrNotFound):
		// the token outlived its account
		return errUnauthorized.Code, errUnauthorized.Message, false
	case errors.As(err, &vErr):
		if len(vErr.Fields) == 0 {
			return http.StatusBadRequest, vErr.Error(), false
		}
		return http.StatusBadRequest, vErr.FieldMap(), false
	}

	switch origErr := errors.Cause(err).(type) {
	case *echo.HTTPError:
		if origErr == middleware.ErrJWTMissing {
			return http.StatusUnauthorized, origErr.Message, false
		}
		if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
			origErr = herr
		}
		return origErr.Code, origErr.Message, origErr.Code >= http.StatusInternalServerError
	case validator.ValidationErrors:
		fldErrs := make(map[string]string, len(origErr))
		for _, fErr := range origErr {
			fldErrs[fErr.Field()] = fErr.Translate(core.Translator)
		}
		return http.StatusBadRequest, fldErrs, false
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), true
}

// logFields describes the request and, for authenticated ones, who made it.
func (s *server) logFields(ctx echo.Context) map[string]interface{} {
	fields := map[string]interface{}{"method": ctx.Request().Method, "path": ctx.Path()}
	if claims, err := s.getContextClaims(ctx); err == nil {
		fields["username"] = claims.Username
		fields["role"] = claims.RoleName
		fields["perms"] = claims.Permissions
	}
	return fields
}

// newAppHTTPErrorHandler returns the echo.HTTPErrorHandler of the dev server.
// Denials are logged as warnings with the caller's claims, unexpected errors as errors.
// signalShutdown is called whenever a core shutdown error is caught.
func (s *server) newAppHTTPErrorHandler(signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		code, message, unexpected := resolveHTTPError(err)

		var denied deniedError
		switch {
		case unexpected:
			msg := http.StatusText(code)
			s.Logger.Error(msg, errors.Wrap(err, msg), s.logFields(ctx))
			if core.IsShutdown(err) {
				signalShutdown()
			}
		case errors.As(err, &denied):
			fields := s.logFields(ctx)
			fields["required"] = denied.required.String()
			s.Logger.Warn("permission denied", fields)
		}

		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}
		if ctx.Response().Committed {
			return
		}
		if ctx.Request().Method == http.MethodHead {
			err = ctx.NoContent(code)
		} else {
			err = ctx.JSON(code, message)
		}
		if err != nil {
			ctx.Echo().Logger.Error(err)
		}
	}
}

package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/apps/devserver/account"
	"github.com/trezcool/masomo-portal/apps/devserver/school"
	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/filter"
	"github.com/trezcool/masomo-portal/core/permission"
)

type (
	LoginRequest struct {
		Username string `json:"username" validate:"notblank"`
		Password string `json:"password" validate:"required"`
	}

	// LoginResponse is the session record the portal persists.
	LoginResponse struct {
		AccessToken string      `json:"accessToken"`
		Data        UserPayload `json:"data"`
	}

	RefreshResponse struct {
		AccessToken string `json:"accessToken"`
	}

	UserPayload struct {
		ID       string      `json:"id"`
		Name     string      `json:"name"`
		RoleName string      `json:"roleName"`
		Role     RolePayload `json:"role"`
	}

	RolePayload struct {
		Name        string            `json:"name"`
		Permissions []permission.Code `json:"permissions"`
	}
)

func newUserPayload(acc account.Account) UserPayload {
	perms := acc.Permissions
	if perms == nil {
		perms = []permission.Code{}
	}
	return UserPayload{
		ID:       acc.ID,
		Name:     acc.Name,
		RoleName: acc.RoleType().String(),
		Role:     RolePayload{Name: acc.Role, Permissions: perms},
	}
}

func registerAuthAPI(g *echo.Group, jwt echo.MiddlewareFunc, s *server) {
	ag := g.Group("/auth")
	ag.POST("/login", s.login)
	ag.POST("/refresh", s.refresh, jwt)

	g.GET("/me", s.me, jwt)
}

func (s *server) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := core.Validate.Struct(data); err != nil {
		return err
	}

	acc, err := s.authenticate(data.Username, data.Password)
	if err != nil {
		s.metrics.logins.WithLabelValues("failed").Inc()
		return errors.Wrap(err, "authenticating")
	}
	token, err := s.jwt.generateToken(s.jwt.claims(acc))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}

	s.metrics.logins.WithLabelValues("succeeded").Inc()
	s.Logger.Info("login", map[string]interface{}{"username": acc.Username, "role": acc.Role})
	return ctx.JSON(http.StatusOK, LoginResponse{AccessToken: token, Data: newUserPayload(acc)})
}

func (s *server) refresh(ctx echo.Context) error {
	token, err := s.refreshToken(ctx)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, RefreshResponse{AccessToken: token})
}

func (s *server) me(ctx echo.Context) error {
	acc, err := s.getContextAccount(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context account")
	}
	return ctx.JSON(http.StatusOK, newUserPayload(acc))
}

type schoolApi struct {
	catalog filter.Source
}

func registerSchoolAPI(g *echo.Group, jwt echo.MiddlewareFunc, s *server) {
	api := schoolApi{catalog: s.Catalog}

	g.GET("/schools", api.schools, jwt, s.permissionMiddleware("SCHOOL", "view"))
	g.GET("/schools/:id/classes", api.classes, jwt, s.permissionMiddleware("CLASS", "view"))
	g.GET("/classes/:id/divisions", api.divisions, jwt, s.permissionMiddleware("DIVISION", "view"))
}

func (api *schoolApi) schools(ctx echo.Context) error {
	opts, err := api.catalog.Schools(ctx.Request().Context())
	return api.respond(ctx, opts, err)
}

func (api *schoolApi) classes(ctx echo.Context) error {
	opts, err := api.catalog.Classes(ctx.Request().Context(), ctx.Param("id"))
	return api.respond(ctx, opts, err)
}

func (api *schoolApi) divisions(ctx echo.Context) error {
	opts, err := api.catalog.Divisions(ctx.Request().Context(), ctx.Param("id"))
	return api.respond(ctx, opts, err)
}

func (api *schoolApi) respond(ctx echo.Context, opts []filter.Option, err error) error {
	if err != nil {
		if errors.Is(err, school.ErrNotFound) {
			return errHttpNotFound
		}
		return errors.Wrap(err, "querying catalog")
	}
	if opts == nil {
		opts = []filter.Option{}
	}
	return ctx.JSON(http.StatusOK, opts)
}

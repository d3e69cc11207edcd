package echoapi

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/apps/devserver/account"
	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/permission"
)

type jwtConfig struct {
	middleware.JWTConfig
	issuer       string
	expiration   time.Duration
	refreshLimit time.Duration
}

func newJWTConfig(conf *core.Config) jwtConfig {
	return jwtConfig{
		JWTConfig: middleware.JWTConfig{
			SigningKey:    []byte(conf.Server.SecretKey),
			SigningMethod: middleware.AlgorithmHS256,
			ContextKey:    "userToken",
			Claims:        new(Claims),
		},
		issuer:       conf.AppName,
		expiration:   conf.Server.JWTExpirationDelta,
		refreshLimit: conf.Server.JWTRefreshExpirationDelta,
	}
}

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64    `json:"oriat,omitempty"`
	Username     string   `json:"username,omitempty"`
	RoleName     string   `json:"role,omitempty"`
	Permissions  []string `json:"perms,omitempty"`
}

// PermissionSet parses the permission codes carried by the token.
// A code that does not parse fails the whole set with permission.ErrInvalidCode.
func (c Claims) PermissionSet() (permission.Set, error) {
	codes := make([]permission.Code, 0, len(c.Permissions))
	for _, raw := range c.Permissions {
		code, err := permission.Parse(raw)
		if err != nil {
			return permission.Set{}, errors.Wrapf(err, "parsing claim %q", raw)
		}
		codes = append(codes, code)
	}
	return permission.NewSet(codes...), nil
}

func (conf jwtConfig) claims(acc account.Account, origIat ...int64) *Claims {
	now := time.Now()
	nownix := now.Unix()

	oriat := nownix
	if len(origIat) > 0 {
		oriat = origIat[0]
	}

	perms := make([]string, 0, len(acc.Permissions))
	for _, code := range acc.Permissions {
		perms = append(perms, code.String())
	}
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.issuer,
			Subject:   acc.ID,
			Audience:  "Portal",
			ExpiresAt: now.Add(conf.expiration).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt: oriat,
		Username:     acc.Username,
		RoleName:     acc.Role,
		Permissions:  perms,
	}
}

// generateToken generates a signed JWT token string representing the account Claims.
func (conf jwtConfig) generateToken(claims *Claims) (string, error) {
	method := jwt.GetSigningMethod(conf.SigningMethod)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString(conf.SigningKey)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func (s *server) authenticate(uname, pwd string) (account.Account, error) {
	acc, err := s.Accounts.GetByUsername(core.CleanString(uname, true /* lower */))
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return account.Account{}, errAuthenticationFailed
		}
		return account.Account{}, errors.Wrap(err, "finding account by username")
	}
	if err = acc.CheckPassword(pwd); err != nil {
		return account.Account{}, errAuthenticationFailed
	}
	if !acc.IsActive {
		return account.Account{}, errAccountDeactivated
	}
	return acc, nil
}

func (s *server) getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(s.jwt.ContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func (s *server) getContextAccount(ctx echo.Context) (account.Account, error) {
	claims, err := s.getContextClaims(ctx)
	if err != nil {
		return account.Account{}, errors.Wrap(err, "getting context claims")
	}
	acc, err := s.Accounts.GetByID(claims.Subject)
	if err != nil {
		return account.Account{}, errors.Wrap(err, "finding account by ID")
	}
	return acc, nil
}

func (s *server) refreshToken(ctx echo.Context) (string, error) {
	claims, err := s.getContextClaims(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context claims")
	}

	acc, err := s.getContextAccount(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context account")
	}

	// check if account is still active
	if !acc.IsActive {
		return "", errAccountDeactivated
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(s.jwt.refreshLimit)
	if time.Now().After(expTime) {
		return "", errRefreshExpired
	}

	token, err := s.jwt.generateToken(s.jwt.claims(acc, claims.OrigIssuedAt))
	return token, errors.Wrap(err, "generating token")
}

package middleware

import (
	"errors"
	"net/http"
	"strings"

	"predict-service/internal/model"
	"predict-service/internal/tenant"
	"predict-service/pkg/jwtutil"
	"predict-service/pkg/logger"
	"predict-service/prometheus"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Context keys set by the middleware chain.
const (
	CallerKey  = "caller"
	AccountKey = "account"
)

// Authenticate validates the Bearer token and resolves the caller record.
// Every failure mode collapses to 401 externally but carries a distinct
// reason code on the auth error counter. Authentication always runs before
// any tenant or existence check: an invalid token must yield 401, never
// 403 or 404.
func Authenticate(dir *tenant.Directory) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromContext(c)

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				log.Error("Missing Authorization header")
				prometheus.RecordAuthError("missing_token")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization token"})
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				log.Error("Invalid Authorization header format")
				prometheus.RecordAuthError("invalid_auth_format")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid authorization format, expected Bearer token"})
			}

			claims, err := jwtutil.ValidateToken(parts[1])
			if err != nil {
				reason := "invalid_token"
				if errors.Is(err, jwt.ErrTokenExpired) {
					reason = "token_expired"
				}
				log.Error("Invalid JWT token", zap.Error(err))
				prometheus.RecordAuthError(reason)
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}

			caller, err := dir.CallerByIdentity(c.Request().Context(), claims.Identity)
			if err != nil {
				log.Error("Caller not found for valid token", zap.String("identity", claims.Identity))
				prometheus.RecordAuthError("caller_unknown")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}

			// An inactive caller fails authentication regardless of
			// credential validity.
			if !caller.Active {
				log.Error("Inactive caller", zap.String("identity", caller.Identity))
				prometheus.RecordAuthError("caller_inactive")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}

			c.Set(CallerKey, caller)
			return next(c)
		}
	}
}

// RequireAccountAccess resolves the :username route parameter through the
// tenant directory and enforces company ownership. Registered strictly
// after Authenticate, so 403/404 are only reachable with a valid
// credential.
func RequireAccountAccess(dir *tenant.Directory) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromContext(c)

			caller := CallerFromContext(c)
			if caller == nil {
				log.Error("Account access check without authenticated caller")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization token"})
			}

			handle := c.Param("username")
			account, err := dir.AccountByHandle(c.Request().Context(), handle)
			if err != nil {
				if errors.Is(err, tenant.ErrAccountNotFound) {
					return c.JSON(http.StatusNotFound, echo.Map{"error": "account not found"})
				}
				log.Error("Account lookup failed", zap.Error(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "account lookup failed"})
			}

			if err := dir.Authorize(caller, account); err != nil {
				log.Warn("Cross-tenant access denied",
					zap.String("identity", caller.Identity),
					zap.String("account", handle),
					zap.Uint("caller_company", caller.CompanyID),
					zap.Uint("owner_company", account.CompanyID))
				prometheus.RecordForbidden(caller.CompanyID)
				return c.JSON(http.StatusForbidden, echo.Map{"error": "access denied to account " + handle})
			}

			c.Set(AccountKey, account)
			return next(c)
		}
	}
}

// RequireWriter rejects read-only callers. Registered on every mutating
// route: a viewer can inspect models and predictions but never train,
// activate or delete.
func RequireWriter(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller := CallerFromContext(c)
		if caller == nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization token"})
		}
		if caller.Role == model.RoleViewer {
			prometheus.RecordForbidden(caller.CompanyID)
			return c.JSON(http.StatusForbidden, echo.Map{"error": "role viewer is read-only"})
		}
		return next(c)
	}
}

// RequireAdmin gates a route on the admin role.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller := CallerFromContext(c)
		if caller == nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization token"})
		}
		if caller.Role != model.RoleAdmin {
			prometheus.RecordForbidden(caller.CompanyID)
			return c.JSON(http.StatusForbidden, echo.Map{"error": "admin role required"})
		}
		return next(c)
	}
}

// CallerFromContext returns the authenticated caller, or nil.
func CallerFromContext(c echo.Context) *model.Caller {
	caller, _ := c.Get(CallerKey).(*model.Caller)
	return caller
}

// AccountFromContext returns the resolved managed account, or nil.
func AccountFromContext(c echo.Context) *model.ManagedAccount {
	account, _ := c.Get(AccountKey).(*model.ManagedAccount)
	return account
}

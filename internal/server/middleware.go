package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/toneill57/muva-chat-sub006/internal/guestauth"
	"github.com/toneill57/muva-chat-sub006/internal/tenant"
)

const (
	scopeContextKey = "tenant_scope"
	grantContextKey = "guest_grant"

	sessionCookieName = "guest_session"

	// tenantHeader overrides Host-based resolution, for clients behind
	// proxies that rewrite the Host header.
	tenantHeader = "X-Tenant-Subdomain"
)

// tenantMiddleware resolves the request's tenant from the subdomain header
// or the Host and stores the resolved scope in the request context. An
// unresolvable tenant is a 404, distinct from any auth failure.
func (s *Server) tenantMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		var (
			scope tenant.Resolved
			err   error
		)
		if slug := strings.TrimSpace(c.Request().Header.Get(tenantHeader)); slug != "" {
			scope, err = s.deps.Resolver.Resolve(ctx, slug)
		} else {
			scope, err = s.deps.Resolver.ResolveHost(ctx, c.Request().Host)
		}
		if err != nil {
			if errors.Is(err, tenant.ErrNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "unknown tenant")
			}
			s.logger.Error("tenant resolution failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "tenant resolution failed")
		}

		c.Set(scopeContextKey, scope)
		return next(c)
	}
}

// sessionMiddleware verifies the guest session token and checks it against
// the resolved tenant. Any failure clears the session cookie so the client
// returns to the login screen instead of looping.
func (s *Server) sessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		scope := requestScope(c)

		token := bearerToken(c)
		if token == "" {
			if cookie, err := c.Cookie(sessionCookieName); err == nil {
				token = cookie.Value
			}
		}
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "session required")
		}

		session, err := s.deps.Authenticator.Verify(token)
		if err != nil {
			s.clearSessionCookie(c)
			if errors.Is(err, guestauth.ErrTokenExpired) {
				return echo.NewHTTPError(http.StatusUnauthorized, "session expired")
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
		}

		grant, err := s.deps.Authenticator.Authorize(session, scope)
		if err != nil {
			// Cross-tenant replay; the authenticator already logged it.
			s.clearSessionCookie(c)
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
		}

		c.Set(grantContextKey, grant)
		return next(c)
	}
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

func requestScope(c echo.Context) tenant.Resolved {
	return c.Get(scopeContextKey).(tenant.Resolved)
}

func requestGrant(c echo.Context) guestauth.Grant {
	return c.Get(grantContextKey).(guestauth.Grant)
}

func (s *Server) setSessionCookie(c echo.Context, token string, expires time.Time) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

package middleware

import (
	"context"
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/ortto-dashboard/internal/domain"
	"github.com/totegamma/ortto-dashboard/internal/present/rest/presenter"
	"github.com/totegamma/ortto-dashboard/internal/service"
)

var tracer = otel.Tracer("auth")

type AuthMiddleware struct {
	auth *service.AuthService
}

func NewAuthMiddleware(auth *service.AuthService) *AuthMiddleware {
	return &AuthMiddleware{auth: auth}
}

// IdentifyIdentity puts the requester's user ID into the request context.
// Without a configured provider every request is the default principal.
func (s *AuthMiddleware) IdentifyIdentity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := tracer.Start(c.Request().Context(), "Auth.Middleware.IdentifyIdentity")
		defer span.End()

		userID := domain.DefaultPrincipal
		if s.auth.Enabled() {
			token, err := bearerToken(c.Request().Header.Get("Authorization"))
			if err != nil {
				span.RecordError(err)
				return presenter.Unauthorized(c, err.Error())
			}

			result, err := s.auth.AuthJwt(ctx, token)
			if err != nil {
				span.RecordError(errors.Wrap(err, "AuthMiddleware.IdentifyIdentity: s.auth.AuthJwt failed"))
				return presenter.Unauthorized(c, "invalid token")
			}
			userID = result.UserID
		}

		ctx = context.WithValue(ctx, domain.RequesterIdCtxKey, userID)
		span.SetAttributes(attribute.String("RequesterId", userID))
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("missing authorization header")
	}
	authType, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(authType, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("only Bearer is acceptable")
	}
	return strings.TrimSpace(token), nil
}

// RequesterID returns the user the request was authenticated as.
func RequesterID(ctx context.Context) string {
	if id, ok := ctx.Value(domain.RequesterIdCtxKey).(string); ok && id != "" {
		return id
	}
	return domain.DefaultPrincipal
}

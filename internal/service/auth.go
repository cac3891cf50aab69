package service

import (
	"context"
	"crypto/rsa"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/totegamma/ortto-dashboard/internal/domain"
)

var tracer = otel.Tracer("auth")

type AuthService struct {
	config    domain.AuthConfig
	secret    []byte
	publicKey *rsa.PublicKey
}

func NewAuthService(config domain.AuthConfig) (*AuthService, error) {
	s := &AuthService{config: config}
	if config.Secret != "" {
		s.secret = []byte(config.Secret)
	}
	if config.PublicKeyFile != "" {
		pem, err := os.ReadFile(config.PublicKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "read jwt public key")
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
		if err != nil {
			return nil, errors.Wrap(err, "parse jwt public key")
		}
		s.publicKey = key
	}
	return s, nil
}

// Enabled reports whether tokens are verified at all.
func (s *AuthService) Enabled() bool {
	return s.config.Enabled()
}

type AuthResult struct {
	UserID string
}

type claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id,omitempty"`
}

func (s *AuthService) AuthJwt(ctx context.Context, token string) (*AuthResult, error) {
	_, span := tracer.Start(ctx, "Auth.Service.AuthJwt")
	defer span.End()

	if !s.Enabled() {
		return &AuthResult{UserID: domain.DefaultPrincipal}, nil
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(s.methods())}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	if s.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.config.Audience))
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c, s.key, opts...)
	if err != nil {
		span.RecordError(errors.Wrap(err, "jwt validation failed"))
		return nil, err
	}

	userID := c.Subject
	if userID == "" {
		userID = c.UserID
	}
	if userID == "" {
		err := fmt.Errorf("token has no subject")
		span.RecordError(err)
		return nil, err
	}
	return &AuthResult{UserID: userID}, nil
}

func (s *AuthService) methods() []string {
	var methods []string
	if s.secret != nil {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if s.publicKey != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	return methods
}

func (s *AuthService) key(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if s.secret != nil {
			return s.secret, nil
		}
	case *jwt.SigningMethodRSA:
		if s.publicKey != nil {
			return s.publicKey, nil
		}
	}
	return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
}

// Package middleware provides the HTTP middleware chain for the gateway.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/entity_gateway/internal/errors"
	"github.com/R3E-Network/entity_gateway/internal/httputil"
	"github.com/R3E-Network/entity_gateway/internal/logging"
	"github.com/R3E-Network/entity_gateway/internal/tenant"
)

type claimsCtxKey struct{}

// Claims is the JWT payload accepted by the gateway. Token issuance is an
// external collaborator's concern; the gateway only verifies and copies.
type Claims struct {
	UserID   string   `json:"user_id"`
	TenantID string   `json:"tenant_id,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Service  string   `json:"service,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware verifies bearer tokens and attaches the resulting claims to
// the request context. Requests without an Authorization header pass through
// unauthenticated; role-gated actions then fail in the authorization check.
type AuthMiddleware struct {
	secret []byte
	logger *logging.Logger
}

// NewAuthMiddleware creates a middleware verifying HMAC-signed tokens.
func NewAuthMiddleware(secret []byte, logger *logging.Logger) *AuthMiddleware {
	return &AuthMiddleware{secret: secret, logger: logger}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			next.ServeHTTP(w, r)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteError(w, r, errors.Unauthorized("invalid Authorization header format"))
			return
		}

		claims, err := m.validateToken(parts[1])
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("token validation failed")
			httputil.WriteError(w, r, err)
			return
		}

		ctx := WithClaims(r.Context(), &tenant.Claims{
			UserID:   claims.UserID,
			TenantID: claims.TenantID,
			Roles:    claims.Roles,
			Service:  claims.Service,
		})
		ctx = logging.WithUserID(ctx, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Unauthorized("unexpected signing method").WithDetails("method", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, errors.Unauthorized("invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.Unauthorized("invalid token")
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	return claims, nil
}

// WithClaims stores verified claims in ctx. Exposed for tests and for
// deployments that terminate authentication upstream.
func WithClaims(ctx context.Context, claims *tenant.Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey{}, claims)
}

// GetClaims returns the verified claims stored in ctx, or nil.
func GetClaims(ctx context.Context) *tenant.Claims {
	if claims, ok := ctx.Value(claimsCtxKey{}).(*tenant.Claims); ok {
		return claims
	}
	return nil
}

package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"marketplace-settlement/errors"
	"marketplace-settlement/http/response"
	"marketplace-settlement/services"

	"github.com/golang-jwt/jwt/v5"
)

type actorKey struct{}

// Claims are the JWT claims the API accepts. The subject is the actor id.
type Claims struct {
	Role          string `json:"role"`
	InstitutionID string `json:"institution_id,omitempty"`
	jwt.RegisteredClaims
}

// SignToken issues an HS256 token for actor.
func SignToken(secret string, actor services.Actor, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.E(errors.Invalid, "JWT secret is not configured")
	}
	now := time.Now()
	claims := Claims{
		Role:          actor.Role,
		InstitutionID: actor.InstitutionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates tokenStr and returns the actor it names.
func ParseToken(secret, tokenStr string) (services.Actor, error) {
	if secret == "" {
		return services.Actor{}, errors.E(errors.Unauthorized, "authentication is not configured")
	}
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return services.Actor{}, errors.E(errors.Unauthorized, "invalid token", err)
	}
	if claims.Subject == "" || claims.Role == "" {
		return services.Actor{}, errors.E(errors.Unauthorized, "token has no subject or role")
	}
	return services.Actor{
		ID:            claims.Subject,
		Role:          strings.ToUpper(claims.Role),
		InstitutionID: claims.InstitutionID,
	}, nil
}

// Authenticate requires a bearer token and stores the actor in the request
// context.
func Authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			parts := strings.Fields(auth)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				response.ErrorResponse(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}
			actor, err := ParseToken(secret, parts[1])
			if err != nil {
				response.FromError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// RequireAdmin rejects authenticated non-admin actors.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFrom(r.Context())
		if !ok {
			response.ErrorResponse(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if actor.Role != services.RoleAdmin {
			response.ErrorResponse(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithActor(ctx context.Context, actor services.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) (services.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(services.Actor)
	return actor, ok
}

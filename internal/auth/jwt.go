// Package auth turns a Bearer JWT into the models.Actor recorded on reviews and milestones.
package auth

import (
	"context"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/FreightDesk/internal/models"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type claims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type actorKey struct{}

func WithActor(ctx context.Context, a models.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the caller, or an anonymous actor when none was attached.
func ActorFromContext(ctx context.Context) models.Actor {
	a, _ := ctx.Value(actorKey{}).(models.Actor)
	return a
}

// ParseAuthorization validates an "Authorization: Bearer <jwt>" value.
func ParseAuthorization(header, secret string) (models.Actor, error) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return models.Actor{}, errors.Wrap(ErrUnauthenticated, "invalid authorization header")
	}
	return ParseToken(strings.TrimSpace(parts[1]), secret)
}

func ParseToken(tokenStr, secret string) (models.Actor, error) {
	if secret == "" {
		return models.Actor{}, errors.New("jwt secret is empty")
	}

	tok, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return models.Actor{}, errors.Wrap(ErrUnauthenticated, err.Error())
	}
	c, _ := tok.Claims.(*claims)
	if c == nil || strings.TrimSpace(c.Name) == "" {
		return models.Actor{}, errors.Wrap(ErrUnauthenticated, "invalid claims")
	}
	return models.Actor{Name: c.Name, Role: strings.ToLower(c.Role)}, nil
}

// IssueToken signs an HS256 token for a; used by tests and local tooling.
func IssueToken(secret string, a models.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Name: a.Name,
		Role: a.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
	return s, errors.Wrap(err, "sign token")
}

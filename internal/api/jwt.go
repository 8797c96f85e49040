package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trainhub/internal/booking"
	"trainhub/internal/config"
	"trainhub/internal/models"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Claims identify the acting user. Sub is the numeric user id.
type Claims struct {
	Sub   string `json:"sub"`
	Role  string `json:"role"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid or expired token")
)

// ActorAuth issues and verifies HS256 bearer tokens.
type ActorAuth struct {
	secret []byte
	issuer string
}

func NewActorAuth(cfg config.JWTConfig) *ActorAuth {
	return &ActorAuth{secret: []byte(cfg.Secret), issuer: cfg.Issuer}
}

// CreateAccessToken signs a token for userID valid for ttl.
func (a *ActorAuth) CreateAccessToken(userID int64, role, email string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := Claims{
		Sub:   strconv.FormatInt(userID, 10),
		Role:  role,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *ActorAuth) ParseValidate(tokenStr string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, errInvalidToken
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, errInvalidToken
	}
	return c, nil
}

// Actor converts verified claims into the acting user.
func (c *Claims) Actor() (booking.Actor, error) {
	id, err := strconv.ParseInt(c.Sub, 10, 64)
	if err != nil || id <= 0 {
		return booking.Actor{}, fmt.Errorf("%w: bad subject", errInvalidToken)
	}
	switch c.Role {
	case models.RoleClient, models.RoleTrainer, models.RoleAdmin:
	default:
		return booking.Actor{}, fmt.Errorf("%w: unknown role %q", errInvalidToken, c.Role)
	}
	return booking.Actor{ID: id, Role: c.Role}, nil
}

func (a *ActorAuth) actorFromRequest(r *http.Request) (booking.Actor, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return booking.Actor{}, errMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return booking.Actor{}, errMissingToken
	}
	claims, err := a.ParseValidate(strings.TrimSpace(parts[1]))
	if err != nil {
		return booking.Actor{}, err
	}
	return claims.Actor()
}

type actorKey struct{}

// Require rejects requests without a valid bearer token and stores the
// actor in the request context.
func (a *ActorAuth) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.actorFromRequest(r)
		if err != nil {
			msg := errInvalidToken.Error()
			if errors.Is(err, errMissingToken) {
				msg = errMissingToken.Error()
			}
			writeError(w, http.StatusUnauthorized, kindUnauthenticated, msg)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	}
}

func actorFromContext(ctx context.Context) booking.Actor {
	actor, _ := ctx.Value(actorKey{}).(booking.Actor)
	return actor
}

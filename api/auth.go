package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/loyalty-engine/ledger"
)

var (
	ErrMissingToken = errors.New("authorization header required")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the bearer token payload. Tokens are issued elsewhere; this
// package only verifies them.
type Claims struct {
	ID   int64  `json:"id"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ParseToken verifies an HS256 token and returns its claims.
func ParseToken(tokenString, secret string) (*Claims, error) {
	if secret == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid || claims.ID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

type actorKey struct{}

// ActorFrom returns the authenticated caller stored by Authenticate.
func ActorFrom(ctx context.Context) (ledger.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(ledger.Actor)
	return a, ok
}

func withActor(ctx context.Context, a ledger.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// Authenticate verifies the bearer token and loads the caller's account.
// The role comes from the stored account, not the token, so role changes
// apply to tokens already issued.
func (h *Handler) Authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, http.StatusUnauthorized, "Unauthorized", ErrMissingToken)
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
				writeError(w, http.StatusUnauthorized, "Unauthorized", ErrInvalidToken)
				return
			}

			claims, err := ParseToken(strings.TrimSpace(parts[1]), secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Unauthorized", err)
				return
			}
			acct, err := h.Engine.GetAccount(r.Context(), claims.ID)
			if err != nil {
				if ledger.IsNotFound(err) {
					writeError(w, http.StatusUnauthorized, "Unauthorized", ErrInvalidToken)
					return
				}
				h.writeLedgerError(w, "authenticate", err)
				return
			}

			actor := ledger.Actor{ID: acct.ID, Role: acct.Role}
			next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
		})
	}
}

// actor returns the caller; Authenticate guarantees it is present on /api.
func actor(r *http.Request) ledger.Actor {
	a, _ := ActorFrom(r.Context())
	return a
}

package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/ariefcatur/evcharge-reservations/internal/reservations"
	"github.com/golang-jwt/jwt/v5"
)

type ctxKey struct{}

// ActorFrom returns the actor resolved by Authenticate.
func ActorFrom(ctx context.Context) reservations.Actor {
	a, _ := ctx.Value(ctxKey{}).(reservations.Actor)
	return a
}

// Authenticate validates an HS256 bearer token and stores the actor in the
// request context: sub is the subject id, role "admin" grants the
// administrator capability.
func Authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
				return
			}
			tok, err := jwt.Parse(strings.TrimPrefix(auth, "Bearer "), func(t *jwt.Token) (any, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !tok.Valid {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				return
			}
			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid claims"})
				return
			}
			sub, _ := claims.GetSubject()
			if sub == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing subject"})
				return
			}
			role, _ := claims["role"].(string)
			actor := reservations.Actor{ID: sub, Admin: role == "admin"}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, actor)))
		})
	}
}

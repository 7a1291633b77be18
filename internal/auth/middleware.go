package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/sundayezeilo/shortlink/internal/httpx"
)

type ownerContextKey struct{}

// WithOwner stores the authenticated owner in ctx.
func WithOwner(ctx context.Context, owner uuid.UUID) context.Context {
	return context.WithValue(ctx, ownerContextKey{}, owner)
}

// OwnerFromContext returns the owner set by Authenticate, if any.
func OwnerFromContext(ctx context.Context) (uuid.UUID, bool) {
	owner, ok := ctx.Value(ownerContextKey{}).(uuid.UUID)
	return owner, ok && owner != uuid.Nil
}

// Authenticate resolves an optional bearer token. Requests without one pass
// through anonymously; a token that does not verify is rejected.
func Authenticate(keys *Keys) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if errors.Is(err, ErrMissingToken) {
				next.ServeHTTP(w, r)
				return
			}
			if err == nil {
				var owner uuid.UUID
				if owner, err = keys.Verify(token); err == nil {
					next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
					return
				}
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="shortlink"`)
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", err.Error(), nil)
		})
	}
}

// RequireOwner rejects requests Authenticate left anonymous.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := OwnerFromContext(r.Context()); !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="shortlink"`)
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", ErrMissingToken.Error(), nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrInvalidToken
	}
	return strings.TrimSpace(token), nil
}

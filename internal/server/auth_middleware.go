package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/shiftsync/shiftsync/internal/auth"
)

type identityKey struct{}

// withAuth verifies the bearer token and stores the caller identity in the
// request context. Missing or invalid tokens get 401 before the handler
// runs.
func (s *HTTPServer) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.verifier.Verify(bearerToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, err.Error(), "")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	}
}

func identityFrom(ctx context.Context) auth.Identity {
	id, _ := ctx.Value(identityKey{}).(auth.Identity)
	return id
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	// websocket dials cannot set headers from the browser; fall back to
	// the query parameter
	return r.URL.Query().Get("token")
}

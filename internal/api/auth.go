package api

import (
	"net/http"
	"strings"

	"pickupopt/internal/auth"
)

// getPrincipal extracts the caller from a bearer token, or from the X-Role
// header when the verifier runs in dev mode. Dev mode defaults to admin.
func (s *Server) getPrincipal(r *http.Request) (auth.Principal, bool) {
	if s.Auth.DevMode() {
		role := r.Header.Get(s.Auth.RoleHeader())
		if role == "" {
			role = auth.RoleAdmin
		}
		return auth.Principal{Subject: "dev", Role: role}, true
	}
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return auth.Principal{}, false
	}
	p, err := s.Auth.Verify(strings.TrimSpace(authz[len("Bearer "):]))
	if err != nil {
		return auth.Principal{}, false
	}
	return p, true
}

// requireAdmin writes a problem and returns false unless the caller is an admin.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	p, ok := s.getPrincipal(r)
	if !ok {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "bearer token required", r.URL.Path)
		return false
	}
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return false
	}
	return true
}

// Package api implements HTTP handlers and helpers for the cluvrp service.
package api

import (
	"errors"
	"net/http"

	"cluvrp/internal/auth"
)

// devPrincipal acts for requests without a token in dev mode.
var devPrincipal = auth.Principal{Subject: "dev", Role: "admin"}

// principal resolves the caller. Dev mode accepts missing tokens; other
// modes require a valid bearer token.
func (s *Server) principal(r *http.Request) (auth.Principal, error) {
	tok, err := auth.BearerToken(r.Header.Get("Authorization"))
	if errors.Is(err, auth.ErrMissingToken) && s.Auth.Dev() {
		return devPrincipal, nil
	}
	if err != nil {
		return auth.Principal{}, err
	}
	return s.Auth.Verify(tok)
}

// requireWriter gates mutating endpoints and writes the 401 itself.
func (s *Server) requireWriter(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, err := s.principal(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="cluvrp"`)
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
		return p, false
	}
	return p, true
}

func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	p, ok := s.requireWriter(w, r)
	if !ok {
		return false
	}
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return false
	}
	return true
}

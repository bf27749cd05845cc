// Package authmw provides HTTP middleware for bearer token authentication
// with a small set of roles.
package authmw

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// Role is what a token grants.
type Role string

const (
	RoleValidator Role = "validador"
	RoleAdmin     Role = "admin"
)

// satisfies reports whether a caller holding r may act as want. Admins can
// do everything a validator can.
func (r Role) satisfies(want Role) bool {
	return r == want || r == RoleAdmin
}

type ctxKey struct{}

type credential struct {
	role  Role
	token []byte
}

// Bearer returns middleware that checks the Authorization header against the
// configured tokens and stores the matching role in the request context.
// Roles with an empty token are never matched. Comparison uses
// constant-time equality.
func Bearer(tokens map[Role]string) func(http.Handler) http.Handler {
	creds := make([]credential, 0, len(tokens))
	// admin first so a shared token resolves to the wider role
	for _, role := range []Role{RoleAdmin, RoleValidator} {
		if tok := tokens[role]; tok != "" {
			creds = append(creds, credential{role: role, token: []byte(tok)})
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
				return
			}

			got := []byte(auth[len("Bearer "):])

			var role Role
			for _, c := range creds {
				if subtle.ConstantTimeCompare(got, c.token) == 1 && role == "" {
					role = c.role
				}
			}
			if role == "" {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithRole(r.Context(), role)))
		})
	}
}

// Require returns middleware that rejects requests whose role does not
// satisfy want with 403. It must run after Bearer.
func Require(want Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := RoleFrom(r.Context())
			if !ok || !role.satisfies(want) {
				http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithRole returns a copy of ctx carrying role.
func WithRole(ctx context.Context, role Role) context.Context {
	return context.WithValue(ctx, ctxKey{}, role)
}

// RoleFrom returns the role stored by Bearer.
func RoleFrom(ctx context.Context) (Role, bool) {
	r, ok := ctx.Value(ctxKey{}).(Role)
	return r, ok && r != ""
}

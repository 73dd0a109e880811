// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/latticehq/privybridge/pkg/authserver/crypto"
	"github.com/latticehq/privybridge/pkg/logger"
)

// Identity is the authenticated caller attached to the request context by
// RequireBearer.
type Identity struct {
	// Token is the raw bearer token as presented.
	Token string

	// Claims are the verified JWT claims.
	Claims *crypto.AccessTokenClaims

	// UserID is the upstream user the token was issued for (JWT "sub").
	UserID string

	// ClientID is the OAuth client the token was issued to.
	ClientID string

	// Scopes are the granted scopes.
	Scopes []string
}

type identityContextKey struct{}

// IdentityFromContext returns the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	return identity, ok
}

// ContextWithIdentity attaches an identity to the context. Used by the tool
// dispatcher's transport bridging and by tests.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// HasScope reports whether the identity was granted the scope.
func (i *Identity) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// RequireBearer verifies the Authorization bearer token and enforces the
// required scopes. 401 responses carry a WWW-Authenticate challenge pointing
// at the protected-resource metadata; missing scopes yield 403.
func (s *Server) RequireBearer(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := extractBearer(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", resourceMetadataChallenge(s.cfg.IssuerURL))
				writeOAuthError(w, http.StatusUnauthorized, errInvalidToken, "missing bearer token")
				return
			}

			claims, err := s.signer.Verify(raw)
			if err != nil {
				logger.Debugw("bearer verification failed", "error", err)
				w.Header().Set("WWW-Authenticate", resourceMetadataChallenge(s.cfg.IssuerURL))
				writeOAuthError(w, http.StatusUnauthorized, errInvalidToken, "token verification failed")
				return
			}

			identity := &Identity{
				Token:    raw,
				Claims:   claims,
				UserID:   claims.Subject,
				ClientID: claims.ClientID,
				Scopes:   claims.Scopes(),
			}

			for _, required := range requiredScopes {
				if !identity.HasScope(required) {
					writeOAuthError(w, http.StatusForbidden, errInsufficientScope,
						"token is missing required scope "+required)
					return
				}
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearer(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

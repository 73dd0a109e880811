// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/latticehq/privybridge/pkg/authserver/crypto"
	"github.com/latticehq/privybridge/pkg/authserver/storage"
	"github.com/latticehq/privybridge/pkg/logger"
)

// exchangeResponse carries the upstream credential back to the caller.
type exchangeResponse struct {
	UpstreamAccessToken string    `json:"upstreamAccessToken"`
	ExpiresAt           time.Time `json:"expiresAt"`
	IssuedAt            time.Time `json:"issuedAt"`
	UserID              string    `json:"userId"`
	Scope               string    `json:"scope"`
}

// handleCredentialExchange trades a verified bridge access token for the
// Privy credential held by its session row. The bearer middleware has
// already verified signature, issuer, audience, expiry, and scope.
func (s *Server) handleCredentialExchange(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "missing identity")
		return
	}

	jti := identity.Claims.ID
	if jti == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidToken, "token is missing the jti claim")
		return
	}

	session, err := s.store.Sessions().FindByJTI(r.Context(), jti)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeOAuthError(w, http.StatusNotFound, errTokenNotFound, "no session exists for this token")
			return
		}
		logger.Errorw("session lookup failed", "error", err, "jti", jti)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "session lookup failed")
		return
	}

	if session.UpstreamUserID != identity.UserID {
		logger.Warnw("session subject mismatch", "jti", jti)
		writeOAuthError(w, http.StatusBadRequest, errInvalidToken, "token subject does not match the session")
		return
	}
	if time.Now().After(session.ExpiresAt) {
		writeOAuthError(w, http.StatusBadRequest, errInvalidToken, "session has expired")
		return
	}
	if session.UpstreamInvalidAt != nil {
		w.Header().Set("WWW-Authenticate", ReauthChallenge(s.cfg.IssuerURL))
		writeOAuthError(w, http.StatusUnauthorized, errPrivyTokenInvalid, ReauthMessage)
		return
	}

	logger.Debugw("served credential exchange",
		"jti", jti,
		"user_id", session.UpstreamUserID,
		"upstream_token", crypto.TokenPreview(session.UpstreamToken),
	)
	writeJSON(w, http.StatusOK, exchangeResponse{
		UpstreamAccessToken: session.UpstreamToken,
		ExpiresAt:           session.ExpiresAt,
		IssuedAt:            session.CreatedAt,
		UserID:              session.UpstreamUserID,
		Scope:               strings.Join(session.Scopes, " "),
	})
}

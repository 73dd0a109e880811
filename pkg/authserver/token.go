// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/latticehq/privybridge/pkg/authserver/crypto"
	"github.com/latticehq/privybridge/pkg/authserver/storage"
	"github.com/latticehq/privybridge/pkg/logger"
)

// tokenResponse is the OAuth token endpoint success body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "malformed form body")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.handleAuthorizationCodeGrant(w, r)
	case "refresh_token":
		s.handleRefreshTokenGrant(w, r)
	default:
		writeOAuthError(w, http.StatusBadRequest, errUnsupportedGrant,
			"grant_type must be authorization_code or refresh_token")
	}
}

func (s *Server) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	code := r.PostForm.Get("code")
	verifier := r.PostForm.Get("code_verifier")
	clientID := r.PostForm.Get("client_id")
	redirectURI := r.PostForm.Get("redirect_uri")

	// Client-id inference is forbidden; every parameter is mandatory.
	if code == "" || verifier == "" || clientID == "" || redirectURI == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest,
			"code, code_verifier, client_id, and redirect_uri are required")
		return
	}

	ctx := r.Context()
	record, err := s.store.AuthorizationCodes().FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "unknown authorization code")
			return
		}
		logger.Errorw("authorization code lookup failed", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "code lookup failed")
		return
	}

	if !record.Valid(time.Now()) {
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "authorization code is expired or already used")
		return
	}
	if record.ClientID != clientID {
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "authorization code was issued to a different client")
		return
	}
	if record.RedirectURI != redirectURI {
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "redirect_uri does not match the authorization request")
		return
	}
	if !crypto.VerifyPKCE(verifier, record.CodeChallenge) {
		// A failed PKCE proof burns the code: a replay with the correct
		// verifier must also fail.
		if err := s.store.AuthorizationCodes().Delete(ctx, code); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.Warnw("failed to delete authorization code after PKCE mismatch", "error", err)
		}
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "PKCE verification failed")
		return
	}

	// Single use: delete before issuing so a concurrent replay observes
	// invalid_grant.
	if err := s.store.AuthorizationCodes().Delete(ctx, code); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "authorization code is expired or already used")
			return
		}
		logger.Errorw("failed to delete authorization code", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "code exchange failed")
		return
	}

	resp, err := s.issueTokenPair(ctx, record.ClientID, record.UpstreamUserID, record.UpstreamToken, record.Scopes)
	if err != nil {
		logger.Errorw("failed to issue token pair", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "token issuance failed")
		return
	}
	logger.Infow("exchanged authorization code",
		"client_id", record.ClientID,
		"user_id", record.UpstreamUserID,
	)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	raw := r.PostForm.Get("refresh_token")
	clientID := r.PostForm.Get("client_id")

	if raw == "" || clientID == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "refresh_token and client_id are required")
		return
	}

	ctx := r.Context()
	record, err := s.store.RefreshTokens().FindByToken(ctx, raw)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "unknown refresh token")
			return
		}
		logger.Errorw("refresh token lookup failed", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "refresh token lookup failed")
		return
	}

	if !record.Valid(time.Now()) {
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "refresh token is expired or revoked")
		return
	}
	if record.ClientID != clientID {
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "refresh token was issued to a different client")
		return
	}

	// Rotation: the presented token is deleted before the replacement is
	// issued, so concurrent replays of the same token see invalid_grant.
	if err := s.store.RefreshTokens().DeleteByToken(ctx, raw); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "refresh token is expired or revoked")
			return
		}
		logger.Errorw("failed to delete refresh token", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "refresh failed")
		return
	}

	resp, err := s.issueTokenPair(ctx, record.ClientID, record.UpstreamUserID, record.UpstreamToken, record.Scopes)
	if err != nil {
		logger.Errorw("failed to issue token pair", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "token issuance failed")
		return
	}
	logger.Infow("rotated refresh token",
		"client_id", record.ClientID,
		"user_id", record.UpstreamUserID,
	)
	writeJSON(w, http.StatusOK, resp)
}

// issueTokenPair mints a JWT with a fresh jti, writes the backing session
// row, and creates a new refresh token. The upstream credential carries over
// unchanged into both records.
func (s *Server) issueTokenPair(ctx context.Context, clientID, userID, upstreamToken string, scopes []string) (*tokenResponse, error) {
	jti := uuid.NewString()
	accessToken, expiresAt, err := s.signer.Mint(userID, jti, clientID, scopes, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &storage.AccessTokenSession{
		ID:             uuid.NewString(),
		JTI:            jti,
		ClientID:       clientID,
		UpstreamUserID: userID,
		UpstreamToken:  upstreamToken,
		Scopes:         scopes,
		ExpiresAt:      expiresAt,
		CreatedAt:      now,
	}
	if err := s.store.Sessions().Create(ctx, session); err != nil {
		return nil, err
	}

	refreshValue, err := crypto.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	refresh := &storage.RefreshToken{
		ID:             uuid.NewString(),
		Token:          refreshValue,
		ClientID:       clientID,
		UpstreamUserID: userID,
		UpstreamToken:  upstreamToken,
		Scopes:         scopes,
		ExpiresAt:      now.Add(s.cfg.RefreshTokenTTL),
		CreatedAt:      now,
	}
	if err := s.store.RefreshTokens().Create(ctx, refresh); err != nil {
		return nil, err
	}

	return &tokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshValue,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
		Scope:        strings.Join(scopes, " "),
	}, nil
}

// introspectionResponse is the RFC 7662 response shape.
type introspectionResponse struct {
	Active   bool     `json:"active"`
	Sub      string   `json:"sub,omitempty"`
	Scope    string   `json:"scope,omitempty"`
	ClientID string   `json:"client_id,omitempty"`
	Exp      int64    `json:"exp,omitempty"`
	Iat      int64    `json:"iat,omitempty"`
	Iss      string   `json:"iss,omitempty"`
	Aud      []string `json:"aud,omitempty"`
	JTI      string   `json:"jti,omitempty"`
}

// handleIntrospect verifies the presented JWT cryptographically. Any failure
// is reported as {active:false} with HTTP 200 per RFC 7662.
func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "malformed form body")
		return
	}
	raw := r.PostForm.Get("token")
	if raw == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "token is required")
		return
	}

	claims, err := s.signer.Verify(raw)
	if err != nil {
		writeJSON(w, http.StatusOK, introspectionResponse{Active: false})
		return
	}

	resp := introspectionResponse{
		Active:   true,
		Sub:      claims.Subject,
		Scope:    claims.Scope,
		ClientID: claims.ClientID,
		Iss:      claims.Issuer,
		Aud:      claims.Audience,
		JTI:      claims.ID,
	}
	if claims.ExpiresAt != nil {
		resp.Exp = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		resp.Iat = claims.IssuedAt.Unix()
	}
	writeJSON(w, http.StatusOK, resp)
}

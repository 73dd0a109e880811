// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/latticehq/privybridge/pkg/authserver/crypto"
	"github.com/latticehq/privybridge/pkg/authserver/storage"
	"github.com/latticehq/privybridge/pkg/logger"
	"github.com/latticehq/privybridge/pkg/upstream"
)

// consentTemplate is the minimal HTML shell handed to the browser-side
// identity widget. The validated authorization parameters travel as data
// attributes; the widget itself is external.
var consentTemplate = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Sign in</title></head>
<body>
<div id="privy-consent"
     data-client-id="{{.ClientID}}"
     data-redirect-uri="{{.RedirectURI}}"
     data-scope="{{.Scope}}"
     data-state="{{.State}}"
     data-code-challenge="{{.CodeChallenge}}"
     data-code-challenge-method="{{.CodeChallengeMethod}}"
     data-complete-url="{{.CompleteURL}}">
</div>
</body>
</html>
`))

type consentPageData struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	CompleteURL         string
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	state := q.Get("state")

	// Until the redirect URI is proven to belong to the client, errors must
	// not be redirected to it.
	if clientID == "" || redirectURI == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "client_id and redirect_uri are required")
		return
	}
	if _, err := s.store.Clients().FindByIDAndRedirectURI(r.Context(), clientID, redirectURI); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeOAuthError(w, http.StatusBadRequest, errInvalidClient, "unknown client or unregistered redirect_uri")
			return
		}
		logger.Errorw("client lookup failed", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "client lookup failed")
		return
	}

	if q.Get("response_type") != "code" {
		redirectError(w, r, redirectURI, state, errUnsupportedResponse, "only response_type=code is supported")
		return
	}
	if q.Get("code_challenge") == "" {
		redirectError(w, r, redirectURI, state, errInvalidRequest, "code_challenge is required")
		return
	}
	if q.Get("code_challenge_method") != crypto.PKCEChallengeMethodS256 {
		redirectError(w, r, redirectURI, state, errInvalidRequest, "only code_challenge_method=S256 is supported")
		return
	}
	scopes, err := s.resolveScopes(q.Get("scope"))
	if err != nil {
		redirectError(w, r, redirectURI, state, errInvalidScope, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderErr := consentTemplate.Execute(w, consentPageData{
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               strings.Join(scopes, " "),
		State:               state,
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		CompleteURL:         s.cfg.IssuerURL + "/authorize/complete",
	})
	if renderErr != nil {
		logger.Errorw("failed to render consent page", "error", renderErr)
	}
}

// redirectError sends the error back to the client's proven redirect URI.
func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state, code, description string) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "invalid redirect_uri")
		return
	}
	q := u.Query()
	q.Set("error", code)
	q.Set("error_description", description)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// completeRequest is posted by the consent UI once the user has proven their
// identity to the upstream IdP.
type completeRequest struct {
	State               string `json:"state"`
	PrivyToken          string `json:"privy_token"`
	FallbackToken       string `json:"fallback_token,omitempty"`
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope,omitempty"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
}

type completeResponse struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
	State       string `json:"state,omitempty"`
}

func (s *Server) handleAuthorizeComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "malformed completion request")
		return
	}

	if req.ClientID == "" || req.RedirectURI == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "client_id and redirect_uri are required")
		return
	}
	if req.PrivyToken == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "privy_token is required")
		return
	}
	if req.CodeChallenge == "" || req.CodeChallengeMethod != crypto.PKCEChallengeMethodS256 {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "code_challenge with method S256 is required")
		return
	}
	if _, err := s.store.Clients().FindByIDAndRedirectURI(r.Context(), req.ClientID, req.RedirectURI); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeOAuthError(w, http.StatusBadRequest, errInvalidClient, "unknown client or unregistered redirect_uri")
			return
		}
		logger.Errorw("client lookup failed", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "client lookup failed")
		return
	}
	scopes, err := s.resolveScopes(req.Scope)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidScope, err.Error())
		return
	}

	identity, err := s.verifier.VerifyToken(r.Context(), req.PrivyToken, req.FallbackToken)
	if err != nil {
		if errors.Is(err, upstream.ErrUpstreamTokenInvalid) {
			writeOAuthError(w, http.StatusUnauthorized, errInvalidToken, "upstream identity verification failed")
			return
		}
		logger.Errorw("upstream identity verification failed", "error", err,
			"token", crypto.TokenPreview(req.PrivyToken))
		writeOAuthError(w, http.StatusBadGateway, errServerError, "upstream identity verification unavailable")
		return
	}

	codeValue, err := crypto.NewAuthorizationCode()
	if err != nil {
		logger.Errorw("failed to generate authorization code", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "code generation failed")
		return
	}

	now := time.Now().UTC()
	record := &storage.AuthorizationCode{
		Code:                codeValue,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		UpstreamUserID:      identity.UserID,
		UpstreamToken:       req.PrivyToken,
		UpstreamClaims:      identity.Claims,
		Scopes:              scopes,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ExpiresAt:           now.Add(s.cfg.AuthorizationCodeTTL),
		CreatedAt:           now,
	}
	if err := s.store.AuthorizationCodes().Create(r.Context(), record); err != nil {
		logger.Errorw("failed to store authorization code", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "code issuance failed")
		return
	}

	u, err := url.Parse(req.RedirectURI)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "invalid redirect_uri")
		return
	}
	q := u.Query()
	q.Set("code", codeValue)
	if req.State != "" {
		q.Set("state", req.State)
	}
	u.RawQuery = q.Encode()

	logger.Infow("issued authorization code",
		"client_id", req.ClientID,
		"user_id", identity.UserID,
	)
	writeJSON(w, http.StatusOK, completeResponse{
		Code:        codeValue,
		RedirectURI: u.String(),
		State:       req.State,
	})
}

// resolveScopes validates the requested space-joined scope string against
// the supported set, defaulting when the request carries none.
func (s *Server) resolveScopes(requested string) ([]string, error) {
	if strings.TrimSpace(requested) == "" {
		return s.cfg.DefaultScopes, nil
	}
	scopes := strings.Fields(requested)
	for _, scope := range scopes {
		if !containsScope(s.cfg.SupportedScopes, scope) {
			return nil, &scopeError{scope}
		}
	}
	return scopes, nil
}

func containsScope(supported []string, scope string) bool {
	for _, s := range supported {
		if s == scope {
			return true
		}
	}
	return false
}

type scopeError struct{ scope string }

func (e *scopeError) Error() string {
	return "unsupported scope " + e.scope
}

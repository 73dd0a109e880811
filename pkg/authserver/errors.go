// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/latticehq/privybridge/pkg/logger"
)

// OAuth 2.1 error codes used in JSON error bodies.
const (
	errInvalidRequest      = "invalid_request"
	errInvalidGrant        = "invalid_grant"
	errInvalidClient       = "invalid_client"
	errInvalidScope        = "invalid_scope"
	errUnsupportedGrant    = "unsupported_grant_type"
	errUnsupportedResponse = "unsupported_response_type"
	errInvalidToken        = "invalid_token"
	errInsufficientScope   = "insufficient_scope"
	errTokenNotFound       = "token_not_found"
	errPrivyTokenInvalid   = "privy_token_invalid"
	errServerError         = "server_error"
	errInvalidClientMeta   = "invalid_client_metadata"
	errInvalidRedirectURI  = "invalid_redirect_uri"
)

// ReauthMessage is the fixed user-facing text for expired upstream
// connections. It appears in 401 bodies, WWW-Authenticate headers, and tool
// error results.
const ReauthMessage = "Your connection has expired. Please sign in again."

// oauthError is the RFC 6749 error body shape.
type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorw("failed to encode response", "error", err)
	}
}

// writeOAuthError writes an OAuth-shaped JSON error body.
func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, oauthError{Error: code, ErrorDescription: description})
}

// resourceMetadataChallenge is the WWW-Authenticate value attached to every
// 401 from bearer-protected endpoints.
func resourceMetadataChallenge(issuer string) string {
	return fmt.Sprintf(`Bearer resource_metadata=%q`, issuer+"/.well-known/oauth-protected-resource")
}

// ReauthChallenge is the WWW-Authenticate value signalling that the upstream
// credential is invalid and the client must re-run interactive consent.
func ReauthChallenge(issuer string) string {
	return fmt.Sprintf(`Bearer resource_metadata=%q, error="invalid_token", error_description=%q`,
		issuer+"/.well-known/oauth-protected-resource", ReauthMessage)
}

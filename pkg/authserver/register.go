// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/latticehq/privybridge/pkg/authserver/storage"
	"github.com/latticehq/privybridge/pkg/logger"
)

// registrationRequest is the RFC 7591 client metadata accepted at /register.
type registrationRequest struct {
	RedirectURIs  []string `json:"redirect_uris"`
	ClientName    string   `json:"client_name,omitempty"`
	GrantTypes    []string `json:"grant_types,omitempty"`
	ResponseTypes []string `json:"response_types,omitempty"`
	Scope         string   `json:"scope,omitempty"`
}

// registrationResponse is the RFC 7591 registration response. No client
// secret is issued; PKCE is the client authentication method.
type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidClientMeta, "malformed registration request")
		return
	}

	if len(req.RedirectURIs) == 0 {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRedirectURI, "redirect_uris must not be empty")
		return
	}
	for _, raw := range req.RedirectURIs {
		if err := s.validateRedirectURI(raw); err != nil {
			writeOAuthError(w, http.StatusBadRequest, errInvalidRedirectURI, err.Error())
			return
		}
	}

	for _, gt := range req.GrantTypes {
		if gt != "authorization_code" && gt != "refresh_token" {
			writeOAuthError(w, http.StatusBadRequest, errInvalidClientMeta,
				"unsupported grant type "+gt)
			return
		}
	}
	for _, rt := range req.ResponseTypes {
		if rt != "code" {
			writeOAuthError(w, http.StatusBadRequest, errInvalidClientMeta,
				"unsupported response type "+rt)
			return
		}
	}

	now := time.Now().UTC()
	client := &storage.Client{
		ID:           uuid.NewString(),
		DisplayName:  req.ClientName,
		RedirectURIs: req.RedirectURIs,
		CreatedAt:    now,
	}
	if err := s.store.Clients().Upsert(r.Context(), client); err != nil {
		logger.Errorw("failed to store registered client", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "registration failed")
		return
	}

	logger.Infow("registered client", "client_id", client.ID, "client_name", client.DisplayName)
	writeJSON(w, http.StatusCreated, registrationResponse{
		ClientID:                client.ID,
		ClientIDIssuedAt:        now.Unix(),
		ClientName:              client.DisplayName,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
	})
}

// validateRedirectURI checks syntactic validity and the HTTPS requirement.
// Developer mode allows plain HTTP for loopback-style development setups.
func (s *Server) validateRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return &redirectURIError{raw, "not a valid absolute URL"}
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if s.cfg.DevMode {
			return nil
		}
		return &redirectURIError{raw, "https is required"}
	default:
		return &redirectURIError{raw, "unsupported scheme " + u.Scheme}
	}
}

type redirectURIError struct {
	uri    string
	reason string
}

func (e *redirectURIError) Error() string {
	return "invalid redirect URI " + e.uri + ": " + e.reason
}

// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package upstream provides the typed client for the Privy identity and
// discovery API, plus the local credential-exchange call. Authentication
// failures from Privy are classified distinctly so callers can trigger
// reauth instead of retrying.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/latticehq/privybridge/pkg/authserver/crypto"
	"github.com/latticehq/privybridge/pkg/logger"
)

// maxResponseBytes bounds how much of an upstream response body is read.
const maxResponseBytes = 1 << 20

// Config holds the upstream client settings.
type Config struct {
	// APIBaseURL is the Privy API origin, e.g. https://api.privy.example.com.
	APIBaseURL string

	// ExchangeURL is the local credential-exchange endpoint that trades a
	// bridge access token for the Privy credential.
	ExchangeURL string

	// APITimeout applies to Privy API calls. Default 60s.
	APITimeout time.Duration

	// ExchangeTimeout applies to the credential exchange. Default 10s.
	ExchangeTimeout time.Duration
}

// Client calls the Privy API and the local credential-exchange endpoint.
type Client struct {
	apiBaseURL     string
	exchangeURL    string
	apiClient      *http.Client
	exchangeClient *http.Client
}

// NewClient creates a Client from cfg, applying default timeouts.
func NewClient(cfg Config) *Client {
	apiTimeout := cfg.APITimeout
	if apiTimeout <= 0 {
		apiTimeout = 60 * time.Second
	}
	exchangeTimeout := cfg.ExchangeTimeout
	if exchangeTimeout <= 0 {
		exchangeTimeout = 10 * time.Second
	}
	return &Client{
		apiBaseURL:     strings.TrimSuffix(cfg.APIBaseURL, "/"),
		exchangeURL:    cfg.ExchangeURL,
		apiClient:      &http.Client{Timeout: apiTimeout},
		exchangeClient: &http.Client{Timeout: exchangeTimeout},
	}
}

// Identity is the verified Privy identity returned by VerifyToken.
type Identity struct {
	UserID string         `json:"userId"`
	Claims map[string]any `json:"claims"`
}

// ExchangedToken is the credential returned by the exchange endpoint.
type ExchangedToken struct {
	UpstreamAccessToken string    `json:"upstreamAccessToken"`
	ExpiresAt           time.Time `json:"expiresAt"`
	IssuedAt            time.Time `json:"issuedAt"`
	UserID              string    `json:"userId"`
	Scope               string    `json:"scope"`
}

// Intent is one extracted connection intent.
type Intent struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// IntentExtraction is the result of extracting intents from input text.
type IntentExtraction struct {
	Intents          []Intent `json:"intents"`
	FilesProcessed   int      `json:"filesProcessed"`
	LinksProcessed   int      `json:"linksProcessed"`
	IntentsGenerated int      `json:"intentsGenerated"`
}

// CandidateUser is the public profile of a discovered candidate.
type CandidateUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Candidate is one filter result: a user plus the intents matched.
type Candidate struct {
	User      CandidateUser `json:"user"`
	IntentIDs []string      `json:"intentIds"`
}

// Pagination describes the filter result page.
type Pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"hasNext"`
}

// FilterRequest selects candidates matching the given intents.
type FilterRequest struct {
	IntentIDs         []string `json:"intentIds"`
	ExcludeDiscovered bool     `json:"excludeDiscovered"`
	Page              int      `json:"page"`
	Limit             int      `json:"limit"`
}

// FilterResult is one page of candidates.
type FilterResult struct {
	Results    []Candidate `json:"results"`
	Pagination Pagination  `json:"pagination"`
}

// SynthesisRequest asks for an introduction synthesis for one candidate.
type SynthesisRequest struct {
	TargetUserID   string   `json:"targetUserId"`
	IntentIDs      []string `json:"intentIds"`
	CharacterLimit int      `json:"characterLimit,omitempty"`
}

// SynthesisResult carries the generated synthesis text.
type SynthesisResult struct {
	Synthesis    string `json:"synthesis"`
	TargetUserID string `json:"targetUserId"`
}

// VerifyToken proves a Privy token by calling GET /v1/me. When the primary
// token fails verification and fallbackToken is non-empty, the fallback is
// tried before rejecting.
func (c *Client) VerifyToken(ctx context.Context, privyToken, fallbackToken string) (*Identity, error) {
	identity, err := c.verifyOnce(ctx, privyToken)
	if err == nil {
		return identity, nil
	}
	if fallbackToken == "" || !errors.Is(err, ErrUpstreamTokenInvalid) {
		return nil, err
	}
	logger.Debugw("primary upstream token rejected, trying fallback",
		"token", crypto.TokenPreview(privyToken))
	return c.verifyOnce(ctx, fallbackToken)
}

func (c *Client) verifyOnce(ctx context.Context, token string) (*Identity, error) {
	var identity Identity
	if err := c.doAPI(ctx, http.MethodGet, "/v1/me", token, nil, &identity); err != nil {
		return nil, err
	}
	if identity.UserID == "" {
		return nil, &Error{Status: http.StatusOK, Message: "verification response missing userId"}
	}
	return &identity, nil
}

// ExchangeToken trades the bridge's own bearer token for the Privy
// credential via the local credential-exchange endpoint.
func (c *Client) ExchangeToken(ctx context.Context, oauthBearer string) (*ExchangedToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.exchangeURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build exchange request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+oauthBearer)

	resp, err := c.exchangeClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read exchange response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		var eb errorBody
		_ = json.Unmarshal(body, &eb)
		if eb.Error == "privy_token_invalid" || eb.indicatesInvalidToken() {
			return nil, ErrUpstreamTokenInvalid
		}
		return nil, &Error{Status: resp.StatusCode, Message: eb.text()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(body, &eb)
		return nil, &Error{Status: resp.StatusCode, Message: eb.text()}
	}

	var token ExchangedToken
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to decode exchange response: %w", err)
	}
	logger.Debugw("exchanged bearer for upstream credential",
		"user_id", token.UserID,
		"upstream_token", crypto.TokenPreview(token.UpstreamAccessToken))
	return &token, nil
}

// ExtractIntents posts the input text to the discovery intent extractor.
func (c *Client) ExtractIntents(ctx context.Context, upstreamBearer, text string) (*IntentExtraction, error) {
	var result IntentExtraction
	payload := map[string]string{"text": text}
	if err := c.doAPI(ctx, http.MethodPost, "/v1/discover/new", upstreamBearer, payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FilterCandidates returns one page of candidates matching the intents.
func (c *Client) FilterCandidates(ctx context.Context, upstreamBearer string, req FilterRequest) (*FilterResult, error) {
	if req.Limit > 100 {
		req.Limit = 100
	}
	var result FilterResult
	if err := c.doAPI(ctx, http.MethodPost, "/v1/discover/filter", upstreamBearer, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Synthesize generates the introduction text for one candidate.
func (c *Client) Synthesize(ctx context.Context, upstreamBearer string, req SynthesisRequest) (*SynthesisResult, error) {
	var result SynthesisResult
	if err := c.doAPI(ctx, http.MethodPost, "/v1/discover/synthesize", upstreamBearer, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// doAPI issues one Privy API call and decodes the response into out.
// 401/403 responses whose body names an invalid or expired token map to
// ErrUpstreamTokenInvalid; other non-2xx map to *Error.
func (c *Client) doAPI(ctx context.Context, method, path, bearer string, payload, out any) error {
	var reqBody io.Reader = http.NoBody
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.apiClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read upstream response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		var eb errorBody
		_ = json.Unmarshal(body, &eb)
		if eb.indicatesInvalidToken() {
			logger.Debugw("upstream rejected credential",
				"path", path, "status", resp.StatusCode,
				"upstream_token", crypto.TokenPreview(bearer))
			return ErrUpstreamTokenInvalid
		}
		return &Error{Status: resp.StatusCode, Message: eb.text()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(body, &eb)
		return &Error{Status: resp.StatusCode, Message: eb.text()}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode upstream response: %w", err)
	}
	return nil
}

// classifyTransportError maps deadline and timeout failures to
// ErrUpstreamTimeout; everything else is wrapped as-is.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrUpstreamTimeout
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrUpstreamTimeout
	}
	return fmt.Errorf("upstream request failed: %w", err)
}

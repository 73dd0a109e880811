// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the persistence interfaces and implementations
// for the OAuth authorization server: clients, authorization codes, refresh
// tokens, and access-token sessions.
package storage

import (
	"context"
	"time"
)

// Client is a registered OAuth client. Clients come from two sources: one
// statically bootstrapped client configured at startup, plus dynamically
// registered clients (RFC 7591).
type Client struct {
	// ID uniquely identifies the client.
	ID string

	// DisplayName is the optional human-readable client name.
	DisplayName string

	// RedirectURIs are the exact-match callback URLs allowed for this client.
	// Comparison is case-sensitive, full-string.
	RedirectURIs []string

	// CreatedAt is when the client was registered.
	CreatedAt time.Time
}

// HasRedirectURI reports whether uri exactly matches a registered URI.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// AuthorizationCode is a single-use code binding a client's authorization
// request to the upstream identity proven at consent time.
type AuthorizationCode struct {
	// Code is the opaque 256-bit code value.
	Code string

	ClientID    string
	RedirectURI string

	// UpstreamUserID is the Privy user the code was issued for.
	UpstreamUserID string

	// UpstreamToken is the verified Privy credential captured at consent.
	// It propagates unchanged through the token chain built on this code.
	UpstreamToken string

	// UpstreamClaims are the identity claims returned by the upstream
	// verification endpoint at consent time.
	UpstreamClaims map[string]any

	Scopes []string

	// CodeChallenge and CodeChallengeMethod carry the client's PKCE
	// commitment; only S256 is accepted.
	CodeChallenge       string
	CodeChallengeMethod string

	// ExpiresAt is 30 seconds after issuance by default.
	ExpiresAt time.Time

	// Used marks the code as consumed. A code is valid iff !Used and not
	// expired; it is deleted on first successful exchange.
	Used bool

	CreatedAt time.Time
}

// Valid reports whether the code can still be exchanged at the given time.
func (c *AuthorizationCode) Valid(now time.Time) bool {
	return !c.Used && now.Before(c.ExpiresAt)
}

// RefreshToken is a rotating long-lived grant. On every use the presented
// token is deleted and a new one issued; the upstream token carries over.
type RefreshToken struct {
	// ID is the stable row identifier (UUID).
	ID string

	// Token is the opaque 384-bit token value presented by clients.
	Token string

	ClientID       string
	UpstreamUserID string
	UpstreamToken  string
	Scopes         []string

	// ExpiresAt is 30 days after issuance by default.
	ExpiresAt time.Time

	// RevokedAt is set by user-scoped revocation; nil while the token is live.
	RevokedAt *time.Time

	CreatedAt time.Time
}

// Valid reports whether the refresh token can be exchanged at the given time.
func (r *RefreshToken) Valid(now time.Time) bool {
	return r.RevokedAt == nil && now.Before(r.ExpiresAt)
}

// AccessTokenSession is the server-side row backing an issued JWT, keyed by
// the JWT's "jti" claim. It is the only place the upstream credential is
// persisted for a live session.
type AccessTokenSession struct {
	// ID is the stable row identifier (UUID).
	ID string

	// JTI matches the "jti" claim of the issued JWT.
	JTI string

	ClientID       string
	UpstreamUserID string
	UpstreamToken  string
	Scopes         []string

	// ExpiresAt mirrors the JWT "exp" claim.
	ExpiresAt time.Time

	CreatedAt time.Time

	// UpstreamInvalidAt quarantines the session: once set, credential
	// exchange is denied for it. Set when the upstream API reports the
	// upstream token invalid.
	UpstreamInvalidAt *time.Time
}

// ClientStore persists OAuth clients.
type ClientStore interface {
	// Upsert inserts or replaces a client by ID.
	Upsert(ctx context.Context, client *Client) error

	// FindByID returns the client or ErrNotFound.
	FindByID(ctx context.Context, id string) (*Client, error)

	// FindByIDAndRedirectURI returns the client only when the redirect URI
	// exactly matches one of its registered URIs, otherwise ErrNotFound.
	FindByIDAndRedirectURI(ctx context.Context, id, redirectURI string) (*Client, error)
}

// AuthorizationCodeStore persists single-use authorization codes.
type AuthorizationCodeStore interface {
	// Create stores a new code record.
	Create(ctx context.Context, code *AuthorizationCode) error

	// FindByCode returns the record or ErrNotFound.
	FindByCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// MarkUsed flags the code as consumed. Returns ErrNotFound for unknown codes.
	MarkUsed(ctx context.Context, code string) error

	// Delete removes the code. Returns ErrNotFound for unknown codes.
	Delete(ctx context.Context, code string) error

	// PurgeExpiredOrUsed removes codes that are expired at now or marked used.
	PurgeExpiredOrUsed(ctx context.Context, now time.Time) error
}

// RefreshTokenStore persists rotating refresh tokens.
type RefreshTokenStore interface {
	// Create stores a new refresh token record.
	Create(ctx context.Context, token *RefreshToken) error

	// FindByToken returns the record for the raw token value or ErrNotFound.
	FindByToken(ctx context.Context, raw string) (*RefreshToken, error)

	// RevokeByToken sets RevokedAt on the record. Returns ErrNotFound for
	// unknown tokens.
	RevokeByToken(ctx context.Context, raw string, at time.Time) error

	// DeleteByToken removes the record. Returns ErrNotFound for unknown tokens.
	DeleteByToken(ctx context.Context, raw string) error

	// RevokeAllForUser revokes every live refresh token issued to the
	// (clientID, upstreamUserID) pair. Not finding any is not an error.
	RevokeAllForUser(ctx context.Context, clientID, upstreamUserID string, at time.Time) error

	// PurgeExpiredOrRevoked removes tokens expired at now or already revoked.
	PurgeExpiredOrRevoked(ctx context.Context, now time.Time) error
}

// SessionStore persists access-token sessions keyed by JWT ID.
type SessionStore interface {
	// Create stores a new session record.
	Create(ctx context.Context, session *AccessTokenSession) error

	// FindByJTI returns the session or ErrNotFound.
	FindByJTI(ctx context.Context, jti string) (*AccessTokenSession, error)

	// DeleteByJTI removes the session. Returns ErrNotFound when absent.
	DeleteByJTI(ctx context.Context, jti string) error

	// MarkUpstreamInvalid quarantines the session. Returns ErrNotFound when
	// absent.
	MarkUpstreamInvalid(ctx context.Context, jti string, at time.Time) error

	// PurgeExpired removes sessions expired at now.
	PurgeExpired(ctx context.Context, now time.Time) error
}

// Store bundles the four repositories behind one lifecycle.
type Store interface {
	Clients() ClientStore
	AuthorizationCodes() AuthorizationCodeStore
	RefreshTokens() RefreshTokenStore
	Sessions() SessionStore

	// Health reports whether the backing store is reachable.
	Health(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/latticehq/privybridge/pkg/logger"
)

// MemoryStore implements Store with in-process maps. It is thread-safe and
// suitable for tests and single-instance development deployments. Expired
// records are removed by the server's periodic sweep calling the purge
// methods; there is no internal background goroutine.
type MemoryStore struct {
	mu sync.RWMutex

	// clients maps client_id -> Client.
	clients map[string]*Client

	// codes maps code value -> AuthorizationCode.
	codes map[string]*AuthorizationCode

	// refreshTokens maps raw token value -> RefreshToken.
	refreshTokens map[string]*RefreshToken

	// sessions maps jti -> AccessTokenSession.
	sessions map[string]*AccessTokenSession
}

// NewMemoryStore creates a MemoryStore with initialized maps.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients:       make(map[string]*Client),
		codes:         make(map[string]*AuthorizationCode),
		refreshTokens: make(map[string]*RefreshToken),
		sessions:      make(map[string]*AccessTokenSession),
	}
}

// Clients returns the client repository.
func (s *MemoryStore) Clients() ClientStore { return &memoryClients{s} }

// AuthorizationCodes returns the authorization-code repository.
func (s *MemoryStore) AuthorizationCodes() AuthorizationCodeStore { return &memoryCodes{s} }

// RefreshTokens returns the refresh-token repository.
func (s *MemoryStore) RefreshTokens() RefreshTokenStore { return &memoryRefreshTokens{s} }

// Sessions returns the access-token session repository.
func (s *MemoryStore) Sessions() SessionStore { return &memorySessions{s} }

// Health is a no-op for in-memory storage since it is always available.
func (*MemoryStore) Health(_ context.Context) error { return nil }

// Close is a no-op for in-memory storage.
func (*MemoryStore) Close() error { return nil }

// Stats contains counts of stored records, useful for tests and monitoring.
type Stats struct {
	Clients            int
	AuthorizationCodes int
	RefreshTokens      int
	Sessions           int
}

// Stats returns current counts of stored records.
func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Clients:            len(s.clients),
		AuthorizationCodes: len(s.codes),
		RefreshTokens:      len(s.refreshTokens),
		Sessions:           len(s.sessions),
	}
}

// -----------------------
// ClientStore
// -----------------------

type memoryClients struct{ s *MemoryStore }

func copyClient(c *Client) *Client {
	cp := *c
	cp.RedirectURIs = slices.Clone(c.RedirectURIs)
	return &cp
}

// Upsert inserts or replaces a client by ID.
func (m *memoryClients) Upsert(_ context.Context, client *Client) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.clients[client.ID] = copyClient(client)
	return nil
}

// FindByID returns the client or ErrNotFound.
func (m *memoryClients) FindByID(_ context.Context, id string) (*Client, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	client, ok := m.s.clients[id]
	if !ok {
		logger.Debugw("client not found", "client_id", id)
		return nil, ErrNotFound
	}
	return copyClient(client), nil
}

// FindByIDAndRedirectURI returns the client only on an exact redirect match.
func (m *memoryClients) FindByIDAndRedirectURI(ctx context.Context, id, redirectURI string) (*Client, error) {
	client, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !client.HasRedirectURI(redirectURI) {
		return nil, ErrNotFound
	}
	return client, nil
}

// -----------------------
// AuthorizationCodeStore
// -----------------------

type memoryCodes struct{ s *MemoryStore }

func copyCode(c *AuthorizationCode) *AuthorizationCode {
	cp := *c
	cp.Scopes = slices.Clone(c.Scopes)
	if c.UpstreamClaims != nil {
		cp.UpstreamClaims = maps.Clone(c.UpstreamClaims)
	}
	return &cp
}

// Create stores a new authorization code record.
func (m *memoryCodes) Create(_ context.Context, code *AuthorizationCode) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if _, exists := m.s.codes[code.Code]; exists {
		return ErrAlreadyExists
	}
	m.s.codes[code.Code] = copyCode(code)
	return nil
}

// FindByCode returns the record or ErrNotFound.
func (m *memoryCodes) FindByCode(_ context.Context, code string) (*AuthorizationCode, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	record, ok := m.s.codes[code]
	if !ok {
		logger.Debugw("authorization code not found")
		return nil, ErrNotFound
	}
	return copyCode(record), nil
}

// MarkUsed flags the code as consumed.
func (m *memoryCodes) MarkUsed(_ context.Context, code string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	record, ok := m.s.codes[code]
	if !ok {
		return ErrNotFound
	}
	record.Used = true
	return nil
}

// Delete removes the code.
func (m *memoryCodes) Delete(_ context.Context, code string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if _, ok := m.s.codes[code]; !ok {
		return ErrNotFound
	}
	delete(m.s.codes, code)
	return nil
}

// PurgeExpiredOrUsed removes codes expired at now or marked used.
func (m *memoryCodes) PurgeExpiredOrUsed(_ context.Context, now time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	for k, v := range m.s.codes {
		if v.Used || now.After(v.ExpiresAt) {
			delete(m.s.codes, k)
		}
	}
	return nil
}

// -----------------------
// RefreshTokenStore
// -----------------------

type memoryRefreshTokens struct{ s *MemoryStore }

func copyRefreshToken(r *RefreshToken) *RefreshToken {
	cp := *r
	cp.Scopes = slices.Clone(r.Scopes)
	if r.RevokedAt != nil {
		at := *r.RevokedAt
		cp.RevokedAt = &at
	}
	return &cp
}

// Create stores a new refresh token record.
func (m *memoryRefreshTokens) Create(_ context.Context, token *RefreshToken) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if _, exists := m.s.refreshTokens[token.Token]; exists {
		return ErrAlreadyExists
	}
	m.s.refreshTokens[token.Token] = copyRefreshToken(token)
	return nil
}

// FindByToken returns the record for the raw token value or ErrNotFound.
func (m *memoryRefreshTokens) FindByToken(_ context.Context, raw string) (*RefreshToken, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	record, ok := m.s.refreshTokens[raw]
	if !ok {
		logger.Debugw("refresh token not found")
		return nil, ErrNotFound
	}
	return copyRefreshToken(record), nil
}

// RevokeByToken sets RevokedAt on the record.
func (m *memoryRefreshTokens) RevokeByToken(_ context.Context, raw string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	record, ok := m.s.refreshTokens[raw]
	if !ok {
		return ErrNotFound
	}
	record.RevokedAt = &at
	return nil
}

// DeleteByToken removes the record.
func (m *memoryRefreshTokens) DeleteByToken(_ context.Context, raw string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if _, ok := m.s.refreshTokens[raw]; !ok {
		return ErrNotFound
	}
	delete(m.s.refreshTokens, raw)
	return nil
}

// RevokeAllForUser revokes every live refresh token for the client/user pair.
func (m *memoryRefreshTokens) RevokeAllForUser(_ context.Context, clientID, upstreamUserID string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	for _, record := range m.s.refreshTokens {
		if record.ClientID == clientID && record.UpstreamUserID == upstreamUserID && record.RevokedAt == nil {
			revokedAt := at
			record.RevokedAt = &revokedAt
		}
	}
	return nil
}

// PurgeExpiredOrRevoked removes tokens expired at now or already revoked.
func (m *memoryRefreshTokens) PurgeExpiredOrRevoked(_ context.Context, now time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	for k, v := range m.s.refreshTokens {
		if v.RevokedAt != nil || now.After(v.ExpiresAt) {
			delete(m.s.refreshTokens, k)
		}
	}
	return nil
}

// -----------------------
// SessionStore
// -----------------------

type memorySessions struct{ s *MemoryStore }

func copySession(sess *AccessTokenSession) *AccessTokenSession {
	cp := *sess
	cp.Scopes = slices.Clone(sess.Scopes)
	if sess.UpstreamInvalidAt != nil {
		at := *sess.UpstreamInvalidAt
		cp.UpstreamInvalidAt = &at
	}
	return &cp
}

// Create stores a new access-token session record.
func (m *memorySessions) Create(_ context.Context, session *AccessTokenSession) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if _, exists := m.s.sessions[session.JTI]; exists {
		return ErrAlreadyExists
	}
	m.s.sessions[session.JTI] = copySession(session)
	return nil
}

// FindByJTI returns the session or ErrNotFound.
func (m *memorySessions) FindByJTI(_ context.Context, jti string) (*AccessTokenSession, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	record, ok := m.s.sessions[jti]
	if !ok {
		logger.Debugw("access-token session not found", "jti", jti)
		return nil, ErrNotFound
	}
	return copySession(record), nil
}

// DeleteByJTI removes the session.
func (m *memorySessions) DeleteByJTI(_ context.Context, jti string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if _, ok := m.s.sessions[jti]; !ok {
		return ErrNotFound
	}
	delete(m.s.sessions, jti)
	return nil
}

// MarkUpstreamInvalid quarantines the session.
func (m *memorySessions) MarkUpstreamInvalid(_ context.Context, jti string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	record, ok := m.s.sessions[jti]
	if !ok {
		return ErrNotFound
	}
	record.UpstreamInvalidAt = &at
	return nil
}

// PurgeExpired removes sessions expired at now.
func (m *memorySessions) PurgeExpired(_ context.Context, now time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	for k, v := range m.s.sessions {
		if now.After(v.ExpiresAt) {
			delete(m.s.sessions, k)
		}
	}
	return nil
}

// Compile-time interface compliance checks.
var (
	_ Store                  = (*MemoryStore)(nil)
	_ ClientStore            = (*memoryClients)(nil)
	_ AuthorizationCodeStore = (*memoryCodes)(nil)
	_ RefreshTokenStore      = (*memoryRefreshTokens)(nil)
	_ SessionStore           = (*memorySessions)(nil)
)

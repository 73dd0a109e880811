// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(id string) *Client {
	return &Client{
		ID:           id,
		DisplayName:  "Test Client",
		RedirectURIs: []string{"https://client.example.com/callback"},
		CreatedAt:    time.Now().UTC(),
	}
}

func testCode(code string, expiresAt time.Time) *AuthorizationCode {
	return &AuthorizationCode{
		Code:                code,
		ClientID:            "client-1",
		RedirectURI:         "https://client.example.com/callback",
		UpstreamUserID:      "did:privy:user-1",
		UpstreamToken:       "upstream-token-1",
		UpstreamClaims:      map[string]any{"sub": "did:privy:user-1"},
		Scopes:              []string{"read"},
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
		ExpiresAt:           expiresAt,
		CreatedAt:           time.Now().UTC(),
	}
}

func testRefreshToken(raw string, expiresAt time.Time) *RefreshToken {
	return &RefreshToken{
		ID:             uuid.NewString(),
		Token:          raw,
		ClientID:       "client-1",
		UpstreamUserID: "did:privy:user-1",
		UpstreamToken:  "upstream-token-1",
		Scopes:         []string{"read"},
		ExpiresAt:      expiresAt,
		CreatedAt:      time.Now().UTC(),
	}
}

func testSession(jti string, expiresAt time.Time) *AccessTokenSession {
	return &AccessTokenSession{
		ID:             uuid.NewString(),
		JTI:            jti,
		ClientID:       "client-1",
		UpstreamUserID: "did:privy:user-1",
		UpstreamToken:  "upstream-token-1",
		Scopes:         []string{"read", "privy:token:exchange"},
		ExpiresAt:      expiresAt,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestMemoryClients(t *testing.T) {
	ctx := context.Background()
	clients := NewMemoryStore().Clients()

	_, err := clients.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, clients.Upsert(ctx, testClient("client-1")))

	got, err := clients.FindByID(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "Test Client", got.DisplayName)

	// Redirect URI must match exactly.
	_, err = clients.FindByIDAndRedirectURI(ctx, "client-1", "https://client.example.com/callback")
	require.NoError(t, err)
	_, err = clients.FindByIDAndRedirectURI(ctx, "client-1", "https://client.example.com/callback/")
	assert.ErrorIs(t, err, ErrNotFound)

	// Upsert replaces.
	updated := testClient("client-1")
	updated.DisplayName = "Renamed"
	require.NoError(t, clients.Upsert(ctx, updated))
	got, err = clients.FindByID(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.DisplayName)
}

func TestMemoryClientsDefensiveCopy(t *testing.T) {
	ctx := context.Background()
	clients := NewMemoryStore().Clients()

	original := testClient("client-1")
	require.NoError(t, clients.Upsert(ctx, original))

	// Mutating the caller's slice must not affect the stored record.
	original.RedirectURIs[0] = "https://attacker.example.com"

	got, err := clients.FindByID(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "https://client.example.com/callback", got.RedirectURIs[0])

	// Mutating a returned record must not affect the stored one either.
	got.RedirectURIs[0] = "https://attacker.example.com"
	again, err := clients.FindByID(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "https://client.example.com/callback", again.RedirectURIs[0])
}

func TestMemoryAuthorizationCodes(t *testing.T) {
	ctx := context.Background()
	codes := NewMemoryStore().AuthorizationCodes()
	expires := time.Now().Add(30 * time.Second)

	require.NoError(t, codes.Create(ctx, testCode("code-1", expires)))
	assert.ErrorIs(t, codes.Create(ctx, testCode("code-1", expires)), ErrAlreadyExists)

	got, err := codes.FindByCode(ctx, "code-1")
	require.NoError(t, err)
	assert.True(t, got.Valid(time.Now()))
	assert.False(t, got.Valid(expires.Add(time.Second)))

	require.NoError(t, codes.MarkUsed(ctx, "code-1"))
	got, err = codes.FindByCode(ctx, "code-1")
	require.NoError(t, err)
	assert.True(t, got.Used)
	assert.False(t, got.Valid(time.Now()))

	require.NoError(t, codes.Delete(ctx, "code-1"))
	_, err = codes.FindByCode(ctx, "code-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, codes.Delete(ctx, "code-1"), ErrNotFound)
	assert.ErrorIs(t, codes.MarkUsed(ctx, "code-1"), ErrNotFound)
}

func TestMemoryAuthorizationCodesPurge(t *testing.T) {
	ctx := context.Background()
	codes := NewMemoryStore().AuthorizationCodes()
	now := time.Now()

	require.NoError(t, codes.Create(ctx, testCode("live", now.Add(time.Minute))))
	require.NoError(t, codes.Create(ctx, testCode("expired", now.Add(-time.Minute))))
	require.NoError(t, codes.Create(ctx, testCode("used", now.Add(time.Minute))))
	require.NoError(t, codes.MarkUsed(ctx, "used"))

	// A code expiring exactly at the cutoff survives the sweep.
	require.NoError(t, codes.Create(ctx, testCode("boundary", now)))

	require.NoError(t, codes.PurgeExpiredOrUsed(ctx, now))

	_, err := codes.FindByCode(ctx, "live")
	assert.NoError(t, err)
	_, err = codes.FindByCode(ctx, "boundary")
	assert.NoError(t, err)
	_, err = codes.FindByCode(ctx, "expired")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = codes.FindByCode(ctx, "used")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRefreshTokens(t *testing.T) {
	ctx := context.Background()
	tokens := NewMemoryStore().RefreshTokens()
	expires := time.Now().Add(30 * 24 * time.Hour)

	require.NoError(t, tokens.Create(ctx, testRefreshToken("rt-1", expires)))
	assert.ErrorIs(t, tokens.Create(ctx, testRefreshToken("rt-1", expires)), ErrAlreadyExists)

	got, err := tokens.FindByToken(ctx, "rt-1")
	require.NoError(t, err)
	assert.True(t, got.Valid(time.Now()))

	now := time.Now()
	require.NoError(t, tokens.RevokeByToken(ctx, "rt-1", now))
	got, err = tokens.FindByToken(ctx, "rt-1")
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)
	assert.False(t, got.Valid(time.Now()))

	require.NoError(t, tokens.DeleteByToken(ctx, "rt-1"))
	_, err = tokens.FindByToken(ctx, "rt-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, tokens.DeleteByToken(ctx, "rt-1"), ErrNotFound)
}

func TestMemoryRefreshTokensRevokeAllForUser(t *testing.T) {
	ctx := context.Background()
	tokens := NewMemoryStore().RefreshTokens()
	expires := time.Now().Add(time.Hour)

	mine := testRefreshToken("mine-1", expires)
	mineToo := testRefreshToken("mine-2", expires)
	otherUser := testRefreshToken("other-user", expires)
	otherUser.UpstreamUserID = "did:privy:user-2"
	otherClient := testRefreshToken("other-client", expires)
	otherClient.ClientID = "client-2"

	for _, rt := range []*RefreshToken{mine, mineToo, otherUser, otherClient} {
		require.NoError(t, tokens.Create(ctx, rt))
	}

	require.NoError(t, tokens.RevokeAllForUser(ctx, "client-1", "did:privy:user-1", time.Now()))

	for raw, wantRevoked := range map[string]bool{
		"mine-1":       true,
		"mine-2":       true,
		"other-user":   false,
		"other-client": false,
	} {
		got, err := tokens.FindByToken(ctx, raw)
		require.NoError(t, err)
		assert.Equal(t, wantRevoked, got.RevokedAt != nil, raw)
	}

	// Revoking with no matches is not an error.
	require.NoError(t, tokens.RevokeAllForUser(ctx, "client-9", "nobody", time.Now()))
}

func TestMemoryRefreshTokensPurge(t *testing.T) {
	ctx := context.Background()
	tokens := NewMemoryStore().RefreshTokens()
	now := time.Now()

	require.NoError(t, tokens.Create(ctx, testRefreshToken("live", now.Add(time.Hour))))
	require.NoError(t, tokens.Create(ctx, testRefreshToken("expired", now.Add(-time.Hour))))
	require.NoError(t, tokens.Create(ctx, testRefreshToken("revoked", now.Add(time.Hour))))
	require.NoError(t, tokens.RevokeByToken(ctx, "revoked", now))

	require.NoError(t, tokens.PurgeExpiredOrRevoked(ctx, now))

	_, err := tokens.FindByToken(ctx, "live")
	assert.NoError(t, err)
	_, err = tokens.FindByToken(ctx, "expired")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = tokens.FindByToken(ctx, "revoked")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySessions(t *testing.T) {
	ctx := context.Background()
	sessions := NewMemoryStore().Sessions()
	expires := time.Now().Add(time.Hour)

	require.NoError(t, sessions.Create(ctx, testSession("jti-1", expires)))
	assert.ErrorIs(t, sessions.Create(ctx, testSession("jti-1", expires)), ErrAlreadyExists)

	got, err := sessions.FindByJTI(ctx, "jti-1")
	require.NoError(t, err)
	assert.Nil(t, got.UpstreamInvalidAt)
	assert.Equal(t, "upstream-token-1", got.UpstreamToken)

	now := time.Now()
	require.NoError(t, sessions.MarkUpstreamInvalid(ctx, "jti-1", now))
	got, err = sessions.FindByJTI(ctx, "jti-1")
	require.NoError(t, err)
	require.NotNil(t, got.UpstreamInvalidAt)

	require.NoError(t, sessions.DeleteByJTI(ctx, "jti-1"))
	_, err = sessions.FindByJTI(ctx, "jti-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, sessions.DeleteByJTI(ctx, "jti-1"), ErrNotFound)
	assert.ErrorIs(t, sessions.MarkUpstreamInvalid(ctx, "jti-1", now), ErrNotFound)
}

func TestMemorySessionsPurge(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sessions := store.Sessions()
	now := time.Now()

	require.NoError(t, sessions.Create(ctx, testSession("live", now.Add(time.Hour))))
	require.NoError(t, sessions.Create(ctx, testSession("expired", now.Add(-time.Hour))))

	require.NoError(t, sessions.PurgeExpired(ctx, now))

	_, err := sessions.FindByJTI(ctx, "live")
	assert.NoError(t, err)
	_, err = sessions.FindByJTI(ctx, "expired")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 1, store.Stats().Sessions)
}

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()
	assert.NoError(t, store.Health(context.Background()))
	assert.NoError(t, store.Close())
}

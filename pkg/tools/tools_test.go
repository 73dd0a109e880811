// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/privybridge/pkg/authserver"
	"github.com/latticehq/privybridge/pkg/authserver/crypto"
	"github.com/latticehq/privybridge/pkg/authserver/storage"
	"github.com/latticehq/privybridge/pkg/config"
	"github.com/latticehq/privybridge/pkg/orchestrator"
	"github.com/latticehq/privybridge/pkg/upstream"
)

const (
	testIssuer   = "https://bridge.example.com"
	testUserID   = "did:privy:user-1"
	testClientID = "client-1"
	testJTI      = "jti-1"
)

type fakeOrchestrator struct {
	result *orchestrator.DiscoverResult
	err    error

	gotBearer string
	gotText   string
	gotMax    int
}

func (f *fakeOrchestrator) DiscoverConnections(_ context.Context, oauthBearer, inputText string, maxConnections, _ int) (*orchestrator.DiscoverResult, error) {
	f.gotBearer = oauthBearer
	f.gotText = inputText
	f.gotMax = maxConnections
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func testIdentity() *authserver.Identity {
	return &authserver.Identity{
		Token: "raw-bearer-token",
		Claims: &crypto.AccessTokenClaims{
			Scope:    "read privy:token:exchange",
			ClientID: testClientID,
		},
		UserID:   testUserID,
		ClientID: testClientID,
		Scopes:   []string{"read", "privy:token:exchange"},
	}
}

func newTestHandler(orch Orchestrator) (*Handler, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	cfg := &config.Config{IssuerURL: testIssuer}
	return NewHandler(cfg, orch, store), store
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = "discover_connections"
	req.Params.Arguments = args
	return req
}

func identityContext(identity *authserver.Identity) context.Context {
	return authserver.ContextWithIdentity(context.Background(), identity)
}

func TestDiscoverConnectionsSuccess(t *testing.T) {
	orch := &fakeOrchestrator{
		result: &orchestrator.DiscoverResult{
			Connections: []orchestrator.Connection{
				{
					User:              orchestrator.ConnectionUser{ID: "user-a", Name: "Ada"},
					MutualIntentCount: 1,
					Synthesis:         "intro",
				},
			},
			Intents: []upstream.Intent{{ID: "intent-1"}},
		},
	}
	handler, _ := newTestHandler(orch)

	result, err := handler.handleDiscoverConnections(identityContext(testIdentity()), callRequest(map[string]any{
		"fullInputText":  "looking for Go engineers",
		"maxConnections": 5,
	}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)

	assert.Equal(t, "raw-bearer-token", orch.gotBearer)
	assert.Equal(t, "looking for Go engineers", orch.gotText)
	assert.Equal(t, 5, orch.gotMax)

	structured, ok := result.StructuredContent.(*orchestrator.DiscoverResult)
	require.True(t, ok)
	assert.Len(t, structured.Connections, 1)

	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "Found 1 connections")
}

func TestDiscoverConnectionsMissingInput(t *testing.T) {
	handler, _ := newTestHandler(&fakeOrchestrator{})

	result, err := handler.handleDiscoverConnections(identityContext(testIdentity()), callRequest(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDiscoverConnectionsWithoutIdentity(t *testing.T) {
	handler, _ := newTestHandler(&fakeOrchestrator{})

	result, err := handler.handleDiscoverConnections(context.Background(), callRequest(map[string]any{
		"fullInputText": "text",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDiscoverConnectionsNonAuthError(t *testing.T) {
	handler, _ := newTestHandler(&fakeOrchestrator{err: &upstream.Error{Status: 500}})

	result, err := handler.handleDiscoverConnections(identityContext(testIdentity()), callRequest(map[string]any{
		"fullInputText": "text",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	// No reauth meta on ordinary failures.
	assert.Nil(t, result.Meta)
}

func TestDiscoverConnectionsReauthSignal(t *testing.T) {
	handler, store := newTestHandler(&fakeOrchestrator{err: upstream.ErrUpstreamTokenInvalid})
	ctx := context.Background()

	// Seed the session and two refresh tokens the reauth path must act on.
	require.NoError(t, store.Sessions().Create(ctx, &storage.AccessTokenSession{
		ID: "1", JTI: testJTI, ClientID: testClientID, UpstreamUserID: testUserID,
		UpstreamToken: "privy-token", ExpiresAt: time.Now().Add(time.Hour),
	}))
	for _, raw := range []string{"rt-1", "rt-2"} {
		require.NoError(t, store.RefreshTokens().Create(ctx, &storage.RefreshToken{
			ID: raw, Token: raw, ClientID: testClientID, UpstreamUserID: testUserID,
			ExpiresAt: time.Now().Add(time.Hour),
		}))
	}

	identity := testIdentity()
	identity.Claims.ID = testJTI

	result, err := handler.handleDiscoverConnections(identityContext(identity), callRequest(map[string]any{
		"fullInputText": "text",
	}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)

	// Fixed user-facing message.
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "Your connection has expired. Please sign in again.", text.Text)

	// Reauth challenge in _meta.
	require.NotNil(t, result.Meta)
	challenges, ok := result.Meta.AdditionalFields["mcp/www_authenticate"].([]string)
	require.True(t, ok)
	require.Len(t, challenges, 1)
	assert.Contains(t, challenges[0], `error="invalid_token"`)
	assert.Contains(t, challenges[0], "oauth-protected-resource")

	// Side effect: session quarantined.
	session, err := store.Sessions().FindByJTI(ctx, testJTI)
	require.NoError(t, err)
	assert.NotNil(t, session.UpstreamInvalidAt)

	// Side effect: every refresh token for the user is revoked.
	for _, raw := range []string{"rt-1", "rt-2"} {
		rt, err := store.RefreshTokens().FindByToken(ctx, raw)
		require.NoError(t, err)
		assert.NotNil(t, rt.RevokedAt, raw)
	}
}

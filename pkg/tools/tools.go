// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tools exposes the MCP tool surface. The dispatcher validates the
// bearer identity, routes to the orchestrator, and translates orchestrator
// errors into tool results, including the reauth signal that quarantines the
// session and revokes the user's refresh tokens.
package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/latticehq/privybridge/pkg/authserver"
	"github.com/latticehq/privybridge/pkg/authserver/storage"
	"github.com/latticehq/privybridge/pkg/config"
	"github.com/latticehq/privybridge/pkg/logger"
	"github.com/latticehq/privybridge/pkg/orchestrator"
	"github.com/latticehq/privybridge/pkg/upstream"
)

// reauthMetaKey carries the WWW-Authenticate challenge inside the tool
// result's _meta so MCP clients can trigger interactive reauth.
const reauthMetaKey = "mcp/www_authenticate"

// Orchestrator is the slice of the discover workflow the dispatcher uses.
type Orchestrator interface {
	DiscoverConnections(ctx context.Context, oauthBearer, inputText string, maxConnections, characterLimit int) (*orchestrator.DiscoverResult, error)
}

// Handler dispatches MCP tool calls.
type Handler struct {
	cfg   *config.Config
	orch  Orchestrator
	store storage.Store
}

// NewHandler creates the tool dispatcher.
func NewHandler(cfg *config.Config, orch Orchestrator, store storage.Store) *Handler {
	return &Handler{cfg: cfg, orch: orch, store: store}
}

// NewHTTPServer builds the MCP server with the registered tools and wraps it
// in a streamable HTTP transport. The caller mounts it behind the bearer
// middleware; the identity placed on the request context by the middleware
// is forwarded into tool handler contexts.
func (h *Handler) NewHTTPServer() http.Handler {
	mcpServer := server.NewMCPServer(
		"privybridge",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	mcpServer.AddTool(mcp.Tool{
		Name:        "discover_connections",
		Description: "Discover relevant connections from your network based on what you are working on or looking for",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"fullInputText": map[string]interface{}{
					"type":        "string",
					"description": "Free-form text describing what you are working on or looking for",
				},
				"maxConnections": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of connections to return",
				},
				"characterLimit": map[string]interface{}{
					"type":        "number",
					"description": "Character limit for each synthesized introduction",
				},
			},
			Required: []string{"fullInputText"},
		},
	}, h.handleDiscoverConnections)

	return server.NewStreamableHTTPServer(
		mcpServer,
		server.WithHTTPContextFunc(func(_ context.Context, r *http.Request) context.Context {
			return r.Context()
		}),
	)
}

func (h *Handler) handleDiscoverConnections(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	identity, ok := authserver.IdentityFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("Authentication required."), nil
	}

	args := struct {
		FullInputText  string `json:"fullInputText"`
		MaxConnections int    `json:"maxConnections,omitempty"`
		CharacterLimit int    `json:"characterLimit,omitempty"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}
	if args.FullInputText == "" {
		return mcp.NewToolResultError("fullInputText is required"), nil
	}

	result, err := h.orch.DiscoverConnections(ctx, identity.Token, args.FullInputText, args.MaxConnections, args.CharacterLimit)
	if err != nil {
		if errors.Is(err, upstream.ErrUpstreamTokenInvalid) {
			return h.reauthResult(ctx, identity), nil
		}
		logger.Errorw("discover connections failed",
			"user_id", identity.UserID, "error", err)
		return mcp.NewToolResultError("Failed to discover connections. Please try again."), nil
	}

	summary := fmt.Sprintf("Found %d connections.", len(result.Connections))
	return mcp.NewToolResultStructured(result, summary), nil
}

// reauthResult quarantines the session, revokes every refresh token for the
// user, and returns the in-band reauth signal. The combination guarantees
// the client's next silent refresh fails and the user sees the consent flow
// again.
func (h *Handler) reauthResult(ctx context.Context, identity *authserver.Identity) *mcp.CallToolResult {
	now := time.Now().UTC()

	if jti := identity.Claims.ID; jti != "" {
		if err := h.store.Sessions().MarkUpstreamInvalid(ctx, jti, now); err != nil &&
			!errors.Is(err, storage.ErrNotFound) {
			logger.Errorw("failed to quarantine session", "jti", jti, "error", err)
		}
	}
	if err := h.store.RefreshTokens().RevokeAllForUser(ctx, identity.ClientID, identity.UserID, now); err != nil {
		logger.Errorw("failed to revoke refresh tokens",
			"client_id", identity.ClientID, "user_id", identity.UserID, "error", err)
	}

	logger.Infow("upstream token invalid, reauth required",
		"client_id", identity.ClientID, "user_id", identity.UserID)

	result := mcp.NewToolResultError(authserver.ReauthMessage)
	result.Meta = &mcp.Meta{
		AdditionalFields: map[string]any{
			reauthMetaKey: []string{authserver.ReauthChallenge(h.cfg.IssuerURL)},
		},
	}
	return result
}

// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authserver implements the OAuth 2.1 authorization server that
// bridges MCP clients to the Privy identity provider: authorization-code
// flow with mandatory PKCE, dynamic client registration, refresh-token
// rotation, RS256 JWT access tokens backed by session rows, introspection,
// and the credential-exchange endpoint that trades a bridge token for the
// Privy credential carried by its session.
package authserver

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/latticehq/privybridge/pkg/authserver/crypto"
	"github.com/latticehq/privybridge/pkg/authserver/storage"
	"github.com/latticehq/privybridge/pkg/config"
	"github.com/latticehq/privybridge/pkg/logger"
	"github.com/latticehq/privybridge/pkg/upstream"
)

// IdentityVerifier proves an upstream Privy token and returns the identity
// it belongs to. Implemented by the upstream client.
type IdentityVerifier interface {
	VerifyToken(ctx context.Context, privyToken, fallbackToken string) (*upstream.Identity, error)
}

// Server is the OAuth authorization server.
type Server struct {
	cfg      *config.Config
	store    storage.Store
	signer   *crypto.Signer
	verifier IdentityVerifier
}

// New creates a Server. The verifier is used at consent completion to prove
// the upstream identity token.
func New(cfg *config.Config, store storage.Store, signer *crypto.Signer, verifier IdentityVerifier) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		signer:   signer,
		verifier: verifier,
	}
}

// Routes returns the HTTP surface of the authorization server.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/.well-known/oauth-authorization-server", s.handleAuthorizationServerMetadata)
	r.Get("/.well-known/oauth-protected-resource", s.handleProtectedResourceMetadata)
	r.Get("/.well-known/jwks.json", s.handleJWKS)
	r.Get("/health", s.handleHealth)

	r.Post("/register", s.handleRegister)
	r.Get("/authorize", s.handleAuthorize)
	r.Post("/authorize/complete", s.handleAuthorizeComplete)
	r.Post("/token", s.handleToken)
	r.Post("/token/introspect", s.handleIntrospect)

	r.Group(func(r chi.Router) {
		r.Use(s.RequireBearer(ScopeTokenExchange))
		r.Post("/token/privy/access-token", s.handleCredentialExchange)
	})

	return r
}

// Scopes with fixed meaning.
const (
	// ScopeRead gates tool dispatch.
	ScopeRead = "read"

	// ScopeTokenExchange gates the credential-exchange endpoint.
	ScopeTokenExchange = "privy:token:exchange"
)

// Bootstrap registers the statically configured client, if any. Runs once at
// startup so the well-known client survives restarts of volatile storage.
func (s *Server) Bootstrap(ctx context.Context) error {
	if len(s.cfg.AllowedClientIDs) == 0 {
		return nil
	}
	client := &storage.Client{
		ID:           s.cfg.AllowedClientIDs[0],
		DisplayName:  "bootstrap",
		RedirectURIs: s.cfg.AllowedRedirectURIs,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.Clients().Upsert(ctx, client); err != nil {
		return err
	}
	logger.Infow("bootstrapped static client", "client_id", client.ID)
	return nil
}

// StartCleanup launches the periodic sweep that purges expired codes,
// refresh tokens, and sessions. It stops when ctx is cancelled. This is the
// only background task the server owns.
func (s *Server) StartCleanup(ctx context.Context) {
	interval := s.cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// sweep purges expired records from all repositories concurrently.
func (s *Server) sweep(ctx context.Context) {
	now := time.Now()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.store.AuthorizationCodes().PurgeExpiredOrUsed(ctx, now) })
	g.Go(func() error { return s.store.RefreshTokens().PurgeExpiredOrRevoked(ctx, now) })
	g.Go(func() error { return s.store.Sessions().PurgeExpired(ctx, now) })

	if err := g.Wait(); err != nil {
		logger.Warnw("cleanup sweep failed", "error", err)
		return
	}
	logger.Debugw("cleanup sweep completed")
}

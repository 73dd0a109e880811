// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/latticehq/privybridge/pkg/authserver"
	"github.com/latticehq/privybridge/pkg/authserver/crypto"
	"github.com/latticehq/privybridge/pkg/authserver/storage"
	"github.com/latticehq/privybridge/pkg/config"
	"github.com/latticehq/privybridge/pkg/logger"
	"github.com/latticehq/privybridge/pkg/orchestrator"
	"github.com/latticehq/privybridge/pkg/tools"
	"github.com/latticehq/privybridge/pkg/upstream"
)

func newServeCmd() *cobra.Command {
	var configFile string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the privybridge server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configFile)
		},
	}

	serveCmd.Flags().StringVar(&configFile, "config", "", "path to the config file")
	return serveCmd
}

func runServe(parentCtx context.Context, configFile string) error {
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := storage.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warnw("failed to close storage", "error", err)
		}
	}()

	signer, err := newSigner(cfg)
	if err != nil {
		return err
	}

	privy := upstream.NewClient(upstream.Config{
		APIBaseURL:      cfg.Upstream.APIURL,
		ExchangeURL:     cfg.IssuerURL + "/token/privy/access-token",
		APITimeout:      cfg.Upstream.Timeout,
		ExchangeTimeout: cfg.Upstream.TokenExchangeTimeout,
	})

	oauth := authserver.New(cfg, store, signer, privy)
	if err := oauth.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to bootstrap static client: %w", err)
	}
	oauth.StartCleanup(ctx)

	orch := orchestrator.New(privy, cfg)
	dispatcher := tools.NewHandler(cfg, orch, store)

	api := oauth.Routes()
	api.Group(func(r chi.Router) {
		r.Use(oauth.RequireBearer(authserver.ScopeRead))
		r.Handle("/mcp", dispatcher.NewHTTPServer())
	})

	var handler http.Handler = api
	if cfg.BasePath != "" && cfg.BasePath != "/" {
		root := chi.NewRouter()
		root.Mount(cfg.BasePath, api)
		handler = root
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("privybridge listening",
			"addr", addr,
			"issuer", cfg.IssuerURL,
			"storage_driver", cfg.StorageDriver,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// newSigner builds the JWT signer from configured PEM keys, generating an
// ephemeral key pair when none are configured.
func newSigner(cfg *config.Config) (*crypto.Signer, error) {
	if cfg.SigningPrivateKey == "" {
		return crypto.NewEphemeralSigner(cfg.IssuerURL)
	}
	signer, err := crypto.NewSigner(cfg.IssuerURL, cfg.SigningPrivateKey, cfg.SigningPublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing keys: %w", err)
	}
	return signer, nil
}

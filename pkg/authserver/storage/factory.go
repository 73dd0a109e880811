// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"

	"github.com/latticehq/privybridge/pkg/config"
	"github.com/latticehq/privybridge/pkg/logger"
)

// New creates the Store selected by the configuration.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		logger.Infow("using in-memory storage")
		return NewMemoryStore(), nil
	case config.StorageDriverDurable:
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

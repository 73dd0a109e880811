// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import "errors"

// Sentinel errors returned by storage implementations.
// Checked with errors.Is.
var (
	// ErrNotFound indicates the requested record does not exist. Handlers
	// translate it into the appropriate OAuth error; it is never a fault.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a uniqueness conflict on create.
	ErrAlreadyExists = errors.New("already exists")
)

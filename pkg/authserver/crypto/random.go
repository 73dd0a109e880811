// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	// authorizationCodeBytes is the entropy of an authorization code (256 bits).
	authorizationCodeBytes = 32

	// refreshTokenBytes is the entropy of a refresh token (384 bits).
	refreshTokenBytes = 48
)

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewAuthorizationCode generates an opaque 256-bit authorization code,
// base64url encoded.
func NewAuthorizationCode() (string, error) {
	return randomToken(authorizationCodeBytes)
}

// NewRefreshToken generates an opaque 384-bit refresh token, base64url
// encoded. Codes and refresh tokens are never derivable from each other.
func NewRefreshToken() (string, error) {
	return randomToken(refreshTokenBytes)
}

// TokenPreview renders a credential safely for logging: first and last four
// characters only.
func TokenPreview(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

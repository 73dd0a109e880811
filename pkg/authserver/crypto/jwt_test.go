// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://bridge.example.com"

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	signer, err := NewEphemeralSigner(testIssuer)
	require.NoError(t, err)
	return signer
}

func TestMintAndVerify(t *testing.T) {
	signer := newTestSigner(t)

	token, exp, err := signer.Mint("privy-user-1", "jti-1", "client-1", []string{"read", "privy:token:exchange"}, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "privy-user-1", claims.Subject)
	assert.Equal(t, "jti-1", claims.ID)
	assert.Equal(t, "client-1", claims.ClientID)
	assert.Equal(t, testIssuer, claims.Issuer)
	assert.Equal(t, []string{"read", "privy:token:exchange"}, claims.Scopes())
}

func TestVerifyAgainstPublishedJWKS(t *testing.T) {
	signer := newTestSigner(t)

	token, _, err := signer.Mint("u", "j", "c", []string{"read"}, time.Hour)
	require.NoError(t, err)

	jwks, ok := signer.JWKS().(*jose.JSONWebKeySet)
	require.True(t, ok)
	require.Len(t, jwks.Keys, 1)
	assert.Equal(t, signer.KeyID(), jwks.Keys[0].KeyID)
	assert.Equal(t, "RS256", jwks.Keys[0].Algorithm)

	// A resource server holding only the published JWKS must be able to
	// verify the token.
	parsed, err := jwt.Parse(token, func(tok *jwt.Token) (any, error) {
		kid, _ := tok.Header["kid"].(string)
		keys := jwks.Key(kid)
		if len(keys) == 0 {
			return nil, errors.New("kid not in JWKS")
		}
		pub, ok := keys[0].Key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA key")
		}
		return pub, nil
	})
	require.NoError(t, err)
	assert.True(t, parsed.Valid)
}

func TestVerifyRejectsTampering(t *testing.T) {
	signer := newTestSigner(t)

	token, _, err := signer.Mint("u", "j", "c", []string{"read"}, time.Hour)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	// Flip the scope claim inside the payload.
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	tampered := strings.Replace(string(payload), `"read"`, `"admin"`, 1)
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(tampered))

	_, err = signer.Verify(strings.Join(parts, "."))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Corrupt a signature byte.
	parts = strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	parts[2] = string(sig)
	_, err = signer.Verify(strings.Join(parts, "."))
	require.Error(t, err)
}

func TestVerifyRejectsForeignIssuer(t *testing.T) {
	other, err := NewEphemeralSigner("https://other.example.com")
	require.NoError(t, err)
	token, _, err := other.Mint("u", "j", "c", []string{"read"}, time.Hour)
	require.NoError(t, err)

	signer := newTestSigner(t)
	_, err = signer.Verify(token)
	require.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	signer := newTestSigner(t)
	token, _, err := signer.Mint("u", "j", "c", []string{"read"}, -time.Minute)
	require.NoError(t, err)

	_, err = signer.Verify(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestNewSignerFromPEM(t *testing.T) {
	priv, err := GenerateRSAKey()
	require.NoError(t, err)

	privPEM := encodePKCS8(t, priv)
	signer, err := NewSigner(testIssuer, privPEM, "")
	require.NoError(t, err)

	token, _, err := signer.Mint("u", "j", "c", []string{"read"}, time.Hour)
	require.NoError(t, err)
	_, err = signer.Verify(token)
	require.NoError(t, err)
}

// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePKCS8(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func encodePKIX(t *testing.T, key *rsa.PublicKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func TestParseRSAPrivateKeyFormats(t *testing.T) {
	key, err := GenerateRSAKey()
	require.NoError(t, err)

	pkcs1 := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))

	for name, pemData := range map[string]string{
		"pkcs1": pkcs1,
		"pkcs8": encodePKCS8(t, key),
	} {
		t.Run(name, func(t *testing.T) {
			parsed, err := ParseRSAPrivateKey(pemData)
			require.NoError(t, err)
			assert.Equal(t, key.N, parsed.N)
		})
	}
}

func TestParseRSAPrivateKeyRejectsGarbage(t *testing.T) {
	_, err := ParseRSAPrivateKey("not a key")
	require.Error(t, err)
}

func TestParseRSAPublicKey(t *testing.T) {
	key, err := GenerateRSAKey()
	require.NoError(t, err)

	parsed, err := ParseRSAPublicKey(encodePKIX(t, &key.PublicKey))
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey.N, parsed.N)
}

func TestDeriveKeyIDIsStable(t *testing.T) {
	key, err := GenerateRSAKey()
	require.NoError(t, err)

	id1, err := DeriveKeyID(&key.PublicKey)
	require.NoError(t, err)
	id2, err := DeriveKeyID(&key.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.NotEmpty(t, id1)

	other, err := GenerateRSAKey()
	require.NoError(t, err)
	otherID, err := DeriveKeyID(&other.PublicKey)
	require.NoError(t, err)
	assert.NotEqual(t, id1, otherID)
}

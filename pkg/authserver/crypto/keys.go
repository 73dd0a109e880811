// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package crypto provides the signing, PKCE, and token-generation primitives
// used by the authorization server.
package crypto

import (
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// MinRSAKeyBits is the minimum required size for RSA signing keys in bits.
// 2048 bits is required per NIST SP 800-57 recommendations.
const MinRSAKeyBits = 2048

// SigningAlgorithm is the only JWT signing algorithm the server issues.
const SigningAlgorithm = "RS256"

// ParseRSAPrivateKey parses a PEM-encoded RSA private key (PKCS#1 or PKCS#8).
func ParseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in private key")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return validateRSAKey(key)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("RS256 requires an RSA private key, got %T", parsed)
	}
	return validateRSAKey(key)
}

// ParseRSAPublicKey parses a PEM-encoded RSA public key (PKIX or PKCS#1).
func ParseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in public key")
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("RS256 requires an RSA public key, got %T", parsed)
	}
	return key, nil
}

func validateRSAKey(key *rsa.PrivateKey) (*rsa.PrivateKey, error) {
	if key.N.BitLen() < MinRSAKeyBits {
		return nil, fmt.Errorf("RSA key must be at least %d bits, got %d", MinRSAKeyBits, key.N.BitLen())
	}
	return key, nil
}

// GenerateRSAKey creates an ephemeral RSA signing key. Intended for
// development and tests; tokens become invalid after restart.
func GenerateRSAKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, MinRSAKeyBits)
}

// DeriveKeyID computes a stable key identifier from the public key using the
// RFC 7638 JWK thumbprint, base64url encoded.
func DeriveKeyID(pub *rsa.PublicKey) (string, error) {
	jwk := jose.JSONWebKey{Key: pub, Algorithm: SigningAlgorithm, Use: "sig"}
	thumb, err := jwk.Thumbprint(stdcrypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute JWK thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(thumb), nil
}

// BuildJWKS wraps the public key in a JSON Web Key Set suitable for the
// /.well-known/jwks.json endpoint.
func BuildJWKS(pub *rsa.PublicKey, keyID string) *jose.JSONWebKeySet {
	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       pub,
			KeyID:     keyID,
			Algorithm: SigningAlgorithm,
			Use:       "sig",
		}},
	}
}

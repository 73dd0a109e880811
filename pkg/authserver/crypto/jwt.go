// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/latticehq/privybridge/pkg/logger"
)

// Common JWT errors, checked with errors.Is.
var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrInvalidIssuer   = errors.New("invalid issuer")
	ErrInvalidAudience = errors.New("invalid audience")
)

// AccessTokenClaims is the payload of an access token issued by this server.
type AccessTokenClaims struct {
	Scope    string `json:"scope"`
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// Scopes splits the space-joined scope claim.
func (c *AccessTokenClaims) Scopes() []string {
	if c.Scope == "" {
		return nil
	}
	return strings.Fields(c.Scope)
}

// Signer mints and verifies RS256 access tokens for a single issuer.
type Signer struct {
	issuer     string
	keyID      string
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
}

// NewSigner builds a Signer from PEM key material. When publicPEM is empty
// the public key is derived from the private key.
func NewSigner(issuer, privatePEM, publicPEM string) (*Signer, error) {
	priv, err := ParseRSAPrivateKey(privatePEM)
	if err != nil {
		return nil, fmt.Errorf("signing private key: %w", err)
	}

	pub := &priv.PublicKey
	if publicPEM != "" {
		pub, err = ParseRSAPublicKey(publicPEM)
		if err != nil {
			return nil, fmt.Errorf("signing public key: %w", err)
		}
	}

	keyID, err := DeriveKeyID(pub)
	if err != nil {
		return nil, err
	}

	return &Signer{
		issuer:     issuer,
		keyID:      keyID,
		privateKey: priv,
		publicKey:  pub,
	}, nil
}

// NewEphemeralSigner generates a fresh RSA key pair. Tokens signed with it
// are invalid after restart; intended for development and tests.
func NewEphemeralSigner(issuer string) (*Signer, error) {
	priv, err := GenerateRSAKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	keyID, err := DeriveKeyID(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	logger.Warnw("generated ephemeral signing key - tokens will be invalid after restart",
		"key_id", keyID,
	)
	return &Signer{
		issuer:     issuer,
		keyID:      keyID,
		privateKey: priv,
		publicKey:  &priv.PublicKey,
	}, nil
}

// KeyID returns the stable identifier published in the JWKS and set in the
// "kid" header of minted tokens.
func (s *Signer) KeyID() string {
	return s.keyID
}

// Issuer returns the canonical issuer URL.
func (s *Signer) Issuer() string {
	return s.issuer
}

// JWKS returns the public key set for the JWKS endpoint.
func (s *Signer) JWKS() any {
	return BuildJWKS(s.publicKey, s.keyID)
}

// Mint signs an access token. The audience is the canonical issuer URL and
// the scope claim is the space-joined scope list.
func (s *Signer) Mint(sub, jti, clientID string, scopes []string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)

	claims := &AccessTokenClaims{
		Scope:    strings.Join(scopes, " "),
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.issuer},
			Subject:   sub,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, issuer, audience, and expiry, returning the typed
// claims. Presence of "jti" is not enforced here; the credential-exchange
// endpoint checks it separately.
func (s *Signer) Verify(raw string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.publicKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, fmt.Errorf("%w: %w", ErrInvalidIssuer, err)
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, fmt.Errorf("%w: %w", ErrInvalidAudience, err)
		default:
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

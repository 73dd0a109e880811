// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/subtle"

	"golang.org/x/oauth2"
)

// PKCEChallengeMethodS256 is the only PKCE challenge method accepted (RFC 7636).
const PKCEChallengeMethodS256 = "S256"

// ComputePKCEChallenge computes the code_challenge from a code_verifier using
// the S256 method per RFC 7636 Section 4.2:
// code_challenge = BASE64URL(SHA256(code_verifier)).
//
// Delegates to oauth2.S256ChallengeFromVerifier from golang.org/x/oauth2.
func ComputePKCEChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// VerifyPKCE checks a code_verifier against the stored S256 code_challenge
// with a constant-time comparison.
func VerifyPKCE(verifier, challenge string) bool {
	computed := ComputePKCEChallenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

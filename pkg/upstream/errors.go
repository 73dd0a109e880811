// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUpstreamTokenInvalid indicates the Privy API rejected the upstream
	// credential itself. This is distinct from any other upstream failure:
	// callers react by quarantining the session and forcing reauth.
	ErrUpstreamTokenInvalid = errors.New("upstream token invalid or expired")

	// ErrUpstreamTimeout indicates an upstream call exceeded its deadline.
	ErrUpstreamTimeout = errors.New("upstream request timed out")
)

// Error is a non-auth upstream failure carrying the HTTP status.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream request failed with status %d", e.Status)
	}
	return fmt.Sprintf("upstream request failed with status %d: %s", e.Status, e.Message)
}

// errorBody is the error shape returned by the Privy API and by the local
// credential-exchange endpoint.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	Message          string `json:"message,omitempty"`
}

func (b *errorBody) text() string {
	for _, s := range []string{b.ErrorDescription, b.Message, b.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// indicatesInvalidToken reports whether a 401/403 body names an invalid or
// expired upstream credential rather than some other authorization problem.
func (b *errorBody) indicatesInvalidToken() bool {
	combined := strings.ToLower(b.Error + " " + b.ErrorDescription + " " + b.Message)
	return strings.Contains(combined, "invalid") || strings.Contains(combined, "expired")
}

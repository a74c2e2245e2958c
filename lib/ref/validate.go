// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// allowedLocalpartChars is the set of characters permitted in user ID
// localparts (per the Matrix spec: a-z, 0-9, and the symbols . _ = - /).
var allowedLocalpartChars [256]bool

func init() {
	for c := byte('a'); c <= 'z'; c++ {
		allowedLocalpartChars[c] = true
	}
	for c := byte('0'); c <= '9'; c++ {
		allowedLocalpartChars[c] = true
	}
	allowedLocalpartChars['.'] = true
	allowedLocalpartChars['_'] = true
	allowedLocalpartChars['='] = true
	allowedLocalpartChars['-'] = true
	allowedLocalpartChars['/'] = true
}

// validateLocalpart checks a user ID localpart: non-empty, restricted
// character set.
func validateLocalpart(localpart string) error {
	if localpart == "" {
		return fmt.Errorf("localpart is empty")
	}
	for i := 0; i < len(localpart); i++ {
		if !allowedLocalpartChars[localpart[i]] {
			return fmt.Errorf("localpart %q: invalid character %q at position %d (allowed: a-z, 0-9, ., _, =, -, /)", localpart, localpart[i], i)
		}
	}
	return nil
}

// validateServer checks that a Matrix server name is minimally valid:
// non-empty, no control characters, no Matrix sigils.
func validateServer(server string) error {
	if server == "" {
		return fmt.Errorf("server name is empty")
	}
	for i := 0; i < len(server); i++ {
		c := server[i]
		if c <= ' ' || c == '@' || c == '#' {
			return fmt.Errorf("server name %q: invalid character at position %d", server, i)
		}
	}
	return nil
}

// parseMatrixID extracts localpart and server from @localpart:server.
func parseMatrixID(matrixID string) (localpart, server string, err error) {
	if matrixID == "" {
		return "", "", fmt.Errorf("empty user ID")
	}
	if matrixID[0] != '@' {
		return "", "", fmt.Errorf("user ID must start with '@': %q", matrixID)
	}

	colonIndex := strings.IndexByte(matrixID[1:], ':')
	if colonIndex < 0 {
		return "", "", fmt.Errorf("user ID missing ':server' suffix: %q", matrixID)
	}

	localpart = matrixID[1 : 1+colonIndex]
	server = matrixID[1+colonIndex+1:]

	if err := validateLocalpart(localpart); err != nil {
		return "", "", fmt.Errorf("user ID %q: %w", matrixID, err)
	}
	if err := validateServer(server); err != nil {
		return "", "", fmt.Errorf("user ID %q: %w", matrixID, err)
	}
	return localpart, server, nil
}

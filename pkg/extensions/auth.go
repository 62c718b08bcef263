// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned by an AuthProvider when a token is missing,
// malformed, expired or revoked.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo is the identity an AuthProvider resolves a token to.
type AuthInfo struct {
	// UserID is the stable identifier of the authenticated user.
	UserID string

	// TenantID is the tenant the user belongs to. Empty for operators
	// that stand outside every tenant.
	TenantID string

	// Role is the user's role name.
	Role string
}

// AuthProvider validates bearer tokens.
//
// # Description
//
// Called once per authenticated request. Implementations must return an
// error wrapping ErrUnauthorized for credentials that are simply bad, and
// any other error for provider failures.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider rejects every token. It is the default when no
// provider is configured, so a misconfigured service fails closed.
type NopAuthProvider struct{}

// Validate always returns ErrUnauthorized.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return nil, ErrUnauthorized
}

var _ AuthProvider = (*NopAuthProvider)(nil)

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the pluggable collaborators of the service:
// how bearer tokens are validated and where audit events go.
//
// The service wires its own identity directory as the AuthProvider and a
// slog-backed AuditLogger by default. Deployments can swap either one by
// passing different ServiceOptions.
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(directory).
//	    WithAudit(extensions.NewSlogAuditLogger(logger))
package extensions

// ServiceOptions carries the pluggable collaborators.
type ServiceOptions struct {
	AuthProvider AuthProvider
	AuditLogger  AuditLogger
}

// DefaultOptions returns options that reject every token and discard
// audit events.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: &NopAuthProvider{},
		AuditLogger:  &NopAuditLogger{},
	}
}

// WithAuth returns a copy using provider for token validation.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAudit returns a copy sending audit events to logger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

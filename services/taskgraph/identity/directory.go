// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package identity is the tenant and user directory.
//
// It provisions tenants, registers and authenticates users, and issues
// opaque bearer tokens. Tokens are 32 random bytes; only their SHA-256
// hash is stored, as a session record that expires with the token.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTasks/pkg/extensions"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/datatypes"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/store"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"
)

// DefaultTokenTTL is how long an issued token stays valid.
const DefaultTokenTTL = 7 * 24 * time.Hour

// Store is the transactional record store the directory runs on.
type Store interface {
	View(ctx context.Context, fn func(tx store.Tx) error) error
	Update(ctx context.Context, fn func(tx store.Tx) error) error
}

// Config configures a Directory.
type Config struct {
	// TokenTTL defaults to DefaultTokenTTL.
	TokenTTL time.Duration

	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int

	Logger *slog.Logger
	Now    func() time.Time
}

// Directory manages tenants, users and sessions.
//
// # Thread Safety
//
// Safe for concurrent use.
type Directory struct {
	store  Store
	ttl    time.Duration
	cost   int
	logger *slog.Logger
	now    func() time.Time

	// validations collapses concurrent lookups of the same token.
	validations singleflight.Group

	// dummyHash is compared against when a login names an unknown email
	// so both failure paths cost one bcrypt comparison.
	dummyHash []byte
}

// New creates a directory over st.
func New(st Store, cfg Config) (*Directory, error) {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	now := cfg.Now

	dummy, err := bcrypt.GenerateFromPassword([]byte("taskgraph-dummy-password"), cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("identity: generating dummy hash: %w", err)
	}

	return &Directory{
		store:     st,
		ttl:       cfg.TokenTTL,
		cost:      cfg.BcryptCost,
		logger:    cfg.Logger.With(slog.String("component", "identity")),
		now:       func() time.Time { return now().UTC() },
		dummyHash: dummy,
	}, nil
}

// =============================================================================
// Tokens
// =============================================================================

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("identity: generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// issue writes a session for u inside tx and returns the token.
func (d *Directory) issue(tx store.Tx, u *datatypes.User) (string, time.Time, error) {
	token, err := newToken()
	if err != nil {
		return "", time.Time{}, err
	}
	now := d.now()
	expires := now.Add(d.ttl)
	err = tx.PutSession(hashToken(token), &datatypes.Session{
		UserID:    u.ID,
		TenantID:  u.TenantID,
		IssuedAt:  now,
		ExpiresAt: expires,
	}, d.ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// Authenticate resolves a bearer token to its principal. The user record
// is re-read on every call so role changes and deletions apply at once.
func (d *Directory) Authenticate(ctx context.Context, token string) (datatypes.Principal, error) {
	if token == "" {
		return datatypes.Principal{}, fmt.Errorf("missing token: %w", datatypes.ErrUnauthenticated)
	}
	hash := hashToken(token)
	// The lookup is shared by every caller of this token, so one caller
	// giving up must not fail the others.
	shared := context.WithoutCancel(ctx)
	v, err, _ := d.validations.Do(hash, func() (any, error) {
		var p datatypes.Principal
		err := d.store.View(shared, func(tx store.Tx) error {
			s, err := tx.GetSession(hash)
			if err != nil {
				return err
			}
			if !d.now().Before(s.ExpiresAt) {
				return datatypes.NotFoundf("session expired")
			}
			u, err := tx.GetUser(s.UserID)
			if err != nil {
				return err
			}
			p = u.Principal()
			return nil
		})
		return p, err
	})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(err, datatypes.ErrNotFound) {
			return datatypes.Principal{}, fmt.Errorf("invalid or expired token: %w", datatypes.ErrUnauthenticated)
		}
		return datatypes.Principal{}, err
	}
	return v.(datatypes.Principal), nil
}

// Validate implements extensions.AuthProvider.
func (d *Directory) Validate(ctx context.Context, token string) (*extensions.AuthInfo, error) {
	p, err := d.Authenticate(ctx, token)
	if err != nil {
		if errors.Is(err, datatypes.ErrUnauthenticated) {
			return nil, fmt.Errorf("%w: %v", extensions.ErrUnauthorized, err)
		}
		return nil, err
	}
	return &extensions.AuthInfo{
		UserID:   p.UserID,
		TenantID: p.TenantID,
		Role:     string(p.Role),
	}, nil
}

// Logout revokes a token. Revoking an unknown token is not an error.
func (d *Directory) Logout(ctx context.Context, token string) error {
	return d.store.Update(ctx, func(tx store.Tx) error {
		return tx.DeleteSession(hashToken(token))
	})
}

// =============================================================================
// Registration
// =============================================================================

// ProvisionTenant creates a tenant together with its admin user and signs
// the admin in.
func (d *Directory) ProvisionTenant(ctx context.Context, req datatypes.ProvisionTenantRequest) (*datatypes.AuthResponse, error) {
	req.Domain = normalizeDomain(req.Domain)
	req.AdminEmail = datatypes.NormalizeEmail(req.AdminEmail)
	if err := datatypes.Validate(&req); err != nil {
		return nil, err
	}
	hash, err := d.hashPassword(req.AdminPassword)
	if err != nil {
		return nil, err
	}

	now := d.now()
	tenant := &datatypes.Tenant{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(req.Name),
		Domain:    req.Domain,
		CreatedAt: now,
		UpdatedAt: now,
	}
	admin := &datatypes.User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(req.AdminName),
		Email:        req.AdminEmail,
		PasswordHash: hash,
		Role:         datatypes.RoleAdmin,
		TenantID:     tenant.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tenant.AdminUserID = admin.ID

	resp := &datatypes.AuthResponse{User: admin.Public(), Tenant: tenant}
	err = d.store.Update(ctx, func(tx store.Tx) error {
		if err := tx.PutTenant(tenant); err != nil {
			return err
		}
		if err := tx.PutUser(admin); err != nil {
			return err
		}
		resp.Token, resp.ExpiresAt, err = d.issue(tx, admin)
		return err
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("tenant provisioned",
		slog.String("tenant_id", tenant.ID),
		slog.String("domain", tenant.Domain))
	return resp, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9-]+`)

// Register creates a user and signs them in.
//
// Description:
//
//	With a TenantID the user joins that tenant as a member, or as its admin
//	if the tenant has none yet. Without one, a new tenant named after the
//	user is created and the user becomes its admin.
func (d *Directory) Register(ctx context.Context, req datatypes.RegisterRequest) (*datatypes.AuthResponse, error) {
	req.Email = datatypes.NormalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if err := datatypes.Validate(&req); err != nil {
		return nil, err
	}
	hash, err := d.hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	var resp *datatypes.AuthResponse
	err = d.store.Update(ctx, func(tx store.Tx) error {
		now := d.now()
		var tenant *datatypes.Tenant
		if req.TenantID == "" {
			tenant, err = d.personalTenant(tx, req.Name, now)
			if err != nil {
				return err
			}
		} else {
			tenant, err = tx.GetTenant(req.TenantID)
			if err != nil {
				return err
			}
		}

		user := &datatypes.User{
			ID:           uuid.NewString(),
			Name:         req.Name,
			Email:        req.Email,
			PasswordHash: hash,
			Role:         datatypes.RoleMember,
			TenantID:     tenant.ID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if tenant.AdminUserID == "" {
			user.Role = datatypes.RoleAdmin
			tenant.AdminUserID = user.ID
			tenant.UpdatedAt = now
		}
		if err := tx.PutTenant(tenant); err != nil {
			return err
		}
		if err := tx.PutUser(user); err != nil {
			return err
		}

		token, expires, err := d.issue(tx, user)
		if err != nil {
			return err
		}
		resp = &datatypes.AuthResponse{Token: token, ExpiresAt: expires, User: user.Public(), Tenant: tenant}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("user registered",
		slog.String("user_id", resp.User.ID),
		slog.String("tenant_id", resp.User.TenantID),
		slog.String("role", string(resp.User.Role)))
	return resp, nil
}

// personalTenant builds a tenant for a user registering without one. The
// domain is derived from the user's name and suffixed if already taken.
func (d *Directory) personalTenant(tx store.Tx, name string, now time.Time) (*datatypes.Tenant, error) {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		slug = "org"
	}
	id := uuid.NewString()
	domain := slug + ".local"
	if _, err := tx.TenantIDByDomain(domain); err == nil {
		domain = slug + "-" + id[:8] + ".local"
	} else if !errors.Is(err, datatypes.ErrNotFound) {
		return nil, err
	}
	return &datatypes.Tenant{
		ID:        id,
		Name:      name + "'s Organization",
		Domain:    domain,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Login checks credentials and issues a token. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (d *Directory) Login(ctx context.Context, req datatypes.LoginRequest) (*datatypes.AuthResponse, error) {
	req.Email = datatypes.NormalizeEmail(req.Email)
	if err := datatypes.Validate(&req); err != nil {
		return nil, err
	}

	var user *datatypes.User
	err := d.store.View(ctx, func(tx store.Tx) error {
		id, err := tx.UserIDByEmail(req.Email)
		if err != nil {
			return err
		}
		user, err = tx.GetUser(id)
		return err
	})
	if err != nil && !errors.Is(err, datatypes.ErrNotFound) {
		return nil, err
	}

	hash := d.dummyHash
	if user != nil {
		hash = user.PasswordHash
	}
	if cmpErr := bcrypt.CompareHashAndPassword(hash, []byte(req.Password)); cmpErr != nil || user == nil {
		d.logger.Info("login rejected", slog.Bool("known_email", user != nil))
		return nil, fmt.Errorf("invalid credentials: %w", datatypes.ErrUnauthenticated)
	}

	resp := &datatypes.AuthResponse{User: user.Public()}
	err = d.store.Update(ctx, func(tx store.Tx) error {
		if user.TenantID != "" {
			t, err := tx.GetTenant(user.TenantID)
			if err != nil {
				return err
			}
			resp.Tenant = t
		}
		var err error
		resp.Token, resp.ExpiresAt, err = d.issue(tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (d *Directory) hashPassword(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, datatypes.NewValidationError("password", "must be at most 72 bytes")
		}
		return nil, fmt.Errorf("identity: hashing password: %w", err)
	}
	return hash, nil
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// =============================================================================
// Bootstrap
// =============================================================================

// BootstrapAdmin describes the superadmin ensured at startup.
type BootstrapAdmin struct {
	Name     string `yaml:"name"`
	Email    string `yaml:"email" validate:"omitempty,email"`
	Password string `yaml:"password"`
}

// EnsureSuperadmin creates the superadmin account if no user owns the
// email yet. An existing account is left untouched.
func (d *Directory) EnsureSuperadmin(ctx context.Context, b BootstrapAdmin) error {
	email := datatypes.NormalizeEmail(b.Email)
	if email == "" || b.Password == "" {
		return errors.New("identity: superadmin email and password are required")
	}
	hash, err := d.hashPassword(b.Password)
	if err != nil {
		return err
	}

	created := false
	err = d.store.Update(ctx, func(tx store.Tx) error {
		created = false
		_, err := tx.UserIDByEmail(email)
		if err == nil {
			return nil
		}
		if !errors.Is(err, datatypes.ErrNotFound) {
			return err
		}
		name := strings.TrimSpace(b.Name)
		if name == "" {
			name = "superadmin"
		}
		now := d.now()
		created = true
		return tx.PutUser(&datatypes.User{
			ID:           uuid.NewString(),
			Name:         name,
			Email:        email,
			PasswordHash: hash,
			Role:         datatypes.RoleSuperAdmin,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	})
	if err != nil {
		return err
	}
	if created {
		d.logger.Info("superadmin created", slog.String("email", email))
	}
	return nil
}

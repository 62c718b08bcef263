// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package identity

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/AleutianAI/AleutianTasks/services/taskgraph/datatypes"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/policy"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/store"
	"github.com/google/uuid"
)

// GetTenant returns a tenant visible to the principal.
func (d *Directory) GetTenant(ctx context.Context, p datatypes.Principal, id string) (*datatypes.Tenant, error) {
	if !policy.IsAllowed(policy.ActionTenantRead, p, policy.Resource{TenantID: id}) {
		return nil, &datatypes.TenantMismatchError{Resource: "tenant", ID: id}
	}
	var t *datatypes.Tenant
	err := d.store.View(ctx, func(tx store.Tx) error {
		var err error
		t, err = tx.GetTenant(id)
		return err
	})
	return t, err
}

// ListTenants returns every tenant by name. Superadmin only.
func (d *Directory) ListTenants(ctx context.Context, p datatypes.Principal) ([]*datatypes.Tenant, error) {
	if !policy.IsAllowed(policy.ActionTenantList, p, policy.Resource{}) {
		return nil, datatypes.AccessDeniedf("only superadmins can list tenants")
	}
	var tenants []*datatypes.Tenant
	err := d.store.View(ctx, func(tx store.Tx) error {
		var err error
		tenants, err = tx.ListTenants()
		return err
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(tenants, func(a, b *datatypes.Tenant) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	if tenants == nil {
		tenants = []*datatypes.Tenant{}
	}
	return tenants, nil
}

// UpdateTenant renames a tenant or moves it to a new domain.
func (d *Directory) UpdateTenant(ctx context.Context, p datatypes.Principal, id string, req datatypes.UpdateTenantRequest) (*datatypes.Tenant, error) {
	if !policy.IsAllowed(policy.ActionTenantUpdate, p, policy.Resource{TenantID: id}) {
		return nil, datatypes.AccessDeniedf("only the tenant's admins can update it")
	}
	if req.Domain != nil {
		domain := normalizeDomain(*req.Domain)
		req.Domain = &domain
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		req.Name = &name
	}
	if err := datatypes.Validate(&req); err != nil {
		return nil, err
	}

	var t *datatypes.Tenant
	err := d.store.Update(ctx, func(tx store.Tx) error {
		var err error
		t, err = tx.GetTenant(id)
		if err != nil {
			return err
		}
		if req.Name != nil {
			t.Name = *req.Name
		}
		if req.Domain != nil {
			t.Domain = *req.Domain
		}
		t.UpdatedAt = d.now()
		return tx.PutTenant(t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteTenant removes a tenant with its users, tasks and dependencies.
// Superadmin only. Outstanding tokens of its users stop authenticating
// because their user records are gone.
func (d *Directory) DeleteTenant(ctx context.Context, p datatypes.Principal, id string) error {
	if !policy.IsAllowed(policy.ActionTenantDelete, p, policy.Resource{TenantID: id}) {
		return datatypes.AccessDeniedf("only superadmins can delete tenants")
	}
	err := d.store.Update(ctx, func(tx store.Tx) error {
		if _, err := tx.GetTenant(id); err != nil {
			return err
		}
		return tx.DeleteTenant(id)
	})
	if err != nil {
		return err
	}
	d.logger.Warn("tenant deleted",
		slog.String("tenant_id", id),
		slog.String("deleted_by", p.UserID))
	return nil
}

// =============================================================================
// Users
// =============================================================================

// CreateUser adds a user with the given role to the principal's tenant.
func (d *Directory) CreateUser(ctx context.Context, p datatypes.Principal, req datatypes.CreateUserRequest) (*datatypes.PublicUser, error) {
	if !policy.IsAllowed(policy.ActionUserCreate, p, policy.Resource{TenantID: p.TenantID}) {
		return nil, datatypes.AccessDeniedf("only admins can create users")
	}
	if p.TenantID == "" {
		return nil, datatypes.NewValidationError("tenantId", "caller is not a member of a tenant")
	}
	req.Email = datatypes.NormalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if err := datatypes.Validate(&req); err != nil {
		return nil, err
	}
	hash, err := d.hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	now := d.now()
	user := &datatypes.User{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
		TenantID:     p.TenantID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = d.store.Update(ctx, func(tx store.Tx) error {
		if err := tx.GuardTenant(p.TenantID); err != nil {
			return err
		}
		return tx.PutUser(user)
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("user created",
		slog.String("user_id", user.ID),
		slog.String("tenant_id", user.TenantID),
		slog.String("role", string(user.Role)),
		slog.String("created_by", p.UserID))
	pub := user.Public()
	return &pub, nil
}

// ListUsers returns the users of the principal's tenant by name.
func (d *Directory) ListUsers(ctx context.Context, p datatypes.Principal) ([]datatypes.PublicUser, error) {
	if p.TenantID == "" || !policy.IsAllowed(policy.ActionTenantRead, p, policy.Resource{TenantID: p.TenantID}) {
		return nil, datatypes.AccessDeniedf("cannot list users")
	}
	var users []*datatypes.User
	err := d.store.View(ctx, func(tx store.Tx) error {
		var err error
		users, err = tx.ListUsers(p.TenantID)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]datatypes.PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	slices.SortFunc(out, func(a, b datatypes.PublicUser) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// Me returns the principal's own user record and tenant.
func (d *Directory) Me(ctx context.Context, p datatypes.Principal) (*datatypes.PublicUser, *datatypes.Tenant, error) {
	var (
		user   *datatypes.User
		tenant *datatypes.Tenant
	)
	err := d.store.View(ctx, func(tx store.Tx) error {
		var err error
		user, err = tx.GetUser(p.UserID)
		if err != nil {
			return err
		}
		if user.TenantID == "" {
			return nil
		}
		tenant, err = tx.GetTenant(user.TenantID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	pub := user.Public()
	return &pub, tenant, nil
}

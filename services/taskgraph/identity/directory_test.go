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
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianTasks/pkg/extensions"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/datatypes"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDirectory(t *testing.T) (*Directory, *testClock) {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	clock := &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	d, err := New(st, Config{BcryptCost: bcrypt.MinCost, TokenTTL: time.Hour, Now: clock.Now})
	require.NoError(t, err)
	return d, clock
}

func provisionAcme(t *testing.T, d *Directory) *datatypes.AuthResponse {
	t.Helper()
	resp, err := d.ProvisionTenant(context.Background(), datatypes.ProvisionTenantRequest{
		Name:          "Acme",
		Domain:        "Acme.Test",
		AdminName:     "Ada",
		AdminEmail:    "Ada@Acme.Test",
		AdminPassword: "s3cret!",
	})
	require.NoError(t, err)
	return resp
}

func TestProvisionTenant(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	resp := provisionAcme(t, d)
	require.NotNil(t, resp.Tenant)
	assert.Equal(t, "acme.test", resp.Tenant.Domain)
	assert.Equal(t, resp.User.ID, resp.Tenant.AdminUserID)
	assert.Equal(t, datatypes.RoleAdmin, resp.User.Role)
	assert.Equal(t, "ada@acme.test", resp.User.Email)
	assert.NotEmpty(t, resp.Token)

	p, err := d.Authenticate(ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, datatypes.Principal{UserID: resp.User.ID, Role: datatypes.RoleAdmin, TenantID: resp.Tenant.ID}, p)

	_, err = d.ProvisionTenant(ctx, datatypes.ProvisionTenantRequest{
		Name: "Acme 2", Domain: "acme.test", AdminName: "Bo", AdminEmail: "bo@acme.test", AdminPassword: "s3cret!",
	})
	assert.ErrorIs(t, err, datatypes.ErrConflict)

	_, err = d.ProvisionTenant(ctx, datatypes.ProvisionTenantRequest{Name: "x"})
	var verr *datatypes.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "domain")
	assert.Contains(t, verr.Fields, "adminEmail")
}

func TestRegister_FirstUserBecomesAdmin(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	solo, err := d.Register(ctx, datatypes.RegisterRequest{Name: "Jane Doe", Email: "jane@example.test", Password: "hunter22"})
	require.NoError(t, err)
	require.NotNil(t, solo.Tenant)
	assert.Equal(t, "Jane Doe's Organization", solo.Tenant.Name)
	assert.Equal(t, "jane-doe.local", solo.Tenant.Domain)
	assert.Equal(t, datatypes.RoleAdmin, solo.User.Role)
	assert.Equal(t, solo.User.ID, solo.Tenant.AdminUserID)

	// A second Jane Doe gets a distinct domain.
	twin, err := d.Register(ctx, datatypes.RegisterRequest{Name: "Jane Doe", Email: "jane2@example.test", Password: "hunter22"})
	require.NoError(t, err)
	assert.NotEqual(t, solo.Tenant.Domain, twin.Tenant.Domain)

	joined, err := d.Register(ctx, datatypes.RegisterRequest{
		Name: "Joe", Email: "joe@example.test", Password: "hunter22", TenantID: solo.Tenant.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, datatypes.RoleMember, joined.User.Role)
	assert.Equal(t, solo.Tenant.ID, joined.User.TenantID)
	assert.Equal(t, solo.User.ID, joined.Tenant.AdminUserID)
}

func TestRegister_Rejections(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()
	acme := provisionAcme(t, d)

	_, err := d.Register(ctx, datatypes.RegisterRequest{Name: "Dup", Email: "ADA@acme.test", Password: "hunter22"})
	assert.ErrorIs(t, err, datatypes.ErrConflict)

	_, err = d.Register(ctx, datatypes.RegisterRequest{
		Name: "Lost", Email: "lost@example.test", Password: "hunter22", TenantID: "00000000-0000-0000-0000-000000000000",
	})
	assert.ErrorIs(t, err, datatypes.ErrNotFound)

	_, err = d.Register(ctx, datatypes.RegisterRequest{Name: "Bad", Email: "bad", Password: "x", TenantID: acme.Tenant.ID})
	var verr *datatypes.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "email")
	assert.Contains(t, verr.Fields, "password")
}

func TestLogin(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()
	acme := provisionAcme(t, d)

	resp, err := d.Login(ctx, datatypes.LoginRequest{Email: " ADA@acme.test ", Password: "s3cret!"})
	require.NoError(t, err)
	assert.Equal(t, acme.User.ID, resp.User.ID)
	require.NotNil(t, resp.Tenant)
	assert.Equal(t, acme.Tenant.ID, resp.Tenant.ID)
	assert.NotEqual(t, acme.Token, resp.Token)

	_, err = d.Login(ctx, datatypes.LoginRequest{Email: "ada@acme.test", Password: "wrong"})
	assert.ErrorIs(t, err, datatypes.ErrUnauthenticated)

	_, err = d.Login(ctx, datatypes.LoginRequest{Email: "nobody@acme.test", Password: "s3cret!"})
	assert.ErrorIs(t, err, datatypes.ErrUnauthenticated)
}

func TestAuthenticate_ExpiryAndLogout(t *testing.T) {
	d, clock := newTestDirectory(t)
	ctx := context.Background()
	acme := provisionAcme(t, d)

	_, err := d.Authenticate(ctx, "")
	assert.ErrorIs(t, err, datatypes.ErrUnauthenticated)
	_, err = d.Authenticate(ctx, "forged")
	assert.ErrorIs(t, err, datatypes.ErrUnauthenticated)

	clock.Advance(2 * time.Hour)
	_, err = d.Authenticate(ctx, acme.Token)
	assert.ErrorIs(t, err, datatypes.ErrUnauthenticated)

	fresh, err := d.Login(ctx, datatypes.LoginRequest{Email: "ada@acme.test", Password: "s3cret!"})
	require.NoError(t, err)
	_, err = d.Authenticate(ctx, fresh.Token)
	require.NoError(t, err)

	require.NoError(t, d.Logout(ctx, fresh.Token))
	_, err = d.Authenticate(ctx, fresh.Token)
	assert.ErrorIs(t, err, datatypes.ErrUnauthenticated)
	assert.NoError(t, d.Logout(ctx, fresh.Token))
}

func TestValidate_AuthProvider(t *testing.T) {
	d, _ := newTestDirectory(t)
	acme := provisionAcme(t, d)

	var provider extensions.AuthProvider = d
	info, err := provider.Validate(context.Background(), acme.Token)
	require.NoError(t, err)
	assert.Equal(t, &extensions.AuthInfo{UserID: acme.User.ID, TenantID: acme.Tenant.ID, Role: "admin"}, info)

	_, err = provider.Validate(context.Background(), "forged")
	assert.ErrorIs(t, err, extensions.ErrUnauthorized)
}

func TestAuthenticate_Concurrent(t *testing.T) {
	d, _ := newTestDirectory(t)
	acme := provisionAcme(t, d)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := d.Authenticate(context.Background(), acme.Token)
			if err == nil && p.UserID != acme.User.ID {
				err = errors.New("wrong principal")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestAuthenticate_CancelledCallerDoesNotFailOthers(t *testing.T) {
	d, _ := newTestDirectory(t)
	acme := provisionAcme(t, d)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Authenticate(cancelled, acme.Token)
	assert.ErrorIs(t, err, context.Canceled)

	var wg sync.WaitGroup
	liveErrs := make(chan error, 32)
	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = d.Authenticate(cancelled, acme.Token)
				return
			}
			p, err := d.Authenticate(context.Background(), acme.Token)
			if err == nil && p.UserID != acme.User.ID {
				err = errors.New("wrong principal")
			}
			liveErrs <- err
		}()
	}
	wg.Wait()
	close(liveErrs)
	for err := range liveErrs {
		assert.NoError(t, err)
	}
}

func TestEnsureSuperadmin(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()
	boot := BootstrapAdmin{Email: "root@ops.test", Password: "changeme"}

	require.NoError(t, d.EnsureSuperadmin(ctx, boot))
	require.NoError(t, d.EnsureSuperadmin(ctx, boot), "idempotent")

	resp, err := d.Login(ctx, datatypes.LoginRequest{Email: "root@ops.test", Password: "changeme"})
	require.NoError(t, err)
	assert.Equal(t, datatypes.RoleSuperAdmin, resp.User.Role)
	assert.Empty(t, resp.User.TenantID)
	assert.Nil(t, resp.Tenant)

	assert.Error(t, d.EnsureSuperadmin(ctx, BootstrapAdmin{}))
}

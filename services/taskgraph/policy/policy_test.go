// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import (
	"testing"

	"github.com/AleutianAI/AleutianTasks/services/taskgraph/datatypes"
	"github.com/stretchr/testify/assert"
)

func principal(id string, role datatypes.Role, tenant string) datatypes.Principal {
	return datatypes.Principal{UserID: id, Role: role, TenantID: tenant}
}

func TestIsAllowed_TaskMatrix(t *testing.T) {
	own := Resource{TenantID: "t1", AssigneeID: "assignee"}

	member := principal("m", datatypes.RoleMember, "t1")
	assignee := principal("assignee", datatypes.RoleMember, "t1")
	manager := principal("mgr", datatypes.RoleManager, "t1")
	admin := principal("adm", datatypes.RoleAdmin, "t1")

	tests := []struct {
		action Action
		p      datatypes.Principal
		want   bool
	}{
		{ActionTaskCreate, member, false},
		{ActionTaskCreate, manager, true},
		{ActionTaskCreate, admin, true},

		{ActionTaskRead, member, true},

		{ActionTaskUpdate, member, false},
		{ActionTaskUpdate, assignee, true},
		{ActionTaskUpdate, manager, true},

		{ActionTaskPlan, assignee, false},
		{ActionTaskPlan, manager, true},

		{ActionTaskComplete, member, false},
		{ActionTaskComplete, assignee, true},
		{ActionTaskComplete, admin, true},

		{ActionTaskDelete, member, false},
		{ActionTaskDelete, assignee, false},
		{ActionTaskDelete, manager, false},
		{ActionTaskDelete, admin, true},

		{ActionDependencyRead, member, true},
		{ActionDependencyWrite, assignee, false},
		{ActionDependencyWrite, manager, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.action)+"/"+tt.p.UserID, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAllowed(tt.action, tt.p, own))
		})
	}
}

func TestIsAllowed_CrossTenantAlwaysDenied(t *testing.T) {
	other := Resource{TenantID: "t2", AssigneeID: "adm"}
	actions := []Action{
		ActionTaskCreate, ActionTaskRead, ActionTaskUpdate, ActionTaskPlan,
		ActionTaskComplete, ActionTaskDelete, ActionDependencyRead, ActionDependencyWrite,
	}
	for _, role := range []datatypes.Role{datatypes.RoleMember, datatypes.RoleManager, datatypes.RoleAdmin, datatypes.RoleSuperAdmin} {
		p := principal("adm", role, "t1")
		for _, a := range actions {
			assert.False(t, IsAllowed(a, p, other), "%s as %s", a, role)
		}
	}
}

func TestIsAllowed_TenantAdministration(t *testing.T) {
	admin := principal("adm", datatypes.RoleAdmin, "t1")
	super := principal("root", datatypes.RoleSuperAdmin, "")
	member := principal("m", datatypes.RoleMember, "t1")

	assert.True(t, IsAllowed(ActionTenantRead, member, Resource{TenantID: "t1"}))
	assert.False(t, IsAllowed(ActionTenantRead, member, Resource{TenantID: "t2"}))
	assert.True(t, IsAllowed(ActionTenantRead, super, Resource{TenantID: "t2"}))

	assert.True(t, IsAllowed(ActionTenantUpdate, admin, Resource{TenantID: "t1"}))
	assert.False(t, IsAllowed(ActionTenantUpdate, admin, Resource{TenantID: "t2"}))
	assert.False(t, IsAllowed(ActionTenantUpdate, member, Resource{TenantID: "t1"}))

	assert.False(t, IsAllowed(ActionTenantList, admin, Resource{}))
	assert.True(t, IsAllowed(ActionTenantList, super, Resource{}))
	assert.False(t, IsAllowed(ActionTenantDelete, admin, Resource{TenantID: "t1"}))
	assert.True(t, IsAllowed(ActionTenantDelete, super, Resource{TenantID: "t1"}))

	assert.True(t, IsAllowed(ActionUserCreate, admin, Resource{TenantID: "t1"}))
	assert.False(t, IsAllowed(ActionUserCreate, member, Resource{TenantID: "t1"}))
}

func TestIsAllowed_RejectsAnonymousAndUnknownRoles(t *testing.T) {
	r := Resource{TenantID: "t1"}
	assert.False(t, IsAllowed(ActionTaskRead, datatypes.Principal{Role: datatypes.RoleAdmin, TenantID: "t1"}, r))
	assert.False(t, IsAllowed(ActionTaskRead, principal("x", "owner", "t1"), r))
	assert.False(t, IsAllowed("task:unknown", principal("x", datatypes.RoleAdmin, "t1"), r))
}

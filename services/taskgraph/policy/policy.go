// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy encodes the role and ownership rules of the task graph
// service as a pure function. It never touches storage; callers load the
// resource and pass the fields the rules need.
package policy

import (
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/datatypes"
)

// Action names an operation subject to authorization.
type Action string

const (
	ActionTaskCreate      Action = "task:create"
	ActionTaskRead        Action = "task:read"
	ActionTaskUpdate      Action = "task:update"
	ActionTaskPlan        Action = "task:plan"
	ActionTaskComplete    Action = "task:complete"
	ActionTaskDelete      Action = "task:delete"
	ActionDependencyRead  Action = "dependency:read"
	ActionDependencyWrite Action = "dependency:write"
	ActionTenantRead      Action = "tenant:read"
	ActionTenantUpdate    Action = "tenant:update"
	ActionTenantList      Action = "tenant:list"
	ActionTenantDelete    Action = "tenant:delete"
	ActionUserCreate      Action = "user:create"
)

// Resource carries the ownership attributes of the record being acted on.
// For tenant actions TenantID is the tenant itself.
type Resource struct {
	TenantID   string
	AssigneeID string
}

// IsAllowed reports whether principal may perform action on resource.
//
// Task and dependency actions require the resource to belong to the
// principal's tenant, whatever the role. Tenant administration by a
// superadmin is the only cross-tenant access.
func IsAllowed(action Action, p datatypes.Principal, r Resource) bool {
	if p.UserID == "" || !p.Role.Valid() {
		return false
	}

	sameTenant := p.TenantID != "" && p.TenantID == r.TenantID
	isAssignee := r.AssigneeID != "" && r.AssigneeID == p.UserID

	switch action {
	case ActionTaskCreate, ActionTaskPlan, ActionDependencyWrite:
		return sameTenant && p.Role.AtLeast(datatypes.RoleManager)

	case ActionTaskRead, ActionDependencyRead:
		return sameTenant

	case ActionTaskUpdate, ActionTaskComplete:
		return sameTenant && (p.Role.AtLeast(datatypes.RoleManager) || isAssignee)

	case ActionTaskDelete:
		return sameTenant && p.Role.AtLeast(datatypes.RoleAdmin)

	case ActionTenantRead:
		return sameTenant || p.Role == datatypes.RoleSuperAdmin

	case ActionTenantUpdate, ActionUserCreate:
		if p.Role == datatypes.RoleSuperAdmin {
			return true
		}
		return sameTenant && p.Role == datatypes.RoleAdmin

	case ActionTenantList, ActionTenantDelete:
		return p.Role == datatypes.RoleSuperAdmin
	}
	return false
}

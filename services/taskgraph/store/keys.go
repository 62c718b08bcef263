// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

// Key layout. Ids are UUIDs and never contain ':'. Every prefix ends in ':'
// so "task:" never matches "taskid:" during a scan.
//
//	tenant:<tenant>                     Tenant
//	tenantdomain:<domain>               tenant id
//	tenantguard:<tenant>                tenant id, written by GuardTenant
//	user:<user>                         User
//	useremail:<email>                   user id
//	usertenant:<tenant>:<user>          (index)
//	session:<token hash>                Session, expires with Badger TTL
//	task:<tenant>:<task>                Task
//	taskid:<task>                       tenant id
//	edge:<tenant>:<task>:<dep>          Dependency
//	edgerev:<tenant>:<dep>:<task>       Dependency (reverse index)
const (
	prefixTenant       = "tenant:"
	prefixTenantDomain = "tenantdomain:"
	prefixTenantGuard  = "tenantguard:"
	prefixUser         = "user:"
	prefixUserEmail    = "useremail:"
	prefixUserTenant   = "usertenant:"
	prefixSession      = "session:"
	prefixTask         = "task:"
	prefixTaskID       = "taskid:"
	prefixEdge         = "edge:"
	prefixEdgeRev      = "edgerev:"
)

func tenantKey(id string) []byte { return []byte(prefixTenant + id) }

func tenantDomainKey(domain string) []byte { return []byte(prefixTenantDomain + domain) }

func tenantGuardKey(id string) []byte { return []byte(prefixTenantGuard + id) }

func userKey(id string) []byte { return []byte(prefixUser + id) }

func userEmailKey(email string) []byte { return []byte(prefixUserEmail + email) }

func userTenantKey(tenantID, userID string) []byte {
	return []byte(prefixUserTenant + tenantID + ":" + userID)
}

func userTenantPrefix(tenantID string) []byte { return []byte(prefixUserTenant + tenantID + ":") }

func sessionKey(hash string) []byte { return []byte(prefixSession + hash) }

func taskKey(tenantID, taskID string) []byte { return []byte(prefixTask + tenantID + ":" + taskID) }

func taskPrefix(tenantID string) []byte { return []byte(prefixTask + tenantID + ":") }

func taskIDKey(taskID string) []byte { return []byte(prefixTaskID + taskID) }

func edgeKey(tenantID, taskID, depID string) []byte {
	return []byte(prefixEdge + tenantID + ":" + taskID + ":" + depID)
}

func edgeRevKey(tenantID, depID, taskID string) []byte {
	return []byte(prefixEdgeRev + tenantID + ":" + depID + ":" + taskID)
}

func edgeTenantPrefix(tenantID string) []byte { return []byte(prefixEdge + tenantID + ":") }

func edgeFromPrefix(tenantID, taskID string) []byte {
	return []byte(prefixEdge + tenantID + ":" + taskID + ":")
}

func edgeRevTenantPrefix(tenantID string) []byte { return []byte(prefixEdgeRev + tenantID + ":") }

func edgeToPrefix(tenantID, depID string) []byte {
	return []byte(prefixEdgeRev + tenantID + ":" + depID + ":")
}

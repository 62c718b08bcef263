// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// Event payloads. Each is published on the tenant channel of the task it
// concerns, under the event name given in its comment.

// TaskCreatedEvent is published as "taskCreated".
type TaskCreatedEvent struct {
	Task      *Task  `json:"task"`
	CreatedBy string `json:"createdBy"`
}

// TaskUpdatedEvent is published as "taskUpdated" after every successful
// update or completion.
type TaskUpdatedEvent struct {
	Task      *Task  `json:"task"`
	UpdatedBy string `json:"updatedBy"`
}

// TaskCompletedEvent is published as "taskCompleted" when a task moves
// into the completed state. DependentTasks lists every task that depends
// on it.
type TaskCompletedEvent struct {
	TaskID         string   `json:"taskId"`
	CompletedBy    string   `json:"completedBy"`
	DependentTasks []string `json:"dependentTasks"`
}

// DependencyCompletedEvent is published as "dependencyCompleted" once per
// dependent when a task is completed. TaskID is the dependent.
type DependencyCompletedEvent struct {
	TaskID        string `json:"taskId"`
	CompletedTask *Task  `json:"completedTask"`
}

// TaskDeletedEvent is published as "taskDeleted".
type TaskDeletedEvent struct {
	TaskID    string `json:"taskId"`
	DeletedBy string `json:"deletedBy"`
}

// DependencyAddedEvent is published as "dependencyAdded".
type DependencyAddedEvent struct {
	Dependency *Dependency `json:"dependency"`
	AddedBy    string      `json:"addedBy"`
}

// DependencyRemovedEvent is published as "dependencyRemoved".
type DependencyRemovedEvent struct {
	TaskID          string `json:"taskId"`
	DependentTaskID string `json:"dependentTaskId"`
	RemovedBy       string `json:"removedBy"`
}

// Copyright 2022 Board of Trustees of the University of Illinois.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import "time"

// Audit event types emitted after commits
const (
	AuditGroupCreated     string = "group.created"
	AuditGroupDeleted     string = "group.deleted"
	AuditGroupTypeChanged string = "group.type_changed"
	AuditAppCreated       string = "app.created"
	AuditAppDeleted       string = "app.deleted"
	AuditTagCreated       string = "tag.created"
	AuditTagUpdated       string = "tag.updated"
	AuditTagDeleted       string = "tag.deleted"
	AuditGroupUsersChange string = "group.users_modified"
	AuditRoleGroupsChange string = "role.groups_modified"
	AuditRequestCreated   string = "request.created"
	AuditRequestResolved  string = "request.resolved"
)

// AuditEvent is the envelope handed to audit hooks after every commit
type AuditEvent struct {
	ID         string                 `json:"id"`
	EventType  string                 `json:"event_type"`
	Timestamp  time.Time              `json:"timestamp"`
	ActorID    string                 `json:"actor_id"`
	ActorEmail *string                `json:"actor_email"`
	TargetType string                 `json:"target_type"`
	TargetID   string                 `json:"target_id"`
	TargetName *string                `json:"target_name"`
	Action     string                 `json:"action"`
	Reason     *string                `json:"reason"`
	Payload    map[string]interface{} `json:"payload"`
	Metadata   map[string]interface{} `json:"metadata"`
} //@name AuditEvent

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

// Request statuses. Pending is the only non-terminal state.
const (
	RequestStatusPending  string = "pending"
	RequestStatusApproved string = "approved"
	RequestStatusRejected string = "rejected"
)

// AccessRequest asks for direct membership or ownership of a group
type AccessRequest struct {
	ID          string `json:"id" bson:"_id"`
	RequesterID string `json:"requester_id" bson:"requester_id"`
	GroupID     string `json:"group_id" bson:"group_id"`

	RequestOwnership bool       `json:"request_ownership" bson:"request_ownership"`
	RequestReason    string     `json:"request_reason" bson:"request_reason"`
	RequestEndingAt  *time.Time `json:"request_ending_at" bson:"request_ending_at"`

	Status           string     `json:"status" bson:"status"` //pending, approved, rejected
	ResolvedAt       *time.Time `json:"resolved_at" bson:"resolved_at"`
	ResolverID       *string    `json:"resolver_id" bson:"resolver_id"`
	ResolutionReason *string    `json:"resolution_reason" bson:"resolution_reason"`
	ApprovalEndingAt *time.Time `json:"approval_ending_at" bson:"approval_ending_at"`
	ApprovedGrantID  *string    `json:"approved_grant_id" bson:"approved_grant_id"`

	DateCreated time.Time  `json:"date_created" bson:"date_created"`
	DateUpdated *time.Time `json:"date_updated" bson:"date_updated"`
} //@name AccessRequest

// IsPending says if the request has not reached a terminal state
func (r *AccessRequest) IsPending() bool {
	return r.Status == RequestStatusPending
}

// RoleRequest asks for membership-via-association of the requester's role
type RoleRequest struct {
	ID              string `json:"id" bson:"_id"`
	RequesterID     string `json:"requester_id" bson:"requester_id"`
	RequesterRoleID string `json:"requester_role_id" bson:"requester_role_id"`
	GroupID         string `json:"group_id" bson:"group_id"`

	RequestOwnership bool       `json:"request_ownership" bson:"request_ownership"`
	RequestReason    string     `json:"request_reason" bson:"request_reason"`
	RequestEndingAt  *time.Time `json:"request_ending_at" bson:"request_ending_at"`

	Status           string     `json:"status" bson:"status"`
	ResolvedAt       *time.Time `json:"resolved_at" bson:"resolved_at"`
	ResolverID       *string    `json:"resolver_id" bson:"resolver_id"`
	ResolutionReason *string    `json:"resolution_reason" bson:"resolution_reason"`
	ApprovalEndingAt *time.Time `json:"approval_ending_at" bson:"approval_ending_at"`
	ApprovedMapID    *string    `json:"approved_map_id" bson:"approved_map_id"`

	DateCreated time.Time  `json:"date_created" bson:"date_created"`
	DateUpdated *time.Time `json:"date_updated" bson:"date_updated"`
} //@name RoleRequest

// IsPending says if the request has not reached a terminal state
func (r *RoleRequest) IsPending() bool {
	return r.Status == RequestStatusPending
}

// GroupRequest asks to create a group. It holds both the requested and the
// resolved projections so approvers can edit before creation.
type GroupRequest struct {
	ID          string `json:"id" bson:"_id"`
	RequesterID string `json:"requester_id" bson:"requester_id"`

	RequestedName        string  `json:"requested_name" bson:"requested_name"`
	RequestedDescription string  `json:"requested_description" bson:"requested_description"`
	RequestedType        string  `json:"requested_type" bson:"requested_type"`
	RequestedAppID       *string `json:"requested_app_id" bson:"requested_app_id"`
	RequestReason        string  `json:"request_reason" bson:"request_reason"`

	ResolvedName        *string `json:"resolved_name" bson:"resolved_name"`
	ResolvedDescription *string `json:"resolved_description" bson:"resolved_description"`
	ResolvedType        *string `json:"resolved_type" bson:"resolved_type"`
	ResolvedAppID       *string `json:"resolved_app_id" bson:"resolved_app_id"`

	Status           string     `json:"status" bson:"status"`
	ResolvedAt       *time.Time `json:"resolved_at" bson:"resolved_at"`
	ResolverID       *string    `json:"resolver_id" bson:"resolver_id"`
	ResolutionReason *string    `json:"resolution_reason" bson:"resolution_reason"`
	CreatedGroupID   *string    `json:"created_group_id" bson:"created_group_id"`

	DateCreated time.Time  `json:"date_created" bson:"date_created"`
	DateUpdated *time.Time `json:"date_updated" bson:"date_updated"`
} //@name GroupRequest

// IsPending says if the request has not reached a terminal state
func (r *GroupRequest) IsPending() bool {
	return r.Status == RequestStatusPending
}

// RequestFilter filters request lookups
type RequestFilter struct {
	IDs              []string
	Statuses         []string
	GroupIDs         []string
	RequesterIDs     []string
	RequesterRoleIDs []string
	Ownership        *bool
	CreatedBefore    *time.Time
	EndingBefore     *time.Time
}

// RequestResolution is the write-once terminal projection of a request
type RequestResolution struct {
	Status           string
	ResolvedAt       time.Time
	ResolverID       *string
	ResolutionReason *string
	ApprovalEndingAt *time.Time
	ApprovedGrantID  *string
	ApprovedMapID    *string
	CreatedGroupID   *string
}

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

// Grant is a single temporal edge stating "user U is a member/owner of group G
// from date_created until ended_at". A direct grant has a nil RoleGroupMapID; a
// derived grant exists because a role containing the user is associated with the
// group. Multiple simultaneous active grants for the same (user, group, is_owner)
// are allowed and distinguishable by origin.
type Grant struct {
	ID      string `json:"id" bson:"_id"`
	UserID  string `json:"user_id" bson:"user_id"`
	GroupID string `json:"group_id" bson:"group_id"`
	IsOwner bool   `json:"is_owner" bson:"is_owner"`

	CreatedReason  string  `json:"created_reason" bson:"created_reason"`
	CreatedActorID string  `json:"created_actor_id" bson:"created_actor_id"`
	EndedActorID   *string `json:"ended_actor_id" bson:"ended_actor_id"`

	RoleGroupMapID  *string `json:"role_group_map_id" bson:"role_group_map_id"`
	AccessRequestID *string `json:"access_request_id" bson:"access_request_id"`

	// ShouldExpire is a UI hint for the expirations page, never correctness
	ShouldExpire bool `json:"should_expire" bson:"should_expire"`

	DateCreated time.Time  `json:"date_created" bson:"date_created"`
	EndedAt     *time.Time `json:"ended_at" bson:"ended_at"`
} //@name Grant

// IsDirect says if the grant was given directly rather than through a role
func (g *Grant) IsDirect() bool {
	return g.RoleGroupMapID == nil
}

// IsActive says if the grant has not been ended at the given time
func (g *Grant) IsActive(at time.Time) bool {
	return g.EndedAt == nil || g.EndedAt.After(at)
}

// GrantFilter filters grant lookups. ActiveAt limits to grants whose ended_at is
// nil or after the given time.
type GrantFilter struct {
	IDs             []string
	UserIDs         []string
	GroupIDs        []string
	IsOwner         *bool
	DirectOnly      bool
	RoleGroupMapIDs []string
	ActiveAt        *time.Time
	EndingBefore    *time.Time
	ShouldExpire    *bool
}

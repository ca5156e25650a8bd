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

// User represents a person known to the identity provider. The id is the IdP user id.
type User struct {
	ID          string  `json:"id" bson:"_id"`
	Email       string  `json:"email" bson:"email"`
	FirstName   string  `json:"first_name" bson:"first_name"`
	LastName    string  `json:"last_name" bson:"last_name"`
	DisplayName string  `json:"display_name" bson:"display_name"`
	ManagerID   *string `json:"manager_id" bson:"manager_id"`

	DeletedAt   *time.Time `json:"deleted_at" bson:"deleted_at"`
	DateCreated time.Time  `json:"date_created" bson:"date_created"`
	DateUpdated *time.Time `json:"date_updated" bson:"date_updated"`
} //@name User

// IsDeleted says if the user has been soft deleted
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// GetDisplayName constructs a display name based on the current data state
func (u *User) GetDisplayName() string {
	if len(u.DisplayName) > 0 {
		return u.DisplayName
	}
	if len(u.FirstName) > 0 || len(u.LastName) > 0 {
		if len(u.FirstName) > 0 && len(u.LastName) > 0 {
			return u.FirstName + " " + u.LastName
		}
		return u.FirstName + u.LastName
	}
	return u.Email
}

// UserFilter filters user lookups
type UserFilter struct {
	IDs            []string
	IncludeDeleted bool
}

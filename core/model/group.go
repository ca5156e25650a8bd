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

import (
	"fmt"
	"strings"
	"time"
)

// Group type discriminator values
const (
	GroupTypePlain string = "plain"
	GroupTypeRole  string = "role"
	GroupTypeApp   string = "app"
)

// RoleGroupPrefix is the reserved name prefix for role groups
const RoleGroupPrefix = "Role-"

// AppGroupPrefix is the leading token of app group names
const AppGroupPrefix = "App-"

// AppOwnersSuffix is the name suffix of the owner group created for every app
const AppOwnersSuffix = "Owners"

// Group represents a group mirrored in the identity provider. The id is the IdP
// group id for managed and adopted groups. Exactly one of the three types applies:
// plain groups, role groups (fan their members out to associated groups) and app
// groups (owned by an App).
type Group struct {
	ID          string `json:"id" bson:"_id"`
	Type        string `json:"type" bson:"type"` //plain, role, app
	Name        string `json:"name" bson:"name"`
	Description string `json:"description" bson:"description"`

	// IsManaged is false when the group exists in the IdP but was not created by
	// this system. Unmanaged groups never receive IdP writes.
	IsManaged bool `json:"is_managed" bson:"is_managed"`

	// app groups only
	AppID      *string `json:"app_id" bson:"app_id"`
	IsAppOwner bool    `json:"is_app_owner" bson:"is_app_owner"`

	DeletedAt   *time.Time `json:"deleted_at" bson:"deleted_at"`
	DateCreated time.Time  `json:"date_created" bson:"date_created"`
	DateUpdated *time.Time `json:"date_updated" bson:"date_updated"`
} //@name Group

// IsDeleted says if the group has been soft deleted
func (g *Group) IsDeleted() bool {
	return g.DeletedAt != nil
}

// IsRole says if the group is a role group
func (g *Group) IsRole() bool {
	return g.Type == GroupTypeRole
}

// IsAppGroup says if the group belongs to an app
func (g *Group) IsAppGroup() bool {
	return g.Type == GroupTypeApp
}

// AppGroupNamePrefix constructs the reserved name prefix for groups of the given app
func AppGroupNamePrefix(appName string) string {
	return fmt.Sprintf("%s%s-", AppGroupPrefix, appName)
}

// HasGroupTypePrefix verifies the name carries the prefix required by the group type
func HasGroupTypePrefix(groupType string, name string, appName string) bool {
	switch groupType {
	case GroupTypeRole:
		return strings.HasPrefix(name, RoleGroupPrefix)
	case GroupTypeApp:
		return strings.HasPrefix(name, AppGroupNamePrefix(appName))
	default:
		return !strings.HasPrefix(name, RoleGroupPrefix) && !strings.HasPrefix(name, AppGroupPrefix)
	}
}

// GroupFilter filters group lookups
type GroupFilter struct {
	IDs            []string
	Types          []string
	AppID          *string
	ManagedOnly    bool
	IncludeDeleted bool
}

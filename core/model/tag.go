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

// Recognized tag constraint keys
const (
	ConstraintMemberTimeLimit           string = "member_time_limit"
	ConstraintOwnerTimeLimit            string = "owner_time_limit"
	ConstraintDisallowSelfAddMembership string = "disallow_self_add_membership"
	ConstraintDisallowSelfAddOwnership  string = "disallow_self_add_ownership"
	ConstraintRequireReason             string = "require_reason"
	ConstraintOwnerCannotAddSelf        string = "owner_cannot_add_self"
)

var recognizedConstraintKeys = map[string]bool{
	ConstraintMemberTimeLimit:           true,
	ConstraintOwnerTimeLimit:            true,
	ConstraintDisallowSelfAddMembership: true,
	ConstraintDisallowSelfAddOwnership:  true,
	ConstraintRequireReason:             true,
	ConstraintOwnerCannotAddSelf:        true,
}

// IsRecognizedConstraintKey says if the key is one the engine knows how to coalesce
func IsRecognizedConstraintKey(key string) bool {
	return recognizedConstraintKeys[key]
}

// Tag carries named policy constraints attached to groups and apps
type Tag struct {
	ID          string                 `json:"id" bson:"_id"`
	Name        string                 `json:"name" bson:"name"`
	Description string                 `json:"description" bson:"description"`
	Enabled     bool                   `json:"enabled" bson:"enabled"`
	Constraints map[string]interface{} `json:"constraints" bson:"constraints"`

	DeletedAt   *time.Time `json:"deleted_at" bson:"deleted_at"`
	DateCreated time.Time  `json:"date_created" bson:"date_created"`
	DateUpdated *time.Time `json:"date_updated" bson:"date_updated"`
} //@name Tag

// IsDeleted says if the tag has been soft deleted
func (t *Tag) IsDeleted() bool {
	return t.DeletedAt != nil
}

// TimeLimitConstraint reads a duration constraint in seconds. BSON decodes numbers
// into several Go types so all of them are accepted.
func (t *Tag) TimeLimitConstraint(key string) *int64 {
	if t.Constraints == nil {
		return nil
	}
	value, ok := t.Constraints[key]
	if !ok {
		return nil
	}

	var seconds int64
	switch typed := value.(type) {
	case int:
		seconds = int64(typed)
	case int32:
		seconds = int64(typed)
	case int64:
		seconds = typed
	case float64:
		seconds = int64(typed)
	default:
		return nil
	}
	if seconds <= 0 {
		return nil
	}
	return &seconds
}

// BoolConstraint reads a boolean constraint. Missing or mistyped values read as false.
func (t *Tag) BoolConstraint(key string) bool {
	if t.Constraints == nil {
		return false
	}
	value, ok := t.Constraints[key]
	if !ok {
		return false
	}
	typed, ok := value.(bool)
	return ok && typed
}

// GroupTagMap is the edge between a tag and a group. AppTagMapID is set when the
// edge was propagated from an app-level tag.
type GroupTagMap struct {
	ID          string     `json:"id" bson:"_id"`
	TagID       string     `json:"tag_id" bson:"tag_id"`
	GroupID     string     `json:"group_id" bson:"group_id"`
	AppTagMapID *string    `json:"app_tag_map_id" bson:"app_tag_map_id"`
	DateCreated time.Time  `json:"date_created" bson:"date_created"`
	EndedAt     *time.Time `json:"ended_at" bson:"ended_at"`
} //@name GroupTagMap

// IsActive says if the edge has not been ended
func (m *GroupTagMap) IsActive(at time.Time) bool {
	return m.EndedAt == nil || m.EndedAt.After(at)
}

// AppTagMap is the edge between a tag and an app
type AppTagMap struct {
	ID          string     `json:"id" bson:"_id"`
	TagID       string     `json:"tag_id" bson:"tag_id"`
	AppID       string     `json:"app_id" bson:"app_id"`
	DateCreated time.Time  `json:"date_created" bson:"date_created"`
	EndedAt     *time.Time `json:"ended_at" bson:"ended_at"`
} //@name AppTagMap

// IsActive says if the edge has not been ended
func (m *AppTagMap) IsActive(at time.Time) bool {
	return m.EndedAt == nil || m.EndedAt.After(at)
}

// TagFilter filters tag lookups
type TagFilter struct {
	IDs            []string
	EnabledOnly    bool
	IncludeDeleted bool
}

// GroupTagMapFilter filters group tag map lookups
type GroupTagMapFilter struct {
	GroupIDs     []string
	TagIDs       []string
	AppTagMapIDs []string
	ActiveOnly   bool
}

// AppTagMapFilter filters app tag map lookups
type AppTagMapFilter struct {
	AppIDs     []string
	TagIDs     []string
	ActiveOnly bool
}

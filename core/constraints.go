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

package core

import (
	"time"

	"access/core/model"
	"access/driven/storage"
)

// coalesceTimeLimit reduces a duration constraint across tags to the minimum
// positive value in seconds. Nil when no tag sets the key.
func coalesceTimeLimit(key string, tags []model.Tag) *int64 {
	var effective *int64
	for index := range tags {
		limit := tags[index].TimeLimitConstraint(key)
		if limit == nil {
			continue
		}
		if effective == nil || *limit < *effective {
			effective = limit
		}
	}
	return effective
}

// coalesceBool reduces a boolean constraint across tags: true iff any tag sets it
func coalesceBool(key string, tags []model.Tag) bool {
	for index := range tags {
		if tags[index].BoolConstraint(key) {
			return true
		}
	}
	return false
}

// clampEndedAt bounds a requested ended-at by now + limit. The limit binds only
// managed groups; for unmanaged groups it is advisory and the requested value
// passes through.
func clampEndedAt(requested *time.Time, now time.Time, limitSeconds *int64, managed bool) *time.Time {
	if limitSeconds == nil || !managed {
		return requested
	}
	maxEnd := now.Add(time.Duration(*limitSeconds) * time.Second)
	if requested == nil || requested.After(maxEnd) {
		return &maxEnd
	}
	return requested
}

// minEndedAt picks the earlier of two ended-at values, treating nil as +infinity
func minEndedAt(a *time.Time, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.Before(*b) {
		return a
	}
	return b
}

// activeGroupTags loads the enabled tags currently attached to a group
func (app *Application) activeGroupTags(context storage.TransactionContext, groupID string) ([]model.Tag, error) {
	now := time.Now()
	maps, err := app.storage.FindGroupTagMaps(context, model.GroupTagMapFilter{GroupIDs: []string{groupID}, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	if len(maps) == 0 {
		return nil, nil
	}

	tagIDs := []string{}
	seen := map[string]bool{}
	for _, tagMap := range maps {
		if !tagMap.IsActive(now) || seen[tagMap.TagID] {
			continue
		}
		seen[tagMap.TagID] = true
		tagIDs = append(tagIDs, tagMap.TagID)
	}
	if len(tagIDs) == 0 {
		return nil, nil
	}

	return app.storage.FindTags(context, model.TagFilter{IDs: tagIDs, EnabledOnly: true})
}

// coalescedTagsForGroup resolves the tag set governing a group. For a role group
// the set is the union of the role's own tags and the tags of every group it is
// actively associated with as member or owner.
func (app *Application) coalescedTagsForGroup(context storage.TransactionContext, group *model.Group) ([]model.Tag, error) {
	tags, err := app.activeGroupTags(context, group.ID)
	if err != nil {
		return nil, err
	}
	if !group.IsRole() {
		return tags, nil
	}

	now := time.Now()
	maps, err := app.storage.FindRoleGroupMaps(context, model.RoleGroupMapFilter{RoleGroupIDs: []string{group.ID}, ActiveAt: &now})
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	for index := range tags {
		seen[tags[index].ID] = true
	}
	for _, roleMap := range maps {
		associatedTags, err := app.activeGroupTags(context, roleMap.GroupID)
		if err != nil {
			return nil, err
		}
		for index := range associatedTags {
			if !seen[associatedTags[index].ID] {
				seen[associatedTags[index].ID] = true
				tags = append(tags, associatedTags[index])
			}
		}
	}
	return tags, nil
}

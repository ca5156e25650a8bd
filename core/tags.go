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
	"fmt"
	"time"

	"github.com/google/uuid"
	validator "gopkg.in/go-playground/validator.v9"

	"access/core/model"
	"access/driven/storage"
)

// CreateTagInput carries a tag creation
type CreateTagInput struct {
	Name        string `validate:"required,min=1,max=255"`
	Description string
	Enabled     bool
	Constraints map[string]interface{}
	ActorID     string `validate:"required"`
}

// UpdateTagInput carries a tag update. Nil fields keep their current value;
// a non-nil Constraints map replaces the whole set.
type UpdateTagInput struct {
	TagID       string `validate:"required"`
	Name        *string
	Description *string
	Enabled     *bool
	Constraints map[string]interface{}
	ActorID     string `validate:"required"`
}

// CreateTag creates a tag after checking its constraint keys are recognized
func (app *Application) CreateTag(input CreateTagInput) (*model.Tag, error) {
	validate := validator.New()
	if err := validate.Struct(input); err != nil {
		return nil, NewValidationError(err.Error())
	}
	if err := validateConstraintKeys(input.Constraints); err != nil {
		return nil, err
	}

	existing, err := app.storage.FindTagByName(nil, input.Name)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if existing != nil && !existing.IsDeleted() {
		return nil, NewConflictError(fmt.Sprintf("tag name %s already in use", input.Name))
	}

	tag := model.Tag{ID: uuid.NewString(), Name: input.Name, Description: input.Description,
		Enabled: input.Enabled, Constraints: input.Constraints, DateCreated: time.Now()}
	err = app.storage.InsertTag(nil, tag)
	if err != nil {
		return nil, NewStoreError(err)
	}

	app.fireAuditEvent(model.AuditTagCreated, input.ActorID, "tag", tag.ID, &tag.Name, "create", nil,
		map[string]interface{}{"enabled": tag.Enabled, "constraints": tag.Constraints})
	return &tag, nil
}

func validateConstraintKeys(constraints map[string]interface{}) error {
	for key := range constraints {
		if !model.IsRecognizedConstraintKey(key) {
			return NewValidationError(fmt.Sprintf("unrecognized constraint key %s", key))
		}
	}
	return nil
}

// UpdateTag updates the tag and re-clamps the active grants of every group the
// tag governs so a tightened time limit takes effect immediately
func (app *Application) UpdateTag(input UpdateTagInput) (*model.Tag, error) {
	validate := validator.New()
	if err := validate.Struct(input); err != nil {
		return nil, NewValidationError(err.Error())
	}
	if input.Constraints != nil {
		if err := validateConstraintKeys(input.Constraints); err != nil {
			return nil, err
		}
	}

	tag, err := app.storage.FindTag(nil, input.TagID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if tag == nil || tag.IsDeleted() {
		return nil, NewNotFoundError("tag")
	}

	if input.Name != nil && *input.Name != tag.Name {
		existing, err := app.storage.FindTagByName(nil, *input.Name)
		if err != nil {
			return nil, NewStoreError(err)
		}
		if existing != nil && !existing.IsDeleted() && existing.ID != tag.ID {
			return nil, NewConflictError(fmt.Sprintf("tag name %s already in use", *input.Name))
		}
		tag.Name = *input.Name
	}
	if input.Description != nil {
		tag.Description = *input.Description
	}
	if input.Enabled != nil {
		tag.Enabled = *input.Enabled
	}
	if input.Constraints != nil {
		tag.Constraints = input.Constraints
	}
	now := time.Now()
	tag.DateUpdated = &now

	transaction := func(context storage.TransactionContext) error {
		if err := app.storage.UpdateTag(context, *tag); err != nil {
			return err
		}
		return app.reclampTaggedGroups(context, tag.ID, now)
	}
	err = app.storage.PerformTransaction(transaction)
	if err != nil {
		return nil, NewStoreError(err)
	}

	app.fireAuditEvent(model.AuditTagUpdated, input.ActorID, "tag", tag.ID, &tag.Name, "update", nil,
		map[string]interface{}{"enabled": tag.Enabled, "constraints": tag.Constraints})
	return tag, nil
}

// DeleteTag soft-deletes the tag and ends every active edge carrying it
func (app *Application) DeleteTag(tagID string, actorID string) error {
	tag, err := app.storage.FindTag(nil, tagID)
	if err != nil {
		return NewStoreError(err)
	}
	if tag == nil || tag.IsDeleted() {
		return NewNotFoundError("tag")
	}

	now := time.Now()
	transaction := func(context storage.TransactionContext) error {
		groupMaps, err := app.storage.FindGroupTagMaps(context, model.GroupTagMapFilter{TagIDs: []string{tagID}, ActiveOnly: true})
		if err != nil {
			return err
		}
		if len(groupMaps) > 0 {
			ids := make([]string, len(groupMaps))
			for index := range groupMaps {
				ids[index] = groupMaps[index].ID
			}
			if err := app.storage.EndGroupTagMaps(context, ids, now); err != nil {
				return err
			}
		}

		appMaps, err := app.storage.FindAppTagMaps(context, model.AppTagMapFilter{TagIDs: []string{tagID}, ActiveOnly: true})
		if err != nil {
			return err
		}
		if len(appMaps) > 0 {
			ids := make([]string, len(appMaps))
			for index := range appMaps {
				ids[index] = appMaps[index].ID
			}
			if err := app.storage.EndAppTagMaps(context, ids, now); err != nil {
				return err
			}
		}

		return app.storage.SoftDeleteTag(context, tagID, now)
	}
	err = app.storage.PerformTransaction(transaction)
	if err != nil {
		return NewStoreError(err)
	}

	app.fireAuditEvent(model.AuditTagDeleted, actorID, "tag", tag.ID, &tag.Name, "delete", nil, nil)
	return nil
}

// AttachTagToGroup attaches the tag directly to the group and re-clamps the
// group's active grants under the new coalesced limits
func (app *Application) AttachTagToGroup(tagID string, groupID string, actorID string) error {
	tag, group, err := app.loadTagAndGroup(tagID, groupID)
	if err != nil {
		return err
	}

	now := time.Now()
	transaction := func(context storage.TransactionContext) error {
		active, err := app.storage.FindGroupTagMaps(context, model.GroupTagMapFilter{
			TagIDs: []string{tagID}, GroupIDs: []string{groupID}, ActiveOnly: true})
		if err != nil {
			return err
		}
		for index := range active {
			if active[index].AppTagMapID == nil {
				return NewConflictError(fmt.Sprintf("tag %s is already attached to group %s", tag.Name, group.Name))
			}
		}

		err = app.storage.InsertGroupTagMaps(context, []model.GroupTagMap{
			{ID: uuid.NewString(), TagID: tagID, GroupID: groupID, DateCreated: now}})
		if err != nil {
			return err
		}
		return app.reclampGroupGrants(context, *group, now)
	}
	err = app.storage.PerformTransaction(transaction)
	if err != nil {
		if ErrorKind(err) == KindConflict {
			return err
		}
		return NewStoreError(err)
	}

	app.fireAuditEvent(model.AuditTagUpdated, actorID, "tag", tag.ID, &tag.Name, "attach_group", nil,
		map[string]interface{}{"group_id": group.ID, "group_name": group.Name})
	return nil
}

// DetachTagFromGroup ends the direct edges between the tag and the group.
// Propagated app edges stay; they detach through the app.
func (app *Application) DetachTagFromGroup(tagID string, groupID string, actorID string) error {
	tag, group, err := app.loadTagAndGroup(tagID, groupID)
	if err != nil {
		return err
	}

	now := time.Now()
	transaction := func(context storage.TransactionContext) error {
		active, err := app.storage.FindGroupTagMaps(context, model.GroupTagMapFilter{
			TagIDs: []string{tagID}, GroupIDs: []string{groupID}, ActiveOnly: true})
		if err != nil {
			return err
		}
		direct := []string{}
		for index := range active {
			if active[index].AppTagMapID == nil {
				direct = append(direct, active[index].ID)
			}
		}
		if len(direct) == 0 {
			return NewNotFoundError("tag attachment")
		}
		return app.storage.EndGroupTagMaps(context, direct, now)
	}
	err = app.storage.PerformTransaction(transaction)
	if err != nil {
		if ErrorKind(err) == KindNotFound {
			return err
		}
		return NewStoreError(err)
	}

	app.fireAuditEvent(model.AuditTagUpdated, actorID, "tag", tag.ID, &tag.Name, "detach_group", nil,
		map[string]interface{}{"group_id": group.ID, "group_name": group.Name})
	return nil
}

// AttachTagToApp attaches the tag to the app and propagates an edge to each of
// the app's active groups
func (app *Application) AttachTagToApp(tagID string, appID string, actorID string) error {
	tag, appRow, err := app.loadTagAndApp(tagID, appID)
	if err != nil {
		return err
	}

	now := time.Now()
	transaction := func(context storage.TransactionContext) error {
		active, err := app.storage.FindAppTagMaps(context, model.AppTagMapFilter{
			TagIDs: []string{tagID}, AppIDs: []string{appID}, ActiveOnly: true})
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return NewConflictError(fmt.Sprintf("tag %s is already attached to app %s", tag.Name, appRow.Name))
		}

		appTagMap := model.AppTagMap{ID: uuid.NewString(), TagID: tagID, AppID: appID, DateCreated: now}
		if err := app.storage.InsertAppTagMaps(context, []model.AppTagMap{appTagMap}); err != nil {
			return err
		}

		groups, err := app.storage.FindGroups(context, model.GroupFilter{AppID: &appID})
		if err != nil {
			return err
		}
		if len(groups) == 0 {
			return nil
		}
		groupTagMaps := make([]model.GroupTagMap, len(groups))
		for index := range groups {
			appTagMapID := appTagMap.ID
			groupTagMaps[index] = model.GroupTagMap{ID: uuid.NewString(), TagID: tagID,
				GroupID: groups[index].ID, AppTagMapID: &appTagMapID, DateCreated: now}
		}
		if err := app.storage.InsertGroupTagMaps(context, groupTagMaps); err != nil {
			return err
		}
		for index := range groups {
			if err := app.reclampGroupGrants(context, groups[index], now); err != nil {
				return err
			}
		}
		return nil
	}
	err = app.storage.PerformTransaction(transaction)
	if err != nil {
		if ErrorKind(err) == KindConflict {
			return err
		}
		return NewStoreError(err)
	}

	app.fireAuditEvent(model.AuditTagUpdated, actorID, "tag", tag.ID, &tag.Name, "attach_app", nil,
		map[string]interface{}{"app_id": appRow.ID, "app_name": appRow.Name})
	return nil
}

// DetachTagFromApp ends the app edge and every group edge propagated from it
func (app *Application) DetachTagFromApp(tagID string, appID string, actorID string) error {
	tag, appRow, err := app.loadTagAndApp(tagID, appID)
	if err != nil {
		return err
	}

	now := time.Now()
	transaction := func(context storage.TransactionContext) error {
		active, err := app.storage.FindAppTagMaps(context, model.AppTagMapFilter{
			TagIDs: []string{tagID}, AppIDs: []string{appID}, ActiveOnly: true})
		if err != nil {
			return err
		}
		if len(active) == 0 {
			return NewNotFoundError("tag attachment")
		}

		appTagMapIDs := make([]string, len(active))
		for index := range active {
			appTagMapIDs[index] = active[index].ID
		}
		if err := app.storage.EndAppTagMaps(context, appTagMapIDs, now); err != nil {
			return err
		}

		propagated, err := app.storage.FindGroupTagMaps(context, model.GroupTagMapFilter{
			AppTagMapIDs: appTagMapIDs, ActiveOnly: true})
		if err != nil {
			return err
		}
		if len(propagated) == 0 {
			return nil
		}
		ids := make([]string, len(propagated))
		for index := range propagated {
			ids[index] = propagated[index].ID
		}
		return app.storage.EndGroupTagMaps(context, ids, now)
	}
	err = app.storage.PerformTransaction(transaction)
	if err != nil {
		if ErrorKind(err) == KindNotFound {
			return err
		}
		return NewStoreError(err)
	}

	app.fireAuditEvent(model.AuditTagUpdated, actorID, "tag", tag.ID, &tag.Name, "detach_app", nil,
		map[string]interface{}{"app_id": appRow.ID, "app_name": appRow.Name})
	return nil
}

func (app *Application) loadTagAndGroup(tagID string, groupID string) (*model.Tag, *model.Group, error) {
	tag, err := app.storage.FindTag(nil, tagID)
	if err != nil {
		return nil, nil, NewStoreError(err)
	}
	if tag == nil || tag.IsDeleted() {
		return nil, nil, NewNotFoundError("tag")
	}
	group, err := app.storage.FindGroup(nil, groupID)
	if err != nil {
		return nil, nil, NewStoreError(err)
	}
	if group == nil || group.IsDeleted() {
		return nil, nil, NewNotFoundError("group")
	}
	return tag, group, nil
}

func (app *Application) loadTagAndApp(tagID string, appID string) (*model.Tag, *model.App, error) {
	tag, err := app.storage.FindTag(nil, tagID)
	if err != nil {
		return nil, nil, NewStoreError(err)
	}
	if tag == nil || tag.IsDeleted() {
		return nil, nil, NewNotFoundError("tag")
	}
	appRow, err := app.storage.FindApp(nil, appID)
	if err != nil {
		return nil, nil, NewStoreError(err)
	}
	if appRow == nil || appRow.IsDeleted() {
		return nil, nil, NewNotFoundError("app")
	}
	return tag, appRow, nil
}

// reclampTaggedGroups re-clamps every group carrying an active edge to the tag
func (app *Application) reclampTaggedGroups(context storage.TransactionContext, tagID string, now time.Time) error {
	maps, err := app.storage.FindGroupTagMaps(context, model.GroupTagMapFilter{TagIDs: []string{tagID}, ActiveOnly: true})
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for index := range maps {
		groupID := maps[index].GroupID
		if seen[groupID] {
			continue
		}
		seen[groupID] = true
		group, err := app.storage.FindGroup(context, groupID)
		if err != nil {
			return err
		}
		if group == nil || group.IsDeleted() {
			continue
		}
		if err := app.reclampGroupGrants(context, *group, now); err != nil {
			return err
		}
	}
	return nil
}

// reclampGroupGrants shortens active grants exceeding the group's coalesced
// time limits. Limits only bind managed groups and never extend a grant.
func (app *Application) reclampGroupGrants(context storage.TransactionContext, group model.Group, now time.Time) error {
	if !group.IsManaged {
		return nil
	}
	tags, err := app.coalescedTagsForGroup(context, &group)
	if err != nil {
		return err
	}
	memberLimit := coalesceTimeLimit(model.ConstraintMemberTimeLimit, tags)
	ownerLimit := coalesceTimeLimit(model.ConstraintOwnerTimeLimit, tags)
	if memberLimit == nil && ownerLimit == nil {
		return nil
	}

	grants, err := app.storage.FindGrants(context, model.GrantFilter{GroupIDs: []string{group.ID}, ActiveAt: &now})
	if err != nil {
		return err
	}
	for index := range grants {
		grant := grants[index]
		limit := memberLimit
		if grant.IsOwner {
			limit = ownerLimit
		}
		if limit == nil {
			continue
		}
		// measured from the grant's start, never ending in the past
		deadline := grant.DateCreated.Add(time.Duration(*limit) * time.Second)
		if deadline.Before(now) {
			deadline = now
		}
		if grant.EndedAt == nil || grant.EndedAt.After(deadline) {
			if err := app.storage.UpdateGrantEndedAt(context, grant.ID, deadline); err != nil {
				return err
			}
		}
	}
	return nil
}

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
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	validator "gopkg.in/go-playground/validator.v9"

	"access/core/model"
	"access/driven/storage"
	"access/utils"
)

// CreateGroupInput carries a group creation
type CreateGroupInput struct {
	Type        string `validate:"required,oneof=plain role app"`
	Name        string `validate:"required,min=1,max=255"`
	Description string
	AppID       *string
	IsAppOwner  bool
	IsManaged   bool
	ActorID     string `validate:"required"`
}

// ModifyGroupTypeInput carries a group type switch
type ModifyGroupTypeInput struct {
	GroupID string `validate:"required"`
	NewType string `validate:"required,oneof=plain role app"`
	AppID   *string
	ActorID string `validate:"required"`
}

// CreateGroup validates the name, creates or adopts the IdP group when managed,
// inserts the row and propagates app-level tags onto the new group
func (app *Application) CreateGroup(ctx context.Context, input CreateGroupInput) (*model.Group, error) {
	validate := validator.New()
	if err := validate.Struct(input); err != nil {
		return nil, NewValidationError(err.Error())
	}
	if app.config != nil && app.config.DescriptionRequired && utils.IsBlank(input.Description) {
		return nil, NewValidationError("a description is required")
	}

	var parentApp *model.App
	if input.Type == model.GroupTypeApp {
		if input.AppID == nil {
			return nil, NewValidationError("app groups require an app id")
		}
		var err error
		parentApp, err = app.storage.FindApp(nil, *input.AppID)
		if err != nil {
			return nil, NewStoreError(err)
		}
		if parentApp == nil || parentApp.IsDeleted() {
			return nil, NewNotFoundError("app")
		}
	}

	if err := app.validateGroupName(input.Type, input.Name, parentApp); err != nil {
		return nil, err
	}

	existing, err := app.storage.FindGroupByName(nil, input.Name)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if existing != nil {
		return nil, NewConflictError(fmt.Sprintf("group name %s already in use", input.Name))
	}

	now := time.Now()
	group := model.Group{ID: uuid.NewString(), Type: input.Type, Name: input.Name,
		Description: input.Description, IsManaged: input.IsManaged,
		AppID: input.AppID, IsAppOwner: input.IsAppOwner, DateCreated: now}

	if input.IsManaged {
		idpGroup, err := app.adoptOrCreateIdPGroup(ctx, input.Name, input.Description)
		if err != nil {
			return nil, fmt.Errorf("error creating idp group %s - %w", input.Name, err)
		}
		group.ID = idpGroup.ID
	}

	transaction := func(context storage.TransactionContext) error {
		if err := app.storage.InsertGroup(context, group); err != nil {
			return err
		}
		if input.AppID != nil {
			return app.propagateAppTags(context, *input.AppID, group.ID, now)
		}
		return nil
	}
	err = app.storage.PerformTransaction(transaction)
	if err != nil {
		return nil, NewStoreError(err)
	}

	app.fireAuditEvent(model.AuditGroupCreated, input.ActorID, "group", group.ID, &group.Name, "create", nil,
		map[string]interface{}{"type": group.Type, "is_managed": group.IsManaged})
	return &group, nil
}

// adoptOrCreateIdPGroup reuses an IdP group with the same name when one exists
func (app *Application) adoptOrCreateIdPGroup(ctx context.Context, name string, description string) (*model.IdPGroup, error) {
	idpGroups, err := app.idp.ListGroups(ctx)
	if err == nil {
		for index := range idpGroups {
			if utils.EqualIgnoreCase(idpGroups[index].Name, name) {
				return &idpGroups[index], nil
			}
		}
	} else {
		log.Printf("error listing idp groups for adoption of %s - %s", name, err)
	}
	return app.idp.CreateGroup(ctx, name, description)
}

func (app *Application) validateGroupName(groupType string, name string, parentApp *model.App) error {
	if app.nameRegex != nil && !app.nameRegex.MatchString(name) {
		message := "invalid group name"
		if app.config != nil && len(app.config.NameRegexError) > 0 {
			message = app.config.NameRegexError
		}
		return NewValidationError(message)
	}

	appName := ""
	if parentApp != nil {
		appName = parentApp.Name
	}
	if !model.HasGroupTypePrefix(groupType, name, appName) {
		switch groupType {
		case model.GroupTypeRole:
			return NewValidationError(fmt.Sprintf("role group names must start with %s", model.RoleGroupPrefix))
		case model.GroupTypeApp:
			return NewValidationError(fmt.Sprintf("app group names must start with %s", model.AppGroupNamePrefix(appName)))
		default:
			return NewValidationError(fmt.Sprintf("group names must not start with %s or %s", model.RoleGroupPrefix, model.AppGroupPrefix))
		}
	}
	return nil
}

func (app *Application) propagateAppTags(context storage.TransactionContext, appID string, groupID string, now time.Time) error {
	appTagMaps, err := app.storage.FindAppTagMaps(context, model.AppTagMapFilter{AppIDs: []string{appID}, ActiveOnly: true})
	if err != nil {
		return err
	}
	if len(appTagMaps) == 0 {
		return nil
	}

	groupTagMaps := make([]model.GroupTagMap, len(appTagMaps))
	for index := range appTagMaps {
		appTagMapID := appTagMaps[index].ID
		groupTagMaps[index] = model.GroupTagMap{ID: uuid.NewString(), TagID: appTagMaps[index].TagID,
			GroupID: groupID, AppTagMapID: &appTagMapID, DateCreated: now}
	}
	return app.storage.InsertGroupTagMaps(context, groupTagMaps)
}

// DeleteGroup soft-deletes a group and ends every active edge pointing at it in
// the same transaction. The owner group of the reserved admin app is protected.
func (app *Application) DeleteGroup(ctx context.Context, groupID string, actorID string) error {
	group, err := app.storage.FindGroup(nil, groupID)
	if err != nil {
		return NewStoreError(err)
	}
	if group == nil || group.IsDeleted() {
		return NewNotFoundError("group")
	}

	if group.IsAppOwner && group.AppID != nil {
		parentApp, err := app.storage.FindApp(nil, *group.AppID)
		if err != nil {
			return NewStoreError(err)
		}
		if parentApp != nil && parentApp.IsReserved() {
			return NewForbiddenError()
		}
	}

	now := time.Now()
	tasks := []idpTask{}

	transaction := func(context storage.TransactionContext) error {
		// all grants on the group itself, direct and derived
		grants, err := app.storage.FindGrants(context, model.GrantFilter{GroupIDs: []string{group.ID}, ActiveAt: &now})
		if err != nil {
			return err
		}
		if len(grants) > 0 {
			if err := app.storage.EndGrants(context, grantIDs(grants), now, actorID); err != nil {
				return err
			}
		}

		// associations in both directions
		roleMaps, err := app.storage.FindRoleGroupMaps(context, model.RoleGroupMapFilter{RoleGroupIDs: []string{group.ID}, ActiveAt: &now})
		if err != nil {
			return err
		}
		targetMaps, err := app.storage.FindRoleGroupMaps(context, model.RoleGroupMapFilter{GroupIDs: []string{group.ID}, ActiveAt: &now})
		if err != nil {
			return err
		}
		allMaps := append(append([]model.RoleGroupMap{}, roleMaps...), targetMaps...)
		if len(allMaps) > 0 {
			if err := app.storage.EndRoleGroupMaps(context, roleMapIDs(allMaps), now, actorID); err != nil {
				return err
			}
		}

		// a deleted role stops populating its associated groups
		if group.IsRole() && len(roleMaps) > 0 {
			derived, err := app.storage.FindGrants(context, model.GrantFilter{RoleGroupMapIDs: roleMapIDs(roleMaps), ActiveAt: &now})
			if err != nil {
				return err
			}
			if len(derived) > 0 {
				if err := app.storage.EndGrants(context, grantIDs(derived), now, actorID); err != nil {
					return err
				}
				targetGroups := map[string]model.Group{}
				if err := app.loadGroupsByID(context, roleMapTargetIDs(roleMaps), targetGroups); err != nil {
					return err
				}
				for index := range derived {
					grant := derived[index]
					target, ok := targetGroups[grant.GroupID]
					if !ok || !target.IsManaged {
						continue
					}
					uncovered, err := app.bucketUncovered(context, grant.UserID, grant.GroupID, grant.IsOwner, now)
					if err != nil {
						return err
					}
					if !uncovered {
						continue
					}
					if grant.IsOwner {
						tasks = append(tasks, app.removeOwnerTask(grant.GroupID, grant.UserID))
					} else {
						tasks = append(tasks, app.removeMemberTask(grant.GroupID, grant.UserID))
					}
				}
			}
		}

		// tag maps
		tagMaps, err := app.storage.FindGroupTagMaps(context, model.GroupTagMapFilter{GroupIDs: []string{group.ID}, ActiveOnly: true})
		if err != nil {
			return err
		}
		if len(tagMaps) > 0 {
			ids := make([]string, len(tagMaps))
			for index := range tagMaps {
				ids[index] = tagMaps[index].ID
			}
			if err := app.storage.EndGroupTagMaps(context, ids, now); err != nil {
				return err
			}
		}

		// pending requests for the group get rejected
		if err := app.rejectPendingAccessRequests(context, model.RequestFilter{
			Statuses: []string{model.RequestStatusPending}, GroupIDs: []string{group.ID}}, "group deleted", now); err != nil {
			return err
		}
		if err := app.rejectPendingRoleRequests(context, model.RequestFilter{
			Statuses: []string{model.RequestStatusPending}, GroupIDs: []string{group.ID}}, "group deleted", now); err != nil {
			return err
		}

		return app.storage.SoftDeleteGroup(context, group.ID, now)
	}
	err = app.storage.PerformTransaction(transaction)
	if err != nil {
		return NewStoreError(err)
	}

	if group.IsManaged {
		deletedGroupID := group.ID
		tasks = append(tasks, func(ctx context.Context) error {
			return app.idp.DeleteGroup(ctx, deletedGroupID)
		})
	}
	app.dispatchIdPTasks(ctx, tasks)

	app.fireAuditEvent(model.AuditGroupDeleted, actorID, "group", group.ID, &group.Name, "delete", nil, nil)
	return nil
}

func (app *Application) rejectPendingAccessRequests(context storage.TransactionContext,
	filter model.RequestFilter, reason string, now time.Time) error {
	pending, err := app.storage.FindAccessRequests(context, filter)
	if err != nil {
		return err
	}
	for index := range pending {
		resolutionReason := reason
		_, err := app.storage.ResolveAccessRequest(context, pending[index].ID, model.RequestResolution{
			Status: model.RequestStatusRejected, ResolvedAt: now, ResolutionReason: &resolutionReason})
		if err != nil {
			return err
		}
	}
	return nil
}

func (app *Application) rejectPendingRoleRequests(context storage.TransactionContext,
	filter model.RequestFilter, reason string, now time.Time) error {
	pending, err := app.storage.FindRoleRequests(context, filter)
	if err != nil {
		return err
	}
	for index := range pending {
		resolutionReason := reason
		_, err := app.storage.ResolveRoleRequest(context, pending[index].ID, model.RequestResolution{
			Status: model.RequestStatusRejected, ResolvedAt: now, ResolutionReason: &resolutionReason})
		if err != nil {
			return err
		}
	}
	return nil
}

// ModifyGroupType switches the group variant preserving the row id. Forbidden
// for app-owner groups.
func (app *Application) ModifyGroupType(ctx context.Context, input ModifyGroupTypeInput) (*model.Group, error) {
	validate := validator.New()
	if err := validate.Struct(input); err != nil {
		return nil, NewValidationError(err.Error())
	}

	group, err := app.storage.FindGroup(nil, input.GroupID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if group == nil || group.IsDeleted() {
		return nil, NewNotFoundError("group")
	}
	if group.IsAppOwner {
		return nil, NewForbiddenError()
	}
	if group.Type == input.NewType {
		return group, nil
	}

	var parentApp *model.App
	if input.NewType == model.GroupTypeApp {
		if input.AppID == nil {
			return nil, NewValidationError("app groups require an app id")
		}
		parentApp, err = app.storage.FindApp(nil, *input.AppID)
		if err != nil {
			return nil, NewStoreError(err)
		}
		if parentApp == nil || parentApp.IsDeleted() {
			return nil, NewNotFoundError("app")
		}
	}

	now := time.Now()
	tasks := []idpTask{}
	newName := retypedGroupName(group, input.NewType, parentApp)

	transaction := func(context storage.TransactionContext) error {
		// leaving the role variant first unwinds everything the role produced
		if group.IsRole() {
			roleMaps, err := app.storage.FindRoleGroupMaps(context, model.RoleGroupMapFilter{RoleGroupIDs: []string{group.ID}, ActiveAt: &now})
			if err != nil {
				return err
			}
			if len(roleMaps) > 0 {
				derived, err := app.storage.FindGrants(context, model.GrantFilter{RoleGroupMapIDs: roleMapIDs(roleMaps), ActiveAt: &now})
				if err != nil {
					return err
				}
				if err := app.storage.EndRoleGroupMaps(context, roleMapIDs(roleMaps), now, input.ActorID); err != nil {
					return err
				}
				if len(derived) > 0 {
					if err := app.storage.EndGrants(context, grantIDs(derived), now, input.ActorID); err != nil {
						return err
					}
					targetGroups := map[string]model.Group{}
					if err := app.loadGroupsByID(context, roleMapTargetIDs(roleMaps), targetGroups); err != nil {
						return err
					}
					for index := range derived {
						grant := derived[index]
						target, ok := targetGroups[grant.GroupID]
						if !ok || !target.IsManaged {
							continue
						}
						uncovered, err := app.bucketUncovered(context, grant.UserID, grant.GroupID, grant.IsOwner, now)
						if err != nil {
							return err
						}
						if !uncovered {
							continue
						}
						if grant.IsOwner {
							tasks = append(tasks, app.removeOwnerTask(grant.GroupID, grant.UserID))
						} else {
							tasks = append(tasks, app.removeMemberTask(grant.GroupID, grant.UserID))
						}
					}
				}
			}
		}

		// becoming a role: a role cannot be the target of another role, so end
		// inbound associations and their derived grants; direct grants carry
		// over as role memberships with their ended-at preserved
		if input.NewType == model.GroupTypeRole {
			inbound, err := app.storage.FindRoleGroupMaps(context, model.RoleGroupMapFilter{GroupIDs: []string{group.ID}, ActiveAt: &now})
			if err != nil {
				return err
			}
			if len(inbound) > 0 {
				derived, err := app.storage.FindGrants(context, model.GrantFilter{RoleGroupMapIDs: roleMapIDs(inbound), ActiveAt: &now})
				if err != nil {
					return err
				}
				if err := app.storage.EndRoleGroupMaps(context, roleMapIDs(inbound), now, input.ActorID); err != nil {
					return err
				}
				if len(derived) > 0 {
					if err := app.storage.EndGrants(context, grantIDs(derived), now, input.ActorID); err != nil {
						return err
					}
				}
			}
		}

		updated := *group
		updated.Type = input.NewType
		updated.Name = newName
		updated.AppID = nil
		updated.IsAppOwner = false
		if input.NewType == model.GroupTypeApp {
			updated.AppID = input.AppID
		}
		updated.DateUpdated = &now
		return app.storage.UpdateGroup(context, updated)
	}
	err = app.storage.PerformTransaction(transaction)
	if err != nil {
		return nil, NewStoreError(err)
	}

	if group.IsManaged && newName != group.Name {
		renamedID := group.ID
		description := group.Description
		tasks = append(tasks, func(ctx context.Context) error {
			return app.idp.UpdateGroup(ctx, renamedID, newName, description)
		})
	}
	app.dispatchIdPTasks(ctx, tasks)

	result, err := app.storage.FindGroup(nil, group.ID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	app.fireAuditEvent(model.AuditGroupTypeChanged, input.ActorID, "group", group.ID, &newName, "modify_type", nil,
		map[string]interface{}{"old_type": group.Type, "new_type": input.NewType})
	return result, nil
}

// retypedGroupName adjusts the reserved prefix for the new variant
func retypedGroupName(group *model.Group, newType string, parentApp *model.App) string {
	base := group.Name
	base = strings.TrimPrefix(base, model.RoleGroupPrefix)
	if group.IsAppGroup() {
		if index := strings.Index(base, "-"); index >= 0 {
			if second := strings.Index(base[index+1:], "-"); second >= 0 {
				base = base[index+1+second+1:]
			}
		}
	}

	switch newType {
	case model.GroupTypeRole:
		return model.RoleGroupPrefix + base
	case model.GroupTypeApp:
		if parentApp != nil {
			return model.AppGroupNamePrefix(parentApp.Name) + base
		}
		return base
	default:
		return base
	}
}

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
	"time"

	"github.com/google/uuid"
	validator "gopkg.in/go-playground/validator.v9"

	"access/core/model"
	"access/driven/storage"
)

// CreateAppInput carries an app creation. GroupNames are base names which get
// the app prefix; the owner group is always created.
type CreateAppInput struct {
	Name        string `validate:"required,min=1,max=255"`
	Description string
	OwnerIDs    []string `validate:"required,min=1"`
	GroupNames  []string
	TagIDs      []string
	ActorID     string `validate:"required"`
}

// CreateApp creates the app row, its owner group and any additional app groups,
// attaches the initial tags and seeds the owners
func (app *Application) CreateApp(ctx context.Context, input CreateAppInput) (*model.App, error) {
	validate := validator.New()
	if err := validate.Struct(input); err != nil {
		return nil, NewValidationError(err.Error())
	}
	if app.nameRegex != nil && !app.nameRegex.MatchString(input.Name) {
		message := "invalid app name"
		if app.config != nil && len(app.config.NameRegexError) > 0 {
			message = app.config.NameRegexError
		}
		return nil, NewValidationError(message)
	}
	if app.config != nil && app.config.DescriptionRequired && len(input.Description) == 0 {
		return nil, NewValidationError("a description is required")
	}

	existing, err := app.storage.FindAppByName(nil, input.Name)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if existing != nil && !existing.IsDeleted() {
		return nil, NewConflictError(fmt.Sprintf("app name %s already in use", input.Name))
	}

	now := time.Now()
	appRow := model.App{ID: uuid.NewString(), Name: input.Name, Description: input.Description, DateCreated: now}

	// the app row and its tag edges go in first so group creation can see and
	// propagate them
	transaction := func(context storage.TransactionContext) error {
		if err := app.storage.InsertApp(context, appRow); err != nil {
			return err
		}
		if len(input.TagIDs) == 0 {
			return nil
		}
		appTagMaps := make([]model.AppTagMap, 0, len(input.TagIDs))
		for _, tagID := range input.TagIDs {
			tag, err := app.storage.FindTag(context, tagID)
			if err != nil {
				return err
			}
			if tag == nil || tag.IsDeleted() {
				return fmt.Errorf("unknown tag %s", tagID)
			}
			appTagMaps = append(appTagMaps, model.AppTagMap{ID: uuid.NewString(), TagID: tagID, AppID: appRow.ID, DateCreated: now})
		}
		return app.storage.InsertAppTagMaps(context, appTagMaps)
	}
	err = app.storage.PerformTransaction(transaction)
	if err != nil {
		return nil, NewStoreError(err)
	}

	prefix := model.AppGroupNamePrefix(appRow.Name)
	ownerGroup, err := app.ensureAppGroup(ctx, &appRow, prefix+model.AppOwnersSuffix, true, input.ActorID)
	if err != nil {
		return nil, err
	}
	for _, baseName := range input.GroupNames {
		_, err := app.ensureAppGroup(ctx, &appRow, prefix+baseName, false, input.ActorID)
		if err != nil {
			log.Printf("error creating app group %s%s - %s", prefix, baseName, err)
		}
	}

	ownersInput := NewModifyGroupUsersInput(ownerGroup.ID, input.ActorID, fmt.Sprintf("initial owners of app %s", appRow.Name))
	ownersInput.OwnersToAdd = input.OwnerIDs
	_, err = app.ModifyGroupUsers(ctx, ownersInput)
	if err != nil {
		log.Printf("error seeding owners of app %s - %s", appRow.Name, err)
	}

	app.fireAuditEvent(model.AuditAppCreated, input.ActorID, "app", appRow.ID, &appRow.Name, "create", nil,
		map[string]interface{}{"owner_group_id": ownerGroup.ID})
	return &appRow, nil
}

// ensureAppGroup adopts a group already observed under the app name, otherwise
// creates one
func (app *Application) ensureAppGroup(ctx context.Context, parentApp *model.App,
	name string, isOwner bool, actorID string) (*model.Group, error) {
	observed, err := app.storage.FindGroupByName(nil, name)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if observed == nil || observed.IsDeleted() {
		return app.CreateGroup(ctx, CreateGroupInput{Type: model.GroupTypeApp, Name: name,
			Description: parentApp.Description, AppID: &parentApp.ID, IsAppOwner: isOwner,
			IsManaged: true, ActorID: actorID})
	}

	_, err = app.ModifyGroupType(ctx, ModifyGroupTypeInput{GroupID: observed.ID,
		NewType: observed.Type, AppID: &parentApp.ID, ActorID: actorID})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	adopted := *observed
	adopted.AppID = &parentApp.ID
	adopted.IsAppOwner = isOwner
	adopted.IsManaged = true
	adopted.DateUpdated = &now

	transaction := func(context storage.TransactionContext) error {
		if err := app.storage.UpdateGroup(context, adopted); err != nil {
			return err
		}
		return app.propagateAppTags(context, parentApp.ID, adopted.ID, now)
	}
	err = app.storage.PerformTransaction(transaction)
	if err != nil {
		return nil, NewStoreError(err)
	}
	return &adopted, nil
}

// DeleteApp soft-deletes the app, all its groups and its tag edges. The
// reserved admin app is protected.
func (app *Application) DeleteApp(ctx context.Context, appID string, actorID string) error {
	appRow, err := app.storage.FindApp(nil, appID)
	if err != nil {
		return NewStoreError(err)
	}
	if appRow == nil || appRow.IsDeleted() {
		return NewNotFoundError("app")
	}
	if appRow.IsReserved() {
		return NewForbiddenError()
	}

	groups, err := app.storage.FindGroups(nil, model.GroupFilter{AppID: &appID})
	if err != nil {
		return NewStoreError(err)
	}
	// the owner group goes last so owners keep authority while the rest unwinds
	for index := range groups {
		if groups[index].IsAppOwner {
			continue
		}
		if err := app.DeleteGroup(ctx, groups[index].ID, actorID); err != nil {
			log.Printf("error deleting app group %s - %s", groups[index].Name, err)
		}
	}
	for index := range groups {
		if !groups[index].IsAppOwner {
			continue
		}
		if err := app.DeleteGroup(ctx, groups[index].ID, actorID); err != nil {
			log.Printf("error deleting app owner group %s - %s", groups[index].Name, err)
		}
	}

	now := time.Now()
	transaction := func(context storage.TransactionContext) error {
		appTagMaps, err := app.storage.FindAppTagMaps(context, model.AppTagMapFilter{AppIDs: []string{appID}, ActiveOnly: true})
		if err != nil {
			return err
		}
		if len(appTagMaps) > 0 {
			ids := make([]string, len(appTagMaps))
			for index := range appTagMaps {
				ids[index] = appTagMaps[index].ID
			}
			if err := app.storage.EndAppTagMaps(context, ids, now); err != nil {
				return err
			}
		}
		return app.storage.SoftDeleteApp(context, appID, now)
	}
	err = app.storage.PerformTransaction(transaction)
	if err != nil {
		return NewStoreError(err)
	}

	app.fireAuditEvent(model.AuditAppDeleted, actorID, "app", appRow.ID, &appRow.Name, "delete", nil, nil)
	return nil
}

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
	"access/utils"
)

// CreateGroupRequestInput carries a request to create a new group
type CreateGroupRequestInput struct {
	RequesterID   string `validate:"required"`
	Name          string `validate:"required,min=1,max=255"`
	Description   string
	Type          string `validate:"required,oneof=plain role app"`
	AppID         *string
	RequestReason string
}

// ResolveGroupRequestInput carries an approve of a group request. The resolved
// fields let the approver edit the group before creation; nil keeps the
// requested value.
type ResolveGroupRequestInput struct {
	RequestID        string `validate:"required"`
	ResolverID       string `validate:"required"`
	ResolutionReason *string

	ResolvedName        *string
	ResolvedDescription *string
	ResolvedType        *string
	ResolvedAppID       *string
}

// CreateGroupRequest creates a pending group creation request
func (app *Application) CreateGroupRequest(ctx context.Context, input CreateGroupRequestInput) (*model.GroupRequest, error) {
	validate := validator.New()
	if err := validate.Struct(input); err != nil {
		return nil, NewValidationError(err.Error())
	}

	requester, err := app.storage.FindUser(nil, input.RequesterID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if requester == nil || requester.IsDeleted() {
		return nil, NewNotFoundError("user")
	}

	var parentApp *model.App
	if input.Type == model.GroupTypeApp {
		if input.AppID == nil {
			return nil, NewValidationError("an app group request must name its app")
		}
		parentApp, err = app.storage.FindApp(nil, *input.AppID)
		if err != nil {
			return nil, NewStoreError(err)
		}
		if parentApp == nil || parentApp.IsDeleted() {
			return nil, NewNotFoundError("app")
		}
		if !model.HasGroupTypePrefix(model.GroupTypeApp, input.Name, parentApp.Name) {
			return nil, NewValidationError(fmt.Sprintf("an app group name must start with %s",
				model.AppGroupNamePrefix(parentApp.Name)))
		}
	}

	existing, err := app.storage.FindGroupByName(nil, input.Name)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if existing != nil && !existing.IsDeleted() {
		return nil, NewConflictError(fmt.Sprintf("group name %s already in use", input.Name))
	}

	pending, err := app.storage.FindGroupRequests(nil, model.RequestFilter{Statuses: []string{model.RequestStatusPending}})
	if err != nil {
		return nil, NewStoreError(err)
	}
	for index := range pending {
		if utils.EqualIgnoreCase(pending[index].RequestedName, input.Name) &&
			sameAppID(pending[index].RequestedAppID, input.AppID) {
			return nil, NewConflictError(fmt.Sprintf("group name %s is already requested", input.Name))
		}
	}

	now := time.Now()
	request := model.GroupRequest{ID: uuid.NewString(), RequesterID: input.RequesterID,
		RequestedName: input.Name, RequestedDescription: input.Description,
		RequestedType: input.Type, RequestedAppID: input.AppID,
		RequestReason: input.RequestReason, Status: model.RequestStatusPending, DateCreated: now}

	err = app.storage.InsertGroupRequest(nil, request)
	if err != nil {
		return nil, NewStoreError(err)
	}

	app.fireAuditEvent(model.AuditRequestCreated, input.RequesterID, "group_request", request.ID,
		&request.RequestedName, "create", &request.RequestReason,
		map[string]interface{}{"requested_type": request.RequestedType})

	// owners of the parent app create its groups without waiting for an approver
	if parentApp != nil {
		selfService, err := app.ownsApp(nil, input.RequesterID, parentApp.ID, now)
		if err != nil {
			log.Printf("error checking app ownership for group request %s - %s", request.ID, err)
		} else if selfService {
			reason := "self-service creation by an app owner"
			return app.resolveGroupRequestApproved(ctx, &request, ResolveGroupRequestInput{
				RequestID: request.ID, ResolverID: input.RequesterID, ResolutionReason: &reason})
		}
	}
	return &request, nil
}

func sameAppID(a *string, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ownsApp says if the user holds an active ownership grant on the app's owner group
func (app *Application) ownsApp(context storage.TransactionContext, userID string, appID string, now time.Time) (bool, error) {
	ownerGroup, err := app.findAppOwnerGroup(context, appID)
	if err != nil {
		return false, err
	}
	if ownerGroup == nil {
		return false, nil
	}
	owner := true
	grants, err := app.storage.FindGrants(context, model.GrantFilter{UserIDs: []string{userID},
		GroupIDs: []string{ownerGroup.ID}, IsOwner: &owner, ActiveAt: &now})
	if err != nil {
		return false, err
	}
	return len(grants) > 0, nil
}

// ApproveGroupRequest creates the group, possibly under approver edits, and
// seeds the requester as its first owner
func (app *Application) ApproveGroupRequest(ctx context.Context, input ResolveGroupRequestInput) (*model.GroupRequest, error) {
	validate := validator.New()
	if err := validate.Struct(input); err != nil {
		return nil, NewValidationError(err.Error())
	}

	request, err := app.storage.FindGroupRequest(nil, input.RequestID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if request == nil {
		return nil, NewNotFoundError("request")
	}
	if !request.IsPending() {
		return nil, NewConflictError("the request is already resolved")
	}
	if request.RequesterID == input.ResolverID {
		return nil, NewForbiddenError()
	}

	return app.resolveGroupRequestApproved(ctx, request, input)
}

// resolveGroupRequestApproved creates the group under any resolver edits,
// records the approval and seeds the requester as the first owner
func (app *Application) resolveGroupRequestApproved(ctx context.Context, request *model.GroupRequest,
	input ResolveGroupRequestInput) (*model.GroupRequest, error) {
	name := request.RequestedName
	if input.ResolvedName != nil {
		name = *input.ResolvedName
	}
	description := request.RequestedDescription
	if input.ResolvedDescription != nil {
		description = *input.ResolvedDescription
	}
	groupType := request.RequestedType
	if input.ResolvedType != nil {
		groupType = *input.ResolvedType
	}
	appID := request.RequestedAppID
	if input.ResolvedAppID != nil {
		appID = input.ResolvedAppID
	}

	group, err := app.CreateGroup(ctx, CreateGroupInput{Type: groupType, Name: name,
		Description: description, AppID: appID, IsManaged: true, ActorID: input.ResolverID})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	resolver := input.ResolverID
	resolution := model.RequestResolution{Status: model.RequestStatusApproved, ResolvedAt: now,
		ResolverID: &resolver, ResolutionReason: input.ResolutionReason, CreatedGroupID: &group.ID}
	transaction := func(context storage.TransactionContext) error {
		_, err := app.storage.ResolveGroupRequest(context, request.ID, resolution)
		return err
	}
	err = app.storage.PerformTransaction(transaction)
	if err != nil {
		return nil, NewStoreError(err)
	}

	ownersInput := NewModifyGroupUsersInput(group.ID, input.ResolverID,
		fmt.Sprintf("first owner of requested group %s", group.Name))
	ownersInput.OwnersToAdd = []string{request.RequesterID}
	if _, err := app.ModifyGroupUsers(ctx, ownersInput); err != nil {
		log.Printf("error seeding owner of requested group %s - %s", group.Name, err)
	}

	resolved, err := app.storage.FindGroupRequest(nil, request.ID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	app.fireAuditEvent(model.AuditRequestResolved, input.ResolverID, "group_request", resolved.ID,
		&group.Name, "approve", input.ResolutionReason,
		map[string]interface{}{"created_group_id": group.ID})
	return resolved, nil
}

// RejectGroupRequest rejects a pending group request
func (app *Application) RejectGroupRequest(ctx context.Context, input ResolveRequestInput) (*model.GroupRequest, error) {
	validate := validator.New()
	if err := validate.Struct(input); err != nil {
		return nil, NewValidationError(err.Error())
	}

	request, err := app.storage.FindGroupRequest(nil, input.RequestID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if request == nil {
		return nil, NewNotFoundError("request")
	}
	if !request.IsPending() {
		return nil, NewConflictError("the request is already resolved")
	}

	now := time.Now()
	resolver := input.ResolverID
	reason := "rejected"
	if input.ResolutionReason != nil {
		reason = *input.ResolutionReason
	}
	transaction := func(context storage.TransactionContext) error {
		_, err := app.storage.ResolveGroupRequest(context, request.ID, model.RequestResolution{
			Status: model.RequestStatusRejected, ResolvedAt: now, ResolverID: &resolver, ResolutionReason: &reason})
		return err
	}
	err = app.storage.PerformTransaction(transaction)
	if err != nil {
		return nil, NewStoreError(err)
	}

	resolved, err := app.storage.FindGroupRequest(nil, request.ID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	app.fireAuditEvent(model.AuditRequestResolved, input.ResolverID, "group_request", resolved.ID,
		&resolved.RequestedName, "reject", &reason, nil)
	return resolved, nil
}

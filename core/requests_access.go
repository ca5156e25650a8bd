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
	"log"
	"time"

	"github.com/google/uuid"
	validator "gopkg.in/go-playground/validator.v9"

	"access/core/model"
	"access/driven/storage"
	"access/utils"
)

// CreateAccessRequestInput carries a new access request
type CreateAccessRequestInput struct {
	GroupID          string `validate:"required"`
	RequesterID      string `validate:"required"`
	RequestOwnership bool
	RequestReason    string
	RequestEndingAt  *time.Time
}

// ResolveRequestInput carries an approve or reject of a request
type ResolveRequestInput struct {
	RequestID        string `validate:"required"`
	ResolverID       string `validate:"required"`
	ResolutionReason *string
	ApprovalEndingAt *time.Time
}

// CreateAccessRequest creates a pending access request. A newer request for the
// same bucket supersedes an older pending one. A registered conditional-access
// hook may resolve the request inline.
func (app *Application) CreateAccessRequest(ctx context.Context, input CreateAccessRequestInput) (*model.AccessRequest, error) {
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
	if !group.IsManaged {
		return nil, NewValidationError("requests are only accepted for managed groups")
	}

	requester, err := app.storage.FindUser(nil, input.RequesterID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if requester == nil || requester.IsDeleted() {
		return nil, NewNotFoundError("user")
	}

	now := time.Now()
	ownership := input.RequestOwnership
	existing, err := app.storage.FindGrants(nil, model.GrantFilter{UserIDs: []string{input.RequesterID},
		GroupIDs: []string{group.ID}, IsOwner: &ownership, ActiveAt: &now})
	if err != nil {
		return nil, NewStoreError(err)
	}
	if len(existing) > 0 {
		return nil, NewConflictError("the requester already has this access")
	}

	request := model.AccessRequest{ID: uuid.NewString(), RequesterID: input.RequesterID,
		GroupID: group.ID, RequestOwnership: input.RequestOwnership, RequestReason: input.RequestReason,
		RequestEndingAt: input.RequestEndingAt, Status: model.RequestStatusPending, DateCreated: now}

	transaction := func(context storage.TransactionContext) error {
		if err := app.supersedePendingAccessRequests(context, request, now); err != nil {
			return err
		}
		return app.storage.InsertAccessRequest(context, request)
	}
	err = app.storage.PerformTransaction(transaction)
	if err != nil {
		return nil, NewStoreError(err)
	}

	app.fireAuditEvent(model.AuditRequestCreated, input.RequesterID, "access_request", request.ID, nil,
		"create", &request.RequestReason, map[string]interface{}{
			"group_id": group.ID, "group_name": group.Name, "ownership": request.RequestOwnership})

	if app.conditionalAccessOn() {
		tags, err := app.coalescedTagsForGroup(nil, group)
		if err != nil {
			log.Printf("error loading tags for request %s - %s", request.ID, err)
			tags = nil
		}
		if decision := app.hooks.accessRequestCreated(request, *group, tags, *requester); decision != nil {
			return app.applyAccessDecision(ctx, &request, group, decision)
		}
	}

	approvers, err := app.computeApprovers(nil, group, input.RequesterID)
	if err != nil {
		log.Printf("error computing approvers for request %s - %s", request.ID, err)
	} else if err := app.notifications.AccessRequestCreated(request, *group, approvers); err != nil {
		log.Printf("error notifying approvers for request %s - %s", request.ID, err)
	}

	return &request, nil
}

// supersedePendingAccessRequests rejects older pending requests for the same bucket
func (app *Application) supersedePendingAccessRequests(context storage.TransactionContext,
	request model.AccessRequest, now time.Time) error {
	ownership := request.RequestOwnership
	pending, err := app.storage.FindAccessRequests(context, model.RequestFilter{
		Statuses: []string{model.RequestStatusPending}, RequesterIDs: []string{request.RequesterID},
		GroupIDs: []string{request.GroupID}, Ownership: &ownership})
	if err != nil {
		return err
	}
	for index := range pending {
		reason := "superseded by a newer request"
		_, err := app.storage.ResolveAccessRequest(context, pending[index].ID, model.RequestResolution{
			Status: model.RequestStatusRejected, ResolvedAt: now, ResolutionReason: &reason})
		if err != nil {
			return err
		}
	}
	return nil
}

// applyAccessDecision resolves a freshly created request per a conditional-access
// hook decision
func (app *Application) applyAccessDecision(ctx context.Context, request *model.AccessRequest,
	group *model.Group, decision *ConditionalAccessDecision) (*model.AccessRequest, error) {
	if !decision.Approved {
		reason := decision.Reason
		now := time.Now()
		transaction := func(context storage.TransactionContext) error {
			_, err := app.storage.ResolveAccessRequest(context, request.ID, model.RequestResolution{
				Status: model.RequestStatusRejected, ResolvedAt: now, ResolutionReason: &reason})
			return err
		}
		if err := app.storage.PerformTransaction(transaction); err != nil {
			return nil, NewStoreError(err)
		}
		resolved, err := app.storage.FindAccessRequest(nil, request.ID)
		if err != nil {
			return nil, NewStoreError(err)
		}
		app.notifyCompletedAccessRequests([]model.AccessRequest{*resolved})
		return resolved, nil
	}

	modify := NewModifyGroupUsersInput(group.ID, request.RequesterID, request.RequestReason)
	modify.UsersAddedEndedAt = minEndedAt(request.RequestEndingAt, decision.EndingAt)
	if request.RequestOwnership {
		modify.OwnersToAdd = []string{request.RequesterID}
	} else {
		modify.MembersToAdd = []string{request.RequesterID}
	}
	if _, err := app.ModifyGroupUsers(ctx, modify); err != nil {
		return nil, err
	}

	resolved, err := app.storage.FindAccessRequest(nil, request.ID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if resolved.IsPending() {
		// a policy gate turned the grant into a no-op; the request stays
		// pending for a human approver
		log.Printf("conditional approval of request %s was gated, leaving pending", request.ID)
	}
	return resolved, nil
}

// ApproveAccessRequest grants the requested access. The grant write resolves
// the request; an approval still pending afterwards means a policy gate held.
func (app *Application) ApproveAccessRequest(ctx context.Context, input ResolveRequestInput) (*model.AccessRequest, error) {
	validate := validator.New()
	if err := validate.Struct(input); err != nil {
		return nil, NewValidationError(err.Error())
	}

	request, err := app.storage.FindAccessRequest(nil, input.RequestID)
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

	requester, err := app.storage.FindUser(nil, request.RequesterID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if requester == nil || requester.IsDeleted() {
		return app.rejectAccessRequestNow(request, input.ResolverID, "the requester no longer exists")
	}
	group, err := app.storage.FindGroup(nil, request.GroupID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if group == nil || group.IsDeleted() || !group.IsManaged {
		return app.rejectAccessRequestNow(request, input.ResolverID, "the group is no longer managed here")
	}

	reason := request.RequestReason
	if input.ResolutionReason != nil {
		reason = *input.ResolutionReason
	}
	modify := NewModifyGroupUsersInput(group.ID, input.ResolverID, reason)
	modify.UsersAddedEndedAt = minEndedAt(request.RequestEndingAt, input.ApprovalEndingAt)
	if request.RequestOwnership {
		modify.OwnersToAdd = []string{request.RequesterID}
	} else {
		modify.MembersToAdd = []string{request.RequesterID}
	}
	if _, err := app.ModifyGroupUsers(ctx, modify); err != nil {
		return nil, err
	}

	resolved, err := app.storage.FindAccessRequest(nil, request.ID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if resolved.IsPending() {
		return nil, NewPolicyDeniedError("the approval was denied by a group policy")
	}
	return resolved, nil
}

// RejectAccessRequest rejects a pending request
func (app *Application) RejectAccessRequest(ctx context.Context, input ResolveRequestInput) (*model.AccessRequest, error) {
	validate := validator.New()
	if err := validate.Struct(input); err != nil {
		return nil, NewValidationError(err.Error())
	}

	request, err := app.storage.FindAccessRequest(nil, input.RequestID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if request == nil {
		return nil, NewNotFoundError("request")
	}
	if !request.IsPending() {
		return nil, NewConflictError("the request is already resolved")
	}

	reason := "rejected"
	if input.ResolutionReason != nil {
		reason = *input.ResolutionReason
	}
	return app.rejectAccessRequestNow(request, input.ResolverID, reason)
}

func (app *Application) rejectAccessRequestNow(request *model.AccessRequest, resolverID string, reason string) (*model.AccessRequest, error) {
	now := time.Now()
	resolver := resolverID
	resolutionReason := reason
	transaction := func(context storage.TransactionContext) error {
		_, err := app.storage.ResolveAccessRequest(context, request.ID, model.RequestResolution{
			Status: model.RequestStatusRejected, ResolvedAt: now, ResolverID: &resolver, ResolutionReason: &resolutionReason})
		return err
	}
	err := app.storage.PerformTransaction(transaction)
	if err != nil {
		return nil, NewStoreError(err)
	}

	resolved, err := app.storage.FindAccessRequest(nil, request.ID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	app.notifyCompletedAccessRequests([]model.AccessRequest{*resolved})
	return resolved, nil
}

// computeApprovers walks the approver tiers: group owners, then the app's
// owners, then the access admins. A tier whose only member is the requester is
// skipped.
func (app *Application) computeApprovers(context storage.TransactionContext, group *model.Group, requesterID string) ([]model.User, error) {
	return app.computeApproversExcluding(context, group, []string{requesterID})
}

// computeApproversExcluding walks the same tiers with a wider exclusion list; a
// tier left empty after the exclusions is skipped
func (app *Application) computeApproversExcluding(context storage.TransactionContext, group *model.Group, excluded []string) ([]model.User, error) {
	now := time.Now()
	owner := true

	tiers := [][]string{}

	ownerGrants, err := app.storage.FindGrants(context, model.GrantFilter{
		GroupIDs: []string{group.ID}, IsOwner: &owner, ActiveAt: &now})
	if err != nil {
		return nil, err
	}
	tiers = append(tiers, grantUserIDs(ownerGrants))

	if group.AppID != nil {
		appOwnerGroup, err := app.findAppOwnerGroup(context, *group.AppID)
		if err != nil {
			return nil, err
		}
		if appOwnerGroup != nil && appOwnerGroup.ID != group.ID {
			appOwnerGrants, err := app.storage.FindGrants(context, model.GrantFilter{
				GroupIDs: []string{appOwnerGroup.ID}, IsOwner: &owner, ActiveAt: &now})
			if err != nil {
				return nil, err
			}
			tiers = append(tiers, grantUserIDs(appOwnerGrants))
		}
	}

	adminApp, err := app.storage.FindAppByName(context, model.ReservedAppName)
	if err != nil {
		return nil, err
	}
	if adminApp != nil {
		adminGroup, err := app.findAppOwnerGroup(context, adminApp.ID)
		if err != nil {
			return nil, err
		}
		if adminGroup != nil && adminGroup.ID != group.ID {
			adminGrants, err := app.storage.FindGrants(context, model.GrantFilter{
				GroupIDs: []string{adminGroup.ID}, ActiveAt: &now})
			if err != nil {
				return nil, err
			}
			tiers = append(tiers, grantUserIDs(adminGrants))
		}
	}

	for _, tier := range tiers {
		ids := []string{}
		for _, id := range tier {
			if !utils.Contains(excluded, id) && !utils.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			continue
		}
		return app.storage.FindUsers(context, model.UserFilter{IDs: ids})
	}
	return nil, nil
}

func grantUserIDs(grants []model.Grant) []string {
	ids := []string{}
	for index := range grants {
		if !utils.Contains(ids, grants[index].UserID) {
			ids = append(ids, grants[index].UserID)
		}
	}
	return ids
}

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

// CreateRoleRequestInput carries a new role request: access to a group on
// behalf of the requester's role
type CreateRoleRequestInput struct {
	RequesterID      string `validate:"required"`
	RequesterRoleID  string `validate:"required"`
	GroupID          string `validate:"required"`
	RequestOwnership bool
	RequestReason    string
	RequestEndingAt  *time.Time
}

// CreateRoleRequest creates a pending role request. The requester must be an
// active member of the role and the target must be a managed non-role group.
func (app *Application) CreateRoleRequest(ctx context.Context, input CreateRoleRequestInput) (*model.RoleRequest, error) {
	validate := validator.New()
	if err := validate.Struct(input); err != nil {
		return nil, NewValidationError(err.Error())
	}

	role, err := app.storage.FindGroup(nil, input.RequesterRoleID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if role == nil || role.IsDeleted() {
		return nil, NewNotFoundError("role group")
	}
	if !role.IsRole() {
		return nil, NewValidationError("the requester group is not a role group")
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
	if group.IsRole() {
		return nil, NewValidationError("a role cannot be associated to another role")
	}

	requester, err := app.storage.FindUser(nil, input.RequesterID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if requester == nil || requester.IsDeleted() {
		return nil, NewNotFoundError("user")
	}

	now := time.Now()
	isMember := false
	memberships, err := app.storage.FindGrants(nil, model.GrantFilter{UserIDs: []string{input.RequesterID},
		GroupIDs: []string{role.ID}, IsOwner: &isMember, ActiveAt: &now})
	if err != nil {
		return nil, NewStoreError(err)
	}
	if len(memberships) == 0 {
		return nil, NewValidationError("the requester is not an active member of the role")
	}

	ownership := input.RequestOwnership
	maps, err := app.storage.FindRoleGroupMaps(nil, model.RoleGroupMapFilter{RoleGroupIDs: []string{role.ID},
		GroupIDs: []string{group.ID}, IsOwner: &ownership, ActiveAt: &now})
	if err != nil {
		return nil, NewStoreError(err)
	}
	if len(maps) > 0 {
		return nil, NewConflictError("the role is already associated to this group")
	}

	request := model.RoleRequest{ID: uuid.NewString(), RequesterID: input.RequesterID,
		RequesterRoleID: role.ID, GroupID: group.ID, RequestOwnership: input.RequestOwnership,
		RequestReason: input.RequestReason, RequestEndingAt: input.RequestEndingAt,
		Status: model.RequestStatusPending, DateCreated: now}

	transaction := func(context storage.TransactionContext) error {
		if err := app.supersedePendingRoleRequests(context, request, now); err != nil {
			return err
		}
		return app.storage.InsertRoleRequest(context, request)
	}
	err = app.storage.PerformTransaction(transaction)
	if err != nil {
		return nil, NewStoreError(err)
	}

	app.fireAuditEvent(model.AuditRequestCreated, input.RequesterID, "role_request", request.ID, nil,
		"create", &request.RequestReason, map[string]interface{}{
			"role_id": role.ID, "group_id": group.ID, "ownership": request.RequestOwnership})

	tags, err := app.coalescedTagsForGroup(nil, group)
	if err != nil {
		log.Printf("error loading tags for role request %s - %s", request.ID, err)
		tags = nil
	}
	if app.conditionalAccessOn() {
		if decision := app.hooks.roleRequestCreated(request, *role, *group, tags, *requester); decision != nil {
			return app.applyRoleDecision(ctx, &request, role, group, decision)
		}
	}

	excluded, err := app.roleRequestExcludedApprovers(nil, role, input.RequesterID, input.RequestOwnership, tags)
	if err != nil {
		log.Printf("error computing excluded approvers for role request %s - %s", request.ID, err)
		excluded = []string{input.RequesterID}
	}
	approvers, err := app.computeApproversExcluding(nil, group, excluded)
	if err != nil {
		log.Printf("error computing approvers for role request %s - %s", request.ID, err)
	} else if err := app.notifications.RoleRequestCreated(request, *role, *group, approvers); err != nil {
		log.Printf("error notifying approvers for role request %s - %s", request.ID, err)
	}

	return &request, nil
}

// roleRequestExcludedApprovers lists users who must not approve a role request:
// the requester, plus every member of the requesting role when the target group
// disallows self-added access at the requested level. An approval by a role
// member would hand that member the access through the role.
func (app *Application) roleRequestExcludedApprovers(context storage.TransactionContext,
	role *model.Group, requesterID string, ownership bool, tags []model.Tag) ([]string, error) {
	excluded := []string{requesterID}

	disallowed := coalesceBool(model.ConstraintDisallowSelfAddMembership, tags)
	if ownership {
		disallowed = coalesceBool(model.ConstraintDisallowSelfAddOwnership, tags)
	}
	if !disallowed {
		return excluded, nil
	}

	now := time.Now()
	isMember := false
	memberships, err := app.storage.FindGrants(context, model.GrantFilter{GroupIDs: []string{role.ID},
		IsOwner: &isMember, ActiveAt: &now})
	if err != nil {
		return nil, err
	}
	for _, userID := range grantUserIDs(memberships) {
		if !utils.Contains(excluded, userID) {
			excluded = append(excluded, userID)
		}
	}
	return excluded, nil
}

func (app *Application) supersedePendingRoleRequests(context storage.TransactionContext,
	request model.RoleRequest, now time.Time) error {
	ownership := request.RequestOwnership
	pending, err := app.storage.FindRoleRequests(context, model.RequestFilter{
		Statuses: []string{model.RequestStatusPending}, RequesterRoleIDs: []string{request.RequesterRoleID},
		GroupIDs: []string{request.GroupID}, Ownership: &ownership})
	if err != nil {
		return err
	}
	for index := range pending {
		reason := "superseded by a newer request"
		_, err := app.storage.ResolveRoleRequest(context, pending[index].ID, model.RequestResolution{
			Status: model.RequestStatusRejected, ResolvedAt: now, ResolutionReason: &reason})
		if err != nil {
			return err
		}
	}
	return nil
}

func (app *Application) applyRoleDecision(ctx context.Context, request *model.RoleRequest,
	role *model.Group, group *model.Group, decision *ConditionalAccessDecision) (*model.RoleRequest, error) {
	if !decision.Approved {
		return app.rejectRoleRequestNow(request, request.RequesterID, decision.Reason)
	}

	modify := NewModifyRoleGroupsInput(role.ID, request.RequesterID, request.RequestReason)
	modify.GroupsAddedEndedAt = minEndedAt(request.RequestEndingAt, decision.EndingAt)
	if request.RequestOwnership {
		modify.OwnerGroupsToAdd = []string{group.ID}
	} else {
		modify.GroupsToAdd = []string{group.ID}
	}
	if _, err := app.ModifyRoleGroups(ctx, modify); err != nil {
		return nil, err
	}

	resolved, err := app.storage.FindRoleRequest(nil, request.ID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if resolved.IsPending() {
		log.Printf("conditional approval of role request %s was gated, leaving pending", request.ID)
	}
	return resolved, nil
}

// ApproveRoleRequest attaches the group to the role. The association write
// resolves the request; still pending afterwards means a policy gate held.
func (app *Application) ApproveRoleRequest(ctx context.Context, input ResolveRequestInput) (*model.RoleRequest, error) {
	validate := validator.New()
	if err := validate.Struct(input); err != nil {
		return nil, NewValidationError(err.Error())
	}

	request, err := app.storage.FindRoleRequest(nil, input.RequestID)
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

	role, err := app.storage.FindGroup(nil, request.RequesterRoleID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if role == nil || role.IsDeleted() || !role.IsRole() {
		return app.rejectRoleRequestNow(request, input.ResolverID, "the role group no longer exists")
	}
	group, err := app.storage.FindGroup(nil, request.GroupID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if group == nil || group.IsDeleted() || !group.IsManaged {
		return app.rejectRoleRequestNow(request, input.ResolverID, "the group is no longer managed here")
	}

	reason := request.RequestReason
	if input.ResolutionReason != nil {
		reason = *input.ResolutionReason
	}
	modify := NewModifyRoleGroupsInput(role.ID, input.ResolverID, reason)
	modify.GroupsAddedEndedAt = minEndedAt(request.RequestEndingAt, input.ApprovalEndingAt)
	if request.RequestOwnership {
		modify.OwnerGroupsToAdd = []string{group.ID}
	} else {
		modify.GroupsToAdd = []string{group.ID}
	}
	if _, err := app.ModifyRoleGroups(ctx, modify); err != nil {
		return nil, err
	}

	resolved, err := app.storage.FindRoleRequest(nil, request.ID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if resolved.IsPending() {
		return nil, NewPolicyDeniedError("the approval was denied by a group policy")
	}
	return resolved, nil
}

// RejectRoleRequest rejects a pending role request
func (app *Application) RejectRoleRequest(ctx context.Context, input ResolveRequestInput) (*model.RoleRequest, error) {
	validate := validator.New()
	if err := validate.Struct(input); err != nil {
		return nil, NewValidationError(err.Error())
	}

	request, err := app.storage.FindRoleRequest(nil, input.RequestID)
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
	return app.rejectRoleRequestNow(request, input.ResolverID, reason)
}

func (app *Application) rejectRoleRequestNow(request *model.RoleRequest, resolverID string, reason string) (*model.RoleRequest, error) {
	now := time.Now()
	resolver := resolverID
	resolutionReason := reason
	transaction := func(context storage.TransactionContext) error {
		_, err := app.storage.ResolveRoleRequest(context, request.ID, model.RequestResolution{
			Status: model.RequestStatusRejected, ResolvedAt: now, ResolverID: &resolver, ResolutionReason: &resolutionReason})
		return err
	}
	err := app.storage.PerformTransaction(transaction)
	if err != nil {
		return nil, NewStoreError(err)
	}

	resolved, err := app.storage.FindRoleRequest(nil, request.ID)
	if err != nil {
		return nil, NewStoreError(err)
	}

	role, err := app.storage.FindGroup(nil, resolved.RequesterRoleID)
	if err == nil && role != nil {
		group, err := app.storage.FindGroup(nil, resolved.GroupID)
		if err == nil && group != nil {
			requester, _ := app.storage.FindUser(nil, resolved.RequesterID)
			if err := app.notifications.RoleRequestCompleted(*resolved, *role, *group, requester); err != nil {
				log.Printf("error notifying completed role request %s - %s", resolved.ID, err)
			}
		}
	}

	resolvedReason := ""
	if resolved.ResolutionReason != nil {
		resolvedReason = *resolved.ResolutionReason
	}
	app.fireAuditEvent(model.AuditRequestResolved, resolverID, "role_request", resolved.ID, nil,
		"reject", &resolvedReason, map[string]interface{}{
			"role_id": resolved.RequesterRoleID, "group_id": resolved.GroupID})
	return resolved, nil
}

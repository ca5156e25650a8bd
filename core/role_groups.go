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

	"access/core/model"
	"access/driven/storage"
	"access/utils"
)

// ModifyRoleGroupsInput carries one role association mutation. Use
// NewModifyRoleGroupsInput so the IdP-sync and notify switches default to on.
type ModifyRoleGroupsInput struct {
	RoleGroupID        string
	GroupsAddedEndedAt *time.Time

	GroupsToAdd      []string // member-links
	OwnerGroupsToAdd []string // owner-links

	GroupsToRemove      []string
	OwnerGroupsToRemove []string

	CurrentActorID string
	CreatedReason  string

	SyncToIdP bool
	Notify    bool
}

// NewModifyRoleGroupsInput creates an input with the default switches on
func NewModifyRoleGroupsInput(roleGroupID string, actorID string, reason string) ModifyRoleGroupsInput {
	return ModifyRoleGroupsInput{RoleGroupID: roleGroupID, CurrentActorID: actorID,
		CreatedReason: reason, SyncToIdP: true, Notify: true}
}

func (input *ModifyRoleGroupsInput) isEmpty() bool {
	return len(input.GroupsToAdd) == 0 && len(input.OwnerGroupsToAdd) == 0 &&
		len(input.GroupsToRemove) == 0 && len(input.OwnerGroupsToRemove) == 0
}

// ModifyRoleGroups attaches and detaches groups to a role as member-links or
// owner-links. On attach every active member of the role gains a derived grant
// on the target; on detach the mirror of the removal logic of ModifyGroupUsers
// runs. Targets must be managed non-role groups.
func (app *Application) ModifyRoleGroups(ctx context.Context, input ModifyRoleGroupsInput) (*model.Group, error) {
	started := time.Now()

	role, err := app.storage.FindGroup(nil, input.RoleGroupID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if role == nil || role.IsDeleted() {
		return nil, NewNotFoundError("role group")
	}
	if !role.IsRole() {
		return nil, NewValidationError(fmt.Sprintf("group %s is not a role", role.Name))
	}

	if input.isEmpty() {
		return role, nil
	}

	touchedIDs := utils.Union(utils.Union(input.GroupsToAdd, input.OwnerGroupsToAdd),
		utils.Union(input.GroupsToRemove, input.OwnerGroupsToRemove))
	targetGroups := map[string]model.Group{}
	if err := app.loadGroupsByID(nil, touchedIDs, targetGroups); err != nil {
		return nil, NewStoreError(err)
	}

	memberTargets, err := app.validatedTargets(targetGroups, input.GroupsToAdd)
	if err != nil {
		return nil, err
	}
	ownerTargets, err := app.validatedTargets(targetGroups, input.OwnerGroupsToAdd)
	if err != nil {
		return nil, err
	}

	if valid, message := app.checkRoleSelfAddGate(nil, input.CurrentActorID, role, memberTargets, ownerTargets); !valid {
		log.Printf("modify role groups denied for role %s - %s", role.Name, message)
		return role, nil
	}
	targetTags := []model.Tag{}
	allTargets := append(append([]model.Group{}, memberTargets...), ownerTargets...)
	for index := range allTargets {
		tags, err := app.activeGroupTags(nil, allTargets[index].ID)
		if err != nil {
			return nil, NewStoreError(err)
		}
		targetTags = append(targetTags, tags...)
	}
	if valid, message := app.checkReasonGate(nil, input.CurrentActorID, targetTags, input.CreatedReason); !valid {
		log.Printf("modify role groups denied for role %s - %s", role.Name, message)
		return role, nil
	}

	now := time.Now()
	tasks := []idpTask{}

	// detach phase: re-attaching ends the old association first
	transaction := func(context storage.TransactionContext) error {
		if err := app.detachRoleTargets(context, role.ID, utils.Union(input.GroupsToRemove, input.GroupsToAdd), false, input.GroupsToRemove, targetGroups, input, now, &tasks); err != nil {
			return err
		}
		return app.detachRoleTargets(context, role.ID, utils.Union(input.OwnerGroupsToRemove, input.OwnerGroupsToAdd), true, input.OwnerGroupsToRemove, targetGroups, input, now, &tasks)
	}
	err = app.storage.PerformTransaction(transaction)
	if err != nil {
		return nil, NewStoreError(err)
	}

	// attach phase: fan the active role members out to the new targets
	inserted := []model.Grant{}
	transaction = func(context storage.TransactionContext) error {
		inserted = inserted[:0]

		memberFalse := false
		roleMembers, err := app.storage.FindGrants(context, model.GrantFilter{
			GroupIDs: []string{role.ID}, IsOwner: &memberFalse, ActiveAt: &now})
		if err != nil {
			return err
		}

		newMaps := []model.RoleGroupMap{}
		appendAttachment := func(target model.Group, isOwner bool) {
			// the clamp uses the target group's tags, not the role's
			tags, err := app.activeGroupTags(context, target.ID)
			if err != nil {
				log.Printf("error loading tags for group %s - %s", target.Name, err)
			}
			limitKey := model.ConstraintMemberTimeLimit
			if isOwner {
				limitKey = model.ConstraintOwnerTimeLimit
			}
			limit := coalesceTimeLimit(limitKey, tags)
			mapEndedAt := clampEndedAt(input.GroupsAddedEndedAt, now, limit, target.IsManaged)

			roleMap := model.RoleGroupMap{ID: uuid.NewString(), RoleGroupID: role.ID, GroupID: target.ID,
				IsOwner: isOwner, CreatedReason: input.CreatedReason, CreatedActorID: input.CurrentActorID,
				DateCreated: now, EndedAt: mapEndedAt}
			newMaps = append(newMaps, roleMap)

			for index := range roleMembers {
				member := roleMembers[index]
				inserted = append(inserted, model.Grant{ID: uuid.NewString(), UserID: member.UserID,
					GroupID: target.ID, IsOwner: isOwner, RoleGroupMapID: &roleMap.ID,
					CreatedReason: input.CreatedReason, CreatedActorID: input.CurrentActorID,
					DateCreated: now, EndedAt: minEndedAt(roleMap.EndedAt, member.EndedAt)})
			}
		}

		for index := range memberTargets {
			appendAttachment(memberTargets[index], false)
		}
		for index := range ownerTargets {
			appendAttachment(ownerTargets[index], true)
		}

		if len(newMaps) > 0 {
			if err := app.storage.InsertRoleGroupMaps(context, newMaps); err != nil {
				return err
			}
		}
		if len(inserted) > 0 {
			return app.storage.InsertGrants(context, inserted)
		}
		return nil
	}
	err = app.storage.PerformTransaction(transaction)
	if err != nil {
		return nil, NewStoreError(err)
	}

	if input.SyncToIdP {
		tasks = append(tasks, app.collectIdPAdditions(role, targetGroups, inserted)...)
	}

	// resolve phase
	completedRole, err := app.resolveSatisfiedRoleRequests(role, input, now)
	if err != nil {
		log.Printf("error resolving role requests for role %s - %s", role.Name, err)
	}
	completedAccess, err := app.resolveSatisfiedAccessRequests(inserted, input.CurrentActorID, input.CreatedReason)
	if err != nil {
		log.Printf("error resolving satisfied requests for role %s - %s", role.Name, err)
	}

	app.dispatchIdPTasks(ctx, tasks)

	if input.Notify {
		app.notifyCompletedRoleRequests(role, completedRole)
		app.notifyCompletedAccessRequests(completedAccess)
	}

	reason := input.CreatedReason
	app.fireAuditEvent(model.AuditRoleGroupsChange, input.CurrentActorID, "group", role.ID, &role.Name,
		"modify_role_groups", &reason, map[string]interface{}{
			"groups_added": len(input.GroupsToAdd) + len(input.OwnerGroupsToAdd),
			"groups_removed": len(input.GroupsToRemove) + len(input.OwnerGroupsToRemove),
		})
	app.hooks.observeOperation("modify_role_groups", started, true)

	return role, nil
}

// validatedTargets rejects role and unmanaged targets
func (app *Application) validatedTargets(targetGroups map[string]model.Group, ids []string) ([]model.Group, error) {
	targets := []model.Group{}
	for _, id := range ids {
		target, ok := targetGroups[id]
		if !ok || target.IsDeleted() {
			return nil, NewNotFoundError("group")
		}
		if target.IsRole() {
			return nil, NewValidationError(fmt.Sprintf("group %s is a role; roles cannot contain roles", target.Name))
		}
		if !target.IsManaged {
			return nil, NewValidationError(fmt.Sprintf("group %s is not managed by this system", target.Name))
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// detachRoleTargets ends the association edges for the listed targets and the
// grants derived from them. IdP removals are scheduled only for explicit
// removals whose bucket has no other covering origin.
func (app *Application) detachRoleTargets(context storage.TransactionContext, roleID string,
	targetIDs []string, isOwner bool, explicitRemovals []string, targetGroups map[string]model.Group,
	input ModifyRoleGroupsInput, now time.Time, tasks *[]idpTask) error {
	if len(targetIDs) == 0 {
		return nil
	}

	owner := isOwner
	maps, err := app.storage.FindRoleGroupMaps(context, model.RoleGroupMapFilter{
		RoleGroupIDs: []string{roleID}, GroupIDs: targetIDs, IsOwner: &owner, ActiveAt: &now})
	if err != nil {
		return err
	}
	if len(maps) == 0 {
		return nil
	}

	derived, err := app.storage.FindGrants(context, model.GrantFilter{RoleGroupMapIDs: roleMapIDs(maps), ActiveAt: &now})
	if err != nil {
		return err
	}

	if err := app.storage.EndRoleGroupMaps(context, roleMapIDs(maps), now, input.CurrentActorID); err != nil {
		return err
	}
	if len(derived) > 0 {
		if err := app.storage.EndGrants(context, grantIDs(derived), now, input.CurrentActorID); err != nil {
			return err
		}
	}

	if !input.SyncToIdP {
		return nil
	}
	for index := range derived {
		grant := derived[index]
		if !utils.Contains(explicitRemovals, grant.GroupID) {
			continue
		}
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
			*tasks = append(*tasks, app.removeOwnerTask(grant.GroupID, grant.UserID))
		} else {
			*tasks = append(*tasks, app.removeMemberTask(grant.GroupID, grant.UserID))
		}
	}
	return nil
}

// resolveSatisfiedRoleRequests flips pending role requests matched by the new
// associations to approved
func (app *Application) resolveSatisfiedRoleRequests(role *model.Group, input ModifyRoleGroupsInput, now time.Time) ([]model.RoleRequest, error) {
	addedIDs := utils.Union(input.GroupsToAdd, input.OwnerGroupsToAdd)
	if len(addedIDs) == 0 {
		return nil, nil
	}

	completed := []model.RoleRequest{}
	transaction := func(context storage.TransactionContext) error {
		completed = completed[:0]
		pending, err := app.storage.FindRoleRequests(context, model.RequestFilter{
			Statuses: []string{model.RequestStatusPending}, RequesterRoleIDs: []string{role.ID}, GroupIDs: addedIDs})
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		maps, err := app.storage.FindRoleGroupMaps(context, model.RoleGroupMapFilter{
			RoleGroupIDs: []string{role.ID}, GroupIDs: addedIDs, ActiveAt: &now})
		if err != nil {
			return err
		}

		resolvedAt := time.Now()
		for index := range pending {
			request := pending[index]
			ownedLink := request.RequestOwnership
			var match *model.RoleGroupMap
			for mapIndex := range maps {
				if maps[mapIndex].GroupID == request.GroupID && maps[mapIndex].IsOwner == ownedLink {
					match = &maps[mapIndex]
					break
				}
			}
			if match == nil {
				continue
			}

			resolver := input.CurrentActorID
			resolutionReason := input.CreatedReason
			resolution := model.RequestResolution{Status: model.RequestStatusApproved, ResolvedAt: resolvedAt,
				ResolverID: &resolver, ResolutionReason: &resolutionReason,
				ApprovalEndingAt: match.EndedAt, ApprovedMapID: &match.ID}
			updated, err := app.storage.ResolveRoleRequest(context, request.ID, resolution)
			if err != nil {
				return err
			}
			if !updated {
				continue
			}

			request.Status = model.RequestStatusApproved
			request.ResolvedAt = &resolvedAt
			request.ResolverID = &resolver
			request.ResolutionReason = &resolutionReason
			request.ApprovalEndingAt = match.EndedAt
			mapID := match.ID
			request.ApprovedMapID = &mapID
			completed = append(completed, request)
		}
		return nil
	}
	err := app.storage.PerformTransaction(transaction)
	if err != nil {
		return nil, err
	}
	return completed, nil
}

func (app *Application) notifyCompletedRoleRequests(role *model.Group, completed []model.RoleRequest) {
	for index := range completed {
		request := completed[index]
		group, err := app.storage.FindGroup(nil, request.GroupID)
		if err != nil || group == nil {
			continue
		}
		requester, err := app.storage.FindUser(nil, request.RequesterID)
		if err != nil {
			continue
		}
		err = app.notifications.RoleRequestCompleted(request, *role, *group, requester)
		if err != nil {
			log.Printf("error notifying completed role request %s - %s", request.ID, err)
		}
	}
}

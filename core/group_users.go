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

	"access/core/model"
	"access/driven/storage"
	"access/utils"
)

// ModifyGroupUsersInput carries one membership mutation. Use
// NewModifyGroupUsersInput so the IdP-sync and notify switches default to on.
type ModifyGroupUsersInput struct {
	GroupID           string
	UsersAddedEndedAt *time.Time

	MembersToAdd []string
	OwnersToAdd  []string

	// user ids whose active grants get the should-expire UI hint
	MembersShouldExpire []string
	OwnersShouldExpire  []string

	MembersToRemove []string
	OwnersToRemove  []string

	CurrentActorID string
	CreatedReason  string

	SyncToIdP bool
	Notify    bool
}

// NewModifyGroupUsersInput creates an input with the default switches on
func NewModifyGroupUsersInput(groupID string, actorID string, reason string) ModifyGroupUsersInput {
	return ModifyGroupUsersInput{GroupID: groupID, CurrentActorID: actorID,
		CreatedReason: reason, SyncToIdP: true, Notify: true}
}

func (input *ModifyGroupUsersInput) isEmpty() bool {
	return len(input.MembersToAdd) == 0 && len(input.OwnersToAdd) == 0 &&
		len(input.MembersShouldExpire) == 0 && len(input.OwnersShouldExpire) == 0 &&
		len(input.MembersToRemove) == 0 && len(input.OwnersToRemove) == 0
}

// ModifyGroupUsers applies a membership mutation to a group. The observable
// order is end, commit, add, commit, resolve, commit, IdP, notify: readers never
// see an old direct grant and its replacement active together for the same
// bucket from the same origin, and IdP failures never roll anything back.
func (app *Application) ModifyGroupUsers(ctx context.Context, input ModifyGroupUsersInput) (*model.Group, error) {
	started := time.Now()

	group, err := app.storage.FindGroup(nil, input.GroupID)
	if err != nil {
		return nil, NewStoreError(err)
	}
	if group == nil || group.IsDeleted() {
		return nil, NewNotFoundError("group")
	}

	if input.isEmpty() {
		return group, nil
	}

	tags, err := app.coalescedTagsForGroup(nil, group)
	if err != nil {
		return nil, NewStoreError(err)
	}

	if valid, message := app.checkSelfAddGate(nil, input.CurrentActorID, group, tags, input.MembersToAdd, input.OwnersToAdd); !valid {
		log.Printf("modify group users denied for group %s - %s", group.Name, message)
		return group, nil
	}
	if valid, message := app.checkReasonGate(nil, input.CurrentActorID, tags, input.CreatedReason); !valid {
		log.Printf("modify group users denied for group %s - %s", group.Name, message)
		return group, nil
	}

	now := time.Now()
	memberLimit := coalesceTimeLimit(model.ConstraintMemberTimeLimit, tags)
	ownerLimit := coalesceTimeLimit(model.ConstraintOwnerTimeLimit, tags)
	membersAddedEndedAt := clampEndedAt(input.UsersAddedEndedAt, now, memberLimit, group.IsManaged)
	ownersAddedEndedAt := clampEndedAt(input.UsersAddedEndedAt, now, ownerLimit, group.IsManaged)

	tasks := []idpTask{}
	var roleMaps []model.RoleGroupMap
	targetGroups := map[string]model.Group{}

	// end phase: re-adding a bounded grant ends the old one first
	transaction := func(context storage.TransactionContext) error {
		if err := app.endDirectGrants(context, group.ID, utils.Union(input.MembersToRemove, input.MembersToAdd), false, now, input.CurrentActorID); err != nil {
			return err
		}
		if err := app.endDirectGrants(context, group.ID, utils.Union(input.OwnersToRemove, input.OwnersToAdd), true, now, input.CurrentActorID); err != nil {
			return err
		}

		if group.IsRole() {
			roleMaps, err = app.storage.FindRoleGroupMaps(context, model.RoleGroupMapFilter{RoleGroupIDs: []string{group.ID}, ActiveAt: &now})
			if err != nil {
				return err
			}
			if err := app.loadGroupsByID(context, roleMapTargetIDs(roleMaps), targetGroups); err != nil {
				return err
			}

			// removal from a role propagates to the groups it is associated with
			if len(input.MembersToRemove) > 0 && len(roleMaps) > 0 {
				derived, err := app.storage.FindGrants(context, model.GrantFilter{
					UserIDs: input.MembersToRemove, RoleGroupMapIDs: roleMapIDs(roleMaps), ActiveAt: &now})
				if err != nil {
					return err
				}
				if err := app.storage.EndGrants(context, grantIDs(derived), now, input.CurrentActorID); err != nil {
					return err
				}
			}
		}

		// the IdP loses a user only when no active grant of any origin remains
		if input.SyncToIdP {
			removeTasks, err := app.collectIdPRemovals(context, group, roleMaps, targetGroups, input.MembersToRemove, input.OwnersToRemove, now)
			if err != nil {
				return err
			}
			tasks = append(tasks, removeTasks...)
		}
		return nil
	}
	err = app.storage.PerformTransaction(transaction)
	if err != nil {
		return nil, NewStoreError(err)
	}

	app.markShouldExpire(group.ID, input.MembersShouldExpire, false, now)
	app.markShouldExpire(group.ID, input.OwnersShouldExpire, true, now)

	// add phase
	inserted := []model.Grant{}
	transaction = func(context storage.TransactionContext) error {
		inserted = inserted[:0]
		for _, userID := range input.MembersToAdd {
			inserted = append(inserted, app.newDirectGrant(userID, group.ID, false, membersAddedEndedAt, now, input))
		}
		for _, userID := range input.OwnersToAdd {
			inserted = append(inserted, app.newDirectGrant(userID, group.ID, true, ownersAddedEndedAt, now, input))
		}

		if group.IsRole() {
			for index := range roleMaps {
				roleMap := roleMaps[index]
				for _, userID := range input.MembersToAdd {
					// the member clamp applies to owner fan-out as well
					endedAt := minEndedAt(roleMap.EndedAt, membersAddedEndedAt)
					inserted = append(inserted, model.Grant{ID: uuid.NewString(), UserID: userID,
						GroupID: roleMap.GroupID, IsOwner: roleMap.IsOwner, RoleGroupMapID: &roleMap.ID,
						CreatedReason: input.CreatedReason, CreatedActorID: input.CurrentActorID,
						DateCreated: now, EndedAt: endedAt})
				}
			}
		}

		if len(inserted) == 0 {
			return nil
		}
		return app.storage.InsertGrants(context, inserted)
	}
	err = app.storage.PerformTransaction(transaction)
	if err != nil {
		return nil, NewStoreError(err)
	}

	if input.SyncToIdP {
		tasks = append(tasks, app.collectIdPAdditions(group, targetGroups, inserted)...)
	}

	// resolve phase: a grant just inserted satisfies matching pending requests
	completed, err := app.resolveSatisfiedAccessRequests(inserted, input.CurrentActorID, input.CreatedReason)
	if err != nil {
		log.Printf("error resolving satisfied requests for group %s - %s", group.Name, err)
	}

	app.dispatchIdPTasks(ctx, tasks)

	if input.Notify {
		app.notifyCompletedAccessRequests(completed)
	}

	reason := input.CreatedReason
	app.fireAuditEvent(model.AuditGroupUsersChange, input.CurrentActorID, "group", group.ID, &group.Name,
		"modify_users", &reason, map[string]interface{}{
			"members_added": len(input.MembersToAdd), "owners_added": len(input.OwnersToAdd),
			"members_removed": len(input.MembersToRemove), "owners_removed": len(input.OwnersToRemove),
		})
	app.hooks.observeOperation("modify_group_users", started, true)

	return group, nil
}

func (app *Application) newDirectGrant(userID string, groupID string, isOwner bool,
	endedAt *time.Time, now time.Time, input ModifyGroupUsersInput) model.Grant {
	return model.Grant{ID: uuid.NewString(), UserID: userID, GroupID: groupID, IsOwner: isOwner,
		CreatedReason: input.CreatedReason, CreatedActorID: input.CurrentActorID,
		DateCreated: now, EndedAt: endedAt}
}

func (app *Application) endDirectGrants(context storage.TransactionContext, groupID string,
	userIDs []string, isOwner bool, now time.Time, actorID string) error {
	if len(userIDs) == 0 {
		return nil
	}
	owner := isOwner
	grants, err := app.storage.FindGrants(context, model.GrantFilter{UserIDs: userIDs,
		GroupIDs: []string{groupID}, IsOwner: &owner, DirectOnly: true, ActiveAt: &now})
	if err != nil {
		return err
	}
	if len(grants) == 0 {
		return nil
	}
	return app.storage.EndGrants(context, grantIDs(grants), now, actorID)
}

// collectIdPRemovals schedules IdP removals for removed users whose bucket has
// no remaining active grant of any origin. For roles the associated groups are
// checked the same way.
func (app *Application) collectIdPRemovals(context storage.TransactionContext, group *model.Group,
	roleMaps []model.RoleGroupMap, targetGroups map[string]model.Group,
	membersToRemove []string, ownersToRemove []string, now time.Time) ([]idpTask, error) {
	tasks := []idpTask{}

	if group.IsManaged {
		for _, userID := range membersToRemove {
			uncovered, err := app.bucketUncovered(context, userID, group.ID, false, now)
			if err != nil {
				return nil, err
			}
			if uncovered {
				tasks = append(tasks, app.removeMemberTask(group.ID, userID))
			}
		}
		for _, userID := range ownersToRemove {
			uncovered, err := app.bucketUncovered(context, userID, group.ID, true, now)
			if err != nil {
				return nil, err
			}
			if uncovered {
				tasks = append(tasks, app.removeOwnerTask(group.ID, userID))
			}
		}
	}

	if group.IsRole() {
		for index := range roleMaps {
			roleMap := roleMaps[index]
			target, ok := targetGroups[roleMap.GroupID]
			if !ok || !target.IsManaged {
				continue
			}
			for _, userID := range membersToRemove {
				uncovered, err := app.bucketUncovered(context, userID, roleMap.GroupID, roleMap.IsOwner, now)
				if err != nil {
					return nil, err
				}
				if !uncovered {
					continue
				}
				if roleMap.IsOwner {
					tasks = append(tasks, app.removeOwnerTask(roleMap.GroupID, userID))
				} else {
					tasks = append(tasks, app.removeMemberTask(roleMap.GroupID, userID))
				}
			}
		}
	}

	return tasks, nil
}

// bucketUncovered says if no active grant of any origin remains for the bucket
func (app *Application) bucketUncovered(context storage.TransactionContext, userID string,
	groupID string, isOwner bool, now time.Time) (bool, error) {
	owner := isOwner
	remaining, err := app.storage.FindGrants(context, model.GrantFilter{UserIDs: []string{userID},
		GroupIDs: []string{groupID}, IsOwner: &owner, ActiveAt: &now})
	if err != nil {
		return false, err
	}
	return len(remaining) == 0, nil
}

func (app *Application) collectIdPAdditions(group *model.Group, targetGroups map[string]model.Group, inserted []model.Grant) []idpTask {
	tasks := []idpTask{}
	for index := range inserted {
		grant := inserted[index]

		managed := group.IsManaged
		if grant.GroupID != group.ID {
			target, ok := targetGroups[grant.GroupID]
			managed = ok && target.IsManaged
		}
		if !managed {
			continue
		}

		if grant.IsOwner {
			tasks = append(tasks, app.addOwnerTask(grant.GroupID, grant.UserID))
		} else {
			tasks = append(tasks, app.addMemberTask(grant.GroupID, grant.UserID))
		}
	}
	return tasks
}

func (app *Application) addMemberTask(groupID string, userID string) idpTask {
	return func(ctx context.Context) error {
		return app.idp.AddUserToGroup(ctx, groupID, userID)
	}
}

func (app *Application) addOwnerTask(groupID string, userID string) idpTask {
	return func(ctx context.Context) error {
		return app.idp.AddOwnerToGroup(ctx, groupID, userID)
	}
}

func (app *Application) removeMemberTask(groupID string, userID string) idpTask {
	return func(ctx context.Context) error {
		return app.idp.RemoveUserFromGroup(ctx, groupID, userID)
	}
}

func (app *Application) removeOwnerTask(groupID string, userID string) idpTask {
	return func(ctx context.Context) error {
		return app.idp.RemoveOwnerFromGroup(ctx, groupID, userID)
	}
}

// markShouldExpire flags the active direct grants of the listed users. A UI
// hint only; errors are logged and never fail the mutation.
func (app *Application) markShouldExpire(groupID string, userIDs []string, isOwner bool, now time.Time) {
	if len(userIDs) == 0 {
		return
	}
	owner := isOwner
	grants, err := app.storage.FindGrants(nil, model.GrantFilter{UserIDs: userIDs,
		GroupIDs: []string{groupID}, IsOwner: &owner, DirectOnly: true, ActiveAt: &now})
	if err != nil {
		log.Printf("error finding grants to mark should-expire - %s", err)
		return
	}
	if len(grants) == 0 {
		return
	}
	err = app.storage.SetGrantsShouldExpire(nil, grantIDs(grants), true)
	if err != nil {
		log.Printf("error marking grants should-expire - %s", err)
	}
}

// resolveSatisfiedAccessRequests flips pending requests matched by freshly
// inserted grants to approved, in its own transaction
func (app *Application) resolveSatisfiedAccessRequests(inserted []model.Grant, actorID string, reason string) ([]model.AccessRequest, error) {
	if len(inserted) == 0 {
		return nil, nil
	}

	type bucket struct {
		groupID string
		userID  string
		isOwner bool
	}
	byBucket := map[bucket]model.Grant{}
	requesterIDs := []string{}
	groupIDs := []string{}
	for index := range inserted {
		grant := inserted[index]
		key := bucket{groupID: grant.GroupID, userID: grant.UserID, isOwner: grant.IsOwner}
		if _, ok := byBucket[key]; !ok {
			byBucket[key] = grant
		}
		if !utils.Contains(requesterIDs, grant.UserID) {
			requesterIDs = append(requesterIDs, grant.UserID)
		}
		if !utils.Contains(groupIDs, grant.GroupID) {
			groupIDs = append(groupIDs, grant.GroupID)
		}
	}

	completed := []model.AccessRequest{}
	transaction := func(context storage.TransactionContext) error {
		completed = completed[:0]
		pending, err := app.storage.FindAccessRequests(context, model.RequestFilter{
			Statuses: []string{model.RequestStatusPending}, RequesterIDs: requesterIDs, GroupIDs: groupIDs})
		if err != nil {
			return err
		}

		now := time.Now()
		for index := range pending {
			request := pending[index]
			grant, ok := byBucket[bucket{groupID: request.GroupID, userID: request.RequesterID, isOwner: request.RequestOwnership}]
			if !ok {
				continue
			}

			resolver := actorID
			resolutionReason := reason
			resolution := model.RequestResolution{Status: model.RequestStatusApproved, ResolvedAt: now,
				ResolverID: &resolver, ResolutionReason: &resolutionReason,
				ApprovalEndingAt: grant.EndedAt, ApprovedGrantID: &grant.ID}
			updated, err := app.storage.ResolveAccessRequest(context, request.ID, resolution)
			if err != nil {
				return err
			}
			if !updated {
				continue
			}

			request.Status = model.RequestStatusApproved
			request.ResolvedAt = &now
			request.ResolverID = &resolver
			request.ResolutionReason = &resolutionReason
			request.ApprovalEndingAt = grant.EndedAt
			grantID := grant.ID
			request.ApprovedGrantID = &grantID
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

func (app *Application) notifyCompletedAccessRequests(completed []model.AccessRequest) {
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
		err = app.notifications.AccessRequestCompleted(request, *group, requester)
		if err != nil {
			log.Printf("error notifying completed request %s - %s", request.ID, err)
		}
		reason := ""
		if request.ResolutionReason != nil {
			reason = *request.ResolutionReason
		}
		resolver := ""
		if request.ResolverID != nil {
			resolver = *request.ResolverID
		}
		app.fireAuditEvent(model.AuditRequestResolved, resolver, "access_request", request.ID, nil,
			"approve", &reason, map[string]interface{}{"group_id": request.GroupID, "requester_id": request.RequesterID})
	}
}

func (app *Application) loadGroupsByID(context storage.TransactionContext, ids []string, into map[string]model.Group) error {
	if len(ids) == 0 {
		return nil
	}
	groups, err := app.storage.FindGroups(context, model.GroupFilter{IDs: ids})
	if err != nil {
		return err
	}
	for index := range groups {
		into[groups[index].ID] = groups[index]
	}
	return nil
}

func grantIDs(grants []model.Grant) []string {
	ids := make([]string, len(grants))
	for index := range grants {
		ids[index] = grants[index].ID
	}
	return ids
}

func roleMapIDs(maps []model.RoleGroupMap) []string {
	ids := make([]string, len(maps))
	for index := range maps {
		ids[index] = maps[index].ID
	}
	return ids
}

func roleMapTargetIDs(maps []model.RoleGroupMap) []string {
	ids := []string{}
	seen := map[string]bool{}
	for index := range maps {
		if !seen[maps[index].GroupID] {
			seen[maps[index].GroupID] = true
			ids = append(ids, maps[index].GroupID)
		}
	}
	return ids
}

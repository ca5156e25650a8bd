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

// reconcilerActorID marks writes produced by the reconciler
const reconcilerActorID = "reconciler"

// syncUsers mirrors the IdP user directory into the store. Departed users are
// soft-deleted and their access ends with them.
func (app *Application) syncUsers(ctx context.Context) error {
	idpUsers, err := app.idp.ListUsers(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	seen := map[string]bool{}
	for index := range idpUsers {
		idpUser := idpUsers[index]
		seen[idpUser.ID] = true

		local, err := app.storage.FindUser(nil, idpUser.ID)
		if err != nil {
			return err
		}

		if !idpUser.IsActive() {
			if local != nil && !local.IsDeleted() {
				if err := app.offboardUser(local.ID, now); err != nil {
					log.Printf("error offboarding user %s - %s", local.ID, err)
				}
			}
			continue
		}

		if local == nil {
			user := model.User{ID: idpUser.ID, Email: idpUser.Email, FirstName: idpUser.FirstName,
				LastName: idpUser.LastName, DisplayName: idpUser.DisplayName,
				ManagerID: idpUser.ManagerID, DateCreated: now}
			if err := app.storage.SaveUser(nil, &user); err != nil {
				return err
			}
			continue
		}

		updated := *local
		updated.Email = idpUser.Email
		updated.FirstName = idpUser.FirstName
		updated.LastName = idpUser.LastName
		updated.DisplayName = idpUser.DisplayName
		updated.ManagerID = idpUser.ManagerID
		// a reactivated user comes back without their old access
		updated.DeletedAt = nil
		if updated.Email != local.Email || updated.FirstName != local.FirstName ||
			updated.LastName != local.LastName || updated.DisplayName != local.DisplayName ||
			!stringPtrEqual(updated.ManagerID, local.ManagerID) || local.IsDeleted() {
			updated.DateUpdated = &now
			if err := app.storage.SaveUser(nil, &updated); err != nil {
				return err
			}
		}
	}

	locals, err := app.storage.FindUsers(nil, model.UserFilter{})
	if err != nil {
		return err
	}
	for index := range locals {
		if seen[locals[index].ID] || locals[index].IsDeleted() {
			continue
		}
		if err := app.offboardUser(locals[index].ID, now); err != nil {
			log.Printf("error offboarding user %s - %s", locals[index].ID, err)
		}
	}
	return nil
}

// offboardUser soft-deletes the user, ends their active grants and rejects
// their pending requests in one transaction
func (app *Application) offboardUser(userID string, now time.Time) error {
	transaction := func(context storage.TransactionContext) error {
		grants, err := app.storage.FindGrants(context, model.GrantFilter{UserIDs: []string{userID}, ActiveAt: &now})
		if err != nil {
			return err
		}
		if len(grants) > 0 {
			if err := app.storage.EndGrants(context, grantIDs(grants), now, reconcilerActorID); err != nil {
				return err
			}
		}
		if err := app.rejectPendingAccessRequests(context, model.RequestFilter{
			Statuses: []string{model.RequestStatusPending}, RequesterIDs: []string{userID}},
			"the requester no longer exists", now); err != nil {
			return err
		}
		if err := app.rejectPendingRoleRequests(context, model.RequestFilter{
			Statuses: []string{model.RequestStatusPending}, RequesterIDs: []string{userID}},
			"the requester no longer exists", now); err != nil {
			return err
		}
		return app.storage.SoftDeleteUser(context, userID, now)
	}
	return app.storage.PerformTransaction(transaction)
}

// syncGroups records IdP groups unknown to the store as unmanaged and demotes
// managed groups that grew membership rules in the IdP. Rule-driven membership
// cannot be governed here.
func (app *Application) syncGroups(ctx context.Context) error {
	idpGroups, err := app.idp.ListGroups(ctx)
	if err != nil {
		return err
	}
	ruledGroupIDs, err := app.idp.ListGroupsWithActiveRules(ctx)
	if err != nil {
		log.Printf("error listing rule-driven groups - %s", err)
		ruledGroupIDs = nil
	}

	now := time.Now()
	seen := map[string]bool{}
	for index := range idpGroups {
		idpGroup := idpGroups[index]
		seen[idpGroup.ID] = true
		ruled := utils.Contains(ruledGroupIDs, idpGroup.ID)

		local, err := app.storage.FindGroup(nil, idpGroup.ID)
		if err != nil {
			return err
		}
		if local == nil {
			observed := model.Group{ID: idpGroup.ID, Type: model.GroupTypePlain, Name: idpGroup.Name,
				Description: idpGroup.Description, IsManaged: false, DateCreated: now}
			if err := app.storage.InsertGroup(nil, observed); err != nil {
				return err
			}
			continue
		}
		if local.IsDeleted() {
			continue
		}

		if local.IsManaged && ruled {
			log.Printf("group %s grew idp membership rules, demoting to unmanaged", local.Name)
			demoted := *local
			demoted.IsManaged = false
			demoted.DateUpdated = &now
			if err := app.storage.UpdateGroup(nil, demoted); err != nil {
				return err
			}
			continue
		}

		if !local.IsManaged && (local.Name != idpGroup.Name || local.Description != idpGroup.Description) {
			mirrored := *local
			mirrored.Name = idpGroup.Name
			mirrored.Description = idpGroup.Description
			mirrored.DateUpdated = &now
			if err := app.storage.UpdateGroup(nil, mirrored); err != nil {
				return err
			}
		}
	}

	// managed groups missing from the IdP need a human decision; recreating
	// them would mint a new identity for every edge in the store
	managed, err := app.storage.FindGroups(nil, model.GroupFilter{ManagedOnly: true})
	if err != nil {
		return err
	}
	for index := range managed {
		if !seen[managed[index].ID] {
			log.Printf("managed group %s (%s) is missing from the idp", managed[index].Name, managed[index].ID)
		}
	}
	return nil
}

// syncMemberships converges group membership. In authoritative mode the store
// wins: the IdP roster is diffed against active grants of any origin and
// pushed. Otherwise the IdP wins and the roster is mirrored into direct grants.
func (app *Application) syncMemberships(ctx context.Context) error {
	groups, err := app.storage.FindGroups(nil, model.GroupFilter{ManagedOnly: true})
	if err != nil {
		return err
	}

	authoritative := app.config == nil || app.config.AuthoritativeSync
	for index := range groups {
		group := groups[index]
		if err := app.syncGroupMembership(ctx, group, authoritative); err != nil {
			log.Printf("error syncing membership of group %s - %s", group.Name, err)
		}
	}
	return nil
}

func (app *Application) syncGroupMembership(ctx context.Context, group model.Group, authoritative bool) error {
	roster, err := app.idp.ListGroupUsers(ctx, group.ID)
	if err != nil {
		return err
	}
	inIdP := map[string]bool{}
	for index := range roster {
		inIdP[roster[index].ID] = true
	}

	now := time.Now()
	grants, err := app.storage.FindGrants(nil, model.GrantFilter{GroupIDs: []string{group.ID}, ActiveAt: &now})
	if err != nil {
		return err
	}
	desired := map[string]bool{}
	ownersDesired := map[string]bool{}
	for index := range grants {
		if grants[index].IsOwner {
			ownersDesired[grants[index].UserID] = true
		} else {
			desired[grants[index].UserID] = true
		}
	}

	if authoritative {
		tasks := []idpTask{}
		for userID := range desired {
			if !inIdP[userID] {
				tasks = append(tasks, app.addMemberTask(group.ID, userID))
			}
		}
		for userID := range inIdP {
			if !desired[userID] {
				tasks = append(tasks, app.removeMemberTask(group.ID, userID))
			}
		}
		// owner pushes are idempotent; the IdP does not expose an owner roster
		for userID := range ownersDesired {
			tasks = append(tasks, app.addOwnerTask(group.ID, userID))
		}
		app.dispatchIdPTasks(ctx, tasks)
		return nil
	}

	// mirror mode: the IdP roster becomes direct grants
	transaction := func(context storage.TransactionContext) error {
		toInsert := []model.Grant{}
		for userID := range inIdP {
			if desired[userID] {
				continue
			}
			user, err := app.storage.FindUser(context, userID)
			if err != nil {
				return err
			}
			if user == nil || user.IsDeleted() {
				continue
			}
			toInsert = append(toInsert, model.Grant{ID: uuid.NewString(), UserID: userID,
				GroupID: group.ID, CreatedReason: "observed in the idp",
				CreatedActorID: reconcilerActorID, DateCreated: now})
		}
		if len(toInsert) > 0 {
			if err := app.storage.InsertGrants(context, toInsert); err != nil {
				return err
			}
		}

		toEnd := []string{}
		for index := range grants {
			grant := grants[index]
			if !grant.IsOwner && grant.IsDirect() && !inIdP[grant.UserID] {
				toEnd = append(toEnd, grant.ID)
			}
		}
		if len(toEnd) > 0 {
			return app.storage.EndGrants(context, toEnd, now, reconcilerActorID)
		}
		return nil
	}
	return app.storage.PerformTransaction(transaction)
}

func stringPtrEqual(a *string, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

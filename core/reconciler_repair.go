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
)

const expiryNotifySyncKey = "notify_expiring"

// repairIntegrity heals structural drift: role associations pointing at groups
// that stopped being managed, and role fan-out grants out of step with the
// role's membership
func (app *Application) repairIntegrity(ctx context.Context) error {
	now := time.Now()

	if err := app.purgeUnmanagedAssociations(now); err != nil {
		return err
	}

	roles, err := app.storage.FindGroups(nil, model.GroupFilter{Types: []string{model.GroupTypeRole}, ManagedOnly: true})
	if err != nil {
		return err
	}
	for index := range roles {
		if err := app.repairRoleFanOut(roles[index], now); err != nil {
			log.Printf("error repairing fan-out of role %s - %s", roles[index].Name, err)
		}
	}
	return nil
}

// purgeUnmanagedAssociations ends role associations whose target group is no
// longer managed, along with their derived grants, and rejects pending requests
// stranded on such groups
func (app *Application) purgeUnmanagedAssociations(now time.Time) error {
	transaction := func(context storage.TransactionContext) error {
		if err := app.purgeStaleRoleMaps(context, now); err != nil {
			return err
		}
		return app.rejectOrphanedRequests(context, now)
	}
	return app.storage.PerformTransaction(transaction)
}

func (app *Application) purgeStaleRoleMaps(context storage.TransactionContext, now time.Time) error {
	maps, err := app.storage.FindRoleGroupMaps(context, model.RoleGroupMapFilter{ActiveAt: &now})
	if err != nil {
		return err
	}
	if len(maps) == 0 {
		return nil
	}

	targetGroups := map[string]model.Group{}
	if err := app.loadGroupsByID(context, roleMapTargetIDs(maps), targetGroups); err != nil {
		return err
	}

	stale := []model.RoleGroupMap{}
	for index := range maps {
		target, ok := targetGroups[maps[index].GroupID]
		if !ok || target.IsDeleted() || !target.IsManaged || target.IsRole() {
			stale = append(stale, maps[index])
		}
	}
	if len(stale) == 0 {
		return nil
	}

	log.Printf("purging %d role associations with unmanaged targets", len(stale))
	if err := app.storage.EndRoleGroupMaps(context, roleMapIDs(stale), now, reconcilerActorID); err != nil {
		return err
	}
	derived, err := app.storage.FindGrants(context, model.GrantFilter{RoleGroupMapIDs: roleMapIDs(stale), ActiveAt: &now})
	if err != nil {
		return err
	}
	if len(derived) > 0 {
		return app.storage.EndGrants(context, grantIDs(derived), now, reconcilerActorID)
	}
	return nil
}

// rejectOrphanedRequests resolves pending access and role requests whose target
// group got deleted or demoted after the request was made
func (app *Application) rejectOrphanedRequests(context storage.TransactionContext, now time.Time) error {
	pendingAccess, err := app.storage.FindAccessRequests(context, model.RequestFilter{Statuses: []string{model.RequestStatusPending}})
	if err != nil {
		return err
	}
	pendingRole, err := app.storage.FindRoleRequests(context, model.RequestFilter{Statuses: []string{model.RequestStatusPending}})
	if err != nil {
		return err
	}

	groupIDs := []string{}
	seen := map[string]bool{}
	for index := range pendingAccess {
		if !seen[pendingAccess[index].GroupID] {
			seen[pendingAccess[index].GroupID] = true
			groupIDs = append(groupIDs, pendingAccess[index].GroupID)
		}
	}
	for index := range pendingRole {
		if !seen[pendingRole[index].GroupID] {
			seen[pendingRole[index].GroupID] = true
			groupIDs = append(groupIDs, pendingRole[index].GroupID)
		}
	}
	if len(groupIDs) == 0 {
		return nil
	}

	groups := map[string]model.Group{}
	if err := app.loadGroupsByID(context, groupIDs, groups); err != nil {
		return err
	}
	stale := []string{}
	for _, groupID := range groupIDs {
		group, ok := groups[groupID]
		if !ok || group.IsDeleted() || !group.IsManaged {
			stale = append(stale, groupID)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	log.Printf("rejecting pending requests on %d unmanaged groups", len(stale))
	reason := "the group is no longer managed here"
	if err := app.rejectPendingAccessRequests(context, model.RequestFilter{
		Statuses: []string{model.RequestStatusPending}, GroupIDs: stale}, reason, now); err != nil {
		return err
	}
	return app.rejectPendingRoleRequests(context, model.RequestFilter{
		Statuses: []string{model.RequestStatusPending}, GroupIDs: stale}, reason, now)
}

// repairRoleFanOut makes the derived grants of a role match its membership:
// every active member holds one derived grant per active association, ending
// at the earlier of the association's and the membership's end
func (app *Application) repairRoleFanOut(role model.Group, now time.Time) error {
	transaction := func(context storage.TransactionContext) error {
		maps, err := app.storage.FindRoleGroupMaps(context, model.RoleGroupMapFilter{RoleGroupIDs: []string{role.ID}, ActiveAt: &now})
		if err != nil {
			return err
		}
		if len(maps) == 0 {
			return nil
		}

		isMember := false
		memberships, err := app.storage.FindGrants(context, model.GrantFilter{
			GroupIDs: []string{role.ID}, IsOwner: &isMember, ActiveAt: &now})
		if err != nil {
			return err
		}
		membershipByUser := map[string]model.Grant{}
		for index := range memberships {
			membershipByUser[memberships[index].UserID] = memberships[index]
		}

		derived, err := app.storage.FindGrants(context, model.GrantFilter{RoleGroupMapIDs: roleMapIDs(maps), ActiveAt: &now})
		if err != nil {
			return err
		}
		type edge struct {
			mapID  string
			userID string
		}
		existing := map[edge]bool{}
		toEnd := []string{}
		for index := range derived {
			grant := derived[index]
			mapID := ""
			if grant.RoleGroupMapID != nil {
				mapID = *grant.RoleGroupMapID
			}
			if _, member := membershipByUser[grant.UserID]; !member {
				toEnd = append(toEnd, grant.ID)
				continue
			}
			existing[edge{mapID: mapID, userID: grant.UserID}] = true
		}

		toInsert := []model.Grant{}
		for index := range maps {
			roleMap := maps[index]
			for userID, membership := range membershipByUser {
				if existing[edge{mapID: roleMap.ID, userID: userID}] {
					continue
				}
				mapID := roleMap.ID
				toInsert = append(toInsert, model.Grant{ID: uuid.NewString(), UserID: userID,
					GroupID: roleMap.GroupID, IsOwner: roleMap.IsOwner,
					CreatedReason: "role fan-out repair", CreatedActorID: reconcilerActorID,
					RoleGroupMapID: &mapID, DateCreated: now,
					EndedAt: minEndedAt(roleMap.EndedAt, membership.EndedAt)})
			}
		}

		if len(toEnd) > 0 {
			if err := app.storage.EndGrants(context, toEnd, now, reconcilerActorID); err != nil {
				return err
			}
		}
		if len(toInsert) > 0 {
			log.Printf("repairing role %s fan-out: %d missing, %d extra", role.Name, len(toInsert), len(toEnd))
			return app.storage.InsertGrants(context, toInsert)
		}
		return nil
	}
	return app.storage.PerformTransaction(transaction)
}

// expireStaleRequests rejects pending requests whose requested window has
// passed or that outlived the pending TTL
func (app *Application) expireStaleRequests(ctx context.Context) error {
	now := time.Now()
	var createdBefore *time.Time
	if app.config != nil && app.config.RequestTTL > 0 {
		cutoff := now.Add(-app.config.RequestTTL)
		createdBefore = &cutoff
	}

	transaction := func(context storage.TransactionContext) error {
		if err := app.rejectPendingAccessRequests(context, model.RequestFilter{
			Statuses: []string{model.RequestStatusPending}, EndingBefore: &now},
			"the requested access window has passed", now); err != nil {
			return err
		}
		if err := app.rejectPendingRoleRequests(context, model.RequestFilter{
			Statuses: []string{model.RequestStatusPending}, EndingBefore: &now},
			"the requested access window has passed", now); err != nil {
			return err
		}
		if createdBefore == nil {
			return nil
		}
		if err := app.rejectPendingAccessRequests(context, model.RequestFilter{
			Statuses: []string{model.RequestStatusPending}, CreatedBefore: createdBefore},
			"the request expired without a decision", now); err != nil {
			return err
		}
		if err := app.rejectPendingRoleRequests(context, model.RequestFilter{
			Statuses: []string{model.RequestStatusPending}, CreatedBefore: createdBefore},
			"the request expired without a decision", now); err != nil {
			return err
		}
		return app.rejectPendingGroupRequests(context, createdBefore, now)
	}
	return app.storage.PerformTransaction(transaction)
}

func (app *Application) rejectPendingGroupRequests(context storage.TransactionContext, createdBefore *time.Time, now time.Time) error {
	pending, err := app.storage.FindGroupRequests(context, model.RequestFilter{
		Statuses: []string{model.RequestStatusPending}, CreatedBefore: createdBefore})
	if err != nil {
		return err
	}
	for index := range pending {
		reason := "the request expired without a decision"
		_, err := app.storage.ResolveGroupRequest(context, pending[index].ID, model.RequestResolution{
			Status: model.RequestStatusRejected, ResolvedAt: now, ResolutionReason: &reason})
		if err != nil {
			return err
		}
	}
	return nil
}

// notifyExpiringAccess announces grants and role associations entering the
// expiry window since the previous pass. The stored watermark keeps repeated
// passes from renotifying the same edge.
func (app *Application) notifyExpiringAccess(ctx context.Context) error {
	if app.config == nil || app.config.ExpiryNotificationWindow <= 0 {
		return nil
	}
	window := app.config.ExpiryNotificationWindow

	now := time.Now()
	watermark := now.Add(-24 * time.Hour)
	times, err := app.storage.FindSyncTimes(nil, expiryNotifySyncKey)
	if err == nil && times != nil && times.StartTime != nil {
		watermark = *times.StartTime
	}

	horizon := now.Add(window)
	grants, err := app.storage.FindGrants(nil, model.GrantFilter{ActiveAt: &now, EndingBefore: &horizon})
	if err != nil {
		return err
	}

	// only edges that crossed into the window since the watermark
	entering := []model.Grant{}
	for index := range grants {
		grant := grants[index]
		if grant.EndedAt == nil {
			continue
		}
		enteredAt := grant.EndedAt.Add(-window)
		if enteredAt.After(watermark) && !enteredAt.After(now) {
			entering = append(entering, grant)
		}
	}
	app.sendExpiryNotifications(entering, now)

	maps, err := app.storage.FindRoleGroupMaps(nil, model.RoleGroupMapFilter{ActiveAt: &now, EndingBefore: &horizon})
	if err != nil {
		return err
	}
	roleIDs := []string{}
	seenRoles := map[string]bool{}
	for index := range maps {
		roleMap := maps[index]
		if roleMap.EndedAt == nil {
			continue
		}
		enteredAt := roleMap.EndedAt.Add(-window)
		if enteredAt.After(watermark) && !enteredAt.After(now) && !seenRoles[roleMap.RoleGroupID] {
			seenRoles[roleMap.RoleGroupID] = true
			roleIDs = append(roleIDs, roleMap.RoleGroupID)
		}
	}
	app.sendRoleExpiryNotifications(roleIDs, now)

	mark := now
	if err := app.storage.SaveSyncTimes(nil, model.SyncTimes{Key: expiryNotifySyncKey, StartTime: &mark, EndTime: &mark}); err != nil {
		log.Printf("error saving expiry notification watermark - %s", err)
	}
	return nil
}

func (app *Application) sendExpiryNotifications(entering []model.Grant, now time.Time) {
	if len(entering) == 0 {
		return
	}

	byUser := map[string][]string{}
	byGroup := map[string]bool{}
	for index := range entering {
		grant := entering[index]
		byUser[grant.UserID] = append(byUser[grant.UserID], grant.GroupID)
		byGroup[grant.GroupID] = true
	}

	groupIDs := []string{}
	for groupID := range byGroup {
		groupIDs = append(groupIDs, groupID)
	}
	groups := map[string]model.Group{}
	if err := app.loadGroupsByID(nil, groupIDs, groups); err != nil {
		log.Printf("error loading groups for expiry notifications - %s", err)
		return
	}

	for userID, userGroupIDs := range byUser {
		user, err := app.storage.FindUser(nil, userID)
		if err != nil || user == nil || user.IsDeleted() {
			continue
		}
		userGroups := []model.Group{}
		for _, groupID := range userGroupIDs {
			if group, ok := groups[groupID]; ok {
				userGroups = append(userGroups, group)
			}
		}
		if len(userGroups) == 0 {
			continue
		}
		if err := app.notifications.AccessExpiringUser(*user, userGroups); err != nil {
			log.Printf("error notifying user %s of expiring access - %s", userID, err)
		}
	}

	// each affected group's owners hear about it once
	owner := true
	for groupID := range byGroup {
		group, ok := groups[groupID]
		if !ok {
			continue
		}
		ownerGrants, err := app.storage.FindGrants(nil, model.GrantFilter{
			GroupIDs: []string{groupID}, IsOwner: &owner, ActiveAt: &now})
		if err != nil {
			continue
		}
		for _, ownerID := range grantUserIDs(ownerGrants) {
			ownerUser, err := app.storage.FindUser(nil, ownerID)
			if err != nil || ownerUser == nil || ownerUser.IsDeleted() {
				continue
			}
			if err := app.notifications.AccessExpiringOwner(*ownerUser, []model.Group{group}); err != nil {
				log.Printf("error notifying owner %s of expiring access - %s", ownerID, err)
			}
		}
	}
}

func (app *Application) sendRoleExpiryNotifications(roleIDs []string, now time.Time) {
	if len(roleIDs) == 0 {
		return
	}

	roles := map[string]model.Group{}
	if err := app.loadGroupsByID(nil, roleIDs, roles); err != nil {
		log.Printf("error loading roles for expiry notifications - %s", err)
		return
	}

	owner := true
	for _, roleID := range roleIDs {
		role, ok := roles[roleID]
		if !ok {
			continue
		}
		ownerGrants, err := app.storage.FindGrants(nil, model.GrantFilter{
			GroupIDs: []string{roleID}, IsOwner: &owner, ActiveAt: &now})
		if err != nil {
			continue
		}
		for _, ownerID := range grantUserIDs(ownerGrants) {
			ownerUser, err := app.storage.FindUser(nil, ownerID)
			if err != nil || ownerUser == nil || ownerUser.IsDeleted() {
				continue
			}
			if err := app.notifications.AccessExpiringRoleOwner(*ownerUser, []model.Group{role}); err != nil {
				log.Printf("error notifying role owner %s of expiring association - %s", ownerID, err)
			}
		}
	}
}

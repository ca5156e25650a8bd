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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"access/core/model"
)

func TestReconcileRejectsOverlappingRun(t *testing.T) {
	env := newTestEnv(&model.ApplicationConfig{AuthoritativeSync: true, SyncTimeout: time.Hour})
	started := time.Now().Add(-5 * time.Minute)
	env.storage.syncTimes[reconcileSyncKey] = model.SyncTimes{Key: reconcileSyncKey, StartTime: &started}

	err := env.app.Reconcile(context.Background())
	require.Error(t, err)
}

func TestReconcileTakesOverStaleClaim(t *testing.T) {
	env := newTestEnv(&model.ApplicationConfig{AuthoritativeSync: true, SyncTimeout: time.Hour})
	started := time.Now().Add(-2 * time.Hour)
	env.storage.syncTimes[reconcileSyncKey] = model.SyncTimes{Key: reconcileSyncKey, StartTime: &started}

	err := env.app.Reconcile(context.Background())
	require.NoError(t, err)

	times := env.storage.syncTimes[reconcileSyncKey]
	require.NotNil(t, times.StartTime)
	assert.True(t, times.StartTime.After(started))
	require.NotNil(t, times.EndTime)
}

func TestSyncUsersMirrorsTheDirectory(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("u-upd")
	env.idp.users = []model.IdPUser{
		{ID: "u-new", Email: "new@example.com", Status: "ACTIVE"},
		{ID: "u-upd", Email: "changed@example.com", Status: "PROVISIONED"},
	}

	err := env.app.syncUsers(context.Background())
	require.NoError(t, err)

	created, err := env.storage.FindUser(nil, "u-new")
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, "new@example.com", created.Email)

	updated, err := env.storage.FindUser(nil, "u-upd")
	require.NoError(t, err)
	assert.Equal(t, "changed@example.com", updated.Email)
}

func TestSyncUsersOffboardsDepartedUsers(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("u-dead")
	env.addUser("u-gone")
	group := env.addGroup("g-1", model.GroupTypePlain, true)
	env.addGrant("gr-dead", "u-dead", group.ID, false, nil, nil)
	env.addGrant("gr-gone", "u-gone", group.ID, false, nil, nil)
	env.storage.accessRequests["req-1"] = model.AccessRequest{ID: "req-1", RequesterID: "u-dead",
		GroupID: group.ID, Status: model.RequestStatusPending, DateCreated: time.Now()}

	// u-dead is deactivated in the idp, u-gone vanished from it entirely
	env.idp.users = []model.IdPUser{{ID: "u-dead", Email: "dead@example.com", Status: "DEPROVISIONED"}}

	err := env.app.syncUsers(context.Background())
	require.NoError(t, err)

	for _, userID := range []string{"u-dead", "u-gone"} {
		user, err := env.storage.FindUser(nil, userID)
		require.NoError(t, err)
		assert.True(t, user.IsDeleted(), userID)
	}
	assert.Empty(t, env.storage.activeGrants(group.ID, false))

	rejected := env.storage.accessRequests["req-1"]
	assert.Equal(t, model.RequestStatusRejected, rejected.Status)
	require.NotNil(t, rejected.ResolutionReason)
	assert.Equal(t, "the requester no longer exists", *rejected.ResolutionReason)
}

func TestSyncUsersRevivesReturningUser(t *testing.T) {
	env := newTestEnv(nil)
	user := env.addUser("u-1")
	deletedAt := time.Now().Add(-time.Hour)
	user.DeletedAt = &deletedAt
	env.storage.users["u-1"] = user

	env.idp.users = []model.IdPUser{{ID: "u-1", Email: "u-1@example.com", Status: "ACTIVE"}}

	err := env.app.syncUsers(context.Background())
	require.NoError(t, err)

	revived, err := env.storage.FindUser(nil, "u-1")
	require.NoError(t, err)
	assert.False(t, revived.IsDeleted())
}

func TestSyncGroupsRecordsUnknownGroupsAsUnmanaged(t *testing.T) {
	env := newTestEnv(nil)
	env.idp.groups = []model.IdPGroup{{ID: "idp-9", Name: "Legacy", Description: "pre-existing"}}

	err := env.app.syncGroups(context.Background())
	require.NoError(t, err)

	observed, err := env.storage.FindGroup(nil, "idp-9")
	require.NoError(t, err)
	require.NotNil(t, observed)
	assert.Equal(t, model.GroupTypePlain, observed.Type)
	assert.Equal(t, "Legacy", observed.Name)
	assert.False(t, observed.IsManaged)
}

func TestSyncGroupsDemotesRuleDrivenGroups(t *testing.T) {
	env := newTestEnv(nil)
	group := env.addGroup("g-1", model.GroupTypePlain, true)
	env.idp.groups = []model.IdPGroup{{ID: group.ID, Name: group.Name}}
	env.idp.ruleGroups = []string{group.ID}

	err := env.app.syncGroups(context.Background())
	require.NoError(t, err)

	demoted, err := env.storage.FindGroup(nil, group.ID)
	require.NoError(t, err)
	assert.False(t, demoted.IsManaged)
}

func TestSyncGroupsMirrorsUnmanagedRenames(t *testing.T) {
	env := newTestEnv(nil)
	group := env.addGroup("g-1", model.GroupTypePlain, false)
	env.idp.groups = []model.IdPGroup{{ID: group.ID, Name: "Renamed", Description: "new text"}}

	err := env.app.syncGroups(context.Background())
	require.NoError(t, err)

	mirrored, err := env.storage.FindGroup(nil, group.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", mirrored.Name)
	assert.Equal(t, "new text", mirrored.Description)
}

func TestSyncMembershipsAuthoritativePushesTheDiff(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("u-1")
	env.addUser("u-2")
	group := env.addGroup("g-1", model.GroupTypePlain, true)
	env.addGrant("m1", "u-1", group.ID, false, nil, nil)
	env.addGrant("o1", "u-2", group.ID, true, nil, nil)
	// u-3 is in the idp roster but holds no grant here
	env.idp.groupUsers[group.ID] = []model.IdPUser{{ID: "u-3", Status: "ACTIVE"}}

	err := env.app.syncMemberships(context.Background())
	require.NoError(t, err)

	assert.Len(t, env.idp.callsWithPrefix("add_member:g-1:u-1"), 1)
	assert.Len(t, env.idp.callsWithPrefix("remove_member:g-1:u-3"), 1)
	assert.Len(t, env.idp.callsWithPrefix("add_owner:g-1:u-2"), 1)
}

func TestSyncMembershipsMirrorModeAdoptsTheRoster(t *testing.T) {
	env := newTestEnv(&model.ApplicationConfig{AuthoritativeSync: false})
	env.addUser("u-1")
	env.addUser("u-3")
	group := env.addGroup("g-1", model.GroupTypePlain, true)
	env.addGrant("m1", "u-1", group.ID, false, nil, nil)
	env.idp.groupUsers[group.ID] = []model.IdPUser{{ID: "u-3", Status: "ACTIVE"}}

	err := env.app.syncMemberships(context.Background())
	require.NoError(t, err)

	members := env.storage.activeGrants(group.ID, false)
	require.Len(t, members, 1)
	assert.Equal(t, "u-3", members[0].UserID)
	assert.Equal(t, "observed in the idp", members[0].CreatedReason)

	// the store follows the idp, nothing is pushed back
	assert.Empty(t, env.idp.callsWithPrefix("add_member"))
	assert.Empty(t, env.idp.callsWithPrefix("remove_member"))
}

func TestRepairIntegrityPurgesUnmanagedAssociations(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("u-1")
	role := env.addGroup("role-1", model.GroupTypeRole, true)
	target := env.addGroup("target-1", model.GroupTypePlain, false)
	env.storage.roleGroupMaps["rm-1"] = model.RoleGroupMap{ID: "rm-1", RoleGroupID: role.ID,
		GroupID: target.ID, DateCreated: time.Now()}
	mapID := "rm-1"
	env.addGrant("derived", "u-1", target.ID, false, &mapID, nil)

	err := env.app.repairIntegrity(context.Background())
	require.NoError(t, err)

	require.NotNil(t, env.storage.roleGroupMaps["rm-1"].EndedAt)
	assert.Empty(t, env.storage.activeGrants(target.ID, false))
}

func TestRepairIntegrityRejectsRequestsOnUnmanagedGroups(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("u-1")
	role := env.addGroup("role-1", model.GroupTypeRole, true)
	demoted := env.addGroup("g-demoted", model.GroupTypePlain, false)
	kept := env.addGroup("g-kept", model.GroupTypePlain, true)
	env.storage.accessRequests["req-demoted"] = model.AccessRequest{ID: "req-demoted", RequesterID: "u-1",
		GroupID: demoted.ID, Status: model.RequestStatusPending, DateCreated: time.Now()}
	env.storage.accessRequests["req-kept"] = model.AccessRequest{ID: "req-kept", RequesterID: "u-1",
		GroupID: kept.ID, Status: model.RequestStatusPending, DateCreated: time.Now()}
	env.storage.roleRequests["role-req"] = model.RoleRequest{ID: "role-req", RequesterID: "u-1",
		RequesterRoleID: role.ID, GroupID: demoted.ID, Status: model.RequestStatusPending, DateCreated: time.Now()}

	err := env.app.repairIntegrity(context.Background())
	require.NoError(t, err)

	rejected := env.storage.accessRequests["req-demoted"]
	assert.Equal(t, model.RequestStatusRejected, rejected.Status)
	require.NotNil(t, rejected.ResolutionReason)
	assert.Equal(t, "the group is no longer managed here", *rejected.ResolutionReason)

	roleRejected := env.storage.roleRequests["role-req"]
	assert.Equal(t, model.RequestStatusRejected, roleRejected.Status)

	surviving := env.storage.accessRequests["req-kept"]
	assert.True(t, surviving.IsPending())
}

func TestRepairRoleFanOut(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("u-1")
	env.addUser("u-2")
	role := env.addGroup("role-1", model.GroupTypeRole, true)
	target := env.addGroup("target-1", model.GroupTypePlain, true)

	membershipEnd := time.Now().Add(30 * time.Minute)
	env.addGrant("m1", "u-1", role.ID, false, nil, &membershipEnd)

	mapEnd := time.Now().Add(2 * time.Hour)
	env.storage.roleGroupMaps["rm-1"] = model.RoleGroupMap{ID: "rm-1", RoleGroupID: role.ID,
		GroupID: target.ID, DateCreated: time.Now(), EndedAt: &mapEnd}
	// u-2 holds a derived grant but is not a role member anymore
	mapID := "rm-1"
	env.addGrant("stale", "u-2", target.ID, false, &mapID, nil)

	err := env.app.repairIntegrity(context.Background())
	require.NoError(t, err)

	derived := env.storage.activeGrants(target.ID, false)
	require.Len(t, derived, 1)
	assert.Equal(t, "u-1", derived[0].UserID)
	assert.Equal(t, "role fan-out repair", derived[0].CreatedReason)
	// the repaired grant ends with the membership, the earlier of the two bounds
	require.NotNil(t, derived[0].EndedAt)
	assert.WithinDuration(t, membershipEnd, *derived[0].EndedAt, time.Second)

	require.NotNil(t, env.storage.grants["stale"].EndedAt)
}

func TestExpireStaleRequests(t *testing.T) {
	env := newTestEnv(&model.ApplicationConfig{AuthoritativeSync: true, RequestTTL: time.Hour})
	group := env.addGroup("g-1", model.GroupTypePlain, true)

	pastWindow := time.Now().Add(-time.Minute)
	env.storage.accessRequests["req-window"] = model.AccessRequest{ID: "req-window", RequesterID: "u-1",
		GroupID: group.ID, RequestEndingAt: &pastWindow, Status: model.RequestStatusPending,
		DateCreated: time.Now().Add(-10 * time.Minute)}
	env.storage.accessRequests["req-stale"] = model.AccessRequest{ID: "req-stale", RequesterID: "u-1",
		GroupID: group.ID, Status: model.RequestStatusPending, DateCreated: time.Now().Add(-2 * time.Hour)}
	env.storage.accessRequests["req-fresh"] = model.AccessRequest{ID: "req-fresh", RequesterID: "u-1",
		GroupID: group.ID, Status: model.RequestStatusPending, DateCreated: time.Now()}
	env.storage.groupRequests["req-group"] = model.GroupRequest{ID: "req-group", RequesterID: "u-1",
		RequestedName: "Engineering", RequestedType: model.GroupTypePlain,
		Status: model.RequestStatusPending, DateCreated: time.Now().Add(-2 * time.Hour)}

	err := env.app.expireStaleRequests(context.Background())
	require.NoError(t, err)

	window := env.storage.accessRequests["req-window"]
	assert.Equal(t, model.RequestStatusRejected, window.Status)
	require.NotNil(t, window.ResolutionReason)
	assert.Equal(t, "the requested access window has passed", *window.ResolutionReason)

	stale := env.storage.accessRequests["req-stale"]
	assert.Equal(t, model.RequestStatusRejected, stale.Status)
	require.NotNil(t, stale.ResolutionReason)
	assert.Equal(t, "the request expired without a decision", *stale.ResolutionReason)

	fresh := env.storage.accessRequests["req-fresh"]
	assert.True(t, fresh.IsPending())
	assert.Equal(t, model.RequestStatusRejected, env.storage.groupRequests["req-group"].Status)
}

func TestNotifyExpiringAccessUsesAWatermark(t *testing.T) {
	env := newTestEnv(&model.ApplicationConfig{AuthoritativeSync: true, ExpiryNotificationWindow: time.Hour})
	env.addUser("u-1")
	env.addUser("u-2")
	env.addUser("u-3")
	group := env.addGroup("g-1", model.GroupTypePlain, true)
	role := env.addGroup("role-1", model.GroupTypeRole, true)

	endingSoon := time.Now().Add(30 * time.Minute)
	env.addGrant("gr-1", "u-1", group.ID, false, nil, &endingSoon)
	env.addGrant("own-1", "u-2", group.ID, true, nil, nil)
	env.addGrant("role-own", "u-3", role.ID, true, nil, nil)
	env.storage.roleGroupMaps["rm-1"] = model.RoleGroupMap{ID: "rm-1", RoleGroupID: role.ID,
		GroupID: group.ID, DateCreated: time.Now(), EndedAt: &endingSoon}

	err := env.app.notifyExpiringAccess(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"u-1"}, env.notifications.expiringUsers)
	assert.Equal(t, []string{"u-2"}, env.notifications.expiringOwners)
	assert.Equal(t, []string{"u-3"}, env.notifications.expiringRoleOwners)

	// a second pass must not renotify the same edges
	err = env.app.notifyExpiringAccess(context.Background())
	require.NoError(t, err)
	assert.Len(t, env.notifications.expiringUsers, 1)
	assert.Len(t, env.notifications.expiringOwners, 1)
	assert.Len(t, env.notifications.expiringRoleOwners, 1)
}

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

func TestModifyGroupUsersAddsMember(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("user-1")
	group := env.addGroup("g-1", model.GroupTypePlain, true)

	input := NewModifyGroupUsersInput(group.ID, "actor-1", "onboarding")
	input.MembersToAdd = []string{"user-1"}

	result, err := env.app.ModifyGroupUsers(context.Background(), input)
	require.NoError(t, err)
	require.NotNil(t, result)

	grants := env.storage.activeGrants(group.ID, false)
	require.Len(t, grants, 1)
	assert.Equal(t, "user-1", grants[0].UserID)
	assert.Equal(t, "actor-1", grants[0].CreatedActorID)
	assert.Equal(t, "onboarding", grants[0].CreatedReason)
	assert.Nil(t, grants[0].RoleGroupMapID)
	assert.Nil(t, grants[0].EndedAt)

	assert.Equal(t, []string{"add_member:g-1:user-1"}, env.idp.callsWithPrefix("add_member"))
}

func TestModifyGroupUsersReAddEndsOldGrantFirst(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("user-1")
	group := env.addGroup("g-1", model.GroupTypePlain, true)
	old := env.addGrant("old", "user-1", group.ID, false, nil, nil)

	input := NewModifyGroupUsersInput(group.ID, "actor-1", "refresh")
	input.MembersToAdd = []string{"user-1"}

	_, err := env.app.ModifyGroupUsers(context.Background(), input)
	require.NoError(t, err)

	// one active grant per bucket per origin
	active := env.storage.activeGrants(group.ID, false)
	require.Len(t, active, 1)
	assert.NotEqual(t, old.ID, active[0].ID)

	ended := env.storage.grants[old.ID]
	require.NotNil(t, ended.EndedAt)
	require.NotNil(t, ended.EndedActorID)
	assert.Equal(t, "actor-1", *ended.EndedActorID)
}

func TestModifyGroupUsersClampsToMemberTimeLimit(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("user-1")
	group := env.addGroup("g-1", model.GroupTypePlain, true)
	env.addTagWithConstraints("tag-1", map[string]interface{}{model.ConstraintMemberTimeLimit: 3600})
	env.attachTag("map-1", "tag-1", group.ID)

	input := NewModifyGroupUsersInput(group.ID, "actor-1", "short access")
	input.MembersToAdd = []string{"user-1"}

	_, err := env.app.ModifyGroupUsers(context.Background(), input)
	require.NoError(t, err)

	grants := env.storage.activeGrants(group.ID, false)
	require.Len(t, grants, 1)
	require.NotNil(t, grants[0].EndedAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *grants[0].EndedAt, 5*time.Second)
}

func TestModifyGroupUsersLimitAdvisoryForUnmanaged(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("user-1")
	group := env.addGroup("g-1", model.GroupTypePlain, false)
	env.addTagWithConstraints("tag-1", map[string]interface{}{model.ConstraintMemberTimeLimit: 3600})
	env.attachTag("map-1", "tag-1", group.ID)

	input := NewModifyGroupUsersInput(group.ID, "actor-1", "observed group")
	input.MembersToAdd = []string{"user-1"}

	_, err := env.app.ModifyGroupUsers(context.Background(), input)
	require.NoError(t, err)

	grants := env.storage.activeGrants(group.ID, false)
	require.Len(t, grants, 1)
	assert.Nil(t, grants[0].EndedAt)

	// unmanaged groups never receive IdP writes
	assert.Empty(t, env.idp.callsWithPrefix("add_member"))
}

func TestModifyGroupUsersGateDenialIsNoOp(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("actor-1")
	group := env.addGroup("g-1", model.GroupTypePlain, true)
	env.addTagWithConstraints("tag-1", map[string]interface{}{model.ConstraintDisallowSelfAddMembership: true})
	env.attachTag("map-1", "tag-1", group.ID)

	input := NewModifyGroupUsersInput(group.ID, "actor-1", "self add")
	input.MembersToAdd = []string{"actor-1"}

	result, err := env.app.ModifyGroupUsers(context.Background(), input)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Empty(t, env.storage.activeGrants(group.ID, false))
	assert.Empty(t, env.idp.calls)
}

func TestModifyGroupUsersRemoveMember(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("user-1")
	group := env.addGroup("g-1", model.GroupTypePlain, true)
	env.addGrant("gr-1", "user-1", group.ID, false, nil, nil)

	input := NewModifyGroupUsersInput(group.ID, "actor-1", "offboarding")
	input.MembersToRemove = []string{"user-1"}

	_, err := env.app.ModifyGroupUsers(context.Background(), input)
	require.NoError(t, err)

	assert.Empty(t, env.storage.activeGrants(group.ID, false))
	assert.Equal(t, []string{"remove_member:g-1:user-1"}, env.idp.callsWithPrefix("remove_member"))
}

func TestModifyGroupUsersRemoveKeepsIdPWhenDerivedGrantCovers(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("user-1")
	group := env.addGroup("g-1", model.GroupTypePlain, true)
	env.addGrant("direct", "user-1", group.ID, false, nil, nil)
	mapID := "rm-1"
	env.addGrant("derived", "user-1", group.ID, false, &mapID, nil)

	input := NewModifyGroupUsersInput(group.ID, "actor-1", "remove direct only")
	input.MembersToRemove = []string{"user-1"}

	_, err := env.app.ModifyGroupUsers(context.Background(), input)
	require.NoError(t, err)

	// the direct grant ended but the derived one still covers the bucket
	require.Len(t, env.storage.activeGrants(group.ID, false), 1)
	assert.Empty(t, env.idp.callsWithPrefix("remove_member"))
}

func TestModifyGroupUsersRoleFanOut(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("user-1")
	role := env.addGroup("role-1", model.GroupTypeRole, true)
	target := env.addGroup("target-1", model.GroupTypePlain, true)
	env.storage.roleGroupMaps["rm-1"] = model.RoleGroupMap{ID: "rm-1", RoleGroupID: role.ID,
		GroupID: target.ID, DateCreated: time.Now()}

	input := NewModifyGroupUsersInput(role.ID, "actor-1", "role member")
	input.MembersToAdd = []string{"user-1"}

	_, err := env.app.ModifyGroupUsers(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, env.storage.activeGrants(role.ID, false), 1)

	derived := env.storage.activeGrants(target.ID, false)
	require.Len(t, derived, 1)
	require.NotNil(t, derived[0].RoleGroupMapID)
	assert.Equal(t, "rm-1", *derived[0].RoleGroupMapID)

	assert.Len(t, env.idp.callsWithPrefix("add_member"), 2)
}

func TestRoleFanOutOwnerClampUsesMemberLimit(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("user-1")
	role := env.addGroup("role-1", model.GroupTypeRole, true)
	target := env.addGroup("target-1", model.GroupTypePlain, true)
	env.addTagWithConstraints("tag-1", map[string]interface{}{
		model.ConstraintMemberTimeLimit: 600, model.ConstraintOwnerTimeLimit: 7200})
	env.attachTag("map-1", "tag-1", role.ID)
	env.storage.roleGroupMaps["rm-owner"] = model.RoleGroupMap{ID: "rm-owner", RoleGroupID: role.ID,
		GroupID: target.ID, IsOwner: true, DateCreated: time.Now()}

	input := NewModifyGroupUsersInput(role.ID, "actor-1", "role member")
	input.MembersToAdd = []string{"user-1"}

	_, err := env.app.ModifyGroupUsers(context.Background(), input)
	require.NoError(t, err)

	// the derived ownership inherits the member clamp, not the owner one
	derived := env.storage.activeGrants(target.ID, true)
	require.Len(t, derived, 1)
	require.NotNil(t, derived[0].EndedAt)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), *derived[0].EndedAt, 5*time.Second)
}

func TestModifyGroupUsersRemoveFromRolePropagates(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("user-1")
	role := env.addGroup("role-1", model.GroupTypeRole, true)
	target := env.addGroup("target-1", model.GroupTypePlain, true)
	env.storage.roleGroupMaps["rm-1"] = model.RoleGroupMap{ID: "rm-1", RoleGroupID: role.ID,
		GroupID: target.ID, DateCreated: time.Now()}
	env.addGrant("member", "user-1", role.ID, false, nil, nil)
	mapID := "rm-1"
	env.addGrant("derived", "user-1", target.ID, false, &mapID, nil)

	input := NewModifyGroupUsersInput(role.ID, "actor-1", "leaving role")
	input.MembersToRemove = []string{"user-1"}

	_, err := env.app.ModifyGroupUsers(context.Background(), input)
	require.NoError(t, err)

	assert.Empty(t, env.storage.activeGrants(role.ID, false))
	assert.Empty(t, env.storage.activeGrants(target.ID, false))

	assert.Len(t, env.idp.callsWithPrefix("remove_member"), 2)
}

func TestModifyGroupUsersMarksShouldExpire(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("user-1")
	group := env.addGroup("g-1", model.GroupTypePlain, true)
	env.addGrant("gr-1", "user-1", group.ID, false, nil, nil)

	input := NewModifyGroupUsersInput(group.ID, "actor-1", "flag for expiry")
	input.MembersShouldExpire = []string{"user-1"}

	_, err := env.app.ModifyGroupUsers(context.Background(), input)
	require.NoError(t, err)

	assert.True(t, env.storage.grants["gr-1"].ShouldExpire)
	assert.Nil(t, env.storage.grants["gr-1"].EndedAt)
}

func TestModifyGroupUsersResolvesPendingRequest(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("user-1")
	group := env.addGroup("g-1", model.GroupTypePlain, true)
	env.storage.accessRequests["req-1"] = model.AccessRequest{ID: "req-1", RequesterID: "user-1",
		GroupID: group.ID, Status: model.RequestStatusPending, RequestReason: "need it",
		DateCreated: time.Now()}

	input := NewModifyGroupUsersInput(group.ID, "owner-1", "approved by owner")
	input.MembersToAdd = []string{"user-1"}

	_, err := env.app.ModifyGroupUsers(context.Background(), input)
	require.NoError(t, err)

	resolved := env.storage.accessRequests["req-1"]
	assert.Equal(t, model.RequestStatusApproved, resolved.Status)
	require.NotNil(t, resolved.ResolverID)
	assert.Equal(t, "owner-1", *resolved.ResolverID)
	require.NotNil(t, resolved.ApprovedGrantID)

	require.Len(t, env.notifications.accessCompleted, 1)
	assert.Equal(t, "req-1", env.notifications.accessCompleted[0].ID)
}

func TestModifyGroupUsersOwnershipRequestNotResolvedByMembership(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("user-1")
	group := env.addGroup("g-1", model.GroupTypePlain, true)
	env.storage.accessRequests["req-1"] = model.AccessRequest{ID: "req-1", RequesterID: "user-1",
		GroupID: group.ID, RequestOwnership: true, Status: model.RequestStatusPending,
		DateCreated: time.Now()}

	input := NewModifyGroupUsersInput(group.ID, "owner-1", "member only")
	input.MembersToAdd = []string{"user-1"}

	_, err := env.app.ModifyGroupUsers(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, model.RequestStatusPending, env.storage.accessRequests["req-1"].Status)
	assert.Empty(t, env.notifications.accessCompleted)
}

func TestModifyGroupUsersIdPFailureDoesNotRollBack(t *testing.T) {
	env := newTestEnv(nil)
	env.idp.failAll = true
	env.addUser("user-1")
	group := env.addGroup("g-1", model.GroupTypePlain, true)

	input := NewModifyGroupUsersInput(group.ID, "actor-1", "idp down")
	input.MembersToAdd = []string{"user-1"}

	_, err := env.app.ModifyGroupUsers(context.Background(), input)
	require.NoError(t, err)

	// the store keeps the grant; the reconciler converges the IdP later
	assert.Len(t, env.storage.activeGrants(group.ID, false), 1)
}

func TestModifyGroupUsersUnknownGroup(t *testing.T) {
	env := newTestEnv(nil)

	input := NewModifyGroupUsersInput("missing", "actor-1", "")
	input.MembersToAdd = []string{"user-1"}

	_, err := env.app.ModifyGroupUsers(context.Background(), input)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, ErrorKind(err))
}

func TestModifyGroupUsersEmptyInputIsNoOp(t *testing.T) {
	env := newTestEnv(nil)
	group := env.addGroup("g-1", model.GroupTypePlain, true)

	result, err := env.app.ModifyGroupUsers(context.Background(), NewModifyGroupUsersInput(group.ID, "actor-1", ""))
	require.NoError(t, err)
	assert.Equal(t, group.ID, result.ID)
	assert.Empty(t, env.idp.calls)
}

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
	"strings"
	"sync"
	"time"

	"access/core/model"
	"access/driven/storage"
	"access/utils"
)

// fakeStorage is an in-memory Storage implementation. Transactions run the
// callback directly; the write-once resolution contract is honored.
type fakeStorage struct {
	users         map[string]model.User
	groups        map[string]model.Group
	apps          map[string]model.App
	tags          map[string]model.Tag
	groupTagMaps  map[string]model.GroupTagMap
	appTagMaps    map[string]model.AppTagMap
	grants        map[string]model.Grant
	roleGroupMaps map[string]model.RoleGroupMap

	accessRequests map[string]model.AccessRequest
	roleRequests   map[string]model.RoleRequest
	groupRequests  map[string]model.GroupRequest

	syncTimes map[string]model.SyncTimes
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		users:          map[string]model.User{},
		groups:         map[string]model.Group{},
		apps:           map[string]model.App{},
		tags:           map[string]model.Tag{},
		groupTagMaps:   map[string]model.GroupTagMap{},
		appTagMaps:     map[string]model.AppTagMap{},
		grants:         map[string]model.Grant{},
		roleGroupMaps:  map[string]model.RoleGroupMap{},
		accessRequests: map[string]model.AccessRequest{},
		roleRequests:   map[string]model.RoleRequest{},
		groupRequests:  map[string]model.GroupRequest{},
		syncTimes:      map[string]model.SyncTimes{},
	}
}

func (f *fakeStorage) RegisterStorageListener(listener storage.Listener) {}

func (f *fakeStorage) PerformTransaction(transaction func(context storage.TransactionContext) error) error {
	return transaction(nil)
}

func (f *fakeStorage) FindUser(context storage.TransactionContext, id string) (*model.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (f *fakeStorage) FindUserByEmail(context storage.TransactionContext, email string) (*model.User, error) {
	for _, user := range f.users {
		if utils.EqualIgnoreCase(user.Email, email) && !user.IsDeleted() {
			found := user
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeStorage) FindUsers(context storage.TransactionContext, filter model.UserFilter) ([]model.User, error) {
	result := []model.User{}
	for _, user := range f.users {
		if len(filter.IDs) > 0 && !utils.Contains(filter.IDs, user.ID) {
			continue
		}
		if !filter.IncludeDeleted && user.IsDeleted() {
			continue
		}
		result = append(result, user)
	}
	return result, nil
}

func (f *fakeStorage) SaveUser(context storage.TransactionContext, user *model.User) error {
	f.users[user.ID] = *user
	return nil
}

func (f *fakeStorage) SoftDeleteUser(context storage.TransactionContext, id string, deletedAt time.Time) error {
	user, ok := f.users[id]
	if !ok {
		return nil
	}
	user.DeletedAt = &deletedAt
	f.users[id] = user
	return nil
}

func (f *fakeStorage) FindGroup(context storage.TransactionContext, id string) (*model.Group, error) {
	group, ok := f.groups[id]
	if !ok {
		return nil, nil
	}
	return &group, nil
}

func (f *fakeStorage) FindGroupByName(context storage.TransactionContext, name string) (*model.Group, error) {
	for _, group := range f.groups {
		if utils.EqualIgnoreCase(group.Name, name) && !group.IsDeleted() {
			found := group
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeStorage) FindGroups(context storage.TransactionContext, filter model.GroupFilter) ([]model.Group, error) {
	result := []model.Group{}
	for _, group := range f.groups {
		if len(filter.IDs) > 0 && !utils.Contains(filter.IDs, group.ID) {
			continue
		}
		if len(filter.Types) > 0 && !utils.Contains(filter.Types, group.Type) {
			continue
		}
		if filter.AppID != nil && (group.AppID == nil || *group.AppID != *filter.AppID) {
			continue
		}
		if filter.ManagedOnly && !group.IsManaged {
			continue
		}
		if !filter.IncludeDeleted && group.IsDeleted() {
			continue
		}
		result = append(result, group)
	}
	return result, nil
}

func (f *fakeStorage) InsertGroup(context storage.TransactionContext, group model.Group) error {
	f.groups[group.ID] = group
	return nil
}

func (f *fakeStorage) UpdateGroup(context storage.TransactionContext, group model.Group) error {
	f.groups[group.ID] = group
	return nil
}

func (f *fakeStorage) SoftDeleteGroup(context storage.TransactionContext, id string, deletedAt time.Time) error {
	group, ok := f.groups[id]
	if !ok {
		return nil
	}
	group.DeletedAt = &deletedAt
	f.groups[id] = group
	return nil
}

func (f *fakeStorage) FindApp(context storage.TransactionContext, id string) (*model.App, error) {
	app, ok := f.apps[id]
	if !ok {
		return nil, nil
	}
	return &app, nil
}

func (f *fakeStorage) FindAppByName(context storage.TransactionContext, name string) (*model.App, error) {
	for _, app := range f.apps {
		if utils.EqualIgnoreCase(app.Name, name) && !app.IsDeleted() {
			found := app
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeStorage) FindApps(context storage.TransactionContext, includeDeleted bool) ([]model.App, error) {
	result := []model.App{}
	for _, app := range f.apps {
		if !includeDeleted && app.IsDeleted() {
			continue
		}
		result = append(result, app)
	}
	return result, nil
}

func (f *fakeStorage) InsertApp(context storage.TransactionContext, app model.App) error {
	f.apps[app.ID] = app
	return nil
}

func (f *fakeStorage) SoftDeleteApp(context storage.TransactionContext, id string, deletedAt time.Time) error {
	app, ok := f.apps[id]
	if !ok {
		return nil
	}
	app.DeletedAt = &deletedAt
	f.apps[id] = app
	return nil
}

func (f *fakeStorage) FindTag(context storage.TransactionContext, id string) (*model.Tag, error) {
	tag, ok := f.tags[id]
	if !ok {
		return nil, nil
	}
	return &tag, nil
}

func (f *fakeStorage) FindTagByName(context storage.TransactionContext, name string) (*model.Tag, error) {
	for _, tag := range f.tags {
		if utils.EqualIgnoreCase(tag.Name, name) && !tag.IsDeleted() {
			found := tag
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeStorage) FindTags(context storage.TransactionContext, filter model.TagFilter) ([]model.Tag, error) {
	result := []model.Tag{}
	for _, tag := range f.tags {
		if len(filter.IDs) > 0 && !utils.Contains(filter.IDs, tag.ID) {
			continue
		}
		if filter.EnabledOnly && !tag.Enabled {
			continue
		}
		if !filter.IncludeDeleted && tag.IsDeleted() {
			continue
		}
		result = append(result, tag)
	}
	return result, nil
}

func (f *fakeStorage) InsertTag(context storage.TransactionContext, tag model.Tag) error {
	f.tags[tag.ID] = tag
	return nil
}

func (f *fakeStorage) UpdateTag(context storage.TransactionContext, tag model.Tag) error {
	f.tags[tag.ID] = tag
	return nil
}

func (f *fakeStorage) SoftDeleteTag(context storage.TransactionContext, id string, deletedAt time.Time) error {
	tag, ok := f.tags[id]
	if !ok {
		return nil
	}
	tag.DeletedAt = &deletedAt
	f.tags[id] = tag
	return nil
}

func (f *fakeStorage) FindGroupTagMaps(context storage.TransactionContext, filter model.GroupTagMapFilter) ([]model.GroupTagMap, error) {
	now := time.Now()
	result := []model.GroupTagMap{}
	for _, tagMap := range f.groupTagMaps {
		if len(filter.GroupIDs) > 0 && !utils.Contains(filter.GroupIDs, tagMap.GroupID) {
			continue
		}
		if len(filter.TagIDs) > 0 && !utils.Contains(filter.TagIDs, tagMap.TagID) {
			continue
		}
		if len(filter.AppTagMapIDs) > 0 && (tagMap.AppTagMapID == nil || !utils.Contains(filter.AppTagMapIDs, *tagMap.AppTagMapID)) {
			continue
		}
		if filter.ActiveOnly && !tagMap.IsActive(now) {
			continue
		}
		result = append(result, tagMap)
	}
	return result, nil
}

func (f *fakeStorage) InsertGroupTagMaps(context storage.TransactionContext, maps []model.GroupTagMap) error {
	for _, tagMap := range maps {
		f.groupTagMaps[tagMap.ID] = tagMap
	}
	return nil
}

func (f *fakeStorage) EndGroupTagMaps(context storage.TransactionContext, ids []string, endedAt time.Time) error {
	for _, id := range ids {
		tagMap, ok := f.groupTagMaps[id]
		if !ok || !tagMap.IsActive(endedAt) {
			continue
		}
		tagMap.EndedAt = &endedAt
		f.groupTagMaps[id] = tagMap
	}
	return nil
}

func (f *fakeStorage) FindAppTagMaps(context storage.TransactionContext, filter model.AppTagMapFilter) ([]model.AppTagMap, error) {
	now := time.Now()
	result := []model.AppTagMap{}
	for _, tagMap := range f.appTagMaps {
		if len(filter.AppIDs) > 0 && !utils.Contains(filter.AppIDs, tagMap.AppID) {
			continue
		}
		if len(filter.TagIDs) > 0 && !utils.Contains(filter.TagIDs, tagMap.TagID) {
			continue
		}
		if filter.ActiveOnly && !tagMap.IsActive(now) {
			continue
		}
		result = append(result, tagMap)
	}
	return result, nil
}

func (f *fakeStorage) InsertAppTagMaps(context storage.TransactionContext, maps []model.AppTagMap) error {
	for _, tagMap := range maps {
		f.appTagMaps[tagMap.ID] = tagMap
	}
	return nil
}

func (f *fakeStorage) EndAppTagMaps(context storage.TransactionContext, ids []string, endedAt time.Time) error {
	for _, id := range ids {
		tagMap, ok := f.appTagMaps[id]
		if !ok || !tagMap.IsActive(endedAt) {
			continue
		}
		tagMap.EndedAt = &endedAt
		f.appTagMaps[id] = tagMap
	}
	return nil
}

func (f *fakeStorage) FindGrants(context storage.TransactionContext, filter model.GrantFilter) ([]model.Grant, error) {
	result := []model.Grant{}
	for _, grant := range f.grants {
		if len(filter.IDs) > 0 && !utils.Contains(filter.IDs, grant.ID) {
			continue
		}
		if len(filter.UserIDs) > 0 && !utils.Contains(filter.UserIDs, grant.UserID) {
			continue
		}
		if len(filter.GroupIDs) > 0 && !utils.Contains(filter.GroupIDs, grant.GroupID) {
			continue
		}
		if filter.IsOwner != nil && grant.IsOwner != *filter.IsOwner {
			continue
		}
		if filter.DirectOnly && grant.RoleGroupMapID != nil {
			continue
		}
		if len(filter.RoleGroupMapIDs) > 0 && (grant.RoleGroupMapID == nil || !utils.Contains(filter.RoleGroupMapIDs, *grant.RoleGroupMapID)) {
			continue
		}
		if filter.ActiveAt != nil && !grant.IsActive(*filter.ActiveAt) {
			continue
		}
		if filter.EndingBefore != nil && (grant.EndedAt == nil || !grant.EndedAt.Before(*filter.EndingBefore)) {
			continue
		}
		if filter.ShouldExpire != nil && grant.ShouldExpire != *filter.ShouldExpire {
			continue
		}
		result = append(result, grant)
	}
	return result, nil
}

func (f *fakeStorage) InsertGrants(context storage.TransactionContext, grants []model.Grant) error {
	for _, grant := range grants {
		f.grants[grant.ID] = grant
	}
	return nil
}

func (f *fakeStorage) EndGrants(context storage.TransactionContext, ids []string, endedAt time.Time, actorID string) error {
	for _, id := range ids {
		grant, ok := f.grants[id]
		if !ok || !grant.IsActive(endedAt) {
			continue
		}
		actor := actorID
		grant.EndedAt = &endedAt
		grant.EndedActorID = &actor
		f.grants[id] = grant
	}
	return nil
}

func (f *fakeStorage) UpdateGrantEndedAt(context storage.TransactionContext, id string, endedAt time.Time) error {
	grant, ok := f.grants[id]
	if !ok {
		return nil
	}
	grant.EndedAt = &endedAt
	f.grants[id] = grant
	return nil
}

func (f *fakeStorage) SetGrantsShouldExpire(context storage.TransactionContext, ids []string, shouldExpire bool) error {
	for _, id := range ids {
		grant, ok := f.grants[id]
		if !ok {
			continue
		}
		grant.ShouldExpire = shouldExpire
		f.grants[id] = grant
	}
	return nil
}

func (f *fakeStorage) FindRoleGroupMaps(context storage.TransactionContext, filter model.RoleGroupMapFilter) ([]model.RoleGroupMap, error) {
	result := []model.RoleGroupMap{}
	for _, roleMap := range f.roleGroupMaps {
		if len(filter.IDs) > 0 && !utils.Contains(filter.IDs, roleMap.ID) {
			continue
		}
		if len(filter.RoleGroupIDs) > 0 && !utils.Contains(filter.RoleGroupIDs, roleMap.RoleGroupID) {
			continue
		}
		if len(filter.GroupIDs) > 0 && !utils.Contains(filter.GroupIDs, roleMap.GroupID) {
			continue
		}
		if filter.IsOwner != nil && roleMap.IsOwner != *filter.IsOwner {
			continue
		}
		if filter.ActiveAt != nil && !roleMap.IsActive(*filter.ActiveAt) {
			continue
		}
		if filter.EndingBefore != nil && (roleMap.EndedAt == nil || !roleMap.EndedAt.Before(*filter.EndingBefore)) {
			continue
		}
		result = append(result, roleMap)
	}
	return result, nil
}

func (f *fakeStorage) InsertRoleGroupMaps(context storage.TransactionContext, maps []model.RoleGroupMap) error {
	for _, roleMap := range maps {
		f.roleGroupMaps[roleMap.ID] = roleMap
	}
	return nil
}

func (f *fakeStorage) EndRoleGroupMaps(context storage.TransactionContext, ids []string, endedAt time.Time, actorID string) error {
	for _, id := range ids {
		roleMap, ok := f.roleGroupMaps[id]
		if !ok || !roleMap.IsActive(endedAt) {
			continue
		}
		actor := actorID
		roleMap.EndedAt = &endedAt
		roleMap.EndedActorID = &actor
		f.roleGroupMaps[id] = roleMap
	}
	return nil
}

func (f *fakeStorage) FindAccessRequest(context storage.TransactionContext, id string) (*model.AccessRequest, error) {
	request, ok := f.accessRequests[id]
	if !ok {
		return nil, nil
	}
	return &request, nil
}

func (f *fakeStorage) FindAccessRequests(context storage.TransactionContext, filter model.RequestFilter) ([]model.AccessRequest, error) {
	result := []model.AccessRequest{}
	for _, request := range f.accessRequests {
		if !matchRequestFilter(filter, request.ID, request.Status, request.GroupID, request.RequesterID, "",
			request.RequestOwnership, request.DateCreated, request.RequestEndingAt) {
			continue
		}
		result = append(result, request)
	}
	return result, nil
}

func (f *fakeStorage) InsertAccessRequest(context storage.TransactionContext, request model.AccessRequest) error {
	f.accessRequests[request.ID] = request
	return nil
}

func (f *fakeStorage) ResolveAccessRequest(context storage.TransactionContext, id string, resolution model.RequestResolution) (bool, error) {
	request, ok := f.accessRequests[id]
	if !ok || !request.IsPending() {
		return false, nil
	}
	request.Status = resolution.Status
	resolvedAt := resolution.ResolvedAt
	request.ResolvedAt = &resolvedAt
	request.DateUpdated = &resolvedAt
	request.ResolverID = resolution.ResolverID
	request.ResolutionReason = resolution.ResolutionReason
	request.ApprovalEndingAt = resolution.ApprovalEndingAt
	request.ApprovedGrantID = resolution.ApprovedGrantID
	f.accessRequests[id] = request
	return true, nil
}

func (f *fakeStorage) FindRoleRequest(context storage.TransactionContext, id string) (*model.RoleRequest, error) {
	request, ok := f.roleRequests[id]
	if !ok {
		return nil, nil
	}
	return &request, nil
}

func (f *fakeStorage) FindRoleRequests(context storage.TransactionContext, filter model.RequestFilter) ([]model.RoleRequest, error) {
	result := []model.RoleRequest{}
	for _, request := range f.roleRequests {
		if !matchRequestFilter(filter, request.ID, request.Status, request.GroupID, request.RequesterID,
			request.RequesterRoleID, request.RequestOwnership, request.DateCreated, request.RequestEndingAt) {
			continue
		}
		result = append(result, request)
	}
	return result, nil
}

func (f *fakeStorage) InsertRoleRequest(context storage.TransactionContext, request model.RoleRequest) error {
	f.roleRequests[request.ID] = request
	return nil
}

func (f *fakeStorage) ResolveRoleRequest(context storage.TransactionContext, id string, resolution model.RequestResolution) (bool, error) {
	request, ok := f.roleRequests[id]
	if !ok || !request.IsPending() {
		return false, nil
	}
	request.Status = resolution.Status
	resolvedAt := resolution.ResolvedAt
	request.ResolvedAt = &resolvedAt
	request.DateUpdated = &resolvedAt
	request.ResolverID = resolution.ResolverID
	request.ResolutionReason = resolution.ResolutionReason
	request.ApprovalEndingAt = resolution.ApprovalEndingAt
	request.ApprovedMapID = resolution.ApprovedMapID
	f.roleRequests[id] = request
	return true, nil
}

func (f *fakeStorage) FindGroupRequest(context storage.TransactionContext, id string) (*model.GroupRequest, error) {
	request, ok := f.groupRequests[id]
	if !ok {
		return nil, nil
	}
	return &request, nil
}

func (f *fakeStorage) FindGroupRequests(context storage.TransactionContext, filter model.RequestFilter) ([]model.GroupRequest, error) {
	result := []model.GroupRequest{}
	for _, request := range f.groupRequests {
		if !matchRequestFilter(filter, request.ID, request.Status, "", request.RequesterID, "",
			false, request.DateCreated, nil) {
			continue
		}
		result = append(result, request)
	}
	return result, nil
}

func (f *fakeStorage) InsertGroupRequest(context storage.TransactionContext, request model.GroupRequest) error {
	f.groupRequests[request.ID] = request
	return nil
}

func (f *fakeStorage) ResolveGroupRequest(context storage.TransactionContext, id string, resolution model.RequestResolution) (bool, error) {
	request, ok := f.groupRequests[id]
	if !ok || !request.IsPending() {
		return false, nil
	}
	request.Status = resolution.Status
	resolvedAt := resolution.ResolvedAt
	request.ResolvedAt = &resolvedAt
	request.DateUpdated = &resolvedAt
	request.ResolverID = resolution.ResolverID
	request.ResolutionReason = resolution.ResolutionReason
	request.CreatedGroupID = resolution.CreatedGroupID
	f.groupRequests[id] = request
	return true, nil
}

func (f *fakeStorage) FindSyncTimes(context storage.TransactionContext, key string) (*model.SyncTimes, error) {
	times, ok := f.syncTimes[key]
	if !ok {
		return nil, nil
	}
	return &times, nil
}

func (f *fakeStorage) SaveSyncTimes(context storage.TransactionContext, times model.SyncTimes) error {
	f.syncTimes[times.Key] = times
	return nil
}

func matchRequestFilter(filter model.RequestFilter, id string, status string, groupID string,
	requesterID string, requesterRoleID string, ownership bool, dateCreated time.Time, endingAt *time.Time) bool {
	if len(filter.IDs) > 0 && !utils.Contains(filter.IDs, id) {
		return false
	}
	if len(filter.Statuses) > 0 && !utils.Contains(filter.Statuses, status) {
		return false
	}
	if len(filter.GroupIDs) > 0 && !utils.Contains(filter.GroupIDs, groupID) {
		return false
	}
	if len(filter.RequesterIDs) > 0 && !utils.Contains(filter.RequesterIDs, requesterID) {
		return false
	}
	if len(filter.RequesterRoleIDs) > 0 && !utils.Contains(filter.RequesterRoleIDs, requesterRoleID) {
		return false
	}
	if filter.Ownership != nil && ownership != *filter.Ownership {
		return false
	}
	if filter.CreatedBefore != nil && !dateCreated.Before(*filter.CreatedBefore) {
		return false
	}
	if filter.EndingBefore != nil && (endingAt == nil || !endingAt.Before(*filter.EndingBefore)) {
		return false
	}
	return true
}

// activeGrants is a test helper over the grant table
func (f *fakeStorage) activeGrants(groupID string, isOwner bool) []model.Grant {
	now := time.Now()
	result := []model.Grant{}
	for _, grant := range f.grants {
		if grant.GroupID == groupID && grant.IsOwner == isOwner && grant.IsActive(now) {
			result = append(result, grant)
		}
	}
	return result
}

// fakeIdP records calls; deferred tasks run concurrently so it locks
type fakeIdP struct {
	mu sync.Mutex

	users      []model.IdPUser
	groups     []model.IdPGroup
	groupUsers map[string][]model.IdPUser
	ruleGroups []string

	calls   []string
	failAll bool
}

func newFakeIdP() *fakeIdP {
	return &fakeIdP{groupUsers: map[string][]model.IdPUser{}}
}

func (f *fakeIdP) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.failAll {
		return context.DeadlineExceeded
	}
	return nil
}

func (f *fakeIdP) callsWithPrefix(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := []string{}
	for _, call := range f.calls {
		if strings.HasPrefix(call, prefix) {
			result = append(result, call)
		}
	}
	return result
}

func (f *fakeIdP) ListUsers(ctx context.Context) ([]model.IdPUser, error) {
	f.record("list_users")
	return f.users, nil
}

func (f *fakeIdP) GetUserSchema(ctx context.Context, userType string) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

func (f *fakeIdP) ListGroups(ctx context.Context) ([]model.IdPGroup, error) {
	f.record("list_groups")
	return f.groups, nil
}

func (f *fakeIdP) ListGroupUsers(ctx context.Context, groupID string) ([]model.IdPUser, error) {
	f.record("list_group_users:" + groupID)
	return f.groupUsers[groupID], nil
}

func (f *fakeIdP) ListGroupsWithActiveRules(ctx context.Context) ([]string, error) {
	return f.ruleGroups, nil
}

func (f *fakeIdP) CreateGroup(ctx context.Context, name string, description string) (*model.IdPGroup, error) {
	err := f.record("create_group:" + name)
	if err != nil {
		return nil, err
	}
	return &model.IdPGroup{ID: "idp-created-" + name, Name: name, Description: description}, nil
}

func (f *fakeIdP) UpdateGroup(ctx context.Context, groupID string, name string, description string) error {
	return f.record("update_group:" + groupID + ":" + name)
}

func (f *fakeIdP) DeleteGroup(ctx context.Context, groupID string) error {
	return f.record("delete_group:" + groupID)
}

func (f *fakeIdP) AddUserToGroup(ctx context.Context, groupID string, userID string) error {
	return f.record("add_member:" + groupID + ":" + userID)
}

func (f *fakeIdP) RemoveUserFromGroup(ctx context.Context, groupID string, userID string) error {
	return f.record("remove_member:" + groupID + ":" + userID)
}

func (f *fakeIdP) AddOwnerToGroup(ctx context.Context, groupID string, userID string) error {
	return f.record("add_owner:" + groupID + ":" + userID)
}

func (f *fakeIdP) RemoveOwnerFromGroup(ctx context.Context, groupID string, userID string) error {
	return f.record("remove_owner:" + groupID + ":" + userID)
}

// fakeNotifications records every delivery
type fakeNotifications struct {
	accessCreated   []model.AccessRequest
	accessCompleted []model.AccessRequest
	roleCreated     []model.RoleRequest
	roleCompleted   []model.RoleRequest

	approvers map[string][]string

	expiringUsers      []string
	expiringOwners     []string
	expiringRoleOwners []string
}

func newFakeNotifications() *fakeNotifications {
	return &fakeNotifications{approvers: map[string][]string{}}
}

func (f *fakeNotifications) AccessRequestCreated(request model.AccessRequest, group model.Group, approvers []model.User) error {
	f.accessCreated = append(f.accessCreated, request)
	ids := []string{}
	for _, approver := range approvers {
		ids = append(ids, approver.ID)
	}
	f.approvers[request.ID] = ids
	return nil
}

func (f *fakeNotifications) AccessRequestCompleted(request model.AccessRequest, group model.Group, requester *model.User) error {
	f.accessCompleted = append(f.accessCompleted, request)
	return nil
}

func (f *fakeNotifications) RoleRequestCreated(request model.RoleRequest, role model.Group, group model.Group, approvers []model.User) error {
	f.roleCreated = append(f.roleCreated, request)
	ids := []string{}
	for _, approver := range approvers {
		ids = append(ids, approver.ID)
	}
	f.approvers[request.ID] = ids
	return nil
}

func (f *fakeNotifications) RoleRequestCompleted(request model.RoleRequest, role model.Group, group model.Group, requester *model.User) error {
	f.roleCompleted = append(f.roleCompleted, request)
	return nil
}

func (f *fakeNotifications) AccessExpiringUser(user model.User, groups []model.Group) error {
	f.expiringUsers = append(f.expiringUsers, user.ID)
	return nil
}

func (f *fakeNotifications) AccessExpiringOwner(owner model.User, groups []model.Group) error {
	f.expiringOwners = append(f.expiringOwners, owner.ID)
	return nil
}

func (f *fakeNotifications) AccessExpiringRoleOwner(owner model.User, roles []model.Group) error {
	f.expiringRoleOwners = append(f.expiringRoleOwners, owner.ID)
	return nil
}

// test fixture builders

type testEnv struct {
	app           *Application
	storage       *fakeStorage
	idp           *fakeIdP
	notifications *fakeNotifications
}

func newTestEnv(config *model.ApplicationConfig) *testEnv {
	if config == nil {
		config = &model.ApplicationConfig{AuthoritativeSync: true}
	}
	fakeStore := newFakeStorage()
	fakeDirectory := newFakeIdP()
	fakeNotifier := newFakeNotifications()
	application := NewApplication("test", "test", fakeStore, fakeDirectory, fakeNotifier, nil, config)
	return &testEnv{app: application, storage: fakeStore, idp: fakeDirectory, notifications: fakeNotifier}
}

func (env *testEnv) addUser(id string) model.User {
	user := model.User{ID: id, Email: id + "@example.com", DateCreated: time.Now()}
	env.storage.users[id] = user
	return user
}

func (env *testEnv) addGroup(id string, groupType string, managed bool) model.Group {
	group := model.Group{ID: id, Type: groupType, Name: id, IsManaged: managed, DateCreated: time.Now()}
	env.storage.groups[id] = group
	return group
}

func (env *testEnv) addGrant(id string, userID string, groupID string, isOwner bool, mapID *string, endedAt *time.Time) model.Grant {
	grant := model.Grant{ID: id, UserID: userID, GroupID: groupID, IsOwner: isOwner,
		RoleGroupMapID: mapID, DateCreated: time.Now().Add(-time.Hour), EndedAt: endedAt}
	env.storage.grants[id] = grant
	return grant
}

func (env *testEnv) addTagWithConstraints(id string, constraints map[string]interface{}) model.Tag {
	tag := model.Tag{ID: id, Name: id, Enabled: true, Constraints: constraints, DateCreated: time.Now()}
	env.storage.tags[id] = tag
	return tag
}

func (env *testEnv) attachTag(mapID string, tagID string, groupID string) {
	env.storage.groupTagMaps[mapID] = model.GroupTagMap{ID: mapID, TagID: tagID, GroupID: groupID, DateCreated: time.Now()}
}

// adminFixture creates the reserved admin app, its owner group and an admin user
func (env *testEnv) adminFixture(adminUserID string) {
	env.addUser(adminUserID)
	appID := "admin-app"
	env.storage.apps[appID] = model.App{ID: appID, Name: model.ReservedAppName, DateCreated: time.Now()}
	ownerGroupID := "admin-owners"
	group := model.Group{ID: ownerGroupID, Type: model.GroupTypeApp, Name: "App-Access-Owners",
		IsManaged: true, AppID: &appID, IsAppOwner: true, DateCreated: time.Now()}
	env.storage.groups[ownerGroupID] = group
	env.addGrant("admin-grant-"+adminUserID, adminUserID, ownerGroupID, true, nil, nil)
}

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
	"time"

	"access/core/model"
	"access/driven/storage"
)

// Services exposes APIs for the driver adapters
type Services interface {
	GetVersion() string

	GetUser(id string) (*model.User, error)
	GetGroup(id string) (*model.Group, error)
	GetGroupByName(name string) (*model.Group, error)
	GetGroups(filter model.GroupFilter) ([]model.Group, error)
	GetApp(id string) (*model.App, error)
	GetTag(id string) (*model.Tag, error)

	ModifyGroupUsers(ctx context.Context, input ModifyGroupUsersInput) (*model.Group, error)
	ModifyRoleGroups(ctx context.Context, input ModifyRoleGroupsInput) (*model.Group, error)

	CreateGroup(ctx context.Context, input CreateGroupInput) (*model.Group, error)
	DeleteGroup(ctx context.Context, groupID string, actorID string) error
	ModifyGroupType(ctx context.Context, input ModifyGroupTypeInput) (*model.Group, error)

	CreateApp(ctx context.Context, input CreateAppInput) (*model.App, error)
	DeleteApp(ctx context.Context, appID string, actorID string) error

	CreateTag(input CreateTagInput) (*model.Tag, error)
	UpdateTag(input UpdateTagInput) (*model.Tag, error)
	DeleteTag(tagID string, actorID string) error
	AttachTagToGroup(tagID string, groupID string, actorID string) error
	DetachTagFromGroup(tagID string, groupID string, actorID string) error
	AttachTagToApp(tagID string, appID string, actorID string) error
	DetachTagFromApp(tagID string, appID string, actorID string) error

	CreateAccessRequest(ctx context.Context, input CreateAccessRequestInput) (*model.AccessRequest, error)
	ApproveAccessRequest(ctx context.Context, input ResolveRequestInput) (*model.AccessRequest, error)
	RejectAccessRequest(ctx context.Context, input ResolveRequestInput) (*model.AccessRequest, error)
	CreateRoleRequest(ctx context.Context, input CreateRoleRequestInput) (*model.RoleRequest, error)
	ApproveRoleRequest(ctx context.Context, input ResolveRequestInput) (*model.RoleRequest, error)
	RejectRoleRequest(ctx context.Context, input ResolveRequestInput) (*model.RoleRequest, error)
	CreateGroupRequest(ctx context.Context, input CreateGroupRequestInput) (*model.GroupRequest, error)
	ApproveGroupRequest(ctx context.Context, input ResolveGroupRequestInput) (*model.GroupRequest, error)
	RejectGroupRequest(ctx context.Context, input ResolveRequestInput) (*model.GroupRequest, error)

	Reconcile(ctx context.Context) error
}

type servicesImpl struct {
	app *Application
}

func (s *servicesImpl) GetVersion() string {
	return s.app.getVersion()
}

func (s *servicesImpl) GetUser(id string) (*model.User, error) {
	return s.app.storage.FindUser(nil, id)
}

func (s *servicesImpl) GetGroup(id string) (*model.Group, error) {
	return s.app.storage.FindGroup(nil, id)
}

func (s *servicesImpl) GetGroupByName(name string) (*model.Group, error) {
	return s.app.storage.FindGroupByName(nil, name)
}

func (s *servicesImpl) GetGroups(filter model.GroupFilter) ([]model.Group, error) {
	return s.app.storage.FindGroups(nil, filter)
}

func (s *servicesImpl) GetApp(id string) (*model.App, error) {
	return s.app.storage.FindApp(nil, id)
}

func (s *servicesImpl) GetTag(id string) (*model.Tag, error) {
	return s.app.storage.FindTag(nil, id)
}

func (s *servicesImpl) ModifyGroupUsers(ctx context.Context, input ModifyGroupUsersInput) (*model.Group, error) {
	return s.app.ModifyGroupUsers(ctx, input)
}

func (s *servicesImpl) ModifyRoleGroups(ctx context.Context, input ModifyRoleGroupsInput) (*model.Group, error) {
	return s.app.ModifyRoleGroups(ctx, input)
}

func (s *servicesImpl) CreateGroup(ctx context.Context, input CreateGroupInput) (*model.Group, error) {
	return s.app.CreateGroup(ctx, input)
}

func (s *servicesImpl) DeleteGroup(ctx context.Context, groupID string, actorID string) error {
	return s.app.DeleteGroup(ctx, groupID, actorID)
}

func (s *servicesImpl) ModifyGroupType(ctx context.Context, input ModifyGroupTypeInput) (*model.Group, error) {
	return s.app.ModifyGroupType(ctx, input)
}

func (s *servicesImpl) CreateApp(ctx context.Context, input CreateAppInput) (*model.App, error) {
	return s.app.CreateApp(ctx, input)
}

func (s *servicesImpl) DeleteApp(ctx context.Context, appID string, actorID string) error {
	return s.app.DeleteApp(ctx, appID, actorID)
}

func (s *servicesImpl) CreateTag(input CreateTagInput) (*model.Tag, error) {
	return s.app.CreateTag(input)
}

func (s *servicesImpl) UpdateTag(input UpdateTagInput) (*model.Tag, error) {
	return s.app.UpdateTag(input)
}

func (s *servicesImpl) DeleteTag(tagID string, actorID string) error {
	return s.app.DeleteTag(tagID, actorID)
}

func (s *servicesImpl) AttachTagToGroup(tagID string, groupID string, actorID string) error {
	return s.app.AttachTagToGroup(tagID, groupID, actorID)
}

func (s *servicesImpl) DetachTagFromGroup(tagID string, groupID string, actorID string) error {
	return s.app.DetachTagFromGroup(tagID, groupID, actorID)
}

func (s *servicesImpl) AttachTagToApp(tagID string, appID string, actorID string) error {
	return s.app.AttachTagToApp(tagID, appID, actorID)
}

func (s *servicesImpl) DetachTagFromApp(tagID string, appID string, actorID string) error {
	return s.app.DetachTagFromApp(tagID, appID, actorID)
}

func (s *servicesImpl) CreateAccessRequest(ctx context.Context, input CreateAccessRequestInput) (*model.AccessRequest, error) {
	return s.app.CreateAccessRequest(ctx, input)
}

func (s *servicesImpl) ApproveAccessRequest(ctx context.Context, input ResolveRequestInput) (*model.AccessRequest, error) {
	return s.app.ApproveAccessRequest(ctx, input)
}

func (s *servicesImpl) RejectAccessRequest(ctx context.Context, input ResolveRequestInput) (*model.AccessRequest, error) {
	return s.app.RejectAccessRequest(ctx, input)
}

func (s *servicesImpl) CreateRoleRequest(ctx context.Context, input CreateRoleRequestInput) (*model.RoleRequest, error) {
	return s.app.CreateRoleRequest(ctx, input)
}

func (s *servicesImpl) ApproveRoleRequest(ctx context.Context, input ResolveRequestInput) (*model.RoleRequest, error) {
	return s.app.ApproveRoleRequest(ctx, input)
}

func (s *servicesImpl) RejectRoleRequest(ctx context.Context, input ResolveRequestInput) (*model.RoleRequest, error) {
	return s.app.RejectRoleRequest(ctx, input)
}

func (s *servicesImpl) CreateGroupRequest(ctx context.Context, input CreateGroupRequestInput) (*model.GroupRequest, error) {
	return s.app.CreateGroupRequest(ctx, input)
}

func (s *servicesImpl) ApproveGroupRequest(ctx context.Context, input ResolveGroupRequestInput) (*model.GroupRequest, error) {
	return s.app.ApproveGroupRequest(ctx, input)
}

func (s *servicesImpl) RejectGroupRequest(ctx context.Context, input ResolveRequestInput) (*model.GroupRequest, error) {
	return s.app.RejectGroupRequest(ctx, input)
}

func (s *servicesImpl) Reconcile(ctx context.Context) error {
	return s.app.Reconcile(ctx)
}

// Storage is used by core to communicate with the driven/storage
type Storage interface {
	RegisterStorageListener(listener storage.Listener)
	PerformTransaction(transaction func(context storage.TransactionContext) error) error

	FindUser(context storage.TransactionContext, id string) (*model.User, error)
	FindUserByEmail(context storage.TransactionContext, email string) (*model.User, error)
	FindUsers(context storage.TransactionContext, filter model.UserFilter) ([]model.User, error)
	SaveUser(context storage.TransactionContext, user *model.User) error
	SoftDeleteUser(context storage.TransactionContext, id string, deletedAt time.Time) error

	FindGroup(context storage.TransactionContext, id string) (*model.Group, error)
	FindGroupByName(context storage.TransactionContext, name string) (*model.Group, error)
	FindGroups(context storage.TransactionContext, filter model.GroupFilter) ([]model.Group, error)
	InsertGroup(context storage.TransactionContext, group model.Group) error
	UpdateGroup(context storage.TransactionContext, group model.Group) error
	SoftDeleteGroup(context storage.TransactionContext, id string, deletedAt time.Time) error

	FindApp(context storage.TransactionContext, id string) (*model.App, error)
	FindAppByName(context storage.TransactionContext, name string) (*model.App, error)
	FindApps(context storage.TransactionContext, includeDeleted bool) ([]model.App, error)
	InsertApp(context storage.TransactionContext, app model.App) error
	SoftDeleteApp(context storage.TransactionContext, id string, deletedAt time.Time) error

	FindTag(context storage.TransactionContext, id string) (*model.Tag, error)
	FindTagByName(context storage.TransactionContext, name string) (*model.Tag, error)
	FindTags(context storage.TransactionContext, filter model.TagFilter) ([]model.Tag, error)
	InsertTag(context storage.TransactionContext, tag model.Tag) error
	UpdateTag(context storage.TransactionContext, tag model.Tag) error
	SoftDeleteTag(context storage.TransactionContext, id string, deletedAt time.Time) error

	FindGroupTagMaps(context storage.TransactionContext, filter model.GroupTagMapFilter) ([]model.GroupTagMap, error)
	InsertGroupTagMaps(context storage.TransactionContext, maps []model.GroupTagMap) error
	EndGroupTagMaps(context storage.TransactionContext, ids []string, endedAt time.Time) error
	FindAppTagMaps(context storage.TransactionContext, filter model.AppTagMapFilter) ([]model.AppTagMap, error)
	InsertAppTagMaps(context storage.TransactionContext, maps []model.AppTagMap) error
	EndAppTagMaps(context storage.TransactionContext, ids []string, endedAt time.Time) error

	FindGrants(context storage.TransactionContext, filter model.GrantFilter) ([]model.Grant, error)
	InsertGrants(context storage.TransactionContext, grants []model.Grant) error
	EndGrants(context storage.TransactionContext, ids []string, endedAt time.Time, actorID string) error
	UpdateGrantEndedAt(context storage.TransactionContext, id string, endedAt time.Time) error
	SetGrantsShouldExpire(context storage.TransactionContext, ids []string, shouldExpire bool) error

	FindRoleGroupMaps(context storage.TransactionContext, filter model.RoleGroupMapFilter) ([]model.RoleGroupMap, error)
	InsertRoleGroupMaps(context storage.TransactionContext, maps []model.RoleGroupMap) error
	EndRoleGroupMaps(context storage.TransactionContext, ids []string, endedAt time.Time, actorID string) error

	FindAccessRequest(context storage.TransactionContext, id string) (*model.AccessRequest, error)
	FindAccessRequests(context storage.TransactionContext, filter model.RequestFilter) ([]model.AccessRequest, error)
	InsertAccessRequest(context storage.TransactionContext, request model.AccessRequest) error
	ResolveAccessRequest(context storage.TransactionContext, id string, resolution model.RequestResolution) (bool, error)

	FindRoleRequest(context storage.TransactionContext, id string) (*model.RoleRequest, error)
	FindRoleRequests(context storage.TransactionContext, filter model.RequestFilter) ([]model.RoleRequest, error)
	InsertRoleRequest(context storage.TransactionContext, request model.RoleRequest) error
	ResolveRoleRequest(context storage.TransactionContext, id string, resolution model.RequestResolution) (bool, error)

	FindGroupRequest(context storage.TransactionContext, id string) (*model.GroupRequest, error)
	FindGroupRequests(context storage.TransactionContext, filter model.RequestFilter) ([]model.GroupRequest, error)
	InsertGroupRequest(context storage.TransactionContext, request model.GroupRequest) error
	ResolveGroupRequest(context storage.TransactionContext, id string, resolution model.RequestResolution) (bool, error)

	FindSyncTimes(context storage.TransactionContext, key string) (*model.SyncTimes, error)
	SaveSyncTimes(context storage.TransactionContext, times model.SyncTimes) error
}

// IdP is used by core to communicate with the identity provider. All operations
// are idempotent; "already added" and "already removed" read as success.
type IdP interface {
	ListUsers(ctx context.Context) ([]model.IdPUser, error)
	GetUserSchema(ctx context.Context, userType string) (map[string]interface{}, error)
	ListGroups(ctx context.Context) ([]model.IdPGroup, error)
	ListGroupUsers(ctx context.Context, groupID string) ([]model.IdPUser, error)
	ListGroupsWithActiveRules(ctx context.Context) ([]string, error)
	CreateGroup(ctx context.Context, name string, description string) (*model.IdPGroup, error)
	UpdateGroup(ctx context.Context, groupID string, name string, description string) error
	DeleteGroup(ctx context.Context, groupID string) error
	AddUserToGroup(ctx context.Context, groupID string, userID string) error
	RemoveUserFromGroup(ctx context.Context, groupID string, userID string) error
	AddOwnerToGroup(ctx context.Context, groupID string, userID string) error
	RemoveOwnerFromGroup(ctx context.Context, groupID string, userID string) error
}

// Notifications is used by core to dispatch user-facing messages. Fire and
// forget; failures are logged and swallowed by the callers.
type Notifications interface {
	AccessRequestCreated(request model.AccessRequest, group model.Group, approvers []model.User) error
	AccessRequestCompleted(request model.AccessRequest, group model.Group, requester *model.User) error
	RoleRequestCreated(request model.RoleRequest, role model.Group, group model.Group, approvers []model.User) error
	RoleRequestCompleted(request model.RoleRequest, role model.Group, group model.Group, requester *model.User) error
	AccessExpiringUser(user model.User, groups []model.Group) error
	AccessExpiringOwner(owner model.User, groups []model.Group) error
	AccessExpiringRoleOwner(owner model.User, roles []model.Group) error
}

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

package storage

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"access/core/model"
)

// FindAccessRequest finds an access request by id
func (sa *Adapter) FindAccessRequest(context TransactionContext, id string) (*model.AccessRequest, error) {
	filter := bson.D{primitive.E{Key: "_id", Value: id}}

	var request model.AccessRequest
	err := sa.db.accessRequests.FindOneWithContext(context, filter, &request, nil)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
}

// FindAccessRequests finds access requests matching the filter
func (sa *Adapter) FindAccessRequests(context TransactionContext, filter model.RequestFilter) ([]model.AccessRequest, error) {
	var requests []model.AccessRequest
	err := sa.db.accessRequests.FindWithContext(context, requestFilter(filter), &requests, nil)
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// InsertAccessRequest inserts an access request
func (sa *Adapter) InsertAccessRequest(context TransactionContext, request model.AccessRequest) error {
	_, err := sa.db.accessRequests.InsertOneWithContext(context, request)
	return err
}

// ResolveAccessRequest writes the terminal projection of a pending request.
// False means the request was already resolved; resolution is write once.
func (sa *Adapter) ResolveAccessRequest(context TransactionContext, id string, resolution model.RequestResolution) (bool, error) {
	set := resolutionSet(resolution)
	if resolution.ApprovalEndingAt != nil {
		set = append(set, primitive.E{Key: "approval_ending_at", Value: resolution.ApprovalEndingAt})
	}
	if resolution.ApprovedGrantID != nil {
		set = append(set, primitive.E{Key: "approved_grant_id", Value: resolution.ApprovedGrantID})
	}
	return sa.resolvePending(context, sa.db.accessRequests, id, set)
}

// FindRoleRequest finds a role request by id
func (sa *Adapter) FindRoleRequest(context TransactionContext, id string) (*model.RoleRequest, error) {
	filter := bson.D{primitive.E{Key: "_id", Value: id}}

	var request model.RoleRequest
	err := sa.db.roleRequests.FindOneWithContext(context, filter, &request, nil)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
}

// FindRoleRequests finds role requests matching the filter
func (sa *Adapter) FindRoleRequests(context TransactionContext, filter model.RequestFilter) ([]model.RoleRequest, error) {
	var requests []model.RoleRequest
	err := sa.db.roleRequests.FindWithContext(context, requestFilter(filter), &requests, nil)
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// InsertRoleRequest inserts a role request
func (sa *Adapter) InsertRoleRequest(context TransactionContext, request model.RoleRequest) error {
	_, err := sa.db.roleRequests.InsertOneWithContext(context, request)
	return err
}

// ResolveRoleRequest writes the terminal projection of a pending role request
func (sa *Adapter) ResolveRoleRequest(context TransactionContext, id string, resolution model.RequestResolution) (bool, error) {
	set := resolutionSet(resolution)
	if resolution.ApprovalEndingAt != nil {
		set = append(set, primitive.E{Key: "approval_ending_at", Value: resolution.ApprovalEndingAt})
	}
	if resolution.ApprovedMapID != nil {
		set = append(set, primitive.E{Key: "approved_map_id", Value: resolution.ApprovedMapID})
	}
	return sa.resolvePending(context, sa.db.roleRequests, id, set)
}

// FindGroupRequest finds a group request by id
func (sa *Adapter) FindGroupRequest(context TransactionContext, id string) (*model.GroupRequest, error) {
	filter := bson.D{primitive.E{Key: "_id", Value: id}}

	var request model.GroupRequest
	err := sa.db.groupRequests.FindOneWithContext(context, filter, &request, nil)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
}

// FindGroupRequests finds group requests matching the filter
func (sa *Adapter) FindGroupRequests(context TransactionContext, filter model.RequestFilter) ([]model.GroupRequest, error) {
	var requests []model.GroupRequest
	err := sa.db.groupRequests.FindWithContext(context, requestFilter(filter), &requests, nil)
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// InsertGroupRequest inserts a group request
func (sa *Adapter) InsertGroupRequest(context TransactionContext, request model.GroupRequest) error {
	_, err := sa.db.groupRequests.InsertOneWithContext(context, request)
	return err
}

// ResolveGroupRequest writes the terminal projection of a pending group request
func (sa *Adapter) ResolveGroupRequest(context TransactionContext, id string, resolution model.RequestResolution) (bool, error) {
	set := resolutionSet(resolution)
	if resolution.CreatedGroupID != nil {
		set = append(set, primitive.E{Key: "created_group_id", Value: resolution.CreatedGroupID})
	}
	return sa.resolvePending(context, sa.db.groupRequests, id, set)
}

func (sa *Adapter) resolvePending(context TransactionContext, coll *collectionWrapper, id string, set bson.D) (bool, error) {
	filter := bson.D{
		primitive.E{Key: "_id", Value: id},
		primitive.E{Key: "status", Value: model.RequestStatusPending},
	}
	update := bson.D{primitive.E{Key: "$set", Value: set}}

	res, err := coll.UpdateOneWithContext(context, filter, update, nil)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func resolutionSet(resolution model.RequestResolution) bson.D {
	set := bson.D{
		primitive.E{Key: "status", Value: resolution.Status},
		primitive.E{Key: "resolved_at", Value: resolution.ResolvedAt},
		primitive.E{Key: "date_updated", Value: resolution.ResolvedAt},
	}
	if resolution.ResolverID != nil {
		set = append(set, primitive.E{Key: "resolver_id", Value: resolution.ResolverID})
	}
	if resolution.ResolutionReason != nil {
		set = append(set, primitive.E{Key: "resolution_reason", Value: resolution.ResolutionReason})
	}
	return set
}

// requestFilter builds the shared request filter
func requestFilter(filter model.RequestFilter) bson.D {
	mongoFilter := bson.D{}
	if len(filter.IDs) > 0 {
		mongoFilter = append(mongoFilter, primitive.E{Key: "_id", Value: bson.M{"$in": filter.IDs}})
	}
	if len(filter.Statuses) > 0 {
		mongoFilter = append(mongoFilter, primitive.E{Key: "status", Value: bson.M{"$in": filter.Statuses}})
	}
	if len(filter.GroupIDs) > 0 {
		mongoFilter = append(mongoFilter, primitive.E{Key: "group_id", Value: bson.M{"$in": filter.GroupIDs}})
	}
	if len(filter.RequesterIDs) > 0 {
		mongoFilter = append(mongoFilter, primitive.E{Key: "requester_id", Value: bson.M{"$in": filter.RequesterIDs}})
	}
	if len(filter.RequesterRoleIDs) > 0 {
		mongoFilter = append(mongoFilter, primitive.E{Key: "requester_role_id", Value: bson.M{"$in": filter.RequesterRoleIDs}})
	}
	if filter.Ownership != nil {
		mongoFilter = append(mongoFilter, primitive.E{Key: "request_ownership", Value: *filter.Ownership})
	}
	if filter.CreatedBefore != nil {
		mongoFilter = append(mongoFilter, primitive.E{Key: "date_created", Value: bson.M{"$lt": *filter.CreatedBefore}})
	}
	if filter.EndingBefore != nil {
		mongoFilter = append(mongoFilter, primitive.E{Key: "request_ending_at", Value: bson.M{"$ne": nil, "$lt": *filter.EndingBefore}})
	}
	return mongoFilter
}

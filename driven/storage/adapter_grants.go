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
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"access/core/model"
)

// FindGrants finds grants matching the filter
func (sa *Adapter) FindGrants(context TransactionContext, filter model.GrantFilter) ([]model.Grant, error) {
	mongoFilter := bson.D{}
	if len(filter.IDs) > 0 {
		mongoFilter = append(mongoFilter, primitive.E{Key: "_id", Value: bson.M{"$in": filter.IDs}})
	}
	if len(filter.UserIDs) > 0 {
		mongoFilter = append(mongoFilter, primitive.E{Key: "user_id", Value: bson.M{"$in": filter.UserIDs}})
	}
	if len(filter.GroupIDs) > 0 {
		mongoFilter = append(mongoFilter, primitive.E{Key: "group_id", Value: bson.M{"$in": filter.GroupIDs}})
	}
	if filter.IsOwner != nil {
		mongoFilter = append(mongoFilter, primitive.E{Key: "is_owner", Value: *filter.IsOwner})
	}
	if filter.DirectOnly {
		mongoFilter = append(mongoFilter, primitive.E{Key: "role_group_map_id", Value: nil})
	}
	if len(filter.RoleGroupMapIDs) > 0 {
		mongoFilter = append(mongoFilter, primitive.E{Key: "role_group_map_id", Value: bson.M{"$in": filter.RoleGroupMapIDs}})
	}
	if filter.ActiveAt != nil {
		mongoFilter = append(mongoFilter, activeEdgeClause(*filter.ActiveAt))
	}
	if filter.EndingBefore != nil {
		mongoFilter = append(mongoFilter, primitive.E{Key: "ended_at", Value: bson.M{"$ne": nil, "$lt": *filter.EndingBefore}})
	}
	if filter.ShouldExpire != nil {
		mongoFilter = append(mongoFilter, primitive.E{Key: "should_expire", Value: *filter.ShouldExpire})
	}

	var grants []model.Grant
	err := sa.db.grants.FindWithContext(context, mongoFilter, &grants, nil)
	if err != nil {
		return nil, err
	}
	return grants, nil
}

// InsertGrants inserts grants
func (sa *Adapter) InsertGrants(context TransactionContext, grants []model.Grant) error {
	if len(grants) == 0 {
		return nil
	}
	documents := make([]interface{}, len(grants))
	for index := range grants {
		documents[index] = grants[index]
	}
	_, err := sa.db.grants.InsertManyWithContext(context, documents, nil)
	return err
}

// EndGrants ends grants that are still active, recording the ending actor
func (sa *Adapter) EndGrants(context TransactionContext, ids []string, endedAt time.Time, actorID string) error {
	if len(ids) == 0 {
		return nil
	}
	filter := bson.D{
		primitive.E{Key: "_id", Value: bson.M{"$in": ids}},
		activeEdgeClause(endedAt),
	}
	update := bson.D{primitive.E{Key: "$set", Value: bson.D{
		primitive.E{Key: "ended_at", Value: endedAt},
		primitive.E{Key: "ended_actor_id", Value: actorID},
	}}}
	_, err := sa.db.grants.UpdateManyWithContext(context, filter, update, nil)
	return err
}

// UpdateGrantEndedAt rewrites a grant's ended-at
func (sa *Adapter) UpdateGrantEndedAt(context TransactionContext, id string, endedAt time.Time) error {
	filter := bson.D{primitive.E{Key: "_id", Value: id}}
	update := bson.D{primitive.E{Key: "$set", Value: bson.D{
		primitive.E{Key: "ended_at", Value: endedAt},
	}}}
	_, err := sa.db.grants.UpdateOneWithContext(context, filter, update, nil)
	return err
}

// SetGrantsShouldExpire flips the should-expire hint on grants
func (sa *Adapter) SetGrantsShouldExpire(context TransactionContext, ids []string, shouldExpire bool) error {
	if len(ids) == 0 {
		return nil
	}
	filter := bson.D{primitive.E{Key: "_id", Value: bson.M{"$in": ids}}}
	update := bson.D{primitive.E{Key: "$set", Value: bson.D{
		primitive.E{Key: "should_expire", Value: shouldExpire},
	}}}
	_, err := sa.db.grants.UpdateManyWithContext(context, filter, update, nil)
	return err
}

// FindRoleGroupMaps finds role associations matching the filter
func (sa *Adapter) FindRoleGroupMaps(context TransactionContext, filter model.RoleGroupMapFilter) ([]model.RoleGroupMap, error) {
	mongoFilter := bson.D{}
	if len(filter.IDs) > 0 {
		mongoFilter = append(mongoFilter, primitive.E{Key: "_id", Value: bson.M{"$in": filter.IDs}})
	}
	if len(filter.RoleGroupIDs) > 0 {
		mongoFilter = append(mongoFilter, primitive.E{Key: "role_group_id", Value: bson.M{"$in": filter.RoleGroupIDs}})
	}
	if len(filter.GroupIDs) > 0 {
		mongoFilter = append(mongoFilter, primitive.E{Key: "group_id", Value: bson.M{"$in": filter.GroupIDs}})
	}
	if filter.IsOwner != nil {
		mongoFilter = append(mongoFilter, primitive.E{Key: "is_owner", Value: *filter.IsOwner})
	}
	if filter.ActiveAt != nil {
		mongoFilter = append(mongoFilter, activeEdgeClause(*filter.ActiveAt))
	}
	if filter.EndingBefore != nil {
		mongoFilter = append(mongoFilter, primitive.E{Key: "ended_at", Value: bson.M{"$ne": nil, "$lt": *filter.EndingBefore}})
	}

	var maps []model.RoleGroupMap
	err := sa.db.roleGroupMaps.FindWithContext(context, mongoFilter, &maps, nil)
	if err != nil {
		return nil, err
	}
	return maps, nil
}

// InsertRoleGroupMaps inserts role associations
func (sa *Adapter) InsertRoleGroupMaps(context TransactionContext, maps []model.RoleGroupMap) error {
	if len(maps) == 0 {
		return nil
	}
	documents := make([]interface{}, len(maps))
	for index := range maps {
		documents[index] = maps[index]
	}
	_, err := sa.db.roleGroupMaps.InsertManyWithContext(context, documents, nil)
	return err
}

// EndRoleGroupMaps ends role associations that are still active
func (sa *Adapter) EndRoleGroupMaps(context TransactionContext, ids []string, endedAt time.Time, actorID string) error {
	if len(ids) == 0 {
		return nil
	}
	filter := bson.D{
		primitive.E{Key: "_id", Value: bson.M{"$in": ids}},
		activeEdgeClause(endedAt),
	}
	update := bson.D{primitive.E{Key: "$set", Value: bson.D{
		primitive.E{Key: "ended_at", Value: endedAt},
		primitive.E{Key: "ended_actor_id", Value: actorID},
	}}}
	_, err := sa.db.roleGroupMaps.UpdateManyWithContext(context, filter, update, nil)
	return err
}

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
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"access/core/model"
)

// FindTag finds a tag by id
func (sa *Adapter) FindTag(context TransactionContext, id string) (*model.Tag, error) {
	filter := bson.D{primitive.E{Key: "_id", Value: id}}

	var tag model.Tag
	err := sa.db.tags.FindOneWithContext(context, filter, &tag, nil)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &tag, nil
}

// FindTagByName finds an active tag by name, case insensitively
func (sa *Adapter) FindTagByName(context TransactionContext, name string) (*model.Tag, error) {
	filter := bson.D{
		primitive.E{Key: "name", Value: primitive.Regex{Pattern: "^" + regexp.QuoteMeta(name) + "$", Options: "i"}},
		primitive.E{Key: "deleted_at", Value: nil},
	}

	var tag model.Tag
	err := sa.db.tags.FindOneWithContext(context, filter, &tag, nil)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &tag, nil
}

// FindTags finds tags matching the filter
func (sa *Adapter) FindTags(context TransactionContext, filter model.TagFilter) ([]model.Tag, error) {
	mongoFilter := bson.D{}
	if len(filter.IDs) > 0 {
		mongoFilter = append(mongoFilter, primitive.E{Key: "_id", Value: bson.M{"$in": filter.IDs}})
	}
	if filter.EnabledOnly {
		mongoFilter = append(mongoFilter, primitive.E{Key: "enabled", Value: true})
	}
	if !filter.IncludeDeleted {
		mongoFilter = append(mongoFilter, primitive.E{Key: "deleted_at", Value: nil})
	}

	var tags []model.Tag
	err := sa.db.tags.FindWithContext(context, mongoFilter, &tags, nil)
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// InsertTag inserts a tag
func (sa *Adapter) InsertTag(context TransactionContext, tag model.Tag) error {
	_, err := sa.db.tags.InsertOneWithContext(context, tag)
	return err
}

// UpdateTag replaces a tag
func (sa *Adapter) UpdateTag(context TransactionContext, tag model.Tag) error {
	filter := bson.D{primitive.E{Key: "_id", Value: tag.ID}}
	return sa.db.tags.ReplaceOneWithContext(context, filter, tag, nil)
}

// SoftDeleteTag marks a tag deleted
func (sa *Adapter) SoftDeleteTag(context TransactionContext, id string, deletedAt time.Time) error {
	filter := bson.D{primitive.E{Key: "_id", Value: id}}
	update := bson.D{primitive.E{Key: "$set", Value: bson.D{
		primitive.E{Key: "deleted_at", Value: deletedAt},
		primitive.E{Key: "date_updated", Value: deletedAt},
	}}}
	_, err := sa.db.tags.UpdateOneWithContext(context, filter, update, nil)
	return err
}

// FindGroupTagMaps finds group tag edges matching the filter
func (sa *Adapter) FindGroupTagMaps(context TransactionContext, filter model.GroupTagMapFilter) ([]model.GroupTagMap, error) {
	mongoFilter := bson.D{}
	if len(filter.GroupIDs) > 0 {
		mongoFilter = append(mongoFilter, primitive.E{Key: "group_id", Value: bson.M{"$in": filter.GroupIDs}})
	}
	if len(filter.TagIDs) > 0 {
		mongoFilter = append(mongoFilter, primitive.E{Key: "tag_id", Value: bson.M{"$in": filter.TagIDs}})
	}
	if len(filter.AppTagMapIDs) > 0 {
		mongoFilter = append(mongoFilter, primitive.E{Key: "app_tag_map_id", Value: bson.M{"$in": filter.AppTagMapIDs}})
	}
	if filter.ActiveOnly {
		mongoFilter = append(mongoFilter, activeEdgeClause(time.Now()))
	}

	var maps []model.GroupTagMap
	err := sa.db.groupTagMaps.FindWithContext(context, mongoFilter, &maps, nil)
	if err != nil {
		return nil, err
	}
	return maps, nil
}

// InsertGroupTagMaps inserts group tag edges
func (sa *Adapter) InsertGroupTagMaps(context TransactionContext, maps []model.GroupTagMap) error {
	if len(maps) == 0 {
		return nil
	}
	documents := make([]interface{}, len(maps))
	for index := range maps {
		documents[index] = maps[index]
	}
	_, err := sa.db.groupTagMaps.InsertManyWithContext(context, documents, nil)
	return err
}

// EndGroupTagMaps ends group tag edges
func (sa *Adapter) EndGroupTagMaps(context TransactionContext, ids []string, endedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	filter := bson.D{primitive.E{Key: "_id", Value: bson.M{"$in": ids}}}
	update := bson.D{primitive.E{Key: "$set", Value: bson.D{
		primitive.E{Key: "ended_at", Value: endedAt},
	}}}
	_, err := sa.db.groupTagMaps.UpdateManyWithContext(context, filter, update, nil)
	return err
}

// FindAppTagMaps finds app tag edges matching the filter
func (sa *Adapter) FindAppTagMaps(context TransactionContext, filter model.AppTagMapFilter) ([]model.AppTagMap, error) {
	mongoFilter := bson.D{}
	if len(filter.AppIDs) > 0 {
		mongoFilter = append(mongoFilter, primitive.E{Key: "app_id", Value: bson.M{"$in": filter.AppIDs}})
	}
	if len(filter.TagIDs) > 0 {
		mongoFilter = append(mongoFilter, primitive.E{Key: "tag_id", Value: bson.M{"$in": filter.TagIDs}})
	}
	if filter.ActiveOnly {
		mongoFilter = append(mongoFilter, activeEdgeClause(time.Now()))
	}

	var maps []model.AppTagMap
	err := sa.db.appTagMaps.FindWithContext(context, mongoFilter, &maps, nil)
	if err != nil {
		return nil, err
	}
	return maps, nil
}

// InsertAppTagMaps inserts app tag edges
func (sa *Adapter) InsertAppTagMaps(context TransactionContext, maps []model.AppTagMap) error {
	if len(maps) == 0 {
		return nil
	}
	documents := make([]interface{}, len(maps))
	for index := range maps {
		documents[index] = maps[index]
	}
	_, err := sa.db.appTagMaps.InsertManyWithContext(context, documents, nil)
	return err
}

// EndAppTagMaps ends app tag edges
func (sa *Adapter) EndAppTagMaps(context TransactionContext, ids []string, endedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	filter := bson.D{primitive.E{Key: "_id", Value: bson.M{"$in": ids}}}
	update := bson.D{primitive.E{Key: "$set", Value: bson.D{
		primitive.E{Key: "ended_at", Value: endedAt},
	}}}
	_, err := sa.db.appTagMaps.UpdateManyWithContext(context, filter, update, nil)
	return err
}

// activeEdgeClause matches edges that have not ended by the given moment
func activeEdgeClause(at time.Time) primitive.E {
	return primitive.E{Key: "$or", Value: bson.A{
		bson.M{"ended_at": nil},
		bson.M{"ended_at": bson.M{"$gt": at}},
	}}
}

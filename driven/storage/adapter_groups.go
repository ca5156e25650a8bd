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

// FindGroup finds a group by id
func (sa *Adapter) FindGroup(context TransactionContext, id string) (*model.Group, error) {
	filter := bson.D{primitive.E{Key: "_id", Value: id}}

	var group model.Group
	err := sa.db.groups.FindOneWithContext(context, filter, &group, nil)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}

// FindGroupByName finds an active group by name, case insensitively
func (sa *Adapter) FindGroupByName(context TransactionContext, name string) (*model.Group, error) {
	filter := bson.D{
		primitive.E{Key: "name", Value: primitive.Regex{Pattern: "^" + regexp.QuoteMeta(name) + "$", Options: "i"}},
		primitive.E{Key: "deleted_at", Value: nil},
	}

	var group model.Group
	err := sa.db.groups.FindOneWithContext(context, filter, &group, nil)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}

// FindGroups finds groups matching the filter
func (sa *Adapter) FindGroups(context TransactionContext, filter model.GroupFilter) ([]model.Group, error) {
	mongoFilter := bson.D{}
	if len(filter.IDs) > 0 {
		mongoFilter = append(mongoFilter, primitive.E{Key: "_id", Value: bson.M{"$in": filter.IDs}})
	}
	if len(filter.Types) > 0 {
		mongoFilter = append(mongoFilter, primitive.E{Key: "type", Value: bson.M{"$in": filter.Types}})
	}
	if filter.AppID != nil {
		mongoFilter = append(mongoFilter, primitive.E{Key: "app_id", Value: *filter.AppID})
	}
	if filter.ManagedOnly {
		mongoFilter = append(mongoFilter, primitive.E{Key: "is_managed", Value: true})
	}
	if !filter.IncludeDeleted {
		mongoFilter = append(mongoFilter, primitive.E{Key: "deleted_at", Value: nil})
	}

	var groups []model.Group
	err := sa.db.groups.FindWithContext(context, mongoFilter, &groups, nil)
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// InsertGroup inserts a group
func (sa *Adapter) InsertGroup(context TransactionContext, group model.Group) error {
	_, err := sa.db.groups.InsertOneWithContext(context, group)
	return err
}

// UpdateGroup replaces a group
func (sa *Adapter) UpdateGroup(context TransactionContext, group model.Group) error {
	filter := bson.D{primitive.E{Key: "_id", Value: group.ID}}
	return sa.db.groups.ReplaceOneWithContext(context, filter, group, nil)
}

// SoftDeleteGroup marks a group deleted
func (sa *Adapter) SoftDeleteGroup(context TransactionContext, id string, deletedAt time.Time) error {
	filter := bson.D{primitive.E{Key: "_id", Value: id}}
	update := bson.D{primitive.E{Key: "$set", Value: bson.D{
		primitive.E{Key: "deleted_at", Value: deletedAt},
		primitive.E{Key: "date_updated", Value: deletedAt},
	}}}
	_, err := sa.db.groups.UpdateOneWithContext(context, filter, update, nil)
	return err
}

// FindApp finds an app by id
func (sa *Adapter) FindApp(context TransactionContext, id string) (*model.App, error) {
	filter := bson.D{primitive.E{Key: "_id", Value: id}}

	var app model.App
	err := sa.db.apps.FindOneWithContext(context, filter, &app, nil)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &app, nil
}

// FindAppByName finds an active app by name, case insensitively
func (sa *Adapter) FindAppByName(context TransactionContext, name string) (*model.App, error) {
	filter := bson.D{
		primitive.E{Key: "name", Value: primitive.Regex{Pattern: "^" + regexp.QuoteMeta(name) + "$", Options: "i"}},
		primitive.E{Key: "deleted_at", Value: nil},
	}

	var app model.App
	err := sa.db.apps.FindOneWithContext(context, filter, &app, nil)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &app, nil
}

// FindApps finds all apps
func (sa *Adapter) FindApps(context TransactionContext, includeDeleted bool) ([]model.App, error) {
	mongoFilter := bson.D{}
	if !includeDeleted {
		mongoFilter = append(mongoFilter, primitive.E{Key: "deleted_at", Value: nil})
	}

	var apps []model.App
	err := sa.db.apps.FindWithContext(context, mongoFilter, &apps, nil)
	if err != nil {
		return nil, err
	}
	return apps, nil
}

// InsertApp inserts an app
func (sa *Adapter) InsertApp(context TransactionContext, app model.App) error {
	_, err := sa.db.apps.InsertOneWithContext(context, app)
	return err
}

// SoftDeleteApp marks an app deleted
func (sa *Adapter) SoftDeleteApp(context TransactionContext, id string, deletedAt time.Time) error {
	filter := bson.D{primitive.E{Key: "_id", Value: id}}
	update := bson.D{primitive.E{Key: "$set", Value: bson.D{
		primitive.E{Key: "deleted_at", Value: deletedAt},
		primitive.E{Key: "date_updated", Value: deletedAt},
	}}}
	_, err := sa.db.apps.UpdateOneWithContext(context, filter, update, nil)
	return err
}

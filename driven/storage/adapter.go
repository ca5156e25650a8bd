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
	"context"
	"log"
	"regexp"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"access/core/model"
)

// Adapter implements the Storage interface on MongoDB
type Adapter struct {
	db *database
}

// Start starts the storage
func (sa *Adapter) Start() error {
	return sa.db.start()
}

// RegisterStorageListener registers a data change listener with the storage adapter
func (sa *Adapter) RegisterStorageListener(storageListener Listener) {
	sa.db.listeners = append(sa.db.listeners, storageListener)
}

// PerformTransaction performs a transaction
func (sa *Adapter) PerformTransaction(transaction func(context TransactionContext) error) error {
	// transaction
	err := sa.db.dbClient.UseSession(context.Background(), func(sessionContext mongo.SessionContext) error {
		err := sessionContext.StartTransaction()
		if err != nil {
			sa.abortTransaction(sessionContext)
			return err
		}

		err = transaction(sessionContext)
		if err != nil {
			sa.abortTransaction(sessionContext)
			return err
		}

		err = sessionContext.CommitTransaction(sessionContext)
		if err != nil {
			sa.abortTransaction(sessionContext)
			return err
		}
		return nil
	})

	return err
}

func (sa *Adapter) abortTransaction(sessionContext mongo.SessionContext) {
	err := sessionContext.AbortTransaction(sessionContext)
	if err != nil {
		log.Printf("error aborting a transaction - %s\n", err)
	}
}

// FindUser finds a user by id
func (sa *Adapter) FindUser(context TransactionContext, id string) (*model.User, error) {
	filter := bson.D{primitive.E{Key: "_id", Value: id}}

	var user model.User
	err := sa.db.users.FindOneWithContext(context, filter, &user, nil)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// FindUserByEmail finds a user by email, case insensitively
func (sa *Adapter) FindUserByEmail(context TransactionContext, email string) (*model.User, error) {
	filter := bson.D{
		primitive.E{Key: "email", Value: primitive.Regex{Pattern: "^" + regexp.QuoteMeta(email) + "$", Options: "i"}},
		primitive.E{Key: "deleted_at", Value: nil},
	}

	var user model.User
	err := sa.db.users.FindOneWithContext(context, filter, &user, nil)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// FindUsers finds users matching the filter
func (sa *Adapter) FindUsers(context TransactionContext, filter model.UserFilter) ([]model.User, error) {
	mongoFilter := bson.D{}
	if len(filter.IDs) > 0 {
		mongoFilter = append(mongoFilter, primitive.E{Key: "_id", Value: bson.M{"$in": filter.IDs}})
	}
	if !filter.IncludeDeleted {
		mongoFilter = append(mongoFilter, primitive.E{Key: "deleted_at", Value: nil})
	}

	var users []model.User
	err := sa.db.users.FindWithContext(context, mongoFilter, &users, nil)
	if err != nil {
		return nil, err
	}
	return users, nil
}

// SaveUser upserts a user
func (sa *Adapter) SaveUser(context TransactionContext, user *model.User) error {
	filter := bson.D{primitive.E{Key: "_id", Value: user.ID}}
	opts := options.Replace().SetUpsert(true)
	return sa.db.users.ReplaceOneWithContext(context, filter, user, opts)
}

// SoftDeleteUser marks a user deleted
func (sa *Adapter) SoftDeleteUser(context TransactionContext, id string, deletedAt time.Time) error {
	filter := bson.D{primitive.E{Key: "_id", Value: id}}
	update := bson.D{primitive.E{Key: "$set", Value: bson.D{
		primitive.E{Key: "deleted_at", Value: deletedAt},
		primitive.E{Key: "date_updated", Value: deletedAt},
	}}}
	_, err := sa.db.users.UpdateOneWithContext(context, filter, update, nil)
	return err
}

// FindSyncTimes finds the sync bookkeeping for a key
func (sa *Adapter) FindSyncTimes(context TransactionContext, key string) (*model.SyncTimes, error) {
	filter := bson.D{primitive.E{Key: "key", Value: key}}

	var times model.SyncTimes
	err := sa.db.syncTimes.FindOneWithContext(context, filter, &times, nil)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &times, nil
}

// SaveSyncTimes upserts the sync bookkeeping for a key
func (sa *Adapter) SaveSyncTimes(context TransactionContext, times model.SyncTimes) error {
	filter := bson.D{primitive.E{Key: "key", Value: times.Key}}
	opts := options.Replace().SetUpsert(true)
	return sa.db.syncTimes.ReplaceOneWithContext(context, filter, times, opts)
}

// NewStorageAdapter creates a new storage adapter instance
func NewStorageAdapter(mongoDBAuth string, mongoDBName string, mongoTimeout string) *Adapter {
	timeout, err := strconv.Atoi(mongoTimeout)
	if err != nil {
		log.Println("Set default timeout - 2000")
		timeout = 2000
	}
	timeoutMS := time.Millisecond * time.Duration(timeout)

	db := &database{mongoDBAuth: mongoDBAuth, mongoDBName: mongoDBName, mongoTimeout: timeoutMS}
	return &Adapter{db: db}
}

// Listener listens for storage events
type Listener interface {
	OnConfigsChanged()
}

// DefaultListenerImpl default listener implementation
type DefaultListenerImpl struct{}

// OnConfigsChanged notifies configs have been updated
func (d *DefaultListenerImpl) OnConfigsChanged() {}

// TransactionContext wraps mongo.SessionContext for use by external packages
type TransactionContext interface {
	mongo.SessionContext
}

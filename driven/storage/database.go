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
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type database struct {
	mongoDBAuth  string
	mongoDBName  string
	mongoTimeout time.Duration

	db       *mongo.Database
	dbClient *mongo.Client

	users          *collectionWrapper
	groups         *collectionWrapper
	apps           *collectionWrapper
	tags           *collectionWrapper
	groupTagMaps   *collectionWrapper
	appTagMaps     *collectionWrapper
	grants         *collectionWrapper
	roleGroupMaps  *collectionWrapper
	accessRequests *collectionWrapper
	roleRequests   *collectionWrapper
	groupRequests  *collectionWrapper
	syncTimes      *collectionWrapper

	listeners []Listener
}

func (m *database) start() error {
	log.Println("database -> start")

	//connect to the database
	clientOptions := options.Client().ApplyURI(m.mongoDBAuth)
	connectContext, cancel := context.WithTimeout(context.Background(), m.mongoTimeout)
	client, err := mongo.Connect(connectContext, clientOptions)
	cancel()
	if err != nil {
		return err
	}

	//ping the database
	pingContext, cancel := context.WithTimeout(context.Background(), m.mongoTimeout)
	err = client.Ping(pingContext, nil)
	cancel()
	if err != nil {
		return err
	}

	//apply checks
	db := client.Database(m.mongoDBName)

	users := &collectionWrapper{database: m, coll: db.Collection("users")}
	err = m.applyUsersChecks(users)
	if err != nil {
		return err
	}

	groups := &collectionWrapper{database: m, coll: db.Collection("groups")}
	err = m.applyGroupsChecks(groups)
	if err != nil {
		return err
	}

	apps := &collectionWrapper{database: m, coll: db.Collection("apps")}
	err = m.applyAppsChecks(apps)
	if err != nil {
		return err
	}

	tags := &collectionWrapper{database: m, coll: db.Collection("tags")}
	err = m.applyTagsChecks(tags)
	if err != nil {
		return err
	}

	groupTagMaps := &collectionWrapper{database: m, coll: db.Collection("group_tag_maps")}
	err = m.applyGroupTagMapsChecks(groupTagMaps)
	if err != nil {
		return err
	}

	appTagMaps := &collectionWrapper{database: m, coll: db.Collection("app_tag_maps")}
	err = m.applyAppTagMapsChecks(appTagMaps)
	if err != nil {
		return err
	}

	grants := &collectionWrapper{database: m, coll: db.Collection("grants")}
	err = m.applyGrantsChecks(grants)
	if err != nil {
		return err
	}

	roleGroupMaps := &collectionWrapper{database: m, coll: db.Collection("role_group_maps")}
	err = m.applyRoleGroupMapsChecks(roleGroupMaps)
	if err != nil {
		return err
	}

	accessRequests := &collectionWrapper{database: m, coll: db.Collection("access_requests")}
	err = m.applyRequestsChecks(accessRequests, "access requests")
	if err != nil {
		return err
	}

	roleRequests := &collectionWrapper{database: m, coll: db.Collection("role_requests")}
	err = m.applyRequestsChecks(roleRequests, "role requests")
	if err != nil {
		return err
	}

	groupRequests := &collectionWrapper{database: m, coll: db.Collection("group_requests")}
	err = m.applyRequestsChecks(groupRequests, "group requests")
	if err != nil {
		return err
	}

	syncTimes := &collectionWrapper{database: m, coll: db.Collection("sync_times")}
	err = m.applySyncTimesChecks(syncTimes)
	if err != nil {
		return err
	}

	//assign the db variables
	m.db = db
	m.dbClient = client

	m.users = users
	m.groups = groups
	m.apps = apps
	m.tags = tags
	m.groupTagMaps = groupTagMaps
	m.appTagMaps = appTagMaps
	m.grants = grants
	m.roleGroupMaps = roleGroupMaps
	m.accessRequests = accessRequests
	m.roleRequests = roleRequests
	m.groupRequests = groupRequests
	m.syncTimes = syncTimes

	return nil
}

// activeUniqueOptions builds a case-insensitive unique index scoped to rows
// that are not soft deleted. bson type 10 is null.
func activeUniqueOptions() *options.IndexOptions {
	return options.Index().SetUnique(true).
		SetCollation(&options.Collation{Locale: "en", Strength: 2}).
		SetPartialFilterExpression(bson.D{primitive.E{Key: "deleted_at",
			Value: bson.D{primitive.E{Key: "$type", Value: 10}}}})
}

func (m *database) applyUsersChecks(users *collectionWrapper) error {
	log.Println("apply users checks.....")

	err := users.AddIndexWithOptions(bson.D{primitive.E{Key: "email", Value: 1}}, activeUniqueOptions())
	if err != nil {
		return err
	}

	log.Println("users checks passed")
	return nil
}

func (m *database) applyGroupsChecks(groups *collectionWrapper) error {
	log.Println("apply groups checks.....")

	err := groups.AddIndexWithOptions(bson.D{primitive.E{Key: "name", Value: 1}}, activeUniqueOptions())
	if err != nil {
		return err
	}
	err = groups.AddIndex(bson.D{primitive.E{Key: "type", Value: 1}}, false)
	if err != nil {
		return err
	}
	err = groups.AddIndex(bson.D{primitive.E{Key: "app_id", Value: 1}}, false)
	if err != nil {
		return err
	}

	log.Println("groups checks passed")
	return nil
}

func (m *database) applyAppsChecks(apps *collectionWrapper) error {
	log.Println("apply apps checks.....")

	err := apps.AddIndexWithOptions(bson.D{primitive.E{Key: "name", Value: 1}}, activeUniqueOptions())
	if err != nil {
		return err
	}

	log.Println("apps checks passed")
	return nil
}

func (m *database) applyTagsChecks(tags *collectionWrapper) error {
	log.Println("apply tags checks.....")

	err := tags.AddIndexWithOptions(bson.D{primitive.E{Key: "name", Value: 1}}, activeUniqueOptions())
	if err != nil {
		return err
	}

	log.Println("tags checks passed")
	return nil
}

func (m *database) applyGroupTagMapsChecks(groupTagMaps *collectionWrapper) error {
	log.Println("apply group tag maps checks.....")

	err := groupTagMaps.AddIndex(bson.D{primitive.E{Key: "group_id", Value: 1},
		primitive.E{Key: "ended_at", Value: 1}}, false)
	if err != nil {
		return err
	}
	err = groupTagMaps.AddIndex(bson.D{primitive.E{Key: "tag_id", Value: 1}}, false)
	if err != nil {
		return err
	}
	err = groupTagMaps.AddIndex(bson.D{primitive.E{Key: "app_tag_map_id", Value: 1}}, false)
	if err != nil {
		return err
	}

	log.Println("group tag maps checks passed")
	return nil
}

func (m *database) applyAppTagMapsChecks(appTagMaps *collectionWrapper) error {
	log.Println("apply app tag maps checks.....")

	err := appTagMaps.AddIndex(bson.D{primitive.E{Key: "app_id", Value: 1},
		primitive.E{Key: "ended_at", Value: 1}}, false)
	if err != nil {
		return err
	}
	err = appTagMaps.AddIndex(bson.D{primitive.E{Key: "tag_id", Value: 1}}, false)
	if err != nil {
		return err
	}

	log.Println("app tag maps checks passed")
	return nil
}

func (m *database) applyGrantsChecks(grants *collectionWrapper) error {
	log.Println("apply grants checks.....")

	err := grants.AddIndex(bson.D{primitive.E{Key: "user_id", Value: 1},
		primitive.E{Key: "group_id", Value: 1}, primitive.E{Key: "ended_at", Value: 1}}, false)
	if err != nil {
		return err
	}
	err = grants.AddIndex(bson.D{primitive.E{Key: "group_id", Value: 1},
		primitive.E{Key: "ended_at", Value: 1}}, false)
	if err != nil {
		return err
	}
	err = grants.AddIndex(bson.D{primitive.E{Key: "role_group_map_id", Value: 1}}, false)
	if err != nil {
		return err
	}
	err = grants.AddIndex(bson.D{primitive.E{Key: "ended_at", Value: 1}}, false)
	if err != nil {
		return err
	}

	log.Println("grants checks passed")
	return nil
}

func (m *database) applyRoleGroupMapsChecks(roleGroupMaps *collectionWrapper) error {
	log.Println("apply role group maps checks.....")

	err := roleGroupMaps.AddIndex(bson.D{primitive.E{Key: "role_group_id", Value: 1},
		primitive.E{Key: "ended_at", Value: 1}}, false)
	if err != nil {
		return err
	}
	err = roleGroupMaps.AddIndex(bson.D{primitive.E{Key: "group_id", Value: 1},
		primitive.E{Key: "ended_at", Value: 1}}, false)
	if err != nil {
		return err
	}

	log.Println("role group maps checks passed")
	return nil
}

func (m *database) applyRequestsChecks(requests *collectionWrapper, name string) error {
	log.Printf("apply %s checks.....", name)

	err := requests.AddIndex(bson.D{primitive.E{Key: "status", Value: 1},
		primitive.E{Key: "group_id", Value: 1}}, false)
	if err != nil {
		return err
	}
	err = requests.AddIndex(bson.D{primitive.E{Key: "status", Value: 1},
		primitive.E{Key: "resolved_at", Value: 1}}, false)
	if err != nil {
		return err
	}
	err = requests.AddIndex(bson.D{primitive.E{Key: "requester_id", Value: 1}}, false)
	if err != nil {
		return err
	}

	log.Printf("%s checks passed", name)
	return nil
}

func (m *database) applySyncTimesChecks(syncTimes *collectionWrapper) error {
	log.Println("apply sync times checks.....")

	err := syncTimes.AddIndex(bson.D{primitive.E{Key: "key", Value: 1}}, true)
	if err != nil {
		return err
	}

	log.Println("sync times checks passed")
	return nil
}

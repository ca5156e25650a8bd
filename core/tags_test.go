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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"access/core/model"
)

func TestCreateTagRejectsUnknownConstraintKey(t *testing.T) {
	env := newTestEnv(nil)

	_, err := env.app.CreateTag(CreateTagInput{Name: "restricted", Enabled: true,
		Constraints: map[string]interface{}{"no_such_constraint": true}, ActorID: "actor-1"})
	require.Error(t, err)
	assert.Equal(t, KindValidation, ErrorKind(err))

	tag, err := env.app.CreateTag(CreateTagInput{Name: "restricted", Enabled: true,
		Constraints: map[string]interface{}{model.ConstraintRequireReason: true}, ActorID: "actor-1"})
	require.NoError(t, err)
	assert.True(t, tag.Enabled)
}

func TestCreateTagNameConflict(t *testing.T) {
	env := newTestEnv(nil)
	env.addTagWithConstraints("Restricted", nil)

	_, err := env.app.CreateTag(CreateTagInput{Name: "restricted", ActorID: "actor-1"})
	require.Error(t, err)
	assert.Equal(t, KindConflict, ErrorKind(err))
}

func TestUpdateTagTightenedLimitReclampsGrants(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("user-1")
	group := env.addGroup("g-1", model.GroupTypePlain, true)
	env.addTagWithConstraints("tag-1", map[string]interface{}{model.ConstraintMemberTimeLimit: 86400})
	env.attachTag("map-1", "tag-1", group.ID)
	// active, unbounded grant that started an hour ago
	env.addGrant("gr-1", "user-1", group.ID, false, nil, nil)

	limit := int64(7200)
	_, err := env.app.UpdateTag(UpdateTagInput{TagID: "tag-1",
		Constraints: map[string]interface{}{model.ConstraintMemberTimeLimit: limit}, ActorID: "actor-1"})
	require.NoError(t, err)

	// the deadline is measured from the grant's start
	grant := env.storage.grants["gr-1"]
	require.NotNil(t, grant.EndedAt)
	expected := grant.DateCreated.Add(2 * time.Hour)
	assert.WithinDuration(t, expected, *grant.EndedAt, 5*time.Second)
}

func TestUpdateTagReclampNeverEndsInThePast(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("user-1")
	group := env.addGroup("g-1", model.GroupTypePlain, true)
	env.addTagWithConstraints("tag-1", nil)
	env.attachTag("map-1", "tag-1", group.ID)
	// the grant started an hour ago, so a 10 minute limit is already exceeded
	env.addGrant("gr-1", "user-1", group.ID, false, nil, nil)

	_, err := env.app.UpdateTag(UpdateTagInput{TagID: "tag-1",
		Constraints: map[string]interface{}{model.ConstraintMemberTimeLimit: 600}, ActorID: "actor-1"})
	require.NoError(t, err)

	grant := env.storage.grants["gr-1"]
	require.NotNil(t, grant.EndedAt)
	assert.WithinDuration(t, time.Now(), *grant.EndedAt, 5*time.Second)
}

func TestUpdateTagReclampSkipsUnmanagedGroups(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("user-1")
	group := env.addGroup("g-1", model.GroupTypePlain, false)
	env.addTagWithConstraints("tag-1", nil)
	env.attachTag("map-1", "tag-1", group.ID)
	env.addGrant("gr-1", "user-1", group.ID, false, nil, nil)

	_, err := env.app.UpdateTag(UpdateTagInput{TagID: "tag-1",
		Constraints: map[string]interface{}{model.ConstraintMemberTimeLimit: 600}, ActorID: "actor-1"})
	require.NoError(t, err)

	assert.Nil(t, env.storage.grants["gr-1"].EndedAt)
}

func TestDeleteTagEndsItsEdges(t *testing.T) {
	env := newTestEnv(nil)
	group := env.addGroup("g-1", model.GroupTypePlain, true)
	env.addTagWithConstraints("tag-1", nil)
	env.attachTag("map-1", "tag-1", group.ID)
	env.storage.appTagMaps["am-1"] = model.AppTagMap{ID: "am-1", TagID: "tag-1", AppID: "app-1", DateCreated: time.Now()}

	err := env.app.DeleteTag("tag-1", "actor-1")
	require.NoError(t, err)

	deleted, err := env.storage.FindTag(nil, "tag-1")
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted())
	require.NotNil(t, env.storage.groupTagMaps["map-1"].EndedAt)
	require.NotNil(t, env.storage.appTagMaps["am-1"].EndedAt)
}

func TestAttachTagToGroupReclampsImmediately(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("user-1")
	group := env.addGroup("g-1", model.GroupTypePlain, true)
	env.addTagWithConstraints("tag-1", map[string]interface{}{model.ConstraintMemberTimeLimit: 7200})
	env.addGrant("gr-1", "user-1", group.ID, false, nil, nil)

	err := env.app.AttachTagToGroup("tag-1", group.ID, "actor-1")
	require.NoError(t, err)

	grant := env.storage.grants["gr-1"]
	require.NotNil(t, grant.EndedAt)
	assert.WithinDuration(t, grant.DateCreated.Add(2*time.Hour), *grant.EndedAt, 5*time.Second)
}

func TestAttachTagToGroupTwiceConflicts(t *testing.T) {
	env := newTestEnv(nil)
	group := env.addGroup("g-1", model.GroupTypePlain, true)
	env.addTagWithConstraints("tag-1", nil)

	require.NoError(t, env.app.AttachTagToGroup("tag-1", group.ID, "actor-1"))

	err := env.app.AttachTagToGroup("tag-1", group.ID, "actor-1")
	require.Error(t, err)
	assert.Equal(t, KindConflict, ErrorKind(err))
}

func TestDetachTagFromGroupKeepsPropagatedEdges(t *testing.T) {
	env := newTestEnv(nil)
	group := env.addGroup("g-1", model.GroupTypePlain, true)
	env.addTagWithConstraints("tag-1", nil)
	env.attachTag("map-direct", "tag-1", group.ID)
	appTagMapID := "am-1"
	env.storage.groupTagMaps["map-app"] = model.GroupTagMap{ID: "map-app", TagID: "tag-1",
		GroupID: group.ID, AppTagMapID: &appTagMapID, DateCreated: time.Now()}

	err := env.app.DetachTagFromGroup("tag-1", group.ID, "actor-1")
	require.NoError(t, err)

	// only the direct edge ends; the app-propagated one detaches through the app
	require.NotNil(t, env.storage.groupTagMaps["map-direct"].EndedAt)
	assert.Nil(t, env.storage.groupTagMaps["map-app"].EndedAt)

	err = env.app.DetachTagFromGroup("tag-1", group.ID, "actor-1")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, ErrorKind(err))
}

func TestAttachTagToAppPropagatesToGroups(t *testing.T) {
	env := newTestEnv(nil)
	env.addUser("user-1")
	appID := "app-1"
	env.storage.apps[appID] = model.App{ID: appID, Name: "Payments", DateCreated: time.Now()}
	env.storage.groups["g-1"] = model.Group{ID: "g-1", Type: model.GroupTypeApp,
		Name: "App-Payments-Engineering", IsManaged: true, AppID: &appID, DateCreated: time.Now()}
	env.addTagWithConstraints("tag-1", map[string]interface{}{model.ConstraintMemberTimeLimit: 7200})
	env.addGrant("gr-1", "user-1", "g-1", false, nil, nil)

	err := env.app.AttachTagToApp("tag-1", appID, "actor-1")
	require.NoError(t, err)

	appTagMaps, err := env.storage.FindAppTagMaps(nil, model.AppTagMapFilter{AppIDs: []string{appID}, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, appTagMaps, 1)

	propagated, err := env.storage.FindGroupTagMaps(nil, model.GroupTagMapFilter{AppTagMapIDs: []string{appTagMaps[0].ID}, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, propagated, 1)
	assert.Equal(t, "g-1", propagated[0].GroupID)

	// the limit bites the group's grants right away
	require.NotNil(t, env.storage.grants["gr-1"].EndedAt)
}

func TestDetachTagFromAppEndsPropagatedEdges(t *testing.T) {
	env := newTestEnv(nil)
	appID := "app-1"
	env.storage.apps[appID] = model.App{ID: appID, Name: "Payments", DateCreated: time.Now()}
	env.addGroup("g-1", model.GroupTypePlain, true)
	env.addTagWithConstraints("tag-1", nil)
	env.storage.appTagMaps["am-1"] = model.AppTagMap{ID: "am-1", TagID: "tag-1", AppID: appID, DateCreated: time.Now()}
	appTagMapID := "am-1"
	env.storage.groupTagMaps["map-1"] = model.GroupTagMap{ID: "map-1", TagID: "tag-1",
		GroupID: "g-1", AppTagMapID: &appTagMapID, DateCreated: time.Now()}

	err := env.app.DetachTagFromApp("tag-1", appID, "actor-1")
	require.NoError(t, err)

	require.NotNil(t, env.storage.appTagMaps["am-1"].EndedAt)
	require.NotNil(t, env.storage.groupTagMaps["map-1"].EndedAt)
}
